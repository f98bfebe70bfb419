package types

import "strings"

// ListValue represents a MOO list. Mutating operations return a new
// list; the receiver is never changed, and unaffected elements are
// shared between old and new values.
type ListValue struct {
	elems []Value
}

// NewList creates a list value taking ownership of elems.
func NewList(elems []Value) ListValue {
	return ListValue{elems: elems}
}

func NewEmptyList() ListValue {
	return ListValue{}
}

func (l ListValue) Type() TypeCode { return TYPE_LIST }

func (l ListValue) Len() int { return len(l.elems) }

func (l ListValue) Truthy() bool { return len(l.elems) > 0 }

// String returns the {e1, e2, ...} literal form.
func (l ListValue) String() string {
	if len(l.elems) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range l.elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
	b.WriteByte('}')
	return b.String()
}

func (l ListValue) Equal(other Value) bool {
	o, ok := other.(ListValue)
	if !ok || len(l.elems) != len(o.elems) {
		return false
	}
	for i := range l.elems {
		if !l.elems[i].Equal(o.elems[i]) {
			return false
		}
	}
	return true
}

// Get returns the 1-based element, or false when out of range.
func (l ListValue) Get(i int) (Value, bool) {
	if i < 1 || i > len(l.elems) {
		return nil, false
	}
	return l.elems[i-1], true
}

// Set replaces the 1-based element, returning the new list.
func (l ListValue) Set(i int, v Value) (ListValue, bool) {
	if i < 1 || i > len(l.elems) {
		return l, false
	}
	out := make([]Value, len(l.elems))
	copy(out, l.elems)
	out[i-1] = v
	return ListValue{elems: out}, true
}

// Append adds an element at the end.
func (l ListValue) Append(v Value) ListValue {
	out := make([]Value, len(l.elems)+1)
	copy(out, l.elems)
	out[len(l.elems)] = v
	return ListValue{elems: out}
}

// Insert places v before the 1-based position i; i == Len()+1 appends.
func (l ListValue) Insert(i int, v Value) (ListValue, bool) {
	if i < 1 || i > len(l.elems)+1 {
		return l, false
	}
	out := make([]Value, 0, len(l.elems)+1)
	out = append(out, l.elems[:i-1]...)
	out = append(out, v)
	out = append(out, l.elems[i-1:]...)
	return ListValue{elems: out}, true
}

// Delete removes the 1-based element i.
func (l ListValue) Delete(i int) (ListValue, bool) {
	if i < 1 || i > len(l.elems) {
		return l, false
	}
	out := make([]Value, 0, len(l.elems)-1)
	out = append(out, l.elems[:i-1]...)
	out = append(out, l.elems[i:]...)
	return ListValue{elems: out}, true
}

// Slice returns the 1-based inclusive range [start..end]. An empty
// range (start == end+1) yields {}.
func (l ListValue) Slice(start, end int) (ListValue, bool) {
	if start == end+1 && start >= 1 && start <= len(l.elems)+1 {
		return NewEmptyList(), true
	}
	if start < 1 || end > len(l.elems) || start > end {
		return ListValue{}, false
	}
	out := make([]Value, end-start+1)
	copy(out, l.elems[start-1:end])
	return ListValue{elems: out}, true
}

// Concat appends all elements of o.
func (l ListValue) Concat(o ListValue) ListValue {
	out := make([]Value, 0, len(l.elems)+len(o.elems))
	out = append(out, l.elems...)
	out = append(out, o.elems...)
	return ListValue{elems: out}
}

// Contains reports membership under MOO equality.
func (l ListValue) Contains(v Value) bool {
	return l.IndexOf(v) != 0
}

// IndexOf returns the 1-based position of the first element equal to
// v, or 0 when absent.
func (l ListValue) IndexOf(v Value) int {
	for i, e := range l.elems {
		if e.Equal(v) {
			return i + 1
		}
	}
	return 0
}

// Elements exposes the backing slice for iteration. Callers must not
// mutate it.
func (l ListValue) Elements() []Value { return l.elems }
