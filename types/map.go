package types

import (
	"sort"
	"strings"
)

// MapValue represents a MOO map: an immutable association sorted by
// key order. Iteration is always in key order, so printing and
// equality are deterministic. Mutations return new maps and share the
// untouched entries with the original.
type MapValue struct {
	entries []MapEntry
}

type MapEntry struct {
	Key Value
	Val Value
}

// NewMap builds a map from pairs in arbitrary order. Later duplicates
// overwrite earlier ones.
func NewMap(pairs []MapEntry) MapValue {
	m := NewEmptyMap()
	for _, p := range pairs {
		m = m.Set(p.Key, p.Val)
	}
	return m
}

func NewEmptyMap() MapValue { return MapValue{} }

func (m MapValue) Type() TypeCode { return TYPE_MAP }

func (m MapValue) Len() int { return len(m.entries) }

func (m MapValue) Truthy() bool { return len(m.entries) > 0 }

// String returns the [k -> v, ...] literal form in key order.
func (m MapValue) String() string {
	if len(m.entries) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.Key.String())
		b.WriteString(" -> ")
		b.WriteString(e.Val.String())
	}
	b.WriteByte(']')
	return b.String()
}

func (m MapValue) Equal(other Value) bool {
	o, ok := other.(MapValue)
	if !ok || len(m.entries) != len(o.entries) {
		return false
	}
	for i := range m.entries {
		if !m.entries[i].Key.Equal(o.entries[i].Key) ||
			!m.entries[i].Val.Equal(o.entries[i].Val) {
			return false
		}
	}
	return true
}

// search finds the insertion point for key, and whether it is present.
func (m MapValue) search(key Value) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return totalCompare(m.entries[i].Key, key) >= 0
	})
	if i < len(m.entries) && m.entries[i].Key.Equal(key) {
		return i, true
	}
	return i, false
}

// Get returns the value for key.
func (m MapValue) Get(key Value) (Value, bool) {
	if i, ok := m.search(key); ok {
		return m.entries[i].Val, true
	}
	return nil, false
}

// Has reports whether key is present.
func (m MapValue) Has(key Value) bool {
	_, ok := m.search(key)
	return ok
}

// Set returns a map with key bound to val.
func (m MapValue) Set(key, val Value) MapValue {
	i, found := m.search(key)
	if found {
		out := make([]MapEntry, len(m.entries))
		copy(out, m.entries)
		out[i] = MapEntry{Key: key, Val: val}
		return MapValue{entries: out}
	}
	out := make([]MapEntry, 0, len(m.entries)+1)
	out = append(out, m.entries[:i]...)
	out = append(out, MapEntry{Key: key, Val: val})
	out = append(out, m.entries[i:]...)
	return MapValue{entries: out}
}

// Delete returns a map without key; absent keys report false.
func (m MapValue) Delete(key Value) (MapValue, bool) {
	i, found := m.search(key)
	if !found {
		return m, false
	}
	out := make([]MapEntry, 0, len(m.entries)-1)
	out = append(out, m.entries[:i]...)
	out = append(out, m.entries[i+1:]...)
	return MapValue{entries: out}, true
}

// Keys returns the keys in key order.
func (m MapValue) Keys() []Value {
	keys := make([]Value, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Values returns the values in key order.
func (m MapValue) Values() []Value {
	vals := make([]Value, len(m.entries))
	for i, e := range m.entries {
		vals[i] = e.Val
	}
	return vals
}

// Entries exposes the sorted entry slice for iteration. Callers must
// not mutate it.
func (m MapValue) Entries() []MapEntry { return m.entries }
