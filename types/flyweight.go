package types

import "strings"

// FlyweightValue is a lightweight object-like value: a delegate object
// plus slot bindings plus a contents list, with no database identity.
// Slot reads that miss fall through to the delegate's properties at
// the VM level.
type FlyweightValue struct {
	delegate ObjID
	slots    MapValue // keys are SymValue
	contents ListValue
}

// NewFlyweight builds a flyweight value.
func NewFlyweight(delegate ObjID, slots MapValue, contents ListValue) FlyweightValue {
	return FlyweightValue{delegate: delegate, slots: slots, contents: contents}
}

func (f FlyweightValue) Type() TypeCode { return TYPE_FLYWEIGHT }

// String returns the <delegate, [slots], {contents}> literal form.
// Empty slot maps and contents lists are elided.
func (f FlyweightValue) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(NewObj(f.delegate).String())
	if f.slots.Len() > 0 {
		b.WriteString(", ")
		b.WriteString(f.slots.String())
	}
	if f.contents.Len() > 0 {
		b.WriteString(", ")
		b.WriteString(f.contents.String())
	}
	b.WriteByte('>')
	return b.String()
}

// Equal is structural: same delegate, equal slots, equal contents.
func (f FlyweightValue) Equal(other Value) bool {
	o, ok := other.(FlyweightValue)
	return ok && f.delegate == o.delegate &&
		f.slots.Equal(o.slots) && f.contents.Equal(o.contents)
}

func (f FlyweightValue) Truthy() bool { return true }

// Delegate returns the delegate object.
func (f FlyweightValue) Delegate() ObjID { return f.delegate }

// Slot reads a slot binding by symbol.
func (f FlyweightValue) Slot(name SymValue) (Value, bool) {
	return f.slots.Get(name)
}

// WithSlot returns a flyweight with the slot bound.
func (f FlyweightValue) WithSlot(name SymValue, val Value) FlyweightValue {
	return FlyweightValue{
		delegate: f.delegate,
		slots:    f.slots.Set(name, val),
		contents: f.contents,
	}
}

// Slots returns the slot map.
func (f FlyweightValue) Slots() MapValue { return f.slots }

// Contents returns the contents list.
func (f FlyweightValue) Contents() ListValue { return f.contents }
