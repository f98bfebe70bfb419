package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IntValue represents a MOO integer (64-bit, wrapping arithmetic)
type IntValue struct {
	Val int64
}

func NewInt(val int64) IntValue { return IntValue{Val: val} }

func (i IntValue) Type() TypeCode { return TYPE_INT }

func (i IntValue) String() string { return strconv.FormatInt(i.Val, 10) }

func (i IntValue) Equal(other Value) bool {
	o, ok := other.(IntValue)
	return ok && i.Val == o.Val
}

// Truthy returns the MOO truthiness: 0 is falsy, everything else truthy.
func (i IntValue) Truthy() bool { return i.Val != 0 }

// FloatValue represents a MOO float (IEEE 754 double)
type FloatValue struct {
	Val float64
}

func NewFloat(val float64) FloatValue { return FloatValue{Val: val} }

func (f FloatValue) Type() TypeCode { return TYPE_FLOAT }

// String produces a literal that always reads back as a float:
// a trailing ".0" is added when the default formatting yields an
// integer-looking result.
func (f FloatValue) String() string {
	if math.IsInf(f.Val, 1) {
		return "1e999"
	}
	if math.IsInf(f.Val, -1) {
		return "-1e999"
	}
	s := strconv.FormatFloat(f.Val, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func (f FloatValue) Equal(other Value) bool {
	o, ok := other.(FloatValue)
	return ok && f.Val == o.Val
}

func (f FloatValue) Truthy() bool { return f.Val != 0.0 }

// BoolValue represents MOO true/false
type BoolValue struct {
	Val bool
}

func NewBool(val bool) BoolValue { return BoolValue{Val: val} }

func (b BoolValue) Type() TypeCode { return TYPE_BOOL }

func (b BoolValue) String() string {
	if b.Val {
		return "true"
	}
	return "false"
}

func (b BoolValue) Equal(other Value) bool {
	o, ok := other.(BoolValue)
	return ok && b.Val == o.Val
}

func (b BoolValue) Truthy() bool { return b.Val }

// NoneValue is the absent value, as read back from literals and
// stored data. Verbs that fall off the end return 0, and optional
// scatter targets left without a value stay unbound.
type NoneValue struct{}

func None() NoneValue { return NoneValue{} }

func (n NoneValue) Type() TypeCode { return TYPE_NONE }

func (n NoneValue) String() string { return "none" }

func (n NoneValue) Equal(other Value) bool {
	_, ok := other.(NoneValue)
	return ok
}

func (n NoneValue) Truthy() bool { return false }

// ObjValue represents an object reference value
type ObjValue struct {
	Val ObjID
}

func NewObj(id ObjID) ObjValue { return ObjValue{Val: id} }

func (o ObjValue) Type() TypeCode { return TYPE_OBJ }

func (o ObjValue) String() string { return fmt.Sprintf("#%d", o.Val) }

func (o ObjValue) Equal(other Value) bool {
	v, ok := other.(ObjValue)
	return ok && o.Val == v.Val
}

// Truthy: only valid-looking (non-negative) object numbers are truthy.
func (o ObjValue) Truthy() bool { return o.Val >= 0 }
