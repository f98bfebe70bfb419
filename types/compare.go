package types

import "strings"

// Compare orders two values of the same kind. It returns the usual
// -1/0/1 plus ok=false when the kinds differ or the kind has no
// defined order; the VM turns that into E_TYPE. Ints and floats
// compare with each other after coercion, the one cross-kind case MOO
// allows.
func Compare(a, b Value) (int, bool) {
	switch av := a.(type) {
	case IntValue:
		switch bv := b.(type) {
		case IntValue:
			return cmpInt64(av.Val, bv.Val), true
		case FloatValue:
			return cmpFloat64(float64(av.Val), bv.Val), true
		}
	case FloatValue:
		switch bv := b.(type) {
		case FloatValue:
			return cmpFloat64(av.Val, bv.Val), true
		case IntValue:
			return cmpFloat64(av.Val, float64(bv.Val)), true
		}
	case StrValue:
		if bv, ok := b.(StrValue); ok {
			return strings.Compare(strings.ToLower(av.Value()), strings.ToLower(bv.Value())), true
		}
	case SymValue:
		if bv, ok := b.(SymValue); ok {
			return strings.Compare(av.Name(), bv.Name()), true
		}
	case ObjValue:
		if bv, ok := b.(ObjValue); ok {
			return cmpInt64(int64(av.Val), int64(bv.Val)), true
		}
	case ErrValue:
		if bv, ok := b.(ErrValue); ok {
			return cmpInt64(int64(av.Code), int64(bv.Code)), true
		}
	case BoolValue:
		if bv, ok := b.(BoolValue); ok {
			return cmpBool(av.Val, bv.Val), true
		}
	}
	return 0, false
}

// typeRank orders kinds for map-key sorting. Any stable order works;
// this one puts none and bool first, then the numerics.
func typeRank(v Value) int {
	switch v.Type() {
	case TYPE_NONE:
		return 0
	case TYPE_BOOL:
		return 1
	case TYPE_INT:
		return 2
	case TYPE_FLOAT:
		return 3
	case TYPE_OBJ:
		return 4
	case TYPE_STR:
		return 5
	case TYPE_SYM:
		return 6
	case TYPE_ERR:
		return 7
	case TYPE_LIST:
		return 8
	case TYPE_MAP:
		return 9
	case TYPE_FLYWEIGHT:
		return 10
	}
	return 11
}

// totalCompare is a total order over all values, used for map-key
// ordering. Same-kind values use Compare where defined; composite
// kinds order element-wise.
func totalCompare(a, b Value) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt64(int64(ra), int64(rb))
	}
	// int/float share a rank boundary only across kinds; within a rank
	// the kinds are identical here.
	if c, ok := Compare(a, b); ok {
		return c
	}
	switch av := a.(type) {
	case NoneValue:
		return 0
	case ListValue:
		bv := b.(ListValue)
		return cmpSeq(av.Elements(), bv.Elements())
	case MapValue:
		bv := b.(MapValue)
		ae, be := av.Entries(), bv.Entries()
		n := len(ae)
		if len(be) < n {
			n = len(be)
		}
		for i := 0; i < n; i++ {
			if c := totalCompare(ae[i].Key, be[i].Key); c != 0 {
				return c
			}
			if c := totalCompare(ae[i].Val, be[i].Val); c != 0 {
				return c
			}
		}
		return cmpInt64(int64(len(ae)), int64(len(be)))
	case FlyweightValue:
		bv := b.(FlyweightValue)
		if c := cmpInt64(int64(av.Delegate()), int64(bv.Delegate())); c != 0 {
			return c
		}
		if c := totalCompare(av.Slots(), bv.Slots()); c != 0 {
			return c
		}
		return totalCompare(av.Contents(), bv.Contents())
	}
	return 0
}

func cmpSeq(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := totalCompare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt64(int64(len(a)), int64(len(b)))
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case !a && b:
		return -1
	case a && !b:
		return 1
	}
	return 0
}
