package vm

import (
	"math"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// raised is a MOO-level error in flight inside the VM. It is a plain
// value; the unwinder routes it to handlers.
type raised struct {
	err types.ErrValue
}

func raiseErr(code types.ErrorCode) *raised {
	return &raised{err: types.NewErr(code)}
}

func raiseMsg(code types.ErrorCode, msg string) *raised {
	return &raised{err: types.NewErrMsg(code, msg)}
}

// opAdd implements + : wrapping integer add, float add, string and
// list concatenation.
func opAdd(a, b types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		if bv, ok := b.(types.IntValue); ok {
			return types.NewInt(av.Val + bv.Val), nil
		}
		if bv, ok := b.(types.FloatValue); ok {
			return checkFloat(float64(av.Val) + bv.Val)
		}
	case types.FloatValue:
		if bv, ok := numAsFloat(b); ok {
			return checkFloat(av.Val + bv)
		}
	case types.StrValue:
		if bv, ok := b.(types.StrValue); ok {
			return av.Concat(bv), nil
		}
	case types.ListValue:
		if bv, ok := b.(types.ListValue); ok {
			return av.Concat(bv), nil
		}
	}
	return nil, raiseErr(types.E_TYPE)
}

func opSub(a, b types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		if bv, ok := b.(types.IntValue); ok {
			return types.NewInt(av.Val - bv.Val), nil
		}
		if bv, ok := b.(types.FloatValue); ok {
			return checkFloat(float64(av.Val) - bv.Val)
		}
	case types.FloatValue:
		if bv, ok := numAsFloat(b); ok {
			return checkFloat(av.Val - bv)
		}
	}
	return nil, raiseErr(types.E_TYPE)
}

func opMul(a, b types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		if bv, ok := b.(types.IntValue); ok {
			return types.NewInt(av.Val * bv.Val), nil
		}
		if bv, ok := b.(types.FloatValue); ok {
			return checkFloat(float64(av.Val) * bv.Val)
		}
	case types.FloatValue:
		if bv, ok := numAsFloat(b); ok {
			return checkFloat(av.Val * bv)
		}
	}
	return nil, raiseErr(types.E_TYPE)
}

func opDiv(a, b types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		if bv, ok := b.(types.IntValue); ok {
			if bv.Val == 0 {
				return nil, raiseErr(types.E_DIV)
			}
			// MOO integer division truncates toward zero; the one
			// overflow case wraps.
			if av.Val == math.MinInt64 && bv.Val == -1 {
				return types.NewInt(math.MinInt64), nil
			}
			return types.NewInt(av.Val / bv.Val), nil
		}
		if bv, ok := b.(types.FloatValue); ok {
			return checkFloat(float64(av.Val) / bv.Val)
		}
	case types.FloatValue:
		if bv, ok := numAsFloat(b); ok {
			return checkFloat(av.Val / bv)
		}
	}
	return nil, raiseErr(types.E_TYPE)
}

func opMod(a, b types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		if bv, ok := b.(types.IntValue); ok {
			if bv.Val == 0 {
				return nil, raiseErr(types.E_DIV)
			}
			if av.Val == math.MinInt64 && bv.Val == -1 {
				return types.NewInt(0), nil
			}
			return types.NewInt(av.Val % bv.Val), nil
		}
	case types.FloatValue:
		if bv, ok := numAsFloat(b); ok {
			return checkFloat(math.Mod(av.Val, bv))
		}
	}
	return nil, raiseErr(types.E_TYPE)
}

func opPow(a, b types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		if bv, ok := b.(types.IntValue); ok {
			if bv.Val < 0 {
				switch av.Val {
				case 1:
					return types.NewInt(1), nil
				case -1:
					if bv.Val%2 == 0 {
						return types.NewInt(1), nil
					}
					return types.NewInt(-1), nil
				case 0:
					return nil, raiseErr(types.E_DIV)
				}
				return types.NewInt(0), nil
			}
			result := int64(1)
			base := av.Val
			for n := bv.Val; n > 0; n >>= 1 {
				if n&1 == 1 {
					result *= base
				}
				base *= base
			}
			return types.NewInt(result), nil
		}
		if bv, ok := b.(types.FloatValue); ok {
			return checkFloat(math.Pow(float64(av.Val), bv.Val))
		}
	case types.FloatValue:
		if bv, ok := numAsFloat(b); ok {
			return checkFloat(math.Pow(av.Val, bv))
		}
	}
	return nil, raiseErr(types.E_TYPE)
}

func opNeg(a types.Value) (types.Value, *raised) {
	switch av := a.(type) {
	case types.IntValue:
		return types.NewInt(-av.Val), nil
	case types.FloatValue:
		return types.NewFloat(-av.Val), nil
	}
	return nil, raiseErr(types.E_TYPE)
}

// opCompare implements < <= > >=; incomparable kinds raise E_TYPE.
func opCompare(op OpCode, a, b types.Value) (types.Value, *raised) {
	cmp, ok := types.Compare(a, b)
	if !ok {
		return nil, raiseErr(types.E_TYPE)
	}
	var result bool
	switch op {
	case OP_LT:
		result = cmp < 0
	case OP_GT:
		result = cmp > 0
	case OP_LE:
		result = cmp <= 0
	case OP_GE:
		result = cmp >= 0
	}
	return boolVal(result), nil
}

// opIn implements `x in container`: 1-based index in lists, key
// membership in maps, case-insensitive substring position in strings.
func opIn(x, container types.Value) (types.Value, *raised) {
	switch c := container.(type) {
	case types.ListValue:
		return types.NewInt(int64(c.IndexOf(x))), nil
	case types.MapValue:
		if c.Has(x) {
			return types.NewInt(1), nil
		}
		return types.NewInt(0), nil
	case types.StrValue:
		xs, ok := x.(types.StrValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		idx := strings.Index(strings.ToLower(c.Value()), strings.ToLower(xs.Value()))
		return types.NewInt(int64(idx + 1)), nil
	}
	return nil, raiseErr(types.E_TYPE)
}

func opBitwise(op OpCode, a, b types.Value) (types.Value, *raised) {
	av, ok1 := a.(types.IntValue)
	bv, ok2 := b.(types.IntValue)
	if !ok1 || !ok2 {
		return nil, raiseErr(types.E_TYPE)
	}
	switch op {
	case OP_BITAND:
		return types.NewInt(av.Val & bv.Val), nil
	case OP_BITOR:
		return types.NewInt(av.Val | bv.Val), nil
	case OP_BITXOR:
		return types.NewInt(av.Val ^ bv.Val), nil
	case OP_SHL, OP_SHR:
		if bv.Val < 0 || bv.Val > 63 {
			return nil, raiseErr(types.E_INVARG)
		}
		if op == OP_SHL {
			return types.NewInt(av.Val << uint(bv.Val)), nil
		}
		return types.NewInt(int64(uint64(av.Val) >> uint(bv.Val))), nil
	}
	return nil, raiseErr(types.E_TYPE)
}

func opBitNot(a types.Value) (types.Value, *raised) {
	av, ok := a.(types.IntValue)
	if !ok {
		return nil, raiseErr(types.E_TYPE)
	}
	return types.NewInt(^av.Val), nil
}

// opIndex implements c[i] for lists, maps and strings.
func opIndex(container, index types.Value) (types.Value, *raised) {
	switch c := container.(type) {
	case types.ListValue:
		i, ok := index.(types.IntValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		v, ok := c.Get(int(i.Val))
		if !ok {
			return nil, raiseErr(types.E_RANGE)
		}
		return v, nil
	case types.StrValue:
		i, ok := index.(types.IntValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		v, ok := c.Index(int(i.Val))
		if !ok {
			return nil, raiseErr(types.E_RANGE)
		}
		return v, nil
	case types.MapValue:
		v, ok := c.Get(index)
		if !ok {
			return nil, raiseErr(types.E_RANGE)
		}
		return v, nil
	}
	return nil, raiseErr(types.E_TYPE)
}

// opIndexSet implements c[i] = v, returning the rebuilt container.
func opIndexSet(container, index, value types.Value) (types.Value, *raised) {
	switch c := container.(type) {
	case types.ListValue:
		i, ok := index.(types.IntValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		out, ok := c.Set(int(i.Val), value)
		if !ok {
			return nil, raiseErr(types.E_RANGE)
		}
		return out, nil
	case types.MapValue:
		return c.Set(index, value), nil
	case types.StrValue:
		i, ok := index.(types.IntValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		r, ok := value.(types.StrValue)
		if !ok || r.Len() != 1 {
			return nil, raiseErr(types.E_INVARG)
		}
		n := c.Len()
		if i.Val < 1 || int(i.Val) > n {
			return nil, raiseErr(types.E_RANGE)
		}
		head, _ := c.Slice(1, int(i.Val)-1)
		tail, _ := c.Slice(int(i.Val)+1, n)
		return head.Concat(r).Concat(tail), nil
	}
	return nil, raiseErr(types.E_TYPE)
}

// opSlice implements c[lo..hi].
func opSlice(container, lo, hi types.Value) (types.Value, *raised) {
	li, ok1 := lo.(types.IntValue)
	hiV, ok2 := hi.(types.IntValue)
	if !ok1 || !ok2 {
		return nil, raiseErr(types.E_TYPE)
	}
	switch c := container.(type) {
	case types.ListValue:
		out, ok := c.Slice(int(li.Val), int(hiV.Val))
		if !ok {
			return nil, raiseErr(types.E_RANGE)
		}
		return out, nil
	case types.StrValue:
		out, ok := c.Slice(int(li.Val), int(hiV.Val))
		if !ok {
			return nil, raiseErr(types.E_RANGE)
		}
		return out, nil
	}
	return nil, raiseErr(types.E_TYPE)
}

// opSliceSet implements c[lo..hi] = v.
func opSliceSet(container, lo, hi, value types.Value) (types.Value, *raised) {
	li, ok1 := lo.(types.IntValue)
	hiV, ok2 := hi.(types.IntValue)
	if !ok1 || !ok2 {
		return nil, raiseErr(types.E_TYPE)
	}
	start, end := int(li.Val), int(hiV.Val)
	switch c := container.(type) {
	case types.ListValue:
		repl, ok := value.(types.ListValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		if start < 1 || end > c.Len() || start > end+1 {
			return nil, raiseErr(types.E_RANGE)
		}
		head, _ := c.Slice(1, start-1)
		tail, _ := c.Slice(end+1, c.Len())
		return head.Concat(repl).Concat(tail), nil
	case types.StrValue:
		repl, ok := value.(types.StrValue)
		if !ok {
			return nil, raiseErr(types.E_TYPE)
		}
		if start < 1 || end > c.Len() || start > end+1 {
			return nil, raiseErr(types.E_RANGE)
		}
		head, _ := c.Slice(1, start-1)
		tail, _ := c.Slice(end+1, c.Len())
		return head.Concat(repl).Concat(tail), nil
	}
	return nil, raiseErr(types.E_TYPE)
}

// opLength implements the $ marker's length lookup.
func opLength(container types.Value) (types.Value, *raised) {
	switch c := container.(type) {
	case types.ListValue:
		return types.NewInt(int64(c.Len())), nil
	case types.StrValue:
		return types.NewInt(int64(c.Len())), nil
	case types.MapValue:
		return types.NewInt(int64(c.Len())), nil
	}
	return nil, raiseErr(types.E_TYPE)
}

func numAsFloat(v types.Value) (float64, bool) {
	switch n := v.(type) {
	case types.IntValue:
		return float64(n.Val), true
	case types.FloatValue:
		return n.Val, true
	}
	return 0, false
}

// checkFloat raises E_FLOAT on non-finite results, the MOO contract
// for float arithmetic.
func checkFloat(f float64) (types.Value, *raised) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, raiseErr(types.E_FLOAT)
	}
	return types.NewFloat(f), nil
}

func boolVal(b bool) types.Value {
	if b {
		return types.NewInt(1)
	}
	return types.NewInt(0)
}
