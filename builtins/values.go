package builtins

import (
	"strconv"
	"strings"

	"github.com/Oliver2213/moor/types"
)

func registerValues(r *Registry) {
	r.Register("typeof", 1, 1, bfTypeof)
	r.Register("tostr", 0, -1, bfTostr)
	r.Register("toliteral", 1, 1, bfToliteral)
	r.Register("toint", 1, 1, bfToint)
	r.Register("tonum", 1, 1, bfToint)
	r.Register("tofloat", 1, 1, bfTofloat)
	r.Register("toobj", 1, 1, bfToobj)
	r.Register("tosym", 1, 1, bfTosym)
	r.Register("equal", 2, 2, bfEqual)
	r.Register("value_hash", 1, 1, bfValueHash)
	r.Register("length", 1, 1, bfLength)
}

func bfTypeof(ctx *Context, args []types.Value) Result {
	return Ok(types.NewInt(int64(args[0].Type())))
}

// tostr renders values for display: strings unquoted, lists as
// "{list}", maps as "[map]", errors as their message, everything else
// in literal form, all arguments concatenated.
func bfTostr(ctx *Context, args []types.Value) Result {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(displayString(a))
	}
	return Ok(types.NewStr(b.String()))
}

func displayString(v types.Value) string {
	switch val := v.(type) {
	case types.StrValue:
		return val.Value()
	case types.ListValue:
		return "{list}"
	case types.MapValue:
		return "[map]"
	case types.ErrValue:
		return val.Message()
	}
	return v.String()
}

func bfToliteral(ctx *Context, args []types.Value) Result {
	return Ok(types.NewStr(args[0].String()))
}

func bfToint(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.IntValue:
		return Ok(v)
	case types.FloatValue:
		return Ok(types.NewInt(int64(v.Val)))
	case types.ObjValue:
		return Ok(types.NewInt(int64(v.Val)))
	case types.ErrValue:
		return Ok(types.NewInt(int64(v.Code)))
	case types.BoolValue:
		if v.Val {
			return Ok(types.NewInt(1))
		}
		return Ok(types.NewInt(0))
	case types.StrValue:
		s := strings.TrimSpace(v.Value())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Ok(types.NewInt(n))
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Ok(types.NewInt(int64(f)))
		}
		return Ok(types.NewInt(0))
	}
	return Raise(types.E_TYPE)
}

func bfTofloat(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.FloatValue:
		return Ok(v)
	case types.IntValue:
		return Ok(types.NewFloat(float64(v.Val)))
	case types.ErrValue:
		return Ok(types.NewFloat(float64(v.Code)))
	case types.StrValue:
		s := strings.TrimSpace(v.Value())
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Ok(types.NewFloat(f))
		}
		return Ok(types.NewFloat(0))
	}
	return Raise(types.E_TYPE)
}

func bfToobj(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.ObjValue:
		return Ok(v)
	case types.IntValue:
		return Ok(types.NewObj(types.ObjID(v.Val)))
	case types.StrValue:
		s := strings.TrimSpace(v.Value())
		s = strings.TrimPrefix(s, "#")
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			return Ok(types.NewObj(types.ObjID(n)))
		}
		return Ok(types.NewObj(0))
	}
	return Raise(types.E_TYPE)
}

func bfTosym(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.SymValue:
		return Ok(v)
	case types.StrValue:
		return Ok(types.NewSym(v.Value()))
	case types.BoolValue, types.ErrValue:
		return Ok(types.NewSym(strings.ToLower(v.String())))
	}
	return Raise(types.E_TYPE)
}

// equal is the case-sensitive cousin of ==.
func bfEqual(ctx *Context, args []types.Value) Result {
	return Ok(boolInt(caseSensitiveEqual(args[0], args[1])))
}

func caseSensitiveEqual(a, b types.Value) bool {
	switch av := a.(type) {
	case types.StrValue:
		bv, ok := b.(types.StrValue)
		return ok && av.Value() == bv.Value()
	case types.ListValue:
		bv, ok := b.(types.ListValue)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i, e := range av.Elements() {
			if !caseSensitiveEqual(e, bv.Elements()[i]) {
				return false
			}
		}
		return true
	case types.MapValue:
		bv, ok := b.(types.MapValue)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i, e := range av.Entries() {
			o := bv.Entries()[i]
			if !caseSensitiveEqual(e.Key, o.Key) || !caseSensitiveEqual(e.Val, o.Val) {
				return false
			}
		}
		return true
	}
	return a.Equal(b)
}

func bfValueHash(ctx *Context, args []types.Value) Result {
	return Ok(types.NewInt(int64(types.ValueHash(args[0]))))
}

func bfLength(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.StrValue:
		return Ok(types.NewInt(int64(v.Len())))
	case types.ListValue:
		return Ok(types.NewInt(int64(v.Len())))
	case types.MapValue:
		return Ok(types.NewInt(int64(v.Len())))
	}
	return Raise(types.E_TYPE)
}

func boolInt(b bool) types.Value {
	if b {
		return types.NewInt(1)
	}
	return types.NewInt(0)
}
