package builtins

import (
	"sort"

	"github.com/Oliver2213/moor/types"
)

func registerLists(r *Registry) {
	r.Register("listappend", 2, 3, bfListappend)
	r.Register("listinsert", 2, 3, bfListinsert)
	r.Register("listdelete", 2, 2, bfListdelete)
	r.Register("listset", 3, 3, bfListset)
	r.Register("setadd", 2, 2, bfSetadd)
	r.Register("setremove", 2, 2, bfSetremove)
	r.Register("is_member", 2, 2, bfIsMember)
	r.Register("reverse", 1, 1, bfReverse)
	r.Register("sort", 1, 1, bfSort)
}

func wantList(v types.Value) (types.ListValue, bool) {
	l, ok := v.(types.ListValue)
	return l, ok
}

func wantInt(v types.Value) (int, bool) {
	i, ok := v.(types.IntValue)
	return int(i.Val), ok
}

// listappend(list, value [, index]) inserts after index; default end.
func bfListappend(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	after := l.Len()
	if len(args) > 2 {
		if after, ok = wantInt(args[2]); !ok {
			return Raise(types.E_TYPE)
		}
	}
	out, ok := l.Insert(after+1, args[1])
	if !ok {
		return Raise(types.E_RANGE)
	}
	return Ok(out)
}

// listinsert(list, value [, index]) inserts before index; default 1.
func bfListinsert(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	before := 1
	if len(args) > 2 {
		if before, ok = wantInt(args[2]); !ok {
			return Raise(types.E_TYPE)
		}
	}
	out, ok := l.Insert(before, args[1])
	if !ok {
		return Raise(types.E_RANGE)
	}
	return Ok(out)
}

func bfListdelete(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	i, ok := wantInt(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	out, ok := l.Delete(i)
	if !ok {
		return Raise(types.E_RANGE)
	}
	return Ok(out)
}

func bfListset(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	i, ok := wantInt(args[2])
	if !ok {
		return Raise(types.E_TYPE)
	}
	out, ok := l.Set(i, args[1])
	if !ok {
		return Raise(types.E_RANGE)
	}
	return Ok(out)
}

func bfSetadd(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if l.Contains(args[1]) {
		return Ok(l)
	}
	return Ok(l.Append(args[1]))
}

func bfSetremove(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if i := l.IndexOf(args[1]); i != 0 {
		out, _ := l.Delete(i)
		return Ok(out)
	}
	return Ok(l)
}

func bfIsMember(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	// is_member is the case-sensitive membership test.
	for i, e := range l.Elements() {
		if caseSensitiveEqual(e, args[0]) {
			return Ok(types.NewInt(int64(i + 1)))
		}
	}
	return Ok(types.NewInt(0))
}

func bfReverse(ctx *Context, args []types.Value) Result {
	switch v := args[0].(type) {
	case types.ListValue:
		n := v.Len()
		out := make([]types.Value, n)
		for i, e := range v.Elements() {
			out[n-1-i] = e
		}
		return Ok(types.NewList(out))
	case types.StrValue:
		runes := []rune(v.Value())
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return Ok(types.NewStr(string(runes)))
	}
	return Raise(types.E_TYPE)
}

func bfSort(ctx *Context, args []types.Value) Result {
	l, ok := wantList(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	elems := append([]types.Value(nil), l.Elements()...)
	bad := false
	sort.SliceStable(elems, func(i, j int) bool {
		c, ok := types.Compare(elems[i], elems[j])
		if !ok {
			bad = true
			return false
		}
		return c < 0
	})
	if bad {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewList(elems))
}
