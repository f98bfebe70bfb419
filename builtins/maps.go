package builtins

import "github.com/Oliver2213/moor/types"

func registerMaps(r *Registry) {
	r.Register("mapkeys", 1, 1, bfMapkeys)
	r.Register("mapvalues", 1, 1, bfMapvalues)
	r.Register("mapdelete", 2, 2, bfMapdelete)
	r.Register("maphaskey", 2, 2, bfMaphaskey)
}

func wantMap(v types.Value) (types.MapValue, bool) {
	m, ok := v.(types.MapValue)
	return m, ok
}

func bfMapkeys(ctx *Context, args []types.Value) Result {
	m, ok := wantMap(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewList(m.Keys()))
}

func bfMapvalues(ctx *Context, args []types.Value) Result {
	m, ok := wantMap(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewList(m.Values()))
}

func bfMapdelete(ctx *Context, args []types.Value) Result {
	m, ok := wantMap(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	out, removed := m.Delete(args[1])
	if !removed {
		return Raise(types.E_RANGE)
	}
	return Ok(out)
}

func bfMaphaskey(ctx *Context, args []types.Value) Result {
	m, ok := wantMap(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(boolInt(m.Has(args[1])))
}
