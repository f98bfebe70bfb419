package builtins

import (
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

func registerProperties(r *Registry) {
	r.Register("add_property", 4, 4, bfAddProperty)
	r.Register("delete_property", 2, 2, bfDeleteProperty)
	r.Register("clear_property", 2, 2, bfClearProperty)
	r.Register("is_clear_property", 2, 2, bfIsClearProperty)
	r.Register("property_info", 2, 2, bfPropertyInfo)
	r.Register("set_property_info", 3, 3, bfSetPropertyInfo)
	r.Register("properties", 1, 1, bfProperties)
}

func wantPropName(v types.Value) (string, bool) {
	switch n := v.(type) {
	case types.StrValue:
		return n.Value(), true
	case types.SymValue:
		return n.Name(), true
	}
	return "", false
}

// propInfo unpacks an {owner, perms} pair.
func propInfo(v types.Value) (types.ObjID, db.PropPerms, bool) {
	l, ok := v.(types.ListValue)
	if !ok || l.Len() != 2 {
		return types.ObjNothing, db.PropPerms{}, false
	}
	ownerV, _ := l.Get(1)
	permsV, _ := l.Get(2)
	owner, ok := ownerV.(types.ObjValue)
	if !ok {
		return types.ObjNothing, db.PropPerms{}, false
	}
	permsS, ok := permsV.(types.StrValue)
	if !ok {
		return types.ObjNothing, db.PropPerms{}, false
	}
	perms, ok := db.ParsePropPerms(permsS.Value())
	if !ok {
		return types.ObjNothing, db.PropPerms{}, false
	}
	return owner.Val, perms, true
}

// add_property(obj, name, value, {owner, perms})
func bfAddProperty(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner, perms, ok := propInfo(args[3])
	if !ok {
		return Raise(types.E_INVARG)
	}
	if code := ctx.Tx.AddProperty(ctx.Perms(), obj, name, args[2], owner, perms); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfDeleteProperty(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if code := ctx.Tx.DeleteProperty(ctx.Perms(), obj, name); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfClearProperty(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if code := ctx.Tx.ClearProperty(ctx.Perms(), obj, name); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfIsClearProperty(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	clear, code := ctx.Tx.IsClearProperty(ctx.Perms(), obj, name)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(boolInt(clear))
}

func bfPropertyInfo(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner, perms, code := ctx.Tx.PropertyInfo(ctx.Perms(), obj, name)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewList([]types.Value{
		types.NewObj(owner), types.NewStr(perms.String()),
	}))
}

func bfSetPropertyInfo(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner, perms, ok := propInfo(args[2])
	if !ok {
		return Raise(types.E_INVARG)
	}
	if code := ctx.Tx.SetPropertyInfo(ctx.Perms(), obj, name, owner, perms); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfProperties(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	names, code := ctx.Tx.Properties(ctx.Perms(), obj)
	if code != types.E_NONE {
		return Raise(code)
	}
	out := make([]types.Value, len(names))
	for i, n := range names {
		out[i] = types.NewStr(n)
	}
	return Ok(types.NewList(out))
}
