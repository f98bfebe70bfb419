package builtins

import (
	"github.com/Oliver2213/moor/types"
)

func registerObjects(r *Registry) {
	r.Register("create", 1, 2, bfCreate)
	r.Register("recycle", 1, 1, bfRecycle)
	r.Register("chparent", 2, 2, bfChparent)
	r.Register("parent", 1, 1, bfParent)
	r.Register("children", 1, 1, bfChildren)
	r.Register("move", 2, 2, bfMove)
	r.Register("valid", 1, 1, bfValid)
	r.Register("max_object", 0, 0, bfMaxObject)
	r.Register("players", 0, 0, bfPlayers)
	r.Register("is_player", 1, 1, bfIsPlayer)
	r.Register("set_player_flag", 2, 2, bfSetPlayerFlag)
}

func wantObj(v types.Value) (types.ObjID, bool) {
	o, ok := v.(types.ObjValue)
	if !ok {
		return types.ObjNothing, false
	}
	return o.Val, ok
}

func objList(ids []types.ObjID) types.Value {
	out := make([]types.Value, len(ids))
	for i, id := range ids {
		out[i] = types.NewObj(id)
	}
	return types.NewList(out)
}

// create(parent [, owner]) allocates a new object and runs its
// initialize verb, if any.
func bfCreate(ctx *Context, args []types.Value) Result {
	parent, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner := types.ObjNothing
	if len(args) > 1 {
		if owner, ok = wantObj(args[1]); !ok {
			return Raise(types.E_TYPE)
		}
	}

	id, code := ctx.Tx.Create(ctx.Perms(), parent, owner)
	if code != types.E_NONE {
		return Raise(code)
	}

	if _, _, found := ctx.Tx.ResolveVerb(id, "initialize"); found {
		if res := ctx.CallVerb(id, "initialize", types.NewEmptyList()); res.Flow != FlowNormal {
			return res
		}
	}
	return Ok(types.NewObj(id))
}

// recycle(obj) runs the victim's recycle verb, then destroys it.
func bfRecycle(ctx *Context, args []types.Value) Result {
	victim, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if !ctx.Tx.Valid(victim) {
		return Raise(types.E_INVARG)
	}

	if _, _, found := ctx.Tx.ResolveVerb(victim, "recycle"); found {
		// A failing recycle hook does not save the object.
		ctx.CallVerb(victim, "recycle", types.NewEmptyList())
	}
	if code := ctx.Tx.Recycle(ctx.Perms(), victim); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfChparent(ctx *Context, args []types.Value) Result {
	obj, ok1 := wantObj(args[0])
	parent, ok2 := wantObj(args[1])
	if !ok1 || !ok2 {
		return Raise(types.E_TYPE)
	}
	if code := ctx.Tx.ChParent(ctx.Perms(), obj, parent); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfParent(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	p, code := ctx.Tx.Parent(obj)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewObj(p))
}

func bfChildren(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	kids, code := ctx.Tx.Children(obj)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(objList(kids))
}

// move(what, where) checks where:accept(what) for non-wizards, then
// relocates and runs the exitfunc/enterfunc hooks.
func bfMove(ctx *Context, args []types.Value) Result {
	what, ok1 := wantObj(args[0])
	where, ok2 := wantObj(args[1])
	if !ok1 || !ok2 {
		return Raise(types.E_TYPE)
	}
	if !ctx.Tx.Valid(what) {
		return Raise(types.E_INVARG)
	}

	if where != types.ObjNothing && !ctx.Wizardly() {
		if _, _, found := ctx.Tx.ResolveVerb(where, "accept"); found {
			res := ctx.CallVerb(where, "accept", types.NewList([]types.Value{types.NewObj(what)}))
			if res.Flow != FlowNormal {
				return res
			}
			if !res.Val.Truthy() {
				return Raise(types.E_NACC)
			}
		} else {
			return Raise(types.E_NACC)
		}
	}

	oldLoc, _ := ctx.Tx.Location(what)
	if code := ctx.Tx.Move(ctx.Perms(), what, where); code != types.E_NONE {
		return Raise(code)
	}
	if oldLoc != types.ObjNothing && ctx.Tx.Valid(oldLoc) {
		if _, _, found := ctx.Tx.ResolveVerb(oldLoc, "exitfunc"); found {
			ctx.CallVerb(oldLoc, "exitfunc", types.NewList([]types.Value{types.NewObj(what)}))
		}
	}
	if where != types.ObjNothing && ctx.Tx.Valid(where) {
		if _, _, found := ctx.Tx.ResolveVerb(where, "enterfunc"); found {
			ctx.CallVerb(where, "enterfunc", types.NewList([]types.Value{types.NewObj(what)}))
		}
	}
	return Ok(types.NewInt(0))
}

func bfValid(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(boolInt(ctx.Tx.Valid(obj)))
}

func bfMaxObject(ctx *Context, args []types.Value) Result {
	return Ok(types.NewObj(ctx.Tx.MaxObject()))
}

func bfPlayers(ctx *Context, args []types.Value) Result {
	return Ok(objList(ctx.Tx.Players()))
}

func bfIsPlayer(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	flags, code := ctx.Tx.Flags(obj)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(boolInt(flags.Player))
}

func bfSetPlayerFlag(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if code := ctx.Tx.SetFlag(ctx.Perms(), obj, "player", args[1].Truthy()); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}
