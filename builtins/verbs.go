package builtins

import (
	"strings"

	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

func registerVerbs(r *Registry) {
	r.Register("verbs", 1, 1, bfVerbs)
	r.Register("add_verb", 3, 3, bfAddVerb)
	r.Register("delete_verb", 2, 2, bfDeleteVerb)
	r.Register("verb_info", 2, 2, bfVerbInfo)
	r.Register("set_verb_info", 3, 3, bfSetVerbInfo)
	r.Register("verb_args", 2, 2, bfVerbArgs)
	r.Register("set_verb_args", 3, 3, bfSetVerbArgs)
	r.Register("verb_code", 2, 2, bfVerbCode)
	r.Register("set_verb_code", 3, 3, bfSetVerbCode)
	r.Register("respond_to", 2, 2, bfRespondTo)
}

func wantVerbDesc(v types.Value) (string, bool) {
	switch d := v.(type) {
	case types.StrValue:
		return d.Value(), true
	case types.SymValue:
		return d.Name(), true
	case types.IntValue:
		// ordinal form: 1-based verb position
		return types.NewInt(d.Val).String(), true
	}
	return "", false
}

func bfVerbs(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	names, code := ctx.Tx.Verbs(ctx.Perms(), obj)
	if code != types.E_NONE {
		return Raise(code)
	}
	out := make([]types.Value, len(names))
	for i, n := range names {
		out[i] = types.NewStr(n)
	}
	return Ok(types.NewList(out))
}

// verbInfoTriple unpacks {owner, perms, names}.
func verbInfoTriple(v types.Value) (types.ObjID, db.VerbPerms, string, bool) {
	l, ok := v.(types.ListValue)
	if !ok || l.Len() != 3 {
		return types.ObjNothing, db.VerbPerms{}, "", false
	}
	ownerV, _ := l.Get(1)
	permsV, _ := l.Get(2)
	namesV, _ := l.Get(3)
	owner, ok1 := ownerV.(types.ObjValue)
	permsS, ok2 := permsV.(types.StrValue)
	namesS, ok3 := namesV.(types.StrValue)
	if !ok1 || !ok2 || !ok3 {
		return types.ObjNothing, db.VerbPerms{}, "", false
	}
	perms, ok := db.ParseVerbPerms(permsS.Value())
	if !ok {
		return types.ObjNothing, db.VerbPerms{}, "", false
	}
	return owner.Val, perms, namesS.Value(), true
}

// verbArgsTriple unpacks {dobj, prep, iobj}.
func verbArgsTriple(v types.Value) (db.VerbArgs, bool) {
	l, ok := v.(types.ListValue)
	if !ok || l.Len() != 3 {
		return db.VerbArgs{}, false
	}
	dV, _ := l.Get(1)
	pV, _ := l.Get(2)
	iV, _ := l.Get(3)
	dS, ok1 := dV.(types.StrValue)
	pS, ok2 := pV.(types.StrValue)
	iS, ok3 := iV.(types.StrValue)
	if !ok1 || !ok2 || !ok3 {
		return db.VerbArgs{}, false
	}
	dobj, ok1 := db.ParseArgSpec(dS.Value())
	prep, ok2 := db.ParsePrep(pS.Value())
	iobj, ok3 := db.ParseArgSpec(iS.Value())
	if !ok1 || !ok2 || !ok3 {
		return db.VerbArgs{}, false
	}
	return db.VerbArgs{Dobj: dobj, Prep: prep, Iobj: iobj}, true
}

// add_verb(obj, {owner, perms, names}, {dobj, prep, iobj})
func bfAddVerb(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner, perms, names, ok := verbInfoTriple(args[1])
	if !ok {
		return Raise(types.E_INVARG)
	}
	va, ok := verbArgsTriple(args[2])
	if !ok {
		return Raise(types.E_INVARG)
	}
	idx, code := ctx.Tx.AddVerb(ctx.Perms(), obj, names, owner, perms, va)
	if code != types.E_NONE {
		return Raise(code)
	}
	// 1-based position of the new verb
	return Ok(types.NewInt(int64(idx) + 1))
}

func bfDeleteVerb(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if code := ctx.Tx.DeleteVerb(ctx.Perms(), obj, desc); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfVerbInfo(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner, perms, names, code := ctx.Tx.VerbInfo(ctx.Perms(), obj, desc)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewList([]types.Value{
		types.NewObj(owner), types.NewStr(perms.String()), types.NewStr(names),
	}))
}

func bfSetVerbInfo(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	owner, perms, names, ok := verbInfoTriple(args[2])
	if !ok {
		return Raise(types.E_INVARG)
	}
	if code := ctx.Tx.SetVerbInfo(ctx.Perms(), obj, desc, owner, perms, names); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfVerbArgs(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	va, code := ctx.Tx.VerbArgsOf(ctx.Perms(), obj, desc)
	if code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewList([]types.Value{
		types.NewStr(va.Dobj.String()),
		types.NewStr(db.PrepName(va.Prep)),
		types.NewStr(va.Iobj.String()),
	}))
}

func bfSetVerbArgs(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	va, ok := verbArgsTriple(args[2])
	if !ok {
		return Raise(types.E_INVARG)
	}
	if code := ctx.Tx.SetVerbArgs(ctx.Perms(), obj, desc, va); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfVerbCode(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	lines, code := ctx.Tx.VerbCode(ctx.Perms(), obj, desc)
	if code != types.E_NONE {
		return Raise(code)
	}
	out := make([]types.Value, len(lines))
	for i, l := range lines {
		out[i] = types.NewStr(l)
	}
	return Ok(types.NewList(out))
}

// set_verb_code(obj, desc, lines) compiles first; compile errors come
// back as a list of message strings, the LambdaMOO convention.
func bfSetVerbCode(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	desc, ok := wantVerbDesc(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	linesV, ok := args[2].(types.ListValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	var lines []string
	for _, l := range linesV.Elements() {
		s, ok := l.(types.StrValue)
		if !ok {
			return Raise(types.E_TYPE)
		}
		lines = append(lines, s.Value())
	}
	source := strings.Join(lines, "\n")

	if ctx.CheckProgram != nil {
		if msg := ctx.CheckProgram(source); msg != "" {
			return Ok(types.NewList([]types.Value{types.NewStr(msg)}))
		}
	}
	if code := ctx.Tx.SetVerbCode(ctx.Perms(), obj, desc, source); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewEmptyList())
}

// respond_to(obj, verb) reports whether a verb resolves on obj.
func bfRespondTo(ctx *Context, args []types.Value) Result {
	obj, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	name, ok := wantPropName(args[1])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if !ctx.Tx.Valid(obj) {
		return Raise(types.E_INVARG)
	}
	_, _, found := ctx.Tx.ResolveVerb(obj, name)
	return Ok(boolInt(found))
}
