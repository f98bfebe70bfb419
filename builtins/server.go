package builtins

import (
	"time"

	"github.com/Oliver2213/moor/types"
)

// ServerVersion is reported by server_version().
const ServerVersion = "moor 0.9.0"

func registerServer(r *Registry) {
	r.Register("server_version", 0, 0, bfServerVersion)
	r.Register("notify", 2, 2, bfNotify)
	r.Register("connected_players", 0, 0, bfConnectedPlayers)
	r.Register("boot_player", 1, 1, bfBootPlayer)
	r.Register("time", 0, 0, bfTime)
	r.Register("ctime", 0, 1, bfCtime)
	r.Register("eval", 1, 1, bfEval)
	r.Register("parse_literal", 1, 1, bfParseLiteral)
	r.Register("set_task_perms", 1, 1, bfSetTaskPerms)
	r.Register("caller_perms", 0, 0, bfCallerPerms)
	r.Register("memory_usage", 0, 0, bfMemoryUsage)
}

func bfServerVersion(ctx *Context, args []types.Value) Result {
	return Ok(types.NewStr(ServerVersion))
}

// notify(player, line) buffers output; it reaches the session only
// when the transaction commits.
func bfNotify(ctx *Context, args []types.Value) Result {
	player, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	line, ok := args[1].(types.StrValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	if player != ctx.Player && !ctx.Wizardly() {
		return Raise(types.E_PERM)
	}
	if ctx.Session != nil {
		ctx.Session.SendLine(player, line.Value())
	}
	return Ok(types.NewInt(0))
}

func bfConnectedPlayers(ctx *Context, args []types.Value) Result {
	if ctx.Session == nil {
		return Ok(types.NewEmptyList())
	}
	return Ok(objList(ctx.Session.ConnectedPlayers()))
}

func bfBootPlayer(ctx *Context, args []types.Value) Result {
	player, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if player != ctx.Player && !ctx.Wizardly() {
		return Raise(types.E_PERM)
	}
	if ctx.Session != nil {
		ctx.Session.Boot(player)
	}
	return Ok(types.NewInt(0))
}

func bfTime(ctx *Context, args []types.Value) Result {
	return Ok(types.NewInt(time.Now().Unix()))
}

func bfCtime(ctx *Context, args []types.Value) Result {
	t := time.Now()
	if len(args) > 0 {
		secs, ok := args[0].(types.IntValue)
		if !ok {
			return Raise(types.E_TYPE)
		}
		t = time.Unix(secs.Val, 0)
	}
	return Ok(types.NewStr(t.Format("Mon Jan  2 15:04:05 2006 MST")))
}

// eval(source) compiles and runs a snippet as the calling programmer;
// returns {success, value-or-messages}.
func bfEval(ctx *Context, args []types.Value) Result {
	src, ok := args[0].(types.StrValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	if !ctx.ProgrammerFlag() {
		return Raise(types.E_PERM)
	}
	if ctx.Eval == nil {
		return Raise(types.E_PERM)
	}
	return ctx.Eval(src.Value())
}

func bfParseLiteral(ctx *Context, args []types.Value) Result {
	src, ok := args[0].(types.StrValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	if ctx.ParseLiteral == nil {
		return Raise(types.E_INVARG)
	}
	v, err := ctx.ParseLiteral(src.Value())
	if err != nil {
		return RaiseMsg(types.E_INVARG, err.Error())
	}
	return Ok(v)
}

// set_task_perms(who) drops (or with wizard rights, changes) the
// current frame's permission principal.
func bfSetTaskPerms(ctx *Context, args []types.Value) Result {
	who, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if who != ctx.Programmer && !ctx.Wizardly() {
		return Raise(types.E_PERM)
	}
	if ctx.SetTaskPerms == nil {
		return Raise(types.E_PERM)
	}
	ctx.SetTaskPerms(who)
	return Ok(types.NewInt(0))
}

func bfCallerPerms(ctx *Context, args []types.Value) Result {
	if ctx.CallerPerms == nil {
		return Ok(types.NewObj(types.ObjNothing))
	}
	return Ok(types.NewObj(ctx.CallerPerms()))
}

func bfMemoryUsage(ctx *Context, args []types.Value) Result {
	// Historical interface; this server does not meter pools.
	return Ok(types.NewEmptyList())
}
