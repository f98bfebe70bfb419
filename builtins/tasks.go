package builtins

import (
	"time"

	"github.com/Oliver2213/moor/types"
)

func registerTasks(r *Registry) {
	r.Register("task_id", 0, 0, bfTaskID)
	r.Register("suspend", 0, 1, bfSuspend)
	r.Register("read", 0, 0, bfRead)
	r.Register("queued_tasks", 0, 0, bfQueuedTasks)
	r.Register("queue_info", 0, 1, bfQueueInfo)
	r.Register("kill_task", 1, 1, bfKillTask)
	r.Register("resume", 1, 2, bfResume)
	r.Register("ticks_left", 0, 0, bfTicksLeft)
	r.Register("seconds_left", 0, 0, bfSecondsLeft)
	r.Register("callers", 0, 0, bfCallers)
	r.Register("raise", 1, 3, bfRaise)
}

func bfTaskID(ctx *Context, args []types.Value) Result {
	return Ok(types.NewInt(ctx.TaskID))
}

// suspend([seconds]) commits the current transaction and reschedules;
// without an argument the task sleeps until resume().
func bfSuspend(ctx *Context, args []types.Value) Result {
	delay := time.Duration(-1)
	if len(args) > 0 {
		secs, ok := wantNum(args[0])
		if !ok {
			return Raise(types.E_TYPE)
		}
		if secs < 0 {
			return Raise(types.E_INVARG)
		}
		delay = time.Duration(secs * float64(time.Second))
	}
	return Result{Flow: FlowSuspend, Delay: delay}
}

func bfRead(ctx *Context, args []types.Value) Result {
	if ctx.TaskKind != "input" {
		return Raise(types.E_PERM)
	}
	return Result{Flow: FlowRead}
}

func taskViewList(views []TaskView) types.Value {
	out := make([]types.Value, len(views))
	for i, t := range views {
		// {task-id, start-time, ticks, clock-id, programmer, verb-loc,
		//  verb-name, line, player}
		out[i] = types.NewList([]types.Value{
			types.NewInt(t.ID),
			types.NewInt(t.StartTime.Unix()),
			types.NewInt(0),
			types.NewInt(0),
			types.NewObj(t.Owner),
			types.NewObj(t.VerbLoc),
			types.NewStr(t.Verb),
			types.NewInt(int64(t.Line)),
			types.NewObj(t.Player),
		})
	}
	return types.NewList(out)
}

func bfQueuedTasks(ctx *Context, args []types.Value) Result {
	if ctx.Scheduler == nil {
		return Ok(types.NewEmptyList())
	}
	views := ctx.Scheduler.QueuedTasks()
	if !ctx.Wizardly() {
		var own []TaskView
		for _, t := range views {
			if t.Owner == ctx.Programmer {
				own = append(own, t)
			}
		}
		views = own
	}
	return Ok(taskViewList(views))
}

// queue_info() lists players with queued tasks; queue_info(player)
// counts that player's queued tasks.
func bfQueueInfo(ctx *Context, args []types.Value) Result {
	if ctx.Scheduler == nil {
		return Ok(types.NewEmptyList())
	}
	views := ctx.Scheduler.QueuedTasks()
	if len(args) == 0 {
		seen := make(map[types.ObjID]bool)
		var out []types.Value
		for _, t := range views {
			if !seen[t.Player] {
				seen[t.Player] = true
				out = append(out, types.NewObj(t.Player))
			}
		}
		return Ok(types.NewList(out))
	}
	player, ok := wantObj(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	count := int64(0)
	for _, t := range views {
		if t.Player == player {
			count++
		}
	}
	return Ok(types.NewInt(count))
}

func bfKillTask(ctx *Context, args []types.Value) Result {
	id, ok := args[0].(types.IntValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	if ctx.Scheduler == nil {
		return Raise(types.E_INVARG)
	}
	if code := ctx.Scheduler.KillTask(id.Val, ctx.Perms()); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfResume(ctx *Context, args []types.Value) Result {
	id, ok := args[0].(types.IntValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	val := types.Value(types.NewInt(0))
	if len(args) > 1 {
		val = args[1]
	}
	if ctx.Scheduler == nil {
		return Raise(types.E_INVARG)
	}
	if code := ctx.Scheduler.ResumeTask(id.Val, ctx.Perms(), val); code != types.E_NONE {
		return Raise(code)
	}
	return Ok(types.NewInt(0))
}

func bfTicksLeft(ctx *Context, args []types.Value) Result {
	if ctx.TicksLeft == nil {
		return Ok(types.NewInt(0))
	}
	return Ok(types.NewInt(ctx.TicksLeft()))
}

func bfSecondsLeft(ctx *Context, args []types.Value) Result {
	if ctx.SecondsLeft == nil {
		return Ok(types.NewInt(0))
	}
	return Ok(types.NewInt(ctx.SecondsLeft()))
}

func bfCallers(ctx *Context, args []types.Value) Result {
	if ctx.Callers == nil {
		return Ok(types.NewEmptyList())
	}
	return Ok(ctx.Callers())
}

// raise(code [, message [, value]])
func bfRaise(ctx *Context, args []types.Value) Result {
	errV, ok := args[0].(types.ErrValue)
	if !ok {
		return Raise(types.E_TYPE)
	}
	msg := errV.Message()
	if len(args) > 1 {
		s, ok := args[1].(types.StrValue)
		if !ok {
			return Raise(types.E_TYPE)
		}
		msg = s.Value()
	}
	return RaiseMsg(errV.Code, msg)
}
