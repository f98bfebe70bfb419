package vm

import (
	"fmt"
	"strings"
	"time"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/parser"
	"github.com/Oliver2213/moor/types"
)

// propName extracts a property/verb name operand: strings and symbols
// are both accepted.
func propName(v types.Value) (string, bool) {
	switch n := v.(type) {
	case types.StrValue:
		return n.Value(), true
	case types.SymValue:
		return n.Name(), true
	}
	return "", false
}

// execGetProp implements OP_GET_PROP: obj.name, $name, flyweight slot
// reads (with delegation), and dynamic forms.
func (vm *VM) execGetProp() *Outcome {
	nameV := vm.pop()
	objV := vm.pop()
	name, ok := propName(nameV)
	if !ok {
		return vm.raise(types.NewErrMsg(types.E_TYPE, "property name must be a string"))
	}

	switch o := objV.(type) {
	case types.ObjValue:
		v, code := vm.Tx.GetProperty(vm.perms(), o.Val, name)
		if code != types.E_NONE {
			return vm.raise(types.NewErrMsg(code, fmt.Sprintf("#%d.%s", int(o.Val), name)))
		}
		vm.push(v)
		return nil
	case types.FlyweightValue:
		if v, ok := o.Slot(types.NewSym(name)); ok {
			vm.push(v)
			return nil
		}
		switch strings.ToLower(name) {
		case "delegate":
			vm.push(types.NewObj(o.Delegate()))
			return nil
		case "slots":
			vm.push(o.Slots())
			return nil
		}
		// Absent slots delegate to the delegate object's properties.
		v, code := vm.Tx.GetProperty(vm.perms(), o.Delegate(), name)
		if code != types.E_NONE {
			return vm.raise(types.NewErrMsg(code, fmt.Sprintf("<flyweight>.%s", name)))
		}
		vm.push(v)
		return nil
	}
	return vm.raise(types.NewErr(types.E_INVIND))
}

// execSetProp implements OP_SET_PROP, leaving the value on the stack.
func (vm *VM) execSetProp(f *Frame) *Outcome {
	value := vm.pop()
	nameV := vm.pop()
	objV := vm.pop()
	name, ok := propName(nameV)
	if !ok {
		return vm.raise(types.NewErrMsg(types.E_TYPE, "property name must be a string"))
	}
	obj, ok := objV.(types.ObjValue)
	if !ok {
		return vm.raise(types.NewErr(types.E_INVIND))
	}
	if code := vm.Tx.SetProperty(vm.perms(), obj.Val, name, value); code != types.E_NONE {
		return vm.raise(types.NewErrMsg(code, fmt.Sprintf("#%d.%s", int(obj.Val), name)))
	}
	vm.push(value)
	return nil
}

// perms is the permission principal of the running verb.
func (vm *VM) perms() db.Perms {
	if len(vm.frames) == 0 {
		return db.Perms{Who: types.ObjNothing}
	}
	return db.Perms{Who: vm.top().Programmer}
}

// execCallVerb implements obj:verb(args): resolve up the ancestor
// chain, check execute permission, push the new activation.
func (vm *VM) execCallVerb() *Outcome {
	argsV := vm.pop()
	nameV := vm.pop()
	objV := vm.pop()

	args, ok := argsV.(types.ListValue)
	if !ok {
		return vm.raise(types.NewErr(types.E_TYPE))
	}
	name, ok := propName(nameV)
	if !ok {
		return vm.raise(types.NewErrMsg(types.E_TYPE, "verb name must be a string"))
	}

	var target types.ObjID
	switch o := objV.(type) {
	case types.ObjValue:
		target = o.Val
	case types.FlyweightValue:
		target = o.Delegate()
	default:
		return vm.raise(types.NewErr(types.E_INVIND))
	}
	if !vm.Tx.Valid(target) {
		return vm.raise(types.NewErr(types.E_INVIND))
	}
	return vm.callVerb(target, target, name, args)
}

// execPass implements pass(args): resolution continues strictly above
// the current verb's defining object.
func (vm *VM) execPass(f *Frame) *Outcome {
	argsV := vm.pop()
	args, ok := argsV.(types.ListValue)
	if !ok {
		return vm.raise(types.NewErr(types.E_TYPE))
	}
	h, v, found := vm.Tx.ResolveVerbAbove(f.VerbLoc, f.Verb)
	if !found {
		return vm.raise(types.NewErrMsg(types.E_VERBNF,
			fmt.Sprintf("no verb %s above #%d", f.Verb, int(f.VerbLoc))))
	}
	return vm.invoke(h, v, f.This, f.Verb, args)
}

// callVerb resolves and invokes a verb on this.
func (vm *VM) callVerb(this, start types.ObjID, name string, args types.ListValue) *Outcome {
	h, v, found := vm.Tx.ResolveVerb(start, name)
	if !found {
		return vm.raise(types.NewErrMsg(types.E_VERBNF,
			fmt.Sprintf("#%d:%s", int(start), name)))
	}
	return vm.invoke(h, v, this, name, args)
}

// invoke pushes the activation for a resolved verb.
func (vm *VM) invoke(h db.VerbHandle, v *db.VerbRecord, this types.ObjID, name string, args types.ListValue) *Outcome {
	caller := vm.top()
	if !v.Perms.Execute && caller.Programmer != v.Owner && !vm.Tx.Wizard(vm.perms()) {
		return vm.raise(types.NewErr(types.E_PERM))
	}
	if len(vm.frames) >= DefaultMaxDepth {
		return vm.raise(types.NewErr(types.E_MAXREC))
	}

	prog, err := vm.compileVerb(h, v)
	if err != nil {
		return vm.raise(types.NewErrMsg(types.E_VERBNF,
			fmt.Sprintf("#%d:%s does not compile: %v", int(h.Obj), name, err)))
	}

	frame := &Frame{
		Prog: prog,
		Ref: ProgRef{
			Kind: "verb", Obj: h.Obj, VerbIndex: h.Index, Gen: v.Generation,
		},
		This:       this,
		Player:     caller.Player,
		Programmer: v.Owner,
		Caller:     caller.This,
		Verb:       name,
		VerbLoc:    h.Obj,
	}
	vm.PushFrame(frame)
	frame.setEnv()
	vm.bindArgs(frame, args)
	vm.copyCommandEnv(caller, frame)
	return nil
}

func (vm *VM) bindArgs(f *Frame, args types.ListValue) {
	if EnvArgs < len(f.Locals) {
		f.Locals[EnvArgs] = args
	}
}

// copyCommandEnv propagates the command-parse variables (argstr,
// dobj, ...) from caller to callee, the LambdaMOO convention.
func (vm *VM) copyCommandEnv(from, to *Frame) {
	for _, idx := range []int{EnvArgstr, EnvDobj, EnvDobjstr, EnvPrepstr, EnvIobj, EnvIobjstr} {
		if idx < len(from.Locals) && idx < len(to.Locals) {
			to.Locals[idx] = from.Locals[idx]
		}
	}
}

// execBuiltin dispatches a builtin call and interprets its result.
func (vm *VM) execBuiltin(f *Frame, id int) *Outcome {
	argsV := vm.pop()
	args, ok := argsV.(types.ListValue)
	if !ok {
		return vm.raise(types.NewErr(types.E_TYPE))
	}

	vm.syncCtx(f)
	res := vm.Registry.Call(id, vm.Ctx, args.Elements())
	switch res.Flow {
	case builtins.FlowNormal:
		if res.Val == nil {
			vm.push(types.NewInt(0))
		} else {
			vm.push(res.Val)
		}
		return nil
	case builtins.FlowRaise:
		return vm.raise(res.Err)
	case builtins.FlowSuspend:
		return &Outcome{Kind: OutcomeSuspend, Delay: res.Delay}
	case builtins.FlowRead:
		return &Outcome{Kind: OutcomeRead}
	case builtins.FlowAbort:
		return &Outcome{Kind: OutcomeAbort, Err: &TaskError{
			Err:       types.NewErrMsg(types.E_QUOTA, res.Abort),
			Reason:    "abort",
			Traceback: vm.Traceback(res.Abort),
		}}
	}
	return vm.raise(types.NewErr(types.E_NONE))
}

// syncCtx refreshes the builtin context from the current frame.
func (vm *VM) syncCtx(f *Frame) {
	vm.Ctx.Tx = vm.Tx
	vm.Ctx.Player = f.Player
	vm.Ctx.Programmer = f.Programmer
	vm.Ctx.This = f.This
	vm.Ctx.Verb = f.Verb
	vm.Ctx.CallVerb = vm.builtinCallVerb
	vm.Ctx.Eval = vm.builtinEval
	vm.Ctx.TicksLeft = func() int64 { return vm.TickLimit - vm.Ticks }
	vm.Ctx.SecondsLeft = func() int64 {
		if vm.Deadline.IsZero() {
			return 0
		}
		left := time.Until(vm.Deadline)
		if left < 0 {
			return 0
		}
		return int64(left.Seconds())
	}
	vm.Ctx.Callers = vm.callersList
	vm.Ctx.SetTaskPerms = func(who types.ObjID) { vm.top().Programmer = who }
	vm.Ctx.CallerPerms = func() types.ObjID {
		if len(vm.frames) < 2 {
			return types.ObjNothing
		}
		return vm.frames[len(vm.frames)-2].Programmer
	}
	vm.Ctx.CheckProgram = func(source string) string {
		if _, err := CompileSource(source, vm.Registry); err != nil {
			return err.Error()
		}
		return ""
	}
	vm.Ctx.ParseLiteral = parser.ParseLiteral
}

// builtinCallVerb is the re-entrant verb call surface for builtins
// (the move, create and recycle hooks). It runs the
// verb to completion on this VM; suspension inside such a nested call
// is not supported and aborts the task.
func (vm *VM) builtinCallVerb(obj types.ObjID, verb string, args types.ListValue) builtins.Result {
	if !vm.Tx.Valid(obj) {
		return builtins.Raise(types.E_INVIND)
	}
	h, v, found := vm.Tx.ResolveVerb(obj, verb)
	if !found {
		return builtins.Raise(types.E_VERBNF)
	}
	depthBefore := len(vm.frames)
	if out := vm.invoke(h, v, obj, verb, args); out != nil {
		if out.Err != nil {
			return builtins.Result{Flow: builtins.FlowRaise, Err: out.Err.Err}
		}
		return builtins.Raise(types.E_NONE)
	}
	return vm.runNested(depthBefore)
}

// builtinEval compiles and runs a snippet as a nested activation,
// returning the MOO-level {success, result} pair.
func (vm *VM) builtinEval(source string) builtins.Result {
	prog, err := CompileSource(source, vm.Registry)
	if err != nil {
		return builtins.Ok(types.NewList([]types.Value{
			types.NewInt(0),
			types.NewList([]types.Value{types.NewStr(err.Error())}),
		}))
	}
	caller := vm.top()
	depthBefore := len(vm.frames)
	frame := &Frame{
		Prog:       prog,
		Ref:        ProgRef{Kind: "source", Source: source},
		This:       types.ObjNothing,
		Player:     caller.Player,
		Programmer: caller.Programmer,
		Caller:     caller.This,
		Verb:       "eval",
		VerbLoc:    types.ObjNothing,
	}
	vm.PushFrame(frame)
	frame.setEnv()
	vm.bindArgs(frame, types.NewEmptyList())
	res := vm.runNested(depthBefore)
	switch res.Flow {
	case builtins.FlowNormal:
		return builtins.Ok(types.NewList([]types.Value{types.NewInt(1), res.Val}))
	case builtins.FlowRaise:
		return builtins.Ok(types.NewList([]types.Value{
			types.NewInt(0),
			types.NewList([]types.Value{types.NewStr(res.Err.Message())}),
		}))
	}
	return res
}

// runNested drives the VM until the frames above depthBefore finish.
// Unwinding is fenced at the boundary: an uncaught error inside the
// nested frames becomes this call's FlowRaise rather than escaping
// into the caller's handlers directly.
func (vm *VM) runNested(depthBefore int) builtins.Result {
	savedBarrier := vm.barrier
	vm.barrier = depthBefore
	defer func() { vm.barrier = savedBarrier }()
	for len(vm.frames) > depthBefore {
		f := vm.top()
		if f.IP >= len(f.Prog.Code) {
			if out := vm.doReturn(types.NewInt(0)); out != nil {
				return builtins.Result{Flow: builtins.FlowAbort, Abort: "nested verb aborted"}
			}
			continue
		}
		vm.Ticks++
		if vm.Ticks > vm.TickLimit {
			return builtins.Result{Flow: builtins.FlowAbort, Abort: "Task ran out of ticks"}
		}
		ins := f.Prog.Code[f.IP]
		f.Line = ins.Line
		f.IP++
		if out := vm.step(f, ins); out != nil {
			switch out.Kind {
			case OutcomeDone:
				return builtins.Ok(out.Value)
			case OutcomeAbort:
				if out.Err != nil && out.Err.Reason == "uncaught" {
					return builtins.Result{Flow: builtins.FlowRaise, Err: out.Err.Err}
				}
				return builtins.Result{Flow: builtins.FlowAbort, Abort: "nested verb aborted"}
			default:
				return builtins.Result{Flow: builtins.FlowAbort,
					Abort: "suspend inside a nested verb call"}
			}
		}
	}
	// The nested frame returned; its value is on the stack.
	return builtins.Ok(vm.pop())
}

// callersList renders the call stack for callers():
// {this, verb-name, programmer, verb-loc, player, line}
func (vm *VM) callersList() types.ListValue {
	out := make([]types.Value, 0, len(vm.frames))
	for i := len(vm.frames) - 2; i >= 0; i-- {
		f := vm.frames[i]
		out = append(out, types.NewList([]types.Value{
			types.NewObj(f.This),
			types.NewStr(f.Verb),
			types.NewObj(f.Programmer),
			types.NewObj(f.VerbLoc),
			types.NewObj(f.Player),
			types.NewInt(int64(f.Line)),
		}))
	}
	return types.NewList(out)
}
