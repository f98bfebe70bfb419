package vm

import (
	"fmt"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// CommandEnv is the command-parse environment bound into an input
// task's root frame.
type CommandEnv struct {
	Argstr  string
	Args    []string
	Dobj    types.ObjID
	Dobjstr string
	Prepstr string
	Iobj    types.ObjID
	Iobjstr string
}

// PushVerbFrame installs the root activation for a verb task: a
// command dispatch or a server hook. The caller is the player for
// command tasks, #-1 for hooks.
func (vm *VM) PushVerbFrame(h db.VerbHandle, v *db.VerbRecord, this, player, caller types.ObjID, verbName string, args types.ListValue, env *CommandEnv) error {
	prog, err := vm.compileVerb(h, v)
	if err != nil {
		return fmt.Errorf("verb #%d:%s does not compile: %w", int(h.Obj), verbName, err)
	}
	f := &Frame{
		Prog: prog,
		Ref: ProgRef{
			Kind: "verb", Obj: h.Obj, VerbIndex: h.Index, Gen: v.Generation,
		},
		This:       this,
		Player:     player,
		Programmer: v.Owner,
		Caller:     caller,
		Verb:       verbName,
		VerbLoc:    h.Obj,
	}
	vm.PushFrame(f)
	f.setEnv()
	vm.bindArgs(f, args)
	if env != nil {
		bindCommandEnv(f, env)
	} else {
		bindCommandEnv(f, &CommandEnv{
			Dobj: types.ObjNothing, Iobj: types.ObjNothing,
		})
	}
	return nil
}

// PushSourceFrame installs the root activation for an eval task.
func (vm *VM) PushSourceFrame(source string, player, programmer types.ObjID) error {
	prog, err := CompileSource(source, vm.Registry)
	if err != nil {
		return err
	}
	f := &Frame{
		Prog:       prog,
		Ref:        ProgRef{Kind: "source", Source: source},
		This:       types.ObjNothing,
		Player:     player,
		Programmer: programmer,
		Caller:     types.ObjNothing,
		Verb:       "eval",
		VerbLoc:    types.ObjNothing,
	}
	vm.PushFrame(f)
	f.setEnv()
	vm.bindArgs(f, types.NewEmptyList())
	bindCommandEnv(f, &CommandEnv{Dobj: types.ObjNothing, Iobj: types.ObjNothing})
	return nil
}

// PushForkFrame installs the root activation of a forked child from
// its fork request.
func (vm *VM) PushForkFrame(req *ForkRequest, taskID int64) {
	locals := make([]types.Value, len(req.Locals))
	copy(locals, req.Locals)
	if req.TidVar >= 0 && req.TidVar < len(locals) {
		locals[req.TidVar] = types.NewInt(taskID)
	}
	f := &Frame{
		Prog:       req.Prog,
		Ref:        req.Ref,
		Locals:     locals,
		This:       req.This,
		Player:     req.Player,
		Programmer: req.Programmer,
		Caller:     req.Caller,
		Verb:       req.Verb,
		VerbLoc:    req.VerbLoc,
	}
	vm.PushFrame(f)
}

// RunRootVerb pushes a root verb frame and drives it to completion
// synchronously. Used for pre-dispatch hooks ($do_command) that must
// finish before the scheduler decides how to run the command proper.
// Suspension inside such a hook is not supported.
func (vm *VM) RunRootVerb(h db.VerbHandle, v *db.VerbRecord, this, player types.ObjID, verbName string, args types.ListValue, env *CommandEnv) (types.Value, *TaskError) {
	depthBefore := vm.Depth()
	if err := vm.PushVerbFrame(h, v, this, player, player, verbName, args, env); err != nil {
		return nil, &TaskError{
			Err: types.NewErrMsg(types.E_VERBNF, err.Error()), Reason: "uncaught",
		}
	}
	res := vm.runNested(depthBefore)
	switch res.Flow {
	case builtins.FlowNormal:
		return res.Val, nil
	case builtins.FlowRaise:
		return nil, &TaskError{Err: res.Err, Reason: "uncaught"}
	}
	return nil, &TaskError{
		Err:    types.NewErrMsg(types.E_QUOTA, res.Abort),
		Reason: "abort",
	}
}

func bindCommandEnv(f *Frame, env *CommandEnv) {
	set := func(idx int, v types.Value) {
		if idx < len(f.Locals) {
			f.Locals[idx] = v
		}
	}
	argWords := make([]types.Value, len(env.Args))
	for i, w := range env.Args {
		argWords[i] = types.NewStr(w)
	}
	set(EnvArgstr, types.NewStr(env.Argstr))
	set(EnvDobj, types.NewObj(env.Dobj))
	set(EnvDobjstr, types.NewStr(env.Dobjstr))
	set(EnvPrepstr, types.NewStr(env.Prepstr))
	set(EnvIobj, types.NewObj(env.Iobj))
	set(EnvIobjstr, types.NewStr(env.Iobjstr))
	if env.Args != nil {
		set(EnvArgs, types.NewList(argWords))
	}
}
