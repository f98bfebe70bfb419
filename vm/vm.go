package vm

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

const (
	// DefaultMaxDepth bounds the call stack; exceeding it raises
	// E_MAXREC.
	DefaultMaxDepth = 50

	// clockCheckInterval is how many instructions run between
	// wall-clock deadline checks.
	clockCheckInterval = 256
)

type handlerKind int

const (
	hExcept handlerKind = iota
	hFinally
)

type handler struct {
	kind   handlerKind
	spec   int // except: index into Program.Excepts
	target int // finally: entry point
	depth  int // operand depth relative to the frame base at push time
}

type pendingKind int

const (
	pendNormal pendingKind = iota
	pendRaise
	pendJump
	pendReturn
)

// pending records what a finally body interrupted, so OP_FINALLY_DONE
// can resume the unwinding.
type pending struct {
	kind   pendingKind
	err    types.ErrValue
	target int
	depth  int
	floor  int // handler-stack floor for jumps
	val    types.Value
}

// ProgRef names where a frame's program came from, so suspended tasks
// can be serialized and recompiled on restore.
type ProgRef struct {
	Kind      string // "verb" or "source"
	Obj       types.ObjID
	VerbIndex int32
	Gen       int64
	ForkPath  []int
	Source    string
}

// Frame is one verb activation.
type Frame struct {
	Prog       *Program
	Ref        ProgRef
	IP         int
	Base       int // operand stack base in the VM stack
	Locals     []types.Value
	This       types.ObjID
	Player     types.ObjID
	Programmer types.ObjID // permission principal (the verb's owner)
	Caller     types.ObjID
	Verb       string
	VerbLoc    types.ObjID
	Line       int
	Handlers   []handler
	Pendings   []pending
}

// OutcomeKind classifies how a VM run stopped.
type OutcomeKind int

const (
	OutcomeDone OutcomeKind = iota
	OutcomeSuspend
	OutcomeRead
	OutcomeAbort
)

// TaskError describes a task-level abort: an uncaught MOO error, a
// quota exhaustion, or a kill.
type TaskError struct {
	Err       types.ErrValue
	Reason    string // "uncaught", "ticks", "seconds", "killed", "abort"
	Traceback []string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Reason, e.Err.String(), e.Err.Message())
}

// Outcome is the result of Run or Resume.
type Outcome struct {
	Kind  OutcomeKind
	Value types.Value
	Delay time.Duration
	Err   *TaskError
}

// ForkRequest is handed to the scheduler when OP_FORK executes. The
// child task starts after Delay with a copy of the parent's
// environment.
type ForkRequest struct {
	Spec       int
	Prog       *Program
	Ref        ProgRef
	Locals     []types.Value
	This       types.ObjID
	Player     types.ObjID
	Programmer types.ObjID
	Caller     types.ObjID
	Verb       string
	VerbLoc    types.ObjID
	Delay      time.Duration
	TidVar     int
}

// VM is the reified stack machine: explicit program counter, operand
// stack and frames, so tasks can be paused, serialized and resumed.
type VM struct {
	Tx        *db.Tx
	Registry  *builtins.Registry
	Ctx       *builtins.Context
	Ticks     int64
	TickLimit int64
	Deadline  time.Time
	Killed    atomic.Bool

	// ForkFn enqueues a forked child and returns its task id; nil
	// forbids forking (eval contexts).
	ForkFn func(req *ForkRequest) int64

	stack  []types.Value
	frames []*Frame

	// barrier is the frame floor for unwinding: errors raised inside
	// a nested (builtin-invoked) run stop here and surface as that
	// call's failure instead of escaping into the caller's frames.
	barrier int
}

// NewVM creates a VM bound to a transaction and registry.
func NewVM(tx *db.Tx, registry *builtins.Registry, ctx *builtins.Context) *VM {
	return &VM{
		Tx:        tx,
		Registry:  registry,
		Ctx:       ctx,
		TickLimit: 30000,
		stack:     make([]types.Value, 0, 64),
	}
}

func (vm *VM) push(v types.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() types.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() types.Value { return vm.stack[len(vm.stack)-1] }

func (vm *VM) top() *Frame { return vm.frames[len(vm.frames)-1] }

// PushFrame installs a new activation. Locals are sized to the
// program's variable table and initialized unbound.
func (vm *VM) PushFrame(f *Frame) {
	if f.Locals == nil {
		f.Locals = make([]types.Value, len(f.Prog.VarNames))
		for i := range f.Locals {
			f.Locals[i] = types.UnboundValue{}
		}
	} else if len(f.Locals) < len(f.Prog.VarNames) {
		// Shared tables may have grown (fork bodies).
		grown := make([]types.Value, len(f.Prog.VarNames))
		copy(grown, f.Locals)
		for i := len(f.Locals); i < len(grown); i++ {
			grown[i] = types.UnboundValue{}
		}
		f.Locals = grown
	}
	f.Base = len(vm.stack)
	vm.frames = append(vm.frames, f)
}

// setEnv binds the standard environment variables in a frame.
func (f *Frame) setEnv() {
	set := func(idx int, v types.Value) {
		if idx < len(f.Locals) {
			f.Locals[idx] = v
		}
	}
	set(EnvThis, types.NewObj(f.This))
	set(EnvPlayer, types.NewObj(f.Player))
	set(EnvCaller, types.NewObj(f.Caller))
	set(EnvVerb, types.NewStr(f.Verb))
}

// Run starts executing with the already-pushed initial frame.
func (vm *VM) Run() Outcome {
	return vm.loop()
}

// Resume continues a suspended VM: the resume value becomes the
// result of the suspending builtin call. The caller installs a fresh
// transaction first.
func (vm *VM) Resume(tx *db.Tx, val types.Value) Outcome {
	vm.Tx = tx
	vm.Ctx.Tx = tx
	vm.push(val)
	return vm.loop()
}

// Depth reports the current call depth.
func (vm *VM) Depth() int { return len(vm.frames) }

// CurrentLine reports the top frame's source line.
func (vm *VM) CurrentLine() int {
	if len(vm.frames) == 0 {
		return 0
	}
	return vm.top().Line
}

func (vm *VM) loop() Outcome {
	for {
		if len(vm.frames) == 0 {
			// Defensive: loop() is only entered with a frame.
			return Outcome{Kind: OutcomeDone, Value: types.NewInt(0)}
		}

		vm.Ticks++
		if vm.Ticks > vm.TickLimit {
			return vm.abort(types.E_QUOTA, "ticks", "Task ran out of ticks")
		}
		// Kill is guaranteed within one tick; no finally bodies run.
		if vm.Killed.Load() {
			return Outcome{Kind: OutcomeAbort, Err: &TaskError{
				Err: types.NewErrMsg(types.E_QUOTA, "Task killed"), Reason: "killed",
			}}
		}
		if vm.Ticks%clockCheckInterval == 0 {
			if !vm.Deadline.IsZero() && time.Now().After(vm.Deadline) {
				return vm.abort(types.E_QUOTA, "seconds", "Task ran out of seconds")
			}
		}

		f := vm.top()
		if f.IP >= len(f.Prog.Code) {
			// Fell off the end: implicit return 0.
			if out := vm.doReturn(types.NewInt(0)); out != nil {
				return *out
			}
			continue
		}
		ins := f.Prog.Code[f.IP]
		f.Line = ins.Line
		f.IP++

		if out := vm.step(f, ins); out != nil {
			return *out
		}
	}
}

// abort ends the task with a quota-style error: handlers do not see
// it, but the traceback is preserved.
func (vm *VM) abort(code types.ErrorCode, reason, msg string) Outcome {
	return Outcome{Kind: OutcomeAbort, Err: &TaskError{
		Err:       types.NewErrMsg(code, msg),
		Reason:    reason,
		Traceback: vm.Traceback(msg),
	}}
}

// step executes one instruction. A non-nil result stops the run.
func (vm *VM) step(f *Frame, ins Instr) *Outcome {
	switch ins.Op {
	case OP_PUSH:
		vm.push(f.Prog.Constants[ins.A])

	case OP_POP:
		vm.pop()

	case OP_GET_VAR:
		v := f.Locals[ins.A]
		if _, unbound := v.(types.UnboundValue); unbound {
			return vm.raise(types.NewErrMsg(types.E_VARNF,
				fmt.Sprintf("Variable `%s' not found", f.Prog.VarNames[ins.A])))
		}
		vm.push(v)

	case OP_SET_VAR, OP_DECL:
		f.Locals[ins.A] = vm.peek()

	case OP_MAKE_LIST:
		n := ins.A
		elems := make([]types.Value, n)
		copy(elems, vm.stack[len(vm.stack)-n:])
		vm.stack = vm.stack[:len(vm.stack)-n]
		vm.push(types.NewList(elems))
		vm.Ticks += int64(n / 64)

	case OP_MAKE_EMPTY:
		vm.push(types.NewEmptyList())

	case OP_LIST_APPEND:
		v := vm.pop()
		list := vm.pop().(types.ListValue)
		vm.push(list.Append(v))
		vm.Ticks += int64(list.Len() / 64)

	case OP_LIST_EXTEND:
		v := vm.pop()
		ext, ok := v.(types.ListValue)
		if !ok {
			return vm.raise(types.NewErrMsg(types.E_TYPE, "splice of non-list"))
		}
		list := vm.pop().(types.ListValue)
		vm.push(list.Concat(ext))
		vm.Ticks += int64((list.Len() + ext.Len()) / 64)

	case OP_MAKE_MAP:
		n := ins.A
		m := types.NewEmptyMap()
		base := len(vm.stack) - 2*n
		for i := 0; i < n; i++ {
			key := vm.stack[base+2*i]
			val := vm.stack[base+2*i+1]
			if !validMapKey(key) {
				vm.stack = vm.stack[:base]
				return vm.raise(types.NewErrMsg(types.E_TYPE, "invalid map key"))
			}
			m = m.Set(key, val)
		}
		vm.stack = vm.stack[:base]
		vm.push(m)
		vm.Ticks += int64(n / 16)

	case OP_MAKE_FLYWEIGHT:
		contents := vm.pop().(types.ListValue)
		slots := vm.pop().(types.MapValue)
		del := vm.pop()
		delObj, ok := del.(types.ObjValue)
		if !ok {
			return vm.raise(types.NewErrMsg(types.E_TYPE, "flyweight delegate must be an object"))
		}
		for _, e := range slots.Entries() {
			if _, ok := e.Key.(types.SymValue); !ok {
				return vm.raise(types.NewErrMsg(types.E_INVARG, "flyweight slot names must be symbols"))
			}
		}
		vm.push(types.NewFlyweight(delObj.Val, slots, contents))

	case OP_GET_PROP:
		return vm.execGetProp()

	case OP_SET_PROP:
		return vm.execSetProp(f)

	case OP_CALL_VERB:
		return vm.execCallVerb()

	case OP_PASS:
		return vm.execPass(f)

	case OP_CALL_BUILTIN:
		return vm.execBuiltin(f, ins.A)

	case OP_RETURN:
		if out := vm.doReturn(vm.pop()); out != nil {
			return out
		}

	case OP_RETURN0:
		if out := vm.doReturn(types.NewInt(0)); out != nil {
			return out
		}

	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD, OP_POW:
		b := vm.pop()
		a := vm.pop()
		var v types.Value
		var r *raised
		switch ins.Op {
		case OP_ADD:
			v, r = opAdd(a, b)
		case OP_SUB:
			v, r = opSub(a, b)
		case OP_MUL:
			v, r = opMul(a, b)
		case OP_DIV:
			v, r = opDiv(a, b)
		case OP_MOD:
			v, r = opMod(a, b)
		case OP_POW:
			v, r = opPow(a, b)
		}
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)
		switch cv := v.(type) {
		case types.ListValue:
			vm.Ticks += int64(cv.Len() / 64)
		case types.StrValue:
			vm.Ticks += int64(cv.Len() / 64)
		}

	case OP_NEG:
		v, r := opNeg(vm.pop())
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_EQ:
		b := vm.pop()
		a := vm.pop()
		vm.push(boolVal(a.Equal(b)))

	case OP_NE:
		b := vm.pop()
		a := vm.pop()
		vm.push(boolVal(!a.Equal(b)))

	case OP_LT, OP_GT, OP_LE, OP_GE:
		b := vm.pop()
		a := vm.pop()
		v, r := opCompare(ins.Op, a, b)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_IN:
		container := vm.pop()
		x := vm.pop()
		v, r := opIn(x, container)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_NOT:
		vm.push(boolVal(!vm.pop().Truthy()))

	case OP_BITAND, OP_BITOR, OP_BITXOR, OP_SHL, OP_SHR:
		b := vm.pop()
		a := vm.pop()
		v, r := opBitwise(ins.Op, a, b)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_BITNOT:
		v, r := opBitNot(vm.pop())
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_JUMP:
		f.IP = ins.A

	case OP_JUMP_NOT, OP_IF, OP_WHILE:
		if !vm.pop().Truthy() {
			f.IP = ins.A
		}

	case OP_AND:
		if !vm.peek().Truthy() {
			f.IP = ins.A
		} else {
			vm.pop()
		}

	case OP_OR:
		if vm.peek().Truthy() {
			f.IP = ins.A
		} else {
			vm.pop()
		}

	case OP_INDEX:
		idx := vm.pop()
		container := vm.pop()
		v, r := opIndex(container, idx)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_INDEX_SET:
		val := vm.pop()
		idx := vm.pop()
		container := vm.pop()
		v, r := opIndexSet(container, idx, val)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_SLICE:
		hi := vm.pop()
		lo := vm.pop()
		container := vm.pop()
		v, r := opSlice(container, lo, hi)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)
		switch cv := v.(type) {
		case types.ListValue:
			vm.Ticks += int64(cv.Len() / 64)
		case types.StrValue:
			vm.Ticks += int64(cv.Len() / 64)
		}

	case OP_SLICE_SET:
		val := vm.pop()
		hi := vm.pop()
		lo := vm.pop()
		container := vm.pop()
		v, r := opSliceSet(container, lo, hi, val)
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_LENGTH:
		v, r := opLength(vm.pop())
		if r != nil {
			return vm.raise(r.err)
		}
		vm.push(v)

	case OP_FOR_LIST:
		return vm.execForList(f, ins)

	case OP_FOR_RANGE:
		return vm.execForRange(f, ins)

	case OP_EXIT:
		return vm.execExit(f, ins.A, ins.B, ins.C)

	case OP_TRY_EXCEPT, OP_CATCH:
		f.Handlers = append(f.Handlers, handler{
			kind: hExcept, spec: ins.A, depth: len(vm.stack) - f.Base,
		})

	case OP_TRY_FINALLY:
		f.Handlers = append(f.Handlers, handler{
			kind: hFinally, target: ins.A, depth: len(vm.stack) - f.Base,
		})

	case OP_END_EXCEPT:
		f.Handlers = f.Handlers[:len(f.Handlers)-1]
		f.IP = ins.A

	case OP_END_FINALLY:
		f.Handlers = f.Handlers[:len(f.Handlers)-1]
		f.Pendings = append(f.Pendings, pending{kind: pendNormal})

	case OP_FINALLY_DONE:
		p := f.Pendings[len(f.Pendings)-1]
		f.Pendings = f.Pendings[:len(f.Pendings)-1]
		switch p.kind {
		case pendNormal:
			// fall through to the code after the finally
		case pendRaise:
			return vm.raise(p.err)
		case pendJump:
			return vm.execExit(f, p.target, p.depth, p.floor)
		case pendReturn:
			if out := vm.doReturn(p.val); out != nil {
				return out
			}
		}

	case OP_SCATTER:
		return vm.execScatter(f, ins.A)

	case OP_JUMP_IF_BOUND:
		if _, unbound := f.Locals[ins.B].(types.UnboundValue); !unbound {
			f.IP = ins.A
		}

	case OP_FORK:
		return vm.execFork(f, ins)

	default:
		return vm.raise(types.NewErrMsg(types.E_NONE, fmt.Sprintf("bad opcode %s", ins.Op)))
	}
	return nil
}

func validMapKey(k types.Value) bool {
	switch k.Type() {
	case types.TYPE_LIST, types.TYPE_MAP, types.TYPE_FLYWEIGHT:
		return false
	}
	return true
}

// raise routes a MOO error to the nearest matching handler, running
// finally bodies along the way; uncaught errors abort the task with a
// traceback.
func (vm *VM) raise(err types.ErrValue) *Outcome {
	traceback := vm.Traceback(err.Message())
	for len(vm.frames) > vm.barrier {
		f := vm.top()
		for len(f.Handlers) > 0 {
			h := f.Handlers[len(f.Handlers)-1]
			f.Handlers = f.Handlers[:len(f.Handlers)-1]
			vm.stack = vm.stack[:f.Base+h.depth]
			if h.kind == hFinally {
				f.Pendings = append(f.Pendings, pending{kind: pendRaise, err: err})
				f.IP = h.target
				return nil
			}
			spec := f.Prog.Excepts[h.spec]
			for _, clause := range spec.Clauses {
				if clause.Matches(err.Code) {
					vm.push(err)
					f.IP = clause.Target
					return nil
				}
			}
			// No clause matched: keep unwinding.
		}
		vm.popFrame()
	}
	return &Outcome{Kind: OutcomeAbort, Err: &TaskError{
		Err: err, Reason: "uncaught", Traceback: traceback,
	}}
}

// doReturn pops the top frame, delivering value to the caller; frame
// finallys run first. Returning from the last frame finishes the task.
func (vm *VM) doReturn(value types.Value) *Outcome {
	f := vm.top()
	for len(f.Handlers) > 0 {
		h := f.Handlers[len(f.Handlers)-1]
		f.Handlers = f.Handlers[:len(f.Handlers)-1]
		if h.kind == hFinally {
			vm.stack = vm.stack[:f.Base+h.depth]
			f.Pendings = append(f.Pendings, pending{kind: pendReturn, val: value})
			f.IP = h.target
			return nil
		}
	}
	vm.popFrame()
	if len(vm.frames) == 0 {
		return &Outcome{Kind: OutcomeDone, Value: value}
	}
	vm.push(value)
	return nil
}

func (vm *VM) popFrame() {
	f := vm.frames[len(vm.frames)-1]
	vm.stack = vm.stack[:f.Base]
	vm.frames = vm.frames[:len(vm.frames)-1]
}

// execExit implements break/continue: run intervening finallys, then
// cut the operand stack to depth and jump.
func (vm *VM) execExit(f *Frame, target, depth, floor int) *Outcome {
	for len(f.Handlers) > floor {
		h := f.Handlers[len(f.Handlers)-1]
		f.Handlers = f.Handlers[:len(f.Handlers)-1]
		if h.kind == hFinally {
			vm.stack = vm.stack[:f.Base+h.depth]
			f.Pendings = append(f.Pendings, pending{
				kind: pendJump, target: target, depth: depth, floor: floor,
			})
			f.IP = h.target
			return nil
		}
	}
	vm.stack = vm.stack[:f.Base+depth]
	f.IP = target
	return nil
}

func (vm *VM) execForList(f *Frame, ins Instr) *Outcome {
	idxV := vm.peek().(types.IntValue)
	container := vm.stack[len(vm.stack)-2]
	i := int(idxV.Val)

	bind := func(val, key types.Value) {
		f.Locals[ins.A] = val
		if ins.C >= 0 && key != nil {
			f.Locals[ins.C] = key
		}
		vm.stack[len(vm.stack)-1] = types.NewInt(int64(i + 1))
	}

	switch c := container.(type) {
	case types.ListValue:
		if i > c.Len() {
			vm.stack = vm.stack[:len(vm.stack)-2]
			f.IP = ins.B
			return nil
		}
		v, _ := c.Get(i)
		bind(v, types.NewInt(int64(i)))
	case types.MapValue:
		if i > c.Len() {
			vm.stack = vm.stack[:len(vm.stack)-2]
			f.IP = ins.B
			return nil
		}
		e := c.Entries()[i-1]
		bind(e.Val, e.Key)
	case types.StrValue:
		if i > c.Len() {
			vm.stack = vm.stack[:len(vm.stack)-2]
			f.IP = ins.B
			return nil
		}
		ch, _ := c.Index(i)
		bind(ch, types.NewInt(int64(i)))
	default:
		vm.stack = vm.stack[:len(vm.stack)-2]
		return vm.raise(types.NewErrMsg(types.E_TYPE, "for requires a list, map, or string"))
	}
	return nil
}

func (vm *VM) execForRange(f *Frame, ins Instr) *Outcome {
	limitV, ok1 := vm.stack[len(vm.stack)-1].(types.IntValue)
	curV, ok2 := vm.stack[len(vm.stack)-2].(types.IntValue)
	if !ok1 || !ok2 {
		vm.stack = vm.stack[:len(vm.stack)-2]
		return vm.raise(types.NewErrMsg(types.E_TYPE, "for range bounds must be integers"))
	}
	if curV.Val > limitV.Val {
		vm.stack = vm.stack[:len(vm.stack)-2]
		f.IP = ins.B
		return nil
	}
	f.Locals[ins.A] = curV
	vm.stack[len(vm.stack)-2] = types.NewInt(curV.Val + 1)
	return nil
}

func (vm *VM) execScatter(f *Frame, specIdx int) *Outcome {
	list, ok := vm.peek().(types.ListValue)
	if !ok {
		return vm.raise(types.NewErrMsg(types.E_TYPE, "scatter of non-list"))
	}
	spec := f.Prog.Scatters[specIdx]

	required := 0
	optional := 0
	haveRest := false
	for _, t := range spec.Targets {
		switch {
		case t.Rest:
			haveRest = true
		case t.Optional:
			optional++
		default:
			required++
		}
	}
	n := list.Len()
	if n < required || (!haveRest && n > required+optional) {
		return vm.raise(types.NewErr(types.E_ARGS))
	}

	// Fill optionals left to right with whatever exceeds the
	// required count; the rest target soaks up the remainder.
	extra := n - required
	optBudget := min(extra, optional)
	restLen := extra - optBudget
	pos := 1
	for _, t := range spec.Targets {
		switch {
		case t.Rest:
			elems := make([]types.Value, 0, restLen)
			for k := 0; k < restLen; k++ {
				v, _ := list.Get(pos)
				elems = append(elems, v)
				pos++
			}
			f.Locals[t.VarIdx] = types.NewList(elems)
		case t.Optional:
			if optBudget > 0 {
				v, _ := list.Get(pos)
				f.Locals[t.VarIdx] = v
				pos++
				optBudget--
			} else {
				f.Locals[t.VarIdx] = types.UnboundValue{}
			}
		default:
			v, _ := list.Get(pos)
			f.Locals[t.VarIdx] = v
			pos++
		}
	}
	return nil
}

func (vm *VM) execFork(f *Frame, ins Instr) *Outcome {
	delay := vm.pop()
	secs, ok := numAsFloat(delay)
	if !ok {
		return vm.raise(types.NewErrMsg(types.E_TYPE, "fork delay must be a number"))
	}
	if secs < 0 {
		return vm.raise(types.NewErr(types.E_INVARG))
	}
	if vm.ForkFn == nil {
		return vm.raise(types.NewErrMsg(types.E_PERM, "forking is not allowed here"))
	}

	spec := f.Prog.Forks[ins.A]
	locals := make([]types.Value, len(f.Locals))
	copy(locals, f.Locals)
	ref := f.Ref
	ref.ForkPath = append(append([]int(nil), f.Ref.ForkPath...), ins.A)

	tid := vm.ForkFn(&ForkRequest{
		Spec:       ins.A,
		Prog:       spec.Body,
		Ref:        ref,
		Locals:     locals,
		This:       f.This,
		Player:     f.Player,
		Programmer: f.Programmer,
		Caller:     f.Caller,
		Verb:       f.Verb,
		VerbLoc:    f.VerbLoc,
		Delay:      time.Duration(secs * float64(time.Second)),
		TidVar:     spec.TidVar,
	})
	if ins.B >= 0 {
		f.Locals[ins.B] = types.NewInt(tid)
	}
	return nil
}

// Traceback renders the call stack, innermost frame first, in the
// traditional MOO shape.
func (vm *VM) Traceback(msg string) []string {
	var out []string
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		line := fmt.Sprintf("#%d:%s", int(f.VerbLoc), f.Verb)
		if f.VerbLoc != f.This {
			line += fmt.Sprintf(" (this == #%d)", int(f.This))
		}
		line += fmt.Sprintf(", line %d", f.Line)
		if i == len(vm.frames)-1 {
			line += ":  " + msg
		} else {
			line = "... called from " + line
		}
		out = append(out, line)
	}
	if len(out) > 0 {
		out = append(out, "(End of traceback)")
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
