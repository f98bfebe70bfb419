package vm

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// The VM is a reified state machine, so a suspended task serializes
// to a CBOR image: frames with program references, locals, operand
// stack, handler and pending stacks. Programs are recompiled from the
// database on restore; a verb whose generation changed while the task
// slept makes the image unrestorable and the task is dropped.

type vmImage struct {
	Frames    []frameImage `cbor:"f"`
	Stack     [][]byte     `cbor:"s"`
	Ticks     int64        `cbor:"t"`
	TickLimit int64        `cbor:"tl"`
}

type frameImage struct {
	Ref        refImage       `cbor:"r"`
	IP         int            `cbor:"ip"`
	Base       int            `cbor:"b"`
	Locals     [][]byte       `cbor:"lo"`
	This       int64          `cbor:"th"`
	Player     int64          `cbor:"pl"`
	Programmer int64          `cbor:"pg"`
	Caller     int64          `cbor:"ca"`
	Verb       string         `cbor:"vb"`
	VerbLoc    int64          `cbor:"vl"`
	Line       int            `cbor:"ln"`
	Handlers   []handlerImage `cbor:"h,omitempty"`
	Pendings   []pendingImage `cbor:"p,omitempty"`
}

type refImage struct {
	Kind      string `cbor:"k"`
	Obj       int64  `cbor:"o"`
	VerbIndex int32  `cbor:"v"`
	Gen       int64  `cbor:"g"`
	ForkPath  []int  `cbor:"fp,omitempty"`
	Source    string `cbor:"s,omitempty"`
}

type handlerImage struct {
	Kind   int `cbor:"k"`
	Spec   int `cbor:"s"`
	Target int `cbor:"t"`
	Depth  int `cbor:"d"`
}

type pendingImage struct {
	Kind   int    `cbor:"k"`
	Err    int    `cbor:"e"`
	ErrMsg string `cbor:"em,omitempty"`
	Target int    `cbor:"t"`
	Depth  int    `cbor:"d"`
	Floor  int    `cbor:"f"`
	Val    []byte `cbor:"v,omitempty"`
}

// Snapshot serializes the paused VM.
func (vm *VM) Snapshot() ([]byte, error) {
	img := vmImage{Ticks: vm.Ticks, TickLimit: vm.TickLimit}
	for _, v := range vm.stack {
		data, err := db.MarshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("vm snapshot: %w", err)
		}
		img.Stack = append(img.Stack, data)
	}
	for _, f := range vm.frames {
		fi := frameImage{
			Ref: refImage{
				Kind: f.Ref.Kind, Obj: int64(f.Ref.Obj), VerbIndex: f.Ref.VerbIndex,
				Gen: f.Ref.Gen, ForkPath: f.Ref.ForkPath, Source: f.Ref.Source,
			},
			IP: f.IP, Base: f.Base,
			This: int64(f.This), Player: int64(f.Player),
			Programmer: int64(f.Programmer), Caller: int64(f.Caller),
			Verb: f.Verb, VerbLoc: int64(f.VerbLoc), Line: f.Line,
		}
		for _, l := range f.Locals {
			data, err := db.MarshalValue(snapshotLocal(l))
			if err != nil {
				return nil, fmt.Errorf("vm snapshot: %w", err)
			}
			fi.Locals = append(fi.Locals, data)
		}
		for _, h := range f.Handlers {
			fi.Handlers = append(fi.Handlers, handlerImage{
				Kind: int(h.kind), Spec: h.spec, Target: h.target, Depth: h.depth,
			})
		}
		for _, p := range f.Pendings {
			pi := pendingImage{
				Kind: int(p.kind), Err: int(p.err.Code), ErrMsg: p.err.Message(),
				Target: p.target, Depth: p.depth, Floor: p.floor,
			}
			if p.val != nil {
				data, err := db.MarshalValue(p.val)
				if err != nil {
					return nil, fmt.Errorf("vm snapshot: %w", err)
				}
				pi.Val = data
			}
			fi.Pendings = append(fi.Pendings, pi)
		}
		img.Frames = append(img.Frames, fi)
	}
	return cborEncMode.Marshal(img)
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Unbound locals serialize as a sentinel the restore path recognizes.
var unboundSentinel = types.NewSym("\x00unbound")

func snapshotLocal(v types.Value) types.Value {
	if _, ok := v.(types.UnboundValue); ok {
		return unboundSentinel
	}
	return v
}

func restoreLocal(v types.Value) types.Value {
	if v.Equal(unboundSentinel) {
		return types.UnboundValue{}
	}
	return v
}

// RestoreVM rebuilds a suspended VM against a fresh transaction.
// Programs are refetched and recompiled; any mismatch fails.
func RestoreVM(data []byte, tx *db.Tx, registry *builtins.Registry, ctx *builtins.Context) (*VM, error) {
	var img vmImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm restore: %w", err)
	}

	vm := NewVM(tx, registry, ctx)
	vm.Ticks = img.Ticks
	vm.TickLimit = img.TickLimit
	for _, raw := range img.Stack {
		v, err := db.UnmarshalValue(raw)
		if err != nil {
			return nil, fmt.Errorf("vm restore: %w", err)
		}
		vm.stack = append(vm.stack, restoreLocal(v))
	}

	for _, fi := range img.Frames {
		ref := ProgRef{
			Kind: fi.Ref.Kind, Obj: types.ObjID(fi.Ref.Obj), VerbIndex: fi.Ref.VerbIndex,
			Gen: fi.Ref.Gen, ForkPath: fi.Ref.ForkPath, Source: fi.Ref.Source,
		}
		prog, err := vm.resolveProgram(ref)
		if err != nil {
			return nil, err
		}
		f := &Frame{
			Prog: prog, Ref: ref, IP: fi.IP, Base: fi.Base,
			This: types.ObjID(fi.This), Player: types.ObjID(fi.Player),
			Programmer: types.ObjID(fi.Programmer), Caller: types.ObjID(fi.Caller),
			Verb: fi.Verb, VerbLoc: types.ObjID(fi.VerbLoc), Line: fi.Line,
		}
		for _, raw := range fi.Locals {
			v, err := db.UnmarshalValue(raw)
			if err != nil {
				return nil, fmt.Errorf("vm restore: %w", err)
			}
			f.Locals = append(f.Locals, restoreLocal(v))
		}
		for _, h := range fi.Handlers {
			f.Handlers = append(f.Handlers, handler{
				kind: handlerKind(h.Kind), spec: h.Spec, target: h.Target, depth: h.Depth,
			})
		}
		for _, p := range fi.Pendings {
			pd := pending{
				kind: pendingKind(p.Kind), err: types.NewErrMsg(types.ErrorCode(p.Err), p.ErrMsg),
				target: p.Target, depth: p.Depth, floor: p.Floor,
			}
			if p.Val != nil {
				v, err := db.UnmarshalValue(p.Val)
				if err != nil {
					return nil, fmt.Errorf("vm restore: %w", err)
				}
				pd.val = v
			}
			f.Pendings = append(f.Pendings, pd)
		}
		vm.frames = append(vm.frames, f)
	}
	return vm, nil
}

// resolveProgram turns a ProgRef back into a compiled program.
func (vm *VM) resolveProgram(ref ProgRef) (*Program, error) {
	var root *Program
	switch ref.Kind {
	case "source":
		prog, err := CompileSource(ref.Source, vm.Registry)
		if err != nil {
			return nil, fmt.Errorf("vm restore: stored source no longer compiles: %w", err)
		}
		root = prog
	case "verb":
		v, ok := vm.Tx.GetVerb(db.VerbHandle{Obj: ref.Obj, Index: ref.VerbIndex})
		if !ok {
			return nil, fmt.Errorf("vm restore: verb #%d:%d is gone", int(ref.Obj), ref.VerbIndex)
		}
		if v.Generation != ref.Gen {
			return nil, fmt.Errorf("vm restore: verb #%d:%d was reprogrammed", int(ref.Obj), ref.VerbIndex)
		}
		prog, err := vm.compileVerb(db.VerbHandle{Obj: ref.Obj, Index: ref.VerbIndex}, v)
		if err != nil {
			return nil, err
		}
		root = prog
	default:
		return nil, fmt.Errorf("vm restore: bad program ref %q", ref.Kind)
	}
	for _, idx := range ref.ForkPath {
		if idx < 0 || idx >= len(root.Forks) {
			return nil, fmt.Errorf("vm restore: fork %d is gone", idx)
		}
		root = root.Forks[idx].Body
	}
	return root, nil
}

// SuspendImage captures the VM plus its wake time, the unit stored in
// checkpoints for queued tasks.
type SuspendImage struct {
	VM     []byte `cbor:"vm"`
	WakeAt int64  `cbor:"wk"`
}

// MarshalSuspended wraps a VM snapshot with its wake time.
func MarshalSuspended(vm *VM, wake time.Time) ([]byte, error) {
	data, err := vm.Snapshot()
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(SuspendImage{VM: data, WakeAt: wake.Unix()})
}

// UnmarshalSuspended splits a stored suspended-task image.
func UnmarshalSuspended(data []byte) (*SuspendImage, error) {
	var img SuspendImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm restore: %w", err)
	}
	return &img, nil
}
