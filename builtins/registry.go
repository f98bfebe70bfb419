package builtins

import (
	"sync"
	"time"

	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// Flow tells the VM what a builtin did besides (or instead of)
// producing a value.
type Flow int

const (
	FlowNormal Flow = iota
	FlowRaise       // MOO-level error: recoverable via try/except
	FlowSuspend     // yield; commit; reschedule after Delay
	FlowRead        // yield awaiting one line of session input
	FlowAbort       // task-level abort: bypasses handlers
)

// Result is a builtin's outcome.
type Result struct {
	Flow  Flow
	Val   types.Value
	Err   types.ErrValue // FlowRaise
	Delay time.Duration  // FlowSuspend
	Abort string         // FlowAbort: reason for the log
}

func Ok(v types.Value) Result {
	return Result{Flow: FlowNormal, Val: v}
}

func Raise(code types.ErrorCode) Result {
	return Result{Flow: FlowRaise, Err: types.NewErr(code)}
}

func RaiseMsg(code types.ErrorCode, msg string) Result {
	return Result{Flow: FlowRaise, Err: types.NewErrMsg(code, msg)}
}

// TaskView is the read-only scheduler surface builtins may query.
type TaskView struct {
	ID        int64
	Kind      string // "input", "forked", "suspended", "read"
	Player    types.ObjID
	Owner     types.ObjID
	StartTime time.Time
	Verb      string
	VerbLoc   types.ObjID
	Line      int
}

// SchedulerAPI is what task builtins need from the scheduler.
type SchedulerAPI interface {
	QueuedTasks() []TaskView
	KillTask(id int64, p db.Perms) types.ErrorCode
	ResumeTask(id int64, p db.Perms, val types.Value) types.ErrorCode
}

// SessionAPI is the per-connection output surface. Lines buffer until
// the task's transaction commits.
type SessionAPI interface {
	SendLine(player types.ObjID, line string)
	ConnectedPlayers() []types.ObjID
	Boot(player types.ObjID)
}

// Context carries everything a builtin call may touch. CallVerb and
// Eval re-enter the VM; Fork schedules a child task at commit.
type Context struct {
	Tx         *db.Tx
	Player     types.ObjID
	Programmer types.ObjID // effective permission principal
	This       types.ObjID
	Verb       string
	TaskID     int64
	TaskKind   string
	StartTime  time.Time

	Scheduler SchedulerAPI
	Session   SessionAPI

	// VM callbacks.
	CallVerb     func(obj types.ObjID, verb string, args types.ListValue) Result
	Eval         func(source string) Result
	TicksLeft    func() int64
	SecondsLeft  func() int64
	Callers      func() types.ListValue
	SetTaskPerms func(who types.ObjID)
	CallerPerms  func() types.ObjID
	CheckProgram func(source string) string // "" when it compiles
	ParseLiteral func(source string) (types.Value, error)
}

// Perms is the database principal for the current programmer.
func (ctx *Context) Perms() db.Perms {
	return db.Perms{Who: ctx.Programmer}
}

// Wizardly reports whether the caller runs with wizard rights.
func (ctx *Context) Wizardly() bool {
	return ctx.Tx.Wizard(ctx.Perms())
}

// ProgrammerFlag reports whether the caller is a programmer (or
// wizard).
func (ctx *Context) ProgrammerFlag() bool {
	flags, code := ctx.Tx.Flags(ctx.Programmer)
	if code != types.E_NONE {
		return false
	}
	return flags.Programmer || flags.Wizard
}

// Func is the signature every builtin implements.
type Func func(ctx *Context, args []types.Value) Result

// entry pairs a builtin with its arity bounds; max -1 means variadic.
type entry struct {
	name string
	fn   Func
	min  int
	max  int
}

// Registry holds all builtin functions, keyed by name and by the
// dense id the compiler embeds in bytecode. Read-only after startup.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a builtin with arity bounds.
func (r *Registry) Register(name string, min, max int, fn Func) {
	id := len(r.entries)
	r.entries = append(r.entries, entry{name: name, fn: fn, min: min, max: max})
	r.byName[name] = id
}

// IDFor resolves a builtin name at compile time.
func (r *Registry) IDFor(name string) (int, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// NameOf returns the name for a builtin id.
func (r *Registry) NameOf(id int) string {
	if id < 0 || id >= len(r.entries) {
		return "?"
	}
	return r.entries[id].name
}

// Names lists every registered builtin, in id order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

// Call dispatches builtin id. Arity violations raise E_ARGS before
// the builtin runs.
func (r *Registry) Call(id int, ctx *Context, args []types.Value) Result {
	if id < 0 || id >= len(r.entries) {
		return RaiseMsg(types.E_VARNF, "unknown function")
	}
	e := r.entries[id]
	if len(args) < e.min || (e.max >= 0 && len(args) > e.max) {
		return RaiseMsg(types.E_ARGS, e.name+": incorrect number of arguments")
	}
	return e.fn(ctx, args)
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, built on first use and
// immutable afterwards.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		registerValues(r)
		registerStrings(r)
		registerLists(r)
		registerMaps(r)
		registerMath(r)
		registerObjects(r)
		registerProperties(r)
		registerVerbs(r)
		registerTasks(r)
		registerServer(r)
		registerCrypto(r)
		defaultRegistry = r
	})
	return defaultRegistry
}
