package task

import (
	"sync"
	"time"

	"github.com/Oliver2213/moor/types"
	"github.com/Oliver2213/moor/vm"
)

// State is a task's lifecycle position.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateSuspended
	StateReading
	StateCompleted
	StateErrored
	StateAborted
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateReading:
		return "reading"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	case StateKilled:
		return "killed"
	}
	return "unknown"
}

// Kind is a task's origin.
type Kind int

const (
	KindInput Kind = iota
	KindForked
	KindSuspended
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindForked:
		return "forked"
	case KindSuspended:
		return "suspended"
	case KindRead:
		return "read"
	}
	return "unknown"
}

// Task is the scheduler's unit of execution: one or more VM runs,
// each inside its own transaction.
type Task struct {
	mu sync.Mutex

	ID         int64
	Kind       Kind
	Player     types.ObjID
	Programmer types.ObjID
	Start      time.Time
	WakeAt     time.Time
	SessionID  int64

	state State

	// Begin pushes the initial frame onto a fresh VM; the scheduler
	// calls it once per attempt, so conflict retries re-run the task
	// from the beginning.
	Begin func(m *vm.VM) error

	// Machine is the live VM across suspensions; nil until first run.
	Machine *vm.VM

	// ResumeValue is pushed when a suspended/reading task wakes.
	ResumeValue types.Value

	// Verb metadata for queue listings.
	Verb    string
	VerbLoc types.ObjID
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) SetState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Kill flags the task's VM; queued tasks die immediately, running
// ones within a tick.
func (t *Task) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateKilled
	if t.Machine != nil {
		t.Machine.Killed.Store(true)
	}
}
