package server

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/task"
	"github.com/Oliver2213/moor/types"
	"github.com/Oliver2213/moor/vm"
)

// Budgets are the per-task resource limits.
type Budgets struct {
	FgTicks   int64
	BgTicks   int64
	FgSeconds int
	BgSeconds int
	Retries   int
	Workers   int
}

// DefaultBudgets mirror the traditional server options.
func DefaultBudgets() Budgets {
	return Budgets{
		FgTicks: 30000, BgTicks: 60000,
		FgSeconds: 5, BgSeconds: 3,
		Retries: 3, Workers: 8,
	}
}

// Scheduler owns the task queue and the worker pool. Tasks run in
// parallel, isolated by the store's MVCC; committed effects and
// buffered output become visible in commit order.
type Scheduler struct {
	store    *db.Store
	registry *builtins.Registry
	sessions *SessionManager
	budgets  Budgets

	mu       sync.Mutex
	tasks    map[int64]*task.Task
	queue    taskQueue
	inFlight map[types.ObjID]bool // player with a running input task
	deferred map[types.ObjID][]*task.Task

	nextID atomic.Int64
	workCh chan *task.Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store *db.Store, registry *builtins.Registry, sessions *SessionManager, budgets Budgets) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    store,
		registry: registry,
		sessions: sessions,
		budgets:  budgets,
		tasks:    make(map[int64]*task.Task),
		inFlight: make(map[types.ObjID]bool),
		deferred: make(map[types.ObjID][]*task.Task),
		workCh:   make(chan *task.Task),
		ctx:      ctx,
		cancel:   cancel,
	}
	heap.Init(&s.queue)
	sessions.Submit = s.SubmitCommand
	sessions.Deliver = s.DeliverInput
	return s
}

// Start launches the dispatch loop and workers.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.dispatch()
	for i := 0; i < s.budgets.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop drains the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) allocID() int64 { return s.nextID.Add(1) }

// SubmitCommand queues an input task for a command line.
func (s *Scheduler) SubmitCommand(player types.ObjID, sessionID int64, line string) {
	t := &task.Task{
		ID:         s.allocID(),
		Kind:       task.KindInput,
		Player:     player,
		Programmer: player,
		Start:      time.Now(),
		WakeAt:     time.Now(),
		SessionID:  sessionID,
		Verb:       firstWord(line),
	}
	t.Begin = s.beginCommand(t, line)
	s.enqueue(t)
}

// SubmitEval queues an eval task (the `;expr` path and the CLI).
func (s *Scheduler) SubmitEval(player types.ObjID, sessionID int64, source string) int64 {
	t := &task.Task{
		ID:         s.allocID(),
		Kind:       task.KindInput,
		Player:     player,
		Programmer: player,
		Start:      time.Now(),
		WakeAt:     time.Now(),
		SessionID:  sessionID,
		Verb:       "eval",
	}
	t.Begin = func(m *vm.VM) error {
		return m.PushSourceFrame(source, player, player)
	}
	s.enqueue(t)
	return t.ID
}

// SubmitHook queues a task calling a system verb (server_started,
// user_connected, ...). Missing hooks are a no-op.
func (s *Scheduler) SubmitHook(obj types.ObjID, verb string, player types.ObjID, args []types.Value) {
	found := false
	s.store.View(func(tx *db.Tx) {
		_, _, found = tx.ResolveVerb(obj, verb)
	})
	if !found {
		return
	}
	t := &task.Task{
		ID:         s.allocID(),
		Kind:       task.KindForked,
		Player:     player,
		Programmer: player,
		Start:      time.Now(),
		WakeAt:     time.Now(),
		Verb:       verb,
		VerbLoc:    obj,
	}
	t.Begin = func(m *vm.VM) error {
		h, v, ok := m.Tx.ResolveVerb(obj, verb)
		if !ok {
			return fmt.Errorf("hook #%d:%s vanished", int(obj), verb)
		}
		return m.PushVerbFrame(h, v, obj, player, types.ObjNothing, verb,
			types.NewList(args), nil)
	}
	s.enqueue(t)
}

// RestoreSuspended re-queues a suspended-task image loaded from a
// checkpoint or dump.
func (s *Scheduler) RestoreSuspended(img db.TaskImage) error {
	si, err := vm.UnmarshalSuspended(img.Data)
	if err != nil {
		return err
	}
	t := &task.Task{
		ID:         img.ID,
		Kind:       task.KindSuspended,
		Player:     img.Player,
		Programmer: img.Player,
		Start:      time.Now(),
		WakeAt:     time.Unix(si.WakeAt, 0),
	}
	if t.ID >= s.nextID.Load() {
		s.nextID.Store(t.ID)
	}
	t.Begin = func(m *vm.VM) error { return nil } // resumed, never begun
	tx := s.store.Begin()
	ctx := s.newBuiltinCtx(t, newOutputBuffer(s.sessions))
	machine, err := vm.RestoreVM(si.VM, tx, s.registry, ctx)
	tx.Abort()
	if err != nil {
		return err
	}
	t.Machine = machine
	t.ResumeValue = types.NewInt(0)
	s.enqueue(t)
	return nil
}

func (s *Scheduler) enqueue(t *task.Task) {
	s.mu.Lock()
	s.tasks[t.ID] = t
	heap.Push(&s.queue, t)
	s.mu.Unlock()
}

// dispatch moves ready tasks to the workers, one input task per
// player at a time.
func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			s.mu.Lock()
			if s.queue.Len() == 0 {
				s.mu.Unlock()
				break
			}
			t := s.queue[0]
			now := time.Now()
			if t.WakeAt.After(now) {
				s.mu.Unlock()
				break
			}
			heap.Pop(&s.queue)
			if t.State() == task.StateKilled {
				delete(s.tasks, t.ID)
				s.mu.Unlock()
				continue
			}
			if t.Kind == task.KindInput && s.inFlight[t.Player] {
				// Per-player fairness: hold this one until the
				// player's running input task finishes.
				s.deferred[t.Player] = append(s.deferred[t.Player], t)
				s.mu.Unlock()
				continue
			}
			if t.Kind == task.KindInput {
				s.inFlight[t.Player] = true
			}
			s.mu.Unlock()

			select {
			case s.workCh <- t:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.workCh:
			s.runTask(t)
		}
	}
}

// finishInput releases the per-player input slot and requeues any
// deferred input.
func (s *Scheduler) finishInput(t *task.Task) {
	if t.Kind != task.KindInput {
		return
	}
	s.mu.Lock()
	delete(s.inFlight, t.Player)
	if waiting := s.deferred[t.Player]; len(waiting) > 0 {
		for _, w := range waiting {
			heap.Push(&s.queue, w)
		}
		delete(s.deferred, t.Player)
	}
	s.mu.Unlock()
}

func (s *Scheduler) newBuiltinCtx(t *task.Task, buf *outputBuffer) *builtins.Context {
	return &builtins.Context{
		TaskID:    t.ID,
		TaskKind:  t.Kind.String(),
		StartTime: t.Start,
		Scheduler: s,
		Session:   buf,
	}
}

// runTask executes one scheduling of a task: fresh transaction,
// commit on success, full re-execution on conflict up to the retry
// limit.
func (s *Scheduler) runTask(t *task.Task) {
	defer s.finishInput(t)
	t.SetState(task.StateRunning)

	resuming := t.Machine != nil
	var resumeImage []byte
	if resuming {
		// Retries of a resumed task restart from the suspension
		// point, so snapshot it first.
		img, err := t.Machine.Snapshot()
		if err != nil {
			log.Printf("task %d: snapshot failed: %v", t.ID, err)
			t.SetState(task.StateAborted)
			return
		}
		resumeImage = img
	}

	for attempt := 1; ; attempt++ {
		tx := s.store.Begin()
		buf := newOutputBuffer(s.sessions)
		ctx := s.newBuiltinCtx(t, buf)

		var m *vm.VM
		var forks []*pendingFork
		var out vm.Outcome

		if resuming {
			if attempt == 1 {
				m = t.Machine
				m.Ctx = ctx
			} else {
				restored, err := vm.RestoreVM(resumeImage, tx, s.registry, ctx)
				if err != nil {
					tx.Abort()
					log.Printf("task %d: retry restore failed: %v", t.ID, err)
					t.SetState(task.StateAborted)
					return
				}
				m = restored
			}
			m.ForkFn = s.forkCollector(t, &forks)
			// Waking refreshes the quota with the background budget,
			// the traditional suspend() contract.
			m.Ticks = 0
			m.TickLimit = s.budgets.BgTicks
			m.Deadline = time.Now().Add(time.Duration(s.budgets.BgSeconds) * time.Second)
			t.Machine = m
			out = m.Resume(tx, t.ResumeValue)
		} else {
			m = vm.NewVM(tx, s.registry, ctx)
			s.applyBudgets(m, t)
			m.ForkFn = s.forkCollector(t, &forks)
			t.Machine = m
			if err := t.Begin(m); err != nil {
				tx.Abort()
				buf.discard()
				s.sessions.SendLine(t.Player, err.Error())
				t.SetState(task.StateAborted)
				return
			}
			out = m.Run()
		}

		done, retry := s.settle(t, tx, buf, forks, out)
		if done {
			return
		}
		if !retry {
			return
		}
		if attempt >= s.budgets.Retries {
			buf.discard()
			s.sessions.SendLine(t.Player,
				fmt.Sprintf("*** Task %d aborted: too much contention ***", t.ID))
			log.Printf("task %d: aborted after %d conflicting attempts", t.ID, attempt)
			t.SetState(task.StateAborted)
			return
		}
		// Re-execute from the beginning with a fresh snapshot.
	}
}

// settle handles one attempt's outcome. Returns (done, retry).
func (s *Scheduler) settle(t *task.Task, tx *db.Tx, buf *outputBuffer, forks []*pendingFork, out vm.Outcome) (bool, bool) {
	switch out.Kind {
	case vm.OutcomeDone, vm.OutcomeSuspend, vm.OutcomeRead:
		if err := tx.Commit(); err != nil {
			buf.discard()
			if err == db.ErrConflict {
				return false, true
			}
			log.Printf("task %d: commit failed: %v", t.ID, err)
			t.SetState(task.StateAborted)
			return true, false
		}
		buf.flush()
		s.launchForks(forks)

		switch out.Kind {
		case vm.OutcomeDone:
			t.SetState(task.StateCompleted)
			s.dropTask(t)
		case vm.OutcomeSuspend:
			// Release the input slot now; the deferred release in
			// runTask is skipped once the kind changes.
			s.finishInput(t)
			t.Kind = task.KindSuspended
			t.SetState(task.StateSuspended)
			t.ResumeValue = types.NewInt(0)
			if out.Delay >= 0 {
				t.WakeAt = time.Now().Add(out.Delay)
				s.requeue(t)
			}
			// negative delay: parked until resume()
		case vm.OutcomeRead:
			s.finishInput(t)
			t.Kind = task.KindRead
			t.SetState(task.StateReading)
			s.sessions.AwaitInput(t.SessionID, t.ID)
		}
		return true, false

	case vm.OutcomeAbort:
		tx.Abort()
		buf.discard()
		if out.Err != nil && out.Err.Reason != "killed" {
			for _, line := range task.FormatTraceback(t, out.Err) {
				s.sessions.SendLine(t.Player, line)
			}
			log.Printf("task %d (#%d) aborted: %v", t.ID, int(t.Player), out.Err)
		}
		if out.Err != nil && out.Err.Reason == "killed" {
			t.SetState(task.StateKilled)
		} else {
			t.SetState(task.StateErrored)
		}
		s.dropTask(t)
		return true, false
	}
	tx.Abort()
	return true, false
}

func (s *Scheduler) dropTask(t *task.Task) {
	s.mu.Lock()
	delete(s.tasks, t.ID)
	s.mu.Unlock()
}

func (s *Scheduler) requeue(t *task.Task) {
	s.mu.Lock()
	if _, tracked := s.tasks[t.ID]; !tracked {
		s.tasks[t.ID] = t
	}
	heap.Push(&s.queue, t)
	s.mu.Unlock()
}

func (s *Scheduler) applyBudgets(m *vm.VM, t *task.Task) {
	if t.Kind == task.KindInput {
		m.TickLimit = s.budgets.FgTicks
		m.Deadline = time.Now().Add(time.Duration(s.budgets.FgSeconds) * time.Second)
	} else {
		m.TickLimit = s.budgets.BgTicks
		m.Deadline = time.Now().Add(time.Duration(s.budgets.BgSeconds) * time.Second)
	}
}

// pendingFork holds a fork request until the parent commits.
type pendingFork struct {
	id  int64
	req *vm.ForkRequest
}

// forkCollector assigns ids immediately (the parent sees them) but
// defers enqueueing until commit; conflicted attempts drop them.
func (s *Scheduler) forkCollector(parent *task.Task, forks *[]*pendingFork) func(req *vm.ForkRequest) int64 {
	return func(req *vm.ForkRequest) int64 {
		id := s.allocID()
		*forks = append(*forks, &pendingFork{id: id, req: req})
		return id
	}
}

func (s *Scheduler) launchForks(forks []*pendingFork) {
	for _, f := range forks {
		f := f
		t := &task.Task{
			ID:         f.id,
			Kind:       task.KindForked,
			Player:     f.req.Player,
			Programmer: f.req.Programmer,
			Start:      time.Now(),
			WakeAt:     time.Now().Add(f.req.Delay),
			Verb:       f.req.Verb,
			VerbLoc:    f.req.VerbLoc,
		}
		t.Begin = func(m *vm.VM) error {
			m.PushForkFrame(f.req, f.id)
			return nil
		}
		s.enqueue(t)
	}
}

// DeliverInput resumes a task blocked in read().
func (s *Scheduler) DeliverInput(taskID int64, line string) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok || t.State() != task.StateReading {
		return
	}
	t.ResumeValue = types.NewStr(line)
	t.WakeAt = time.Now()
	t.SetState(task.StateRunnable)
	s.requeue(t)
}

// beginCommand builds the input task body: the $do_command hook
// first, then built-in parsing and verb dispatch, all inside the
// task's transaction.
func (s *Scheduler) beginCommand(t *task.Task, line string) func(m *vm.VM) error {
	return func(m *vm.VM) error {
		tx := m.Tx
		words := tokenize(line)
		if len(words) == 0 {
			return m.PushSourceFrame("", t.Player, t.Player)
		}
		cmd := ParseCommand(tx, t.Player, line)

		// $do_command gets first refusal when the world defines it:
		// it runs synchronously inside this transaction, and a truthy
		// result means the command is fully handled. A hook that
		// blows up is ignored and the built-in parser takes over.
		if h, v, ok := tx.ResolveVerb(0, "do_command"); ok {
			res, terr := m.RunRootVerb(h, v, 0, t.Player, "do_command",
				wordList(words), cmd.Env())
			if terr == nil && res != nil && res.Truthy() {
				return m.PushSourceFrame("", t.Player, t.Player)
			}
			if terr != nil {
				log.Printf("task %d: $do_command failed: %v", t.ID, terr)
			}
		}

		h, v, this, found := DispatchCommand(tx, t.Player, cmd)
		if !found {
			// The conventional fallback: location:huh, else a stock
			// complaint.
			loc, _ := tx.Location(t.Player)
			if loc >= 0 {
				if hh, hv, ok := tx.ResolveVerb(loc, "huh"); ok {
					t.Verb = "huh"
					t.VerbLoc = hh.Obj
					return m.PushVerbFrame(hh, hv, loc, t.Player, t.Player, "huh",
						types.NewList(nil), cmd.Env())
				}
			}
			s.sessions.SendLine(t.Player, "I couldn't understand that.")
			return m.PushSourceFrame("", t.Player, t.Player)
		}
		t.Verb = v.FirstName()
		t.VerbLoc = h.Obj
		return m.PushVerbFrame(h, v, this, t.Player, t.Player, cmd.Verb,
			wordList(cmd.Args), cmd.Env())
	}
}

func wordList(words []string) types.ListValue {
	out := make([]types.Value, len(words))
	for i, w := range words {
		out[i] = types.NewStr(w)
	}
	return types.NewList(out)
}

func firstWord(line string) string {
	words := tokenize(line)
	if len(words) == 0 {
		return ""
	}
	return words[0]
}

// --- SchedulerAPI (builtins) --------------------------------------------

func (s *Scheduler) QueuedTasks() []builtins.TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]builtins.TaskView, 0, len(s.tasks))
	for _, t := range s.tasks {
		line := 0
		if t.Machine != nil {
			line = t.Machine.CurrentLine()
		}
		out = append(out, builtins.TaskView{
			ID:        t.ID,
			Kind:      t.Kind.String(),
			Player:    t.Player,
			Owner:     t.Programmer,
			StartTime: t.Start,
			Verb:      t.Verb,
			VerbLoc:   t.VerbLoc,
			Line:      line,
		})
	}
	return out
}

// KillTask marks a task for death; queued tasks never start, running
// ones stop within a tick. No finally bodies run and no output is
// delivered.
func (s *Scheduler) KillTask(id int64, p db.Perms) types.ErrorCode {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return types.E_INVARG
	}
	allowed := false
	s.store.View(func(tx *db.Tx) {
		allowed = p.Who == t.Programmer || tx.Wizard(p)
	})
	if !allowed {
		return types.E_PERM
	}
	t.Kill()
	return types.E_NONE
}

// ResumeTask wakes a suspended task early with a value.
func (s *Scheduler) ResumeTask(id int64, p db.Perms, val types.Value) types.ErrorCode {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok || t.State() != task.StateSuspended {
		return types.E_INVARG
	}
	allowed := false
	s.store.View(func(tx *db.Tx) {
		allowed = p.Who == t.Programmer || tx.Wizard(p)
	})
	if !allowed {
		return types.E_PERM
	}
	t.ResumeValue = val
	t.WakeAt = time.Now()
	t.SetState(task.StateRunnable)
	s.requeue(t)
	return types.E_NONE
}

// SuspendedImages snapshots every parked task for checkpoints.
func (s *Scheduler) SuspendedImages() []db.TaskImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.TaskImage
	for _, t := range s.tasks {
		if t.State() != task.StateSuspended || t.Machine == nil {
			continue
		}
		data, err := vm.MarshalSuspended(t.Machine, t.WakeAt)
		if err != nil {
			log.Printf("task %d: checkpoint snapshot failed: %v", t.ID, err)
			continue
		}
		out = append(out, db.TaskImage{
			ID: t.ID, Player: t.Player, WakeAt: t.WakeAt.Unix(), Data: data,
		})
	}
	return out
}
