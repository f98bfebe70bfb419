package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// memConn captures output lines for assertions.
type memConn struct {
	mu    sync.Mutex
	lines []string
}

func (c *memConn) WriteLine(line string) error {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
	return nil
}

func (c *memConn) WriteBinary([]byte) error { return nil }
func (c *memConn) Close() error             { return nil }

func (c *memConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func testServer(t *testing.T) (*db.Store, *Scheduler, *SessionManager) {
	t.Helper()
	store := db.NewStore()
	tx := store.Begin()
	tx.PutObject(&db.ObjectRecord{
		ID: 0, Parent: types.ObjNothing, Owner: 0, Location: types.ObjNothing,
		Name:  "wizard",
		Flags: db.ObjFlags{Wizard: true, Programmer: true, Player: true},
	})
	require.NoError(t, tx.Commit())

	sessions := NewSessionManager()
	budgets := DefaultBudgets()
	budgets.Workers = 4
	sched := NewScheduler(store, builtins.Default(), sessions, budgets)
	sched.Start()
	t.Cleanup(sched.Stop)
	return store, sched, sessions
}

// runEval submits an eval task and waits for it to finish.
func runEval(t *testing.T, s *Scheduler, source string) {
	t.Helper()
	id := s.SubmitEval(0, 0, source)
	waitTask(t, s, id)
}

func waitTask(t *testing.T, s *Scheduler, id int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		_, live := s.tasks[id]
		s.mu.Unlock()
		if !live {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %d did not finish", id)
}

func readProp(t *testing.T, store *db.Store, obj types.ObjID, name string) types.Value {
	t.Helper()
	var out types.Value
	var code types.ErrorCode
	store.View(func(tx *db.Tx) {
		out, code = tx.GetProperty(db.Perms{Who: 0}, obj, name)
	})
	require.Equal(t, types.E_NONE, code, "%s on #%d", name, obj)
	return out
}

func TestEvalTaskCommits(t *testing.T) {
	store, sched, _ := testServer(t)
	runEval(t, sched, `
o = create(#-1);
add_property(#0, "box", o, {player, "r"});
add_property(o, "content", "pearl", {player, "rw"});
`)
	box := readProp(t, store, 0, "box").(types.ObjValue)
	v := readProp(t, store, box.Val, "content")
	assert.Equal(t, `"pearl"`, v.String())
}

// Scenario: suspend commits immediately; a task running during the
// sleep sees the write. An aborting task's writes are never seen.
func TestSuspendCommitVisibility(t *testing.T) {
	store, sched, _ := testServer(t)
	runEval(t, sched, `
x = create(#-1);
add_property(#0, "x", x, {player, "r"});
add_property(x, "count", 0, {player, "rw"});
`)

	id := sched.SubmitEval(0, 0, `$x.count = 5; suspend(1); $x.count = 7;`)

	// While the task sleeps, its pre-suspend write is committed.
	deadline := time.Now().Add(3 * time.Second)
	sawFive := false
	for time.Now().Before(deadline) {
		x := readProp(t, store, 0, "x").(types.ObjValue)
		if readProp(t, store, x.Val, "count").Equal(types.NewInt(5)) {
			sawFive = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, sawFive, "suspend should commit the first write")
	waitTask(t, sched, id)

	x := readProp(t, store, 0, "x").(types.ObjValue)
	assert.Equal(t, "7", readProp(t, store, x.Val, "count").String())

	// Contrast: an uncaught error rolls everything back.
	runEval(t, sched, `$x.count = 0;`)
	runEval(t, sched, `$x.count = 99; raise(E_PERM);`)
	assert.Equal(t, "0", readProp(t, store, x.Val, "count").String(),
		"aborted task's write leaked")
}

// Scenario: fork(0) children run after the parent commits and see its
// writes.
func TestForkOrdering(t *testing.T) {
	store, sched, _ := testServer(t)
	runEval(t, sched, `
x = create(#-1);
add_property(#0, "x", x, {player, "r"});
add_property(x, "trace", {}, {player, "rw"});
`)
	runEval(t, sched, `
fork (0)
  $x.trace = {@$x.trace, "child"};
endfork
$x.trace = {@$x.trace, "parent"};
`)

	x := readProp(t, store, 0, "x").(types.ObjValue)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if readProp(t, store, x.Val, "trace").(types.ListValue).Len() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	trace := readProp(t, store, x.Val, "trace")
	assert.Equal(t, `{"parent", "child"}`, trace.String(),
		"parent commits before the child runs")
}

// Scenario: two tasks increment the same balance; MVCC serializes
// them and both increments land exactly once.
func TestConflictRetry(t *testing.T) {
	store, sched, _ := testServer(t)
	runEval(t, sched, `
bank = create(#-1);
add_property(#0, "bank", bank, {player, "r"});
add_property(bank, "balance", 100, {player, "rw"});
`)

	var ids []int64
	for i := 0; i < 2; i++ {
		ids = append(ids, sched.SubmitEval(0, 0,
			`$bank.balance = $bank.balance + 10;`))
	}
	for _, id := range ids {
		waitTask(t, sched, id)
	}

	bank := readProp(t, store, 0, "bank").(types.ObjValue)
	assert.Equal(t, "120", readProp(t, store, bank.Val, "balance").String())
}

func TestCommandDispatch(t *testing.T) {
	_, sched, sessions := testServer(t)
	runEval(t, sched, `
room = create(#-1);
add_property(#0, "room", room, {player, "r"});
thing = create(#-1);
thing.name = "brass lantern";
add_verb(thing, {player, "xd", "rub"}, {"this", "none", "none"});
set_verb_code(thing, "rub", {"notify(player, \"It glows.\");"});
move(#0, room);
move(thing, room);
`)

	conn := &memConn{}
	session := sessions.Attach(0, conn)
	sessions.HandleLine(session.ID, "rub brass lantern")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, l := range conn.Lines() {
			if l == "It glows." {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("verb output never arrived; lines: %q", conn.Lines())
}

func TestUnknownCommand(t *testing.T) {
	_, sched, sessions := testServer(t)
	_ = sched
	conn := &memConn{}
	session := sessions.Attach(0, conn)
	sessions.HandleLine(session.ID, "frobnicate the baz")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, l := range conn.Lines() {
			if l == "I couldn't understand that." {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no rejection message; lines: %q", conn.Lines())
}

func TestKillQueuedTask(t *testing.T) {
	store, sched, _ := testServer(t)
	runEval(t, sched, `
x = create(#-1);
add_property(#0, "x", x, {player, "r"});
add_property(x, "ran", 0, {player, "rw"});
`)
	// A long-delayed fork is killable while queued; it never runs and
	// delivers nothing.
	runEval(t, sched, `
fork tid (60)
  $x.ran = 1;
endfork
add_property($x, "tid", tid, {player, "rw"});
`)
	x := readProp(t, store, 0, "x").(types.ObjValue)
	tid := readProp(t, store, x.Val, "tid").(types.IntValue)

	code := sched.KillTask(tid.Val, db.Perms{Who: 0})
	require.Equal(t, types.E_NONE, code)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "0", readProp(t, store, x.Val, "ran").String())

	// The killed task is reported killed or reaped from the table.
	waitReaped(t, sched, tid.Val)
}

func waitReaped(t *testing.T, s *Scheduler, id int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		tsk, live := s.tasks[id]
		s.mu.Unlock()
		if !live || tsk.State().String() == "killed" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %d never reaped", id)
}

func TestQueuedTasksView(t *testing.T) {
	_, sched, _ := testServer(t)
	id := sched.SubmitEval(0, 0, fmt.Sprintf(`suspend(%d);`, 60))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, v := range sched.QueuedTasks() {
			if v.ID == id && v.Kind == "suspended" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("suspended task not visible in queue listing")
}

func TestResumeEarly(t *testing.T) {
	store, sched, _ := testServer(t)
	runEval(t, sched, `
x = create(#-1);
add_property(#0, "x", x, {player, "r"});
add_property(x, "got", 0, {player, "rw"});
`)
	id := sched.SubmitEval(0, 0, `$x.got = suspend(3600);`)

	// Wait for it to park, then resume with a value.
	deadline := time.Now().Add(3 * time.Second)
	parked := false
	for time.Now().Before(deadline) {
		for _, v := range sched.QueuedTasks() {
			if v.ID == id && v.Kind == "suspended" {
				parked = true
			}
		}
		if parked {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, parked)

	code := sched.ResumeTask(id, db.Perms{Who: 0}, types.NewInt(7))
	require.Equal(t, types.E_NONE, code)
	waitTask(t, sched, id)

	x := readProp(t, store, 0, "x").(types.ObjValue)
	assert.Equal(t, "7", readProp(t, store, x.Val, "got").String())
}
