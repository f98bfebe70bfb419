package vm

import (
	"strings"
	"testing"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// testWorld builds a store with a wizard #0 and a programmer #1.
func testWorld(t *testing.T) *db.Store {
	t.Helper()
	s := db.NewStore()
	tx := s.Begin()
	tx.PutObject(&db.ObjectRecord{
		ID: 0, Parent: types.ObjNothing, Owner: 0, Location: types.ObjNothing,
		Name:  "wizard",
		Flags: db.ObjFlags{Wizard: true, Programmer: true, Player: true},
	})
	tx.PutObject(&db.ObjectRecord{
		ID: 1, Parent: types.ObjNothing, Owner: 1, Location: types.ObjNothing,
		Name:  "programmer",
		Flags: db.ObjFlags{Programmer: true, Player: true},
	})
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return s
}

// run compiles source and executes it as wizard #0 in a fresh
// transaction that is committed on success.
func run(t *testing.T, store *db.Store, source string) Outcome {
	t.Helper()
	tx := store.Begin()
	m := NewVM(tx, builtins.Default(), &builtins.Context{TaskKind: "input"})
	if err := m.PushSourceFrame(source, 0, 0); err != nil {
		t.Fatalf("compile %q: %v", source, err)
	}
	out := m.Run()
	if out.Kind == OutcomeDone {
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	} else {
		tx.Abort()
	}
	return out
}

// evalOK runs source and returns the value of its `return`.
func evalOK(t *testing.T, store *db.Store, source string) types.Value {
	t.Helper()
	out := run(t, store, source)
	if out.Kind != OutcomeDone {
		t.Fatalf("run %q: outcome %v, err %v", source, out.Kind, out.Err)
	}
	return out.Value
}

// evalErr runs source expecting an uncaught MOO error.
func evalErr(t *testing.T, store *db.Store, source string) types.ErrorCode {
	t.Helper()
	out := run(t, store, source)
	if out.Kind != OutcomeAbort || out.Err == nil || out.Err.Reason != "uncaught" {
		t.Fatalf("run %q: expected uncaught error, got %v (%v)", source, out.Kind, out.Err)
	}
	return out.Err.Err.Code
}

func TestArithmetic(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src  string
		want types.Value
	}{
		{"return 1 + 2 * 3;", types.NewInt(7)},
		{"return (1 + 2) * 3;", types.NewInt(9)},
		{"return 7 / 2;", types.NewInt(3)},
		{"return -7 / 2;", types.NewInt(-3)},
		{"return 7 % 3;", types.NewInt(1)},
		{"return 2 ^ 10;", types.NewInt(1024)},
		{"return 1.5 + 1;", types.NewFloat(2.5)},
		{"return 9223372036854775807 + 1;", types.NewInt(-9223372036854775808)},
		{"return \"foo\" + \"bar\";", types.NewStr("foobar")},
		{"return {1, 2} + {3};", types.NewList([]types.Value{
			types.NewInt(1), types.NewInt(2), types.NewInt(3)})},
		{"return 3 < 4;", types.NewInt(1)},
		{"return \"A\" == \"a\";", types.NewInt(1)},
		{"return 2 in {1, 2, 3};", types.NewInt(2)},
		{"return !0;", types.NewInt(1)},
		{"return 5 &. 3;", types.NewInt(1)},
		{"return 1 << 4;", types.NewInt(16)},
		{"return 0 && x;", types.NewInt(0)}, // short circuit skips unbound x
		{"return 1 || x;", types.NewInt(1)},
		{"return 1 > 2 ? \"a\" | \"b\";", types.NewStr("b")},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalOK(t, store, tt.src)
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src  string
		want types.ErrorCode
	}{
		{"return 1 / 0;", types.E_DIV},
		{"return 1 % 0;", types.E_DIV},
		{"return 1.0 / 0.0;", types.E_FLOAT},
		{"return 1 + \"x\";", types.E_TYPE},
		{"return 1 < \"x\";", types.E_TYPE},
		{"return {}[1];", types.E_RANGE},
		{"return [][\"k\"];", types.E_RANGE},
		{"return {1, 2}[5];", types.E_RANGE},
		{"return novar;", types.E_VARNF},
		{"return #0:no_such_verb();", types.E_VERBNF},
		{"return #999.name;", types.E_INVIND},
		{"return pass();", types.E_VERBNF},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalErr(t, store, tt.src)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIndexingAndSlices(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src, want string
	}{
		{"return {10, 20, 30}[2];", "20"},
		{"x = {10, 20, 30}; return x[$];", "30"},
		{"x = {10, 20, 30}; return x[^];", "10"},
		{"x = \"hello\"; return x[2..$];", `"ello"`},
		{"x = {1, 2, 3, 4}; return x[2..3];", "{2, 3}"},
		{"x = {1, 2, 3}; x[2] = 9; return x;", "{1, 9, 3}"},
		{"x = {1, {2, 3}}; x[2][1] = 9; return x;", "{1, {9, 3}}"},
		{"x = \"abc\"; x[2] = \"X\"; return x;", `"aXc"`},
		{"x = {1, 2, 3, 4}; x[2..3] = {9}; return x;", "{1, 9, 4}"},
		{"m = [\"a\" -> 1]; m[\"b\"] = 2; return m;", `["a" -> 1, "b" -> 2]`},
		{"m = [\"a\" -> 1, \"b\" -> 2]; return m[\"b\"];", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalOK(t, store, tt.src)
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLoops(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src, want string
	}{
		{"s = 0; for i in [1..10] s = s + i; endfor return s;", "55"},
		{"s = 0; for x in ({1, 2, 3}) s = s + x; endfor return s;", "6"},
		{"s = {}; for v, k in ([\"a\" -> 1, \"b\" -> 2]) s = {@s, k, v}; endfor return s;",
			`{"a", 1, "b", 2}`},
		{"s = \"\"; for c in (\"abc\") s = c + s; endfor return s;", `"cba"`},
		{"i = 0; while (i < 5) i = i + 1; endwhile return i;", "5"},
		{"s = 0; for i in [1..10] if (i == 4) break; endif s = s + i; endfor return s;", "6"},
		{"s = 0; for i in [1..5] if (i % 2) continue; endif s = s + i; endfor return s;", "6"},
		{"s = 0; for i in [1..3] for j in [1..3] if (j == 2) continue i; endif s = s + 1; endfor endfor return s;", "3"},
		{"s = 0; while outer (1) while (1) break outer; endwhile endwhile return 1;", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalOK(t, store, tt.src)
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScatter(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src, want string
	}{
		{"{a, b} = {1, 2}; return {b, a};", "{2, 1}"},
		{"{a, ?b = 9} = {1}; return {a, b};", "{1, 9}"},
		{"{a, ?b = 9} = {1, 2}; return {a, b};", "{1, 2}"},
		{"{a, @rest} = {1, 2, 3}; return rest;", "{2, 3}"},
		{"{a, @rest, z} = {1, 2, 3, 4}; return {a, rest, z};", "{1, {2, 3}, 4}"},
		{"{?a = 5, @r} = {}; return {a, r};", "{5, {}}"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalOK(t, store, tt.src)
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if code := evalErr(t, store, "{a, b} = {1}; return 0;"); code != types.E_ARGS {
		t.Errorf("short scatter: got %s", code)
	}
	if code := evalErr(t, store, "{a} = 5; return 0;"); code != types.E_TYPE {
		t.Errorf("scatter of non-list: got %s", code)
	}
}

func TestExceptions(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src, want string
	}{
		{"try return 1 / 0; except (E_DIV) return \"caught\"; endtry", `"caught"`},
		{"try return 1 / 0; except e (ANY) return e; endtry", "E_DIV"},
		{"try return 1 / 0; except (E_TYPE) return 1; except (E_DIV) return 2; endtry", "2"},
		{"x = 0; try y = 1 / 0; except (E_PERM) x = 1; finally x = x + 10; endtry", "?"},
		{"x = 0; try x = 1; finally x = x + 10; endtry return x;", "11"},
		{"x = 0; try try return 1 / 0; except (E_TYPE) x = 99; endtry except (E_DIV) x = 1; endtry return x;", "1"},
		{"return `1 / 0 ! E_DIV => 42';", "42"},
		{"return `1 / 0 ! ANY';", "E_DIV"},
		{"return `1 + 1 ! ANY => 99';", "2"},
		{"fin = 0; try for i in [1..10] if (i == 3) break; endif endfor finally fin = 1; endtry return fin;", "1"},
		{"x = {}; try try return 1/0; finally x = {@x, \"inner\"}; endtry finally x = {@x, \"outer\"}; endtry", "?"},
	}
	for _, tt := range tests {
		if tt.want == "?" {
			continue // exercised below with explicit outcomes
		}
		t.Run(tt.src, func(t *testing.T) {
			got := evalOK(t, store, tt.src)
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	// finally runs during unwinding and the error re-raises after.
	out := run(t, store, "x = 0; try y = 1 / 0; except (E_PERM) x = 1; finally x = x + 10; endtry")
	if out.Kind != OutcomeAbort || out.Err.Err.Code != types.E_DIV {
		t.Errorf("unmatched except should re-raise after finally: %v", out.Err)
	}

	// The error unwinds through both nested finallys and stays uncaught.
	out = run(t, store, "x = {}; try try return 1/0; finally x = {@x, \"inner\"}; endtry finally x = {@x, \"outer\"}; endtry")
	if out.Kind != OutcomeAbort || out.Err.Err.Code != types.E_DIV {
		t.Errorf("error should re-raise through nested finallys: %v", out.Err)
	}

	// return through a finally still runs the finally body.
	v := evalOK(t, store, `
o = create(#-1);
add_property(o, "log", {}, {player, "rw"});
try
  o.log = {@o.log, "body"};
  return o.log;
finally
  o.log = {@o.log, "finally"};
endtry
`)
	if v.String() != `{"body"}` {
		t.Errorf("return value = %s", v)
	}
}

func TestRaiseBuiltin(t *testing.T) {
	store := testWorld(t)
	got := evalOK(t, store, "try raise(E_PERM, \"nope\"); except e (E_PERM) return e; endtry")
	if got.String() != "E_PERM" {
		t.Errorf("got %s", got)
	}
	if code := evalErr(t, store, "raise(E_RANGE);"); code != types.E_RANGE {
		t.Errorf("got %s", code)
	}
}

func TestTickExhaustion(t *testing.T) {
	store := testWorld(t)
	tx := store.Begin()
	defer tx.Abort()
	m := NewVM(tx, builtins.Default(), &builtins.Context{})
	m.TickLimit = 1000
	if err := m.PushSourceFrame("while (1) endwhile", 0, 0); err != nil {
		t.Fatal(err)
	}
	out := m.Run()
	if out.Kind != OutcomeAbort || out.Err.Reason != "ticks" {
		t.Fatalf("expected tick abort, got %v (%v)", out.Kind, out.Err)
	}
	if out.Err.Err.Code != types.E_QUOTA {
		t.Errorf("tick exhaustion should carry E_QUOTA, got %s", out.Err.Err.Code)
	}

	// A zero budget aborts before any user opcode runs.
	tx2 := store.Begin()
	defer tx2.Abort()
	m2 := NewVM(tx2, builtins.Default(), &builtins.Context{})
	m2.TickLimit = 0
	if err := m2.PushSourceFrame("return 1;", 0, 0); err != nil {
		t.Fatal(err)
	}
	if out := m2.Run(); out.Kind != OutcomeAbort {
		t.Errorf("zero tick budget should abort, got %v", out.Kind)
	}
}

func TestVerbCallsAndPass(t *testing.T) {
	store := testWorld(t)

	// Build a small hierarchy with an overridden verb.
	evalOK(t, store, `
base = create(#-1);
add_property(#0, "base", base, {player, "r"});
add_verb(base, {player, "xd", "describe"}, {"this", "none", "this"});
set_verb_code(base, "describe", {"return \"a thing\";"});
child = create(base);
add_property(#0, "child", child, {player, "r"});
add_verb(child, {player, "xd", "describe"}, {"this", "none", "this"});
set_verb_code(child, "describe", {"return \"shiny \" + pass();"});
return 0;
`)

	got := evalOK(t, store, "return $child:describe();")
	if got.String() != `"shiny a thing"` {
		t.Errorf("pass chain: got %s", got)
	}

	// Inherited dispatch: a grandchild without its own verb runs the
	// child's, and pass() still climbs from the defining object.
	got = evalOK(t, store, "g = create($child); return g:describe();")
	if got.String() != `"shiny a thing"` {
		t.Errorf("inherited dispatch: got %s", got)
	}

	// verbname reflects the name called through a wildcard pattern.
	evalOK(t, store, `
o = create(#-1);
add_property(#0, "wild", o, {player, "r"});
add_verb(o, {player, "xd", "l*ook"}, {"this", "none", "this"});
set_verb_code(o, "look", {"return verb;"});
return 0;
`)
	got = evalOK(t, store, "return $wild:lo();")
	if got.String() != `"lo"` {
		t.Errorf("verb variable: got %s", got)
	}
}

func TestRecursionLimit(t *testing.T) {
	store := testWorld(t)
	evalOK(t, store, `
o = create(#-1);
add_property(#0, "looper", o, {player, "r"});
add_verb(o, {player, "xd", "spin"}, {"this", "none", "this"});
set_verb_code(o, "spin", {"return this:spin();"});
return 0;
`)
	if code := evalErr(t, store, "return $looper:spin();"); code != types.E_MAXREC {
		t.Errorf("got %s, want E_MAXREC", code)
	}
}

func TestPropertyOpsThroughVM(t *testing.T) {
	store := testWorld(t)
	got := evalOK(t, store, `
o = create(#-1);
add_property(o, "count", 0, {player, "rw"});
o.count = o.count + 5;
return {o.count, is_clear_property(o, "count"), properties(o)};
`)
	if got.String() != `{5, 0, {"count"}}` {
		t.Errorf("got %s", got)
	}

	// Dynamic property form.
	got = evalOK(t, store, `
o = create(#-1);
add_property(o, "color", "red", {player, "r"});
name = "color";
return o.(name);
`)
	if got.String() != `"red"` {
		t.Errorf("dynamic prop: got %s", got)
	}
}

func TestCreateDefaultOwnerAndInitialize(t *testing.T) {
	store := testWorld(t)

	// Scenario: create(parent) runs initialize; owner defaults to the
	// programmer.
	evalOK(t, store, `
tmpl = create(#-1);
add_property(#0, "tmpl2", tmpl, {player, "r"});
tmpl.f = 1;
add_property(tmpl, "initialize_called", 0, {player, "rw"});
add_verb(tmpl, {player, "xd", "initialize"}, {"this", "none", "this"});
set_verb_code(tmpl, "initialize", {"$tmpl2.initialize_called = 1;"});
return 0;
`)

	got := evalOK(t, store, "return $tmpl2.initialize_called;")
	if got.String() != "0" {
		t.Errorf("before create: %s", got)
	}
	got = evalOK(t, store, "create($tmpl2); return $tmpl2.initialize_called;")
	if got.String() != "1" {
		t.Errorf("after create: %s", got)
	}
	got = evalOK(t, store, "o = create(#-1); return o.owner;")
	if got.String() != "#0" {
		t.Errorf("default owner: %s", got)
	}
}

func TestFlyweights(t *testing.T) {
	store := testWorld(t)
	tests := []struct {
		src, want string
	}{
		{`f = <#0, ['color -> "red"]>; return f.color;`, `"red"`},
		{`f = <#0, ['color -> "red"]>; return typeof(f) == FLYWEIGHT;`, "1"},
		{`f = <#0>; return f.name;`, `"wizard"`}, // slot miss delegates
		{`f = <#0, [], {1, 2}>; return f;`, "<#0, {1, 2}>"},
		{`return <#0, ['a -> 1]> == <#0, ['a -> 1]>;`, "1"},
		{`return <#0, ['a -> 1]> == <#0, ['a -> 2]>;`, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalOK(t, store, tt.src)
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestForkCollection(t *testing.T) {
	store := testWorld(t)
	tx := store.Begin()
	defer tx.Abort()
	m := NewVM(tx, builtins.Default(), &builtins.Context{})
	var reqs []*ForkRequest
	m.ForkFn = func(req *ForkRequest) int64 {
		reqs = append(reqs, req)
		return int64(len(reqs)) + 100
	}
	src := `
x = "shared";
fork tid (5)
  y = x;
endfork
return tid;
`
	if err := m.PushSourceFrame(src, 0, 0); err != nil {
		t.Fatal(err)
	}
	out := m.Run()
	if out.Kind != OutcomeDone {
		t.Fatalf("outcome %v (%v)", out.Kind, out.Err)
	}
	if out.Value.String() != "101" {
		t.Errorf("parent should see the child task id, got %s", out.Value)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 fork request, got %d", len(reqs))
	}
	if reqs[0].Delay.Seconds() != 5 {
		t.Errorf("delay = %v", reqs[0].Delay)
	}
	// The child's environment snapshot carries the parent's locals.
	idx, ok := reqs[0].Prog.VarIndex("x")
	if !ok || !reqs[0].Locals[idx].Equal(types.NewStr("shared")) {
		t.Error("fork locals should snapshot the parent environment")
	}
}

func TestSuspendOutcome(t *testing.T) {
	store := testWorld(t)
	tx := store.Begin()
	m := NewVM(tx, builtins.Default(), &builtins.Context{TaskKind: "forked"})
	if err := m.PushSourceFrame("x = suspend(2); return x + 1;", 0, 0); err != nil {
		t.Fatal(err)
	}
	out := m.Run()
	if out.Kind != OutcomeSuspend || out.Delay.Seconds() != 2 {
		t.Fatalf("expected suspend(2), got %v delay %v", out.Kind, out.Delay)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	// Resume pushes the resume value as suspend()'s result.
	tx2 := store.Begin()
	out = m.Resume(tx2, types.NewInt(41))
	if out.Kind != OutcomeDone || out.Value.String() != "42" {
		t.Fatalf("resume: %v %v", out.Kind, out.Value)
	}
	tx2.Abort()
}

func TestSnapshotRestore(t *testing.T) {
	store := testWorld(t)
	tx := store.Begin()
	m := NewVM(tx, builtins.Default(), &builtins.Context{TaskKind: "forked"})
	src := `
acc = {"start"};
for i in [1..3]
  acc = {@acc, i};
  if (i == 2)
    x = suspend(1);
    acc = {@acc, x};
  endif
endfor
return acc;
`
	if err := m.PushSourceFrame(src, 0, 0); err != nil {
		t.Fatal(err)
	}
	out := m.Run()
	if out.Kind != OutcomeSuspend {
		t.Fatalf("expected suspend, got %v (%v)", out.Kind, out.Err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	image, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	tx2 := store.Begin()
	defer tx2.Abort()
	restored, err := RestoreVM(image, tx2, builtins.Default(), &builtins.Context{TaskKind: "suspended"})
	if err != nil {
		t.Fatal(err)
	}
	restored.push(types.NewStr("woke"))
	out = restored.loop()
	if out.Kind != OutcomeDone {
		t.Fatalf("restored run: %v (%v)", out.Kind, out.Err)
	}
	if out.Value.String() != `{"start", 1, 2, "woke", 3}` {
		t.Errorf("restored result = %s", out.Value)
	}
}

func TestTracebackShape(t *testing.T) {
	store := testWorld(t)
	evalOK(t, store, `
o = create(#-1);
add_property(#0, "boomer", o, {player, "r"});
add_verb(o, {player, "xd", "outer"}, {"this", "none", "this"});
set_verb_code(o, "outer", {"return this:inner();"});
add_verb(o, {player, "xd", "inner"}, {"this", "none", "this"});
set_verb_code(o, "inner", {"return 1 / 0;"});
return 0;
`)
	out := run(t, store, "$boomer:outer();")
	if out.Kind != OutcomeAbort {
		t.Fatalf("expected abort, got %v", out.Kind)
	}
	tb := strings.Join(out.Err.Traceback, "\n")
	if !strings.Contains(tb, ":inner, line 1") || !strings.Contains(tb, "... called from") {
		t.Errorf("traceback missing frames:\n%s", tb)
	}
	if !strings.Contains(tb, "(End of traceback)") {
		t.Errorf("traceback missing footer:\n%s", tb)
	}
}

func TestEvalBuiltin(t *testing.T) {
	store := testWorld(t)
	got := evalOK(t, store, `return eval("return 6 * 7;");`)
	if got.String() != "{1, 42}" {
		t.Errorf("eval: got %s", got)
	}
	got = evalOK(t, store, `return eval("return 1 +;")[1];`)
	if got.String() != "0" {
		t.Errorf("eval of bad source should report failure, got %s", got)
	}
}
