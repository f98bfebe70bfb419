package builtins

import (
	"testing"

	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

func testCtx(t *testing.T) *Context {
	t.Helper()
	store := db.NewStore()
	tx := store.Begin()
	tx.PutObject(&db.ObjectRecord{
		ID: 0, Parent: types.ObjNothing, Owner: 0, Location: types.ObjNothing,
		Flags: db.ObjFlags{Wizard: true, Programmer: true, Player: true},
	})
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	work := store.Begin()
	t.Cleanup(work.Abort)
	return &Context{Tx: work, Player: 0, Programmer: 0}
}

func call(t *testing.T, name string, ctx *Context, args ...types.Value) Result {
	t.Helper()
	r := Default()
	id, ok := r.IDFor(name)
	if !ok {
		t.Fatalf("builtin %q not registered", name)
	}
	return r.Call(id, ctx, args)
}

func TestArityChecks(t *testing.T) {
	ctx := testCtx(t)
	res := call(t, "typeof", ctx)
	if res.Flow != FlowRaise || res.Err.Code != types.E_ARGS {
		t.Errorf("typeof() should raise E_ARGS, got %+v", res)
	}
	res = call(t, "strcmp", ctx, types.NewStr("a"), types.NewStr("b"), types.NewStr("c"))
	if res.Flow != FlowRaise || res.Err.Code != types.E_ARGS {
		t.Errorf("strcmp/3 should raise E_ARGS, got %+v", res)
	}
}

func TestConversions(t *testing.T) {
	ctx := testCtx(t)
	tests := []struct {
		name string
		args []types.Value
		want string
	}{
		{"tostr", []types.Value{types.NewInt(3), types.NewStr(" apples")}, `"3 apples"`},
		{"toliteral", []types.Value{types.NewStr("x")}, `"\"x\""`},
		{"toint", []types.Value{types.NewStr("42 ")}, "42"},
		{"toint", []types.Value{types.NewFloat(3.9)}, "3"},
		{"toobj", []types.Value{types.NewStr("#7")}, "#7"},
		{"tofloat", []types.Value{types.NewInt(2)}, "2.0"},
		{"tosym", []types.Value{types.NewStr("west")}, "'west"},
		{"typeof", []types.Value{types.NewEmptyMap()}, "10"},
		{"length", []types.Value{types.NewStr("héllo")}, "5"},
	}
	for _, tt := range tests {
		res := call(t, tt.name, ctx, tt.args...)
		if res.Flow != FlowNormal {
			t.Errorf("%s: raised %s", tt.name, res.Err)
			continue
		}
		if res.Val.String() != tt.want {
			t.Errorf("%s = %s, want %s", tt.name, res.Val, tt.want)
		}
	}
}

func TestEqualIsCaseSensitive(t *testing.T) {
	ctx := testCtx(t)
	res := call(t, "equal", ctx, types.NewStr("Foo"), types.NewStr("foo"))
	if res.Val.Truthy() {
		t.Error("equal() must be case-sensitive")
	}
	res = call(t, "equal", ctx,
		types.NewList([]types.Value{types.NewStr("a")}),
		types.NewList([]types.Value{types.NewStr("a")}))
	if !res.Val.Truthy() {
		t.Error("equal() on identical lists")
	}
}

func TestListBuiltins(t *testing.T) {
	ctx := testCtx(t)
	base := types.NewList([]types.Value{types.NewInt(1), types.NewInt(2)})

	res := call(t, "listappend", ctx, base, types.NewInt(3))
	if res.Val.String() != "{1, 2, 3}" {
		t.Errorf("listappend: %s", res.Val)
	}
	res = call(t, "listinsert", ctx, base, types.NewInt(0))
	if res.Val.String() != "{0, 1, 2}" {
		t.Errorf("listinsert: %s", res.Val)
	}
	res = call(t, "setadd", ctx, base, types.NewInt(2))
	if res.Val.String() != "{1, 2}" {
		t.Errorf("setadd dup: %s", res.Val)
	}
	res = call(t, "sort", ctx, types.NewList([]types.Value{
		types.NewInt(3), types.NewInt(1), types.NewInt(2)}))
	if res.Val.String() != "{1, 2, 3}" {
		t.Errorf("sort: %s", res.Val)
	}
	res = call(t, "sort", ctx, types.NewList([]types.Value{
		types.NewInt(1), types.NewStr("x")}))
	if res.Flow != FlowRaise || res.Err.Code != types.E_TYPE {
		t.Error("sort of mixed kinds should raise E_TYPE")
	}
}

func TestStringBuiltins(t *testing.T) {
	ctx := testCtx(t)
	res := call(t, "strsub", ctx, types.NewStr("A banana"), types.NewStr("a"), types.NewStr("o"))
	if res.Val.String() != `"o bonono"` {
		t.Errorf("strsub: %s", res.Val)
	}
	res = call(t, "explode", ctx, types.NewStr("  a  b "))
	if res.Val.String() != `{"a", "b"}` {
		t.Errorf("explode: %s", res.Val)
	}
	res = call(t, "index", ctx, types.NewStr("foobar"), types.NewStr("BAR"))
	if res.Val.String() != "4" {
		t.Errorf("index: %s", res.Val)
	}
}

func TestCryptRoundTrip(t *testing.T) {
	ctx := testCtx(t)
	res := call(t, "crypt", ctx, types.NewStr("secret"))
	if res.Flow != FlowNormal {
		t.Fatalf("crypt raised %s", res.Err)
	}
	hash := res.Val.(types.StrValue)

	res = call(t, "password_verify", ctx, types.NewStr("secret"), hash)
	if !res.Val.Truthy() {
		t.Error("correct password should verify")
	}
	res = call(t, "password_verify", ctx, types.NewStr("wrong"), hash)
	if res.Val.Truthy() {
		t.Error("wrong password should not verify")
	}
}

func TestSuspendResult(t *testing.T) {
	ctx := testCtx(t)
	ctx.TaskKind = "forked"
	res := call(t, "suspend", ctx, types.NewInt(3))
	if res.Flow != FlowSuspend || res.Delay.Seconds() != 3 {
		t.Errorf("suspend(3): %+v", res)
	}
	res = call(t, "suspend", ctx, types.NewInt(-1))
	if res.Flow != FlowRaise || res.Err.Code != types.E_INVARG {
		t.Errorf("suspend(-1): %+v", res)
	}
}
