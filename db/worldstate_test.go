package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oliver2213/moor/types"
)

func TestParentChildInverses(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	parent, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	child, _ := tx.Create(wiz, parent, types.ObjNothing)

	kids, code := tx.Children(parent)
	require.Equal(t, types.E_NONE, code)
	assert.Equal(t, []types.ObjID{child}, kids)

	p, _ := tx.Parent(child)
	assert.Equal(t, parent, p)
}

func TestMoveMaintainsContents(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	room, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	thing, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)

	require.Equal(t, types.E_NONE, tx.Move(wiz, thing, room))
	contents, _ := tx.Contents(room)
	assert.Equal(t, []types.ObjID{thing}, contents)
	loc, _ := tx.Location(thing)
	assert.Equal(t, room, loc)

	// Moving a container into its own contents is recursive.
	box, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.Equal(t, types.E_NONE, tx.Move(wiz, box, room))
	assert.Equal(t, types.E_RECMOVE, tx.Move(wiz, room, box))
	assert.Equal(t, types.E_RECMOVE, tx.Move(wiz, room, room))

	require.Equal(t, types.E_NONE, tx.Move(wiz, thing, types.ObjNothing))
	contents, _ = tx.Contents(room)
	assert.Equal(t, []types.ObjID{box}, contents)
}

func TestChparentCycleFails(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	a, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	b, _ := tx.Create(wiz, a, types.ObjNothing)
	c, _ := tx.Create(wiz, b, types.ObjNothing)

	assert.Equal(t, types.E_RECMOVE, tx.ChParent(wiz, a, c))
	assert.Equal(t, types.E_RECMOVE, tx.ChParent(wiz, a, a))
}

// The spec's chparent scenario: properties added to a new ancestor
// appear on the whole subtree; reparenting away removes them again.
func TestPropertyInheritanceAfterChparent(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	e, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	m, _ := tx.Create(wiz, e, types.ObjNothing)
	bObj, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	cObj, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)

	require.Equal(t, types.E_NONE, tx.AddProperty(wiz, e, "e", types.NewStr("e"), wiz.Who, PropPerms{Read: true}))
	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, bObj, "b", types.NewList([]types.Value{types.NewStr("b")}), wiz.Who, PropPerms{Read: true}))

	require.Equal(t, types.E_NONE, tx.ChParent(wiz, e, bObj))

	for _, obj := range []types.ObjID{e, m} {
		v, code := tx.GetProperty(wiz, obj, "b")
		require.Equal(t, types.E_NONE, code, "#%d.b", obj)
		assert.True(t, v.Equal(types.NewList([]types.Value{types.NewStr("b")})))
	}

	owner, perms, code := tx.PropertyInfo(wiz, e, "b")
	require.Equal(t, types.E_NONE, code)
	assert.Equal(t, wiz.Who, owner)
	assert.Equal(t, "r", perms.String())

	// Reparent under an object without b: reads now fail E_PROPNF.
	require.Equal(t, types.E_NONE, tx.ChParent(wiz, e, cObj))
	for _, obj := range []types.ObjID{e, m} {
		_, code := tx.GetProperty(wiz, obj, "b")
		assert.Equal(t, types.E_PROPNF, code, "#%d.b", obj)
	}

	// The subtree's own property survived the moves.
	v, code := tx.GetProperty(wiz, m, "e")
	require.Equal(t, types.E_NONE, code)
	assert.True(t, v.Equal(types.NewStr("e")))
}

func TestChparentCollisionFailsAtomically(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	a, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	child, _ := tx.Create(wiz, a, types.ObjNothing)
	newParent, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)

	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, child, "clash", types.NewInt(1), wiz.Who, PropPerms{}))
	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, newParent, "clash", types.NewInt(2), wiz.Who, PropPerms{}))

	assert.Equal(t, types.E_INVARG, tx.ChParent(wiz, a, newParent))

	// No mutation: a still parents to #-1 and child keeps its value.
	p, _ := tx.Parent(a)
	assert.Equal(t, types.ObjNothing, p)
	v, code := tx.GetProperty(wiz, child, "clash")
	require.Equal(t, types.E_NONE, code)
	assert.True(t, v.Equal(types.NewInt(1)))
}

func TestAddPropertyDuplicateInChain(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	parent, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	child, _ := tx.Create(wiz, parent, types.ObjNothing)

	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, parent, "size", types.NewInt(1), wiz.Who, PropPerms{}))
	// Already inherited.
	assert.Equal(t, types.E_INVARG,
		tx.AddProperty(wiz, child, "size", types.NewInt(2), wiz.Who, PropPerms{}))
	// Defined below.
	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, child, "color", types.NewStr("red"), wiz.Who, PropPerms{}))
	assert.Equal(t, types.E_INVARG,
		tx.AddProperty(wiz, parent, "color", types.NewStr("blue"), wiz.Who, PropPerms{}))
	// Builtin names are off limits.
	assert.Equal(t, types.E_INVARG,
		tx.AddProperty(wiz, parent, "name", types.NewStr("x"), wiz.Who, PropPerms{}))
}

func TestClearPropertyFallsThrough(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	parent, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	child, _ := tx.Create(wiz, parent, types.ObjNothing)

	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, parent, "desc", types.NewStr("plain"), wiz.Who, PropPerms{Read: true, Write: true}))

	// Fresh child slot is clear: reads the definer's value.
	clear, code := tx.IsClearProperty(wiz, child, "desc")
	require.Equal(t, types.E_NONE, code)
	assert.True(t, clear)
	v, _ := tx.GetProperty(wiz, child, "desc")
	assert.True(t, v.Equal(types.NewStr("plain")))

	// Setting makes it independent.
	require.Equal(t, types.E_NONE, tx.SetProperty(wiz, child, "desc", types.NewStr("fancy")))
	clear, _ = tx.IsClearProperty(wiz, child, "desc")
	assert.False(t, clear)
	require.Equal(t, types.E_NONE, tx.SetProperty(wiz, parent, "desc", types.NewStr("other")))
	v, _ = tx.GetProperty(wiz, child, "desc")
	assert.True(t, v.Equal(types.NewStr("fancy")))

	// Clearing re-links it to the definer.
	require.Equal(t, types.E_NONE, tx.ClearProperty(wiz, child, "desc"))
	v, _ = tx.GetProperty(wiz, child, "desc")
	assert.True(t, v.Equal(types.NewStr("other")))

	// The definer's slot cannot be cleared.
	assert.Equal(t, types.E_INVARG, tx.ClearProperty(wiz, parent, "desc"))
}

func TestDeletePropertyRemovesDescendantSlots(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	a, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	b, _ := tx.Create(wiz, a, types.ObjNothing)
	c, _ := tx.Create(wiz, b, types.ObjNothing)

	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, a, "p", types.NewInt(1), wiz.Who, PropPerms{Read: true, Write: true}))
	require.Equal(t, types.E_NONE, tx.SetProperty(wiz, c, "p", types.NewInt(3)))

	require.Equal(t, types.E_NONE, tx.DeleteProperty(wiz, a, "p"))
	for _, obj := range []types.ObjID{a, b, c} {
		_, code := tx.GetProperty(wiz, obj, "p")
		assert.Equal(t, types.E_PROPNF, code, "#%d.p", obj)
	}
	// Deleting on a non-definer reports E_PROPNF.
	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, a, "q", types.NewInt(1), wiz.Who, PropPerms{}))
	assert.Equal(t, types.E_PROPNF, tx.DeleteProperty(wiz, b, "q"))
}

func TestCreatePermissions(t *testing.T) {
	s, wiz, prog := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	tmpl, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)

	// Programmers may only create under fertile (or owned) parents.
	_, code := tx.Create(prog, tmpl, types.ObjNothing)
	assert.Equal(t, types.E_PERM, code)

	require.Equal(t, types.E_NONE, tx.SetFlag(wiz, tmpl, "f", true))
	id, code := tx.Create(prog, tmpl, types.ObjNothing)
	require.Equal(t, types.E_NONE, code)

	// Default owner is the creator; f defaults off.
	owner, _ := tx.Owner(id)
	assert.Equal(t, prog.Who, owner)
	flags, _ := tx.Flags(id)
	assert.False(t, flags.Fertile)

	// Only wizards may give objects away at creation.
	_, code = tx.Create(prog, tmpl, wiz.Who)
	assert.Equal(t, types.E_PERM, code)
	id2, code := tx.Create(wiz, tmpl, prog.Who)
	require.Equal(t, types.E_NONE, code)
	owner, _ = tx.Owner(id2)
	assert.Equal(t, prog.Who, owner)
}

func TestRecycle(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	grandparent, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	victim, _ := tx.Create(wiz, grandparent, types.ObjNothing)
	child, _ := tx.Create(wiz, victim, types.ObjNothing)
	item, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.Equal(t, types.E_NONE, tx.Move(wiz, item, victim))

	require.Equal(t, types.E_NONE, tx.Recycle(wiz, victim))

	assert.False(t, tx.Valid(victim))
	p, _ := tx.Parent(child)
	assert.Equal(t, grandparent, p, "children reparent to the victim's parent")
	kids, _ := tx.Children(grandparent)
	assert.Equal(t, []types.ObjID{child}, kids)
	loc, _ := tx.Location(item)
	assert.Equal(t, types.ObjNothing, loc, "contents move to $nothing")
}

func TestVerbCRUD(t *testing.T) {
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()
	defer tx.Abort()

	obj, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	idx, code := tx.AddVerb(wiz, obj, "l*ook examine", wiz.Who, VerbPerms{Read: true, Execute: true},
		VerbArgs{Dobj: ArgThis, Prep: PrepNone, Iobj: ArgNone})
	require.Equal(t, types.E_NONE, code)

	// Pattern uniqueness within one object.
	_, code = tx.AddVerb(wiz, obj, "examine", wiz.Who, VerbPerms{}, VerbArgs{})
	assert.Equal(t, types.E_INVARG, code)

	require.Equal(t, types.E_NONE, tx.SetVerbCode(wiz, obj, "look", "return 1;"))
	lines, code := tx.VerbCode(wiz, obj, "examine")
	require.Equal(t, types.E_NONE, code)
	assert.Equal(t, []string{"return 1;"}, lines)

	// Wildcard resolution: "l", "lo", "look" all match "l*ook".
	for _, name := range []string{"l", "lo", "look"} {
		h, v, ok := tx.ResolveVerb(obj, name)
		require.True(t, ok, "resolve %q", name)
		assert.Equal(t, obj, h.Obj)
		assert.Equal(t, idx, h.Index)
		assert.Equal(t, "l*ook", v.FirstName())
	}
	_, _, ok := tx.ResolveVerb(obj, "lookx")
	assert.False(t, ok)

	// Inherited resolution.
	child, _ := tx.Create(wiz, obj, types.ObjNothing)
	h, _, ok := tx.ResolveVerb(child, "look")
	require.True(t, ok)
	assert.Equal(t, obj, h.Obj)

	require.Equal(t, types.E_NONE, tx.DeleteVerb(wiz, obj, "look"))
	_, _, ok = tx.ResolveVerb(child, "look")
	assert.False(t, ok)
}

func TestVerbPatternMatch(t *testing.T) {
	tests := []struct {
		pat, name string
		want      bool
	}{
		{"look", "look", true},
		{"look", "Look", true},
		{"look", "loo", false},
		{"l*ook", "l", true},
		{"l*ook", "loo", true},
		{"l*ook", "look", true},
		{"l*ook", "looks", false},
		{"*", "anything", true},
		{"foo*bar", "foo", true},
		{"foo*bar", "foob", true},
		{"foo*bar", "foobar", true},
		{"foo*bar", "foobaz", false},
		{"foo*bar", "fo", false},
	}
	for _, tt := range tests {
		if got := verbPatternMatch(tt.pat, tt.name); got != tt.want {
			t.Errorf("verbPatternMatch(%q, %q) = %v, want %v", tt.pat, tt.name, got, tt.want)
		}
	}
}
