package db

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oliver2213/moor/types"
)

func buildDumpWorld(t *testing.T) *Store {
	t.Helper()
	s, wiz, _ := bootstrap(t)
	tx := s.Begin()

	room, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.Equal(t, types.E_NONE, tx.SetName(wiz, room, "The Lobby"))
	require.Equal(t, types.E_NONE, tx.SetFlag(wiz, room, "f", true))

	thing, _ := tx.Create(wiz, room, types.ObjNothing)
	require.Equal(t, types.E_NONE, tx.SetName(wiz, thing, "brass lantern"))
	require.Equal(t, types.E_NONE, tx.Move(wiz, thing, room))

	require.Equal(t, types.E_NONE, tx.AddProperty(wiz, room, "description",
		types.NewStr("A drab lobby.\nMind the gap."), wiz.Who, PropPerms{Read: true}))
	require.Equal(t, types.E_NONE, tx.AddProperty(wiz, room, "exits",
		types.NewList([]types.Value{types.NewObj(room), types.NewSym("north")}), wiz.Who, PropPerms{Read: true, Write: true}))
	require.Equal(t, types.E_NONE, tx.AddProperty(wiz, room, "stats",
		types.NewEmptyMap().Set(types.NewStr("visits"), types.NewInt(3)), wiz.Who, PropPerms{}))
	require.Equal(t, types.E_NONE, tx.SetProperty(wiz, thing, "description", types.NewStr("Shiny.")))

	_, code := tx.AddVerb(wiz, room, "look l*ook", wiz.Who,
		VerbPerms{Read: true, Execute: true},
		VerbArgs{Dobj: ArgThis, Prep: PrepNone, Iobj: ArgNone})
	require.Equal(t, types.E_NONE, code)
	require.Equal(t, types.E_NONE, tx.SetVerbCode(wiz, room, "look",
		"player:tell(this.description);\nreturn 1;"))

	require.NoError(t, tx.Commit())
	return s
}

func TestDumpRoundTrip(t *testing.T) {
	s := buildDumpWorld(t)

	tasks := []TaskImage{{ID: 9, Player: 0, WakeAt: 12345, Data: []byte{0xA1, 0x61, 0x78, 0x01}}}
	var buf bytes.Buffer
	require.NoError(t, s.WriteDump(&buf, tasks))

	d, err := ReadDump(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	s2 := NewStore()
	require.NoError(t, s2.Load(d))

	wiz := Perms{Who: 0}
	t1 := s.Begin()
	defer t1.Abort()
	t2 := s2.Begin()
	defer t2.Abort()

	assert.Equal(t, t1.MaxObject(), t2.MaxObject())
	assert.Equal(t, t1.Players(), t2.Players())

	for _, id := range t1.AllObjects() {
		require.True(t, t2.Valid(id), "#%d missing after round trip", id)
		n1, _ := t1.Name(id)
		n2, _ := t2.Name(id)
		assert.Equal(t, n1, n2, "#%d name", id)
		p1, _ := t1.Parent(id)
		p2, _ := t2.Parent(id)
		assert.Equal(t, p1, p2, "#%d parent", id)
		l1, _ := t1.Location(id)
		l2, _ := t2.Location(id)
		assert.Equal(t, l1, l2, "#%d location", id)
		c1, _ := t1.Contents(id)
		c2, _ := t2.Contents(id)
		assert.Equal(t, c1, c2, "#%d contents", id)
		f1, _ := t1.Flags(id)
		f2, _ := t2.Flags(id)
		assert.Equal(t, f1, f2, "#%d flags", id)

		props1, _ := t1.Properties(wiz, id)
		props2, _ := t2.Properties(wiz, id)
		assert.Equal(t, props1, props2, "#%d properties", id)
		for _, name := range props1 {
			v1, code1 := t1.GetProperty(wiz, id, name)
			v2, code2 := t2.GetProperty(wiz, id, name)
			require.Equal(t, code1, code2)
			assert.True(t, v1.Equal(v2), "#%d.%s: %s vs %s", id, name, v1, v2)
		}

		verbs1, _ := t1.Verbs(wiz, id)
		verbs2, _ := t2.Verbs(wiz, id)
		assert.Equal(t, verbs1, verbs2, "#%d verbs", id)
		for _, names := range verbs1 {
			first := names
			code1, c1 := t1.VerbCode(wiz, id, firstWord(first))
			code2, c2 := t2.VerbCode(wiz, id, firstWord(first))
			require.Equal(t, c1, c2)
			assert.Equal(t, code1, code2, "#%d:%s code", id, names)
		}
	}

	// Clear slots stay clear through the round trip.
	lantern := types.ObjID(3)
	clear1, _ := t1.IsClearProperty(wiz, lantern, "exits")
	clear2, _ := t2.IsClearProperty(wiz, lantern, "exits")
	assert.True(t, clear1)
	assert.Equal(t, clear1, clear2)

	assert.Equal(t, tasks, d.Tasks)

	// Determinism: dumping the reloaded store reproduces the bytes.
	var buf2 bytes.Buffer
	require.NoError(t, s2.WriteDump(&buf2, tasks))
	assert.Equal(t, buf.String(), buf2.String())
}

func firstWord(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i]
		}
	}
	return s
}
