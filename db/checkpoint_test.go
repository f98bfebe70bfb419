package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oliver2213/moor/types"
)

func TestCheckpointRestore(t *testing.T) {
	s := buildDumpWorld(t)
	dir := filepath.Join(t.TempDir(), "ckpt")

	tasks := []TaskImage{{ID: 4, Player: 0, WakeAt: 99, Data: []byte{0x01, 0x02}}}
	require.NoError(t, s.Checkpoint(dir, tasks))

	s2, tasks2, err := Restore(dir)
	require.NoError(t, err)
	assert.Equal(t, tasks, tasks2)

	wiz := Perms{Who: 0}
	t1 := s.Begin()
	defer t1.Abort()
	t2 := s2.Begin()
	defer t2.Abort()

	assert.Equal(t, t1.MaxObject(), t2.MaxObject())
	for _, id := range t1.AllObjects() {
		require.True(t, t2.Valid(id), "#%d missing", id)
		n1, _ := t1.Name(id)
		n2, _ := t2.Name(id)
		assert.Equal(t, n1, n2)
		props, _ := t1.Properties(wiz, id)
		for _, name := range props {
			v1, c1 := t1.GetProperty(wiz, id, name)
			v2, c2 := t2.GetProperty(wiz, id, name)
			require.Equal(t, c1, c2)
			assert.True(t, v1.Equal(v2), "#%d.%s", id, name)
		}
		verbs1, _ := t1.Verbs(wiz, id)
		verbs2, _ := t2.Verbs(wiz, id)
		assert.Equal(t, verbs1, verbs2)
	}

	// The next checkpoint replaces the previous contents.
	require.NoError(t, s2.Checkpoint(dir, nil))
	_, tasks3, err := Restore(dir)
	require.NoError(t, err)
	assert.Empty(t, tasks3)
}

func TestValueWireRoundTrip(t *testing.T) {
	values := []types.Value{
		types.NewInt(-5),
		types.NewFloat(2.5),
		types.NewStr("hello\nthere"),
		types.NewSym("west"),
		types.NewObj(42),
		types.NewErrMsg(types.E_PERM, "custom message"),
		types.NewBool(true),
		types.None(),
		types.NewList([]types.Value{types.NewInt(1), types.NewStr("x")}),
		types.NewEmptyMap().Set(types.NewSym("k"), types.NewList(nil)),
		types.NewFlyweight(3,
			types.NewEmptyMap().Set(types.NewSym("a"), types.NewInt(1)),
			types.NewList([]types.Value{types.NewInt(2)})),
	}
	for _, v := range values {
		data, err := MarshalValue(v)
		require.NoError(t, err, "%s", v)
		back, err := UnmarshalValue(data)
		require.NoError(t, err, "%s", v)
		assert.True(t, v.Equal(back), "%s -> %s", v, back)

		// Canonical mode: same value, same bytes.
		data2, err := MarshalValue(back)
		require.NoError(t, err)
		assert.Equal(t, data, data2)
	}
}
