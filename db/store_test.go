package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oliver2213/moor/types"
)

// bootstrap creates a wizard #0 so tests have a principal with full
// rights, plus a plain programmer #1.
func bootstrap(t *testing.T) (*Store, Perms, Perms) {
	t.Helper()
	s := NewStore()
	tx := s.Begin()
	tx.PutObject(&ObjectRecord{
		ID: 0, Parent: types.ObjNothing, Owner: 0, Location: types.ObjNothing,
		Name:  "wizard",
		Flags: ObjFlags{Wizard: true, Programmer: true, Player: true},
	})
	tx.PutObject(&ObjectRecord{
		ID: 1, Parent: types.ObjNothing, Owner: 1, Location: types.ObjNothing,
		Name:  "programmer",
		Flags: ObjFlags{Programmer: true, Player: true},
	})
	require.NoError(t, tx.Commit())
	return s, Perms{Who: 0}, Perms{Who: 1}
}

func TestSnapshotIsolation(t *testing.T) {
	s, wiz, _ := bootstrap(t)

	tx1 := s.Begin()
	id, code := tx1.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.Equal(t, types.E_NONE, code)
	require.Equal(t, types.E_NONE, tx1.SetName(wiz, id, "widget"))

	// A concurrent transaction must not see uncommitted state.
	tx2 := s.Begin()
	assert.False(t, tx2.Valid(id), "uncommitted create leaked")
	tx2.Abort()

	require.NoError(t, tx1.Commit())

	// A transaction begun after the commit sees the committed state.
	tx3 := s.Begin()
	assert.True(t, tx3.Valid(id))
	name, code := tx3.Name(id)
	require.Equal(t, types.E_NONE, code)
	assert.Equal(t, "widget", name)
	tx3.Abort()
}

func TestFirstCommitterWins(t *testing.T) {
	s, wiz, _ := bootstrap(t)

	tx := s.Begin()
	id, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.Equal(t, types.E_NONE,
		tx.AddProperty(wiz, id, "balance", types.NewInt(100), wiz.Who, PropPerms{Read: true, Write: true}))
	require.NoError(t, tx.Commit())

	// Two transactions read the same balance and write back.
	t1 := s.Begin()
	t2 := s.Begin()
	v1, code := t1.GetProperty(wiz, id, "balance")
	require.Equal(t, types.E_NONE, code)
	v2, code := t2.GetProperty(wiz, id, "balance")
	require.Equal(t, types.E_NONE, code)

	n1 := v1.(types.IntValue).Val + 10
	n2 := v2.(types.IntValue).Val + 10
	require.Equal(t, types.E_NONE, t1.SetProperty(wiz, id, "balance", types.NewInt(n1)))
	require.Equal(t, types.E_NONE, t2.SetProperty(wiz, id, "balance", types.NewInt(n2)))

	require.NoError(t, t1.Commit())
	assert.ErrorIs(t, t2.Commit(), ErrConflict, "second committer must lose")

	check := s.Begin()
	v, _ := check.GetProperty(wiz, id, "balance")
	assert.Equal(t, int64(110), v.(types.IntValue).Val)
	check.Abort()
}

func TestReadOnlyConflict(t *testing.T) {
	s, wiz, _ := bootstrap(t)

	tx := s.Begin()
	id, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.NoError(t, tx.Commit())

	// Reader whose read set is overwritten conflicts even without a
	// competing write to the same value it wrote.
	reader := s.Begin()
	_, code := reader.Name(id)
	require.Equal(t, types.E_NONE, code)
	other, _ := reader.Create(wiz, types.ObjNothing, types.ObjNothing)
	_ = other

	writer := s.Begin()
	require.Equal(t, types.E_NONE, writer.SetName(wiz, id, "renamed"))
	require.NoError(t, writer.Commit())

	assert.ErrorIs(t, reader.Commit(), ErrConflict)
}

func TestAbortDiscardsEverything(t *testing.T) {
	s, wiz, _ := bootstrap(t)

	tx := s.Begin()
	id, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	tx.Abort()

	check := s.Begin()
	defer check.Abort()
	assert.False(t, check.Valid(id))
	// The object number itself is not reused only if the allocation
	// committed; an aborted create leaves max_object untouched.
	assert.Equal(t, types.ObjID(1), check.MaxObject())
}

func TestMaxObjectMonotonic(t *testing.T) {
	s, wiz, _ := bootstrap(t)

	tx := s.Begin()
	a, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	b, _ := tx.Create(wiz, types.ObjNothing, types.ObjNothing)
	require.NoError(t, tx.Commit())
	assert.Equal(t, a+1, b)

	tx2 := s.Begin()
	require.Equal(t, types.E_NONE, tx2.Recycle(wiz, b))
	require.NoError(t, tx2.Commit())

	tx3 := s.Begin()
	defer tx3.Abort()
	// Recycled numbers stay allocated: max_object is a high-water mark.
	assert.Equal(t, b, tx3.MaxObject())
	assert.False(t, tx3.Valid(b))
}
