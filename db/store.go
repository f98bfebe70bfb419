package db

import (
	"sync"

	"github.com/Oliver2213/moor/types"
)

// Store is the multi-versioned object database. Every record is a
// chain of committed versions ordered newest-first by commit
// timestamp; transactions read the newest version at or below their
// snapshot and stage writes privately until commit.
type Store struct {
	mu      sync.Mutex
	records map[Key]*version
	clock   uint64
	snaps   map[uint64]int // active snapshot refcounts, for version GC
}

type version struct {
	ts      uint64
	rec     Record
	deleted bool
	prev    *version
}

// NewStore creates an empty store. Callers bootstrap a world with
// Tx.Create or a textdump import.
func NewStore() *Store {
	s := &Store{
		records: make(map[Key]*version),
		snaps:   make(map[uint64]int),
	}
	// Committed baseline: nothing allocated yet.
	s.records[maxObjectKey] = &version{ts: 0, rec: &maxObjectRecord{Max: types.ObjNothing}}
	return s
}

// Begin opens a transaction at the current committed snapshot.
func (s *Store) Begin() *Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.clock
	s.snaps[snap]++
	return &Tx{
		store:  s,
		snap:   snap,
		reads:  make(map[Key]struct{}),
		writes: make(map[Key]writeEntry),
	}
}

// readAt returns the newest version of k at or below snapshot ts.
func (s *Store) readAt(k Key, snap uint64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := s.records[k]; v != nil; v = v.prev {
		if v.ts <= snap {
			if v.deleted {
				return nil, false
			}
			return v.rec, true
		}
	}
	return nil, false
}

// release drops a snapshot reference.
func (s *Store) release(snap uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap]--
	if s.snaps[snap] <= 0 {
		delete(s.snaps, snap)
	}
}

// minSnapshot is the oldest snapshot any live transaction reads from.
// Caller holds s.mu.
func (s *Store) minSnapshot() uint64 {
	min := s.clock
	for snap := range s.snaps {
		if snap < min {
			min = snap
		}
	}
	return min
}

// commit validates a transaction's footprint and installs its writes.
// First committer wins: if any read or written key has a committed
// version newer than the snapshot, the transaction conflicts.
func (s *Store) commit(tx *Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	check := func(k Key) bool {
		head := s.records[k]
		return head == nil || head.ts <= tx.snap
	}
	for k := range tx.reads {
		if !check(k) {
			return ErrConflict
		}
	}
	for k := range tx.writes {
		if !check(k) {
			return ErrConflict
		}
	}

	s.clock++
	ts := s.clock
	min := s.minSnapshot()
	for k, w := range tx.writes {
		head := &version{ts: ts, rec: w.rec, deleted: w.deleted, prev: s.records[k]}
		trimVersions(head, min)
		s.records[k] = head
	}
	return nil
}

// trimVersions drops history no live snapshot can reach: everything
// strictly older than the newest version at or below min.
func trimVersions(head *version, min uint64) {
	for v := head; v != nil; v = v.prev {
		if v.ts <= min {
			v.prev = nil
			return
		}
	}
}

// View runs f inside a read-only throwaway transaction at the latest
// committed state. Used by checkpointing and server bookkeeping.
func (s *Store) View(f func(tx *Tx)) {
	tx := s.Begin()
	defer tx.Abort()
	f(tx)
}
