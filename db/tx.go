package db

import (
	"errors"

	"github.com/Oliver2213/moor/types"
)

// ErrConflict reports that a concurrently committed transaction
// overwrote part of this transaction's footprint. The scheduler
// retries the whole task on this error.
var ErrConflict = errors.New("db: transaction conflict")

// ErrClosed reports use of a finished transaction.
var ErrClosed = errors.New("db: transaction closed")

type writeEntry struct {
	rec     Record
	deleted bool
}

// Tx is a snapshot-isolation transaction. All object, property and
// verb operations hang off it; nothing observes uncommitted state of
// another transaction.
type Tx struct {
	store  *Store
	snap   uint64
	reads  map[Key]struct{}
	writes map[Key]writeEntry
	closed bool
}

// get reads one record, tracking the key in the read set. Misses are
// tracked too, so a concurrent insert of the same key conflicts.
func (tx *Tx) get(k Key) (Record, bool) {
	if w, ok := tx.writes[k]; ok {
		if w.deleted {
			return nil, false
		}
		return w.rec, true
	}
	tx.reads[k] = struct{}{}
	return tx.store.readAt(k, tx.snap)
}

func (tx *Tx) put(k Key, rec Record) {
	tx.writes[k] = writeEntry{rec: rec}
}

func (tx *Tx) del(k Key) {
	tx.writes[k] = writeEntry{deleted: true}
}

// Commit validates and installs this transaction's writes. On
// ErrConflict the transaction is closed and the caller re-runs its
// task from the beginning.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrClosed
	}
	err := tx.store.commit(tx)
	tx.close()
	return err
}

// Abort discards the transaction. Safe to call twice.
func (tx *Tx) Abort() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.store.release(tx.snap)
}

// Store returns the owning store, for opening follow-up transactions
// after a suspend commit.
func (tx *Tx) Store() *Store { return tx.store }

// --- typed record access -------------------------------------------------

// object reads an object record for reading only.
func (tx *Tx) object(id types.ObjID) (*ObjectRecord, bool) {
	if id < 0 {
		return nil, false
	}
	rec, ok := tx.get(objectKey(id))
	if !ok {
		return nil, false
	}
	return rec.(*ObjectRecord), true
}

// objectForWrite clones the record so the committed version stays
// immutable. The clone is staged immediately; further mutation before
// commit is safe.
func (tx *Tx) objectForWrite(id types.ObjID) (*ObjectRecord, bool) {
	rec, ok := tx.object(id)
	if !ok {
		return nil, false
	}
	c := rec.clone()
	tx.put(objectKey(id), c)
	return c, true
}

func (tx *Tx) propDef(id types.ObjID, name string) (*PropDefRecord, bool) {
	rec, ok := tx.get(propDefKey(id, name))
	if !ok {
		return nil, false
	}
	return rec.(*PropDefRecord), true
}

func (tx *Tx) propSlot(id types.ObjID, name string) (*PropSlotRecord, bool) {
	rec, ok := tx.get(propSlotKey(id, name))
	if !ok {
		return nil, false
	}
	return rec.(*PropSlotRecord), true
}

func (tx *Tx) verb(id types.ObjID, index int32) (*VerbRecord, bool) {
	rec, ok := tx.get(verbKey(id, index))
	if !ok {
		return nil, false
	}
	return rec.(*VerbRecord), true
}

// MaxObject reports the largest object number ever created.
func (tx *Tx) MaxObject() types.ObjID {
	rec, ok := tx.get(maxObjectKey)
	if !ok {
		return types.ObjNothing
	}
	return rec.(*maxObjectRecord).Max
}

// allocObject bumps the high-water mark and returns a fresh number.
func (tx *Tx) allocObject() types.ObjID {
	max := tx.MaxObject()
	next := max + 1
	tx.put(maxObjectKey, &maxObjectRecord{Max: next})
	return next
}

// PutObject installs a fully formed object record, bypassing
// permission checks and bumping the allocation mark. For importers
// and world bootstrap; inverses are the caller's responsibility.
func (tx *Tx) PutObject(rec *ObjectRecord) {
	tx.put(objectKey(rec.ID), rec)
	if rec.ID > tx.MaxObject() {
		tx.put(maxObjectKey, &maxObjectRecord{Max: rec.ID})
	}
}

// Valid reports whether id names an existing object.
func (tx *Tx) Valid(id types.ObjID) bool {
	_, ok := tx.object(id)
	return ok
}
