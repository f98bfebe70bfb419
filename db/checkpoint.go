package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Oliver2213/moor/types"
)

// Checkpoint persistence: committed state goes into LevelDB as CBOR
// records under prefixed keys, one batch per checkpoint so a restore
// never sees half a world.
//
//	o/<obj>          object record
//	d/<obj>/<name>   property definition
//	s/<obj>/<name>   set property slot
//	v/<obj>/<idx>    verb record
//	t/<taskid>       queued task image
//	m/max            allocation high-water mark

type ckptObject struct {
	ID        int64          `cbor:"id"`
	Parent    int64          `cbor:"pa"`
	Owner     int64          `cbor:"ow"`
	Location  int64          `cbor:"lo"`
	Name      string         `cbor:"nm"`
	Flags     int            `cbor:"fl"`
	PropOrder []string       `cbor:"po,omitempty"`
	VerbOrder []int32        `cbor:"vo,omitempty"`
	NextVerb  int32          `cbor:"nv"`
}

type ckptPropDef struct {
	Name  string `cbor:"nm"`
	Owner int64  `cbor:"ow"`
	Perms int    `cbor:"pm"`
}

type ckptPropSlot struct {
	Value []byte `cbor:"v"`
	Owner int64  `cbor:"ow"`
}

type ckptVerb struct {
	Names      string `cbor:"nm"`
	Owner      int64  `cbor:"ow"`
	Perms      int    `cbor:"pm"`
	Dobj       int    `cbor:"do"`
	Prep       int    `cbor:"pr"`
	Iobj       int    `cbor:"io"`
	Source     string `cbor:"src"`
	Generation int64  `cbor:"gen"`
}

type ckptTask struct {
	ID     int64  `cbor:"id"`
	Player int64  `cbor:"pl"`
	WakeAt int64  `cbor:"wk"`
	Data   []byte `cbor:"d"`
}

// Checkpoint writes the committed state and the given task images
// into the LevelDB at path. Prior contents are replaced.
func (s *Store) Checkpoint(path string, tasks []TaskImage) error {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return fmt.Errorf("checkpoint open: %w", err)
	}
	defer ldb.Close()

	batch := new(leveldb.Batch)

	// Clear previous checkpoint.
	iter := ldb.NewIterator(&util.Range{}, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("checkpoint scan: %w", err)
	}

	var encodeErr error
	put := func(key string, v interface{}) {
		if encodeErr != nil {
			return
		}
		data, err := cborEnc.Marshal(v)
		if err != nil {
			encodeErr = err
			return
		}
		batch.Put([]byte(key), data)
	}

	s.View(func(tx *Tx) {
		put("m/max", int64(tx.MaxObject()))
		for _, id := range tx.AllObjects() {
			o, _ := tx.object(id)
			put(fmt.Sprintf("o/%d", int(id)), ckptObject{
				ID:        int64(o.ID),
				Parent:    int64(o.Parent),
				Owner:     int64(o.Owner),
				Location:  int64(o.Location),
				Name:      o.Name,
				Flags:     flagsToInt(o.Flags),
				PropOrder: o.PropOrder,
				VerbOrder: o.VerbOrder,
				NextVerb:  o.NextVerb,
			})
			for _, name := range o.PropOrder {
				if def, ok := tx.propDef(id, name); ok {
					put(fmt.Sprintf("d/%d/%s", int(id), name), ckptPropDef{
						Name:  def.Name,
						Owner: int64(def.Owner),
						Perms: propPermsToInt(def.Perms),
					})
				}
			}
			for _, name := range tx.allPropNames(id) {
				if slot, ok := tx.propSlot(id, name); ok {
					data, err := MarshalValue(slot.Value)
					if err != nil {
						encodeErr = err
						return
					}
					put(fmt.Sprintf("s/%d/%s", int(id), name), ckptPropSlot{
						Value: data,
						Owner: int64(slot.Owner),
					})
				}
			}
			for _, idx := range o.VerbOrder {
				if v, ok := tx.verb(id, idx); ok {
					put(fmt.Sprintf("v/%d/%d", int(id), idx), ckptVerb{
						Names:      v.Names,
						Owner:      int64(v.Owner),
						Perms:      verbPermsToInt(v.Perms),
						Dobj:       int(v.Args.Dobj),
						Prep:       int(v.Args.Prep),
						Iobj:       int(v.Args.Iobj),
						Source:     v.Source,
						Generation: v.Generation,
					})
				}
			}
		}
	})
	if encodeErr != nil {
		return fmt.Errorf("checkpoint encode: %w", encodeErr)
	}

	for _, t := range tasks {
		data, err := cborEnc.Marshal(ckptTask{
			ID: t.ID, Player: int64(t.Player), WakeAt: t.WakeAt, Data: t.Data,
		})
		if err != nil {
			return fmt.Errorf("checkpoint task encode: %w", err)
		}
		batch.Put([]byte(fmt.Sprintf("t/%d", t.ID)), data)
	}

	if err := ldb.Write(batch, nil); err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	return nil
}

// Restore loads a checkpoint into a fresh store and returns it with
// the queued task images.
func Restore(path string) (*Store, []TaskImage, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("restore open: %w", err)
	}
	defer ldb.Close()

	store := NewStore()
	tx := store.Begin()
	defer tx.Abort()

	var tasks []TaskImage
	iter := ldb.NewIterator(&util.Range{}, nil)
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())
		data := iter.Value()
		switch {
		case key == "m/max":
			var max int64
			if err := cbor.Unmarshal(data, &max); err != nil {
				return nil, nil, fmt.Errorf("restore max: %w", err)
			}
			tx.put(maxObjectKey, &maxObjectRecord{Max: types.ObjID(max)})
		case strings.HasPrefix(key, "o/"):
			var o ckptObject
			if err := cbor.Unmarshal(data, &o); err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", key, err)
			}
			tx.put(objectKey(types.ObjID(o.ID)), &ObjectRecord{
				ID:        types.ObjID(o.ID),
				Parent:    types.ObjID(o.Parent),
				Owner:     types.ObjID(o.Owner),
				Location:  types.ObjID(o.Location),
				Name:      o.Name,
				Flags:     flagsFromInt(o.Flags),
				PropOrder: o.PropOrder,
				VerbOrder: o.VerbOrder,
				NextVerb:  o.NextVerb,
			})
		case strings.HasPrefix(key, "d/"):
			obj, name, err := splitObjNameKey(key)
			if err != nil {
				return nil, nil, err
			}
			var d ckptPropDef
			if err := cbor.Unmarshal(data, &d); err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", key, err)
			}
			tx.put(propDefKey(obj, name), &PropDefRecord{
				Name:  d.Name,
				Owner: types.ObjID(d.Owner),
				Perms: propPermsFromInt(d.Perms),
			})
		case strings.HasPrefix(key, "s/"):
			obj, name, err := splitObjNameKey(key)
			if err != nil {
				return nil, nil, err
			}
			var sl ckptPropSlot
			if err := cbor.Unmarshal(data, &sl); err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", key, err)
			}
			val, err := UnmarshalValue(sl.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", key, err)
			}
			tx.put(propSlotKey(obj, name), &PropSlotRecord{
				Value: val,
				Owner: types.ObjID(sl.Owner),
			})
		case strings.HasPrefix(key, "v/"):
			parts := strings.SplitN(key[2:], "/", 2)
			if len(parts) != 2 {
				return nil, nil, fmt.Errorf("restore bad key %q", key)
			}
			objN, err1 := strconv.ParseInt(parts[0], 10, 64)
			idxN, err2 := strconv.ParseInt(parts[1], 10, 32)
			if err1 != nil || err2 != nil {
				return nil, nil, fmt.Errorf("restore bad key %q", key)
			}
			var v ckptVerb
			if err := cbor.Unmarshal(data, &v); err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", key, err)
			}
			tx.put(verbKey(types.ObjID(objN), int32(idxN)), &VerbRecord{
				Names:      v.Names,
				Owner:      types.ObjID(v.Owner),
				Perms:      verbPermsFromInt(v.Perms),
				Args:       VerbArgs{Dobj: ArgSpec(v.Dobj), Prep: PrepSpec(v.Prep), Iobj: ArgSpec(v.Iobj)},
				Source:     v.Source,
				Generation: v.Generation,
			})
		case strings.HasPrefix(key, "t/"):
			var t ckptTask
			if err := cbor.Unmarshal(data, &t); err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", key, err)
			}
			tasks = append(tasks, TaskImage{
				ID: t.ID, Player: types.ObjID(t.Player), WakeAt: t.WakeAt, Data: t.Data,
			})
		}
	}
	if err := iter.Error(); err != nil {
		return nil, nil, fmt.Errorf("restore scan: %w", err)
	}

	// Children and Contents are not stored; rebuild them from Parent
	// and Location.
	for _, id := range tx.AllObjects() {
		o, _ := tx.object(id)
		if po, ok := tx.objectForWrite(o.Parent); ok {
			po.Children = insertSorted(po.Children, id)
		}
		if lo, ok := tx.objectForWrite(o.Location); ok {
			lo.Contents = insertSorted(lo.Contents, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("restore commit: %w", err)
	}
	return store, tasks, nil
}

func splitObjNameKey(key string) (types.ObjID, string, error) {
	parts := strings.SplitN(key[2:], "/", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("restore bad key %q", key)
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("restore bad key %q", key)
	}
	return types.ObjID(n), parts[1], nil
}
