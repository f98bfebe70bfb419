package db

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// WriteDump exports the committed state as a textdump. Output is
// deterministic: objects in id order, verbs in index order,
// properties in chain definition order, tasks in id order.
func (s *Store) WriteDump(w io.Writer, tasks []TaskImage) error {
	bw := bufio.NewWriter(w)
	var err error
	s.View(func(tx *Tx) {
		err = writeDump(bw, tx, tasks)
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

func writeDump(w *bufio.Writer, tx *Tx, tasks []TaskImage) error {
	objects := tx.AllObjects()
	totalVerbs := 0
	for _, id := range objects {
		o, _ := tx.object(id)
		totalVerbs += len(o.VerbOrder)
	}

	fmt.Fprintln(w, dumpHeader)
	fmt.Fprintln(w, len(objects))
	fmt.Fprintln(w, totalVerbs)
	fmt.Fprintln(w, 0) // historical dummy

	players := tx.Players()
	fmt.Fprintln(w, len(players))
	for _, p := range players {
		fmt.Fprintln(w, int(p))
	}

	for _, id := range objects {
		if err := writeDumpObject(w, tx, id); err != nil {
			return err
		}
	}

	// Verb programs.
	type progRef struct {
		obj  types.ObjID
		ord  int
		code string
	}
	var progs []progRef
	for _, id := range objects {
		o, _ := tx.object(id)
		for ord, idx := range o.VerbOrder {
			if v, ok := tx.verb(id, idx); ok && v.Source != "" {
				progs = append(progs, progRef{obj: id, ord: ord, code: v.Source})
			}
		}
	}
	fmt.Fprintln(w, len(progs))
	for _, p := range progs {
		fmt.Fprintf(w, "#%d:%d\n", int(p.obj), p.ord)
		for _, line := range strings.Split(p.code, "\n") {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w, ".")
	}

	fmt.Fprintln(w, len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(w, "%d %d %d %s\n", t.ID, int(t.Player), t.WakeAt,
			base64.StdEncoding.EncodeToString(t.Data))
	}
	return nil
}

func writeDumpObject(w *bufio.Writer, tx *Tx, id types.ObjID) error {
	o, _ := tx.object(id)
	fmt.Fprintf(w, "#%d\n", int(id))
	fmt.Fprintln(w, o.Name)
	fmt.Fprintln(w) // old handles line
	fmt.Fprintln(w, flagsToInt(o.Flags))
	fmt.Fprintln(w, int(o.Owner))
	fmt.Fprintln(w, int(o.Location))
	fmt.Fprintln(w, int(o.Parent))

	fmt.Fprintln(w, len(o.VerbOrder))
	for _, idx := range o.VerbOrder {
		v, ok := tx.verb(id, idx)
		if !ok {
			continue
		}
		fmt.Fprintln(w, v.Names)
		fmt.Fprintln(w, int(v.Owner))
		fmt.Fprintln(w, verbPermsToInt(v.Perms))
		fmt.Fprintln(w, int(v.Args.Dobj))
		fmt.Fprintln(w, int(v.Args.Prep))
		fmt.Fprintln(w, int(v.Args.Iobj))
	}

	fmt.Fprintln(w, len(o.PropOrder))
	for _, name := range o.PropOrder {
		fmt.Fprintln(w, name)
	}

	// Every property the object answers for, own then inherited, in
	// chain definition order.
	names := dumpPropNames(tx, id)
	fmt.Fprintln(w, len(names))
	for _, name := range names {
		fmt.Fprintln(w, name)
		slot, set := tx.propSlot(id, name)
		if !set {
			fmt.Fprintln(w, typeClear)
		} else {
			writeDumpValue(w, slot.Value)
		}
		_, def, _ := tx.findPropDef(id, name)
		owner := types.ObjNothing
		perms := 0
		if def != nil {
			owner = tx.slotOwner(id, def)
			perms = propPermsToInt(def.Perms)
		}
		fmt.Fprintln(w, int(owner))
		fmt.Fprintln(w, perms)
	}
	return nil
}

// dumpPropNames orders property names the way dumps expect: the
// object's own definitions first, then each ancestor's, nearest
// first.
func dumpPropNames(tx *Tx, id types.ObjID) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(obj types.ObjID) {
		o, ok := tx.object(obj)
		if !ok {
			return
		}
		for _, name := range o.PropOrder {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	add(id)
	for _, anc := range tx.Ancestors(id) {
		add(anc)
	}
	return out
}

func writeDumpValue(w *bufio.Writer, v types.Value) {
	switch val := v.(type) {
	case types.IntValue:
		fmt.Fprintln(w, int(types.TYPE_INT))
		fmt.Fprintln(w, val.Val)
	case types.ObjValue:
		fmt.Fprintln(w, int(types.TYPE_OBJ))
		fmt.Fprintln(w, int(val.Val))
	case types.ErrValue:
		fmt.Fprintln(w, int(types.TYPE_ERR))
		fmt.Fprintln(w, int(val.Code))
	case types.BoolValue:
		fmt.Fprintln(w, int(types.TYPE_BOOL))
		if val.Val {
			fmt.Fprintln(w, 1)
		} else {
			fmt.Fprintln(w, 0)
		}
	case types.StrValue:
		fmt.Fprintln(w, int(types.TYPE_STR))
		fmt.Fprintln(w, escapeDump(val.Value()))
	case types.SymValue:
		fmt.Fprintln(w, int(types.TYPE_SYM))
		fmt.Fprintln(w, val.Name())
	case types.FloatValue:
		fmt.Fprintln(w, int(types.TYPE_FLOAT))
		fmt.Fprintln(w, val.String())
	case types.ListValue:
		fmt.Fprintln(w, int(types.TYPE_LIST))
		fmt.Fprintln(w, val.Len())
		for _, e := range val.Elements() {
			writeDumpValue(w, e)
		}
	case types.MapValue:
		fmt.Fprintln(w, int(types.TYPE_MAP))
		fmt.Fprintln(w, val.Len())
		for _, e := range val.Entries() {
			writeDumpValue(w, e.Key)
			writeDumpValue(w, e.Val)
		}
	case types.FlyweightValue:
		fmt.Fprintln(w, int(types.TYPE_FLYWEIGHT))
		fmt.Fprintln(w, int(val.Delegate()))
		writeDumpValue(w, val.Slots())
		writeDumpValue(w, val.Contents())
	default:
		fmt.Fprintln(w, typeNone)
	}
}
