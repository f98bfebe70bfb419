package db

import (
	"sort"

	"github.com/Oliver2213/moor/types"
)

// Perms is the permission principal a world-state operation runs as.
type Perms struct {
	Who types.ObjID
}

// Wizard reports whether the principal has wizard rights.
func (tx *Tx) Wizard(p Perms) bool {
	rec, ok := tx.object(p.Who)
	return ok && rec.Flags.Wizard
}

// ownerOrWizard is the common "controls the object" test.
func (tx *Tx) ownerOrWizard(p Perms, o *ObjectRecord) bool {
	return p.Who == o.Owner || tx.Wizard(p)
}

// Parent returns an object's parent.
func (tx *Tx) Parent(id types.ObjID) (types.ObjID, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return types.ObjNothing, types.E_INVARG
	}
	return o.Parent, types.E_NONE
}

// Children returns an object's children, sorted by id.
func (tx *Tx) Children(id types.ObjID) ([]types.ObjID, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return nil, types.E_INVARG
	}
	return append([]types.ObjID(nil), o.Children...), types.E_NONE
}

// Location returns an object's location.
func (tx *Tx) Location(id types.ObjID) (types.ObjID, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return types.ObjNothing, types.E_INVARG
	}
	return o.Location, types.E_NONE
}

// Contents returns an object's contents, sorted by id.
func (tx *Tx) Contents(id types.ObjID) ([]types.ObjID, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return nil, types.E_INVARG
	}
	return append([]types.ObjID(nil), o.Contents...), types.E_NONE
}

// Name returns an object's name.
func (tx *Tx) Name(id types.ObjID) (string, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return "", types.E_INVARG
	}
	return o.Name, types.E_NONE
}

// Owner returns an object's owner.
func (tx *Tx) Owner(id types.ObjID) (types.ObjID, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return types.ObjNothing, types.E_INVARG
	}
	return o.Owner, types.E_NONE
}

// Flags returns an object's flag set.
func (tx *Tx) Flags(id types.ObjID) (ObjFlags, types.ErrorCode) {
	o, ok := tx.object(id)
	if !ok {
		return ObjFlags{}, types.E_INVARG
	}
	return o.Flags, types.E_NONE
}

// Ancestors returns the strict ancestor chain, nearest first.
func (tx *Tx) Ancestors(id types.ObjID) []types.ObjID {
	var out []types.ObjID
	o, ok := tx.object(id)
	if !ok {
		return nil
	}
	for p := o.Parent; p >= 0; {
		out = append(out, p)
		po, ok := tx.object(p)
		if !ok {
			break
		}
		p = po.Parent
	}
	return out
}

// Descendants returns every object below id in the parent tree.
func (tx *Tx) Descendants(id types.ObjID) []types.ObjID {
	var out []types.ObjID
	queue := []types.ObjID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		o, ok := tx.object(cur)
		if !ok {
			continue
		}
		for _, c := range o.Children {
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// isAncestorOf reports whether anc appears on obj's parent chain,
// including obj itself.
func (tx *Tx) isAncestorOf(anc, obj types.ObjID) bool {
	for cur := obj; cur >= 0; {
		if cur == anc {
			return true
		}
		o, ok := tx.object(cur)
		if !ok {
			return false
		}
		cur = o.Parent
	}
	return false
}

// Create allocates a new object under parent. A parent of #-1 is
// allowed. Owner #-1 means "default": the caller, or the new object
// itself when the caller is #-1 (wizards may name any owner). Fertility of the parent gates non-wizard creation.
func (tx *Tx) Create(p Perms, parent, owner types.ObjID) (types.ObjID, types.ErrorCode) {
	if parent != types.ObjNothing {
		po, ok := tx.object(parent)
		if !ok {
			return types.ObjNothing, types.E_INVARG
		}
		if !po.Flags.Fertile && !tx.ownerOrWizard(p, po) {
			return types.ObjNothing, types.E_PERM
		}
	}
	if owner != types.ObjNothing && owner != p.Who && !tx.Wizard(p) {
		return types.ObjNothing, types.E_PERM
	}

	id := tx.allocObject()
	if owner == types.ObjNothing {
		owner = p.Who
		if owner == types.ObjNothing {
			owner = id // ownerless creation: the object owns itself
		}
	}
	rec := &ObjectRecord{
		ID:       id,
		Parent:   parent,
		Owner:    owner,
		Location: types.ObjNothing,
		NextVerb: 0,
	}
	tx.put(objectKey(id), rec)

	if parent != types.ObjNothing {
		po, _ := tx.objectForWrite(parent)
		po.Children = insertSorted(po.Children, id)
	}
	return id, types.E_NONE
}

// Recycle destroys an object: children are reparented to the victim's
// parent (with full chparent property migration), contents are moved
// to #-1, and every record the object holds is deleted. The caller
// runs the victim's recycle verb before calling this.
func (tx *Tx) Recycle(p Perms, victim types.ObjID) types.ErrorCode {
	o, ok := tx.object(victim)
	if !ok {
		return types.E_INVARG
	}
	if !tx.ownerOrWizard(p, o) {
		return types.E_PERM
	}

	wizard := Perms{Who: o.Owner} // migrations below run as the owner
	for _, child := range append([]types.ObjID(nil), o.Children...) {
		if code := tx.chparentAs(wizard, child, o.Parent, true); code != types.E_NONE {
			return code
		}
	}
	for _, item := range append([]types.ObjID(nil), o.Contents...) {
		io, ok := tx.objectForWrite(item)
		if !ok {
			continue
		}
		io.Location = types.ObjNothing
	}

	// Drop every slot the victim holds: its own definitions plus any
	// inherited ones.
	o, _ = tx.object(victim) // reload: children migration touched us
	for _, name := range tx.allPropNames(victim) {
		tx.del(propSlotKey(victim, name))
	}
	for _, name := range o.PropOrder {
		tx.del(propDefKey(victim, name))
	}
	for _, idx := range o.VerbOrder {
		tx.del(verbKey(victim, idx))
	}

	if o.Parent != types.ObjNothing {
		if po, ok := tx.objectForWrite(o.Parent); ok {
			po.Children = removeID(po.Children, victim)
		}
	}
	if o.Location != types.ObjNothing {
		if lo, ok := tx.objectForWrite(o.Location); ok {
			lo.Contents = removeID(lo.Contents, victim)
		}
	}

	tx.del(objectKey(victim))
	return types.E_NONE
}

// ChParent moves obj under newParent, migrating property slots: slots
// for properties no longer inherited are removed from obj and all its
// descendants, and name collisions with the new chain fail E_INVARG
// with no mutation.
func (tx *Tx) ChParent(p Perms, obj, newParent types.ObjID) types.ErrorCode {
	return tx.chparentAs(p, obj, newParent, false)
}

func (tx *Tx) chparentAs(p Perms, obj, newParent types.ObjID, force bool) types.ErrorCode {
	o, ok := tx.object(obj)
	if !ok {
		return types.E_INVARG
	}
	if !force && !tx.ownerOrWizard(p, o) {
		return types.E_PERM
	}
	if newParent != types.ObjNothing {
		po, ok := tx.object(newParent)
		if !ok {
			return types.E_INVARG
		}
		if !force && !po.Flags.Fertile && !tx.ownerOrWizard(p, po) {
			return types.E_PERM
		}
		if tx.isAncestorOf(obj, newParent) {
			return types.E_RECMOVE
		}
	}

	oldNames := tx.inheritedNames(o.Parent)
	newNames := tx.inheritedNames(newParent)

	// Collision check before any mutation: a newly inherited name must
	// not be defined on obj or anything below it.
	family := append([]types.ObjID{obj}, tx.Descendants(obj)...)
	for name := range newNames {
		if _, old := oldNames[name]; old {
			continue
		}
		for _, member := range family {
			m, ok := tx.object(member)
			if !ok {
				continue
			}
			for _, own := range m.PropOrder {
				if own == name {
					return types.E_INVARG
				}
			}
		}
	}

	// Remove slots for names that are no longer inherited.
	for name := range oldNames {
		if _, kept := newNames[name]; kept {
			continue
		}
		for _, member := range family {
			tx.del(propSlotKey(member, name))
		}
	}

	oldParent := o.Parent
	ow, _ := tx.objectForWrite(obj)
	ow.Parent = newParent
	if oldParent != types.ObjNothing {
		if po, ok := tx.objectForWrite(oldParent); ok {
			po.Children = removeID(po.Children, obj)
		}
	}
	if newParent != types.ObjNothing {
		po, _ := tx.objectForWrite(newParent)
		po.Children = insertSorted(po.Children, obj)
	}
	return types.E_NONE
}

// Move relocates what into where (#-1 allowed). Location chains stay
// acyclic: moving an object into itself or its own contents tree is
// E_RECMOVE. Accept/exit hooks run at the builtin layer.
func (tx *Tx) Move(p Perms, what, where types.ObjID) types.ErrorCode {
	o, ok := tx.object(what)
	if !ok {
		return types.E_INVARG
	}
	if !tx.ownerOrWizard(p, o) {
		return types.E_PERM
	}
	if where != types.ObjNothing {
		if !tx.Valid(where) {
			return types.E_INVARG
		}
		for cur := where; cur >= 0; {
			if cur == what {
				return types.E_RECMOVE
			}
			c, ok := tx.object(cur)
			if !ok {
				break
			}
			cur = c.Location
		}
	}
	if o.Location == where {
		return types.E_NONE
	}

	oldLoc := o.Location
	ow, _ := tx.objectForWrite(what)
	ow.Location = where
	if oldLoc != types.ObjNothing {
		if lo, ok := tx.objectForWrite(oldLoc); ok {
			lo.Contents = removeID(lo.Contents, what)
		}
	}
	if where != types.ObjNothing {
		lo, _ := tx.objectForWrite(where)
		lo.Contents = insertSorted(lo.Contents, what)
	}
	return types.E_NONE
}

// SetName renames an object.
func (tx *Tx) SetName(p Perms, id types.ObjID, name string) types.ErrorCode {
	o, ok := tx.object(id)
	if !ok {
		return types.E_INVARG
	}
	if !tx.ownerOrWizard(p, o) {
		return types.E_PERM
	}
	if o.Flags.Player && !tx.Wizard(p) {
		return types.E_PERM
	}
	ow, _ := tx.objectForWrite(id)
	ow.Name = name
	return types.E_NONE
}

// SetOwner chowns an object (wizard only).
func (tx *Tx) SetOwner(p Perms, id, owner types.ObjID) types.ErrorCode {
	if !tx.Wizard(p) {
		return types.E_PERM
	}
	ow, ok := tx.objectForWrite(id)
	if !ok {
		return types.E_INVARG
	}
	ow.Owner = owner
	return types.E_NONE
}

// SetFlag updates one object flag. The player flag is wizard-only;
// the rest need ownership. Flag names are the builtin property
// spellings: "r", "w", "f", "programmer", "wizard", "player".
func (tx *Tx) SetFlag(p Perms, id types.ObjID, flag string, on bool) types.ErrorCode {
	o, ok := tx.object(id)
	if !ok {
		return types.E_INVARG
	}
	switch flag {
	case "r", "w", "f":
		if !tx.ownerOrWizard(p, o) {
			return types.E_PERM
		}
	case "programmer", "wizard", "player":
		if !tx.Wizard(p) {
			return types.E_PERM
		}
	default:
		return types.E_INVARG
	}
	ow, _ := tx.objectForWrite(id)
	switch flag {
	case "r":
		ow.Flags.Read = on
	case "w":
		ow.Flags.Write = on
	case "f":
		ow.Flags.Fertile = on
	case "programmer":
		ow.Flags.Programmer = on
	case "wizard":
		ow.Flags.Wizard = on
	case "player":
		ow.Flags.Player = on
	}
	return types.E_NONE
}

// Players returns all objects with the player flag set, in id order.
func (tx *Tx) Players() []types.ObjID {
	var out []types.ObjID
	max := tx.MaxObject()
	for id := types.ObjID(0); id <= max; id++ {
		if o, ok := tx.object(id); ok && o.Flags.Player {
			out = append(out, id)
		}
	}
	return out
}

// AllObjects returns every valid object id in order.
func (tx *Tx) AllObjects() []types.ObjID {
	var out []types.ObjID
	max := tx.MaxObject()
	for id := types.ObjID(0); id <= max; id++ {
		if tx.Valid(id) {
			out = append(out, id)
		}
	}
	return out
}

func insertSorted(ids []types.ObjID, id types.ObjID) []types.ObjID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	out := make([]types.ObjID, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	out = append(out, ids[i:]...)
	return out
}

func removeID(ids []types.ObjID, id types.ObjID) []types.ObjID {
	out := make([]types.ObjID, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
