package db

import (
	"strconv"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// VerbHandle names one verb: the object holding the definition and
// its stable index there.
type VerbHandle struct {
	Obj   types.ObjID
	Index int32
}

// canReadVerb applies the verb read rule.
func (tx *Tx) canReadVerb(p Perms, v *VerbRecord) bool {
	return v.Perms.Read || p.Who == v.Owner || tx.Wizard(p)
}

func (tx *Tx) canWriteVerb(p Perms, v *VerbRecord) bool {
	return v.Perms.Write || p.Who == v.Owner || tx.Wizard(p)
}

// Verbs lists the verb name strings on obj in definition order.
func (tx *Tx) Verbs(p Perms, obj types.ObjID) ([]string, types.ErrorCode) {
	o, ok := tx.object(obj)
	if !ok {
		return nil, types.E_INVARG
	}
	if !o.Flags.Read && !tx.ownerOrWizard(p, o) {
		return nil, types.E_PERM
	}
	out := make([]string, 0, len(o.VerbOrder))
	for _, idx := range o.VerbOrder {
		if v, ok := tx.verb(obj, idx); ok {
			out = append(out, v.Names)
		}
	}
	return out, types.E_NONE
}

// AddVerb defines a new verb on obj. Pattern texts must be unique
// among the object's existing verbs.
func (tx *Tx) AddVerb(p Perms, obj types.ObjID, names string, owner types.ObjID, perms VerbPerms, args VerbArgs) (int32, types.ErrorCode) {
	o, ok := tx.object(obj)
	if !ok {
		return 0, types.E_INVARG
	}
	if strings.TrimSpace(names) == "" {
		return 0, types.E_INVARG
	}
	if !o.Flags.Write && !tx.ownerOrWizard(p, o) {
		return 0, types.E_PERM
	}
	if owner == types.ObjNothing {
		owner = p.Who
	}
	if owner != p.Who && !tx.Wizard(p) {
		return 0, types.E_PERM
	}

	patterns := make(map[string]bool)
	for _, pat := range strings.Fields(names) {
		patterns[strings.ToLower(pat)] = true
	}
	for _, idx := range o.VerbOrder {
		if v, ok := tx.verb(obj, idx); ok {
			for _, pat := range v.NameList() {
				if patterns[strings.ToLower(pat)] {
					return 0, types.E_INVARG
				}
			}
		}
	}

	ow, _ := tx.objectForWrite(obj)
	idx := ow.NextVerb
	ow.NextVerb++
	ow.VerbOrder = append(ow.VerbOrder, idx)
	tx.put(verbKey(obj, idx), &VerbRecord{
		Names: names,
		Owner: owner,
		Perms: perms,
		Args:  args,
	})
	return idx, types.E_NONE
}

// findVerbLocal resolves a verb descriptor on one object only. The
// descriptor is a name, or a 1-based ordinal rendered as an integer
// string ("2" names the second verb in definition order).
func (tx *Tx) findVerbLocal(obj types.ObjID, desc string) (int32, *VerbRecord, bool) {
	o, ok := tx.object(obj)
	if !ok {
		return 0, nil, false
	}
	if n, err := strconv.Atoi(desc); err == nil && n >= 1 && n <= len(o.VerbOrder) {
		idx := o.VerbOrder[n-1]
		v, ok := tx.verb(obj, idx)
		return idx, v, ok
	}
	for _, idx := range o.VerbOrder {
		if v, ok := tx.verb(obj, idx); ok && v.MatchesName(desc) {
			return idx, v, true
		}
	}
	return 0, nil, false
}

// ResolveVerb walks obj's ancestor chain for the first verb matching
// name. Used by the VM's call protocol and by pass() with a deeper
// start point.
func (tx *Tx) ResolveVerb(obj types.ObjID, name string) (VerbHandle, *VerbRecord, bool) {
	for cur := obj; cur >= 0; {
		if idx, v, ok := tx.findVerbLocal(cur, name); ok {
			return VerbHandle{Obj: cur, Index: idx}, v, true
		}
		o, ok := tx.object(cur)
		if !ok {
			break
		}
		cur = o.Parent
	}
	return VerbHandle{}, nil, false
}

// ResolveVerbAbove continues resolution strictly above definer, the
// pass() rule.
func (tx *Tx) ResolveVerbAbove(definer types.ObjID, name string) (VerbHandle, *VerbRecord, bool) {
	o, ok := tx.object(definer)
	if !ok {
		return VerbHandle{}, nil, false
	}
	if o.Parent < 0 {
		return VerbHandle{}, nil, false
	}
	return tx.ResolveVerb(o.Parent, name)
}

// VerbHandlesOn lists the verb handles directly on obj, in
// definition order. Used by the command dispatcher, which needs to
// test argument specs clause by clause.
func (tx *Tx) VerbHandlesOn(obj types.ObjID) []VerbHandle {
	o, ok := tx.object(obj)
	if !ok {
		return nil
	}
	out := make([]VerbHandle, 0, len(o.VerbOrder))
	for _, idx := range o.VerbOrder {
		out = append(out, VerbHandle{Obj: obj, Index: idx})
	}
	return out
}

// GetVerb fetches a verb by handle.
func (tx *Tx) GetVerb(h VerbHandle) (*VerbRecord, bool) {
	return tx.verb(h.Obj, h.Index)
}

// VerbInfo returns {owner, perms, names} for obj:desc.
func (tx *Tx) VerbInfo(p Perms, obj types.ObjID, desc string) (types.ObjID, VerbPerms, string, types.ErrorCode) {
	if !tx.Valid(obj) {
		return types.ObjNothing, VerbPerms{}, "", types.E_INVARG
	}
	_, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return types.ObjNothing, VerbPerms{}, "", types.E_VERBNF
	}
	if !tx.canReadVerb(p, v) {
		return types.ObjNothing, VerbPerms{}, "", types.E_PERM
	}
	return v.Owner, v.Perms, v.Names, types.E_NONE
}

// SetVerbInfo updates owner, perms and names.
func (tx *Tx) SetVerbInfo(p Perms, obj types.ObjID, desc string, owner types.ObjID, perms VerbPerms, names string) types.ErrorCode {
	if !tx.Valid(obj) {
		return types.E_INVARG
	}
	idx, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return types.E_VERBNF
	}
	if !tx.canWriteVerb(p, v) {
		return types.E_PERM
	}
	if owner != v.Owner && !tx.Wizard(p) {
		return types.E_PERM
	}
	if strings.TrimSpace(names) == "" {
		return types.E_INVARG
	}
	nv := v.clone()
	nv.Owner = owner
	nv.Perms = perms
	nv.Names = names
	tx.put(verbKey(obj, idx), nv)
	return types.E_NONE
}

// VerbArgsOf returns the {dobj, prep, iobj} triple.
func (tx *Tx) VerbArgsOf(p Perms, obj types.ObjID, desc string) (VerbArgs, types.ErrorCode) {
	if !tx.Valid(obj) {
		return VerbArgs{}, types.E_INVARG
	}
	_, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return VerbArgs{}, types.E_VERBNF
	}
	if !tx.canReadVerb(p, v) {
		return VerbArgs{}, types.E_PERM
	}
	return v.Args, types.E_NONE
}

// SetVerbArgs updates the argument triple.
func (tx *Tx) SetVerbArgs(p Perms, obj types.ObjID, desc string, args VerbArgs) types.ErrorCode {
	if !tx.Valid(obj) {
		return types.E_INVARG
	}
	idx, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return types.E_VERBNF
	}
	if !tx.canWriteVerb(p, v) {
		return types.E_PERM
	}
	nv := v.clone()
	nv.Args = args
	tx.put(verbKey(obj, idx), nv)
	return types.E_NONE
}

// VerbCode returns the verb source as lines.
func (tx *Tx) VerbCode(p Perms, obj types.ObjID, desc string) ([]string, types.ErrorCode) {
	if !tx.Valid(obj) {
		return nil, types.E_INVARG
	}
	_, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return nil, types.E_VERBNF
	}
	if !tx.canReadVerb(p, v) {
		return nil, types.E_PERM
	}
	if v.Source == "" {
		return []string{}, types.E_NONE
	}
	return strings.Split(v.Source, "\n"), types.E_NONE
}

// SetVerbCode replaces the verb source and bumps the generation so
// compiled-program caches refetch. The caller compiles first; the
// database stores whatever it is given.
func (tx *Tx) SetVerbCode(p Perms, obj types.ObjID, desc string, source string) types.ErrorCode {
	if !tx.Valid(obj) {
		return types.E_INVARG
	}
	idx, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return types.E_VERBNF
	}
	if !tx.canWriteVerb(p, v) {
		return types.E_PERM
	}
	nv := v.clone()
	nv.Source = source
	nv.Generation++
	tx.put(verbKey(obj, idx), nv)
	return types.E_NONE
}

// DeleteVerb removes a verb definition.
func (tx *Tx) DeleteVerb(p Perms, obj types.ObjID, desc string) types.ErrorCode {
	if !tx.Valid(obj) {
		return types.E_INVARG
	}
	idx, v, ok := tx.findVerbLocal(obj, desc)
	if !ok {
		return types.E_VERBNF
	}
	if !tx.canWriteVerb(p, v) {
		return types.E_PERM
	}
	tx.del(verbKey(obj, idx))
	ow, _ := tx.objectForWrite(obj)
	out := ow.VerbOrder[:0]
	for _, i := range ow.VerbOrder {
		if i != idx {
			out = append(out, i)
		}
	}
	ow.VerbOrder = out
	return types.E_NONE
}
