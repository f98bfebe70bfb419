package db

import (
	"strings"

	"github.com/Oliver2213/moor/types"
)

// builtinProps are the property names every object answers without a
// definition. They cannot be redefined.
var builtinProps = map[string]bool{
	"name": true, "owner": true, "location": true, "contents": true,
	"programmer": true, "wizard": true, "r": true, "w": true, "f": true,
	"player": true,
}

// inheritedNames collects every property name defined at or above
// start, mapped to its defining object. Passing #-1 yields an empty
// set.
func (tx *Tx) inheritedNames(start types.ObjID) map[string]types.ObjID {
	out := make(map[string]types.ObjID)
	for cur := start; cur >= 0; {
		o, ok := tx.object(cur)
		if !ok {
			break
		}
		for _, name := range o.PropOrder {
			key := strings.ToLower(name)
			if _, dup := out[key]; !dup {
				out[key] = cur
			}
		}
		cur = o.Parent
	}
	return out
}

// allPropNames is every property name obj holds a slot for: its own
// definitions plus everything inherited.
func (tx *Tx) allPropNames(obj types.ObjID) []string {
	names := tx.inheritedNames(obj)
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	return out
}

// findPropDef walks obj's chain for the definition of name.
func (tx *Tx) findPropDef(obj types.ObjID, name string) (types.ObjID, *PropDefRecord, bool) {
	for cur := obj; cur >= 0; {
		if def, ok := tx.propDef(cur, name); ok {
			return cur, def, true
		}
		o, ok := tx.object(cur)
		if !ok {
			break
		}
		cur = o.Parent
	}
	return types.ObjNothing, nil, false
}

// slotOwner resolves who owns the slot for name on holder: an
// explicit set slot records it; clear slots are owned per the 'c'
// bit, by the holder's owner or the definition's owner.
func (tx *Tx) slotOwner(holder types.ObjID, def *PropDefRecord) types.ObjID {
	if slot, ok := tx.propSlot(holder, def.Name); ok {
		return slot.Owner
	}
	if def.Perms.Chown {
		if o, ok := tx.object(holder); ok {
			return o.Owner
		}
	}
	return def.Owner
}

// canReadProp applies the read rule: r bit, slot ownership, or wizard.
func (tx *Tx) canReadProp(p Perms, holder types.ObjID, def *PropDefRecord) bool {
	return def.Perms.Read || p.Who == tx.slotOwner(holder, def) || tx.Wizard(p)
}

func (tx *Tx) canWriteProp(p Perms, holder types.ObjID, def *PropDefRecord) bool {
	return def.Perms.Write || p.Who == tx.slotOwner(holder, def) || tx.Wizard(p)
}

// GetProperty reads obj.name: builtin properties first, then the
// inheritance walk. A clear slot falls through to the nearest
// ancestor holding a set slot, ending at the definer.
func (tx *Tx) GetProperty(p Perms, obj types.ObjID, name string) (types.Value, types.ErrorCode) {
	o, ok := tx.object(obj)
	if !ok {
		return nil, types.E_INVIND
	}

	switch strings.ToLower(name) {
	case "name":
		return types.NewStr(o.Name), types.E_NONE
	case "owner":
		return types.NewObj(o.Owner), types.E_NONE
	case "location":
		return types.NewObj(o.Location), types.E_NONE
	case "contents":
		elems := make([]types.Value, len(o.Contents))
		for i, c := range o.Contents {
			elems[i] = types.NewObj(c)
		}
		return types.NewList(elems), types.E_NONE
	case "programmer":
		return boolInt(o.Flags.Programmer), types.E_NONE
	case "wizard":
		return boolInt(o.Flags.Wizard), types.E_NONE
	case "r":
		return boolInt(o.Flags.Read), types.E_NONE
	case "w":
		return boolInt(o.Flags.Write), types.E_NONE
	case "f":
		return boolInt(o.Flags.Fertile), types.E_NONE
	case "player":
		return boolInt(o.Flags.Player), types.E_NONE
	}

	_, def, found := tx.findPropDef(obj, name)
	if !found {
		return nil, types.E_PROPNF
	}
	if !tx.canReadProp(p, obj, def) {
		return nil, types.E_PERM
	}
	// First set slot from obj upward; the definer's slot is always
	// set, so the walk terminates with a value.
	for cur := obj; cur >= 0; {
		if slot, ok := tx.propSlot(cur, name); ok {
			return slot.Value, types.E_NONE
		}
		co, ok := tx.object(cur)
		if !ok {
			break
		}
		cur = co.Parent
	}
	return nil, types.E_PROPNF
}

// SetProperty writes obj.name. Builtin properties route to the
// corresponding object mutators; the rest write a set slot on obj.
func (tx *Tx) SetProperty(p Perms, obj types.ObjID, name string, value types.Value) types.ErrorCode {
	if !tx.Valid(obj) {
		return types.E_INVIND
	}

	switch strings.ToLower(name) {
	case "name":
		s, ok := value.(types.StrValue)
		if !ok {
			return types.E_TYPE
		}
		return tx.SetName(p, obj, s.Value())
	case "owner":
		ov, ok := value.(types.ObjValue)
		if !ok {
			return types.E_TYPE
		}
		return tx.SetOwner(p, obj, ov.Val)
	case "r", "w", "f", "programmer", "wizard":
		return tx.SetFlag(p, obj, strings.ToLower(name), value.Truthy())
	case "player":
		// Only set_player_flag may change this.
		return types.E_PERM
	case "location", "contents":
		return types.E_PERM
	}

	_, def, found := tx.findPropDef(obj, name)
	if !found {
		return types.E_PROPNF
	}
	if !tx.canWriteProp(p, obj, def) {
		return types.E_PERM
	}
	owner := tx.slotOwner(obj, def)
	tx.put(propSlotKey(obj, name), &PropSlotRecord{Value: value, Owner: owner})
	return types.E_NONE
}

// AddProperty defines a new property on obj with an initial value.
// The name must be new along the whole chain, above and below.
func (tx *Tx) AddProperty(p Perms, obj types.ObjID, name string, value types.Value, owner types.ObjID, perms PropPerms) types.ErrorCode {
	o, ok := tx.object(obj)
	if !ok {
		return types.E_INVARG
	}
	if builtinProps[strings.ToLower(name)] {
		return types.E_INVARG
	}
	if !o.Flags.Write && !tx.ownerOrWizard(p, o) {
		return types.E_PERM
	}
	if owner == types.ObjNothing {
		owner = p.Who
	}
	if owner != p.Who && !tx.Wizard(p) {
		return types.E_PERM
	}

	key := strings.ToLower(name)
	if _, exists := tx.inheritedNames(obj)[key]; exists {
		return types.E_INVARG
	}
	for _, d := range tx.Descendants(obj) {
		do, ok := tx.object(d)
		if !ok {
			continue
		}
		for _, own := range do.PropOrder {
			if own == key {
				return types.E_INVARG
			}
		}
	}

	tx.put(propDefKey(obj, name), &PropDefRecord{Name: name, Owner: owner, Perms: perms})
	tx.put(propSlotKey(obj, name), &PropSlotRecord{Value: value, Owner: owner})
	ow, _ := tx.objectForWrite(obj)
	ow.PropOrder = append(ow.PropOrder, key)
	return types.E_NONE
}

// DeleteProperty removes a definition and every descendant slot in
// the same transaction.
func (tx *Tx) DeleteProperty(p Perms, obj types.ObjID, name string) types.ErrorCode {
	o, ok := tx.object(obj)
	if !ok {
		return types.E_INVARG
	}
	def, defined := tx.propDef(obj, name)
	if !defined {
		return types.E_PROPNF
	}
	if p.Who != def.Owner && !tx.ownerOrWizard(p, o) {
		return types.E_PERM
	}

	key := strings.ToLower(name)
	tx.del(propDefKey(obj, name))
	tx.del(propSlotKey(obj, name))
	for _, d := range tx.Descendants(obj) {
		tx.del(propSlotKey(d, name))
	}
	ow, _ := tx.objectForWrite(obj)
	out := ow.PropOrder[:0]
	for _, n := range ow.PropOrder {
		if n != key {
			out = append(out, n)
		}
	}
	ow.PropOrder = out
	return types.E_NONE
}

// ClearProperty drops obj's set slot so reads fall through again.
// Clearing on the defining object is E_INVARG.
func (tx *Tx) ClearProperty(p Perms, obj types.ObjID, name string) types.ErrorCode {
	definer, def, found := tx.findPropDef(obj, name)
	if !found {
		if !tx.Valid(obj) {
			return types.E_INVIND
		}
		return types.E_PROPNF
	}
	if definer == obj {
		return types.E_INVARG
	}
	if !tx.canWriteProp(p, obj, def) {
		return types.E_PERM
	}
	tx.del(propSlotKey(obj, name))
	return types.E_NONE
}

// IsClearProperty reports whether obj's slot is clear.
func (tx *Tx) IsClearProperty(p Perms, obj types.ObjID, name string) (bool, types.ErrorCode) {
	definer, def, found := tx.findPropDef(obj, name)
	if !found {
		if !tx.Valid(obj) {
			return false, types.E_INVIND
		}
		return false, types.E_PROPNF
	}
	if !tx.canReadProp(p, obj, def) {
		return false, types.E_PERM
	}
	if definer == obj {
		return false, types.E_NONE
	}
	_, set := tx.propSlot(obj, name)
	return !set, types.E_NONE
}

// PropertyInfo returns {owner, perms} for the property as seen on obj.
func (tx *Tx) PropertyInfo(p Perms, obj types.ObjID, name string) (types.ObjID, PropPerms, types.ErrorCode) {
	_, def, found := tx.findPropDef(obj, name)
	if !found {
		if !tx.Valid(obj) {
			return types.ObjNothing, PropPerms{}, types.E_INVIND
		}
		return types.ObjNothing, PropPerms{}, types.E_PROPNF
	}
	if !tx.canReadProp(p, obj, def) {
		return types.ObjNothing, PropPerms{}, types.E_PERM
	}
	return tx.slotOwner(obj, def), def.Perms, types.E_NONE
}

// SetPropertyInfo updates the definition's owner and permission bits.
func (tx *Tx) SetPropertyInfo(p Perms, obj types.ObjID, name string, owner types.ObjID, perms PropPerms) types.ErrorCode {
	definer, def, found := tx.findPropDef(obj, name)
	if !found {
		if !tx.Valid(obj) {
			return types.E_INVIND
		}
		return types.E_PROPNF
	}
	if !tx.canWriteProp(p, obj, def) && !tx.Wizard(p) {
		return types.E_PERM
	}
	if owner != def.Owner && !tx.Wizard(p) {
		return types.E_PERM
	}
	nd := def.clone()
	nd.Owner = owner
	nd.Perms = perms
	tx.put(propDefKey(definer, name), nd)
	if slot, ok := tx.propSlot(obj, name); ok {
		ns := slot.clone()
		ns.Owner = owner
		tx.put(propSlotKey(obj, name), ns)
	}
	return types.E_NONE
}

// Properties lists the names defined directly on obj, in definition
// order.
func (tx *Tx) Properties(p Perms, obj types.ObjID) ([]string, types.ErrorCode) {
	o, ok := tx.object(obj)
	if !ok {
		return nil, types.E_INVARG
	}
	if !o.Flags.Read && !tx.ownerOrWizard(p, o) {
		return nil, types.E_PERM
	}
	return append([]string(nil), o.PropOrder...), types.E_NONE
}

func boolInt(b bool) types.Value {
	if b {
		return types.NewInt(1)
	}
	return types.NewInt(0)
}
