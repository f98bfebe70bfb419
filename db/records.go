package db

import (
	"strings"

	"github.com/Oliver2213/moor/types"
)

// recordKind tags the keyed record families in the store.
type recordKind byte

const (
	kindObject recordKind = iota + 1
	kindPropDef
	kindPropSlot
	kindVerbDef
	kindMeta
)

// Key identifies one record. Property names are folded to lower case
// before keying; verb records are keyed by their stable index.
type Key struct {
	Kind  recordKind
	Obj   types.ObjID
	Name  string
	Index int32
}

func objectKey(id types.ObjID) Key {
	return Key{Kind: kindObject, Obj: id}
}

func propDefKey(id types.ObjID, name string) Key {
	return Key{Kind: kindPropDef, Obj: id, Name: strings.ToLower(name)}
}

func propSlotKey(id types.ObjID, name string) Key {
	return Key{Kind: kindPropSlot, Obj: id, Name: strings.ToLower(name)}
}

func verbKey(id types.ObjID, index int32) Key {
	return Key{Kind: kindVerbDef, Obj: id, Index: index}
}

var maxObjectKey = Key{Kind: kindMeta, Name: "max_object"}

// Record is any stored row. Records are immutable once committed;
// writers clone before mutating.
type Record interface{}

// ObjFlags is the object flag byte set.
type ObjFlags struct {
	Player     bool
	Programmer bool
	Wizard     bool
	Read       bool
	Write      bool
	Fertile    bool
}

// ObjectRecord is the per-object row. Children and Contents are the
// maintained inverses of Parent and Location, kept sorted by id.
// PropOrder and VerbOrder preserve definition order for dumps;
// NextVerb allocates verb indexes that stay stable for the object's
// lifetime.
type ObjectRecord struct {
	ID       types.ObjID
	Parent   types.ObjID
	Owner    types.ObjID
	Location types.ObjID
	Name     string
	Flags    ObjFlags

	Children []types.ObjID
	Contents []types.ObjID

	PropOrder []string
	VerbOrder []int32
	NextVerb  int32
}

func (o *ObjectRecord) clone() *ObjectRecord {
	c := *o
	c.Children = append([]types.ObjID(nil), o.Children...)
	c.Contents = append([]types.ObjID(nil), o.Contents...)
	c.PropOrder = append([]string(nil), o.PropOrder...)
	c.VerbOrder = append([]int32(nil), o.VerbOrder...)
	return &c
}

// PropPerms are the permission bits of a property definition.
type PropPerms struct {
	Read  bool
	Write bool
	Chown bool // 'c': inherited slots are owned by the inheritor's owner
}

func (p PropPerms) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Write {
		b.WriteByte('w')
	}
	if p.Chown {
		b.WriteByte('c')
	}
	return b.String()
}

// ParsePropPerms reads a permission string like "rwc".
func ParsePropPerms(s string) (PropPerms, bool) {
	var p PropPerms
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			p.Read = true
		case 'w':
			p.Write = true
		case 'c':
			p.Chown = true
		default:
			return PropPerms{}, false
		}
	}
	return p, true
}

// PropDefRecord defines a property on its defining object. Name keeps
// the spelling used at definition time.
type PropDefRecord struct {
	Name  string
	Owner types.ObjID
	Perms PropPerms
}

func (p *PropDefRecord) clone() *PropDefRecord {
	c := *p
	return &c
}

// PropSlotRecord is a set slot on one holder. A clear slot is the
// absence of a slot record, so the record itself always carries a
// value. Owner tracks per-holder ownership under the 'c' bit.
type PropSlotRecord struct {
	Value types.Value
	Owner types.ObjID
}

func (p *PropSlotRecord) clone() *PropSlotRecord {
	c := *p
	return &c
}

// VerbPerms are the permission bits of a verb definition.
type VerbPerms struct {
	Read    bool
	Write   bool
	Execute bool
	Debug   bool
}

func (v VerbPerms) String() string {
	var b strings.Builder
	if v.Read {
		b.WriteByte('r')
	}
	if v.Write {
		b.WriteByte('w')
	}
	if v.Execute {
		b.WriteByte('x')
	}
	if v.Debug {
		b.WriteByte('d')
	}
	return b.String()
}

// ParseVerbPerms reads a permission string like "rxd".
func ParseVerbPerms(s string) (VerbPerms, bool) {
	var v VerbPerms
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			v.Read = true
		case 'w':
			v.Write = true
		case 'x':
			v.Execute = true
		case 'd':
			v.Debug = true
		default:
			return VerbPerms{}, false
		}
	}
	return v, true
}

// Argument specifier values for dobj/iobj.
type ArgSpec int

const (
	ArgNone ArgSpec = iota
	ArgAny
	ArgThis
)

func (a ArgSpec) String() string {
	switch a {
	case ArgAny:
		return "any"
	case ArgThis:
		return "this"
	}
	return "none"
}

// ParseArgSpec reads "none", "any" or "this".
func ParseArgSpec(s string) (ArgSpec, bool) {
	switch strings.ToLower(s) {
	case "none":
		return ArgNone, true
	case "any":
		return ArgAny, true
	case "this":
		return ArgThis, true
	}
	return ArgNone, false
}

// VerbArgs is the {dobj, prep, iobj} triple. Prep is a preposition id
// from the server table, PrepAny or PrepNone.
type VerbArgs struct {
	Dobj ArgSpec
	Prep PrepSpec
	Iobj ArgSpec
}

// VerbRecord is a verb definition plus its program. Names is the
// space-separated pattern list. Generation increments whenever the
// source changes, invalidating compiled-program caches.
type VerbRecord struct {
	Names      string
	Owner      types.ObjID
	Perms      VerbPerms
	Args       VerbArgs
	Source     string
	Generation int64
}

func (v *VerbRecord) clone() *VerbRecord {
	c := *v
	return &c
}

// NameList splits the pattern list.
func (v *VerbRecord) NameList() []string {
	return strings.Fields(v.Names)
}

// FirstName is the conventional display name of the verb.
func (v *VerbRecord) FirstName() string {
	names := v.NameList()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// MatchesName reports whether any name pattern matches the given verb
// name. A '*' in a pattern makes the remainder optional: "foo*bar"
// matches "foo", "foob", ... "foobar"; a pattern of just "*" matches
// anything.
func (v *VerbRecord) MatchesName(name string) bool {
	for _, pat := range v.NameList() {
		if verbPatternMatch(pat, name) {
			return true
		}
	}
	return false
}

func verbPatternMatch(pat, name string) bool {
	pat = strings.ToLower(pat)
	name = strings.ToLower(name)
	star := strings.IndexByte(pat, '*')
	if star < 0 {
		return pat == name
	}
	if pat == "*" {
		return true
	}
	prefix := pat[:star]
	rest := pat[star+1:]
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	tail := name[len(prefix):]
	// The tail must be a prefix of the optional remainder.
	return strings.HasPrefix(rest, tail)
}

// maxObjectRecord is the meta row carrying the allocation high-water
// mark, so object creation is transactional like everything else.
type maxObjectRecord struct {
	Max types.ObjID
}

func cloneRecord(r Record) Record {
	switch rec := r.(type) {
	case *ObjectRecord:
		return rec.clone()
	case *PropDefRecord:
		return rec.clone()
	case *PropSlotRecord:
		return rec.clone()
	case *VerbRecord:
		return rec.clone()
	case *maxObjectRecord:
		c := *rec
		return &c
	}
	return r
}
