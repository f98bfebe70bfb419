package db

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// The textdump is the portable representation: a sectioned text file
// in the shape of the historical LambdaMOO format. Header, player
// list, object records (with verb and property definitions), verb
// programs, then queued tasks. Suspended-task VM images are carried
// as base64 CBOR blobs, the one departure from the historical layout.

const dumpHeader = "** LambdaMOO Database, Format Version 4 **"

// Value type tags used inside dumps. These are the historical codes;
// clear slots dump as typeClear.
const (
	typeClear = -5
	typeNone  = -4
)

// TaskImage is an opaque queued-task snapshot carried through dumps
// and checkpoints. Data is the scheduler's CBOR task image.
type TaskImage struct {
	ID     int64
	Player types.ObjID
	WakeAt int64 // unix seconds; 0 = run immediately
	Data   []byte
}

// Dump is the parsed form of a textdump.
type Dump struct {
	Players []types.ObjID
	Objects []*DumpObject
	Tasks   []TaskImage
}

// DumpObject carries one object's full state.
type DumpObject struct {
	ID       types.ObjID
	Name     string
	Flags    int
	Owner    types.ObjID
	Location types.ObjID
	Parent   types.ObjID
	Verbs    []DumpVerb
	PropDefs []string
	PropVals []DumpPropVal
}

type DumpVerb struct {
	Names string
	Owner types.ObjID
	Perms int // r=1 w=2 x=4 d=8
	Prep  int
	Dobj  int // ArgSpec
	Iobj  int
	Code  []string
}

type DumpPropVal struct {
	Name  string
	Clear bool
	Value types.Value
	Owner types.ObjID
	Perms int // r=1 w=2 c=4
}

// flag bit positions in the dump's object flag int
const (
	flagPlayer = 1 << 0
	flagProgrammer = 1 << 1
	flagWizard = 1 << 2
	flagRead   = 1 << 4
	flagWrite  = 1 << 5
	flagFertile = 1 << 8
)

func flagsToInt(f ObjFlags) int {
	out := 0
	if f.Player {
		out |= flagPlayer
	}
	if f.Programmer {
		out |= flagProgrammer
	}
	if f.Wizard {
		out |= flagWizard
	}
	if f.Read {
		out |= flagRead
	}
	if f.Write {
		out |= flagWrite
	}
	if f.Fertile {
		out |= flagFertile
	}
	return out
}

func flagsFromInt(n int) ObjFlags {
	return ObjFlags{
		Player:     n&flagPlayer != 0,
		Programmer: n&flagProgrammer != 0,
		Wizard:     n&flagWizard != 0,
		Read:       n&flagRead != 0,
		Write:      n&flagWrite != 0,
		Fertile:    n&flagFertile != 0,
	}
}

func propPermsToInt(p PropPerms) int {
	out := 0
	if p.Read {
		out |= 1
	}
	if p.Write {
		out |= 2
	}
	if p.Chown {
		out |= 4
	}
	return out
}

func propPermsFromInt(n int) PropPerms {
	return PropPerms{Read: n&1 != 0, Write: n&2 != 0, Chown: n&4 != 0}
}

func verbPermsToInt(v VerbPerms) int {
	out := 0
	if v.Read {
		out |= 1
	}
	if v.Write {
		out |= 2
	}
	if v.Execute {
		out |= 4
	}
	if v.Debug {
		out |= 8
	}
	return out
}

func verbPermsFromInt(n int) VerbPerms {
	return VerbPerms{Read: n&1 != 0, Write: n&2 != 0, Execute: n&4 != 0, Debug: n&8 != 0}
}

// ReadDump parses a textdump.
func ReadDump(r io.Reader) (*Dump, error) {
	br := bufio.NewReader(r)
	d := &Dump{}

	header, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !strings.Contains(header, "Format Version 4") {
		return nil, fmt.Errorf("unsupported database format: %s", header)
	}

	objCount, err := readIntLine(br)
	if err != nil {
		return nil, fmt.Errorf("read object count: %w", err)
	}
	if _, err := readIntLine(br); err != nil { // total verb count
		return nil, fmt.Errorf("read verb count: %w", err)
	}
	if _, err := readLine(br); err != nil { // dummy
		return nil, fmt.Errorf("read dummy line: %w", err)
	}

	playerCount, err := readIntLine(br)
	if err != nil {
		return nil, fmt.Errorf("read player count: %w", err)
	}
	for i := 0; i < playerCount; i++ {
		n, err := readIntLine(br)
		if err != nil {
			return nil, fmt.Errorf("read player %d: %w", i, err)
		}
		d.Players = append(d.Players, types.ObjID(n))
	}

	for i := 0; i < objCount; i++ {
		obj, err := readDumpObject(br)
		if err != nil {
			return nil, fmt.Errorf("read object %d: %w", i, err)
		}
		d.Objects = append(d.Objects, obj)
	}

	// Verb programs: "#obj:index" then code lines terminated by "."
	progCount, err := readIntLine(br)
	if err != nil {
		return nil, fmt.Errorf("read program count: %w", err)
	}
	for i := 0; i < progCount; i++ {
		head, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("read program header %d: %w", i, err)
		}
		var objID int64
		var verbIdx int
		if _, err := fmt.Sscanf(head, "#%d:%d", &objID, &verbIdx); err != nil {
			return nil, fmt.Errorf("bad program header %q", head)
		}
		var code []string
		for {
			line, err := readLine(br)
			if err != nil {
				return nil, fmt.Errorf("read program body: %w", err)
			}
			if line == "." {
				break
			}
			code = append(code, line)
		}
		obj := findDumpObject(d, types.ObjID(objID))
		if obj == nil || verbIdx < 0 || verbIdx >= len(obj.Verbs) {
			return nil, fmt.Errorf("program for unknown verb #%d:%d", objID, verbIdx)
		}
		obj.Verbs[verbIdx].Code = code
	}

	// Queued tasks.
	taskCount, err := readIntLine(br)
	if err != nil {
		return nil, fmt.Errorf("read task count: %w", err)
	}
	for i := 0; i < taskCount; i++ {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("read task %d: %w", i, err)
		}
		parts := strings.Fields(line)
		if len(parts) != 4 {
			return nil, fmt.Errorf("bad task line %q", line)
		}
		id, _ := strconv.ParseInt(parts[0], 10, 64)
		player, _ := strconv.ParseInt(parts[1], 10, 64)
		wake, _ := strconv.ParseInt(parts[2], 10, 64)
		data, err := base64.StdEncoding.DecodeString(parts[3])
		if err != nil {
			return nil, fmt.Errorf("bad task data: %w", err)
		}
		d.Tasks = append(d.Tasks, TaskImage{
			ID: id, Player: types.ObjID(player), WakeAt: wake, Data: data,
		})
	}

	return d, nil
}

func readDumpObject(br *bufio.Reader) (*DumpObject, error) {
	head, err := readLine(br)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(head, "#") {
		return nil, fmt.Errorf("expected object header, got %q", head)
	}
	id, err := strconv.ParseInt(head[1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad object id %q", head)
	}
	obj := &DumpObject{ID: types.ObjID(id)}

	if obj.Name, err = readLine(br); err != nil {
		return nil, err
	}
	if _, err = readLine(br); err != nil { // old handles line
		return nil, err
	}
	if obj.Flags, err = readIntLine(br); err != nil {
		return nil, err
	}
	fields := []*types.ObjID{&obj.Owner, &obj.Location, &obj.Parent}
	for _, f := range fields {
		n, err := readIntLine(br)
		if err != nil {
			return nil, err
		}
		*f = types.ObjID(n)
	}

	verbCount, err := readIntLine(br)
	if err != nil {
		return nil, err
	}
	for i := 0; i < verbCount; i++ {
		var v DumpVerb
		if v.Names, err = readLine(br); err != nil {
			return nil, err
		}
		nums := make([]int, 5)
		for j := range nums {
			if nums[j], err = readIntLine(br); err != nil {
				return nil, err
			}
		}
		v.Owner = types.ObjID(nums[0])
		v.Perms = nums[1]
		v.Dobj = nums[2]
		v.Prep = nums[3]
		v.Iobj = nums[4]
		obj.Verbs = append(obj.Verbs, v)
	}

	defCount, err := readIntLine(br)
	if err != nil {
		return nil, err
	}
	for i := 0; i < defCount; i++ {
		name, err := readLine(br)
		if err != nil {
			return nil, err
		}
		obj.PropDefs = append(obj.PropDefs, name)
	}

	valCount, err := readIntLine(br)
	if err != nil {
		return nil, err
	}
	for i := 0; i < valCount; i++ {
		var pv DumpPropVal
		if pv.Name, err = readLine(br); err != nil {
			return nil, err
		}
		val, clear, err := readDumpValue(br)
		if err != nil {
			return nil, err
		}
		pv.Clear = clear
		pv.Value = val
		n, err := readIntLine(br)
		if err != nil {
			return nil, err
		}
		pv.Owner = types.ObjID(n)
		if pv.Perms, err = readIntLine(br); err != nil {
			return nil, err
		}
		obj.PropVals = append(obj.PropVals, pv)
	}

	return obj, nil
}

// readDumpValue reads a tagged value: a type-code line then payload.
func readDumpValue(br *bufio.Reader) (types.Value, bool, error) {
	tc, err := readIntLine(br)
	if err != nil {
		return nil, false, err
	}
	switch tc {
	case typeClear:
		return nil, true, nil
	case typeNone, int(types.TYPE_NONE):
		return types.None(), false, nil
	case int(types.TYPE_INT):
		n, err := readIntLine(br)
		return types.NewInt(int64(n)), false, err
	case int(types.TYPE_OBJ):
		n, err := readIntLine(br)
		return types.NewObj(types.ObjID(n)), false, err
	case int(types.TYPE_ERR):
		n, err := readIntLine(br)
		return types.NewErr(types.ErrorCode(n)), false, err
	case int(types.TYPE_BOOL):
		n, err := readIntLine(br)
		return types.NewBool(n != 0), false, err
	case int(types.TYPE_STR):
		s, err := readLine(br)
		return types.NewStr(unescapeDump(s)), false, err
	case int(types.TYPE_SYM):
		s, err := readLine(br)
		return types.NewSym(s), false, err
	case int(types.TYPE_FLOAT):
		s, err := readLine(br)
		if err != nil {
			return nil, false, err
		}
		f, err := strconv.ParseFloat(s, 64)
		return types.NewFloat(f), false, err
	case int(types.TYPE_LIST):
		n, err := readIntLine(br)
		if err != nil {
			return nil, false, err
		}
		elems := make([]types.Value, n)
		for i := 0; i < n; i++ {
			v, _, err := readDumpValue(br)
			if err != nil {
				return nil, false, err
			}
			elems[i] = v
		}
		return types.NewList(elems), false, nil
	case int(types.TYPE_MAP):
		n, err := readIntLine(br)
		if err != nil {
			return nil, false, err
		}
		m := types.NewEmptyMap()
		for i := 0; i < n; i++ {
			k, _, err := readDumpValue(br)
			if err != nil {
				return nil, false, err
			}
			v, _, err := readDumpValue(br)
			if err != nil {
				return nil, false, err
			}
			m = m.Set(k, v)
		}
		return m, false, nil
	case int(types.TYPE_FLYWEIGHT):
		n, err := readIntLine(br)
		if err != nil {
			return nil, false, err
		}
		delegate := types.ObjID(n)
		slotsVal, _, err := readDumpValue(br)
		if err != nil {
			return nil, false, err
		}
		contentsVal, _, err := readDumpValue(br)
		if err != nil {
			return nil, false, err
		}
		slots, ok := slotsVal.(types.MapValue)
		if !ok {
			return nil, false, fmt.Errorf("flyweight slots not a map")
		}
		contents, ok := contentsVal.(types.ListValue)
		if !ok {
			return nil, false, fmt.Errorf("flyweight contents not a list")
		}
		return types.NewFlyweight(delegate, slots, contents), false, nil
	}
	return nil, false, fmt.Errorf("unknown value type code %d", tc)
}

func findDumpObject(d *Dump, id types.ObjID) *DumpObject {
	for _, o := range d.Objects {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Strings in dumps are single lines; embedded newlines are escaped.
func escapeDump(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func unescapeDump(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readIntLine(br *bufio.Reader) (int, error) {
	line, err := readLine(br)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %q", line)
	}
	return n, nil
}

// Load installs a parsed dump into the store as one committed
// transaction. Restores object records with their verbs and programs
// first so parent/children and location/contents inverses can be
// rebuilt, then property values.
func (s *Store) Load(d *Dump) error {
	tx := s.Begin()
	defer tx.Abort()

	maxID := types.ObjNothing
	for _, o := range d.Objects {
		if o.ID > maxID {
			maxID = o.ID
		}
		rec := &ObjectRecord{
			ID:       o.ID,
			Parent:   o.Parent,
			Owner:    o.Owner,
			Location: o.Location,
			Name:     o.Name,
			Flags:    flagsFromInt(o.Flags),
		}
		for _, name := range o.PropDefs {
			rec.PropOrder = append(rec.PropOrder, strings.ToLower(name))
		}
		for i, v := range o.Verbs {
			idx := int32(i)
			rec.VerbOrder = append(rec.VerbOrder, idx)
			var prep PrepSpec
			switch {
			case v.Prep == -2:
				prep = PrepAny
			case v.Prep == -1:
				prep = PrepNone
			default:
				prep = PrepSpec(v.Prep)
			}
			tx.put(verbKey(o.ID, idx), &VerbRecord{
				Names: v.Names,
				Owner: v.Owner,
				Perms: verbPermsFromInt(v.Perms),
				Args: VerbArgs{
					Dobj: ArgSpec(v.Dobj),
					Prep: prep,
					Iobj: ArgSpec(v.Iobj),
				},
				Source: strings.Join(v.Code, "\n"),
			})
		}
		rec.NextVerb = int32(len(o.Verbs))
		tx.put(objectKey(o.ID), rec)

		for _, def := range o.PropDefs {
			tx.put(propDefKey(o.ID, def), &PropDefRecord{Name: def})
		}
	}
	tx.put(maxObjectKey, &maxObjectRecord{Max: maxID})

	// Inverses: children and contents from parent and location.
	for _, o := range d.Objects {
		if o.Parent >= 0 {
			if po, ok := tx.objectForWrite(o.Parent); ok {
				po.Children = insertSorted(po.Children, o.ID)
			}
		}
		if o.Location >= 0 {
			if lo, ok := tx.objectForWrite(o.Location); ok {
				lo.Contents = insertSorted(lo.Contents, o.ID)
			}
		}
	}

	// Property values: each object lists values for the full set of
	// properties it inherits, in chain definition order. Definition
	// metadata (owner, perms) lives with the value on the definer.
	for _, o := range d.Objects {
		for _, pv := range o.PropVals {
			name := strings.ToLower(pv.Name)
			definer, _, found := tx.findPropDef(o.ID, name)
			if found && definer == o.ID {
				nd := &PropDefRecord{Name: pv.Name, Owner: pv.Owner, Perms: propPermsFromInt(pv.Perms)}
				tx.put(propDefKey(o.ID, name), nd)
			}
			if !pv.Clear {
				tx.put(propSlotKey(o.ID, name), &PropSlotRecord{Value: pv.Value, Owner: pv.Owner})
			}
		}
	}

	return tx.Commit()
}
