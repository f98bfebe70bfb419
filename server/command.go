package server

import (
	"strings"

	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
	"github.com/Oliver2213/moor/vm"
)

// ParsedCommand is the result of the built-in command parser: the
// verb word plus the dobj/prep/iobj split and the matched objects.
type ParsedCommand struct {
	Verb    string
	Argstr  string
	Args    []string
	Dobjstr string
	Dobj    types.ObjID
	Prepstr string
	Prep    db.PrepSpec
	Iobjstr string
	Iobj    types.ObjID
}

// tokenize splits a command line into words, honoring double quotes.
func tokenize(line string) []string {
	var words []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
		case ch == ' ' && !inQuote:
			if cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}

// ParseCommand runs the built-in parse: split off the verb word, find
// the longest preposition, and match the object phrases against the
// player's surroundings.
func ParseCommand(tx *db.Tx, player types.ObjID, line string) *ParsedCommand {
	words := tokenize(line)
	if len(words) == 0 {
		return nil
	}
	cmd := &ParsedCommand{
		Verb: words[0],
		Args: words[1:],
		Prep: db.PrepNone,
		Dobj: types.ObjNothing,
		Iobj: types.ObjNothing,
	}
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		cmd.Argstr = strings.TrimLeft(line[idx+1:], " ")
	}

	rest := words[1:]
	prepAt := -1
	prepLen := 0
	for i := range rest {
		if spec, n, ok := db.MatchPrep(rest, i); ok {
			cmd.Prep = spec
			prepAt = i
			prepLen = n
			break
		}
	}
	if prepAt >= 0 {
		cmd.Dobjstr = strings.Join(rest[:prepAt], " ")
		cmd.Prepstr = strings.Join(rest[prepAt:prepAt+prepLen], " ")
		cmd.Iobjstr = strings.Join(rest[prepAt+prepLen:], " ")
	} else {
		cmd.Dobjstr = strings.Join(rest, " ")
	}

	cmd.Dobj = MatchObject(tx, player, cmd.Dobjstr)
	cmd.Iobj = MatchObject(tx, player, cmd.Iobjstr)
	return cmd
}

// specAccepts applies one argument spec against the parsed object,
// where "this" means the object the verb was found on.
func specAccepts(spec db.ArgSpec, parsed, this types.ObjID) bool {
	switch spec {
	case db.ArgNone:
		return parsed == types.ObjNothing
	case db.ArgAny:
		return true
	case db.ArgThis:
		return parsed == this
	}
	return false
}

func prepAccepts(spec db.PrepSpec, parsed db.PrepSpec) bool {
	switch spec {
	case db.PrepAny:
		return true
	case db.PrepNone:
		return parsed == db.PrepNone
	}
	return spec == parsed
}

// FindCommandVerb searches one candidate object (and its ancestors)
// for a verb matching the command's name and argument specs.
func FindCommandVerb(tx *db.Tx, candidate types.ObjID, cmd *ParsedCommand) (db.VerbHandle, *db.VerbRecord, bool) {
	for cur := candidate; cur >= 0; {
		for _, h := range tx.VerbHandlesOn(cur) {
			v, ok := tx.GetVerb(h)
			if !ok || !v.MatchesName(cmd.Verb) {
				continue
			}
			if !specAccepts(v.Args.Dobj, cmd.Dobj, candidate) {
				continue
			}
			if !prepAccepts(v.Args.Prep, cmd.Prep) {
				continue
			}
			if !specAccepts(v.Args.Iobj, cmd.Iobj, candidate) {
				continue
			}
			return db.VerbHandle{Obj: h.Obj, Index: h.Index}, v, true
		}
		p, code := tx.Parent(cur)
		if code != types.E_NONE {
			break
		}
		cur = p
	}
	return db.VerbHandle{}, nil, false
}

// DispatchCommand locates the verb for a parsed command using the
// LambdaMOO candidate order: player, location, dobj, iobj. Returns
// the candidate the verb runs on as `this`.
func DispatchCommand(tx *db.Tx, player types.ObjID, cmd *ParsedCommand) (db.VerbHandle, *db.VerbRecord, types.ObjID, bool) {
	loc, _ := tx.Location(player)
	candidates := []types.ObjID{player, loc, cmd.Dobj, cmd.Iobj}
	seen := make(map[types.ObjID]bool)
	for _, c := range candidates {
		if c < 0 || seen[c] || !tx.Valid(c) {
			continue
		}
		seen[c] = true
		if h, v, ok := FindCommandVerb(tx, c, cmd); ok {
			return h, v, c, true
		}
	}
	return db.VerbHandle{}, nil, types.ObjNothing, false
}

// Env renders the parse for frame binding.
func (cmd *ParsedCommand) Env() *vm.CommandEnv {
	return &vm.CommandEnv{
		Argstr:  cmd.Argstr,
		Args:    cmd.Args,
		Dobj:    cmd.Dobj,
		Dobjstr: cmd.Dobjstr,
		Prepstr: cmd.Prepstr,
		Iobj:    cmd.Iobj,
		Iobjstr: cmd.Iobjstr,
	}
}
