package server

import (
	"strconv"
	"strings"

	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/types"
)

// MatchObject resolves an object phrase the way players expect: "me",
// "here", "#n", "$name", then name and alias matching over the
// player's inventory and surroundings. Exact matches beat prefix
// matches; several equal candidates yield $ambiguous_match.
func MatchObject(tx *db.Tx, player types.ObjID, phrase string) types.ObjID {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return types.ObjNothing
	}
	lower := strings.ToLower(phrase)

	switch lower {
	case "me":
		return player
	case "here":
		loc, _ := tx.Location(player)
		return loc
	}
	if strings.HasPrefix(phrase, "#") {
		if n, err := strconv.ParseInt(phrase[1:], 10, 32); err == nil {
			id := types.ObjID(n)
			if tx.Valid(id) {
				return id
			}
			return types.ObjFailedMatch
		}
	}
	if strings.HasPrefix(phrase, "$") {
		wiz := db.Perms{Who: player}
		if v, code := tx.GetProperty(wiz, 0, phrase[1:]); code == types.E_NONE {
			if o, ok := v.(types.ObjValue); ok && tx.Valid(o.Val) {
				return o.Val
			}
		}
		return types.ObjFailedMatch
	}

	var pool []types.ObjID
	if contents, code := tx.Contents(player); code == types.E_NONE {
		pool = append(pool, contents...)
	}
	if loc, code := tx.Location(player); code == types.E_NONE && loc >= 0 {
		pool = append(pool, loc)
		if contents, code := tx.Contents(loc); code == types.E_NONE {
			pool = append(pool, contents...)
		}
	}

	exact := types.ObjFailedMatch
	exactCount := 0
	prefix := types.ObjFailedMatch
	prefixCount := 0
	for _, cand := range pool {
		if cand == player {
			continue
		}
		for _, name := range objectNames(tx, cand) {
			n := strings.ToLower(name)
			if n == lower {
				if exact != cand {
					exact = cand
					exactCount++
				}
				break
			}
			if strings.HasPrefix(n, lower) {
				if prefix != cand {
					prefix = cand
					prefixCount++
				}
			}
		}
	}
	switch {
	case exactCount == 1:
		return exact
	case exactCount > 1:
		return types.ObjAmbiguous
	case prefixCount == 1:
		return prefix
	case prefixCount > 1:
		return types.ObjAmbiguous
	}
	return types.ObjFailedMatch
}

// objectNames is an object's name plus its aliases property, when it
// holds a list of strings.
func objectNames(tx *db.Tx, obj types.ObjID) []string {
	var out []string
	if name, code := tx.Name(obj); code == types.E_NONE && name != "" {
		out = append(out, name)
	}
	p := db.Perms{Who: obj}
	if v, code := tx.GetProperty(p, obj, "aliases"); code == types.E_NONE {
		if l, ok := v.(types.ListValue); ok {
			for _, e := range l.Elements() {
				if s, ok := e.(types.StrValue); ok {
					out = append(out, s.Value())
				}
			}
		}
	}
	return out
}
