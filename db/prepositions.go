package db

import "strings"

// PrepSpec identifies a preposition in a verb's argument triple:
// PrepAny, PrepNone, or an index into the server preposition table.
type PrepSpec int

const (
	PrepAny  PrepSpec = -2
	PrepNone PrepSpec = -1
)

// prepTable is the LambdaMOO preposition list. Each entry is a set of
// aliases; the first alias is the canonical spelling used by
// verb_args() and dumps. Multi-word prepositions are single entries
// whose aliases contain spaces.
var prepTable = [][]string{
	{"with", "using"},
	{"at", "to"},
	{"in front of"},
	{"in", "inside", "into"},
	{"on top of", "on", "onto", "upon"},
	{"out of", "from inside", "from"},
	{"over"},
	{"through"},
	{"under", "underneath", "beneath"},
	{"behind"},
	{"beside"},
	{"for", "about"},
	{"is"},
	{"as"},
	{"off", "off of"},
}

// PrepName returns the canonical spelling for a preposition spec.
func PrepName(p PrepSpec) string {
	switch p {
	case PrepAny:
		return "any"
	case PrepNone:
		return "none"
	}
	if int(p) >= 0 && int(p) < len(prepTable) {
		return prepTable[p][0]
	}
	return "none"
}

// ParsePrep resolves a preposition spelling (or "any"/"none") to its
// spec. Aliases joined with '/' are accepted, matching how verbs are
// programmed ("with/using").
func ParsePrep(s string) (PrepSpec, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "any":
		return PrepAny, true
	case "none":
		return PrepNone, true
	}
	for i, aliases := range prepTable {
		for _, a := range aliases {
			if s == a {
				return PrepSpec(i), true
			}
		}
		if s == strings.Join(aliases, "/") {
			return PrepSpec(i), true
		}
	}
	return PrepNone, false
}

// MatchPrep scans command words starting at index i for the longest
// preposition match. Returns the spec and the number of words used,
// or ok=false when words[i:] starts with no preposition.
func MatchPrep(words []string, i int) (PrepSpec, int, bool) {
	best := -1
	bestLen := 0
	for pi, aliases := range prepTable {
		for _, a := range aliases {
			parts := strings.Fields(a)
			if len(parts) <= bestLen || i+len(parts) > len(words) {
				continue
			}
			match := true
			for j, p := range parts {
				if !strings.EqualFold(words[i+j], p) {
					match = false
					break
				}
			}
			if match {
				best = pi
				bestLen = len(parts)
			}
		}
	}
	if best < 0 {
		return PrepNone, 0, false
	}
	return PrepSpec(best), bestLen, true
}
