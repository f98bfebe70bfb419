package types

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// StrValue represents a MOO string. Strings are immutable; all slicing
// and concatenation produce new values. Comparison and equality are
// case-insensitive, the MOO convention.
type StrValue struct {
	val string
}

func NewStr(s string) StrValue { return StrValue{val: s} }

// String returns the quoted literal form with escapes.
func (s StrValue) String() string {
	var b strings.Builder
	b.Grow(len(s.val) + 2)
	b.WriteByte('"')
	for _, r := range s.val {
		switch r {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		case '\r':
			b.WriteString("\\r")
		default:
			if r < 32 {
				fmt.Fprintf(&b, "\\x%02X", r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (s StrValue) Type() TypeCode { return TYPE_STR }

func (s StrValue) Truthy() bool { return len(s.val) > 0 }

func (s StrValue) Equal(other Value) bool {
	if o, ok := other.(StrValue); ok {
		return strings.EqualFold(s.val, o.val)
	}
	return false
}

// Value returns the raw Go string.
func (s StrValue) Value() string { return s.val }

// Len returns the length in runes; MOO indexes strings by character.
func (s StrValue) Len() int { return utf8.RuneCountInString(s.val) }

// Index returns the 1-based character at i, or false when out of range.
func (s StrValue) Index(i int) (StrValue, bool) {
	if i < 1 {
		return StrValue{}, false
	}
	n := 1
	for _, r := range s.val {
		if n == i {
			return NewStr(string(r)), true
		}
		n++
	}
	return StrValue{}, false
}

// Slice returns the 1-based inclusive character range [start..end].
// An empty range (start == end+1) is permitted and yields "".
func (s StrValue) Slice(start, end int) (StrValue, bool) {
	n := s.Len()
	if start == end+1 && start >= 1 && start <= n+1 {
		return NewStr(""), true
	}
	if start < 1 || end > n || start > end {
		return StrValue{}, false
	}
	runes := []rune(s.val)
	return NewStr(string(runes[start-1 : end])), true
}

// Concat appends another string.
func (s StrValue) Concat(o StrValue) StrValue {
	return NewStr(s.val + o.val)
}
