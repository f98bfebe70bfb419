package builtins

import (
	"strings"

	"github.com/Oliver2213/moor/types"
)

func registerStrings(r *Registry) {
	r.Register("strsub", 3, 4, bfStrsub)
	r.Register("index", 2, 3, bfIndex)
	r.Register("rindex", 2, 3, bfRindex)
	r.Register("strcmp", 2, 2, bfStrcmp)
	r.Register("upcase", 1, 1, bfUpcase)
	r.Register("downcase", 1, 1, bfDowncase)
	r.Register("capitalize", 1, 1, bfCapitalize)
	r.Register("explode", 1, 2, bfExplode)
	r.Register("trim", 1, 2, bfTrim)
	r.Register("ltrim", 1, 2, bfLtrim)
	r.Register("rtrim", 1, 2, bfRtrim)
}

func wantStr(v types.Value) (string, bool) {
	s, ok := v.(types.StrValue)
	if !ok {
		return "", false
	}
	return s.Value(), true
}

// strsub(subject, what, with [, case-matters])
func bfStrsub(ctx *Context, args []types.Value) Result {
	subject, ok1 := wantStr(args[0])
	what, ok2 := wantStr(args[1])
	with, ok3 := wantStr(args[2])
	if !ok1 || !ok2 || !ok3 {
		return Raise(types.E_TYPE)
	}
	if what == "" {
		return Raise(types.E_INVARG)
	}
	caseMatters := len(args) > 3 && args[3].Truthy()
	if caseMatters {
		return Ok(types.NewStr(strings.ReplaceAll(subject, what, with)))
	}
	var b strings.Builder
	lowSub := strings.ToLower(subject)
	lowWhat := strings.ToLower(what)
	i := 0
	for {
		j := strings.Index(lowSub[i:], lowWhat)
		if j < 0 {
			b.WriteString(subject[i:])
			break
		}
		b.WriteString(subject[i : i+j])
		b.WriteString(with)
		i += j + len(what)
	}
	return Ok(types.NewStr(b.String()))
}

func bfIndex(ctx *Context, args []types.Value) Result {
	s, ok1 := wantStr(args[0])
	sub, ok2 := wantStr(args[1])
	if !ok1 || !ok2 {
		return Raise(types.E_TYPE)
	}
	if len(args) <= 2 || !args[2].Truthy() {
		s = strings.ToLower(s)
		sub = strings.ToLower(sub)
	}
	return Ok(types.NewInt(int64(strings.Index(s, sub) + 1)))
}

func bfRindex(ctx *Context, args []types.Value) Result {
	s, ok1 := wantStr(args[0])
	sub, ok2 := wantStr(args[1])
	if !ok1 || !ok2 {
		return Raise(types.E_TYPE)
	}
	if len(args) <= 2 || !args[2].Truthy() {
		s = strings.ToLower(s)
		sub = strings.ToLower(sub)
	}
	return Ok(types.NewInt(int64(strings.LastIndex(s, sub) + 1)))
}

// strcmp is case-sensitive byte comparison.
func bfStrcmp(ctx *Context, args []types.Value) Result {
	a, ok1 := wantStr(args[0])
	b, ok2 := wantStr(args[1])
	if !ok1 || !ok2 {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewInt(int64(strings.Compare(a, b))))
}

func bfUpcase(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewStr(strings.ToUpper(s)))
}

func bfDowncase(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewStr(strings.ToLower(s)))
}

func bfCapitalize(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	if s == "" {
		return Ok(types.NewStr(s))
	}
	return Ok(types.NewStr(strings.ToUpper(s[:1]) + s[1:]))
}

// explode(subject [, separator]) splits on the separator (default
// space), dropping empty fields, the LambdaMOO behavior.
func bfExplode(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	sep := " "
	if len(args) > 1 {
		if sep, ok = wantStr(args[1]); !ok {
			return Raise(types.E_TYPE)
		}
		if sep == "" {
			return Raise(types.E_INVARG)
		}
	}
	var out []types.Value
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, types.NewStr(part))
		}
	}
	return Ok(types.NewList(out))
}

func trimSet(args []types.Value) (string, bool) {
	if len(args) > 1 {
		s, ok := wantStr(args[1])
		return s, ok
	}
	return " \t", true
}

func bfTrim(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	cut, ok := trimSet(args)
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewStr(strings.Trim(s, cut)))
}

func bfLtrim(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	cut, ok := trimSet(args)
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewStr(strings.TrimLeft(s, cut)))
}

func bfRtrim(ctx *Context, args []types.Value) Result {
	s, ok := wantStr(args[0])
	if !ok {
		return Raise(types.E_TYPE)
	}
	cut, ok := trimSet(args)
	if !ok {
		return Raise(types.E_TYPE)
	}
	return Ok(types.NewStr(strings.TrimRight(s, cut)))
}
