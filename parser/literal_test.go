package parser

import (
	"testing"

	"github.com/Oliver2213/moor/types"
)

// Every value kind round-trips through its literal form.
func TestLiteralRoundTrip(t *testing.T) {
	values := []types.Value{
		types.NewInt(0),
		types.NewInt(-42),
		types.NewInt(9223372036854775807),
		types.NewFloat(3.25),
		types.NewFloat(-0.5),
		types.NewFloat(1e100),
		types.NewStr(""),
		types.NewStr("hello world"),
		types.NewStr("with \"quotes\" and \\backslash\\"),
		types.NewStr("line\nbreak\ttab"),
		types.NewObj(0),
		types.NewObj(types.ObjNothing),
		types.NewObj(12345),
		types.NewErr(types.E_TYPE),
		types.NewErr(types.E_QUOTA),
		types.NewBool(true),
		types.NewBool(false),
		types.NewSym("north"),
		types.None(),
		types.NewEmptyList(),
		types.NewList([]types.Value{
			types.NewInt(1),
			types.NewStr("two"),
			types.NewList([]types.Value{types.NewObj(3)}),
		}),
		types.NewEmptyMap(),
		types.NewEmptyMap().
			Set(types.NewInt(1), types.NewStr("one")).
			Set(types.NewStr("k"), types.NewList([]types.Value{types.NewBool(true)})),
		types.NewFlyweight(7, types.NewEmptyMap(), types.NewEmptyList()),
		types.NewFlyweight(7,
			types.NewEmptyMap().Set(types.NewSym("color"), types.NewStr("red")),
			types.NewList([]types.Value{types.NewInt(1)})),
	}

	for _, v := range values {
		lit := v.String()
		t.Run(lit, func(t *testing.T) {
			back, err := ParseLiteral(lit)
			if err != nil {
				t.Fatalf("ParseLiteral(%q): %v", lit, err)
			}
			if !back.Equal(v) {
				t.Errorf("round trip changed value: %s -> %s", lit, back.String())
			}
			// And the reprint is stable.
			if back.String() != lit {
				t.Errorf("reprint differs: %q -> %q", lit, back.String())
			}
		})
	}
}

func TestLiteralRejectsNonLiterals(t *testing.T) {
	bad := []string{
		"x",
		"1 + 2",
		"{1, f()}",
		"obj.prop",
		"",
	}
	for _, src := range bad {
		if _, err := ParseLiteral(src); err == nil {
			t.Errorf("ParseLiteral(%q) should fail", src)
		}
	}
}
