package types

import "testing"

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		code  ErrorCode
		value int
		name  string
	}{
		{E_NONE, 0, "E_NONE"},
		{E_TYPE, 1, "E_TYPE"},
		{E_DIV, 2, "E_DIV"},
		{E_PERM, 3, "E_PERM"},
		{E_PROPNF, 4, "E_PROPNF"},
		{E_VERBNF, 5, "E_VERBNF"},
		{E_VARNF, 6, "E_VARNF"},
		{E_INVIND, 7, "E_INVIND"},
		{E_RECMOVE, 8, "E_RECMOVE"},
		{E_MAXREC, 9, "E_MAXREC"},
		{E_RANGE, 10, "E_RANGE"},
		{E_ARGS, 11, "E_ARGS"},
		{E_NACC, 12, "E_NACC"},
		{E_INVARG, 13, "E_INVARG"},
		{E_QUOTA, 14, "E_QUOTA"},
		{E_FLOAT, 15, "E_FLOAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.code) != tt.value {
				t.Errorf("%s: expected value %d, got %d", tt.name, tt.value, int(tt.code))
			}
			if tt.code.String() != tt.name {
				t.Errorf("%s: String() returned %q", tt.name, tt.code.String())
			}
			back, ok := ErrorFromString(tt.name)
			if !ok || back != tt.code {
				t.Errorf("%s: ErrorFromString returned %v, %v", tt.name, back, ok)
			}
		})
	}
}

func TestObjIDConstants(t *testing.T) {
	if ObjNothing != -1 {
		t.Errorf("ObjNothing should be -1, got %d", ObjNothing)
	}
	if ObjAmbiguous != -2 {
		t.Errorf("ObjAmbiguous should be -2, got %d", ObjAmbiguous)
	}
	if ObjFailedMatch != -3 {
		t.Errorf("ObjFailedMatch should be -3, got %d", ObjFailedMatch)
	}
}

func TestErrValueEquality(t *testing.T) {
	a := NewErr(E_PERM)
	b := NewErrMsg(E_PERM, "you cannot do that")
	if !a.Equal(b) {
		t.Error("errors with the same code should be equal regardless of message")
	}
	if a.Equal(NewErr(E_TYPE)) {
		t.Error("E_PERM should not equal E_TYPE")
	}
	if b.Message() != "you cannot do that" {
		t.Errorf("explicit message lost: %q", b.Message())
	}
	if a.Message() != "Permission denied" {
		t.Errorf("default message wrong: %q", a.Message())
	}
}

func TestTruthiness(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"zero int", NewInt(0), false},
		{"nonzero int", NewInt(-3), true},
		{"zero float", NewFloat(0.0), false},
		{"nonzero float", NewFloat(0.5), true},
		{"empty string", NewStr(""), false},
		{"string", NewStr("x"), true},
		{"empty list", NewEmptyList(), false},
		{"list", NewList([]Value{NewInt(1)}), true},
		{"empty map", NewEmptyMap(), false},
		{"negative obj", NewObj(ObjNothing), false},
		{"obj", NewObj(0), true},
		{"error", NewErr(E_RANGE), false},
		{"none", None(), false},
		{"symbol", NewSym("foo"), true},
		{"false", NewBool(false), false},
		{"true", NewBool(true), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Truthy() != tt.want {
				t.Errorf("Truthy() = %v, want %v", tt.v.Truthy(), tt.want)
			}
		})
	}
}

func TestStringLiterals(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NewInt(42), "42"},
		{NewInt(-7), "-7"},
		{NewFloat(3.5), "3.5"},
		{NewFloat(2.0), "2.0"},
		{NewStr("hi"), `"hi"`},
		{NewStr(`a"b\c`), `"a\"b\\c"`},
		{NewObj(0), "#0"},
		{NewObj(ObjNothing), "#-1"},
		{NewErr(E_DIV), "E_DIV"},
		{NewSym("foo"), "'foo"},
		{NewBool(true), "true"},
		{NewList([]Value{NewInt(1), NewStr("a")}), `{1, "a"}`},
		{NewEmptyMap(), "[]"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
