package types

import "testing"

func TestCompareSameKind(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"ints", NewInt(1), NewInt(2), -1},
		{"ints equal", NewInt(5), NewInt(5), 0},
		{"floats", NewFloat(2.5), NewFloat(1.0), 1},
		{"int float", NewInt(1), NewFloat(1.5), -1},
		{"float int", NewFloat(3.0), NewInt(2), 1},
		{"strings fold case", NewStr("Apple"), NewStr("apple"), 0},
		{"strings", NewStr("a"), NewStr("b"), -1},
		{"objs", NewObj(3), NewObj(1), 1},
		{"errors", NewErr(E_TYPE), NewErr(E_DIV), -1},
		{"symbols", NewSym("aa"), NewSym("ab"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b)
			if !ok {
				t.Fatalf("Compare(%s, %s) not ok", tt.a, tt.b)
			}
			if got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareCrossKind(t *testing.T) {
	if _, ok := Compare(NewInt(1), NewStr("1")); ok {
		t.Error("int vs string should not be comparable")
	}
	if _, ok := Compare(NewList(nil), NewList(nil)); ok {
		t.Error("lists have no < ordering")
	}
}

func TestSymbolInterning(t *testing.T) {
	a := NewSym("verb_name")
	b := NewSym("verb_name")
	c := NewSym("other")
	if !a.Equal(b) {
		t.Error("same text should intern to equal symbols")
	}
	if a.Equal(c) {
		t.Error("distinct text should not be equal")
	}
	if a.Name() != "verb_name" {
		t.Errorf("Name() = %q", a.Name())
	}
}

func TestValueHashMatchesEquality(t *testing.T) {
	pairs := []struct {
		a, b Value
	}{
		{NewStr("Foo"), NewStr("foo")},
		{NewList([]Value{NewInt(1), NewStr("A")}), NewList([]Value{NewInt(1), NewStr("a")})},
		{NewEmptyMap().Set(NewInt(1), NewInt(2)), NewEmptyMap().Set(NewInt(1), NewInt(2))},
	}
	for _, p := range pairs {
		if !p.a.Equal(p.b) {
			t.Fatalf("test values should be equal: %s vs %s", p.a, p.b)
		}
		if ValueHash(p.a) != ValueHash(p.b) {
			t.Errorf("equal values hash differently: %s vs %s", p.a, p.b)
		}
	}
	if ValueHash(NewInt(1)) == ValueHash(NewStr("1")) {
		t.Error("different kinds should (almost surely) hash differently")
	}
}

func TestFlyweightStructure(t *testing.T) {
	slots := NewEmptyMap().Set(NewSym("color"), NewStr("red"))
	f := NewFlyweight(7, slots, NewEmptyList())

	if v, ok := f.Slot(NewSym("color")); !ok || !v.Equal(NewStr("red")) {
		t.Error("slot read failed")
	}
	if _, ok := f.Slot(NewSym("size")); ok {
		t.Error("absent slot should miss")
	}

	g := f.WithSlot(NewSym("size"), NewInt(3))
	if _, ok := f.Slot(NewSym("size")); ok {
		t.Error("WithSlot mutated the original")
	}
	if !g.Equal(NewFlyweight(7, slots.Set(NewSym("size"), NewInt(3)), NewEmptyList())) {
		t.Error("flyweight equality should be structural")
	}
	if f.String() != `<#7, ['color -> "red"]>` {
		t.Errorf("literal form = %s", f.String())
	}
}
