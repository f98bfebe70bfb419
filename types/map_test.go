package types

import "testing"

func TestMapKeyOrder(t *testing.T) {
	m := NewEmptyMap()
	m = m.Set(NewStr("zebra"), NewInt(1))
	m = m.Set(NewStr("apple"), NewInt(2))
	m = m.Set(NewInt(7), NewInt(3))

	// Iteration is in key order: ints sort before strings.
	keys := m.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if !keys[0].Equal(NewInt(7)) {
		t.Errorf("first key = %s", keys[0])
	}
	if !keys[1].Equal(NewStr("apple")) || !keys[2].Equal(NewStr("zebra")) {
		t.Errorf("string keys out of order: %s, %s", keys[1], keys[2])
	}
}

func TestMapPersistence(t *testing.T) {
	m1 := NewEmptyMap().Set(NewStr("a"), NewInt(1))
	m2 := m1.Set(NewStr("a"), NewInt(2))
	m3, deleted := m2.Delete(NewStr("a"))

	if v, _ := m1.Get(NewStr("a")); !v.Equal(NewInt(1)) {
		t.Error("m1 changed by later Set")
	}
	if v, _ := m2.Get(NewStr("a")); !v.Equal(NewInt(2)) {
		t.Error("m2 has wrong value")
	}
	if !deleted || m3.Len() != 0 {
		t.Error("Delete failed")
	}
	if _, stillDeleted := m3.Delete(NewStr("a")); stillDeleted {
		t.Error("deleting an absent key should report false")
	}
}

func TestMapCaseInsensitiveStringKeys(t *testing.T) {
	m := NewEmptyMap().Set(NewStr("Key"), NewInt(1))
	if v, ok := m.Get(NewStr("key")); !ok || !v.Equal(NewInt(1)) {
		t.Error("string keys should match case-insensitively")
	}
	m = m.Set(NewStr("KEY"), NewInt(2))
	if m.Len() != 1 {
		t.Errorf("case-variant set should overwrite, len = %d", m.Len())
	}
}

func TestMapEqualityAndLiteral(t *testing.T) {
	a := NewEmptyMap().Set(NewInt(2), NewStr("b")).Set(NewInt(1), NewStr("a"))
	b := NewEmptyMap().Set(NewInt(1), NewStr("a")).Set(NewInt(2), NewStr("b"))
	if !a.Equal(b) {
		t.Error("insertion order must not affect equality")
	}
	if a.String() != `[1 -> "a", 2 -> "b"]` {
		t.Errorf("literal form = %s", a.String())
	}
}
