package models

import "testing"

func TestParseObjectType(t *testing.T) {
	for _, typ := range ObjectTypes() {
		got, err := ParseObjectType(string(typ))
		if err != nil || got != typ {
			t.Errorf("ParseObjectType(%q) = %q, %v", typ, got, err)
		}
	}
	if _, err := ParseObjectType("spaceship"); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := ParseObjectType(""); err == nil {
		t.Error("expected error for empty type")
	}
}

func TestParseRelationType(t *testing.T) {
	for _, typ := range RelationTypes() {
		if _, err := ParseRelationType(string(typ)); err != nil {
			t.Errorf("ParseRelationType(%q): %v", typ, err)
		}
	}
	if _, err := ParseRelationType("likes"); err == nil {
		t.Error("expected error for unknown relation type")
	}
}

func TestObjectTypesIsCopy(t *testing.T) {
	types := ObjectTypes()
	types[0] = "mutated"
	if ObjectTypes()[0] == "mutated" {
		t.Error("ObjectTypes leaked its backing array")
	}
}

func TestRelationOther(t *testing.T) {
	r := Relation{FromObjectID: "a", ToObjectID: "b"}
	if r.Other("a") != "b" || r.Other("b") != "a" {
		t.Errorf("Other: got %q / %q", r.Other("a"), r.Other("b"))
	}
}

func TestDirectionValid(t *testing.T) {
	for _, d := range []Direction{DirectionFrom, DirectionTo, DirectionBoth} {
		if !d.Valid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if Direction("sideways").Valid() {
		t.Error("sideways should be invalid")
	}
}
