package catalog

import "testing"

func TestByName_Found(t *testing.T) {
	c, ok := ByName("rrc00")
	if !ok {
		t.Fatal("expected rrc00 to be found")
	}
	if c.Project != "riperis" {
		t.Fatalf("expected riperis project, got %s", c.Project)
	}
}

func TestByName_NotFound(t *testing.T) {
	if _, ok := ByName("does-not-exist"); ok {
		t.Fatal("expected lookup to fail for unknown collector")
	}
}

func TestByProject_RouteViewsAlias(t *testing.T) {
	a := ByProject("route-views")
	b := ByProject("routeviews")
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("expected both spellings to return the same non-empty set, got %d vs %d", len(a), len(b))
	}
}

func TestAll_Immutable(t *testing.T) {
	a := All()
	a[0].Name = "mutated"
	b := All()
	if b[0].Name == "mutated" {
		t.Fatal("All() should return a copy, not the shared backing array")
	}
}

func TestNames_EmptyProjectReturnsEverything(t *testing.T) {
	names := Names("")
	if len(names) != len(collectors) {
		t.Fatalf("expected %d names, got %d", len(collectors), len(names))
	}
}
