package app

import (
	"testing"

	"otzaria/pkg/domain"
	"otzaria/pkg/legacy"
)

func TestPageGroupsRecencyPolicy(t *testing.T) {
	g := newPageGroups()
	g.add("Foo", "a", map[string]any{"number": 1, "status": "completed", "updatedAt": "2024-02-01T00:00:00Z"})
	g.add("Foo", "b", map[string]any{"number": 1, "status": "available", "updatedAt": "2024-01-01T00:00:00Z"})
	g.add("Foo", "c", map[string]any{"number": 2, "status": "available"})
	g.add("Foo", "d", map[string]any{"number": 2, "status": "in-progress"})
	g.add("Bar", "e", map[string]any{"number": map[string]any{"$numberInt": "1"}})
	g.add("Foo", "f", "not a page")

	foo := g.byBook["Foo"]
	if got := foo[legacy.PageKey{Book: "Foo", Number: 1, Numbered: true}].source; got != "a" {
		t.Fatalf("older revision replaced newer one: winner from %s", got)
	}
	if got := foo[legacy.PageKey{Book: "Foo", Number: 2, Numbered: true}].source; got != "d" {
		t.Fatalf("expected later-seen entry to win a tie, winner from %s", got)
	}
	if len(g.order) != 2 || g.order[0] != "Foo" || g.order[1] != "Bar" {
		t.Fatalf("unexpected book order %v", g.order)
	}
	if g.skipped != 1 {
		t.Fatalf("expected one skipped entry, got %d", g.skipped)
	}
}

func TestPageGroupsNullKeyIsSeparate(t *testing.T) {
	g := newPageGroups()
	g.add("Foo", "a", map[string]any{"status": "completed"})
	g.add("Foo", "a", map[string]any{"number": nil, "status": "available"})
	g.add("Foo", "a", map[string]any{"number": 0, "status": "available"})

	foo := g.byBook["Foo"]
	if len(foo) != 2 {
		t.Fatalf("expected the null key and page 0 as separate groups, got %d", len(foo))
	}
	st := newIdentityState()
	st.groups = g
	st.identity = newIdentityMap()
	st.content = legacy.ContentIndex{}
	books := finalize(st)
	if len(books) != 1 || books[0].Unnumbered != 1 || len(books[0].Pages) != 1 {
		t.Fatalf("unexpected finalize output: %+v", books)
	}
}

func TestFinalizeSortsAndCounts(t *testing.T) {
	g := newPageGroups()
	for _, n := range []int{3, 1, 2} {
		status := "available"
		if n != 2 {
			status = "completed"
		}
		g.add("Foo", "a", map[string]any{"number": n, "status": status, "claimedById": "u1"})
	}
	st := newIdentityState()
	st.groups = g
	st.identity = newIdentityMap()
	st.identity.register("u1", "Dan", "id-dan")
	st.content = legacy.ContentIndex{}

	books := finalize(st)
	pages := books[0].Pages
	for i, p := range pages {
		if p.PageNumber != i+1 {
			t.Fatalf("pages not sorted: %v", pages)
		}
	}
	if books[0].CompletedCount != 2 {
		t.Fatalf("completed count = %d, want 2", books[0].CompletedCount)
	}
	if pages[0].ClaimedBy == nil || *pages[0].ClaimedBy != "id-dan" {
		t.Fatalf("claimant not resolved")
	}
	if pages[1].Status != domain.PageAvailable || pages[1].ClaimedAt != nil {
		t.Fatalf("unexpected available page: %+v", pages[1])
	}
}

func TestFinalizeUnknownStatusIsAvailable(t *testing.T) {
	g := newPageGroups()
	g.add("Foo", "a", map[string]any{"number": 1, "status": "reviewing"})
	st := newIdentityState()
	st.groups = g
	st.identity = newIdentityMap()
	st.content = legacy.ContentIndex{}

	books := finalize(st)
	if books[0].Pages[0].Status != domain.PageAvailable {
		t.Fatalf("unknown status should become available")
	}
	if len(st.warnings) != 1 {
		t.Fatalf("expected a warning for the unknown status, got %v", st.warnings)
	}
}

func TestPageImagePath(t *testing.T) {
	if got := pageImagePath("foo", 7, ""); got != "/uploads/books/foo/page.7.jpg" {
		t.Fatalf("unexpected default path %q", got)
	}
	if got := pageImagePath("foo", 7, "https://cdn/x.jpg"); got != "https://cdn/x.jpg" {
		t.Fatalf("thumbnail not kept: %q", got)
	}
}
