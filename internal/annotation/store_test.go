package annotation

import (
	"context"
	"errors"
	"testing"

	"marginalia/api/internal/palette"
)

func TestLoadOrdersByNumber(t *testing.T) {
	backend := NewMemoryStore()
	_ = backend.Set(context.Background(), StoreKey("d"), []Comment{
		{ID: "b", Number: 2},
		{ID: "a", Number: 1},
	})
	s := NewCommentStore("d", backend, palette.Default)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ids := s.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	s := NewCommentStore("nothing", NewMemoryStore(), nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestRenumberDropsUnlistedAndReportsChanges(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	s := NewCommentStore("d", backend, palette.Palette{"red", "green"})
	for i, id := range []string{"a", "b", "c"} {
		c := Comment{ID: id, Number: i + 1, Color: s.palette.Color(i + 1)}
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	changed, err := s.Renumber(ctx, []string{"a", "c"})
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}
	if len(changed) != 1 || changed[0] != "c" {
		t.Fatalf("expected only c to change, got %v", changed)
	}
	c, _ := s.Get("c")
	if c.Number != 2 || c.Color != "green" {
		t.Fatalf("unexpected record %+v", c)
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("expected b dropped")
	}
	stored, _, _ := backend.Get(ctx, StoreKey("d"))
	if len(stored) != 2 {
		t.Fatalf("expected renumber persisted, got %d records", len(stored))
	}
}

func TestStoreMutationsRequireKnownID(t *testing.T) {
	s := NewCommentStore("d", NewMemoryStore(), nil)
	if _, err := s.UpdateText(context.Background(), "x", "t"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
	if err := s.Remove(context.Background(), "x"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
	if err := s.Create(context.Background(), Comment{ID: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(context.Background(), Comment{ID: "x"}); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
}

func TestSaveFailureWrapsErrPersist(t *testing.T) {
	backend := &flakyStore{MemoryStore: NewMemoryStore(), fail: true}
	s := NewCommentStore("d", backend, nil)
	err := s.Create(context.Background(), Comment{ID: "x", Number: 1})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("in-memory record should survive a failed save")
	}
}

func TestParseOrder(t *testing.T) {
	for in, want := range map[string]Order{"": OrderInsertion, "insertion": OrderInsertion, "document": OrderDocument} {
		got, err := ParseOrder(in)
		if err != nil || got != want {
			t.Fatalf("ParseOrder(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOrder("alphabetical"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
}
