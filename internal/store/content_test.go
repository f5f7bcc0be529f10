package store

import (
	"context"
	"testing"
)

func TestMemoryContentStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryContentStore()

	if _, ok, err := s.LoadContent(ctx, "doc-1"); err != nil || ok {
		t.Fatalf("expected absent content, ok=%v err=%v", ok, err)
	}
	for _, id := range []string{"doc-2", "doc-1"} {
		if err := s.SaveContent(ctx, Content{DocumentID: id, HTML: "<p>" + id + "</p>", PlainText: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	got, ok, err := s.LoadContent(ctx, "doc-1")
	if err != nil || !ok || got.HTML != "<p>doc-1</p>" || got.UpdatedAt.IsZero() {
		t.Fatalf("unexpected content %+v ok=%v err=%v", got, ok, err)
	}
	all, err := s.ListContents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected listing %+v", all)
	}
}
