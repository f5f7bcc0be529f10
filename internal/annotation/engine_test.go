package annotation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"marginalia/api/internal/document"
	"marginalia/api/internal/palette"
)

type flakyStore struct {
	*MemoryStore
	fail bool
	// allow, when positive, lets that many writes through before failing.
	allow  int
	writes int
}

func (f *flakyStore) Set(ctx context.Context, key string, records []Comment) error {
	if f.allow > 0 {
		f.allow--
		if f.allow == 0 {
			defer func() { f.fail = true }()
		}
	} else if f.fail {
		return errors.New("backend unavailable")
	}
	f.writes++
	return f.MemoryStore.Set(ctx, key, records)
}

type fixture struct {
	engine   *Engine
	recorder *Recorder
	backend  *flakyStore
}

func newFixture(t *testing.T, content string, order Order) fixture {
	t.Helper()
	backend := &flakyStore{MemoryStore: NewMemoryStore()}
	return openFixture(t, content, backend, order)
}

func openFixture(t *testing.T, content string, backend *flakyStore, order Order) fixture {
	t.Helper()
	doc, err := document.ParseHTML(content)
	if err != nil {
		t.Fatalf("parse content: %v", err)
	}
	rec := &Recorder{}
	seq := 0
	engine, err := Open(context.Background(), "doc-1", doc, backend, Options{
		Palette:  palette.Default,
		Order:    order,
		Notifier: rec,
		NewID: func() string {
			seq++
			return fmt.Sprintf("c%d", seq)
		},
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return fixture{engine: engine, recorder: rec, backend: backend}
}

func (f fixture) add(t *testing.T, from, to int, text string) Comment {
	t.Helper()
	c, err := f.engine.AddComment(context.Background(), document.Range{From: from, To: to}, text)
	if err != nil {
		t.Fatalf("add comment over [%d,%d): %v", from, to, err)
	}
	return c
}

func kinds(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

// apple 0-5, banana 6-12, cherry 13-19
const fruit = "<p>apple banana cherry</p>"

func TestAddCommentsNumbersDensely(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	f.add(t, 6, 12, "B")
	f.add(t, 13, 19, "C")

	records := f.engine.Comments()
	if len(records) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(records))
	}
	for i, c := range records {
		if c.Number != i+1 {
			t.Fatalf("record %d: expected number %d, got %d", i, i+1, c.Number)
		}
		if c.Color != palette.Default[i] {
			t.Fatalf("record %d: expected color %s, got %s", i, palette.Default[i], c.Color)
		}
	}
	if records[1].SelectedText != "banana" {
		t.Fatalf("unexpected snapshot %q", records[1].SelectedText)
	}
	if f.engine.State().TextSelection != (document.Range{}) {
		t.Fatalf("expected text selection cleared after add")
	}
	stored, ok, _ := f.backend.Get(context.Background(), StoreKey("doc-1"))
	if !ok || len(stored) != 3 {
		t.Fatalf("expected 3 persisted comments, got %d", len(stored))
	}
}

func TestPaletteCyclesPastItsSize(t *testing.T) {
	f := newFixture(t, "<p>abcdefghij</p>", OrderInsertion)
	for i := 0; i < 10; i++ {
		f.add(t, i, i+1, "note")
	}
	records := f.engine.Comments()
	if records[8].Color != palette.Default[0] || records[9].Color != palette.Default[1] {
		t.Fatalf("expected palette to wrap, got %s %s", records[8].Color, records[9].Color)
	}
}

func TestDeletingAnnotatedTextPrunesAndRenumbers(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	b := f.add(t, 6, 12, "B")
	f.add(t, 13, 19, "C")
	f.recorder.Reset()

	if err := f.engine.Delete(context.Background(), document.Range{From: 6, To: 12}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	records := f.engine.Comments()
	if len(records) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(records))
	}
	want := []struct {
		selected, text string
		number         int
		color          string
	}{
		{"apple", "A", 1, palette.Default[0]},
		{"cherry", "C", 2, palette.Default[1]},
	}
	for i, w := range want {
		c := records[i]
		if c.SelectedText != w.selected || c.Text != w.text || c.Number != w.number || c.Color != w.color {
			t.Fatalf("record %d: got %+v", i, c)
		}
	}
	for _, s := range f.engine.Spans() {
		c, ok := f.engine.store.Get(s.CommentID)
		if !ok || s.Number != c.Number || s.Color != c.Color {
			t.Fatalf("span %v out of sync with record %+v", s, c)
		}
	}

	events := f.recorder.Events()
	if len(events) != 1 || events[0].Kind != EventCommentPruned {
		t.Fatalf("expected one prune event, got %v", kinds(events))
	}
	if events[0].Message != "Comment #2 removed: its annotated text was deleted" {
		t.Fatalf("unexpected message %q", events[0].Message)
	}
	if len(events[0].CommentIDs) != 1 || events[0].CommentIDs[0] != b.ID {
		t.Fatalf("unexpected ids %v", events[0].CommentIDs)
	}
}

func TestPruneManyUsesPluralMessage(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	f.add(t, 6, 12, "B")
	f.add(t, 13, 19, "C")
	f.recorder.Reset()

	if err := f.engine.Delete(context.Background(), document.Range{From: 0, To: 13}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	events := f.recorder.Events()
	if len(events) != 1 || events[0].Message != "Comments #1, #2 removed: their annotated text was deleted" {
		t.Fatalf("unexpected events %+v", events)
	}
	records := f.engine.Comments()
	if len(records) != 1 || records[0].Text != "C" || records[0].Number != 1 {
		t.Fatalf("unexpected survivors %+v", records)
	}
}

func TestRemoveCommentStripsEverySpan(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	b := f.add(t, 6, 12, "B")
	f.add(t, 13, 19, "C")
	if err := f.engine.SplitBlock(context.Background(), 9); err != nil {
		t.Fatalf("split: %v", err)
	}
	if got := len(f.engine.doc.SpanRanges(b.ID)); got != 2 {
		t.Fatalf("expected two span instances, got %d", got)
	}
	if _, err := f.engine.Focus(b.ID); err != nil {
		t.Fatalf("focus: %v", err)
	}

	if err := f.engine.RemoveComment(context.Background(), b.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := f.engine.doc.CollectLiveIDs()[b.ID]; ok {
		t.Fatalf("span of removed comment still present")
	}
	records := f.engine.Comments()
	if len(records) != 2 || records[0].Number != 1 || records[1].Number != 2 {
		t.Fatalf("expected dense numbering, got %+v", records)
	}
	if records[1].Color != palette.Default[1] {
		t.Fatalf("expected recolor, got %s", records[1].Color)
	}
	if f.engine.Selected() != "" {
		t.Fatalf("expected selection cleared")
	}
	if err := f.engine.RemoveComment(context.Background(), b.ID); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestEditCommentDoesNotRenumber(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	b := f.add(t, 6, 12, "B")
	before := f.engine.GetSerializedContent()

	got, err := f.engine.EditComment(context.Background(), b.ID, "new text")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got.Text != "new text" || got.Number != b.Number || got.Color != b.Color || got.SelectedText != b.SelectedText {
		t.Fatalf("unexpected record after edit %+v", got)
	}
	if f.engine.GetSerializedContent() != before {
		t.Fatalf("edit rewrote spans")
	}
	if _, err := f.engine.EditComment(context.Background(), b.ID, "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := f.engine.EditComment(context.Background(), "missing", "x"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestRoundTripIntoFreshEngine(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	f.add(t, 6, 12, "B")
	f.add(t, 13, 19, "C")
	if err := f.engine.Delete(context.Background(), document.Range{From: 0, To: 6}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.engine.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	g := openFixture(t, f.engine.GetSerializedContent(), f.backend, OrderInsertion)
	type triple struct {
		id     string
		number int
		color  string
	}
	fromSpans := map[triple]bool{}
	for _, s := range g.engine.Spans() {
		fromSpans[triple{s.CommentID, s.Number, s.Color}] = true
	}
	fromStore := map[triple]bool{}
	for _, c := range g.engine.Comments() {
		fromStore[triple{c.ID, c.Number, c.Color}] = true
	}
	if len(fromStore) != 2 || len(fromSpans) != len(fromStore) {
		t.Fatalf("expected 2 triples, spans=%v store=%v", fromSpans, fromStore)
	}
	for k := range fromStore {
		if !fromSpans[k] {
			t.Fatalf("store triple %v missing from spans", k)
		}
	}
}

func TestRejectedAddLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name string
		from int
		to   int
		text string
		want error
	}{
		{"empty selection", 3, 3, "note", ErrEmptySelection},
		{"already annotated", 3, 8, "note", ErrAlreadyAnnotated},
		{"empty text", 13, 19, "   ", ErrEmptyText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, fruit, OrderInsertion)
			f.add(t, 0, 5, "A")
			html := f.engine.GetSerializedContent()
			records := f.engine.Comments()
			f.recorder.Reset()

			_, err := f.engine.AddComment(context.Background(), document.Range{From: tc.from, To: tc.to}, tc.text)
			if !errors.Is(err, tc.want) || !IsValidation(err) {
				t.Fatalf("expected validation error %v, got %v", tc.want, err)
			}
			if f.engine.GetSerializedContent() != html {
				t.Fatalf("document changed")
			}
			if got := f.engine.Comments(); len(got) != len(records) || got[0] != records[0] {
				t.Fatalf("store changed: %+v", got)
			}
			events := f.recorder.Events()
			if len(events) != 1 || events[0].Kind != EventValidation {
				t.Fatalf("expected one validation event, got %v", kinds(events))
			}
		})
	}
}

func TestRenumberOrder(t *testing.T) {
	// alpha 0-5, beta 6-10, gamma 11-16, delta 17-22
	const words = "<p>alpha beta gamma delta</p>"
	tests := []struct {
		order Order
		want  []string
	}{
		{OrderInsertion, []string{"gamma", "alpha"}},
		{OrderDocument, []string{"alpha", "gamma"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.order), func(t *testing.T) {
			f := newFixture(t, words, tc.order)
			f.add(t, 17, 22, "on delta")
			f.add(t, 11, 16, "on gamma")
			f.add(t, 0, 5, "on alpha")
			if err := f.engine.Delete(context.Background(), document.Range{From: 16, To: 22}); err != nil {
				t.Fatalf("delete: %v", err)
			}
			records := f.engine.Comments()
			if len(records) != len(tc.want) {
				t.Fatalf("expected %d records, got %+v", len(tc.want), records)
			}
			for i, sel := range tc.want {
				if records[i].SelectedText != sel || records[i].Number != i+1 {
					t.Fatalf("position %d: expected %s #%d, got %+v", i, sel, i+1, records[i])
				}
			}
			for _, s := range f.engine.Spans() {
				c, _ := f.engine.store.Get(s.CommentID)
				if s.Number != c.Number || s.Color != c.Color {
					t.Fatalf("span %v not retagged", s)
				}
			}
		})
	}
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	f.add(t, 0, 5, "A")
	f.backend.fail = true
	f.recorder.Reset()

	c, err := f.engine.AddComment(context.Background(), document.Range{From: 6, To: 12}, "B")
	if err != nil {
		t.Fatalf("add should succeed in memory: %v", err)
	}
	if c.Number != 2 || f.engine.store.Len() != 2 {
		t.Fatalf("expected two comments in memory")
	}
	got := kinds(f.recorder.Events())
	if len(got) != 2 || got[0] != EventPersistence || got[1] != EventCommentAdded {
		t.Fatalf("unexpected events %v", got)
	}
	stored, _, _ := f.backend.Get(context.Background(), StoreKey("doc-1"))
	if len(stored) != 1 {
		t.Fatalf("backend should still hold the last good list, got %d", len(stored))
	}

	f.backend.fail = false
	if err := f.engine.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	stored, _, _ = f.backend.Get(context.Background(), StoreKey("doc-1"))
	if len(stored) != 2 {
		t.Fatalf("expected save on close, got %d", len(stored))
	}
}

func TestStraySpansAreStripped(t *testing.T) {
	content := `<p>x <span class="comment-mark" comment-id="ghost" comment-number="7" comment-color="#000">boo</span></p>`
	f := newFixture(t, content, OrderInsertion)
	if len(f.engine.Spans()) != 0 {
		t.Fatalf("expected stray span stripped, got %v", f.engine.Spans())
	}
	if f.engine.GetSerializedContent() != "<p>x boo</p>" {
		t.Fatalf("unexpected content %q", f.engine.GetSerializedContent())
	}
}

func TestOpenPrunesRecordsWithoutSpans(t *testing.T) {
	backend := &flakyStore{MemoryStore: NewMemoryStore()}
	_ = backend.Set(context.Background(), StoreKey("doc-1"), []Comment{
		{ID: "gone", Text: "old", Number: 1, Color: palette.Default[0]},
	})
	f := openFixture(t, "<p>plain</p>", backend, OrderInsertion)
	if f.engine.store.Len() != 0 {
		t.Fatalf("expected orphan record pruned on open")
	}
}

func TestAddCommentStateMachine(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	ctx := context.Background()

	if _, err := f.engine.ConfirmAdd(ctx, "x"); !errors.Is(err, ErrNoPendingComment) {
		t.Fatalf("expected ErrNoPendingComment, got %v", err)
	}
	if err := f.engine.BeginAdd(document.Range{From: 0, To: 5}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if st := f.engine.State(); st.Mode != ModeAdding || st.Pending == nil {
		t.Fatalf("expected adding state, got %+v", st)
	}
	if _, err := f.engine.ConfirmAdd(ctx, ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if f.engine.State().Mode != ModeAdding {
		t.Fatalf("empty text should keep the pending comment")
	}
	f.engine.CancelAdd()
	if f.engine.State().Mode != ModeIdle || f.engine.store.Len() != 0 {
		t.Fatalf("cancel should discard without side effects")
	}

	if err := f.engine.BeginAdd(document.Range{From: 6, To: 12}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c, err := f.engine.ConfirmAdd(ctx, "B")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if c.SelectedText != "banana" || f.engine.State().Mode != ModeIdle {
		t.Fatalf("unexpected result %+v state %+v", c, f.engine.State())
	}

	if err := f.engine.BeginAdd(document.Range{From: 13, To: 19}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.engine.InsertText(ctx, 0, "!"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if f.engine.State().Mode != ModeIdle {
		t.Fatalf("edit should cancel the pending comment")
	}
}

func TestFocusAndPruneClearsSelection(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	a := f.add(t, 0, 5, "A")
	ranges, err := f.engine.Focus(a.ID)
	if err != nil {
		t.Fatalf("focus: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != (document.Range{From: 0, To: 5}) {
		t.Fatalf("unexpected ranges %v", ranges)
	}
	if _, err := f.engine.Focus("missing"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
	if f.engine.Selected() != a.ID {
		t.Fatalf("failed focus must not change selection")
	}
	if err := f.engine.Delete(context.Background(), document.Range{From: 0, To: 5}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.engine.Selected() != "" {
		t.Fatalf("expected selection cleared after prune")
	}
}

func TestSplitKeepsCommentUntilEveryInstanceIsGone(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	b := f.add(t, 6, 12, "B")
	// "apple ban" | "ana cherry"; second instance at 10-13
	if err := f.engine.SplitBlock(context.Background(), 9); err != nil {
		t.Fatalf("split: %v", err)
	}
	if err := f.engine.Delete(context.Background(), document.Range{From: 6, To: 9}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.engine.store.Get(b.ID); !ok {
		t.Fatalf("comment pruned while a span instance remains")
	}
	if err := f.engine.Delete(context.Background(), document.Range{From: 7, To: 10}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.engine.store.Len() != 0 {
		t.Fatalf("expected comment pruned, text is %q", f.engine.doc.Text())
	}
}

func TestNewLineDoesNotExtendComment(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	c := f.add(t, 13, 19, "C")
	if err := f.engine.InsertText(context.Background(), 19, "\nfresh"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ranges := f.engine.doc.SpanRanges(c.ID)
	if len(ranges) != 1 || ranges[0] != (document.Range{From: 13, To: 19}) {
		t.Fatalf("new line inherited comment: %v", ranges)
	}
}

func TestRemoveCommentWritesOnce(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	a := f.add(t, 0, 5, "A")
	f.add(t, 6, 12, "B")
	f.add(t, 13, 19, "C")
	content := f.engine.GetSerializedContent()

	f.backend.allow = 1
	before := f.backend.writes
	f.recorder.Reset()
	if err := f.engine.RemoveComment(context.Background(), a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := f.backend.writes - before; got != 1 {
		t.Fatalf("expected one write for a removal, got %d", got)
	}
	for _, kind := range kinds(f.recorder.Events()) {
		if kind == EventPersistence {
			t.Fatalf("removal should not hit the failing write")
		}
	}

	f.backend.fail = false
	reopened := openFixture(t, content, f.backend, OrderInsertion)
	got := reopened.engine.Comments()
	if len(got) != 2 {
		t.Fatalf("expected 2 comments after reopen, got %d", len(got))
	}
	for i, c := range got {
		if c.Number != i+1 || c.Color != palette.Default[i] {
			t.Fatalf("comment %s has #%d %s after reopen, want #%d", c.ID, c.Number, c.Color, i+1)
		}
	}
}

func TestOpenRenumbersGappedList(t *testing.T) {
	backend := &flakyStore{MemoryStore: NewMemoryStore()}
	_ = backend.MemoryStore.Set(context.Background(), StoreKey("doc-1"), []Comment{
		{ID: "b", Text: "B", SelectedText: "banana", Number: 2, Color: palette.Default[1]},
		{ID: "c", Text: "C", SelectedText: "cherry", Number: 3, Color: palette.Default[2]},
	})
	content := `<p>apple <span class="comment-mark" comment-id="b" comment-number="2" comment-color="#A7F3D0" style="background-color: #A7F3D0">banana</span> ` +
		`<span class="comment-mark" comment-id="c" comment-number="3" comment-color="#BFDBFE" style="background-color: #BFDBFE">cherry</span></p>`
	f := openFixture(t, content, backend, OrderInsertion)

	want := map[string]int{"b": 1, "c": 2}
	for _, c := range f.engine.Comments() {
		if c.Number != want[c.ID] || c.Color != palette.Default[want[c.ID]-1] {
			t.Fatalf("record %s is #%d %s, want #%d", c.ID, c.Number, c.Color, want[c.ID])
		}
	}
	for _, span := range f.engine.Spans() {
		if span.Number != want[span.CommentID] || span.Color != palette.Default[want[span.CommentID]-1] {
			t.Fatalf("span %s carries #%d %s, want #%d", span.CommentID, span.Number, span.Color, want[span.CommentID])
		}
	}
	stored, _, _ := backend.Get(context.Background(), StoreKey("doc-1"))
	if len(stored) != 2 || stored[0].Number != 1 || stored[1].Number != 2 {
		t.Fatalf("expected dense list persisted, got %+v", stored)
	}
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("renumbering on open should be silent, got %v", kinds(f.recorder.Events()))
	}
}

func TestRestoredContentIsRetagged(t *testing.T) {
	f := newFixture(t, fruit, OrderInsertion)
	ctx := context.Background()
	first := f.add(t, 0, 5, "A")
	second := f.add(t, 6, 12, "B")
	saved := f.engine.GetSerializedContent()

	if err := f.engine.RemoveComment(ctx, first.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	f.recorder.Reset()
	if err := f.engine.SetSerializedContent(ctx, saved); err != nil {
		t.Fatalf("restore content: %v", err)
	}

	spans := f.engine.Spans()
	if len(spans) != 1 || spans[0].CommentID != second.ID {
		t.Fatalf("expected only the surviving span, got %+v", spans)
	}
	if spans[0].Number != 1 || spans[0].Color != palette.Default[0] {
		t.Fatalf("span carries #%d %s, record is #1 %s", spans[0].Number, spans[0].Color, palette.Default[0])
	}
	for _, kind := range kinds(f.recorder.Events()) {
		if kind == EventCommentPruned {
			t.Fatalf("nothing was pruned, got %v", kinds(f.recorder.Events()))
		}
	}
}
