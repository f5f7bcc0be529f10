package gitrepo

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marginalia/api/internal/annotation"
)

func snapshot(html string, comments ...annotation.Comment) Snapshot {
	return Snapshot{HTML: html, Comments: comments}
}

func TestRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := snapshot("<p>apple banana</p>")
	if err := svc.EnsureRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if err := svc.EnsureRepo("doc-1", snapshot("<p>ignored</p>"), "Avery"); err != nil {
		t.Fatalf("second EnsureRepo() error = %v", err)
	}

	updated := snapshot(
		`<p><span class="comment-mark" comment-id="c1" comment-number="1" comment-color="#fde68a" style="background-color: #fde68a">apple</span> banana</p>`,
		annotation.Comment{ID: "c1", Text: "fruit", SelectedText: "apple", Number: 1, Color: "#fde68a", CreatedAt: time.Now()},
	)
	commit, err := svc.Commit("doc-1", updated, "Avery", "Add comment #1")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(commit.Hash) != 7 {
		t.Fatalf("expected short hash, got %q", commit.Hash)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Message != "Add comment #1" || history[1].Message != "Import document baseline" {
		t.Fatalf("unexpected history order: %+v", history)
	}

	head, info, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if info.Hash != commit.Hash || head.HTML != updated.HTML {
		t.Fatalf("unexpected head %+v / %+v", info, head)
	}
	if len(head.Comments) != 1 || head.Comments[0].Number != 1 || head.Comments[0].Color != "#fde68a" {
		t.Fatalf("unexpected head comments: %+v", head.Comments)
	}

	baseline, err := svc.SnapshotAt("doc-1", history[1].Hash)
	if err != nil {
		t.Fatalf("SnapshotAt() error = %v", err)
	}
	if baseline.HTML != initial.HTML || len(baseline.Comments) != 0 {
		t.Fatalf("unexpected baseline: %+v", baseline)
	}
}

func TestCommitCreatesRepoAndSkipsUnchanged(t *testing.T) {
	svc := New(t.TempDir())
	s := snapshot("<p>one</p>")
	if _, err := svc.Commit("doc-2", s, "Avery", "first"); err != nil && !errors.Is(err, ErrNoChanges) {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := svc.Commit("doc-2", s, "Avery", "again"); !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}
	history, err := svc.History("doc-2", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single baseline commit, got %d", len(history))
	}
}

func TestHistoryLimitAndMissingRepo(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("nope", 5)
	if err != nil {
		t.Fatalf("History() on missing repo error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	for _, html := range []string{"<p>a</p>", "<p>b</p>", "<p>c</p>"} {
		if _, err := svc.Commit("doc-3", snapshot(html), "Avery", html); err != nil && !errors.Is(err, ErrNoChanges) {
			t.Fatalf("Commit(%s) error = %v", html, err)
		}
	}
	history, err = svc.History("doc-3", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(history))
	}
}

func TestCreateTagResolvesByName(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-4", snapshot("<p>v1</p>"), "Avery"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	_, info, err := svc.Head("doc-4")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if err := svc.CreateTag("doc-4", info.Hash, "v1", "First draft"); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	if err := svc.CreateTag("doc-4", info.Hash, "v1", "First draft"); err != nil {
		t.Fatalf("CreateTag() existing tag error = %v", err)
	}
	versions, err := svc.Versions("doc-4")
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].Name != "First draft" || versions[0].Tag != "v1" || versions[0].Hash != info.Hash {
		t.Fatalf("unexpected versions %+v", versions)
	}
	if _, err := svc.Commit("doc-4", snapshot("<p>v2</p>"), "Avery", "v2"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	tagged, err := svc.SnapshotAt("doc-4", "v1")
	if err != nil {
		t.Fatalf("SnapshotAt(tag) error = %v", err)
	}
	if tagged.HTML != "<p>v1</p>" {
		t.Fatalf("unexpected tagged snapshot %q", tagged.HTML)
	}
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-5", snapshot("<p>0</p>"), "Avery"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			html := "<p>" + string(rune('a'+i)) + "</p>"
			if _, err := svc.Commit("doc-5", snapshot(html), "Avery", html); err != nil && !errors.Is(err, ErrNoChanges) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Commit() error = %v", err)
	}
	history, err := svc.History("doc-5", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 commits, got %d", len(history))
	}
}

func TestHasChanges(t *testing.T) {
	base := snapshot("<p>x</p>", annotation.Comment{ID: "c1", Number: 1, Color: "#a", Text: "t"})
	tests := []struct {
		name string
		to   Snapshot
		want bool
	}{
		{"identical", snapshot("<p>x</p>", annotation.Comment{ID: "c1", Number: 1, Color: "#a", Text: "t"}), false},
		{"html", snapshot("<p>y</p>", annotation.Comment{ID: "c1", Number: 1, Color: "#a", Text: "t"}), true},
		{"renumbered", snapshot("<p>x</p>", annotation.Comment{ID: "c1", Number: 2, Color: "#a", Text: "t"}), true},
		{"removed", snapshot("<p>x</p>"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasChanges(base, tc.to); got != tc.want {
				t.Fatalf("HasChanges() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Avery Q_Smith!"); got != "Avery.Q.Smith" {
		t.Fatalf("unexpected %q", got)
	}
	if got := sanitizeEmail("!!"); got != "user" {
		t.Fatalf("unexpected %q", got)
	}
}
