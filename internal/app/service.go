package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"marginalia/api/internal/annotation"
	"marginalia/api/internal/config"
	"marginalia/api/internal/document"
	"marginalia/api/internal/export"
	"marginalia/api/internal/gitrepo"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
)

const systemAuthor = "Marginalia"

// DocumentState is returned by every document operation.
type DocumentState struct {
	DocumentID    string               `json:"documentId"`
	Comments      []annotation.Comment `json:"comments"`
	Spans         []document.Span      `json:"spans"`
	State         annotation.State     `json:"state"`
	Notifications []annotation.Event   `json:"notifications"`
}

// EditInput is a host edit applied to the document.
type EditInput struct {
	Op   string `json:"op" validate:"required,oneof=insert delete split"`
	Pos  int    `json:"pos" validate:"gte=0"`
	From int    `json:"from" validate:"gte=0"`
	To   int    `json:"to" validate:"gte=0"`
	Text string `json:"text"`
}

type gitService interface {
	Commit(string, gitrepo.Snapshot, string, string) (gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	SnapshotAt(string, string) (gitrepo.Snapshot, error)
	CreateTag(string, string, string, string) error
	Versions(string) ([]gitrepo.Version, error)
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	SyncComments(string, []search.CommentRecord, []string)
}

// session is one mounted document. mu is held for the whole of every
// operation so edits and reconciliation never interleave.
type session struct {
	mu       sync.Mutex
	engine   *annotation.Engine
	recorder *annotation.Recorder
	indexed  map[string]struct{}
	closed   bool
}

type Service struct {
	cfg      config.Config
	contents store.ContentStore
	comments annotation.KeyedStore
	git      gitService
	search   searchService
	exporter *export.Service
	checks   map[string]func(context.Context) error

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg config.Config, contents store.ContentStore, comments annotation.KeyedStore, git gitService, searchSvc searchService) *Service {
	s := &Service{
		cfg:      cfg,
		contents: contents,
		comments: comments,
		git:      git,
		search:   searchSvc,
		checks:   make(map[string]func(context.Context) error),
		sessions: make(map[string]*session),
	}
	s.exporter = export.NewService(s)
	return s
}

// AddReadinessCheck registers a dependency probed by /api/ready.
func (s *Service) AddReadinessCheck(name string, check func(context.Context) error) {
	s.checks[name] = check
}

// Ping runs every readiness check and returns the failures by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks))
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

// acquire returns the locked session for documentID, mounting it on first
// use. The caller must unlock it.
func (s *Service) acquire(ctx context.Context, documentID string) (*session, error) {
	for {
		s.mu.Lock()
		sess, ok := s.sessions[documentID]
		if !ok {
			sess = &session{}
			s.sessions[documentID] = sess
		}
		s.mu.Unlock()

		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			continue
		}
		if sess.engine != nil {
			return sess, nil
		}
		if err := s.mount(ctx, documentID, sess); err != nil {
			sess.closed = true
			s.forget(documentID, sess)
			sess.mu.Unlock()
			return nil, err
		}
		return sess, nil
	}
}

func (s *Service) forget(documentID string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[documentID] == sess {
		delete(s.sessions, documentID)
	}
}

func (s *Service) mount(ctx context.Context, documentID string, sess *session) error {
	doc := document.New()
	content, found, err := s.contents.LoadContent(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	if found {
		doc, err = document.ParseHTML(content.HTML)
		if err != nil {
			return fmt.Errorf("parse content: %w", err)
		}
	}

	recorder := &annotation.Recorder{}
	engine, err := annotation.Open(ctx, documentID, doc, s.comments, annotation.Options{
		Palette:  s.cfg.Palette,
		Order:    s.cfg.RenumberOrder,
		Notifier: annotation.MultiNotifier{annotation.LogNotifier{}, recorder},
	})
	if err != nil {
		return fmt.Errorf("open annotations: %w", err)
	}
	sess.engine = engine
	sess.recorder = recorder
	sess.indexed = make(map[string]struct{})
	for _, c := range engine.Comments() {
		sess.indexed[c.ID] = struct{}{}
	}
	return nil
}

// read runs fn under the session lock without persisting anything.
func (s *Service) read(ctx context.Context, documentID string, fn func(*annotation.Engine) error) (DocumentState, error) {
	sess, err := s.acquire(ctx, documentID)
	if err != nil {
		return DocumentState{}, err
	}
	defer sess.mu.Unlock()
	if err := fn(sess.engine); err != nil {
		sess.recorder.Drain()
		return DocumentState{}, err
	}
	return s.state(sess), nil
}

// mutate runs fn under the session lock, then saves the content and
// refreshes the search index. A failed save is reported as a persistence
// notification; the in-memory document stays authoritative.
func (s *Service) mutate(ctx context.Context, documentID string, fn func(*annotation.Engine) error) (DocumentState, error) {
	sess, err := s.acquire(ctx, documentID)
	if err != nil {
		return DocumentState{}, err
	}
	defer sess.mu.Unlock()
	if err := fn(sess.engine); err != nil {
		sess.recorder.Drain()
		return DocumentState{}, err
	}
	s.persist(ctx, documentID, sess)
	return s.state(sess), nil
}

func (s *Service) persist(ctx context.Context, documentID string, sess *session) {
	html := sess.engine.GetSerializedContent()
	text := sess.engine.Document().Text()
	if err := s.contents.SaveContent(ctx, store.Content{DocumentID: documentID, HTML: html, PlainText: text}); err != nil {
		log.Printf("app: save content %s: %v", documentID, err)
		sess.recorder.Notify(annotation.Event{
			Kind:       annotation.EventPersistence,
			DocumentID: documentID,
			Message:    fmt.Sprintf("Document could not be saved: %v", err),
		})
	}
	s.index(documentID, sess, text)
}

func (s *Service) index(documentID string, sess *session, text string) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{ID: documentID, Title: documentTitle(text, documentID), Text: text})

	comments := sess.engine.Comments()
	records := make([]search.CommentRecord, 0, len(comments))
	current := make(map[string]struct{}, len(comments))
	for _, c := range comments {
		records = append(records, search.CommentRecord{
			ID:           c.ID,
			DocumentID:   documentID,
			Number:       c.Number,
			Color:        c.Color,
			Text:         c.Text,
			SelectedText: c.SelectedText,
		})
		current[c.ID] = struct{}{}
	}
	var removed []string
	for id := range sess.indexed {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	sess.indexed = current
	s.search.SyncComments(documentID, records, removed)
}

func (s *Service) state(sess *session) DocumentState {
	e := sess.engine
	spans := e.Spans()
	if spans == nil {
		spans = []document.Span{}
	}
	return DocumentState{
		DocumentID:    e.DocumentID(),
		Comments:      e.Comments(),
		Spans:         spans,
		State:         e.State(),
		Notifications: sess.recorder.Drain(),
	}
}

// GetContent returns the document serialized as HTML or ProseMirror JSON.
func (s *Service) GetContent(ctx context.Context, documentID, format string) (map[string]any, error) {
	var payload map[string]any
	_, err := s.read(ctx, documentID, func(e *annotation.Engine) error {
		switch format {
		case "", "html":
			payload = map[string]any{"documentId": documentID, "format": "html", "html": e.GetSerializedContent()}
		case "json":
			payload = map[string]any{"documentId": documentID, "format": "json", "doc": e.Document()}
		default:
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or json", nil)
		}
		return nil
	})
	return payload, err
}

// SetContent replaces the document from HTML or ProseMirror JSON.
func (s *Service) SetContent(ctx context.Context, documentID, html string, docJSON []byte) (DocumentState, error) {
	return s.mutate(ctx, documentID, func(e *annotation.Engine) error {
		if len(docJSON) > 0 {
			doc, err := document.ParseJSON(docJSON)
			if err != nil {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			}
			e.SetDocument(ctx, doc)
			return nil
		}
		return e.SetSerializedContent(ctx, html)
	})
}

// ApplyEdit applies one host edit and reconciles.
func (s *Service) ApplyEdit(ctx context.Context, documentID string, input EditInput) (DocumentState, error) {
	return s.mutate(ctx, documentID, func(e *annotation.Engine) error {
		switch input.Op {
		case "insert":
			return e.InsertText(ctx, input.Pos, input.Text)
		case "delete":
			return e.Delete(ctx, document.Range{From: input.From, To: input.To})
		case "split":
			return e.SplitBlock(ctx, input.Pos)
		}
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "op must be insert, delete or split", nil)
	})
}

func (s *Service) Comments(ctx context.Context, documentID string) (DocumentState, error) {
	return s.read(ctx, documentID, func(*annotation.Engine) error { return nil })
}

func (s *Service) AddComment(ctx context.Context, documentID string, r document.Range, text string) (DocumentState, error) {
	return s.mutate(ctx, documentID, func(e *annotation.Engine) error {
		_, err := e.AddComment(ctx, r, text)
		return err
	})
}

func (s *Service) BeginAdd(ctx context.Context, documentID string, r document.Range) (DocumentState, error) {
	return s.read(ctx, documentID, func(e *annotation.Engine) error {
		return e.BeginAdd(r)
	})
}

func (s *Service) ConfirmAdd(ctx context.Context, documentID, text string) (DocumentState, error) {
	return s.mutate(ctx, documentID, func(e *annotation.Engine) error {
		_, err := e.ConfirmAdd(ctx, text)
		return err
	})
}

func (s *Service) CancelAdd(ctx context.Context, documentID string) (DocumentState, error) {
	return s.read(ctx, documentID, func(e *annotation.Engine) error {
		e.CancelAdd()
		return nil
	})
}

func (s *Service) EditComment(ctx context.Context, documentID, commentID, text string) (DocumentState, error) {
	return s.mutate(ctx, documentID, func(e *annotation.Engine) error {
		_, err := e.EditComment(ctx, commentID, text)
		return err
	})
}

func (s *Service) RemoveComment(ctx context.Context, documentID, commentID string) (DocumentState, error) {
	return s.mutate(ctx, documentID, func(e *annotation.Engine) error {
		return e.RemoveComment(ctx, commentID)
	})
}

// Focus selects a comment and returns the ranges to highlight.
func (s *Service) Focus(ctx context.Context, documentID, commentID string) (DocumentState, []document.Range, error) {
	var ranges []document.Range
	st, err := s.read(ctx, documentID, func(e *annotation.Engine) error {
		var err error
		ranges, err = e.Focus(commentID)
		return err
	})
	if ranges == nil {
		ranges = []document.Range{}
	}
	return st, ranges, err
}

// Select records the host's text selection.
func (s *Service) Select(ctx context.Context, documentID string, r document.Range) (DocumentState, error) {
	return s.read(ctx, documentID, func(e *annotation.Engine) error {
		return e.Select(r)
	})
}

func (s *Service) ClearSelection(ctx context.Context, documentID string) (DocumentState, error) {
	return s.read(ctx, documentID, func(e *annotation.Engine) error {
		e.ClearSelection()
		return nil
	})
}

// CloseDocument unmounts a document: the comment list and content are
// saved and a snapshot is committed.
func (s *Service) CloseDocument(ctx context.Context, documentID string) (DocumentState, error) {
	s.mu.Lock()
	sess, ok := s.sessions[documentID]
	s.mu.Unlock()
	if !ok {
		return DocumentState{}, domainError(http.StatusNotFound, "NOT_OPEN", "Document is not open", nil)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed || sess.engine == nil {
		return DocumentState{}, domainError(http.StatusNotFound, "NOT_OPEN", "Document is not open", nil)
	}
	s.unmount(ctx, documentID, sess, "Close document")
	st := s.state(sess)
	sess.closed = true
	s.forget(documentID, sess)
	return st, nil
}

func (s *Service) unmount(ctx context.Context, documentID string, sess *session, message string) {
	if err := sess.engine.Close(ctx); err != nil {
		log.Printf("app: save comments %s: %v", documentID, err)
		sess.recorder.Notify(annotation.Event{
			Kind:       annotation.EventPersistence,
			DocumentID: documentID,
			Message:    fmt.Sprintf("Comments could not be saved: %v", err),
		})
	}
	s.persist(ctx, documentID, sess)
	if _, err := s.snapshot(documentID, sess, message); err != nil && !errors.Is(err, gitrepo.ErrNoChanges) {
		log.Printf("app: snapshot %s: %v", documentID, err)
	}
}

func (s *Service) snapshot(documentID string, sess *session, message string) (gitrepo.CommitInfo, error) {
	if s.git == nil {
		return gitrepo.CommitInfo{}, errors.New("history is not configured")
	}
	return s.git.Commit(documentID, gitrepo.Snapshot{
		HTML:     sess.engine.GetSerializedContent(),
		Comments: sess.engine.Comments(),
	}, systemAuthor, message)
}

// SaveVersion commits the current state and tags it with name.
func (s *Service) SaveVersion(ctx context.Context, documentID, name string) (map[string]any, error) {
	label := strings.TrimSpace(name)
	if label == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if s.git == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "History is not configured", nil)
	}
	sess, err := s.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	commit, err := s.snapshot(documentID, sess, "Version: "+label)
	if err != nil && !errors.Is(err, gitrepo.ErrNoChanges) {
		return nil, err
	}
	tagName := buildVersionTagName(label, commit.Hash)
	if err := s.git.CreateTag(documentID, commit.Hash, tagName, label); err != nil {
		return nil, err
	}
	return map[string]any{
		"documentId": documentID,
		"version":    gitrepo.Version{Name: label, Tag: tagName, Hash: commit.Hash, CreatedAt: commit.CreatedAt},
	}, nil
}

// History lists committed snapshots and named versions.
func (s *Service) History(ctx context.Context, documentID string) (map[string]any, error) {
	if s.git == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "History is not configured", nil)
	}
	commits, err := s.git.History(documentID, 50)
	if err != nil {
		return nil, err
	}
	versions, err := s.git.Versions(documentID)
	if err != nil {
		return nil, err
	}

	commitItems := make([]map[string]any, 0, len(commits))
	for _, item := range commits {
		commitItems = append(commitItems, map[string]any{
			"hash":      item.Hash,
			"message":   item.Message,
			"meta":      fmt.Sprintf("%s · %s", item.Author, relative(item.CreatedAt)),
			"createdAt": item.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{
		"documentId": documentID,
		"commits":    commitItems,
		"versions":   versions,
	}, nil
}

// Export renders the document in the requested format.
func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

// ExportDocument loads the live document for "latest" and a committed
// snapshot otherwise.
func (s *Service) ExportDocument(ctx context.Context, documentID, version string) (export.Document, error) {
	if version == "" || version == "latest" {
		sess, err := s.acquire(ctx, documentID)
		if err != nil {
			return export.Document{}, err
		}
		defer sess.mu.Unlock()
		doc := sess.engine.Document()
		return export.Document{
			ID:        documentID,
			Title:     documentTitle(doc.Text(), documentID),
			HTML:      doc.RenderHTML(),
			Comments:  sess.engine.Comments(),
			UpdatedAt: time.Now().UTC(),
		}, nil
	}

	if s.git == nil {
		return export.Document{}, export.ErrContentUnavailable
	}
	snap, err := s.git.SnapshotAt(documentID, version)
	if err != nil {
		return export.Document{}, fmt.Errorf("%w: %w", export.ErrContentUnavailable, err)
	}
	doc, err := document.ParseHTML(snap.HTML)
	if err != nil {
		return export.Document{}, fmt.Errorf("%w: %w", export.ErrContentUnavailable, err)
	}
	return export.Document{
		ID:       documentID,
		Title:    documentTitle(doc.Text(), documentID),
		HTML:     snap.HTML,
		Comments: snap.Comments,
	}, nil
}

// ListDocuments lists stored documents ordered by id.
func (s *Service) ListDocuments(ctx context.Context) ([]map[string]any, error) {
	contents, err := s.contents.ListContents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	items := make([]map[string]any, 0, len(contents))
	for _, c := range contents {
		items = append(items, map[string]any{
			"id":        c.DocumentID,
			"title":     documentTitle(c.PlainText, c.DocumentID),
			"updatedAt": c.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// Search queries documents and comments.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Shutdown unmounts every open document.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.CloseDocument(ctx, id); err != nil {
			log.Printf("app: close %s on shutdown: %v", id, err)
		}
	}
}

// documentTitle is the first non-blank line of text, shortened.
func documentTitle(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 80 {
			return strings.TrimSpace(string(runes[:80])) + "…"
		}
		return line
	}
	return fallback
}

func buildVersionTagName(label, commitHash string) string {
	const maxLabelLen = 48
	slug := make([]rune, 0, len(label))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(label)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	slugText := strings.Trim(string(slug), "-")
	if len(slugText) > maxLabelLen {
		slugText = strings.TrimRight(slugText[:maxLabelLen], "-")
	}
	if slugText == "" {
		slugText = "version"
	}

	hashPart := make([]rune, 0, len(commitHash))
	for _, ch := range strings.ToLower(commitHash) {
		if (ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9') {
			hashPart = append(hashPart, ch)
		}
	}
	hashText := string(hashPart)
	if hashText == "" {
		hashText = "head"
	}
	if len(hashText) > 12 {
		hashText = hashText[:12]
	}
	return "v-" + slugText + "-" + hashText
}

func relative(value time.Time) string {
	minutes := int(time.Since(value).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%dd ago", days)
}
