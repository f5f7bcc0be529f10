package annotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marginalia/api/internal/document"
	"marginalia/api/internal/palette"
)

// Order selects how survivors are renumbered after a comment disappears.
type Order string

const (
	// OrderInsertion keeps the survivors' prior relative order.
	OrderInsertion Order = "insertion"
	// OrderDocument numbers survivors by first appearance in the document.
	OrderDocument Order = "document"
)

// ParseOrder reads an Order. Blank input yields OrderInsertion.
func ParseOrder(value string) (Order, error) {
	switch Order(value) {
	case "", OrderInsertion:
		return OrderInsertion, nil
	case OrderDocument:
		return OrderDocument, nil
	}
	return "", fmt.Errorf("unknown renumber order %q", value)
}

const (
	ModeIdle   = "idle"
	ModeAdding = "adding"
)

type Options struct {
	Palette  palette.Palette
	Order    Order
	Notifier Notifier
	NewID    func() string
	Now      func() time.Time
}

// State is the ephemeral editor state. It is never persisted.
type State struct {
	Mode            string          `json:"mode"`
	Pending         *document.Range `json:"pending,omitempty"`
	TextSelection   document.Range  `json:"textSelection"`
	SelectedComment string          `json:"selectedComment,omitempty"`
}

// Engine owns one document and its comment list. It is not safe for
// concurrent use; callers serialize events per document.
type Engine struct {
	documentID string
	doc        *document.Doc
	store      *CommentStore
	opts       Options

	textSelection document.Range
	pending       *document.Range
	selected      string
}

// Open mounts an engine: it loads the comment list for documentID and runs
// a reconciliation pass against doc.
func Open(ctx context.Context, documentID string, doc *document.Doc, backend KeyedStore, opts Options) (*Engine, error) {
	if len(opts.Palette) == 0 {
		opts.Palette = palette.Default
	}
	if opts.Order == "" {
		opts.Order = OrderInsertion
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.NewID == nil {
		opts.NewID = NewCommentID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if doc == nil {
		doc = document.New()
	}

	store := NewCommentStore(documentID, backend, opts.Palette)
	store.now = opts.Now
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	e := &Engine{documentID: documentID, doc: doc, store: store, opts: opts}
	e.Reconcile(ctx)
	return e, nil
}

// Close saves the comment list.
func (e *Engine) Close(ctx context.Context) error {
	return e.store.Save(ctx)
}

func (e *Engine) DocumentID() string {
	return e.documentID
}

// Document returns a copy of the current document.
func (e *Engine) Document() *document.Doc {
	return e.doc.Clone()
}

// Comments returns the records ordered by number.
func (e *Engine) Comments() []Comment {
	return e.store.Records()
}

// Spans returns every comment span in document order.
func (e *Engine) Spans() []document.Span {
	return e.doc.Spans()
}

// GetSerializedContent returns the document as HTML.
func (e *Engine) GetSerializedContent() string {
	return e.doc.RenderHTML()
}

// SetSerializedContent replaces the document with parsed HTML and
// reconciles.
func (e *Engine) SetSerializedContent(ctx context.Context, content string) error {
	doc, err := document.ParseHTML(content)
	if err != nil {
		return err
	}
	e.SetDocument(ctx, doc)
	return nil
}

// SetDocument replaces the document and reconciles.
func (e *Engine) SetDocument(ctx context.Context, doc *document.Doc) {
	e.beforeEdit()
	e.doc = doc
	e.Reconcile(ctx)
}

func (e *Engine) InsertText(ctx context.Context, pos int, text string) error {
	return e.edit(ctx, func(d *document.Doc) error { return d.InsertText(pos, text) })
}

func (e *Engine) Delete(ctx context.Context, r document.Range) error {
	return e.edit(ctx, func(d *document.Doc) error { return d.Delete(r) })
}

func (e *Engine) SplitBlock(ctx context.Context, pos int) error {
	return e.edit(ctx, func(d *document.Doc) error { return d.SplitBlock(pos) })
}

func (e *Engine) edit(ctx context.Context, apply func(*document.Doc) error) error {
	if err := apply(e.doc); err != nil {
		return err
	}
	e.beforeEdit()
	e.Reconcile(ctx)
	return nil
}

// beforeEdit drops state anchored to positions an edit may shift.
func (e *Engine) beforeEdit() {
	e.pending = nil
	e.textSelection = document.Range{}
}

// Select records the host's text selection.
func (e *Engine) Select(r document.Range) error {
	if _, err := e.doc.Slice(r); err != nil {
		return err
	}
	e.textSelection = r
	return nil
}

// State reports the editor state.
func (e *Engine) State() State {
	st := State{Mode: ModeIdle, TextSelection: e.textSelection, SelectedComment: e.selected}
	if e.pending != nil {
		r := *e.pending
		st.Mode = ModeAdding
		st.Pending = &r
	}
	return st
}

// AddComment anchors a new comment on r. On any validation failure nothing
// changes and a validation event is emitted.
func (e *Engine) AddComment(ctx context.Context, r document.Range, text string) (Comment, error) {
	if err := e.checkSelection(r); err != nil {
		return Comment{}, err
	}
	text = normalizeText(text)
	if text == "" {
		return Comment{}, e.reject(ErrEmptyText)
	}
	selected, err := e.doc.Slice(r)
	if err != nil {
		return Comment{}, err
	}

	number := e.store.Len() + 1
	c := Comment{
		ID:           e.opts.NewID(),
		Text:         text,
		SelectedText: selected,
		Number:       number,
		Color:        e.opts.Palette.Color(number),
	}
	c.CreatedAt = e.opts.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if err := e.doc.Attach(r, c.ID, c.Number, c.Color); err != nil {
		switch {
		case errors.Is(err, document.ErrEmptyRange):
			return Comment{}, e.reject(ErrEmptySelection)
		case errors.Is(err, document.ErrAlreadyAnnotated):
			return Comment{}, e.reject(ErrAlreadyAnnotated)
		}
		return Comment{}, err
	}
	if err := e.store.Create(ctx, c); err != nil {
		if !errors.Is(err, ErrPersist) {
			e.doc.DetachAll(c.ID)
			return Comment{}, err
		}
		e.reportPersist(err)
	}
	e.textSelection = document.Range{}
	e.notify(EventCommentAdded, fmt.Sprintf("Comment #%d added", c.Number), c.ID)
	return c, nil
}

func (e *Engine) checkSelection(r document.Range) error {
	if r.Empty() {
		return e.reject(ErrEmptySelection)
	}
	if _, err := e.doc.Slice(r); err != nil {
		return err
	}
	if e.doc.HasComment(r) {
		return e.reject(ErrAlreadyAnnotated)
	}
	return nil
}

// BeginAdd enters the adding state for r.
func (e *Engine) BeginAdd(r document.Range) error {
	if err := e.checkSelection(r); err != nil {
		return err
	}
	e.pending = &r
	e.textSelection = r
	return nil
}

// ConfirmAdd adds the pending comment with text. An empty text keeps the
// engine in the adding state.
func (e *Engine) ConfirmAdd(ctx context.Context, text string) (Comment, error) {
	if e.pending == nil {
		return Comment{}, ErrNoPendingComment
	}
	c, err := e.AddComment(ctx, *e.pending, text)
	if err != nil {
		if errors.Is(err, ErrEmptyText) {
			return Comment{}, err
		}
		e.pending = nil
		return Comment{}, err
	}
	e.pending = nil
	return c, nil
}

// CancelAdd discards the pending comment.
func (e *Engine) CancelAdd() {
	e.pending = nil
}

// RemoveComment strips every span of the comment, then deletes its record
// and renumbers the rest in a single write.
func (e *Engine) RemoveComment(ctx context.Context, id string) error {
	c, ok := e.store.Get(id)
	if !ok {
		return ErrCommentNotFound
	}
	e.doc.DetachAll(id)
	e.renumber(ctx, map[string]struct{}{id: {}})
	if e.selected == id {
		e.selected = ""
	}
	e.notify(EventCommentRemoved, fmt.Sprintf("Comment #%d removed", c.Number), id)
	return nil
}

// EditComment replaces the body of a comment. Number, color, snapshot and
// spans are untouched.
func (e *Engine) EditComment(ctx context.Context, id, text string) (Comment, error) {
	text = normalizeText(text)
	if text == "" {
		return Comment{}, e.reject(ErrEmptyText)
	}
	c, err := e.store.UpdateText(ctx, id, text)
	if errors.Is(err, ErrCommentNotFound) {
		return Comment{}, err
	}
	if err != nil {
		e.reportPersist(err)
	}
	e.notify(EventCommentUpdated, fmt.Sprintf("Comment #%d updated", c.Number), id)
	return c, nil
}

// Focus selects a comment and returns the ranges to highlight.
func (e *Engine) Focus(id string) ([]document.Range, error) {
	if _, ok := e.store.Get(id); !ok {
		return nil, ErrCommentNotFound
	}
	e.selected = id
	return e.doc.SpanRanges(id), nil
}

// ClearSelection leaves the selected-comment state.
func (e *Engine) ClearSelection() {
	e.selected = ""
}

// Selected returns the focused comment id, if any.
func (e *Engine) Selected() string {
	return e.selected
}

// renumber renumbers surviving records and retags the spans of those whose
// number or color changed. Ids in exclude are dropped.
func (e *Engine) renumber(ctx context.Context, exclude map[string]struct{}) []string {
	var order []string
	if e.opts.Order == OrderDocument {
		placed := make(map[string]struct{})
		for _, id := range e.doc.LiveIDsInOrder() {
			if _, ok := e.store.Get(id); ok {
				order = append(order, id)
				placed[id] = struct{}{}
			}
		}
		for _, id := range e.store.IDs() {
			if _, ok := placed[id]; !ok {
				order = append(order, id)
			}
		}
	} else {
		order = e.store.IDs()
	}
	kept := order[:0]
	for _, id := range order {
		if _, drop := exclude[id]; !drop {
			kept = append(kept, id)
		}
	}

	changed, err := e.store.Renumber(ctx, kept)
	if err != nil {
		e.reportPersist(err)
	}
	for _, id := range changed {
		c, _ := e.store.Get(id)
		e.doc.Retag(id, c.Number, c.Color)
	}
	return changed
}

func (e *Engine) reject(err error) error {
	e.notify(EventValidation, err.Error())
	return &ValidationError{Err: err}
}

func (e *Engine) reportPersist(err error) {
	persistFailures.Inc()
	e.notify(EventPersistence, fmt.Sprintf("Comments could not be saved: %v", err))
}

func (e *Engine) notify(kind, message string, ids ...string) {
	e.opts.Notifier.Notify(Event{
		Kind:       kind,
		DocumentID: e.documentID,
		Message:    message,
		CommentIDs: ids,
	})
}
