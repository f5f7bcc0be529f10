package document

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	MarkComment       = "comment"
	AttrCommentID     = "commentId"
	AttrCommentNumber = "commentNumber"
	AttrCommentColor  = "commentColor"
)

var (
	ErrEmptyRange       = errors.New("range selects no text")
	ErrAlreadyAnnotated = errors.New("range already annotated")
)

// Span is one physical instance of a comment annotation.
type Span struct {
	CommentID string `json:"commentId"`
	Number    int    `json:"number"`
	Color     string `json:"color"`
	Range     Range  `json:"range"`
}

// CommentMark builds the mark that anchors a comment.
func CommentMark(id string, number int, color string) Mark {
	return Mark{Type: MarkComment, Attrs: map[string]any{
		AttrCommentID:     id,
		AttrCommentNumber: number,
		AttrCommentColor:  color,
	}}
}

// CommentAttrs extracts the comment attributes of m. ok is false when m is
// not a comment mark.
func CommentAttrs(m Mark) (id string, number int, color string, ok bool) {
	if m.Type != MarkComment {
		return "", 0, "", false
	}
	id, _ = m.Attrs[AttrCommentID].(string)
	if id == "" {
		return "", 0, "", false
	}
	number = toInt(m.Attrs[AttrCommentNumber])
	color, _ = m.Attrs[AttrCommentColor].(string)
	return id, number, color, true
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(math.Round(n))
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func commentID(marks []Mark) string {
	for _, m := range marks {
		if id, _, _, ok := CommentAttrs(m); ok {
			return id
		}
	}
	return ""
}

func withoutComment(marks []Mark) []Mark {
	out := make([]Mark, 0, len(marks))
	for _, m := range marks {
		if m.Type == MarkComment {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// eachBlockIn calls fn with the cells of every textblock r touches and the
// local bounds of r inside it. fn returns true when it changed cells.
func (d *Doc) eachBlockIn(spans []blockSpan, r Range, fn func(cells []cell, lo, hi int) bool) {
	for _, sp := range spans {
		if sp.start+sp.size < r.From || sp.start > r.To {
			continue
		}
		lo := max(r.From-sp.start, 0)
		hi := min(r.To-sp.start, sp.size)
		if lo > hi {
			continue
		}
		cells := explode(sp.ref.node)
		if fn(cells, lo, hi) {
			implode(sp.ref.node, cells)
		}
	}
}

// HasComment reports whether any text in r carries a comment mark.
func (d *Doc) HasComment(r Range) bool {
	spans := d.layout()
	if r.Empty() || checkRange(spans, r) != nil {
		return false
	}
	found := false
	d.eachBlockIn(spans, r, func(cells []cell, lo, hi int) bool {
		for _, c := range cells[lo:hi] {
			if c.atom == nil && commentID(c.marks) != "" {
				found = true
			}
		}
		return false
	})
	return found
}

// Attach marks the text in r as annotated by the given comment.
func (d *Doc) Attach(r Range, id string, number int, color string) error {
	spans := d.layout()
	if err := checkRange(spans, r); err != nil {
		return err
	}
	if r.Empty() {
		return ErrEmptyRange
	}
	hasText, annotated := false, false
	d.eachBlockIn(spans, r, func(cells []cell, lo, hi int) bool {
		for _, c := range cells[lo:hi] {
			if c.atom != nil {
				continue
			}
			hasText = true
			if commentID(c.marks) != "" {
				annotated = true
			}
		}
		return false
	})
	if !hasText {
		return ErrEmptyRange
	}
	if annotated {
		return ErrAlreadyAnnotated
	}
	mark := CommentMark(id, number, color)
	d.eachBlockIn(spans, r, func(cells []cell, lo, hi int) bool {
		for i := lo; i < hi; i++ {
			if cells[i].atom != nil {
				continue
			}
			marks := make([]Mark, 0, len(cells[i].marks)+1)
			marks = append(marks, cells[i].marks...)
			cells[i].marks = append(marks, mark)
		}
		return true
	})
	return nil
}

// rewrite applies fn to the marks of every annotated cell and reports
// whether any cell changed.
func (d *Doc) rewrite(fn func(id string, marks []Mark) ([]Mark, bool)) bool {
	changed := false
	for _, ref := range d.textblocks() {
		cells := explode(ref.node)
		dirty := false
		for i := range cells {
			id := commentID(cells[i].marks)
			if cells[i].atom != nil || id == "" {
				continue
			}
			if marks, ok := fn(id, cells[i].marks); ok {
				cells[i].marks = marks
				dirty = true
			}
		}
		if dirty {
			implode(ref.node, cells)
			changed = true
		}
	}
	return changed
}

// DetachAll removes every span instance of the comment. It reports whether
// any span was found.
func (d *Doc) DetachAll(id string) bool {
	return d.rewrite(func(got string, marks []Mark) ([]Mark, bool) {
		if got != id {
			return nil, false
		}
		return withoutComment(marks), true
	})
}

// Retag rewrites number and color on every span instance of the comment.
// The covered ranges are unchanged.
func (d *Doc) Retag(id string, number int, color string) bool {
	mark := CommentMark(id, number, color)
	return d.rewrite(func(got string, marks []Mark) ([]Mark, bool) {
		if got != id {
			return nil, false
		}
		return append(withoutComment(marks), mark), true
	})
}

// CollectLiveIDs returns the distinct comment ids present anywhere in the
// document. It walks the whole tree.
func (d *Doc) CollectLiveIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, id := range d.LiveIDsInOrder() {
		ids[id] = struct{}{}
	}
	return ids
}

// LiveIDsInOrder returns the live comment ids by first appearance.
func (d *Doc) LiveIDsInOrder() []string {
	var ids []string
	seen := make(map[string]struct{})
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, m := range n.Marks {
			id, _, _, ok := CommentAttrs(m)
			if !ok {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		for _, child := range n.Content {
			walk(child)
		}
	}
	walk(d.root)
	return ids
}

// Spans lists every maximal annotated run in document order.
func (d *Doc) Spans() []Span {
	var out []Span
	for _, sp := range d.layout() {
		var cur *Span
		for i, c := range explode(sp.ref.node) {
			id := ""
			var number int
			var color string
			if c.atom == nil {
				for _, m := range c.marks {
					if mid, n, col, ok := CommentAttrs(m); ok {
						id, number, color = mid, n, col
						break
					}
				}
			}
			if cur != nil && (id != cur.CommentID || number != cur.Number || color != cur.Color) {
				out = append(out, *cur)
				cur = nil
			}
			if id == "" {
				continue
			}
			if cur == nil {
				cur = &Span{CommentID: id, Number: number, Color: color, Range: Range{From: sp.start + i}}
			}
			cur.Range.To = sp.start + i + 1
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}

// SpanRanges returns the ranges annotated by the comment in document order.
func (d *Doc) SpanRanges(id string) []Range {
	var out []Range
	for _, s := range d.Spans() {
		if s.CommentID == id {
			out = append(out, s.Range)
		}
	}
	return out
}

func (s Span) String() string {
	return fmt.Sprintf("#%d %s [%d,%d)", s.Number, s.CommentID, s.Range.From, s.Range.To)
}
