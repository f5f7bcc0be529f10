// Package document implements the rich-text document model comments are anchored in.
//
// A document is a ProseMirror-shaped tree: a "doc" root, block containers,
// textblocks holding inline nodes, and "text" leaves carrying marks.
// Positions count runes across textblocks in document order with one
// position between consecutive textblocks. Inline atoms such as hardBreak
// occupy one position.
package document

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	TypeDoc            = "doc"
	TypeText           = "text"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeCodeBlock      = "codeBlock"
	TypeBlockquote     = "blockquote"
	TypeBulletList     = "bulletList"
	TypeOrderedList    = "orderedList"
	TypeListItem       = "listItem"
	TypeHardBreak      = "hardBreak"
	TypeHorizontalRule = "horizontalRule"
	TypeTable          = "table"
	TypeTableRow       = "tableRow"
	TypeTableCell      = "tableCell"
	TypeTableHeader    = "tableHeader"
)

var (
	// ErrOutOfRange indicates a position or range outside the document.
	ErrOutOfRange = errors.New("position out of range")
	// ErrInvalidDocument indicates serialized content that is not a document.
	ErrInvalidDocument = errors.New("invalid document")
)

var textblockTypes = map[string]struct{}{
	TypeParagraph: {},
	TypeHeading:   {},
	TypeCodeBlock: {},
}

var inlineAtomTypes = map[string]struct{}{
	TypeHardBreak: {},
	"image":       {},
	"mention":     {},
}

var containerTypes = map[string]struct{}{
	TypeBlockquote:  {},
	TypeBulletList:  {},
	TypeOrderedList: {},
	TypeListItem:    {},
	TypeTable:       {},
	TypeTableRow:    {},
	TypeTableCell:   {},
	TypeTableHeader: {},
}

// Mark is a formatting or annotation attribute applied to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Node is a node in the document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Range is a half-open span of document positions.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Empty reports whether the range selects nothing.
func (r Range) Empty() bool {
	return r.To <= r.From
}

// Doc is a mutable document. It is not safe for concurrent use.
type Doc struct {
	root *Node
}

// New returns a document holding one empty paragraph.
func New() *Doc {
	return &Doc{root: &Node{Type: TypeDoc, Content: []*Node{{Type: TypeParagraph}}}}
}

// FromNode builds a document from a tree. The tree is copied.
func FromNode(root *Node) (*Doc, error) {
	if root == nil || root.Type != TypeDoc {
		return nil, fmt.Errorf("%w: root node must be %q", ErrInvalidDocument, TypeDoc)
	}
	d := &Doc{root: cloneNode(root)}
	if len(d.textblocks()) == 0 {
		d.root.Content = append(d.root.Content, &Node{Type: TypeParagraph})
	}
	d.normalize()
	return d, nil
}

// Root returns a copy of the document tree.
func (d *Doc) Root() *Node {
	return cloneNode(d.root)
}

// Clone returns an independent copy of the document.
func (d *Doc) Clone() *Doc {
	return &Doc{root: cloneNode(d.root)}
}

func isInline(n *Node) bool {
	if n.Type == TypeText {
		return true
	}
	_, ok := inlineAtomTypes[n.Type]
	return ok
}

func isTextblock(n *Node) bool {
	if n.Type == TypeDoc || isInline(n) {
		return false
	}
	if _, ok := textblockTypes[n.Type]; ok {
		return true
	}
	if _, ok := containerTypes[n.Type]; ok || len(n.Content) == 0 {
		return false
	}
	for _, child := range n.Content {
		if !isInline(child) {
			return false
		}
	}
	return true
}

// blockRef locates a textblock or leaf block under its parent.
type blockRef struct {
	node   *Node
	parent *Node
}

// leaves lists textblocks and leaf blocks in document order.
func (d *Doc) leaves() []blockRef {
	var out []blockRef
	var walk func(parent *Node)
	walk = func(parent *Node) {
		for _, child := range parent.Content {
			switch {
			case isInline(child):
				continue
			case isTextblock(child) || len(child.Content) == 0:
				out = append(out, blockRef{node: child, parent: parent})
			default:
				walk(child)
			}
		}
	}
	walk(d.root)
	return out
}

func (d *Doc) textblocks() []blockRef {
	leaves := d.leaves()
	out := leaves[:0:0]
	for _, ref := range leaves {
		if isTextblock(ref.node) {
			out = append(out, ref)
		}
	}
	return out
}

// cell is one position inside a textblock.
type cell struct {
	r     rune
	atom  *Node
	marks []Mark
}

func (c cell) char() rune {
	if c.atom == nil {
		return c.r
	}
	if c.atom.Type == TypeHardBreak {
		return '\n'
	}
	return '\uFFFC'
}

func explode(tb *Node) []cell {
	var cells []cell
	for _, child := range tb.Content {
		if child.Type != TypeText {
			cells = append(cells, cell{atom: child})
			continue
		}
		for _, r := range child.Text {
			cells = append(cells, cell{r: r, marks: child.Marks})
		}
	}
	return cells
}

// implode rebuilds a textblock's inline content, merging equal-mark runs.
func implode(tb *Node, cells []cell) {
	content := make([]*Node, 0, len(tb.Content))
	var run []rune
	var runMarks []Mark
	flush := func() {
		if len(run) == 0 {
			return
		}
		content = append(content, &Node{Type: TypeText, Text: string(run), Marks: runMarks})
		run = nil
		runMarks = nil
	}
	for _, c := range cells {
		if c.atom != nil {
			flush()
			content = append(content, c.atom)
			continue
		}
		if len(run) > 0 && !marksEqual(runMarks, c.marks) {
			flush()
		}
		if len(run) == 0 {
			runMarks = c.marks
		}
		run = append(run, c.r)
	}
	flush()
	if len(content) == 0 {
		content = nil
	}
	tb.Content = content
}

func textblockSize(tb *Node) int {
	size := 0
	for _, child := range tb.Content {
		if child.Type == TypeText {
			size += utf8.RuneCountInString(child.Text)
			continue
		}
		size++
	}
	return size
}

func (d *Doc) normalize() {
	for _, ref := range d.textblocks() {
		implode(ref.node, explode(ref.node))
	}
}

func marksEqual(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for _, ma := range a {
		found := false
		for _, mb := range b {
			if markEqual(ma, mb) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func markEqual(a, b Mark) bool {
	if a.Type != b.Type || len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for key, value := range a.Attrs {
		other, ok := b.Attrs[key]
		if !ok || fmt.Sprint(value) != fmt.Sprint(other) {
			return false
		}
	}
	return true
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		out[key] = value
	}
	return out
}

func cloneMarks(marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, len(marks))
	for i, m := range marks {
		out[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
	}
	return out
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Type:  n.Type,
		Attrs: cloneAttrs(n.Attrs),
		Text:  n.Text,
		Marks: cloneMarks(n.Marks),
	}
	if len(n.Content) > 0 {
		out.Content = make([]*Node, 0, len(n.Content))
		for _, child := range n.Content {
			if child == nil {
				continue
			}
			out.Content = append(out.Content, cloneNode(child))
		}
	}
	return out
}
