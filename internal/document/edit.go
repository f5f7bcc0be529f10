package document

import (
	"fmt"
	"strings"
)

// blockSpan is a textblock with its first position and rune size.
type blockSpan struct {
	ref   blockRef
	start int
	size  int
}

func (d *Doc) layout() []blockSpan {
	refs := d.textblocks()
	spans := make([]blockSpan, 0, len(refs))
	pos := 0
	for _, ref := range refs {
		size := textblockSize(ref.node)
		spans = append(spans, blockSpan{ref: ref, start: pos, size: size})
		pos += size + 1
	}
	return spans
}

// Size returns the largest valid position.
func (d *Doc) Size() int {
	spans := d.layout()
	if len(spans) == 0 {
		return 0
	}
	last := spans[len(spans)-1]
	return last.start + last.size
}

// resolve maps a position to a textblock index and an offset inside it.
func resolve(spans []blockSpan, pos int) (int, int, error) {
	if pos < 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}
	for k, sp := range spans {
		if pos <= sp.start+sp.size {
			if pos < sp.start {
				break
			}
			return k, pos - sp.start, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrOutOfRange, pos)
}

func checkRange(spans []blockSpan, r Range) error {
	if r.From > r.To {
		return fmt.Errorf("%w: from %d after to %d", ErrOutOfRange, r.From, r.To)
	}
	if _, _, err := resolve(spans, r.From); err != nil {
		return err
	}
	if _, _, err := resolve(spans, r.To); err != nil {
		return err
	}
	return nil
}

// Text returns the plain text of the document. Textblock boundaries and
// hard breaks are rendered as newlines, so rune offsets equal positions.
func (d *Doc) Text() string {
	var b strings.Builder
	for i, sp := range d.layout() {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, c := range explode(sp.ref.node) {
			b.WriteRune(c.char())
		}
	}
	return b.String()
}

// Slice returns the text covered by r.
func (d *Doc) Slice(r Range) (string, error) {
	if err := checkRange(d.layout(), r); err != nil {
		return "", err
	}
	runes := []rune(d.Text())
	return string(runes[r.From:r.To]), nil
}

// InsertText inserts text at pos. Newlines become textblock splits. The
// inserted runes take the marks of the character before pos in the same
// textblock.
func (d *Doc) InsertText(pos int, text string) error {
	if _, _, err := resolve(d.layout(), pos); err != nil {
		return err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for i, part := range strings.Split(text, "\n") {
		if i > 0 {
			if err := d.SplitBlock(pos); err != nil {
				return err
			}
			pos++
		}
		if part == "" {
			continue
		}
		if err := d.insertRun(pos, part); err != nil {
			return err
		}
		pos += len([]rune(part))
	}
	return nil
}

func (d *Doc) insertRun(pos int, text string) error {
	spans := d.layout()
	k, off, err := resolve(spans, pos)
	if err != nil {
		return err
	}
	tb := spans[k].ref.node
	cells := explode(tb)
	var marks []Mark
	if off > 0 && cells[off-1].atom == nil {
		marks = cells[off-1].marks
	}
	inserted := make([]cell, 0, len(text))
	for _, r := range text {
		inserted = append(inserted, cell{r: r, marks: marks})
	}
	out := make([]cell, 0, len(cells)+len(inserted))
	out = append(out, cells[:off]...)
	out = append(out, inserted...)
	out = append(out, cells[off:]...)
	implode(tb, out)
	return nil
}

// Delete removes the content covered by r. A range spanning textblocks joins
// the first and last of them and drops every block in between.
func (d *Doc) Delete(r Range) error {
	spans := d.layout()
	if err := checkRange(spans, r); err != nil {
		return err
	}
	if r.Empty() {
		return nil
	}
	k1, o1, _ := resolve(spans, r.From)
	k2, o2, _ := resolve(spans, r.To)
	first := spans[k1].ref.node
	if k1 == k2 {
		cells := explode(first)
		implode(first, append(cells[:o1], cells[o2:]...))
		return nil
	}
	last := spans[k2].ref.node
	head := explode(first)[:o1]
	tail := explode(last)[o2:]
	implode(first, append(head, tail...))

	doomed := map[*Node]bool{last: true}
	inside := false
	for _, ref := range d.leaves() {
		if ref.node == first {
			inside = true
			continue
		}
		if ref.node == last {
			break
		}
		if inside {
			doomed[ref.node] = true
		}
	}
	removeNodes(d.root, doomed)
	return nil
}

// removeNodes drops targets below parent and prunes containers they leave
// empty. It reports whether anything was removed.
func removeNodes(parent *Node, targets map[*Node]bool) bool {
	removed := false
	kept := parent.Content[:0]
	for _, child := range parent.Content {
		if targets[child] {
			removed = true
			continue
		}
		if !isInline(child) && !isTextblock(child) && len(child.Content) > 0 {
			if removeNodes(child, targets) {
				removed = true
				if len(child.Content) == 0 {
					continue
				}
			}
		}
		kept = append(kept, child)
	}
	for i := len(kept); i < len(parent.Content); i++ {
		parent.Content[i] = nil
	}
	parent.Content = kept
	return removed
}

// SplitBlock breaks the textblock at pos in two. Content after pos moves to
// a new block of the same type; a heading split at its end yields a
// paragraph. The split itself carries no marks.
func (d *Doc) SplitBlock(pos int) error {
	spans := d.layout()
	k, off, err := resolve(spans, pos)
	if err != nil {
		return err
	}
	ref := spans[k].ref
	tb := ref.node
	cells := explode(tb)

	next := &Node{Type: tb.Type, Attrs: splitAttrs(tb.Attrs)}
	if tb.Type == TypeHeading && off == len(cells) {
		next = &Node{Type: TypeParagraph}
	}
	implode(next, cells[off:])
	implode(tb, cells[:off])

	for i, child := range ref.parent.Content {
		if child != tb {
			continue
		}
		content := make([]*Node, 0, len(ref.parent.Content)+1)
		content = append(content, ref.parent.Content[:i+1]...)
		content = append(content, next)
		content = append(content, ref.parent.Content[i+1:]...)
		ref.parent.Content = content
		break
	}
	return nil
}

// splitAttrs copies block attributes minus identity keys.
func splitAttrs(attrs map[string]any) map[string]any {
	out := cloneAttrs(attrs)
	delete(out, "id")
	delete(out, "nodeId")
	if len(out) == 0 {
		return nil
	}
	return out
}
