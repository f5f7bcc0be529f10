package document

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTML attributes carried by an annotation span.
const (
	HTMLCommentID     = "comment-id"
	HTMLCommentNumber = "comment-number"
	HTMLCommentColor  = "comment-color"
	HTMLCommentClass  = "comment-mark"
)

var blockTags = map[string]string{
	TypeBlockquote:  "blockquote",
	TypeBulletList:  "ul",
	TypeOrderedList: "ol",
	TypeListItem:    "li",
	TypeTable:       "table",
	TypeTableRow:    "tr",
	TypeTableCell:   "td",
	TypeTableHeader: "th",
}

// RenderHTML serializes the document. Comment spans become
// <span class="comment-mark"> elements carrying comment-id, comment-number
// and comment-color.
func (d *Doc) RenderHTML() string {
	var b strings.Builder
	for _, child := range d.root.Content {
		renderBlock(&b, child)
	}
	return b.String()
}

func renderBlock(b *strings.Builder, n *Node) {
	switch n.Type {
	case TypeParagraph:
		b.WriteString("<p>")
		renderInline(b, n.Content)
		b.WriteString("</p>")
	case TypeHeading:
		level := toInt(n.Attrs["level"])
		level = min(max(level, 1), 6)
		fmt.Fprintf(b, "<h%d>", level)
		renderInline(b, n.Content)
		fmt.Fprintf(b, "</h%d>", level)
	case TypeCodeBlock:
		b.WriteString("<pre><code")
		if lang, _ := n.Attrs["language"].(string); lang != "" {
			writeAttr(b, "class", "language-"+lang)
		}
		b.WriteString(">")
		renderInline(b, n.Content)
		b.WriteString("</code></pre>")
	case TypeHorizontalRule:
		b.WriteString("<hr>")
	default:
		if isTextblock(n) {
			b.WriteString("<p>")
			renderInline(b, n.Content)
			b.WriteString("</p>")
			return
		}
		tag, ok := blockTags[n.Type]
		if !ok {
			tag = "div"
		}
		b.WriteString("<" + tag + ">")
		for _, child := range n.Content {
			renderBlock(b, child)
		}
		b.WriteString("</" + tag + ">")
	}
}

func renderInline(b *strings.Builder, nodes []*Node) {
	var open []Mark
	closeTo := func(n int) {
		for len(open) > n {
			closeMark(b, open[len(open)-1])
			open = open[:len(open)-1]
		}
	}
	for _, n := range nodes {
		if n.Type == TypeText {
			keep := 0
			for keep < len(open) && keep < len(n.Marks) && markEqual(open[keep], n.Marks[keep]) {
				keep++
			}
			closeTo(keep)
			for _, m := range n.Marks[keep:] {
				openMark(b, m)
				open = append(open, m)
			}
			b.WriteString(html.EscapeString(n.Text))
			continue
		}
		closeTo(0)
		switch n.Type {
		case TypeHardBreak:
			b.WriteString("<br>")
		case "image":
			b.WriteString("<img")
			for _, key := range []string{"src", "alt", "title"} {
				if v, _ := n.Attrs[key].(string); v != "" {
					writeAttr(b, key, v)
				}
			}
			b.WriteString(">")
		case "mention":
			id, _ := n.Attrs["id"].(string)
			label, _ := n.Attrs["label"].(string)
			b.WriteString(`<span data-type="mention"`)
			writeAttr(b, "data-id", id)
			writeAttr(b, "data-label", label)
			b.WriteString(">@" + html.EscapeString(label) + "</span>")
		}
	}
	closeTo(0)
}

func writeAttr(b *strings.Builder, key, value string) {
	b.WriteString(" " + key + `="` + html.EscapeString(value) + `"`)
}

func openMark(b *strings.Builder, m Mark) {
	switch m.Type {
	case "bold":
		b.WriteString("<strong>")
	case "italic":
		b.WriteString("<em>")
	case "code":
		b.WriteString("<code>")
	case "strike":
		b.WriteString("<s>")
	case "underline":
		b.WriteString("<u>")
	case "link":
		href, _ := m.Attrs["href"].(string)
		b.WriteString("<a")
		writeAttr(b, "href", href)
		b.WriteString(">")
	case "highlight":
		b.WriteString("<mark")
		if color, _ := m.Attrs["color"].(string); color != "" {
			writeAttr(b, "data-color", color)
		}
		b.WriteString(">")
	case MarkComment:
		id, number, color, _ := CommentAttrs(m)
		b.WriteString("<span")
		writeAttr(b, "class", HTMLCommentClass)
		writeAttr(b, HTMLCommentID, id)
		writeAttr(b, HTMLCommentNumber, strconv.Itoa(number))
		writeAttr(b, HTMLCommentColor, color)
		writeAttr(b, "style", "background-color: "+color)
		b.WriteString(">")
	}
}

func closeMark(b *strings.Builder, m Mark) {
	switch m.Type {
	case "bold":
		b.WriteString("</strong>")
	case "italic":
		b.WriteString("</em>")
	case "code":
		b.WriteString("</code>")
	case "strike":
		b.WriteString("</s>")
	case "underline":
		b.WriteString("</u>")
	case "link":
		b.WriteString("</a>")
	case "highlight":
		b.WriteString("</mark>")
	case MarkComment:
		b.WriteString("</span>")
	}
}

// ParseHTML reads serialized content produced by RenderHTML or by the host
// editor. Unknown elements are unwrapped; loose inline content is wrapped in
// paragraphs.
func ParseHTML(s string) (*Doc, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), context)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	root := &Node{Type: TypeDoc, Content: parseBlocks(nodes)}
	return FromNode(root)
}

func parseBlocks(nodes []*html.Node) []*Node {
	var out []*Node
	var pending []*Node
	flush := func() {
		for len(pending) > 0 {
			last := pending[len(pending)-1]
			if last.Type != TypeText || strings.TrimSpace(last.Text) != "" {
				break
			}
			pending = pending[:len(pending)-1]
		}
		if len(pending) > 0 {
			out = append(out, &Node{Type: TypeParagraph, Content: pending})
		}
		pending = nil
	}
	for _, n := range nodes {
		switch n.Type {
		case html.TextNode:
			if len(pending) == 0 && strings.TrimSpace(n.Data) == "" {
				continue
			}
			pending = append(pending, parseInline([]*html.Node{n}, nil)...)
			continue
		case html.ElementNode:
		default:
			continue
		}
		if block := parseBlock(n); block != nil {
			flush()
			out = append(out, block...)
			continue
		}
		pending = append(pending, parseInline([]*html.Node{n}, nil)...)
	}
	flush()
	return out
}

// parseBlock converts a block-level element. It returns nil for inline
// elements.
func parseBlock(n *html.Node) []*Node {
	switch n.DataAtom {
	case atom.P:
		return []*Node{{Type: TypeParagraph, Content: parseInline(children(n), nil)}}
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		return []*Node{{
			Type:    TypeHeading,
			Attrs:   map[string]any{"level": level},
			Content: parseInline(children(n), nil),
		}}
	case atom.Pre:
		block := &Node{Type: TypeCodeBlock}
		kids := children(n)
		if len(kids) == 1 && kids[0].DataAtom == atom.Code {
			if class := attr(kids[0], "class"); strings.HasPrefix(class, "language-") {
				block.Attrs = map[string]any{"language": strings.TrimPrefix(class, "language-")}
			}
			kids = children(kids[0])
		}
		block.Content = parseInline(kids, nil)
		return []*Node{block}
	case atom.Hr:
		return []*Node{{Type: TypeHorizontalRule}}
	case atom.Blockquote, atom.Li, atom.Td, atom.Th:
		typ := map[atom.Atom]string{
			atom.Blockquote: TypeBlockquote,
			atom.Li:         TypeListItem,
			atom.Td:         TypeTableCell,
			atom.Th:         TypeTableHeader,
		}[n.DataAtom]
		content := parseBlocks(children(n))
		if len(content) == 0 {
			content = []*Node{{Type: TypeParagraph}}
		}
		return []*Node{{Type: typ, Content: content}}
	case atom.Ul, atom.Ol, atom.Table, atom.Tr:
		typ := map[atom.Atom]string{
			atom.Ul:    TypeBulletList,
			atom.Ol:    TypeOrderedList,
			atom.Table: TypeTable,
			atom.Tr:    TypeTableRow,
		}[n.DataAtom]
		return []*Node{{Type: typ, Content: parseBlocks(children(n))}}
	case atom.Div, atom.Section, atom.Article, atom.Main, atom.Header, atom.Footer,
		atom.Tbody, atom.Thead, atom.Tfoot, atom.Body, atom.Html:
		return append([]*Node{}, parseBlocks(children(n))...)
	}
	return nil
}

func parseInline(nodes []*html.Node, marks []Mark) []*Node {
	var out []*Node
	for _, n := range nodes {
		switch n.Type {
		case html.TextNode:
			if n.Data == "" {
				continue
			}
			out = append(out, &Node{Type: TypeText, Text: n.Data, Marks: cloneMarks(marks)})
		case html.ElementNode:
			switch {
			case n.DataAtom == atom.Br:
				out = append(out, &Node{Type: TypeHardBreak})
				continue
			case n.DataAtom == atom.Img:
				attrs := map[string]any{}
				for _, key := range []string{"src", "alt", "title"} {
					if v := attr(n, key); v != "" {
						attrs[key] = v
					}
				}
				out = append(out, &Node{Type: "image", Attrs: attrs})
				continue
			case n.DataAtom == atom.Span && attr(n, "data-type") == "mention":
				out = append(out, &Node{Type: "mention", Attrs: map[string]any{
					"id":    attr(n, "data-id"),
					"label": attr(n, "data-label"),
				}})
				continue
			}
			inner := marks
			if m, ok := markFor(n); ok {
				inner = append(append([]Mark(nil), marks...), m)
			}
			out = append(out, parseInline(children(n), inner)...)
		}
	}
	return out
}

func markFor(n *html.Node) (Mark, bool) {
	switch n.DataAtom {
	case atom.Strong, atom.B:
		return Mark{Type: "bold"}, true
	case atom.Em, atom.I:
		return Mark{Type: "italic"}, true
	case atom.Code:
		return Mark{Type: "code"}, true
	case atom.S, atom.Strike, atom.Del:
		return Mark{Type: "strike"}, true
	case atom.U:
		return Mark{Type: "underline"}, true
	case atom.A:
		return Mark{Type: "link", Attrs: map[string]any{"href": attr(n, "href")}}, true
	case atom.Mark:
		m := Mark{Type: "highlight"}
		if color := attr(n, "data-color"); color != "" {
			m.Attrs = map[string]any{"color": color}
		}
		return m, true
	case atom.Span:
		id := attr(n, HTMLCommentID)
		if id == "" {
			return Mark{}, false
		}
		number, _ := strconv.Atoi(attr(n, HTMLCommentNumber))
		return CommentMark(id, number, attr(n, HTMLCommentColor)), true
	}
	return Mark{}, false
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
