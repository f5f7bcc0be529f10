package document

import (
	"encoding/json"
	"fmt"
)

// ParseJSON reads a ProseMirror JSON document.
func ParseJSON(data []byte) (*Doc, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	d, err := FromNode(&root)
	if err != nil {
		return nil, err
	}
	normalizeCommentAttrs(d.root)
	d.normalize()
	return d, nil
}

// MarshalJSON encodes the document as ProseMirror JSON.
func (d *Doc) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.root)
}

// normalizeCommentAttrs coerces JSON numbers on comment marks back to int.
func normalizeCommentAttrs(n *Node) {
	for i, m := range n.Marks {
		if m.Type != MarkComment || m.Attrs == nil {
			continue
		}
		n.Marks[i].Attrs[AttrCommentNumber] = toInt(m.Attrs[AttrCommentNumber])
	}
	for _, child := range n.Content {
		normalizeCommentAttrs(child)
	}
}
