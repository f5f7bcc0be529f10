// Package annotation keeps numbered, colored comments consistent with the
// comment spans embedded in a document.
package annotation

import (
	"strings"
	"time"

	"marginalia/api/internal/util"
)

// Comment is the out-of-document record for one annotation.
type Comment struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	SelectedText string    `json:"selectedText"`
	Number       int       `json:"number"`
	Color        string    `json:"color"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewCommentID returns a fresh comment id.
func NewCommentID() string {
	return util.NewID("cmt")
}

func normalizeText(text string) string {
	return strings.TrimSpace(text)
}
