package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
)

// Source loads the document to export. Version is "latest" or a commit
// hash or tag.
type Source interface {
	ExportDocument(ctx context.Context, documentID, version string) (Document, error)
}

// Service provides document export functionality
type Service struct {
	source Source

	// Swapped in tests so no browser or pandoc is needed.
	pdf  func(ctx context.Context, html, title string, paper Paper) (*Result, error)
	docx func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates a new export service
func NewService(source Source) *Service {
	return &Service{source: source, pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if _, err := ParseFormat(string(req.Format)); err != nil {
		return nil, fmt.Errorf("%w: %s", err, req.Format)
	}
	paper, err := ParsePaper(string(req.Paper))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, req.Paper)
	}
	doc, err := s.source.ExportDocument(ctx, req.DocumentID, req.Version)
	if err != nil {
		if errors.Is(err, ErrContentUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(doc.HTML),
		UpdatedAt:   doc.UpdatedAt,
		Comments:    []TemplateComment{},
	}
	if data.Title == "" {
		data.Title = doc.ID
	}
	if req.IncludeComments {
		for _, c := range doc.Comments {
			data.Comments = append(data.Comments, TemplateComment{
				Number:       c.Number,
				Color:        c.Color,
				SelectedText: c.SelectedText,
				Text:         c.Text,
			})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return s.pdf(ctx, html, data.Title, paper)
	case FormatDOCX:
		return s.docx(ctx, html, data.Title)
	default:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_', maps spaces to
// hyphens and caps the result at 50 bytes.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
