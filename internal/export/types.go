// Package export renders an annotated document with its numbered comment
// list as HTML, PDF or DOCX.
package export

import (
	"errors"
	"strings"
	"time"

	"marginalia/api/internal/annotation"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat reads a Format. Blank input yields FormatHTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	}
	return "", ErrUnsupportedFormat
}

// Paper is the PDF page size.
type Paper string

const (
	PaperLetter Paper = "letter"
	PaperA4     Paper = "a4"
)

// ParsePaper reads a Paper. Blank input yields PaperLetter.
func ParsePaper(value string) (Paper, error) {
	switch Paper(strings.ToLower(value)) {
	case "", PaperLetter:
		return PaperLetter, nil
	case PaperA4:
		return PaperA4, nil
	}
	return "", ErrUnsupportedPaper
}

// Request contains parameters for an export operation
type Request struct {
	DocumentID      string
	Version         string // "latest" or commit hash
	Format          Format
	Paper           Paper // PDF only
	IncludeComments bool
}

// Document is the content handed to the renderer.
type Document struct {
	ID        string
	Title     string
	HTML      string // annotated document body
	Comments  []annotation.Comment
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrUnsupportedFormat indicates the requested format has no renderer.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrUnsupportedPaper indicates a PDF page size with no dimensions.
	ErrUnsupportedPaper = errors.New("export paper size unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
