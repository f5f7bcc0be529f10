package app

import (
	"errors"
	"fmt"
	"net/http"

	"marginalia/api/internal/annotation"
	"marginalia/api/internal/document"
	"marginalia/api/internal/export"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *annotation.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), nil
	}
	switch {
	case errors.Is(err, annotation.ErrCommentNotFound):
		return http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil
	case errors.Is(err, annotation.ErrNoPendingComment):
		return http.StatusConflict, "NO_PENDING_COMMENT", "No comment is being added", nil
	case errors.Is(err, document.ErrOutOfRange):
		return http.StatusUnprocessableEntity, "OUT_OF_RANGE", "Position is outside the document", nil
	case errors.Is(err, document.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html, pdf or docx", nil
	case errors.Is(err, export.ErrUnsupportedPaper):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "paper must be letter or a4", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "NOT_FOUND", "Version not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
