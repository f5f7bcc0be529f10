package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marginalia/api/internal/document"
	"marginalia/api/internal/export"
	"marginalia/api/internal/search"
	"marginalia/api/internal/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: promhttp.Handler()}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

type rangeBody struct {
	From int `json:"from" validate:"gte=0"`
	To   int `json:"to" validate:"gtefield=From"`
}

type textBody struct {
	Text string `json:"text" validate:"required,max=10000"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Ping(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		items, err := s.service.ListDocuments(r.Context())
		respond(w, map[string]any{"documents": items}, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: q})
			return
		}
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
				offset = parsed
			}
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
			Text:             q,
			FilterType:       search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			FilterDocumentID: strings.TrimSpace(r.URL.Query().Get("documentId")),
			Limit:            limit,
			Offset:           offset,
		}))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "documents" {
		documentID := parts[2]
		if !validDocumentID(documentID) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid document id", nil)
			return
		}
		s.handleDocuments(w, r, documentID, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	ctx := r.Context()

	switch {
	case len(parts) == 1 && parts[0] == "content" && r.Method == http.MethodGet:
		payload, err := s.service.GetContent(ctx, documentID, strings.TrimSpace(r.URL.Query().Get("format")))
		respond(w, payload, err)
		return

	case len(parts) == 1 && parts[0] == "content" && r.Method == http.MethodPut:
		var body struct {
			HTML string          `json:"html"`
			Doc  json.RawMessage `json:"doc"`
		}
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.SetContent(ctx, documentID, body.HTML, body.Doc)
		respond(w, st, err)
		return

	case len(parts) == 1 && parts[0] == "edits" && r.Method == http.MethodPost:
		var body EditInput
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.ApplyEdit(ctx, documentID, body)
		respond(w, st, err)
		return

	case len(parts) == 1 && parts[0] == "comments" && r.Method == http.MethodGet:
		st, err := s.service.Comments(ctx, documentID)
		respond(w, st, err)
		return

	case len(parts) == 1 && parts[0] == "comments" && r.Method == http.MethodPost:
		var body struct {
			rangeBody
			Text string `json:"text"`
		}
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.AddComment(ctx, documentID, document.Range{From: body.From, To: body.To}, body.Text)
		respond(w, st, err)
		return

	case len(parts) == 2 && parts[0] == "comments" && parts[1] == "pending" && r.Method == http.MethodPost:
		var body rangeBody
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.BeginAdd(ctx, documentID, document.Range{From: body.From, To: body.To})
		respond(w, st, err)
		return

	case len(parts) == 2 && parts[0] == "comments" && parts[1] == "pending" && r.Method == http.MethodDelete:
		st, err := s.service.CancelAdd(ctx, documentID)
		respond(w, st, err)
		return

	case len(parts) == 3 && parts[0] == "comments" && parts[1] == "pending" && parts[2] == "confirm" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.ConfirmAdd(ctx, documentID, body.Text)
		respond(w, st, err)
		return

	case len(parts) == 2 && parts[0] == "comments" && r.Method == http.MethodPatch:
		var body textBody
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.EditComment(ctx, documentID, parts[1], body.Text)
		respond(w, st, err)
		return

	case len(parts) == 2 && parts[0] == "comments" && r.Method == http.MethodDelete:
		st, err := s.service.RemoveComment(ctx, documentID, parts[1])
		respond(w, st, err)
		return

	case len(parts) == 3 && parts[0] == "comments" && parts[2] == "focus" && r.Method == http.MethodPost:
		st, ranges, err := s.service.Focus(ctx, documentID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": st, "ranges": ranges})
		return

	case len(parts) == 1 && parts[0] == "selection" && r.Method == http.MethodPut:
		var body rangeBody
		if !decodeInto(w, r, &body) {
			return
		}
		st, err := s.service.Select(ctx, documentID, document.Range{From: body.From, To: body.To})
		respond(w, st, err)
		return

	case len(parts) == 1 && parts[0] == "selection" && r.Method == http.MethodDelete:
		st, err := s.service.ClearSelection(ctx, documentID)
		respond(w, st, err)
		return

	case len(parts) == 1 && parts[0] == "close" && r.Method == http.MethodPost:
		st, err := s.service.CloseDocument(ctx, documentID)
		respond(w, st, err)
		return

	case len(parts) == 1 && parts[0] == "versions" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name" validate:"required,max=120"`
		}
		if !decodeInto(w, r, &body) {
			return
		}
		payload, err := s.service.SaveVersion(ctx, documentID, body.Name)
		respond(w, payload, err)
		return

	case len(parts) == 1 && parts[0] == "history" && r.Method == http.MethodGet:
		payload, err := s.service.History(ctx, documentID)
		respond(w, payload, err)
		return

	case len(parts) == 1 && parts[0] == "export" && r.Method == http.MethodGet:
		format, err := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html, pdf or docx", nil)
			return
		}
		includeComments := r.URL.Query().Get("comments") != "false"
		result, err := s.service.Export(ctx, export.Request{
			DocumentID:      documentID,
			Version:         strings.TrimSpace(r.URL.Query().Get("version")),
			Format:          format,
			Paper:           export.Paper(strings.TrimSpace(r.URL.Query().Get("paper"))),
			IncludeComments: includeComments,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// decodeInto decodes and validates the body, writing the error response
// itself when either step fails.
func decodeInto(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := validateBody(target); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
