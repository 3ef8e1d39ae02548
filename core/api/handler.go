package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/store"
	"github.com/adalundhe/notepatch/core/versioning"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 4 << 20

const (
	headerIfMatch     = "If-Match"
	headerNoteVersion = "X-Note-Version"
	headerETag        = "ETag"
)

// Applier runs a content transaction against a note.
type Applier interface {
	ApplyContentOperations(ctx context.Context, noteRef string, req content.TransactionRequest) (*content.TransactionResult, error)
}

type HandlerConfig struct {
	Engine Applier
	// Store serves the read route. Optional.
	Store        store.DocumentStore
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Handler exposes the content engine over HTTP.
type Handler struct {
	engine       Applier
	store        store.DocumentStore
	maxBodyBytes int64
	logger       *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return &Handler{
		engine:       cfg.Engine,
		store:        cfg.Store,
		maxBodyBytes: limit,
		logger:       logger.With("component", "api"),
	}
}

// RegisterHTTP mounts the note routes on r.
func (h *Handler) RegisterHTTP(r chi.Router) {
	r.Post("/api/v2/note/{ref}/content:apply", h.handleApply)
	if h.store != nil {
		r.Get("/api/v2/note/{ref}/content", h.handleContent)
	}
}

type errorBody struct {
	Error      string             `json:"error"`
	Code       content.Code       `json:"code"`
	Message    string             `json:"message"`
	Issues     []issue            `json:"issues,omitempty"`
	OpsResults []content.OpResult `json:"ops_results"`
}

type issue struct {
	OpID    string `json:"op_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type contentBody struct {
	NoteID  string `json:"note_id"`
	Content string `json:"content"`
	Version string `json:"version"`
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	logger := h.logger.With("note", ref, "request_id", middleware.GetReqID(r.Context()))

	var req content.TransactionRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, content.Errorf(content.CodeSchema, "request body exceeds %d bytes", tooLarge.Limit), nil)
			return
		}
		logger.Debug("malformed request body", "error", err)
		writeError(w, http.StatusUnprocessableEntity, content.Errorf(content.CodeSchema, "malformed request body: %v", err), nil)
		return
	}

	if req.ExpectedVersion == "" {
		req.ExpectedVersion = preconditionHeader(r)
	}

	result, err := h.engine.ApplyContentOperations(r.Context(), ref, req)
	if result != nil && result.Version != "" {
		w.Header().Set(headerETag, result.Version)
	}
	if err != nil {
		code := content.CodeOf(err)
		if code == content.CodeInternal {
			logger.Error("content apply failed", "error", err)
		}
		var ops []content.OpResult
		if result != nil {
			ops = result.OpsResults
		}
		writeError(w, code.HTTPStatus(), err, ops)
		return
	}

	status := http.StatusOK
	if result.HasFailures() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	doc, err := h.store.Get(r.Context(), ref)
	if err != nil {
		if errors.Is(err, store.ErrNoteNotFound) {
			writeError(w, http.StatusNotFound, content.Wrap(content.CodeNoteNotFound, err, "note "+ref+" not found"), nil)
			return
		}
		h.logger.Error("load note failed", "note", ref, "error", err)
		writeError(w, http.StatusInternalServerError, content.Wrap(content.CodeInternal, err, "load note"), nil)
		return
	}

	if match := preconditionHeader(r); match != "" && match != "*" {
		if err := checkMatch(match, doc.Version); err != nil {
			w.Header().Set(headerETag, doc.Version)
			writeError(w, http.StatusPreconditionFailed, err, nil)
			return
		}
	}

	w.Header().Set(headerETag, doc.Version)
	writeJSON(w, http.StatusOK, contentBody{NoteID: ref, Content: doc.Text, Version: doc.Version})
}

// preconditionHeader returns If-Match, falling back to X-Note-Version.
func preconditionHeader(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(headerIfMatch)); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(headerNoteVersion))
}

func checkMatch(expected, current string) error {
	for _, candidate := range strings.Split(expected, ",") {
		if versioning.TokensMatch(strings.TrimSpace(candidate), current) {
			return nil
		}
	}
	return content.Errorf(content.CodePreconditionFailed, "note version is %s", current)
}

func writeError(w http.ResponseWriter, status int, err error, ops []content.OpResult) {
	if ops == nil {
		ops = []content.OpResult{}
	}
	body := errorBody{
		Error:      http.StatusText(status),
		Code:       content.CodeOf(err),
		OpsResults: ops,
	}

	var ve *content.ValidationError
	if errors.As(err, &ve) {
		body.Message = fmt.Sprintf("%d validation issue(s)", len(ve.Issues))
		for _, is := range ve.Issues {
			body.Issues = append(body.Issues, issue{OpID: is.OpID, Field: is.Field, Message: is.Message})
		}
	} else {
		ce := content.AsError(err)
		body.Message = ce.Message
		if body.Message == "" {
			body.Message = ce.Error()
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
