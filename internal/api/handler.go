// Package api serves the read-only query surface over the ingested
// corpus. All write paths go through the ingestion binary; the HTTP
// layer never mutates the store.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mailcorpus/mailcorpus/internal/segment"
	"github.com/mailcorpus/mailcorpus/internal/store"
)

// Error codes surfaced in API responses.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries the error detail in a response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler handles HTTP requests for the corpus query endpoints.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(st *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, logger: logger}
}

// ListMessages handles GET /api/v1/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}

	rows, err := h.store.ListMessages(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list messages", "error", err)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to list messages")
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// GetMessage handles GET /api/v1/messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	row, ok := h.lookupMessage(w, r)
	if !ok {
		return
	}

	attachments, err := h.store.GetAttachments(r.Context(), row.ID)
	if err != nil {
		h.logger.Error("Failed to load attachments", "error", err, "message_id", row.ID)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to load attachments")
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		*store.MessageRow
		Attachments []store.AttachmentRow `json:"attachments"`
	}{row, attachments})
}

// GetThread handles GET /api/v1/messages/{id}/thread. The response
// holds every message in the conversation, oldest first.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	row, ok := h.lookupMessage(w, r)
	if !ok {
		return
	}

	// Messages without an RFC message-id cannot be referenced by
	// others; their thread is whatever the parent link already says.
	if row.MessageID == "" {
		h.writeJSON(w, http.StatusOK, []store.MessageRow{*row})
		return
	}

	rows, err := h.store.GetThread(r.Context(), row.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			h.writeJSON(w, http.StatusOK, []store.MessageRow{*row})
			return
		}
		h.logger.Error("Failed to expand thread", "error", err, "message_id", row.ID)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to expand thread")
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// GetSegments handles GET /api/v1/messages/{id}/segments. Segmentation
// runs on demand over the stored plain-text body.
func (h *Handler) GetSegments(w http.ResponseWriter, r *http.Request) {
	row, ok := h.lookupMessage(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, segment.Split(row.Body))
}

// GetEntity handles GET /api/v1/entities/{address}.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "address is required")
		return
	}

	row, err := h.store.GetEntity(r.Context(), address)
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			h.writeError(w, http.StatusNotFound, CodeNotFound, "Entity not found")
			return
		}
		h.logger.Error("Failed to get entity", "error", err, "address", address)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to get entity")
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

func (h *Handler) lookupMessage(w http.ResponseWriter, r *http.Request) (*store.MessageRow, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid message id")
		return nil, false
	}

	row, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			h.writeError(w, http.StatusNotFound, CodeNotFound, "Message not found")
			return nil, false
		}
		h.logger.Error("Failed to get message", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to get message")
		return nil, false
	}
	return row, true
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Folder:    q.Get("folder"),
		Sender:    q.Get("sender"),
		Recipient: q.Get("recipient"),
	}

	switch dir := q.Get("direction"); dir {
	case "", store.DirectionSent, store.DirectionReceived:
		f.Direction = dir
	default:
		return f, errors.New("direction must be sent or received")
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &f.DateFrom},
		{"to", &f.DateTo},
	} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return f, errors.New(p.name + " must be a YYYY-MM-DD date")
			}
			*p.dst = &t
		}
	}

	if v := q.Get("has_attachments"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("has_attachments must be a boolean")
		}
		f.HasAttachments = &b
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errors.New("limit must be a positive integer")
		}
		if n > 1000 {
			n = 1000
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}

	return f, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}
