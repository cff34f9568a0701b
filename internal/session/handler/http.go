// Package handler exposes session operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"training-lab-control-plane/internal/audit"
	"training-lab-control-plane/internal/server"
	"training-lab-control-plane/internal/session/domain"
	"training-lab-control-plane/internal/session/repository"
	"training-lab-control-plane/internal/session/service"
	"training-lab-control-plane/internal/token"
)

// Orchestrator is the session service surface the handler needs.
type Orchestrator interface {
	Create(ctx context.Context, p service.CreateParams) (*domain.Session, error)
	Refresh(ctx context.Context, id, callerID string, admin bool) (*domain.Session, error)
	TerminateOwned(ctx context.Context, id, callerID string, admin bool, reason string, stopInstance bool) (*domain.Session, error)
	History(ctx context.Context, userID string) ([]service.HistoryEntry, int, error)
	AdminList(ctx context.Context, f repository.ListFilter) ([]*domain.Session, error)
}

type Handler struct {
	sessions Orchestrator
	audit    audit.AuditLogger
}

// NewHandler builds the session handler. auditLogger may be nil to disable
// audit recording.
func NewHandler(sessions Orchestrator, auditLogger audit.AuditLogger) *Handler {
	return &Handler{sessions: sessions, audit: auditLogger}
}

func (h *Handler) logEvent(ctx context.Context, actor, action, sessionID, metadata string) {
	if h.audit != nil {
		h.audit.LogEvent(ctx, actor, action, "session", sessionID, metadata)
	}
}

type createRequest struct {
	Tier      string `json:"tier"`
	Metadata  string `json:"metadata"`
	FocusMode bool   `json:"focus_mode"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims := server.Identity(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Tier == "" {
		server.Error(w, http.StatusBadRequest, "BAD_REQUEST", "tier is required")
		return
	}

	sess, err := h.sessions.Create(r.Context(), service.CreateParams{
		UserID:    claims.ID,
		Plan:      claims.Plan,
		Tier:      req.Tier,
		Metadata:  req.Metadata,
		FocusMode: req.FocusMode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logEvent(r.Context(), claims.ID, "session.create", sess.ID, req.Tier)
	server.JSON(w, http.StatusOK, map[string]any{"session": sess})
}

// Get also advances the lifecycle from what the instance and gateway report,
// so a polling client needs nothing beyond this read.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims := server.Identity(r.Context())
	id := r.PathValue("id")

	sess, err := h.sessions.Refresh(r.Context(), id, claims.ID, claims.Scope == token.ScopeAdmin)
	if err != nil {
		h.writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"session": sess})
}

type terminateRequest struct {
	Reason       string `json:"reason"`
	StopInstance bool   `json:"stop_instance"`
}

func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	claims := server.Identity(r.Context())
	id := r.PathValue("id")

	var req terminateRequest
	if r.Body != nil {
		// The body is optional; an empty read means default teardown.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := h.sessions.TerminateOwned(r.Context(), id, claims.ID, claims.Scope == token.ScopeAdmin, req.Reason, req.StopInstance)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logEvent(r.Context(), claims.ID, "session.terminate", sess.ID, req.Reason)
	server.JSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	claims := server.Identity(r.Context())

	entries, total, err := h.sessions.History(r.Context(), claims.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"sessions":      entries,
		"total_minutes": total,
	})
}

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	claims := server.Identity(r.Context())
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	sessions, err := h.sessions.AdminList(r.Context(), repository.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logEvent(r.Context(), claims.ID, "admin.session.list", "", q.Encode())
	server.JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		server.Error(w, http.StatusPaymentRequired, "QUOTA_EXCEEDED", "plan minutes are exhausted")
	case errors.Is(err, service.ErrSessionConflict):
		server.Error(w, http.StatusConflict, "SESSION_CONFLICT", "maximum concurrent sessions reached")
	case errors.Is(err, service.ErrPoolExhausted):
		server.Error(w, http.StatusServiceUnavailable, "POOL_EXHAUSTED", "no capacity available, retry shortly")
	case errors.Is(err, service.ErrNotFound):
		server.Error(w, http.StatusNotFound, "NOT_FOUND", "session not found")
	default:
		server.Error(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
