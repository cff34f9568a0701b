// Package handler exposes usage reporting over HTTP.
package handler

import (
	"context"
	"net/http"

	"training-lab-control-plane/internal/quota/domain"
	"training-lab-control-plane/internal/server"
)

// Tracker is the quota service surface the handler needs.
type Tracker interface {
	GetUsage(ctx context.Context, userID, planName string) (*domain.Usage, error)
}

type Handler struct {
	quota Tracker
}

func NewHandler(quota Tracker) *Handler {
	return &Handler{quota: quota}
}

func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	claims := server.Identity(r.Context())

	usage, err := h.quota.GetUsage(r.Context(), claims.ID, claims.Plan)
	if err != nil {
		server.Error(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	server.JSON(w, http.StatusOK, usage)
}
