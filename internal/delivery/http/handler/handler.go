package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/delivery/http/response"
	"github.com/user/wiki-archiver/internal/entity"
)

// ProgressProvider exposes live crawl counters. Implemented by usecase.Scheduler.
type ProgressProvider interface {
	Progress() entity.Progress
}

type Handler struct {
	progress ProgressProvider
	logger   *zap.Logger
}

func NewHandler(progress ProgressProvider, logger *zap.Logger) *Handler {
	return &Handler{
		progress: progress,
		logger:   logger,
	}
}

func (h *Handler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		h.writeJSONError(w, "Crawl not running", http.StatusServiceUnavailable)
		return
	}

	p := h.progress.Progress()
	resp := response.ProgressResponse{
		State:        p.State,
		PageCount:    p.PageCount,
		Downloaded:   p.Downloaded,
		Discovered:   p.Discovered,
		Remaining:    p.Remaining,
		DeadLettered: p.DeadLettered,
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
