package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/voltmoto/site/backend/internal/repository"
)

// AttemptLister reads the access attempt log
type AttemptLister interface {
	ListRecent(ctx context.Context, address string, limit int) ([]repository.AccessAttempt, error)
}

// AttemptHandler lets administrators review gate checks
type AttemptHandler struct {
	attempts AttemptLister
	logger   *slog.Logger
}

// NewAttemptHandler creates an AttemptHandler
func NewAttemptHandler(attempts AttemptLister, logger *slog.Logger) *AttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptHandler{attempts: attempts, logger: logger}
}

// List handles GET /admin/api/access-attempts?address=&limit=
func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 500)
	}

	attempts, err := h.attempts.ListRecent(r.Context(), address, limit)
	if err != nil {
		h.logger.Error("Failed to list access attempts", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to list access attempts", nil)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"attempts": attempts,
		"count":    len(attempts),
	})
}
