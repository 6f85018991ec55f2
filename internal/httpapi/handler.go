// Package httpapi is the local control surface: a small JSON API over the
// coordinator plus a websocket that speaks the UI side of the bus.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/store"
	isync "github.com/nhle/inboxdigest/internal/sync"
	"github.com/nhle/inboxdigest/internal/worker"
)

// Controller is what the API needs from the coordinator.
type Controller interface {
	SyncStatus() isync.Status
	TriggerSync() bool
	PrivacyStatus(ctx context.Context) bus.PrivacyStatusMsg
	Recent(ctx context.Context, limit int) (model.RecentSummaries, error)
	DeleteEmail(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	AuditLog(ctx context.Context) ([]model.AuditLogEntry, error)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Sync    isync.Status         `json:"sync"`
	Privacy bus.PrivacyStatusMsg `json:"privacy"`
}

// Handler serves the JSON endpoints.
type Handler struct {
	ctl Controller
}

// NewHandler creates a Handler.
func NewHandler(ctl Controller) *Handler {
	return &Handler{ctl: ctl}
}

// GET /api/status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Sync:    h.ctl.SyncStatus(),
		Privacy: h.ctl.PrivacyStatus(c.Request.Context()),
	})
}

// POST /api/sync
// TriggerSync starts a manual cycle; 409 while one is running.
func (h *Handler) TriggerSync(c *gin.Context) {
	if !h.ctl.TriggerSync() {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GET /api/summaries?limit=
func (h *Handler) ListSummaries(c *gin.Context) {
	limit := store.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > store.MaxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(store.MaxListLimit)})
			return
		}
		limit = n
	}

	recent, err := h.ctl.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "listing summaries", err)
		return
	}
	c.JSON(http.StatusOK, recent)
}

// DELETE /api/summaries/:id
func (h *Handler) DeleteSummary(c *gin.Context) {
	if err := h.ctl.DeleteEmail(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "deleting summary", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /api/data
func (h *Handler) DeleteAll(c *gin.Context) {
	if err := h.ctl.DeleteAll(c.Request.Context()); err != nil {
		h.fail(c, "deleting local data", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/audit
func (h *Handler) AuditLog(c *gin.Context) {
	entries, err := h.ctl.AuditLog(c.Request.Context())
	if err != nil {
		h.fail(c, "exporting audit log", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// fail maps worker result codes onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	var re *worker.ResultError
	if errors.As(err, &re) {
		switch store.Code(re.Code) {
		case store.CodeNotFound:
			status = http.StatusNotFound
		case store.CodeInvalidPayload:
			status = http.StatusBadRequest
		case store.CodeNotInitialized:
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusInternalServerError {
		log.Printf("[http] %s: %v", op, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
