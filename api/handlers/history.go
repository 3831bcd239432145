package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/model"
)

// HistoryStore reads persisted terminal history.
type HistoryStore interface {
	RecentSessions(ctx context.Context, limit int) ([]model.SessionRecord, error)
	RecentExecRuns(ctx context.Context, limit int) ([]model.ExecRecord, error)
	RecordingPathByID(ctx context.Context, id string) (string, error)
}

// HistoryHandler serves diagnostics over past sessions and exec runs.
// Registered in both transport modes.
type HistoryHandler struct {
	store HistoryStore
	log   *zap.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(store HistoryStore, log *zap.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, log: log}
}

// Register adds the history routes to g.
func (h *HistoryHandler) Register(g gin.IRouter) {
	g.GET("/history/sessions", h.Sessions)
	g.GET("/history/exec", h.ExecRuns)
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		return 50
	}
	return limit
}

// SessionHistoryEntry is one row of GET /history/sessions.
type SessionHistoryEntry struct {
	ID          string `json:"id"`
	Shell       string `json:"shell"`
	PID         int    `json:"pid"`
	Rows        uint16 `json:"rows"`
	Cols        uint16 `json:"cols"`
	CloseReason string `json:"close_reason,omitempty"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	Recorded    bool   `json:"recorded"`
	CreatedAt   string `json:"created_at"`
	ClosedAt    string `json:"closed_at,omitempty"`
}

// Sessions handles GET /history/sessions.
func (h *HistoryHandler) Sessions(c *gin.Context) {
	records, err := h.store.RecentSessions(c.Request.Context(), limitParam(c))
	if err != nil {
		h.log.Error("history query failed", zap.Error(err))
		sendError(c, 500, CodeInternalError, "history unavailable")
		return
	}

	entries := make([]SessionHistoryEntry, 0, len(records))
	for _, rec := range records {
		entry := SessionHistoryEntry{
			ID:          rec.ID,
			Shell:       rec.Shell,
			PID:         rec.PID,
			Rows:        rec.Rows,
			Cols:        rec.Cols,
			CloseReason: string(rec.CloseReason),
			Recorded:    rec.RecordingPath != "",
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		}
		if !rec.ClosedAt.IsZero() {
			code := rec.ExitCode
			entry.ExitCode = &code
			entry.ClosedAt = rec.ClosedAt.Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}

	c.JSON(200, gin.H{"sessions": entries, "count": len(entries)})
}

// ExecRunEntry is one row of GET /history/exec.
type ExecRunEntry struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// ExecRuns handles GET /history/exec.
func (h *HistoryHandler) ExecRuns(c *gin.Context) {
	records, err := h.store.RecentExecRuns(c.Request.Context(), limitParam(c))
	if err != nil {
		h.log.Error("history query failed", zap.Error(err))
		sendError(c, 500, CodeInternalError, "history unavailable")
		return
	}

	entries := make([]ExecRunEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, ExecRunEntry{
			Command:    rec.Command,
			ExitCode:   rec.ExitCode,
			TimedOut:   rec.TimedOut,
			Truncated:  rec.Truncated,
			DurationMs: rec.Duration.Milliseconds(),
			CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(200, gin.H{"runs": entries, "count": len(entries)})
}

// RecordingPath looks up the cast file for a closed session. Empty when
// unknown or unrecorded.
func (h *HistoryHandler) RecordingPath(ctx context.Context, id string) string {
	path, err := h.store.RecordingPathByID(ctx, id)
	if err != nil {
		return ""
	}
	return path
}
