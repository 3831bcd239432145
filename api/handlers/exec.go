package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/execrunner"
	"github.com/rudeworld/omnicon-web/internal/model"
)

// ExecHistory records finished one-shot runs. Best-effort.
type ExecHistory interface {
	ExecFinished(rec model.ExecRecord)
}

// ExecRequest is the body of POST /exec.
type ExecRequest struct {
	Command   string `json:"command" binding:"required"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// ExecResponse carries the outcome of a one-shot execution. On timeout
// the partial output captured before the kill is included alongside the
// error detail.
type ExecResponse struct {
	Stdout     string       `json:"stdout"`
	Stderr     string       `json:"stderr"`
	ExitCode   int          `json:"exit_code"`
	TimedOut   bool         `json:"timed_out"`
	Truncated  bool         `json:"truncated"`
	DurationMs int64        `json:"duration_ms"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// ExecHandler serves synchronous one-shot execution. Registered in both
// transport modes.
type ExecHandler struct {
	runner  *execrunner.Runner
	history ExecHistory
	log     *zap.Logger
}

// NewExecHandler creates an ExecHandler. history may be nil.
func NewExecHandler(runner *execrunner.Runner, history ExecHistory, log *zap.Logger) *ExecHandler {
	return &ExecHandler{runner: runner, history: history, log: log}
}

// Exec handles POST /exec.
func (h *ExecHandler) Exec(c *gin.Context) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, 400, CodeValidationError, "command is required")
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	res, err := h.runner.Run(c.Request.Context(), req.Command, timeout)

	if h.history != nil && !errors.Is(err, model.ErrExecutionFailed) {
		h.history.ExecFinished(model.ExecRecord{
			Command:   req.Command,
			ExitCode:  res.ExitCode,
			TimedOut:  res.TimedOut,
			Truncated: res.Truncated,
			Duration:  res.Duration,
			CreatedAt: time.Now(),
		})
	}

	resp := ExecResponse{
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Truncated:  res.Truncated,
		DurationMs: res.Duration.Milliseconds(),
	}

	switch {
	case err == nil:
		c.JSON(200, resp)
	case errors.Is(err, model.ErrTimeout):
		resp.Error = &ErrorDetail{Code: CodeExecTimeout, Message: err.Error()}
		c.JSON(408, resp)
	case errors.Is(err, model.ErrExecutionFailed):
		sendError(c, 422, CodeExecFailed, err.Error())
	default:
		sendError(c, 500, CodeInternalError, err.Error())
	}
}
