// Package handlers wires the terminal subsystem to HTTP. Which routes
// are served depends on the transport selected at startup.
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/rudeworld/omnicon-web/internal/capability"
	"github.com/rudeworld/omnicon-web/internal/model"
)

// Error codes carried in the error envelope.
const (
	CodeResourceExhausted   = "RESOURCE_EXHAUSTED"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeAttachConflict      = "ATTACH_CONFLICT"
	CodeExecTimeout         = "EXEC_TIMEOUT"
	CodeExecFailed          = "EXEC_FAILED"
	CodeTerminalUnsupported = "TERMINAL_UNSUPPORTED"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// ErrorDetail carries a machine-readable code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope for all error replies.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// sendError writes a JSON error response with the given status code.
func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendSessionError maps session-layer sentinel errors onto HTTP.
func sendSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrSessionClosed):
		sendError(c, 404, CodeSessionNotFound, err.Error())
	case errors.Is(err, model.ErrConflict):
		sendError(c, 409, CodeAttachConflict, err.Error())
	case errors.Is(err, model.ErrResourceExhausted):
		sendError(c, 503, CodeResourceExhausted, err.Error())
	default:
		sendError(c, 500, CodeInternalError, err.Error())
	}
}

// Transport is one of the two route sets the server can expose. The
// choice is made once at startup by capability negotiation and never
// changes for the process lifetime.
type Transport interface {
	Mode() capability.Mode
	Register(g gin.IRouter)
}

// CapabilityResponse tells the front end which transport it got.
type CapabilityResponse struct {
	Mode        capability.Mode `json:"mode"`
	Interactive bool            `json:"interactive"`
}

func capabilityHandler(mode capability.Mode) gin.HandlerFunc {
	resp := CapabilityResponse{
		Mode:        mode,
		Interactive: mode == capability.ModeInteractive,
	}
	return func(c *gin.Context) {
		c.JSON(200, resp)
	}
}
