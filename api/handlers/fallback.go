package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/capability"
)

// FallbackTransport serves the degraded route set: one-shot execution
// works, interactive session endpoints answer 501 with a structured
// error instead of hanging or upgrading a socket that will never carry
// data.
type FallbackTransport struct {
	exec    *ExecHandler
	history *HistoryHandler
	log     *zap.Logger
}

// NewFallbackTransport creates the fallback route set. history may be
// nil.
func NewFallbackTransport(exec *ExecHandler, history *HistoryHandler, log *zap.Logger) *FallbackTransport {
	return &FallbackTransport{exec: exec, history: history, log: log}
}

// Mode implements Transport.
func (t *FallbackTransport) Mode() capability.Mode { return capability.ModeFallback }

// Register implements Transport.
func (t *FallbackTransport) Register(g gin.IRouter) {
	g.POST("/sessions", t.unsupported)
	g.GET("/sessions", t.unsupported)
	g.GET("/sessions/:id", t.unsupported)
	g.GET("/sessions/:id/attach", t.unsupported)
	g.DELETE("/sessions/:id", t.unsupported)
	g.GET("/sessions/:id/recording", t.unsupported)
	g.POST("/exec", t.exec.Exec)
	g.GET("/capability", capabilityHandler(t.Mode()))
	if t.history != nil {
		t.history.Register(g)
	}
}

func (t *FallbackTransport) unsupported(c *gin.Context) {
	sendError(c, 501, CodeTerminalUnsupported,
		"interactive terminal is unavailable on this host; use POST /exec")
}
