// Package capability decides once, at startup, whether this process can
// offer interactive PTY sessions or must fall back to one-shot execution.
package capability

import (
	"go.uber.org/zap"
)

// Mode is the transport mode the server runs in for its whole lifetime.
type Mode string

const (
	// ModeInteractive serves PTY-backed WebSocket sessions.
	ModeInteractive Mode = "interactive"
	// ModeFallback serves synchronous one-shot execution only.
	ModeFallback Mode = "fallback"
)

// Detect resolves the configured mode ("auto", "interactive" or
// "fallback") against a PTY allocation probe. In auto mode any probe
// error resolves silently to fallback; the degradation is logged, never
// surfaced to clients as a failure.
func Detect(configured string, probe func() error, log *zap.Logger) Mode {
	switch configured {
	case string(ModeInteractive):
		return ModeInteractive
	case string(ModeFallback):
		return ModeFallback
	}

	if err := probe(); err != nil {
		log.Warn("pty probe failed, degrading to one-shot execution", zap.Error(err))
		return ModeFallback
	}
	return ModeInteractive
}
