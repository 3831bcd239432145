package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/capability"
	"github.com/rudeworld/omnicon-web/internal/model"
	"github.com/rudeworld/omnicon-web/internal/session"
	"github.com/rudeworld/omnicon-web/internal/ws"
)

// CreateSessionRequest is the body of POST /sessions. Zero dimensions
// get the 80x24 default.
type CreateSessionRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// InteractiveTransport serves PTY-backed sessions over WebSocket, plus
// the endpoints shared with fallback mode.
type InteractiveTransport struct {
	registry   *session.Registry
	exec       *ExecHandler
	history    *HistoryHandler
	queueDepth int
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// NewInteractiveTransport creates the interactive route set. history may
// be nil.
func NewInteractiveTransport(registry *session.Registry, exec *ExecHandler, history *HistoryHandler, queueDepth int, log *zap.Logger) *InteractiveTransport {
	return &InteractiveTransport{
		registry: registry,
		exec:     exec,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The web console runs same-host; origin policy is left to
			// the CORS middleware in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueDepth: queueDepth,
		log:        log,
	}
}

// Mode implements Transport.
func (t *InteractiveTransport) Mode() capability.Mode { return capability.ModeInteractive }

// Register implements Transport.
func (t *InteractiveTransport) Register(g gin.IRouter) {
	g.POST("/sessions", t.CreateSession)
	g.GET("/sessions", t.ListSessions)
	g.GET("/sessions/:id", t.GetSession)
	g.GET("/sessions/:id/attach", t.Attach)
	g.DELETE("/sessions/:id", t.DeleteSession)
	g.GET("/sessions/:id/recording", t.Recording)
	g.POST("/exec", t.exec.Exec)
	g.GET("/capability", capabilityHandler(t.Mode()))
	if t.history != nil {
		t.history.Register(g)
	}
}

// CreateSession handles POST /sessions.
func (t *InteractiveTransport) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, 400, CodeValidationError, "malformed session request")
			return
		}
	}

	s, err := t.registry.Create(model.Dimensions{Rows: req.Rows, Cols: req.Cols})
	if err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(201, s.Info())
}

// ListSessions handles GET /sessions.
func (t *InteractiveTransport) ListSessions(c *gin.Context) {
	infos := t.registry.List()
	c.JSON(200, gin.H{"sessions": infos, "count": len(infos)})
}

// GetSession handles GET /sessions/:id.
func (t *InteractiveTransport) GetSession(c *gin.Context) {
	s, err := t.registry.Get(c.Param("id"))
	if err != nil {
		sendSessionError(c, err)
		return
	}
	c.JSON(200, s.Info())
}

// Attach handles GET /sessions/:id/attach. The client is attached to the
// session before the WebSocket upgrade, so a second concurrent attach is
// rejected with a plain 409 instead of a dead socket.
func (t *InteractiveTransport) Attach(c *gin.Context) {
	s, err := t.registry.Get(c.Param("id"))
	if err != nil {
		sendSessionError(c, err)
		return
	}

	client := ws.NewClient(s, t.queueDepth, t.log)
	if err := s.Attach(client); err != nil {
		sendSessionError(c, err)
		return
	}

	conn, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; free the slot.
		s.Detach(client)
		client.Abort()
		t.log.Warn("ws upgrade failed", zap.String("session_id", s.ID()), zap.Error(err))
		return
	}

	client.Run(conn)
}

// DeleteSession handles DELETE /sessions/:id. It blocks until teardown
// has released the PTY and the child process.
func (t *InteractiveTransport) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := t.registry.Get(id); err != nil {
		sendSessionError(c, err)
		return
	}

	t.registry.Close(id, model.CloseReasonClient)
	c.JSON(200, gin.H{"id": id, "state": model.StateClosed})
}

// Recording handles GET /sessions/:id/recording: download of the cast
// file for a live or recently closed session.
func (t *InteractiveTransport) Recording(c *gin.Context) {
	id := c.Param("id")

	var path string
	if s, err := t.registry.Get(id); err == nil {
		path = s.RecordingPath()
	} else if t.history != nil {
		path = t.history.RecordingPath(c.Request.Context(), id)
	}

	if path == "" {
		sendError(c, 404, CodeSessionNotFound, "no recording for session "+id)
		return
	}

	c.FileAttachment(path, id+".cast")
}
