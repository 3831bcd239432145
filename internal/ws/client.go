package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/model"
	"github.com/rudeworld/omnicon-web/internal/session"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Keystrokes and pastes are small;
	// anything bigger is a misbehaving peer.
	maxMessageSize = 64 * 1024
)

var errClientGone = errors.New("ws client is gone")

// outMessage is one queued frame for the write pump.
type outMessage struct {
	messageType int // websocket.BinaryMessage or websocket.TextMessage
	payload     []byte
}

// Client adapts one WebSocket connection to a session. It is attached
// before the HTTP upgrade happens, so a conflict can be reported as a
// plain HTTP status; output produced in between queues in send.
type Client struct {
	sess *session.Session
	log  *zap.Logger

	conn *websocket.Conn

	send chan outMessage
	done chan struct{}
	once sync.Once

	// preamble is captured by Attached under the session lock and
	// written by the write pump before anything from send, so the
	// client always sees dimensions and history before live output.
	preamble []outMessage
}

// NewClient creates a client for sess with a bounded send queue. The
// session's bridge blocks when the queue is full; bytes are never
// dropped.
func NewClient(sess *session.Session, queueDepth int, log *zap.Logger) *Client {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Client{
		sess: sess,
		log:  log,
		send: make(chan outMessage, queueDepth),
		done: make(chan struct{}),
	}
}

// Attached implements session.Client. Called under the session lock
// before any live output can be enqueued.
func (c *Client) Attached(dims model.Dimensions, history []byte) {
	c.preamble = append(c.preamble, outMessage{
		messageType: websocket.TextMessage,
		payload: mustMarshal(ControlFrame{
			Type: ControlDimensions,
			Rows: dims.Rows,
			Cols: dims.Cols,
		}),
	})
	if len(history) > 0 {
		c.preamble = append(c.preamble, outMessage{
			messageType: websocket.BinaryMessage,
			payload:     history,
		})
	}
	c.preamble = append(c.preamble, outMessage{
		messageType: websocket.TextMessage,
		payload:     mustMarshal(ControlFrame{Type: ControlHistoryEnd}),
	})
}

// SendOutput implements session.Client. Blocks while the queue is full;
// returns an error once the connection is gone so the bridge detaches.
func (c *Client) SendOutput(data []byte) error {
	select {
	case c.send <- outMessage{messageType: websocket.BinaryMessage, payload: data}:
		return nil
	case <-c.done:
		return errClientGone
	}
}

// SendClose implements session.Client. Best-effort: if the queue is
// jammed the connection teardown carries the news instead.
func (c *Client) SendClose(reason model.CloseReason) {
	frame := outMessage{
		messageType: websocket.TextMessage,
		payload:     mustMarshal(ControlFrame{Type: ControlClose, Reason: string(reason)}),
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
	}
}

// Abort releases a client whose upgrade never happened.
func (c *Client) Abort() {
	c.shutdown()
}

// Run serves the upgraded connection until either side goes away. It
// detaches from the session before returning; the session itself keeps
// running for later re-attachment.
func (c *Client) Run(conn *websocket.Conn) {
	c.conn = conn

	go c.writePump()
	c.readPump()

	c.sess.Detach(c)
	c.shutdown()
}

// shutdown marks the client gone and unblocks the bridge.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump consumes frames from the peer: binary frames are terminal
// input, text frames are control.
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("ws read failed", zap.String("session_id", c.sess.ID()), zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := c.sess.Write(data); err != nil {
				c.log.Debug("session write failed", zap.String("session_id", c.sess.ID()), zap.Error(err))
				return
			}
		case websocket.TextMessage:
			frame, err := ParseControl(data)
			if err != nil {
				c.log.Warn("dropping bad control frame", zap.String("session_id", c.sess.ID()), zap.Error(err))
				continue
			}
			if c.handleControl(frame) {
				return
			}
		}
	}
}

// handleControl applies one client control frame. Returns true when the
// read pump should stop.
func (c *Client) handleControl(frame ControlFrame) bool {
	switch frame.Type {
	case ControlResize:
		if frame.Rows == 0 || frame.Cols == 0 {
			c.log.Warn("ignoring zero-sized resize", zap.String("session_id", c.sess.ID()))
			return false
		}
		if err := c.sess.Resize(frame.Rows, frame.Cols); err != nil {
			c.log.Warn("resize failed", zap.String("session_id", c.sess.ID()), zap.Error(err))
		}
	case ControlPing:
		pong := outMessage{
			messageType: websocket.TextMessage,
			payload:     mustMarshal(ControlFrame{Type: ControlPong}),
		}
		select {
		case c.send <- pong:
		case <-c.done:
		default:
		}
	case ControlClose:
		// Teardown sends the confirming close frame back through
		// SendClose before the session releases us.
		c.sess.Close(model.CloseReasonClient)
		return true
	}
	return false
}

// writePump owns all writes to the connection: the attach preamble
// first, then queued frames, with keepalive pings in between.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for _, msg := range c.preamble {
		if !c.writeMessage(msg) {
			return
		}
	}

	for {
		select {
		case msg := <-c.send:
			if !c.writeMessage(msg) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Drain whatever made it into the queue, then say goodbye.
			for {
				select {
				case msg := <-c.send:
					if !c.writeMessage(msg) {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Client) writeMessage(msg outMessage) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
		c.log.Debug("ws write failed", zap.String("session_id", c.sess.ID()), zap.Error(err))
		return false
	}
	return true
}
