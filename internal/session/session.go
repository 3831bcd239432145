// Package session holds the terminal session entity, its PTY bridge and
// the registry that owns all live sessions.
package session

import (
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/buffer"
	"github.com/rudeworld/omnicon-web/internal/model"
	"github.com/rudeworld/omnicon-web/internal/pty"
	"github.com/rudeworld/omnicon-web/internal/recorder"
)

// Client is the attached consumer of a session's byte stream. At most one
// client is attached at a time.
//
// Attached is called exactly once, while the session lock is held, before
// any live output can reach the client; implementations must only enqueue.
// SendOutput may block (bounded send queue); an error means the client is
// gone and the session will detach it. SendClose is best-effort.
type Client interface {
	Attached(dims model.Dimensions, history []byte)
	SendOutput(data []byte) error
	SendClose(reason model.CloseReason)
}

// Session is one PTY-backed shell. The PTY master and the child process
// are created together and torn down together by a single teardown path.
type Session struct {
	id        string
	shell     string
	createdAt time.Time

	proc       *pty.Process
	scrollback *buffer.Ring
	rec        *recorder.Recorder
	recPath    string

	grace time.Duration
	log   *zap.Logger

	// onClosed runs as part of the closed transition, before closedCh is
	// closed. The registry uses it to remove the entry and persist history.
	onClosed func(*Session)

	mu          sync.Mutex
	state       model.SessionState
	dims        model.Dimensions
	client      Client
	lastActive  time.Time
	closeReason model.CloseReason
	exitCode    int

	procDone chan struct{} // waitLoop finished, exitCode valid
	readDone chan struct{} // readLoop finished, no more bridge output
	closedCh chan struct{} // teardown complete
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RecordingPath returns the cast file path, or "" when not recording.
func (s *Session) RecordingPath() string { return s.recPath }

// Info returns the externally visible session state.
func (s *Session) Info() model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionInfo{
		ID:        s.id,
		Shell:     s.shell,
		PID:       s.proc.PID(),
		State:     s.state,
		Rows:      s.dims.Rows,
		Cols:      s.dims.Cols,
		Attached:  s.client != nil,
		CreatedAt: s.createdAt,
	}
}

// Attach connects c as the session's client. The scrollback history and
// current dimensions are handed to c before any live output, under the
// session lock. A second concurrent attach fails with ErrConflict; the
// first client keeps the session.
func (s *Session) Attach(c Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case model.StateClosing, model.StateClosed:
		return model.ErrSessionClosed
	}
	if s.client != nil {
		return model.ErrConflict
	}

	c.Attached(s.dims, s.scrollback.ReadAll())
	s.client = c
	s.lastActive = time.Now()
	return nil
}

// Detach disconnects c if it is the attached client. The session keeps
// running; output accumulates in scrollback until re-attach or the idle
// sweep closes it.
func (s *Session) Detach(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == c {
		s.client = nil
		s.lastActive = time.Now()
	}
}

// Write forwards input bytes to the PTY master.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	if s.state == model.StateClosing || s.state == model.StateClosed {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	s.lastActive = time.Now()
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		if err := rec.Input(data); err != nil {
			s.log.Warn("recording input failed", zap.String("session_id", s.id), zap.Error(err))
		}
	}
	_, err := s.proc.Write(data)
	return err
}

// Resize updates the PTY window size. The kernel notifies the foreground
// process group via SIGWINCH.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	if s.state == model.StateClosing || s.state == model.StateClosed {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	s.dims = model.Dimensions{Rows: rows, Cols: cols}
	s.mu.Unlock()

	return s.proc.Resize(rows, cols)
}

// Close tears the session down and blocks until all handles are released.
// Safe to call from any trigger any number of times; exactly one teardown
// runs.
func (s *Session) Close(reason model.CloseReason) {
	s.requestClose(reason)
	<-s.closedCh
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.closedCh }

// idleSince reports whether the session has been unattached for longer
// than d.
func (s *Session) idleSince(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil || s.state != model.StateRunning {
		return false
	}
	return time.Since(s.lastActive) > d
}

// requestClose performs the guarded transition out of running. The caller
// that wins the transition runs teardown; everyone else returns
// immediately and may wait on closedCh.
func (s *Session) requestClose(reason model.CloseReason) {
	s.mu.Lock()
	if s.state == model.StateClosing || s.state == model.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = model.StateClosing
	s.closeReason = reason
	s.mu.Unlock()

	go s.teardown(reason)
}

// teardown is the single release path all close triggers converge on:
// signal the process group, let the bridge drain, then release handles.
func (s *Session) teardown(reason model.CloseReason) {
	// SIGTERM first; the process may already be gone when the trigger
	// was child exit, which is fine.
	if err := s.proc.Signal(syscall.SIGTERM); err == nil {
		select {
		case <-s.procDone:
		case <-time.After(s.grace):
			s.log.Warn("session did not exit in grace period, killing",
				zap.String("session_id", s.id))
			s.proc.Signal(syscall.SIGKILL)
		}
	}

	<-s.procDone

	// Give the bridge a moment to drain output buffered in the PTY,
	// then close the master to unblock a pending read.
	select {
	case <-s.readDone:
	case <-time.After(s.grace):
	}
	s.proc.CloseMaster()
	<-s.readDone

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.log.Warn("closing recording failed", zap.String("session_id", s.id), zap.Error(err))
		}
	}
	if client != nil {
		client.SendClose(reason)
	}

	if s.onClosed != nil {
		s.onClosed(s)
	}

	s.mu.Lock()
	s.state = model.StateClosed
	s.mu.Unlock()
	close(s.closedCh)

	s.log.Info("session closed",
		zap.String("session_id", s.id),
		zap.String("reason", string(reason)),
		zap.Int("exit_code", s.exitCode))
}

// readLoop is the PTY bridge: it forwards each read's bytes, undivided,
// to the scrollback buffer, the recorder and the attached client. The
// first read error ends the stream.
func (s *Session) readLoop() {
	defer close(s.readDone)

	buf := make([]byte, 4096)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			// Scrollback write and client fetch happen in one critical
			// section against Attach's snapshot-then-set, so each chunk
			// lands either in the replayed history or in the live
			// stream, never both.
			s.mu.Lock()
			s.scrollback.Write(chunk)
			rec := s.rec
			client := s.client
			s.mu.Unlock()

			if rec != nil {
				if werr := rec.Output(chunk); werr != nil {
					s.log.Warn("recording output failed", zap.String("session_id", s.id), zap.Error(werr))
				}
			}
			// Blocks when the client's send queue is full; bytes are
			// never dropped. With no client attached this is skipped
			// and the loop never blocks.
			if client != nil {
				if serr := client.SendOutput(chunk); serr != nil {
					s.Detach(client)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// waitLoop reaps the child and converges on the common teardown path.
func (s *Session) waitLoop() {
	code, err := s.proc.Wait()
	if err != nil {
		s.log.Warn("wait failed", zap.String("session_id", s.id), zap.Error(err))
	}

	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
	close(s.procDone)

	s.requestClose(model.CloseReasonExit)
}
