package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/buffer"
	"github.com/rudeworld/omnicon-web/internal/model"
	"github.com/rudeworld/omnicon-web/internal/pty"
	"github.com/rudeworld/omnicon-web/internal/recorder"
)

// History receives session lifecycle events for persistence. Both calls
// are best-effort; implementations log failures and never propagate them.
type History interface {
	SessionStarted(rec model.SessionRecord)
	SessionClosed(id string, reason model.CloseReason, exitCode int, closedAt time.Time)
}

// NopHistory discards all events.
type NopHistory struct{}

func (NopHistory) SessionStarted(model.SessionRecord) {}
func (NopHistory) SessionClosed(string, model.CloseReason, int, time.Time) {
}

// Options configures a Registry.
type Options struct {
	Shell          string
	MaxSessions    int
	IdleTimeout    time.Duration
	CloseGrace     time.Duration
	ScrollbackSize int
	RecordSessions bool
	RecordDir      string
}

// Registry owns every live session. Only non-closed sessions are present
// in the map; removal happens inside the closed transition.
type Registry struct {
	opts    Options
	history History
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce  sync.Once
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewRegistry creates a registry and starts its idle sweep.
func NewRegistry(opts Options, history History, log *zap.Logger) *Registry {
	if history == nil {
		history = NopHistory{}
	}
	r := &Registry{
		opts:      opts,
		history:   history,
		log:       log,
		sessions:  make(map[string]*Session),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Create spawns a shell on a fresh PTY and registers the session. Fails
// with ErrResourceExhausted when the session cap is reached or the PTY
// cannot be allocated; no partial entry is left behind.
func (r *Registry) Create(dims model.Dimensions) (*Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session cap %d reached", model.ErrResourceExhausted, r.opts.MaxSessions)
	}
	r.mu.Unlock()

	if dims.Rows == 0 {
		dims.Rows = 24
	}
	if dims.Cols == 0 {
		dims.Cols = 80
	}

	id := uuid.NewString()

	var rec *recorder.Recorder
	var recPath string
	if r.opts.RecordSessions {
		recPath = filepath.Join(r.opts.RecordDir, id+".cast")
		var err error
		rec, err = recorder.New(recPath, int(dims.Cols), int(dims.Rows))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrResourceExhausted, err)
		}
	}

	proc, err := pty.Start(pty.StartOptions{
		Shell: r.opts.Shell,
		Rows:  dims.Rows,
		Cols:  dims.Cols,
	})
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return nil, fmt.Errorf("%w: %v", model.ErrResourceExhausted, err)
	}

	s := &Session{
		id:         id,
		shell:      r.opts.Shell,
		createdAt:  time.Now(),
		proc:       proc,
		scrollback: buffer.NewRing(r.opts.ScrollbackSize),
		rec:        rec,
		recPath:    recPath,
		grace:      r.opts.CloseGrace,
		log:        r.log,
		onClosed:   r.sessionClosed,
		state:      model.StateStarting,
		dims:       dims,
		lastActive: time.Now(),
		exitCode:   -1,
		procDone:   make(chan struct{}),
		readDone:   make(chan struct{}),
		closedCh:   make(chan struct{}),
	}

	// The session must already be running when it becomes visible in
	// the map; nothing may observe or attach to it while starting.
	s.mu.Lock()
	s.state = model.StateRunning
	s.mu.Unlock()

	r.mu.Lock()
	if len(r.sessions) >= r.opts.MaxSessions {
		// Lost the race to another Create.
		r.mu.Unlock()
		proc.Signal(syscall.SIGKILL)
		go proc.Wait()
		proc.CloseMaster()
		if rec != nil {
			rec.Close()
		}
		return nil, fmt.Errorf("%w: session cap %d reached", model.ErrResourceExhausted, r.opts.MaxSessions)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	// Persist the start record before the wait loop can race a
	// fast-exiting child to the closed update.
	r.history.SessionStarted(model.SessionRecord{
		ID:            id,
		Shell:         r.opts.Shell,
		PID:           proc.PID(),
		Rows:          dims.Rows,
		Cols:          dims.Cols,
		RecordingPath: recPath,
		CreatedAt:     s.createdAt,
	})

	go s.readLoop()
	go s.waitLoop()

	r.log.Info("session created",
		zap.String("session_id", id),
		zap.Int("pid", proc.PID()),
		zap.Uint16("rows", dims.Rows),
		zap.Uint16("cols", dims.Cols))

	return s, nil
}

// Get returns the session with the given id, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return s, nil
}

// List returns info for every live session.
func (r *Registry) List() []model.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Close tears down the session with the given id and waits for teardown
// to finish. Closing an unknown id is a no-op: the session may have just
// closed itself, which is the same outcome.
func (r *Registry) Close(id string, reason model.CloseReason) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close(reason)
}

// CloseAll stops the idle sweep and tears down every session. Called on
// server shutdown; safe to call more than once.
func (r *Registry) CloseAll() {
	r.stopOnce.Do(func() { close(r.sweepStop) })
	<-r.sweepDone

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(model.CloseReasonShutdown)
		}(s)
	}
	wg.Wait()
}

// sessionClosed runs inside the session's closed transition: remove the
// entry, then persist the outcome.
func (r *Registry) sessionClosed(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()

	s.mu.Lock()
	reason := s.closeReason
	exitCode := s.exitCode
	s.mu.Unlock()

	r.history.SessionClosed(s.id, reason, exitCode, time.Now())
}

// sweepLoop closes sessions that have sat unattached past the idle
// timeout.
func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)

	if r.opts.IdleTimeout <= 0 {
		<-r.sweepStop
		return
	}

	interval := r.opts.IdleTimeout / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.sweepStop:
			return
		case <-ticker.C:
			r.mu.Lock()
			var idle []*Session
			for _, s := range r.sessions {
				if s.idleSince(r.opts.IdleTimeout) {
					idle = append(idle, s)
				}
			}
			r.mu.Unlock()

			for _, s := range idle {
				r.log.Info("closing idle session", zap.String("session_id", s.id))
				s.Close(model.CloseReasonIdle)
			}
		}
	}
}
