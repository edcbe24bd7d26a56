package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/morezero/editor-bridge/pkg/registry"
	"github.com/morezero/editor-bridge/pkg/scheduler"
	"go.opentelemetry.io/otel/trace"
)

// Conn is the write side of a client connection. Write must not block on the
// network; transports queue the frame and return.
type Conn interface {
	ID() string
	RemoteAddr() string
	Write(frame []byte) error
}

// Session tracks one connection's in-flight requests.
type Session struct {
	id      string
	conn    Conn
	created time.Time

	mu         sync.Mutex
	alive      bool
	inflight   map[string]*entry
	order      []string
	strictBusy bool
	pending    []*entry
	writing    int
}

// entry is one accepted request.
type entry struct {
	id      string
	desc    *registry.Descriptor
	task    *scheduler.Task
	timer   *time.Timer
	started time.Time
	span    trace.Span
	ctx     context.Context
	strict  bool
}

func newSession(id string, conn Conn) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		created:  time.Now(),
		alive:    true,
		inflight: make(map[string]*entry),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address of the session's connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// Alive reports whether responses are still written to the connection.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// InFlight returns the ids of tracked requests in arrival order.
func (s *Session) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Idle reports whether the session has no tracked request and no response
// being written.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) == 0 && s.writing == 0
}

func (s *Session) doneWriting() {
	s.mu.Lock()
	s.writing--
	s.mu.Unlock()
}

// track must be called with mu held.
func (s *Session) track(e *entry) bool {
	if _, dup := s.inflight[e.id]; dup {
		return false
	}
	s.inflight[e.id] = e
	s.order = append(s.order, e.id)
	return true
}

// untrack must be called with mu held. It reports whether e was still tracked.
func (s *Session) untrack(e *entry) bool {
	if cur, ok := s.inflight[e.id]; !ok || cur != e {
		return false
	}
	delete(s.inflight, e.id)
	for i, id := range s.order {
		if id == e.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// dropPending removes e from the strict queue. Must be called with mu held.
func (s *Session) dropPending(e *entry) bool {
	for i, p := range s.pending {
		if p == e {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// nextStrict releases the strict gate and returns the next queued strict
// entry, which then holds the gate. Must be called with mu held.
func (s *Session) nextStrict() *entry {
	if !s.alive || len(s.pending) == 0 {
		s.strictBusy = false
		return nil
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	return next
}
