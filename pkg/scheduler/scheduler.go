// Package scheduler marshals command execution onto the host mutation thread.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
)

const logPrefix = "scheduler:scheduler"

// DefaultMaxTasksPerTick bounds how long a single tick may be held.
const DefaultMaxTasksPerTick = 8

var (
	ErrNoMutationThread = errors.New("no mutation thread integration point")
	ErrNotRunning       = errors.New("scheduler is not running")
	ErrAlreadyStarted   = errors.New("scheduler already started")
)

// Task is one unit of work for the mutation thread.
type Task struct {
	RequestID string
	SessionID string
	Command   string

	// Ctx is passed to Run. Cancellation is not observed by the scheduler.
	Ctx  context.Context
	Run  func(ctx context.Context) (interface{}, error)
	Done func(Result)

	enqueued time.Time
}

// Result is the outcome of a task.
type Result struct {
	Value    interface{}
	Err      *protocol.Error
	Queued   time.Duration
	Duration time.Duration
	FastPath bool
}

// Stats are monotonically increasing counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Executed   uint64 `json:"executed"`
	FastPathed uint64 `json:"fast_pathed"`
	Faulted    uint64 `json:"faulted"`
	Pending    int    `json:"pending"`
}

// Options configures a Scheduler.
type Options struct {
	MaxTasksPerTick int
}

// Scheduler queues tasks from any goroutine and runs them, in submission
// order, on the host mutation thread.
type Scheduler struct {
	maxPerTick int

	mu         sync.Mutex
	queue      []*Task
	running    bool
	unregister func()
	waker      host.Waker

	submitted  atomic.Uint64
	executed   atomic.Uint64
	fastPathed atomic.Uint64
	faulted    atomic.Uint64
}

// New creates a stopped scheduler.
func New(opts Options) *Scheduler {
	if opts.MaxTasksPerTick <= 0 {
		opts.MaxTasksPerTick = DefaultMaxTasksPerTick
	}
	return &Scheduler{maxPerTick: opts.MaxTasksPerTick}
}

// Start hooks the scheduler into the host tick. A host without a tick source
// cannot serve commands, so callers treat failure as fatal.
func (s *Scheduler) Start(src host.TickSource) error {
	if src == nil {
		return fmt.Errorf("%s - %w", logPrefix, ErrNoMutationThread)
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("%s - %w", logPrefix, ErrAlreadyStarted)
	}
	s.mu.Unlock()

	unregister, err := src.OnTick(s.drain)
	if err != nil {
		return fmt.Errorf("%s - %w: %v", logPrefix, ErrNoMutationThread, err)
	}

	s.mu.Lock()
	s.running = true
	s.unregister = unregister
	if w, ok := src.(host.Waker); ok {
		s.waker = w
	}
	s.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - started, max tasks per tick=%d", logPrefix, s.maxPerTick))
	return nil
}

// Submit queues a task. It never blocks on the mutation thread.
func (s *Scheduler) Submit(t *Task) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("%s - %w", logPrefix, ErrNotRunning)
	}
	t.enqueued = time.Now()
	s.queue = append(s.queue, t)
	waker := s.waker
	s.mu.Unlock()

	s.submitted.Add(1)
	if waker != nil {
		waker.Wake()
	}
	return nil
}

// RunInline executes a task on the calling goroutine. Only for commands that
// neither mutate nor touch thread-affine host state.
func (s *Scheduler) RunInline(t *Task) {
	s.submitted.Add(1)
	s.fastPathed.Add(1)
	t.enqueued = time.Now()
	s.execute(t, true)
}

// drain runs on the mutation thread.
func (s *Scheduler) drain() {
	s.mu.Lock()
	n := len(s.queue)
	if n > s.maxPerTick {
		n = s.maxPerTick
	}
	batch := make([]*Task, n)
	copy(batch, s.queue[:n])
	remaining := copy(s.queue, s.queue[n:])
	for i := remaining; i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = s.queue[:remaining]
	s.mu.Unlock()

	for _, t := range batch {
		s.execute(t, false)
	}
}

func (s *Scheduler) execute(t *Task, fast bool) {
	start := time.Now()
	value, perr := s.invoke(t)
	res := Result{
		Value:    value,
		Err:      perr,
		Queued:   start.Sub(t.enqueued),
		Duration: time.Since(start),
		FastPath: fast,
	}
	s.executed.Add(1)
	if perr != nil && perr.Kind == protocol.KindInternal {
		s.faulted.Add(1)
	}
	s.complete(t, res)
}

func (s *Scheduler) invoke(t *Task) (value interface{}, perr *protocol.Error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - command %s (request %s) panicked: %v\n%s", logPrefix, t.Command, t.RequestID, r, debug.Stack()))
			value = nil
			perr = protocol.Errorf(protocol.KindInternal, "command %s panicked: %v", t.Command, r)
		}
	}()

	ctx := t.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	v, err := t.Run(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	if err := protocol.CheckResult(v); err != nil {
		slog.Error(fmt.Sprintf("%s - command %s returned an unencodable result: %v", logPrefix, t.Command, err))
		return nil, protocol.Errorf(protocol.KindInternal, "command %s returned an unsupported result: %v", t.Command, err)
	}
	return v, nil
}

func (s *Scheduler) complete(t *Task, res Result) {
	if t.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - completion for request %s panicked: %v", logPrefix, t.RequestID, r))
		}
	}()
	t.Done(res)
}

// Stop unhooks from the host and fails every queued task with HostNotReady.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unregister := s.unregister
	s.unregister = nil
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	for _, t := range pending {
		s.complete(t, Result{Err: protocol.NewError(protocol.KindHostNotReady, "scheduler stopped")})
	}
	slog.Info(fmt.Sprintf("%s - stopped, %d queued tasks failed", logPrefix, len(pending)))
}

// Running reports whether the scheduler accepts tasks.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pending returns the queue length.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted:  s.submitted.Load(),
		Executed:   s.executed.Load(),
		FastPathed: s.fastPathed.Load(),
		Faulted:    s.faulted.Load(),
		Pending:    s.Pending(),
	}
}
