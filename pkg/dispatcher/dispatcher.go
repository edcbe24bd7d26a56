// Package dispatcher routes decoded requests to command handlers and
// correlates their completions with the sessions that sent them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/morezero/editor-bridge/pkg/events"
	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
	"github.com/morezero/editor-bridge/pkg/scheduler"
	"github.com/morezero/editor-bridge/pkg/semver"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const logPrefix = "dispatcher:dispatcher"

const tracerName = "github.com/morezero/editor-bridge/pkg/dispatcher"

// DefaultRequestTimeout is used when Options.Timeout is zero.
const DefaultRequestTimeout = 30 * time.Second

var ErrMissingDependency = errors.New("dispatcher requires a registry and a scheduler")

// Options configures a Dispatcher.
type Options struct {
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Codec     protocol.Codec
	Readiness host.Readiness

	// Publisher receives one event per completed command. It is called on the
	// mutation thread and must not block.
	Publisher events.EventPublisher

	// Timeout bounds how long a request is tracked. Negative disables it.
	Timeout time.Duration
	Tracer  trace.Tracer
}

// Stats are dispatcher counters.
type Stats struct {
	Sessions  int    `json:"sessions"`
	InFlight  int64  `json:"in_flight"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Completed uint64 `json:"completed"`
	TimedOut  uint64 `json:"timed_out"`
	Discarded uint64 `json:"discarded"`
}

// Dispatcher owns the sessions and their in-flight requests.
type Dispatcher struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	codec     protocol.Codec
	readiness host.Readiness
	publisher events.EventPublisher
	timeout   time.Duration
	tracer    trace.Tracer

	mu       sync.Mutex
	sessions map[string]*Session

	inflight  atomic.Int64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	timedOut  atomic.Uint64
	discarded atomic.Uint64
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, ErrMissingDependency)
	}
	if opts.Codec == nil {
		opts.Codec = protocol.JSON
	}
	if opts.Publisher == nil {
		opts.Publisher = &events.NoOpPublisher{}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		registry:  opts.Registry,
		scheduler: opts.Scheduler,
		codec:     opts.Codec,
		readiness: opts.Readiness,
		publisher: opts.Publisher,
		timeout:   opts.Timeout,
		tracer:    opts.Tracer,
		sessions:  make(map[string]*Session),
	}, nil
}

// Codec returns the wire codec.
func (d *Dispatcher) Codec() protocol.Codec {
	return d.codec
}

// OnConnect opens a session for conn.
func (d *Dispatcher) OnConnect(conn Conn) *Session {
	id := conn.ID()
	if id == "" {
		id = uuid.NewString()
	}
	s := newSession(id, conn)

	d.mu.Lock()
	d.sessions[id] = s
	d.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - session %s opened from %s", logPrefix, id, conn.RemoteAddr()))
	return s
}

// HandleFrame decodes one frame and dispatches it. Malformed frames get a
// DecodeError response.
func (d *Dispatcher) HandleFrame(s *Session, frame []byte) {
	req, err := d.codec.DecodeRequest(frame)
	if err != nil {
		var de *protocol.DecodeError
		resp := protocol.Failure("", protocol.NewError(protocol.KindDecode, err.Error()))
		if errors.As(err, &de) {
			resp = de.Response()
		}
		d.rejected.Add(1)
		slog.Debug(fmt.Sprintf("%s - session %s sent a malformed frame: %v", logPrefix, s.id, err))
		if s.Alive() {
			d.write(s, resp)
		}
		return
	}
	d.OnMessage(s, req)
}

// OnMessage validates a request and hands it to the scheduler. Rejections
// are answered immediately without touching the mutation thread.
func (d *Dispatcher) OnMessage(s *Session, req *protocol.Request) {
	ctx, span := d.tracer.Start(context.Background(), "dispatch "+req.Command,
		trace.WithAttributes(
			attribute.String("editor.command", req.Command),
			attribute.String("editor.session", s.id),
		))

	desc, err := d.registry.Lookup(req.Command)
	if err != nil {
		d.reject(s, span, req.ID, protocol.Errorf(protocol.KindUnknownCommand, "unknown command %q", req.Command).
			WithDetail("command", req.Command))
		return
	}

	bound, err := desc.Bind(req.Params)
	if err != nil {
		d.reject(s, span, req.ID, asValidation(err))
		return
	}
	if err := desc.Handler.Validate(bound); err != nil {
		d.reject(s, span, req.ID, asValidation(err))
		return
	}
	if perr := d.checkReady(desc); perr != nil {
		d.reject(s, span, req.ID, perr)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("editor.request_id", id))

	e := &entry{
		id:      id,
		desc:    desc,
		started: time.Now(),
		span:    span,
		ctx:     ctx,
		strict:  desc.IsStrictlyOrdered(),
	}
	e.task = &scheduler.Task{
		RequestID: id,
		SessionID: s.id,
		Command:   desc.Name,
		Ctx:       ctx,
		Run: func(ctx context.Context) (interface{}, error) {
			return desc.Handler.Execute(ctx, bound)
		},
		Done: func(res scheduler.Result) { d.finish(s, e, res) },
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		span.End()
		slog.Info(fmt.Sprintf("%s - session %s closed, dropping %s id=%s", logPrefix, s.id, desc.Name, id))
		return
	}
	if !s.track(e) {
		s.mu.Unlock()
		d.reject(s, span, id, protocol.Errorf(protocol.KindValidation, "request id %q is already in flight", id).
			WithDetail("id", id))
		return
	}
	if d.timeout > 0 {
		e.timer = time.AfterFunc(d.timeout, func() { d.expire(s, e) })
	}
	held := false
	if e.strict {
		if s.strictBusy {
			s.pending = append(s.pending, e)
			held = true
		} else {
			s.strictBusy = true
		}
	}
	s.mu.Unlock()

	d.accepted.Add(1)
	d.inflight.Add(1)
	slog.Debug(fmt.Sprintf("%s - accepted %s id=%s session=%s", logPrefix, desc.Name, id, s.id))

	if held {
		slog.Debug(fmt.Sprintf("%s - %s id=%s waits for an earlier ordered command", logPrefix, desc.Name, id))
		return
	}
	d.launch(e, true)
}

// launch runs a tracked entry. Fast-path commands run on the caller when
// inline is set; everything else goes to the mutation thread.
func (d *Dispatcher) launch(e *entry, inline bool) {
	if inline && e.desc.FastPath() {
		d.scheduler.RunInline(e.task)
		return
	}
	if err := d.scheduler.Submit(e.task); err != nil {
		e.task.Done(scheduler.Result{
			Err: protocol.Errorf(protocol.KindHostNotReady, "mutation thread unavailable: %v", err),
		})
	}
}

// finish is the scheduler completion callback. It may run on the mutation
// thread and never performs network I/O directly.
func (d *Dispatcher) finish(s *Session, e *entry, res scheduler.Result) {
	s.mu.Lock()
	tracked := s.untrack(e)
	alive := s.alive
	if tracked && alive {
		s.writing++
	}
	var next *entry
	if e.strict {
		next = s.nextStrict()
	}
	s.mu.Unlock()

	if tracked {
		d.inflight.Add(-1)
	}
	if next != nil {
		d.launch(next, false)
	}

	var resp *protocol.Response
	if res.Err != nil {
		resp = protocol.Failure(e.id, res.Err)
		e.span.SetStatus(codes.Error, res.Err.Message)
		e.span.SetAttributes(attribute.String("editor.error_kind", string(res.Err.Kind)))
	} else {
		resp = protocol.Success(e.id, res.Value)
	}
	e.span.SetAttributes(attribute.Bool("editor.fast_path", res.FastPath))
	e.span.End()

	delivered := false
	switch {
	case !alive:
		d.discarded.Add(1)
		slog.Info(fmt.Sprintf("%s - %s: %s id=%s finished after session %s closed",
			logPrefix, protocol.KindDisconnected, e.desc.Name, e.id, s.id))
	case !tracked:
		d.discarded.Add(1)
		slog.Warn(fmt.Sprintf("%s - discarding %s id=%s, it completed after its timeout", logPrefix, e.desc.Name, e.id))
	default:
		delivered = d.write(s, resp)
		s.doneWriting()
	}
	d.completed.Add(1)
	d.notify(s, e, res, delivered)
}

// expire stops tracking a request that outlived the timeout. A running task
// keeps running; a queued strict one never starts.
func (d *Dispatcher) expire(s *Session, e *entry) {
	s.mu.Lock()
	if !s.untrack(e) {
		s.mu.Unlock()
		return
	}
	neverStarted := s.dropPending(e)
	alive := s.alive
	if alive {
		s.writing++
	}
	s.mu.Unlock()

	d.inflight.Add(-1)
	d.timedOut.Add(1)
	slog.Warn(fmt.Sprintf("%s - %s: %s id=%s session=%s exceeded %s",
		logPrefix, protocol.KindTimeout, e.desc.Name, e.id, s.id, d.timeout))

	if neverStarted {
		e.span.SetStatus(codes.Error, "timed out before starting")
		e.span.End()
	}
	if alive {
		d.write(s, protocol.Failure(e.id, protocol.Errorf(protocol.KindTimeout,
			"command %q did not complete within %s", e.desc.Name, d.timeout)))
		s.doneWriting()
	}
}

// OnDisconnect marks the session dead. Completions that arrive later are
// acknowledged and dropped; queued ordered commands are discarded.
func (d *Dispatcher) OnDisconnect(s *Session) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	dropped := s.pending
	s.pending = nil
	abandoned := len(s.inflight)
	for _, e := range s.inflight {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.inflight = make(map[string]*entry)
	s.order = nil
	s.mu.Unlock()

	d.inflight.Add(-int64(abandoned))
	for _, e := range dropped {
		d.discarded.Add(1)
		e.span.SetStatus(codes.Error, "session closed")
		e.span.End()
		slog.Info(fmt.Sprintf("%s - %s: %s id=%s discarded before it started", logPrefix, protocol.KindDisconnected, e.desc.Name, e.id))
	}

	d.mu.Lock()
	delete(d.sessions, s.id)
	d.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - session %s closed with %d request(s) in flight", logPrefix, s.id, abandoned))
}

func (d *Dispatcher) reject(s *Session, span trace.Span, id string, perr *protocol.Error) {
	d.rejected.Add(1)
	span.SetStatus(codes.Error, perr.Message)
	span.SetAttributes(attribute.String("editor.error_kind", string(perr.Kind)))
	span.End()
	slog.Debug(fmt.Sprintf("%s - rejected id=%s session=%s: %s: %s", logPrefix, id, s.id, perr.Kind, perr.Message))
	if !s.Alive() {
		return
	}
	d.write(s, protocol.Failure(id, perr))
}

func (d *Dispatcher) write(s *Session, resp *protocol.Response) bool {
	if err := s.conn.Write(d.codec.EncodeResponse(resp)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to write response id=%s session=%s: %v", logPrefix, resp.ID, s.id, err))
		return false
	}
	return true
}

func (d *Dispatcher) checkReady(desc *registry.Descriptor) *protocol.Error {
	if d.readiness == nil {
		return nil
	}
	if !d.readiness.SubsystemReady(desc.Subsystem) {
		return protocol.Errorf(protocol.KindHostNotReady, "subsystem %q is not ready", desc.Subsystem).
			WithDetail("subsystem", desc.Subsystem)
	}
	if desc.Requires == "" {
		return nil
	}
	version := d.readiness.Version()
	ok, err := semver.Satisfies(version, desc.Requires)
	if err != nil || !ok {
		return protocol.Errorf(protocol.KindHostNotReady, "command %q requires host version %s, host reports %q",
			desc.Name, desc.Requires, version).
			WithDetail("requires", desc.Requires).
			WithDetail("host_version", version)
	}
	return nil
}

func (d *Dispatcher) notify(s *Session, e *entry, res scheduler.Result, delivered bool) {
	ev := &events.CommandCompleted{
		RequestID:  e.id,
		SessionID:  s.id,
		Command:    e.desc.Name,
		Subsystem:  e.desc.Subsystem,
		Mutates:    e.desc.Mutates,
		Status:     events.StatusSuccess,
		DurationMs: float64(time.Since(e.started).Microseconds()) / 1000,
		Delivered:  delivered,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if res.Err != nil {
		ev.Status = events.StatusError
		ev.ErrorKind = string(res.Err.Kind)
		ev.ErrorMessage = res.Err.Message
	}
	if err := d.publisher.PublishCompleted(e.ctx, ev); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish completion of %s id=%s: %v", logPrefix, e.desc.Name, e.id, err))
	}
}

// asValidation keeps validation errors as they are and wraps anything else.
func asValidation(err error) *protocol.Error {
	if pe, ok := protocol.AsError(err); ok && pe.Kind == protocol.KindValidation {
		return pe
	}
	return protocol.NewError(protocol.KindValidation, err.Error())
}

// Sessions returns the open sessions.
func (d *Dispatcher) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	sessions := len(d.sessions)
	d.mu.Unlock()
	return Stats{
		Sessions:  sessions,
		InFlight:  d.inflight.Load(),
		Accepted:  d.accepted.Load(),
		Rejected:  d.rejected.Load(),
		Completed: d.completed.Load(),
		TimedOut:  d.timedOut.Load(),
		Discarded: d.discarded.Load(),
	}
}

// Wait blocks until no request is in flight or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for d.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s - %d request(s) still in flight: %w", logPrefix, d.inflight.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
