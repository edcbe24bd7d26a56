package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/editor-bridge/pkg/events"
	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
	"github.com/morezero/editor-bridge/pkg/scheduler"
)

const testPrefix = "dispatcher:dispatcher_test"

// manualTicks is a tick source driven by the test.
type manualTicks struct {
	mu    sync.Mutex
	hooks []func()
}

func (m *manualTicks) OnTick(fn func()) (func(), error) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.hooks = nil
		m.mu.Unlock()
	}, nil
}

func (m *manualTicks) Tick() {
	m.mu.Lock()
	hooks := append([]func(){}, m.hooks...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	ch     chan []byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, ch: make(chan []byte, 256)}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "test:" + c.id }

func (c *fakeConn) Write(frame []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	select {
	case c.ch <- frame:
	default:
	}
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) next(t *testing.T) *protocol.Response {
	t.Helper()
	select {
	case frame := <-c.ch:
		resp, err := protocol.JSON.DecodeResponse(frame)
		if err != nil {
			t.Fatalf("%s - decode response: %v", testPrefix, err)
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - no response on %s", testPrefix, c.id)
	}
	return nil
}

// tagLog records handler execution order.
type tagLog struct {
	mu   sync.Mutex
	tags []string
}

func (l *tagLog) add(tag string) {
	l.mu.Lock()
	l.tags = append(l.tags, tag)
	l.mu.Unlock()
}

func (l *tagLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.tags...)
}

type fixture struct {
	disp   *Dispatcher
	sched  *scheduler.Scheduler
	ticks  *manualTicks
	avail  *host.Availability
	log    *tagLog
	events *eventSink
}

type eventSink struct {
	mu     sync.Mutex
	events []*events.CommandCompleted
}

func (s *eventSink) PublishCompleted(_ context.Context, ev *events.CommandCompleted) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) all() []*events.CommandCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*events.CommandCompleted(nil), s.events...)
}

func testRegistry(t *testing.T, log *tagLog, executed *atomic.Int32) *registry.Registry {
	t.Helper()
	record := registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
		executed.Add(1)
		tag, _ := p.String("tag")
		log.add(tag)
		return map[string]interface{}{"tag": tag}, nil
	})
	reg := registry.NewRegistry()
	err := reg.RegisterAll(
		registry.Descriptor{
			Name: "record", Subsystem: host.SubsystemGraph, Mutates: true,
			Params:  []registry.ParamSpec{{Name: "tag", Type: registry.TypeString, Required: true}},
			Handler: record,
		},
		registry.Descriptor{
			Name: "read_state", Subsystem: host.SubsystemGraph,
			Params:  []registry.ParamSpec{{Name: "tag", Type: registry.TypeString, Default: "read"}},
			Handler: record,
		},
		registry.Descriptor{
			Name: "peek", Subsystem: host.SubsystemSystem, ThreadSafe: true,
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				return map[string]interface{}{"ok": true}, nil
			}),
		},
		registry.Descriptor{
			Name: "play_sound", Subsystem: host.SubsystemAudio, Mutates: true,
			Handler: record,
		},
		registry.Descriptor{
			Name: "new_feature", Subsystem: host.SubsystemGraph, Mutates: true, Requires: ">=5.3",
			Handler: record,
		},
	)
	if err != nil {
		t.Fatalf("%s - register: %v", testPrefix, err)
	}
	reg.Freeze()
	return reg
}

func newFixture(t *testing.T, timeout time.Duration, executed *atomic.Int32) *fixture {
	t.Helper()
	f := &fixture{
		sched:  scheduler.New(scheduler.Options{MaxTasksPerTick: 16}),
		ticks:  &manualTicks{},
		avail:  host.NewAvailability("5.1.0", host.AllSubsystems...),
		log:    &tagLog{},
		events: &eventSink{},
	}
	if executed == nil {
		executed = &atomic.Int32{}
	}
	if err := f.sched.Start(f.ticks); err != nil {
		t.Fatalf("%s - start scheduler: %v", testPrefix, err)
	}
	t.Cleanup(f.sched.Stop)

	disp, err := New(Options{
		Registry:  testRegistry(t, f.log, executed),
		Scheduler: f.sched,
		Readiness: f.avail,
		Publisher: f.events,
		Timeout:   timeout,
	})
	if err != nil {
		t.Fatalf("%s - new dispatcher: %v", testPrefix, err)
	}
	f.disp = disp
	return f
}

func req(id, command string, pairs ...interface{}) *protocol.Request {
	return &protocol.Request{ID: id, Command: command, Params: protocol.NewParams(pairs...)}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("%s - expected error without registry and scheduler", testPrefix)
	}
}

func TestUnknownCommand_NeverScheduled(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("7", "teleport"))

	resp := conn.next(t)
	if resp.ID != "7" || resp.Status != protocol.StatusError || resp.Error.Kind != protocol.KindUnknownCommand {
		t.Fatalf("%s - unexpected response %+v", testPrefix, resp)
	}
	if st := f.sched.Stats(); st.Submitted != 0 {
		t.Fatalf("%s - scheduler saw %d submissions", testPrefix, st.Submitted)
	}
}

func TestValidation_NoHostMutation(t *testing.T) {
	var executed atomic.Int32
	f := newFixture(t, time.Second, &executed)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("1", "record"))
	f.disp.OnMessage(s, req("2", "record", "tag", 42))
	f.ticks.Tick()

	for i := 0; i < 2; i++ {
		resp := conn.next(t)
		if resp.Error == nil || resp.Error.Kind != protocol.KindValidation {
			t.Fatalf("%s - expected ValidationError, got %+v", testPrefix, resp)
		}
	}
	if executed.Load() != 0 || f.sched.Stats().Submitted != 0 {
		t.Fatalf("%s - invalid requests reached the host", testPrefix)
	}
}

func TestHostNotReady(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.avail.SetReady(host.SubsystemAudio, false)
	f.disp.OnMessage(s, req("1", "play_sound"))
	if resp := conn.next(t); resp.Error == nil || resp.Error.Kind != protocol.KindHostNotReady {
		t.Fatalf("%s - expected HostNotReady for unavailable subsystem, got %+v", testPrefix, resp)
	}

	f.disp.OnMessage(s, req("2", "new_feature"))
	if resp := conn.next(t); resp.Error == nil || resp.Error.Kind != protocol.KindHostNotReady {
		t.Fatalf("%s - expected HostNotReady for old host, got %+v", testPrefix, resp)
	}

	f.avail.SetVersion("5.4.1-33305258+++UE5+Release-5.4")
	f.disp.OnMessage(s, req("3", "new_feature"))
	f.ticks.Tick()
	if resp := conn.next(t); !resp.OK() {
		t.Fatalf("%s - expected success on a new enough host, got %+v", testPrefix, resp.Error)
	}
}

func TestExactlyOneResponsePerRequest(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		f.disp.OnMessage(s, req(id, "read_state", "tag", id))
	}
	f.ticks.Tick()

	seen := make(map[string]int)
	for range ids {
		resp := conn.next(t)
		if !resp.OK() {
			t.Fatalf("%s - unexpected error %+v", testPrefix, resp.Error)
		}
		seen[resp.ID]++
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("%s - id %s answered %d times", testPrefix, id, seen[id])
		}
	}
	f.ticks.Tick()
	if conn.count() != len(ids) {
		t.Fatalf("%s - expected %d writes, got %d", testPrefix, len(ids), conn.count())
	}
	if st := f.disp.Stats(); st.InFlight != 0 || st.Completed != uint64(len(ids)) {
		t.Fatalf("%s - unexpected stats %+v", testPrefix, st)
	}
}

func TestStrictCommandsAreGated(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("1", "record", "tag", "A"))
	f.disp.OnMessage(s, req("2", "record", "tag", "B"))
	if p := f.sched.Pending(); p != 1 {
		t.Fatalf("%s - expected only the first ordered command queued, got %d", testPrefix, p)
	}

	f.ticks.Tick()
	if resp := conn.next(t); resp.ID != "1" {
		t.Fatalf("%s - expected response 1 first, got %s", testPrefix, resp.ID)
	}
	if p := f.sched.Pending(); p != 1 {
		t.Fatalf("%s - expected the second command released, pending=%d", testPrefix, p)
	}
	f.ticks.Tick()
	if resp := conn.next(t); resp.ID != "2" {
		t.Fatalf("%s - expected response 2, got %s", testPrefix, resp.ID)
	}

	got := f.log.snapshot()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("%s - expected A before B, got %v", testPrefix, got)
	}
}

func TestUnorderedCommandsAreNotGated(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	s := f.disp.OnConnect(newFakeConn("c1"))

	f.disp.OnMessage(s, req("1", "read_state"))
	f.disp.OnMessage(s, req("2", "read_state"))
	if p := f.sched.Pending(); p != 2 {
		t.Fatalf("%s - expected both unordered commands queued, got %d", testPrefix, p)
	}
}

func TestStrictGateIsPerSession(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	s1 := f.disp.OnConnect(newFakeConn("c1"))
	s2 := f.disp.OnConnect(newFakeConn("c2"))

	f.disp.OnMessage(s1, req("1", "record", "tag", "s1"))
	f.disp.OnMessage(s2, req("1", "record", "tag", "s2"))
	if p := f.sched.Pending(); p != 2 {
		t.Fatalf("%s - sessions should not gate each other, pending=%d", testPrefix, p)
	}
}

func TestFastPathRunsInline(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("1", "peek"))
	if conn.count() != 1 {
		t.Fatalf("%s - fast-path command should answer without a tick", testPrefix)
	}
	if st := f.sched.Stats(); st.FastPathed != 1 {
		t.Fatalf("%s - expected 1 fast-path execution, got %+v", testPrefix, st)
	}
}

func TestDisconnect_NoWrites(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("1", "record", "tag", "first"))
	f.disp.OnMessage(s, req("2", "record", "tag", "queued"))
	f.disp.OnMessage(s, req("3", "read_state"))
	f.disp.OnDisconnect(s)
	f.ticks.Tick()
	f.ticks.Tick()

	if conn.count() != 0 {
		t.Fatalf("%s - expected no writes after disconnect, got %d", testPrefix, conn.count())
	}
	if got := f.log.snapshot(); len(got) != 2 || got[0] != "first" {
		t.Fatalf("%s - queued ordered command should have been dropped, ran %v", testPrefix, got)
	}
	st := f.disp.Stats()
	if st.InFlight != 0 || st.Sessions != 0 || st.Discarded != 3 {
		t.Fatalf("%s - unexpected stats %+v", testPrefix, st)
	}
	for _, ev := range f.events.all() {
		if ev.Delivered {
			t.Fatalf("%s - event for %s marked delivered", testPrefix, ev.RequestID)
		}
	}

	f.disp.OnMessage(s, req("4", "record", "tag", "late"))
	if conn.count() != 0 || f.sched.Pending() != 0 {
		t.Fatalf("%s - a closed session accepted a request", testPrefix)
	}
}

func TestTimeout_SendsOnceAndDiscardsLateCompletion(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("slow", "record", "tag", "x"))
	resp := conn.next(t)
	if resp.ID != "slow" || resp.Error == nil || resp.Error.Kind != protocol.KindTimeout {
		t.Fatalf("%s - expected Timeout, got %+v", testPrefix, resp)
	}

	f.ticks.Tick()
	if conn.count() != 1 {
		t.Fatalf("%s - late completion was written, %d frames", testPrefix, conn.count())
	}
	if got := f.log.snapshot(); len(got) != 1 {
		t.Fatalf("%s - timed out task should still run, ran %v", testPrefix, got)
	}
	st := f.disp.Stats()
	if st.TimedOut != 1 || st.Discarded != 1 || st.InFlight != 0 {
		t.Fatalf("%s - unexpected stats %+v", testPrefix, st)
	}
}

func TestDuplicateInFlightID(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("dup", "read_state"))
	f.disp.OnMessage(s, req("dup", "read_state"))
	resp := conn.next(t)
	if resp.ID != "dup" || resp.Error == nil || resp.Error.Kind != protocol.KindValidation {
		t.Fatalf("%s - expected ValidationError for duplicate id, got %+v", testPrefix, resp)
	}

	f.ticks.Tick()
	if resp := conn.next(t); !resp.OK() {
		t.Fatalf("%s - original request failed: %+v", testPrefix, resp.Error)
	}
	f.disp.OnMessage(s, req("dup", "read_state"))
	f.ticks.Tick()
	if resp := conn.next(t); !resp.OK() {
		t.Fatalf("%s - id reuse after completion should succeed: %+v", testPrefix, resp.Error)
	}
}

func TestMissingIDIsAssigned(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.HandleFrame(s, []byte(`{"command":"peek"}`))
	resp := conn.next(t)
	if !resp.OK() || resp.ID == "" || resp.ID == protocol.UnknownID {
		t.Fatalf("%s - expected a generated id, got %+v", testPrefix, resp)
	}
}

func TestHandleFrame_DecodeError(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.HandleFrame(s, []byte(`{"id":"9","parameters":{}}`))
	resp := conn.next(t)
	if resp.ID != "9" || resp.Error == nil || resp.Error.Kind != protocol.KindDecode {
		t.Fatalf("%s - expected DecodeError with recovered id, got %+v", testPrefix, resp)
	}

	f.disp.HandleFrame(s, []byte(`not json`))
	resp = conn.next(t)
	if resp.ID != protocol.UnknownID || resp.Error.Kind != protocol.KindDecode {
		t.Fatalf("%s - expected DecodeError for unknown id, got %+v", testPrefix, resp)
	}
}

func TestSchedulerStopped(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.sched.Stop()
	f.disp.OnMessage(s, req("1", "record", "tag", "x"))
	f.disp.OnMessage(s, req("2", "record", "tag", "y"))
	for i := 0; i < 2; i++ {
		if resp := conn.next(t); resp.Error == nil || resp.Error.Kind != protocol.KindHostNotReady {
			t.Fatalf("%s - expected HostNotReady, got %+v", testPrefix, resp)
		}
	}
}

func TestCompletionEvents(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	conn := newFakeConn("c1")
	s := f.disp.OnConnect(conn)

	f.disp.OnMessage(s, req("1", "record", "tag", "x"))
	f.ticks.Tick()
	conn.next(t)

	evs := f.events.all()
	if len(evs) != 1 {
		t.Fatalf("%s - expected 1 event, got %d", testPrefix, len(evs))
	}
	ev := evs[0]
	if ev.RequestID != "1" || ev.SessionID != "c1" || ev.Command != "record" || !ev.Delivered || !ev.Changed() {
		t.Fatalf("%s - unexpected event %+v", testPrefix, ev)
	}
}
