package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/editor-bridge/pkg/dispatcher"
	"github.com/morezero/editor-bridge/pkg/framing"
	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
	"github.com/morezero/editor-bridge/pkg/scheduler"
)

const testPrefix = "transport:transport_test"

func newTestDispatcher(t *testing.T, codec protocol.Codec) *dispatcher.Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := host.NewMainLoop(time.Millisecond)
	if err := loop.Start(ctx); err != nil {
		t.Fatalf("%s - start loop: %v", testPrefix, err)
	}
	t.Cleanup(loop.Stop)

	sched := scheduler.New(scheduler.Options{})
	if err := sched.Start(loop); err != nil {
		t.Fatalf("%s - start scheduler: %v", testPrefix, err)
	}
	t.Cleanup(sched.Stop)

	reg := registry.NewRegistry()
	err := reg.RegisterAll(
		registry.Descriptor{
			Name:       "echo",
			Subsystem:  host.SubsystemSystem,
			ThreadSafe: true,
			Params:     []registry.ParamSpec{{Name: "msg", Type: registry.TypeString, Default: ""}},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				msg, _ := p.String("msg")
				return map[string]interface{}{"msg": msg}, nil
			}),
		},
		registry.Descriptor{
			Name:      "slow",
			Subsystem: host.SubsystemGraph,
			Mutates:   true,
			Params:    []registry.ParamSpec{{Name: "ms", Type: registry.TypeInt, Default: int64(0)}},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				ms, _ := p.Int("ms")
				time.Sleep(time.Duration(ms) * time.Millisecond)
				return "done", nil
			}),
		},
	)
	if err != nil {
		t.Fatalf("%s - register: %v", testPrefix, err)
	}
	reg.Freeze()

	disp, err := dispatcher.New(dispatcher.Options{
		Registry:  reg,
		Scheduler: sched,
		Codec:     codec,
		Readiness: host.NewAvailability("5.4.0", host.AllSubsystems...),
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("%s - new dispatcher: %v", testPrefix, err)
	}
	return disp
}

func startStream(t *testing.T, disp *dispatcher.Dispatcher, opts Options) *StreamServer {
	t.Helper()
	opts.Address = "127.0.0.1:0"
	srv, err := NewStreamServer(disp, opts)
	if err != nil {
		t.Fatalf("%s - new stream server: %v", testPrefix, err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("%s - listen: %v", testPrefix, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	})
	return srv
}

func readLine(t *testing.T, r *bufio.Reader) *protocol.Response {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("%s - read response: %v", testPrefix, err)
	}
	resp, err := protocol.JSON.DecodeResponse(line)
	if err != nil {
		t.Fatalf("%s - decode response %q: %v", testPrefix, line, err)
	}
	return resp
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("%s - dial: %v", testPrefix, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestNew_UnknownMode(t *testing.T) {
	if _, err := New(nil, Options{Mode: "udp"}); err == nil {
		t.Fatalf("%s - expected error for unknown mode", testPrefix)
	}
	if _, err := New(nil, Options{Mode: ModeNATS}); err == nil {
		t.Fatalf("%s - expected error for nats mode without a connection", testPrefix)
	}
}

func TestStream_LineRequests(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLine})

	conn := dial(t, srv.Addr())
	fmt.Fprint(conn, `{"id":"1","command":"echo","parameters":{"msg":"hi"}}`+"\n")
	fmt.Fprint(conn, `{"id":2,"type":"slow","params":{}}`+"\n")

	r := bufio.NewReader(conn)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		resp := readLine(t, r)
		if !resp.OK() {
			t.Fatalf("%s - unexpected error: %+v", testPrefix, resp.Error)
		}
		seen[resp.ID] = true
	}
	if !seen["1"] || !seen["2"] {
		t.Fatalf("%s - expected responses for 1 and 2, got %v", testPrefix, seen)
	}
}

func TestStream_MalformedFrameKeepsConnection(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLine})

	conn := dial(t, srv.Addr())
	fmt.Fprint(conn, "{not json\n")
	r := bufio.NewReader(conn)
	resp := readLine(t, r)
	if resp.Error == nil || resp.Error.Kind != protocol.KindDecode {
		t.Fatalf("%s - expected DecodeError, got %+v", testPrefix, resp)
	}

	fmt.Fprint(conn, `{"id":"after","command":"echo"}`+"\n")
	if resp := readLine(t, r); resp.ID != "after" || !resp.OK() {
		t.Fatalf("%s - connection unusable after decode error: %+v", testPrefix, resp)
	}
}

func TestStream_HalfCloseAnsweredWhenDraining(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLine, DrainOnPeerClose: true})

	conn := dial(t, srv.Addr())
	fmt.Fprint(conn, `{"id":"h","command":"slow","parameters":{"ms":20}}`)
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("%s - close write: %v", testPrefix, err)
	}

	r := bufio.NewReader(conn)
	if resp := readLine(t, r); resp.ID != "h" || !resp.OK() {
		t.Fatalf("%s - unexpected response %+v", testPrefix, resp)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("%s - expected server to close, got %v", testPrefix, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s - timed out waiting for %s", testPrefix, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_PeerCloseDiscardsInFlight(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLine})

	conn := dial(t, srv.Addr())
	const n = 3
	for i := 0; i < n; i++ {
		fmt.Fprintf(conn, `{"id":"s%d","command":"slow","parameters":{"ms":300}}`+"\n", i)
	}
	waitFor(t, "requests to be accepted", func() bool { return disp.Stats().Accepted == n })
	conn.Close()

	waitFor(t, "session teardown", func() bool {
		st := disp.Stats()
		return st.Sessions == 0 && st.InFlight == 0 && srv.Connections() == 0
	})
	if st := disp.Stats(); st.Completed != 0 {
		t.Fatalf("%s - session closed only after a completion: %+v", testPrefix, st)
	}
	waitFor(t, "discards", func() bool { return disp.Stats().Discarded == n })
}

func TestStream_OversizeFrameAnsweredBeforeClose(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLength, MaxFrameBytes: 64})
	framer, _ := framing.New(framing.ModeLength, 0)

	conn := dial(t, srv.Addr())
	if _, err := conn.Write([]byte{0x00, 0x01, 0x00, 0x00}); err != nil {
		t.Fatalf("%s - write header: %v", testPrefix, err)
	}

	r := bufio.NewReader(conn)
	frame, err := framer.ReadFrame(r)
	if err != nil {
		t.Fatalf("%s - read frame: %v", testPrefix, err)
	}
	resp, err := protocol.JSON.DecodeResponse(frame)
	if err != nil {
		t.Fatalf("%s - decode: %v", testPrefix, err)
	}
	if resp.ID != protocol.UnknownID || resp.Error == nil || resp.Error.Kind != protocol.KindDecode {
		t.Fatalf("%s - expected DecodeError for id %q, got %+v", testPrefix, protocol.UnknownID, resp)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Fatalf("%s - expected connection to be closed", testPrefix)
	}
}

func TestStreamConn_WriteFailsAfterBrokenPeer(t *testing.T) {
	framer, _ := framing.New(framing.ModeLine, 0)
	server, client := net.Pipe()
	client.Close()

	sc := newStreamConn(server, framer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc.writeLoop()
	}()

	if err := sc.Write([]byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("%s - first write should be queued: %v", testPrefix, err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - writer did not stop after a failed write", testPrefix)
	}
	if err := sc.Write([]byte(`{"id":"2"}`)); err != ErrConnClosed {
		t.Fatalf("%s - write after failure = %v, want ErrConnClosed", testPrefix, err)
	}
}

func TestStream_LengthFramedCBOR_ExactlyOnce(t *testing.T) {
	disp := newTestDispatcher(t, protocol.CBOR)
	srv := startStream(t, disp, Options{Mode: ModeLength})
	framer, _ := framing.New(framing.ModeLength, 0)

	conn := dial(t, srv.Addr())
	const n = 40
	for i := 0; i < n; i++ {
		command := "echo"
		if i%2 == 1 {
			command = "slow"
		}
		req := &protocol.Request{ID: fmt.Sprintf("r%d", i), Command: command, Params: protocol.NewParams()}
		body, err := protocol.CBOR.EncodeRequest(req)
		if err != nil {
			t.Fatalf("%s - encode: %v", testPrefix, err)
		}
		if err := framer.WriteFrame(conn, body); err != nil {
			t.Fatalf("%s - write: %v", testPrefix, err)
		}
	}

	r := bufio.NewReader(conn)
	seen := map[string]int{}
	for i := 0; i < n; i++ {
		frame, err := framer.ReadFrame(r)
		if err != nil {
			t.Fatalf("%s - read frame %d: %v", testPrefix, i, err)
		}
		resp, err := protocol.CBOR.DecodeResponse(frame)
		if err != nil {
			t.Fatalf("%s - decode: %v", testPrefix, err)
		}
		if !resp.OK() {
			t.Fatalf("%s - unexpected error: %+v", testPrefix, resp.Error)
		}
		seen[resp.ID]++
	}
	for i := 0; i < n; i++ {
		if got := seen[fmt.Sprintf("r%d", i)]; got != 1 {
			t.Fatalf("%s - r%d answered %d times", testPrefix, i, got)
		}
	}
}

func TestStream_MaxConnections(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLine, MaxConnections: 1})

	first := dial(t, srv.Addr())
	fmt.Fprint(first, `{"id":"a","command":"echo"}`+"\n")
	firstReader := bufio.NewReader(first)
	readLine(t, firstReader)

	second := dial(t, srv.Addr())
	fmt.Fprint(second, `{"id":"b","command":"echo"}`+"\n")
	second.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	secondReader := bufio.NewReader(second)
	if _, err := secondReader.ReadByte(); err == nil {
		t.Fatalf("%s - second connection served while the limit was reached", testPrefix)
	}

	first.Close()
	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	if resp := readLine(t, secondReader); resp.ID != "b" {
		t.Fatalf("%s - unexpected response %+v", testPrefix, resp)
	}
}

func TestStream_ShutdownClosesConnections(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv := startStream(t, disp, Options{Mode: ModeLine})

	conn := dial(t, srv.Addr())
	fmt.Fprint(conn, `{"id":"a","command":"echo"}`+"\n")
	r := bufio.NewReader(conn)
	readLine(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("%s - shutdown: %v", testPrefix, err)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Fatalf("%s - expected connection to be closed", testPrefix)
	}
	if srv.Connections() != 0 {
		t.Fatalf("%s - expected no open connections, got %d", testPrefix, srv.Connections())
	}
	if disp.Stats().Sessions != 0 {
		t.Fatalf("%s - expected sessions to be closed, got %d", testPrefix, disp.Stats().Sessions)
	}
}

func TestHTTP_Command(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	ts := httptest.NewServer(NewCommandHandler(disp, 256))
	defer ts.Close()

	res, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"id":"h1","command":"echo","parameters":{"msg":"x"}}`))
	if err != nil {
		t.Fatalf("%s - post: %v", testPrefix, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("%s - unexpected status %d / %q", testPrefix, res.StatusCode, res.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(res.Body)
	resp, err := protocol.JSON.DecodeResponse(body)
	if err != nil || resp.ID != "h1" || !resp.OK() {
		t.Fatalf("%s - unexpected response %s (%v)", testPrefix, body, err)
	}

	res2, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"id":"h2","command":"nope"}`))
	if err != nil {
		t.Fatalf("%s - post: %v", testPrefix, err)
	}
	body, _ = io.ReadAll(res2.Body)
	res2.Body.Close()
	resp, _ = protocol.JSON.DecodeResponse(body)
	if resp == nil || resp.Error == nil || resp.Error.Kind != protocol.KindUnknownCommand {
		t.Fatalf("%s - expected UnknownCommand, got %s", testPrefix, body)
	}

	if disp.Stats().Sessions != 0 {
		t.Fatalf("%s - http sessions should be closed after each request", testPrefix)
	}
}

func TestHTTP_Rejections(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	ts := httptest.NewServer(NewCommandHandler(disp, 64))
	defer ts.Close()

	res, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("%s - get: %v", testPrefix, err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("%s - expected 405, got %d", testPrefix, res.StatusCode)
	}

	big := bytes.Repeat([]byte("x"), 128)
	res, err = http.Post(ts.URL, "application/json", bytes.NewReader(big))
	if err != nil {
		t.Fatalf("%s - post: %v", testPrefix, err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("%s - expected 413, got %d", testPrefix, res.StatusCode)
	}
}

func TestHTTPServer_Serve(t *testing.T) {
	disp := newTestDispatcher(t, protocol.JSON)
	srv, err := New(disp, Options{Mode: ModeHTTP, Address: "127.0.0.1:0", MaxConnections: 4})
	if err != nil {
		t.Fatalf("%s - new: %v", testPrefix, err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("%s - listen: %v", testPrefix, err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	res, err := http.Post("http://"+srv.Addr()+CommandPath, "application/json", strings.NewReader(`{"id":"1","command":"slow"}`))
	if err != nil {
		t.Fatalf("%s - post: %v", testPrefix, err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("%s - expected 200, got %d", testPrefix, res.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("%s - shutdown: %v", testPrefix, err)
	}
	if err := <-done; err != nil {
		t.Fatalf("%s - serve returned %v", testPrefix, err)
	}
}

func startCommsServer(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", testPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", testPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", testPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestComms_RequestReply(t *testing.T) {
	nc := startCommsServer(t, 14250)
	disp := newTestDispatcher(t, protocol.JSON)

	srv, err := New(disp, Options{Mode: ModeNATS, Conn: nc, Subject: "editor.test.commands", MaxConnections: 4})
	if err != nil {
		t.Fatalf("%s - new: %v", testPrefix, err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("%s - listen: %v", testPrefix, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush: %v", testPrefix, err)
	}

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n%d", i)
		msg, err := nc.Request("editor.test.commands", []byte(`{"id":"`+id+`","command":"slow","parameters":{"ms":1}}`), 3*time.Second)
		if err != nil {
			t.Fatalf("%s - request %s: %v", testPrefix, id, err)
		}
		resp, err := protocol.JSON.DecodeResponse(msg.Data)
		if err != nil || resp.ID != id || !resp.OK() {
			t.Fatalf("%s - unexpected reply %s (%v)", testPrefix, msg.Data, err)
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		t.Fatalf("%s - shutdown: %v", testPrefix, err)
	}
	if disp.Stats().Sessions != 0 {
		t.Fatalf("%s - expected all request sessions closed", testPrefix)
	}
}
