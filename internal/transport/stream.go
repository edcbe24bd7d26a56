package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/morezero/editor-bridge/pkg/dispatcher"
	"github.com/morezero/editor-bridge/pkg/framing"
	"github.com/morezero/editor-bridge/pkg/protocol"
)

const streamLogPrefix = "transport:stream"

// drainPoll is how often a half-closed connection checks for outstanding work.
const drainPoll = 5 * time.Millisecond

// StreamServer serves framed requests over TCP.
type StreamServer struct {
	handler  Handler
	framer   framing.Framer
	address  string
	maxConns int
	drainEOF bool

	ln      net.Listener
	closing atomic.Bool
	done    chan struct{}

	mu    sync.Mutex
	conns map[*streamConn]struct{}
	wg    sync.WaitGroup
}

// NewStreamServer creates a line or length framed server.
func NewStreamServer(h Handler, opts Options) (*StreamServer, error) {
	framer, err := framing.New(opts.Mode, opts.MaxFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create framer: %w", streamLogPrefix, err)
	}
	return &StreamServer{
		handler:  h,
		framer:   framer,
		address:  opts.Address,
		maxConns: opts.MaxConnections,
		drainEOF: opts.DrainOnPeerClose,
		done:     make(chan struct{}),
		conns:    make(map[*streamConn]struct{}),
	}, nil
}

func (s *StreamServer) Mode() string { return s.framer.Mode() }

// Listen binds the address. Connections beyond MaxConnections wait in the
// accept backlog.
func (s *StreamServer) Listen() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", streamLogPrefix, s.address, err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.ln = ln
	return nil
}

func (s *StreamServer) Addr() string {
	if s.ln == nil {
		return s.address
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until ctx is done or Shutdown is called.
func (s *StreamServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		return fmt.Errorf("%s - Serve called before Listen", streamLogPrefix)
	}
	go func() {
		select {
		case <-ctx.Done():
			s.closeListener()
		case <-s.done:
		}
	}()

	slog.Info(fmt.Sprintf("%s - Accepting %s-framed connections on %s", streamLogPrefix, s.framer.Mode(), s.Addr()))
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			slog.Warn(fmt.Sprintf("%s - accept failed: %v", streamLogPrefix, err))
			continue
		}
		sc := newStreamConn(conn, s.framer)
		s.mu.Lock()
		s.conns[sc] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(sc)
	}
}

func (s *StreamServer) closeListener() {
	if s.closing.CompareAndSwap(false, true) {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
	}
}

// Shutdown stops accepting, closes every connection and waits for the
// connection goroutines or ctx.
func (s *StreamServer) Shutdown(ctx context.Context) error {
	s.closeListener()

	s.mu.Lock()
	for sc := range s.conns {
		sc.conn.Close()
	}
	s.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s - connections still open: %w", streamLogPrefix, ctx.Err())
	}
}

// Connections returns the number of open connections.
func (s *StreamServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *StreamServer) handleConn(sc *streamConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
	}()

	session := s.handler.OnConnect(sc)
	slog.Debug(fmt.Sprintf("%s - connection %s from %s", streamLogPrefix, sc.id, sc.RemoteAddr()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sc.writeLoop()
	}()

	reader := bufio.NewReader(sc.conn)
	for {
		frame, err := s.framer.ReadFrame(reader)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// EOF looks the same for a half-close and a hang-up. Only an
				// opted-in server keeps answering.
				if s.drainEOF {
					s.drain(session)
				}
				slog.Debug(fmt.Sprintf("%s - connection %s closed by peer", streamLogPrefix, sc.id))
			case errors.Is(err, framing.ErrFrameTooLarge), errors.Is(err, framing.ErrInvalidFrame):
				slog.Warn(fmt.Sprintf("%s - connection %s sent an unreadable frame: %v", streamLogPrefix, sc.id, err))
				resp := protocol.Failure(protocol.UnknownID, protocol.NewError(protocol.KindDecode, err.Error()))
				sc.Write(s.handler.Codec().EncodeResponse(resp))
			case s.closing.Load():
			default:
				slog.Debug(fmt.Sprintf("%s - connection %s read failed: %v", streamLogPrefix, sc.id, err))
			}
			break
		}
		s.handler.HandleFrame(session, frame)
	}

	s.handler.OnDisconnect(session)
	sc.closeWriter()
	<-writerDone
	sc.conn.Close()
}

// drain waits until the session has no tracked requests or the server stops.
func (s *StreamServer) drain(session *dispatcher.Session) {
	for !session.Idle() {
		select {
		case <-s.done:
			return
		case <-time.After(drainPoll):
		}
	}
}

// streamConn queues outbound frames for a dedicated writer goroutine.
type streamConn struct {
	id     string
	conn   net.Conn
	framer framing.Framer

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	wake   chan struct{}
}

func newStreamConn(conn net.Conn, framer framing.Framer) *streamConn {
	return &streamConn{
		id:     uuid.NewString(),
		conn:   conn,
		framer: framer,
		wake:   make(chan struct{}, 1),
	}
}

func (c *streamConn) ID() string         { return c.id }
func (c *streamConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Write enqueues a frame. It never blocks.
func (c *streamConn) Write(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *streamConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *streamConn) closeWriter() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

// fail stops accepting frames after a write error and closes the socket.
func (c *streamConn) fail() {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	c.conn.Close()
}

// writeLoop writes queued frames until the connection is closed and the
// queue is empty.
func (c *streamConn) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for range c.wake {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		closed := c.closed
		c.mu.Unlock()

		for _, frame := range batch {
			if err := c.framer.WriteFrame(w, frame); err != nil {
				slog.Warn(fmt.Sprintf("%s - connection %s write failed: %v", streamLogPrefix, c.id, err))
				c.fail()
				return
			}
		}
		if len(batch) > 0 {
			if err := w.Flush(); err != nil {
				slog.Debug(fmt.Sprintf("%s - connection %s flush failed: %v", streamLogPrefix, c.id, err))
				c.fail()
				return
			}
		}
		if closed {
			return
		}
	}
}
