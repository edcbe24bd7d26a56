package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/editor-bridge/pkg/commsutil"
)

const commsLogPrefix = "transport:comms"

var errNoConn = errors.New("a COMMS connection is required")

// CommsServer answers request messages on a COMMS subject. Each message is a
// short-lived session answered with msg.Respond.
type CommsServer struct {
	handler Handler
	nc      *comms.Conn
	subject string
	queue   string

	sub     *comms.Subscription
	slots   chan struct{}
	stop    chan struct{}
	abort   chan struct{}
	stopped sync.Once
	aborted sync.Once
	wg      sync.WaitGroup
}

// NewCommsServer creates the nats transport.
func NewCommsServer(h Handler, opts Options) (*CommsServer, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("%s - %w", commsLogPrefix, errNoConn)
	}
	subject := opts.Subject
	if subject == "" {
		subject = commsutil.SubjectCommands
	}
	queue := opts.QueueGroup
	if queue == "" {
		queue = commsutil.QueueGroup
	}
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 32
	}
	return &CommsServer{
		handler: h,
		nc:      opts.Conn,
		subject: subject,
		queue:   queue,
		slots:   make(chan struct{}, maxConns),
		stop:    make(chan struct{}),
		abort:   make(chan struct{}),
	}, nil
}

func (s *CommsServer) Mode() string { return ModeNATS }

func (s *CommsServer) Addr() string { return s.subject }

// Listen queue-subscribes to the command subject.
func (s *CommsServer) Listen() error {
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, s.onMessage)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, s.subject, err)
	}
	s.sub = sub
	return nil
}

func (s *CommsServer) Serve(ctx context.Context) error {
	if s.sub == nil {
		return fmt.Errorf("%s - Serve called before Listen", commsLogPrefix)
	}
	slog.Info(fmt.Sprintf("%s - Listening on %s (queue %s)", commsLogPrefix, s.subject, s.queue))
	select {
	case <-ctx.Done():
		s.unsubscribe()
	case <-s.stop:
	}
	return nil
}

func (s *CommsServer) unsubscribe() {
	s.stopped.Do(func() {
		close(s.stop)
		if s.sub != nil {
			if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
				slog.Warn(fmt.Sprintf("%s - failed to unsubscribe: %v", commsLogPrefix, err))
			}
		}
	})
}

// Shutdown unsubscribes and waits for outstanding replies or ctx.
func (s *CommsServer) Shutdown(ctx context.Context) error {
	s.unsubscribe()
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		s.aborted.Do(func() { close(s.abort) })
		return fmt.Errorf("%s - replies still pending: %w", commsLogPrefix, ctx.Err())
	}
}

// onMessage runs on the subscription goroutine. Taking a slot bounds the
// number of concurrent sessions.
func (s *CommsServer) onMessage(msg *comms.Msg) {
	if msg.Reply == "" {
		slog.Warn(fmt.Sprintf("%s - dropping message on %s without a reply subject", commsLogPrefix, msg.Subject))
		return
	}
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.slots <- struct{}{}:
	case <-s.stop:
		return
	}
	s.wg.Add(1)
	go func() {
		defer func() {
			<-s.slots
			s.wg.Done()
		}()
		s.serve(msg)
	}()
}

func (s *CommsServer) serve(msg *comms.Msg) {
	conn := newOneShotConn(uuid.NewString(), msg.Reply)
	session := s.handler.OnConnect(conn)
	defer s.handler.OnDisconnect(session)

	s.handler.HandleFrame(session, msg.Data)

	select {
	case frame := <-conn.out:
		if err := msg.Respond(frame); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to respond on %s: %v", commsLogPrefix, msg.Reply, err))
		}
	case <-s.abort:
		slog.Debug(fmt.Sprintf("%s - shut down before answering %s", commsLogPrefix, msg.Reply))
	}
}
