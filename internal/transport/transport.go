// Package transport exposes the dispatcher over the network: framed TCP
// streams, HTTP and COMMS (NATS) request/reply.
package transport

import (
	"context"
	"errors"
	"fmt"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/editor-bridge/pkg/dispatcher"
	"github.com/morezero/editor-bridge/pkg/framing"
	"github.com/morezero/editor-bridge/pkg/protocol"
)

const logPrefix = "transport:transport"

// Modes.
const (
	ModeLine   = framing.ModeLine
	ModeLength = framing.ModeLength
	ModeHTTP   = "http"
	ModeNATS   = "nats"
)

// ErrConnClosed is returned by writes on a closed connection.
var ErrConnClosed = errors.New("transport: connection closed")

// Handler receives connection lifecycle and frames. *dispatcher.Dispatcher
// implements it.
type Handler interface {
	Codec() protocol.Codec
	OnConnect(conn dispatcher.Conn) *dispatcher.Session
	HandleFrame(s *dispatcher.Session, frame []byte)
	OnDisconnect(s *dispatcher.Session)
}

// Server is a running transport.
type Server interface {
	Mode() string
	// Listen binds the transport. It must be called before Serve.
	Listen() error
	// Addr is the bound address, or the subject for COMMS.
	Addr() string
	// Serve blocks until ctx is done or Shutdown is called.
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Options configures New.
type Options struct {
	Mode           string
	Address        string
	MaxConnections int
	MaxFrameBytes  int

	// DrainOnPeerClose keeps a stream session open after EOF until its
	// in-flight requests are answered. Off by default: EOF tears the session down.
	DrainOnPeerClose bool

	// COMMS mode
	Conn       *comms.Conn
	Subject    string
	QueueGroup string
}

// New builds the transport for opts.Mode.
func New(h Handler, opts Options) (Server, error) {
	switch opts.Mode {
	case "", ModeLine, ModeLength:
		return NewStreamServer(h, opts)
	case ModeHTTP:
		return NewHTTPServer(h, opts), nil
	case ModeNATS:
		return NewCommsServer(h, opts)
	}
	return nil, fmt.Errorf("%s - unknown transport mode %q", logPrefix, opts.Mode)
}

// oneShotConn carries exactly one response for request/reply transports.
type oneShotConn struct {
	id     string
	remote string
	out    chan []byte
}

func newOneShotConn(id, remote string) *oneShotConn {
	return &oneShotConn{id: id, remote: remote, out: make(chan []byte, 1)}
}

func (c *oneShotConn) ID() string         { return c.id }
func (c *oneShotConn) RemoteAddr() string { return c.remote }

func (c *oneShotConn) Write(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	default:
		return fmt.Errorf("%w: response already sent", ErrConnClosed)
	}
}

// contentType maps a codec to its media type.
func contentType(c protocol.Codec) string {
	if c.Name() == protocol.CodecCBOR {
		return "application/cbor"
	}
	return "application/json"
}
