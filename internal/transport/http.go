package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/morezero/editor-bridge/pkg/framing"
)

const httpLogPrefix = "transport:http"

// CommandPath is the route that accepts request documents.
const CommandPath = "/command"

// CommandHandler serves one request document per POST. Each call is its own
// session; a client that goes away before completion disconnects it.
type CommandHandler struct {
	handler  Handler
	maxBytes int64
}

// NewCommandHandler creates the POST /command handler.
func NewCommandHandler(h Handler, maxFrameBytes int) *CommandHandler {
	if maxFrameBytes <= 0 {
		maxFrameBytes = framing.DefaultMaxFrame
	}
	return &CommandHandler{handler: h, maxBytes: int64(maxFrameBytes)}
}

func (c *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	conn := newOneShotConn(uuid.NewString(), r.RemoteAddr)
	session := c.handler.OnConnect(conn)
	defer c.handler.OnDisconnect(session)

	c.handler.HandleFrame(session, body)

	select {
	case frame := <-conn.out:
		w.Header().Set("Content-Type", contentType(c.handler.Codec()))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(frame); err != nil {
			slog.Debug(fmt.Sprintf("%s - failed to write response to %s: %v", httpLogPrefix, r.RemoteAddr, err))
		}
	case <-r.Context().Done():
		slog.Debug(fmt.Sprintf("%s - client %s went away before completion", httpLogPrefix, r.RemoteAddr))
	}
}

// HTTPServer is the http transport.
type HTTPServer struct {
	address  string
	maxConns int
	srv      *http.Server
	ln       net.Listener
}

// NewHTTPServer creates the http transport serving CommandPath.
func NewHTTPServer(h Handler, opts Options) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle(CommandPath, NewCommandHandler(h, opts.MaxFrameBytes))
	return &HTTPServer{
		address:  opts.Address,
		maxConns: opts.MaxConnections,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *HTTPServer) Mode() string { return ModeHTTP }

func (s *HTTPServer) Listen() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", httpLogPrefix, s.address, err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.ln = ln
	return nil
}

func (s *HTTPServer) Addr() string {
	if s.ln == nil {
		return s.address
	}
	return s.ln.Addr().String()
}

func (s *HTTPServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		return fmt.Errorf("%s - Serve called before Listen", httpLogPrefix)
	}
	go func() {
		<-ctx.Done()
		s.srv.Close()
	}()
	slog.Info(fmt.Sprintf("%s - Accepting commands on http://%s%s", httpLogPrefix, s.Addr(), CommandPath))
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s - serve failed: %w", httpLogPrefix, err)
	}
	return nil
}

// Shutdown waits for active requests to be answered or ctx.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s - failed to shut down: %w", httpLogPrefix, err)
	}
	return nil
}
