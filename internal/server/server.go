// Package server orchestrates all components: host loop, scheduler, command
// registry, dispatcher, transport, change events, journal and HTTP status.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/editor-bridge/internal/config"
	"github.com/morezero/editor-bridge/internal/manifest"
	"github.com/morezero/editor-bridge/internal/telemetry"
	"github.com/morezero/editor-bridge/internal/transport"
	"github.com/morezero/editor-bridge/pkg/adapters"
	"github.com/morezero/editor-bridge/pkg/commsutil"
	"github.com/morezero/editor-bridge/pkg/dispatcher"
	"github.com/morezero/editor-bridge/pkg/events"
	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/journal"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
	"github.com/morezero/editor-bridge/pkg/scheduler"
)

const logPrefix = "server:server"

// Version is reported by get_server_status, the status pages and tracing.
var Version = "0.1.0"

const eventBuffer = 1024

// Server is the editor-bridge orchestrator.
type Server struct {
	cfg      *config.Config
	manifest *manifest.Manifest
	started  time.Time

	avail     *host.Availability
	loop      *host.MainLoop
	scheduler *scheduler.Scheduler
	reg       *registry.Registry
	disp      *dispatcher.Dispatcher
	transport transport.Server

	publisher *events.AsyncPublisher
	nc        *comms.Conn
	pool      *pgxpool.Pool
	telemetry telemetry.Shutdown

	httpServer *http.Server
	httpLn     net.Listener

	done chan error
}

// Run starts the server, blocks until a shutdown signal or a serve failure,
// then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	// Setup structured logging
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting editor-bridge %s", logPrefix, Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.close(ctx)
		return err
	}
	slog.Info(fmt.Sprintf("%s - editor-bridge is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case serveErr = <-s.done:
		slog.Error(fmt.Sprintf("%s - Listener stopped, shutting down: %v", logPrefix, serveErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - Unclean shutdown: %v", logPrefix, err))
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return serveErr
}

// New builds every component without accepting connections. On error the
// components built so far are released.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, started: time.Now().UTC()}
	if err := s.build(ctx); err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.cfg

	// Step 1: Tracing
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.COMMSName, Version, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("%s - failed to set up tracing: %w", logPrefix, err)
	}
	s.telemetry = shutdownTelemetry

	// Step 2: Command policy and host availability
	m, err := manifest.Load(cfg.ManifestFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load command policy: %w", logPrefix, err)
	}
	s.manifest = m
	s.avail = m.NewAvailability(cfg.HostVersion)
	slog.Info(fmt.Sprintf("%s - Host version %s, ready subsystems %v", logPrefix, s.avail.Version(), s.avail.Ready()))

	// Step 3: Mutation thread
	s.loop = host.NewMainLoop(cfg.TickInterval)
	if err := s.loop.Start(context.Background()); err != nil {
		return fmt.Errorf("%s - failed to start main loop: %w", logPrefix, err)
	}
	s.scheduler = scheduler.New(scheduler.Options{MaxTasksPerTick: cfg.MaxTasksPerTick})
	if err := s.scheduler.Start(s.loop); err != nil {
		return fmt.Errorf("%s - failed to start scheduler: %w", logPrefix, err)
	}

	// Step 4: Command table
	reg := registry.NewRegistry()
	if err := adapters.RegisterAll(reg, adapters.EditorDeps(host.NewEditor(), reg, s.status)); err != nil {
		return fmt.Errorf("%s - failed to register commands: %w", logPrefix, err)
	}
	if err := m.ApplyCommands(reg); err != nil {
		return err
	}
	reg.Freeze()
	s.reg = reg
	slog.Info(fmt.Sprintf("%s - Serving %d commands across %v", logPrefix, reg.Len(), reg.Subsystems()))

	// Step 5: Completion publishers
	var publishers events.MultiPublisher
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		publishers = append(publishers, events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
			GlobalChangeSubject: cfg.ChangeEventSubject,
		}))
	}
	if cfg.JournalDatabaseURL != "" {
		pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to journal database: %w", logPrefix, err)
		}
		s.pool = pool
		present, err := journal.SchemaPresent(ctx, pool)
		if err != nil {
			return fmt.Errorf("%s - failed to check journal schema: %w", logPrefix, err)
		}
		if !present {
			return fmt.Errorf("%s - journal schema missing, run 'editor-bridge migrate' first", logPrefix)
		}
		publishers = append(publishers, journal.NewRepository(pool))
		slog.Info(fmt.Sprintf("%s - Journaling completed commands", logPrefix))
	}
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if len(publishers) > 0 {
		s.publisher = events.NewAsyncPublisher(publishers, eventBuffer)
		publisher = s.publisher
	}

	// Step 6: Dispatcher
	codec, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	disp, err := dispatcher.New(dispatcher.Options{
		Registry:  reg,
		Scheduler: s.scheduler,
		Codec:     codec,
		Readiness: s.avail,
		Publisher: publisher,
		Timeout:   cfg.RequestTimeout(),
	})
	if err != nil {
		return fmt.Errorf("%s - failed to create dispatcher: %w", logPrefix, err)
	}
	s.disp = disp

	// Step 7: Transport
	tr, err := transport.New(disp, transport.Options{
		Mode:             cfg.TransportMode,
		Address:          cfg.ListenAddress(),
		MaxConnections:   cfg.MaxConnections,
		MaxFrameBytes:    cfg.MaxFrameBytes,
		Conn:             s.nc,
		DrainOnPeerClose: cfg.DrainOnPeerClose,
		Subject:          cfg.COMMSSubject,
		QueueGroup:       commsutil.QueueGroup,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to create transport: %w", logPrefix, err)
	}
	s.transport = tr

	// Step 8: HTTP status server
	if addr := cfg.HTTPAddress(); addr != "" {
		s.httpServer = &http.Server{
			Addr:              addr,
			Handler:           s.StatusHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

// Start opens the listeners and serves them in the background. Done reports
// when a listener stops on its own.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Listen(); err != nil {
		return err
	}
	if s.httpServer != nil {
		ln, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.httpServer.Addr, err)
		}
		s.httpLn = ln
	}

	g := &errgroup.Group{}
	g.Go(func() error {
		return s.transport.Serve(ctx)
	})
	if s.httpLn != nil {
		g.Go(func() error {
			slog.Info(fmt.Sprintf("%s - HTTP status server listening on %s", logPrefix, s.httpLn.Addr()))
			if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
			}
			return nil
		})
	}
	s.done = make(chan error, 1)
	go func() {
		s.done <- g.Wait()
	}()
	return nil
}

// Addr returns the command listener address.
func (s *Server) Addr() string {
	return s.transport.Addr()
}

// StatusAddr returns the HTTP status listener address, or "" when disabled.
func (s *Server) StatusAddr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Done is closed with the serve error once every listener has stopped.
func (s *Server) Done() <-chan error {
	return s.done
}

// Shutdown lets in-flight commands finish, closes the transport and stops
// the mutation thread. Events still buffered are flushed before the COMMS
// and journal connections close.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.disp.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.transport.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s - failed to shut down HTTP server: %w", logPrefix, err))
		}
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	if err := s.close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close releases everything build acquired, in reverse order. Spans are
// flushed last.
func (s *Server) close(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.loop != nil {
		s.loop.Stop()
	}
	if s.publisher != nil {
		s.publisher.Close()
		if n := s.publisher.Dropped(); n > 0 {
			slog.Warn(fmt.Sprintf("%s - %d completion events were dropped", logPrefix, n))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.telemetry != nil {
		shutdown := s.telemetry
		s.telemetry = nil
		return shutdown(ctx)
	}
	return nil
}

// status is the get_server_status report. It runs off the mutation thread.
func (s *Server) status() map[string]interface{} {
	out := map[string]interface{}{
		"status":         "ok",
		"version":        Version,
		"host_version":   s.avail.Version(),
		"subsystems":     s.avail.Snapshot(),
		"transport":      s.cfg.TransportMode,
		"codec":          s.cfg.Codec,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.scheduler != nil {
		st := s.scheduler.Stats()
		out["scheduler"] = map[string]interface{}{
			"running":     s.scheduler.Running(),
			"pending":     st.Pending,
			"submitted":   st.Submitted,
			"executed":    st.Executed,
			"fast_pathed": st.FastPathed,
			"faulted":     st.Faulted,
		}
	}
	if s.disp != nil {
		st := s.disp.Stats()
		out["dispatcher"] = map[string]interface{}{
			"sessions":  st.Sessions,
			"in_flight": st.InFlight,
			"accepted":  st.Accepted,
			"rejected":  st.Rejected,
			"completed": st.Completed,
			"timed_out": st.TimedOut,
			"discarded": st.Discarded,
		}
	}
	if s.reg != nil {
		out["commands"] = s.reg.Len()
	}
	if s.manifest != nil && s.manifest.Source != "" {
		out["manifest"] = s.manifest.Source
	}
	return out
}
