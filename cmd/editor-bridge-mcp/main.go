// Package main runs an MCP server on stdio whose tools are the commands of a
// running editor-bridge. It reads the same environment as the bridge to find
// it; only the line and length transports are supported.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/morezero/editor-bridge/internal/config"
	"github.com/morezero/editor-bridge/internal/server"
	"github.com/morezero/editor-bridge/pkg/client"
	"github.com/morezero/editor-bridge/pkg/gateway"
	"github.com/morezero/editor-bridge/pkg/protocol"
)

const logPrefix = "cmd/editor-bridge-mcp:main"

func main() {
	if err := run(); err != nil {
		log.Fatalf("editor-bridge-mcp: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the MCP stream
	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	switch cfg.TransportMode {
	case config.TransportLine, config.TransportLength:
	default:
		return fmt.Errorf("transport %q is not supported, use line or length", cfg.TransportMode)
	}
	codec, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, cfg.ListenAddress(), client.Options{
		Mode:          cfg.TransportMode,
		Codec:         codec,
		MaxFrameBytes: cfg.MaxFrameBytes,
	})
	if err != nil {
		return err
	}
	defer c.Close()
	slog.Info(fmt.Sprintf("%s - Connected to editor-bridge at %s", logPrefix, cfg.ListenAddress()))

	gw := gateway.New(c, server.Version)
	if _, err := gw.Sync(ctx); err != nil {
		return err
	}
	return gw.Run(ctx, &mcp.StdioTransport{})
}
