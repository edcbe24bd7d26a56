// Package main is the entrypoint for the editor-bridge.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/morezero/editor-bridge/internal/config"
	"github.com/morezero/editor-bridge/internal/manifest"
	"github.com/morezero/editor-bridge/internal/server"
	"github.com/morezero/editor-bridge/pkg/adapters"
	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/journal"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const usage = `Usage: editor-bridge [command]

Commands:
  serve                   (default) Start the bridge and accept commands.
  commands                Print the command table after applying the manifest.
  migrate                 Create the journal database if missing and apply the schema.
  journal recent [n]      Show the n newest journaled commands (default 20).
  journal prune <age>     Delete journal entries older than age, e.g. 720h.
  help                    Show this message.

Environment (prefix EDITOR_BRIDGE_, bare names accepted): PORT, BIND_ADDRESS,
TRANSPORT_MODE (line, length, http, nats), CODEC (json, cbor), MANIFEST_FILE,
HOST_VERSION, COMMS_URL, JOURNAL_DATABASE_URL, OTEL_ENDPOINT, HTTP_PORT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "commands":
		if err := runCommands(os.Stdout); err != nil {
			log.Fatalf("editor-bridge commands: %v", err)
		}
		return
	case "migrate":
		if err := runMigrate(); err != nil {
			log.Fatalf("editor-bridge migrate: %v", err)
		}
		return
	case "journal":
		if len(args) < 2 {
			log.Fatalf("editor-bridge journal: require subcommand (recent, prune)")
		}
		switch args[1] {
		case "recent":
			limit := 20
			if len(args) > 2 {
				n, err := strconv.Atoi(args[2])
				if err != nil || n <= 0 {
					log.Fatalf("editor-bridge journal recent: invalid count %q", args[2])
				}
				limit = n
			}
			if err := runJournalRecent(os.Stdout, limit); err != nil {
				log.Fatalf("editor-bridge journal recent: %v", err)
			}
		case "prune":
			if len(args) < 3 {
				log.Fatalf("editor-bridge journal prune: require an age, e.g. 720h")
			}
			age, err := time.ParseDuration(args[2])
			if err != nil || age <= 0 {
				log.Fatalf("editor-bridge journal prune: invalid age %q", args[2])
			}
			if err := runJournalPrune(age); err != nil {
				log.Fatalf("editor-bridge journal prune: %v", err)
			}
		default:
			log.Fatalf("editor-bridge journal: unknown subcommand %q (use recent, prune)", args[1])
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("editor-bridge: %v", err)
	}
}

// commandTable builds the registry the server would serve.
func commandTable(manifestFile string) (*registry.Registry, error) {
	m, err := manifest.Load(manifestFile)
	if err != nil {
		return nil, err
	}
	reg := registry.NewRegistry()
	if err := adapters.RegisterAll(reg, adapters.EditorDeps(host.NewEditor(), reg, nil)); err != nil {
		return nil, err
	}
	if err := m.ApplyCommands(reg); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}

func runCommands(w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := commandTable(cfg.ManifestFile)
	if err != nil {
		return err
	}
	return printCommands(w, reg)
}

func printCommands(w io.Writer, reg *registry.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tSUBSYSTEM\tMUTATES\tORDERING\tDESCRIPTION")
	for _, d := range reg.List() {
		s := d.Summary()
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", s.Name, s.Subsystem, s.Mutates, s.Ordering, s.Description)
	}
	return tw.Flush()
}

func runMigrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForJournal(); err != nil {
		return err
	}
	ctx := context.Background()
	if err := journal.EnsureDatabase(ctx, cfg.JournalDatabaseURL); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := journal.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	fmt.Println("Journal schema is ready.")
	return nil
}

func openJournal(ctx context.Context) (*journal.Repository, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForJournal(); err != nil {
		return nil, nil, err
	}
	pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return journal.NewRepository(pool), pool.Close, nil
}

func runJournalRecent(w io.Writer, limit int) error {
	ctx := context.Background()
	repo, closeFn, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := repo.Recent(ctx, journal.RecentFilter{Limit: limit})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tCOMMAND\tSTATUS\tDURATION\tREQUEST\tSESSION")
	for _, e := range entries {
		status := e.Status
		if e.ErrorKind != nil {
			status += " (" + *e.ErrorKind + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fms\t%s\t%s\n",
			e.CompletedAt.Format(time.RFC3339), e.Command, status, e.DurationMs, e.RequestID, e.SessionID)
	}
	return tw.Flush()
}

func runJournalPrune(age time.Duration) error {
	ctx := context.Background()
	repo, closeFn, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := repo.Prune(ctx, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d journal entries.\n", n)
	return nil
}
