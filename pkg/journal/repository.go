package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/editor-bridge/pkg/events"
)

const repoLogPrefix = "journal:repository"

// Entry is one journaled command.
type Entry struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"requestId"`
	SessionID    string    `json:"sessionId"`
	Command      string    `json:"command"`
	Subsystem    string    `json:"subsystem"`
	Mutates      bool      `json:"mutates"`
	Status       string    `json:"status"`
	ErrorKind    *string   `json:"errorKind,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	DurationMs   float64   `json:"durationMs"`
	Delivered    bool      `json:"delivered"`
	CompletedAt  time.Time `json:"completedAt"`
}

// EntryFromEvent converts a completion event to a journal row.
func EntryFromEvent(ev *events.CommandCompleted) Entry {
	return Entry{
		RequestID:    ev.RequestID,
		SessionID:    ev.SessionID,
		Command:      ev.Command,
		Subsystem:    ev.Subsystem,
		Mutates:      ev.Mutates,
		Status:       ev.Status,
		ErrorKind:    optional(ev.ErrorKind),
		ErrorMessage: optional(ev.ErrorMessage),
		DurationMs:   ev.DurationMs,
		Delivered:    ev.Delivered,
		CompletedAt:  ev.CompletedAt(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Repository writes and reads the command journal. It implements
// events.EventPublisher.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PublishCompleted journals the event.
func (r *Repository) PublishCompleted(ctx context.Context, event *events.CommandCompleted) error {
	_, err := r.Record(ctx, EntryFromEvent(event))
	return err
}

// Record inserts e and returns its id.
func (r *Repository) Record(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO command_journal
		    (request_id, session_id, command, subsystem, mutates, status,
		     error_kind, error_message, duration_ms, delivered, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		e.RequestID, e.SessionID, e.Command, e.Subsystem, e.Mutates, e.Status,
		e.ErrorKind, e.ErrorMessage, e.DurationMs, e.Delivered, e.CompletedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to record %s id=%s: %w", repoLogPrefix, e.Command, e.RequestID, err)
	}
	slog.Debug(fmt.Sprintf("%s - Recorded %s id=%s as #%d", repoLogPrefix, e.Command, e.RequestID, id))
	return id, nil
}

// RecentFilter narrows Recent.
type RecentFilter struct {
	Command     string
	ChangesOnly bool
	Limit       int
}

// Recent returns the newest entries first.
func (r *Repository) Recent(ctx context.Context, f RecentFilter) ([]Entry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_id, session_id, command, subsystem, mutates, status,
		        error_kind, error_message, duration_ms, delivered, completed_at
		 FROM command_journal
		 WHERE ($1 = '' OR command = $1)
		   AND (NOT $2 OR (mutates AND status = 'success'))
		 ORDER BY completed_at DESC, id DESC
		 LIMIT $3`, f.Command, f.ChangesOnly, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to query journal: %w", repoLogPrefix, err)
	}
	out, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan journal: %w", repoLogPrefix, err)
	}
	return out, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.RequestID, &e.SessionID, &e.Command, &e.Subsystem, &e.Mutates, &e.Status,
		&e.ErrorKind, &e.ErrorMessage, &e.DurationMs, &e.Delivered, &e.CompletedAt)
	return e, err
}

// Prune deletes entries completed before cutoff and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM command_journal WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to prune journal: %w", repoLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Pruned %d journal entries older than %s", repoLogPrefix, tag.RowsAffected(), cutoff.Format(time.RFC3339)))
	return tag.RowsAffected(), nil
}
