// Package journal records webhook deliveries in Postgres for auditing and
// replay investigation. The journal is advisory: a write failure is logged by
// the caller and never blocks fulfillment, and duplicate detection stays with
// Printful's external_id constraint rather than moving here.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Delivery outcomes stored in the status column.
const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// Recorder is the journaling interface the webhook handler depends on.
// Noop satisfies it when no database is configured.
type Recorder interface {
	// Record inserts the delivery with status "received". A second delivery of
	// the same event id is a no-op insert, not an error.
	Record(ctx context.Context, eventID, eventType string, payload []byte) error

	// MarkProcessed, MarkDuplicate, and MarkFailed update the delivery's final
	// status. MarkFailed stores the error text alongside it.
	MarkProcessed(ctx context.Context, eventID string) error
	MarkDuplicate(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error) error
}

// ─── POSTGRES ────────────────────────────────────────────────────────────────

// Journal is the Postgres-backed Recorder.
type Journal struct {
	db *sql.DB
}

// New wraps an open connection pool. Call EnsureSchema before first use.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// EnsureSchema creates the journal table if it does not exist yet. The table
// is append-mostly and small; an index beyond the primary key is not needed.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS webhook_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    payload     JSONB,
    status      TEXT NOT NULL DEFAULT 'received',
    error       TEXT,
    received_at TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
)`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("journal: ensure schema: %w", err)
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, eventID, eventType string, payload []byte) error {
	body := pqtype.NullRawMessage{RawMessage: payload, Valid: len(payload) > 0}
	now := time.Now().UTC()

	_, err := j.db.ExecContext(ctx, `
INSERT INTO webhook_events (event_id, event_type, payload, status, received_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, body, StatusReceived, now)
	if err != nil {
		// Surface constraint details when pq gives them; callers log, not abort.
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("journal: record %s: %s: %w", eventID, pqErr.Code.Name(), err)
		}
		return fmt.Errorf("journal: record %s: %w", eventID, err)
	}
	return nil
}

func (j *Journal) MarkProcessed(ctx context.Context, eventID string) error {
	return j.setStatus(ctx, eventID, StatusProcessed, sql.NullString{})
}

func (j *Journal) MarkDuplicate(ctx context.Context, eventID string) error {
	return j.setStatus(ctx, eventID, StatusDuplicate, sql.NullString{})
}

func (j *Journal) MarkFailed(ctx context.Context, eventID string, cause error) error {
	msg := sql.NullString{}
	if cause != nil {
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	return j.setStatus(ctx, eventID, StatusFailed, msg)
}

func (j *Journal) setStatus(ctx context.Context, eventID, status string, errText sql.NullString) error {
	_, err := j.db.ExecContext(ctx, `
UPDATE webhook_events SET status = $2, error = $3, updated_at = $4 WHERE event_id = $1`,
		eventID, status, errText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal: mark %s %s: %w", eventID, status, err)
	}
	return nil
}

// ─── NOOP ────────────────────────────────────────────────────────────────────

// Noop is the Recorder used when DATABASE_URL is unset: every call succeeds
// and nothing is stored.
type Noop struct{}

func (Noop) Record(context.Context, string, string, []byte) error { return nil }
func (Noop) MarkProcessed(context.Context, string) error          { return nil }
func (Noop) MarkDuplicate(context.Context, string) error          { return nil }
func (Noop) MarkFailed(context.Context, string, error) error      { return nil }
