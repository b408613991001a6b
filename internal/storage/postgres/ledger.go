// Package postgres is the Postgres-backed idempotency ledger, for deployments
// running several ingestion instances against one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devblac/signal-ingest/internal/storage"
)

const uniqueViolation = "23505"

// Ledger stores processed events in the processed_events table.
type Ledger struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

// Open connects, pings, and ensures the schema exists.
func Open(ctx context.Context, dsn string, retention time.Duration) (*Ledger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if retention <= 0 {
		retention = storage.DefaultRetention
	}
	return &Ledger{pool: pool, retention: retention}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS processed_events (
  event_key           TEXT PRIMARY KEY,
  tx_hash             TEXT NOT NULL,
  topic0              TEXT NOT NULL,
  event_type          TEXT NOT NULL,
  delivery_id         TEXT NOT NULL,
  delivery_created_at TIMESTAMPTZ NOT NULL,
  processed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  expires_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS processed_events_expires_at ON processed_events (expires_at);
`)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (l *Ledger) Close() error {
	if l != nil && l.pool != nil {
		l.pool.Close()
	}
	return nil
}

// Ping checks database connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return errors.New("ledger not initialized")
	}
	return l.pool.Ping(ctx)
}

// IsProcessed reports whether a live record exists for (txHash, topic0).
func (l *Ledger) IsProcessed(ctx context.Context, txHash, topic0 string) (bool, error) {
	key, err := storage.EventKey(txHash, topic0)
	if err != nil {
		return false, err
	}
	var expires time.Time
	err = l.pool.QueryRow(ctx, `SELECT expires_at FROM processed_events WHERE event_key = $1`, key).Scan(&expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	if expires.After(time.Now()) {
		return true, nil
	}
	if _, err := l.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_key = $1 AND expires_at <= NOW()`, key); err != nil {
		return false, fmt.Errorf("prune processed: %w", err)
	}
	return false, nil
}

// MarkProcessed inserts the record. A unique violation means another instance won
// the race and is reported as first=false with a nil error.
func (l *Ledger) MarkProcessed(ctx context.Context, rec storage.ProcessedEvent) (bool, error) {
	key, err := storage.EventKey(rec.TxHash, rec.Topic0)
	if err != nil {
		return false, err
	}
	if rec.EventType == "" {
		return false, errors.New("event type required")
	}
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	_, err = l.pool.Exec(ctx, `
INSERT INTO processed_events (event_key, tx_hash, topic0, event_type, delivery_id, delivery_created_at, processed_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key, strings.ToLower(rec.TxHash), strings.ToLower(rec.Topic0), rec.EventType, rec.DeliveryID,
		rec.DeliveryCreatedAt.UTC(), processedAt.UTC(), processedAt.Add(l.retention).UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return true, nil
}

// Prune deletes every record that expired at or before now.
func (l *Ledger) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM processed_events WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats summarizes the ledger.
func (l *Ledger) Stats(ctx context.Context, now time.Time) (storage.Stats, error) {
	var (
		st             storage.Stats
		oldest, newest *time.Time
	)
	err := l.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at <= $1), MIN(processed_at), MAX(processed_at)
FROM processed_events`, now.UTC()).Scan(&st.Total, &st.Expired, &oldest, &newest)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	if oldest != nil {
		st.Oldest = oldest.UTC()
	}
	if newest != nil {
		st.Newest = newest.UTC()
	}

	rows, err := l.pool.Query(ctx, `SELECT event_type, COUNT(*) FROM processed_events GROUP BY event_type`)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("ledger stats by type: %w", err)
	}
	defer rows.Close()
	st.ByType = map[string]int64{}
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return storage.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.ByType[typ] = n
	}
	return st, rows.Err()
}

// List returns the most recently processed records, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]storage.ProcessedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
SELECT event_key, tx_hash, topic0, event_type, delivery_id, delivery_created_at, processed_at, expires_at
FROM processed_events
ORDER BY processed_at DESC, event_key
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed: %w", err)
	}
	defer rows.Close()

	out := []storage.ProcessedEvent{}
	for rows.Next() {
		var rec storage.ProcessedEvent
		if err := rows.Scan(&rec.EventKey, &rec.TxHash, &rec.Topic0, &rec.EventType, &rec.DeliveryID,
			&rec.DeliveryCreatedAt, &rec.ProcessedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan processed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IsUniqueViolation reports whether err carries SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
