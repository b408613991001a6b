package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultRetention outlasts the provider's redelivery window while bounding table growth.
const DefaultRetention = 30 * 24 * time.Hour

// Store is the SQLite-backed idempotency ledger.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithRetention overrides how long processed events are remembered.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dsn attaches pragmas as query parameters so every pooled connection gets them,
// not only the one that happened to run a PRAGMA statement.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + q.Encode()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration { return s.retention }

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS processed_events (
  event_key           TEXT PRIMARY KEY,
  tx_hash             TEXT NOT NULL,
  topic0              TEXT NOT NULL,
  event_type          TEXT NOT NULL,
  delivery_id         TEXT NOT NULL,
  delivery_created_at INTEGER NOT NULL,
  processed_at        INTEGER NOT NULL,
  expires_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS processed_events_expires_at ON processed_events (expires_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// IsProcessed reports whether (txHash, topic0) has a live ledger record.
// An expired record found here is pruned and reported as absent.
func (s *Store) IsProcessed(ctx context.Context, txHash, topic0 string) (bool, error) {
	key, err := EventKey(txHash, topic0)
	if err != nil {
		return false, err
	}

	var expires int64
	err = s.db.QueryRowContext(ctx, `
SELECT expires_at FROM processed_events WHERE event_key = ?;
`, key).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}

	if time.UnixMilli(expires).After(time.Now()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE event_key = ? AND expires_at <= ?;`, key, time.Now().UnixMilli()); err != nil {
		return false, fmt.Errorf("prune processed: %w", err)
	}
	return false, nil
}

// MarkProcessed records that an event was handled. It returns first=false, with a
// nil error, when another delivery already recorded the same key.
func (s *Store) MarkProcessed(ctx context.Context, rec ProcessedEvent) (bool, error) {
	key, err := EventKey(rec.TxHash, rec.Topic0)
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

	_, err = s.db.ExecContext(ctx, `
INSERT INTO processed_events (event_key, tx_hash, topic0, event_type, delivery_id, delivery_created_at, processed_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, key, strings.ToLower(rec.TxHash), strings.ToLower(rec.Topic0), rec.EventType, rec.DeliveryID,
		rec.DeliveryCreatedAt.UnixMilli(), processedAt.UnixMilli(), processedAt.Add(s.retention).UnixMilli())
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return true, nil
}

// Prune deletes every record that expired at or before now.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE expires_at <= ?;`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

// Stats summarizes the ledger.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var (
		st             Stats
		oldest, newest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0), MIN(processed_at), MAX(processed_at)
FROM processed_events;
`, now.UnixMilli()).Scan(&st.Total, &st.Expired, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	if oldest.Valid {
		st.Oldest = time.UnixMilli(oldest.Int64).UTC()
	}
	if newest.Valid {
		st.Newest = time.UnixMilli(newest.Int64).UTC()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM processed_events GROUP BY event_type;`)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats by type: %w", err)
	}
	defer rows.Close()
	st.ByType = map[string]int64{}
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.ByType[typ] = n
	}
	return st, rows.Err()
}

// List returns the most recently processed records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]ProcessedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_key, tx_hash, topic0, event_type, delivery_id, delivery_created_at, processed_at, expires_at
FROM processed_events
ORDER BY processed_at DESC, event_key
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed: %w", err)
	}
	defer rows.Close()

	out := []ProcessedEvent{}
	for rows.Next() {
		var (
			rec                       ProcessedEvent
			created, processed, until int64
		)
		if err := rows.Scan(&rec.EventKey, &rec.TxHash, &rec.Topic0, &rec.EventType, &rec.DeliveryID, &created, &processed, &until); err != nil {
			return nil, fmt.Errorf("scan processed: %w", err)
		}
		rec.DeliveryCreatedAt = time.UnixMilli(created).UTC()
		rec.ProcessedAt = time.UnixMilli(processed).UTC()
		rec.ExpiresAt = time.UnixMilli(until).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IsUniqueViolation reports whether err is a SQLite uniqueness or primary key conflict.
// The driver enables extended result codes on every connection, so other
// constraint failures (NOT NULL, CHECK) carry their own codes and are not matched.
func IsUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
