package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/devblac/signal-ingest/internal/storage"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("SIGNAL_INGEST_PG_DSN")
	if dsn == "" {
		t.Skip("SIGNAL_INGEST_PG_DSN not set (integration test)")
	}
	ctx := context.Background()
	l, err := Open(ctx, dsn, time.Hour)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func uniqueTx(t *testing.T) string {
	return fmt.Sprintf("0x%064x", time.Now().UnixNano())
}

func TestLedger_MarkProcessedDedup(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	tx := uniqueTx(t)
	topic := "0x" + fmt.Sprintf("%064x", 1)

	rec := storage.ProcessedEvent{TxHash: tx, Topic0: topic, EventType: "SignalPurchased", DeliveryID: "d1", DeliveryCreatedAt: time.Now()}

	first, err := l.MarkProcessed(ctx, rec)
	if err != nil || !first {
		t.Fatalf("first mark: first=%v err=%v", first, err)
	}
	first, err = l.MarkProcessed(ctx, rec)
	if err != nil {
		t.Fatalf("duplicate mark should not error: %v", err)
	}
	if first {
		t.Fatalf("duplicate mark should lose")
	}

	done, err := l.IsProcessed(ctx, tx, topic)
	if err != nil || !done {
		t.Fatalf("is processed: done=%v err=%v", done, err)
	}
}

func TestLedger_ConcurrentMark(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	tx := uniqueTx(t)
	topic := "0x" + fmt.Sprintf("%064x", 2)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := l.MarkProcessed(ctx, storage.ProcessedEvent{TxHash: tx, Topic0: topic, EventType: "PredictorJoined", DeliveryID: "d", DeliveryCreatedAt: time.Now()})
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			if first {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23502"}) {
		t.Fatalf("not-null violation must not be treated as duplicate")
	}
	if IsUniqueViolation(fmt.Errorf("boom")) {
		t.Fatalf("plain error must not be treated as duplicate")
	}
}
