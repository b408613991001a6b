package janitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/signal-ingest/internal/logging"
	"github.com/devblac/signal-ingest/internal/storage"
)

func TestRunOncePrunesExpired(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"), storage.WithRetention(time.Hour))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	for i, tx := range []string{"0xaa", "0xbb"} {
		processedAt := time.Now()
		if i == 0 {
			processedAt = old
		}
		if _, err := store.MarkProcessed(ctx, storage.ProcessedEvent{
			TxHash: tx, Topic0: "0x01", EventType: "SignalPurchased", DeliveryID: "d", ProcessedAt: processedAt,
		}); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	j, err := New(store, "@every 1h", logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	n, err := j.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
	if ok, _ := store.IsProcessed(ctx, "0xbb", "0x01"); !ok {
		t.Fatalf("live record must survive pruning")
	}
}

type countingPruner struct{ calls chan struct{} }

func (c countingPruner) Prune(context.Context, time.Time) (int64, error) {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return 0, nil
}

func TestScheduleFires(t *testing.T) {
	p := countingPruner{calls: make(chan struct{}, 1)}
	j, err := New(p, "@every 1s", logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	j.Start()
	defer j.Stop(context.Background())

	select {
	case <-p.calls:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduled prune never ran")
	}
}

func TestInvalidSchedule(t *testing.T) {
	if _, err := New(countingPruner{}, "every tuesday", logging.Discard(), nil); err == nil {
		t.Fatalf("expected schedule error")
	}
}

type failingPruner struct{}

func (failingPruner) Prune(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestRunOnceReportsError(t *testing.T) {
	j, err := New(failingPruner{}, "@hourly", logging.Discard(), nil)
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	if _, err := j.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected prune error")
	}
}
