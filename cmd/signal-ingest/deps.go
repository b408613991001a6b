package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/devblac/signal-ingest/internal/config"
	"github.com/devblac/signal-ingest/internal/domain"
	"github.com/devblac/signal-ingest/internal/domain/httpclient"
	"github.com/devblac/signal-ingest/internal/logging"
	"github.com/devblac/signal-ingest/internal/storage"
	"github.com/devblac/signal-ingest/internal/storage/postgres"
)

// ledgerStore is what the commands need from either ledger backend.
type ledgerStore interface {
	IsProcessed(ctx context.Context, txHash, topic0 string) (bool, error)
	MarkProcessed(ctx context.Context, rec storage.ProcessedEvent) (bool, error)
	Prune(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (storage.Stats, error)
	List(ctx context.Context, limit int) ([]storage.ProcessedEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledgerStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		l, err := postgres.Open(ctx, cfg.DSN, cfg.Retention.Std())
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return l, nil
	default:
		s, err := storage.Open(cfg.DBPath, storage.WithRetention(cfg.Retention.Std()))
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return s, nil
	}
}

// writesDisabled reports whether domain writes are only logged.
func writesDisabled(cfg config.DomainConfig, dryRun bool) bool {
	return dryRun || cfg.Type == config.DomainLog
}

func buildWriter(cfg config.DomainConfig, dryRun bool, log *slog.Logger) (domain.Writer, error) {
	if writesDisabled(cfg, dryRun) {
		return domain.NewLogWriter(log), nil
	}
	return httpclient.New(cfg.BaseURL,
		httpclient.WithToken(cfg.Token),
		httpclient.WithTimeout(cfg.Timeout.Std()),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithLogger(log),
	)
}

// newLogger picks the level from --log-level, then LOG_LEVEL, then the config.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := flagLogLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = cfg.LogLevel
	}
	return logging.NewWithOptions(level, cfg.LogFormat, w)
}
