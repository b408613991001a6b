// Package janitor prunes expired idempotency ledger records on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/signal-ingest/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Pruner deletes ledger records that expired at or before now.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Janitor runs Prune on a schedule.
type Janitor struct {
	pruner  Pruner
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	nowFunc func() time.Time
}

// New schedules pruning with a standard cron spec or descriptor such as "@hourly".
func New(p Pruner, schedule string, logger *slog.Logger, m *metrics.Metrics) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		pruner:  p,
		cron:    cron.New(),
		logger:  logger,
		metrics: m,
		timeout: time.Minute,
		nowFunc: time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs the scheduler in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling and waits for a running prune to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	n, err := j.pruner.Prune(ctx, j.nowFunc())
	if err != nil {
		j.logger.Error("ledger prune failed", "err", err)
		j.metrics.Errors()
		return 0, err
	}
	j.metrics.Pruned(n)
	if n > 0 {
		j.logger.Info("ledger pruned", "rows", n)
	}
	return n, nil
}
