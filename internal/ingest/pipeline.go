// Package ingest runs normalized webhook deliveries through dedup, routing and
// the ledger.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devblac/signal-ingest/internal/contract"
	"github.com/devblac/signal-ingest/internal/metrics"
	"github.com/devblac/signal-ingest/internal/payload"
	"github.com/devblac/signal-ingest/internal/storage"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the idempotency store the pipeline needs.
type Ledger interface {
	IsProcessed(ctx context.Context, txHash, topic0 string) (bool, error)
	MarkProcessed(ctx context.Context, rec storage.ProcessedEvent) (bool, error)
}

// Router dispatches one log to its handler.
type Router interface {
	Route(ctx context.Context, lg payload.EventLog, at time.Time) (string, error)
}

// Result summarizes one delivery.
type Result struct {
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Pipeline processes deliveries. It is safe for concurrent use.
type Pipeline struct {
	ledger         Ledger
	router         Router
	logger         *slog.Logger
	metrics        *metrics.Metrics
	handlerTimeout time.Duration
	contract       *common.Address
	record         bool
	nowFunc        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHandlerTimeout bounds each handler invocation. Zero disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.handlerTimeout = d }
}

// WithContract skips logs emitted by any other address.
func WithContract(addr common.Address) Option {
	return func(p *Pipeline) { p.contract = &addr }
}

// WithoutRecording consults the ledger but never writes to it. Use it when the
// router's writer performs no domain writes, so a later real run still applies
// the events.
func WithoutRecording() Option {
	return func(p *Pipeline) { p.record = false }
}

// New builds a pipeline over ledger and router.
func New(ledger Ledger, router Router, opts ...Option) *Pipeline {
	p := &Pipeline{
		ledger:         ledger,
		router:         router,
		logger:         slog.Default(),
		handlerTimeout: 10 * time.Second,
		record:         true,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeDuplicate
	outcomeFailed
)

// Process handles every log of d in order. Per-log failures are counted and
// logged, never returned; the only error is a delivery that cannot be
// normalized.
func (p *Pipeline) Process(ctx context.Context, d payload.Delivery) (Result, error) {
	logs, err := d.Logs()
	if err != nil {
		return Result{}, err
	}
	return p.ProcessLogs(ctx, d.Meta(), logs), nil
}

// ProcessLogs handles already-normalized logs attributed to meta.
func (p *Pipeline) ProcessLogs(ctx context.Context, meta payload.Envelope, logs []payload.EventLog) Result {
	var res Result
	for _, lg := range logs {
		switch p.processLog(ctx, meta, lg) {
		case outcomeProcessed:
			res.Processed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeFailed:
			res.Failed++
		}
	}

	p.logger.Info("delivery processed",
		"delivery_id", meta.ID,
		"webhook_id", meta.WebhookID,
		"type", meta.Type,
		"logs", len(logs),
		"processed", res.Processed,
		"skipped", res.Skipped,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
	)
	return res
}

func (p *Pipeline) processLog(ctx context.Context, meta payload.Envelope, lg payload.EventLog) outcome {
	topic, ok := lg.Topic0()
	if !ok {
		p.metrics.Log(metrics.LogSkipped, "")
		return outcomeSkipped
	}
	txHash, topic0 := lg.TxHash.Hex(), topic.Hex()
	log := p.logger.With("delivery_id", meta.ID, "tx_hash", txHash, "topic0", topic0, "log_index", lg.LogIndex)

	if lg.Removed {
		log.Info("skipping removed log")
		p.metrics.Log(metrics.LogSkipped, "")
		return outcomeSkipped
	}
	if p.contract != nil && lg.Address != *p.contract {
		log.Debug("skipping log from foreign address", "address", lg.Address.Hex())
		p.metrics.Log(metrics.LogSkipped, "")
		return outcomeSkipped
	}

	done, err := p.ledger.IsProcessed(ctx, txHash, topic0)
	if err != nil {
		log.Error("ledger lookup failed", "err", err)
		p.metrics.Errors()
		p.metrics.Log(metrics.LogFailed, "")
		return outcomeFailed
	}
	if done {
		log.Debug("event already processed")
		p.metrics.Log(metrics.LogDuplicate, "")
		return outcomeDuplicate
	}

	name, err := p.route(ctx, lg, meta.CreatedAt)
	switch {
	case errors.Is(err, contract.ErrUnhandled):
		p.metrics.Log(metrics.LogSkipped, "")
		return outcomeSkipped
	case errors.Is(err, contract.ErrEventMismatch), errors.Is(err, contract.ErrDecode):
		log.Warn("event decode rejected", "event", name, "err", err)
		p.metrics.Log(metrics.LogFailed, name)
		return outcomeFailed
	case err != nil:
		log.Error("event handler failed", "event", name, "err", err)
		p.metrics.Errors()
		p.metrics.Log(metrics.LogFailed, name)
		return outcomeFailed
	}

	if !p.record {
		log.Debug("event handled without recording", "event", name)
		p.metrics.Log(metrics.LogProcessed, name)
		return outcomeProcessed
	}

	first, err := p.ledger.MarkProcessed(ctx, storage.ProcessedEvent{
		TxHash:            txHash,
		Topic0:            topic0,
		EventType:         name,
		DeliveryID:        meta.ID,
		DeliveryCreatedAt: meta.CreatedAt,
		ProcessedAt:       p.nowFunc(),
	})
	if err != nil {
		log.Error("ledger write failed after handling", "event", name, "err", err)
		p.metrics.Errors()
		p.metrics.Log(metrics.LogFailed, name)
		return outcomeFailed
	}
	if !first {
		log.Info("concurrent delivery recorded event first", "event", name)
		p.metrics.LedgerRace()
		p.metrics.Log(metrics.LogDuplicate, name)
		return outcomeDuplicate
	}

	log.Debug("event processed", "event", name)
	p.metrics.Log(metrics.LogProcessed, name)
	return outcomeProcessed
}

func (p *Pipeline) route(ctx context.Context, lg payload.EventLog, at time.Time) (string, error) {
	if p.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.handlerTimeout)
		defer cancel()
	}
	start := time.Now()
	name, err := p.router.Route(ctx, lg, at)
	if !errors.Is(err, contract.ErrUnhandled) {
		p.metrics.ObserveHandler(name, time.Since(start))
	}
	return name, err
}
