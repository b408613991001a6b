// Package server exposes the webhook ingestion endpoint over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/devblac/signal-ingest/internal/ingest"
	"github.com/devblac/signal-ingest/internal/metrics"
	"github.com/devblac/signal-ingest/internal/payload"
	"github.com/devblac/signal-ingest/internal/webhookauth"
)

// Processor runs a validated delivery.
type Processor interface {
	Process(ctx context.Context, d payload.Delivery) (ingest.Result, error)
}

// Options tune the webhook gates.
type Options struct {
	SignatureHeader string
	MaxBodyBytes    int64
	MaxAge          time.Duration
	MaxFutureSkew   time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

type ack struct {
	Success bool `json:"success"`
	ingest.Result
}

type rejection struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WebhookHandler gates deliveries on signature, schema and freshness before
// handing them to p. Once the gates pass it always acknowledges with 200.
type WebhookHandler struct {
	processor Processor
	policy    webhookauth.Policy
	opts      Options
}

// NewWebhookHandler fills unset options with defaults.
func NewWebhookHandler(p Processor, policy webhookauth.Policy, opts Options) *WebhookHandler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "x-alchemy-signature"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = webhookauth.MaxAge
	}
	if opts.MaxFutureSkew <= 0 {
		opts.MaxFutureSkew = webhookauth.MaxFutureSkew
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &WebhookHandler{processor: p, policy: policy, opts: opts}
}

// ServeHTTP applies the gates in order and acknowledges the delivery.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.opts.Logger.With("request_id", RequestID(r.Context()))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, rejection{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.opts.Metrics.Delivery(metrics.DeliveryInvalid)
			writeJSON(w, http.StatusRequestEntityTooLarge, rejection{Error: "body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, rejection{Error: "read body"})
		return
	}

	if err := h.policy.Check(body, r.Header.Get(h.opts.SignatureHeader)); err != nil {
		log.Warn("webhook signature rejected", "remote", r.RemoteAddr, "err", err)
		h.opts.Metrics.Delivery(metrics.DeliveryUnauthorized)
		writeJSON(w, http.StatusUnauthorized, rejection{Error: "invalid signature"})
		return
	}

	delivery, err := payload.Parse(body)
	if err != nil {
		log.Warn("webhook payload rejected", "err", err)
		h.opts.Metrics.Delivery(metrics.DeliveryInvalid)
		writeJSON(w, http.StatusBadRequest, rejection{Error: err.Error()})
		return
	}
	meta := delivery.Meta()

	if err := webhookauth.CheckFreshness(meta.CreatedAt, h.opts.Now(), h.opts.MaxAge, h.opts.MaxFutureSkew); err != nil {
		log.Info("dropping delivery outside freshness window", "delivery_id", meta.ID, "created_at", meta.CreatedAt, "reason", err)
		h.opts.Metrics.Delivery(metrics.DeliveryStale)
		writeJSON(w, http.StatusOK, ack{Success: true})
		return
	}

	res, err := h.processor.Process(r.Context(), delivery)
	if err != nil {
		log.Warn("webhook payload rejected", "delivery_id", meta.ID, "err", err)
		h.opts.Metrics.Delivery(metrics.DeliveryInvalid)
		writeJSON(w, http.StatusBadRequest, rejection{Error: err.Error()})
		return
	}
	h.opts.Metrics.Delivery(metrics.DeliveryAccepted)
	writeJSON(w, http.StatusOK, ack{Success: true, Result: res})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
