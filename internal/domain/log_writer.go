package domain

import (
	"context"
	"log/slog"
)

// LogWriter records domain writes without performing them. Used for dry runs.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter returns a Writer that only logs.
func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{logger: logger}
}

// CreatePredictor logs the predictor that would be created.
func (w *LogWriter) CreatePredictor(ctx context.Context, in NewPredictor) error {
	attrs := []any{"address", in.Address, "token_id", in.TokenID, "joined_at", in.JoinedAt}
	if in.Referral != nil {
		attrs = append(attrs, "referral", *in.Referral)
	}
	w.logger.InfoContext(ctx, "dry-run create predictor", attrs...)
	return nil
}

// CreateReceiptFromPurchase logs the receipt that would be created.
func (w *LogWriter) CreateReceiptFromPurchase(ctx context.Context, in NewReceipt) error {
	w.logger.InfoContext(ctx, "dry-run create receipt",
		"token_id", in.TokenID,
		"content_id", in.ContentIdentifier,
		"buyer", in.Buyer,
		"predictor", in.Predictor,
		"price", in.Price,
		"tx_hash", in.TxHash,
	)
	return nil
}

// SetBlacklistStatus logs the blacklist change.
func (w *LogWriter) SetBlacklistStatus(ctx context.Context, address string, blacklisted bool) error {
	w.logger.InfoContext(ctx, "dry-run set blacklist", "address", address, "blacklisted", blacklisted)
	return nil
}

// Ping always succeeds.
func (w *LogWriter) Ping(context.Context) error { return nil }
