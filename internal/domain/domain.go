// Package domain describes the write API the ingestion pipeline drives.
// Every operation must be safe to call more than once with identical arguments.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists reports that the entity was created by an earlier call.
	ErrAlreadyExists = errors.New("domain: already exists")
	// ErrNotFound reports that the target entity does not exist and retrying will not help.
	ErrNotFound = errors.New("domain: not found")
)

// Writer is the downstream domain-write API.
type Writer interface {
	CreatePredictor(ctx context.Context, in NewPredictor) error
	CreateReceiptFromPurchase(ctx context.Context, in NewReceipt) error
	SetBlacklistStatus(ctx context.Context, address string, blacklisted bool) error
	Ping(ctx context.Context) error
}

// NewPredictor creates a predictor identity keyed by address.
type NewPredictor struct {
	Address  string    `json:"address"`
	TokenID  string    `json:"tokenId"`
	JoinedAt time.Time `json:"joinedAt"`
	Referral *string   `json:"referral,omitempty"`
}

// NewReceipt records a signal purchase.
type NewReceipt struct {
	TokenID           string    `json:"tokenId"`
	ContentIdentifier string    `json:"contentIdentifier"`
	Buyer             string    `json:"buyer"`
	Predictor         string    `json:"predictor"`
	Price             string    `json:"price"`
	PurchasedAt       time.Time `json:"purchasedAt"`
	TxHash            string    `json:"txHash"`
}

// IsBenign reports whether err is a domain outcome that counts as success
// for an idempotent replay.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrNotFound)
}
