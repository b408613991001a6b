package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProcessedEvent is one idempotency ledger record.
type ProcessedEvent struct {
	EventKey          string    `json:"event_key"`
	TxHash            string    `json:"transaction_hash"`
	Topic0            string    `json:"topic0"`
	EventType         string    `json:"event_type"`
	DeliveryID        string    `json:"delivery_id"`
	DeliveryCreatedAt time.Time `json:"delivery_created_at"`
	ProcessedAt       time.Time `json:"processed_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Stats summarizes ledger contents for operators.
type Stats struct {
	Total   int64            `json:"total"`
	Expired int64            `json:"expired"`
	Oldest  time.Time        `json:"oldest,omitempty"`
	Newest  time.Time        `json:"newest,omitempty"`
	ByType  map[string]int64 `json:"by_type"`
}

// EventKey derives the dedup key for a log. The key is per (transaction, event type),
// so two logs of the same event type in one transaction share a key.
func EventKey(txHash, topic0 string) (string, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	topic0 = strings.ToLower(strings.TrimSpace(topic0))
	if txHash == "" || topic0 == "" {
		return "", errors.New("tx hash and topic0 required")
	}
	return fmt.Sprintf("%s:%s", txHash, topic0), nil
}
