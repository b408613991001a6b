package payload

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Delivery kinds, as sent in the "type" discriminator.
const (
	KindGraphQL         = "GRAPHQL"
	KindAddressActivity = "ADDRESS_ACTIVITY"
)

// Delivery is a validated webhook delivery. The concrete type is either
// *GraphQLDelivery or *ActivityDelivery.
type Delivery interface {
	// Meta returns the envelope shared by every delivery shape.
	Meta() Envelope
	// Logs flattens the delivery into contract logs, preserving delivery order.
	Logs() ([]EventLog, error)

	sealed()
}

// Envelope carries the provenance fields common to both shapes.
type Envelope struct {
	WebhookID string    `json:"webhookId" validate:"required"`
	ID        string    `json:"id" validate:"required"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
	Type      string    `json:"type" validate:"required,oneof=GRAPHQL ADDRESS_ACTIVITY"`
}

// EventLog is a contract log reduced to the fields the router needs.
type EventLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Removed     bool
}

// Topic0 returns the event signature topic, if any.
func (l EventLog) Topic0() (common.Hash, bool) {
	if len(l.Topics) == 0 {
		return common.Hash{}, false
	}
	return l.Topics[0], true
}

// GraphQLDelivery is a custom-webhook block log stream.
type GraphQLDelivery struct {
	Envelope
	Event GraphQLEvent `json:"event" validate:"required"`
}

// GraphQLEvent is the event object of a GRAPHQL delivery.
type GraphQLEvent struct {
	Data           GraphQLData `json:"data" validate:"required"`
	SequenceNumber string      `json:"sequenceNumber"`
}

// GraphQLData holds the query result.
type GraphQLData struct {
	Block GraphQLBlock `json:"block" validate:"required"`
}

// GraphQLBlock is one block with the logs that matched the query.
type GraphQLBlock struct {
	Hash   string       `json:"hash,omitempty" validate:"omitempty,hash32"`
	Number uint64       `json:"number,omitempty"`
	Logs   []GraphQLLog `json:"logs" validate:"required,dive"`
}

// GraphQLLog is one contract log within a block.
type GraphQLLog struct {
	Index       *uint              `json:"index,omitempty"`
	Transaction GraphQLTransaction `json:"transaction"`
	Topics      []string           `json:"topics" validate:"dive,hash32"`
	Data        string             `json:"data" validate:"hexdata"`
	Account     GraphQLAccount     `json:"account"`
}

// GraphQLTransaction identifies the transaction that emitted a log.
type GraphQLTransaction struct {
	Hash string          `json:"hash" validate:"required,hash32"`
	From *GraphQLAccount `json:"from,omitempty"`
	To   *GraphQLAccount `json:"to,omitempty"`
}

// GraphQLAccount is an address reference.
type GraphQLAccount struct {
	Address string `json:"address" validate:"required,evmaddr"`
}

func (*GraphQLDelivery) sealed() {}

// Meta implements Delivery.
func (d *GraphQLDelivery) Meta() Envelope { return d.Envelope }

// ActivityDelivery is an address-activity stream.
type ActivityDelivery struct {
	Envelope
	Event ActivityEvent `json:"event" validate:"required"`
}

// ActivityEvent is the event object of an ADDRESS_ACTIVITY delivery.
type ActivityEvent struct {
	Network  string     `json:"network" validate:"required"`
	Activity []Activity `json:"activity" validate:"required,dive"`
}

// Activity is one transfer or log touching the watched addresses.
type Activity struct {
	FromAddress string       `json:"fromAddress" validate:"required"`
	ToAddress   string       `json:"toAddress,omitempty"`
	BlockNum    string       `json:"blockNum" validate:"required"`
	Hash        string       `json:"hash" validate:"required,hash32"`
	Log         *ActivityLog `json:"log,omitempty"`
	Category    string       `json:"category" validate:"required"`
	RawContract *RawContract `json:"rawContract,omitempty"`
	Value       *float64     `json:"value,omitempty"`
	Asset       string       `json:"asset,omitempty"`
}

// ActivityLog is the raw log attached to an activity, quantities hex encoded.
type ActivityLog struct {
	Address          string   `json:"address" validate:"required,evmaddr"`
	Topics           []string `json:"topics" validate:"dive,hash32"`
	Data             string   `json:"data" validate:"hexdata"`
	BlockNumber      string   `json:"blockNumber" validate:"omitempty,hexadecimal"`
	TransactionHash  string   `json:"transactionHash" validate:"required,hash32"`
	TransactionIndex string   `json:"transactionIndex,omitempty"`
	BlockHash        string   `json:"blockHash,omitempty"`
	LogIndex         string   `json:"logIndex,omitempty"`
	Removed          bool     `json:"removed"`
}

// RawContract describes the token contract of a transfer.
type RawContract struct {
	RawValue string `json:"rawValue,omitempty"`
	Address  string `json:"address,omitempty"`
	Decimals *int   `json:"decimals,omitempty"`
}

func (*ActivityDelivery) sealed() {}

// Meta implements Delivery.
func (d *ActivityDelivery) Meta() Envelope { return d.Envelope }
