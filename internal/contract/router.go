package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/signal-ingest/internal/payload"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnhandled means no handler is registered for the log's topic0.
	ErrUnhandled = errors.New("unhandled event")
	// ErrEventMismatch means the ABI decoded a different event than the handler expects.
	ErrEventMismatch = errors.New("event mismatch")
	// ErrDecode wraps ABI decoding failures for a recognised topic.
	ErrDecode = errors.New("decode event")
)

// Decoded is a log resolved against the contract ABI.
type Decoded struct {
	Name string
	Args map[string]any
	Log  payload.EventLog
	// At is the delivery creation time; contract events carry no timestamp.
	At time.Time
}

// Handler performs the domain side effect of one event type.
type Handler interface {
	EventName() string
	Handle(ctx context.Context, ev Decoded) error
}

type handlerFunc struct {
	name string
	fn   func(context.Context, Decoded) error
}

func (h handlerFunc) EventName() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, ev Decoded) error { return h.fn(ctx, ev) }

// HandlerFunc adapts a function to a Handler for the named event.
func HandlerFunc(event string, fn func(context.Context, Decoded) error) Handler {
	return handlerFunc{name: event, fn: fn}
}

// Router dispatches logs by topic0. Register all handlers before routing.
type Router struct {
	abi      *abi.ABI
	handlers map[common.Hash]Handler
	logger   *slog.Logger
}

// NewRouter returns a router with an empty dispatch table.
func NewRouter(a *abi.ABI, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{abi: a, handlers: map[common.Hash]Handler{}, logger: logger}
}

// Register binds topic to h, replacing any previous binding.
func (r *Router) Register(topic common.Hash, h Handler) {
	r.handlers[topic] = h
}

// Handles reports whether topic has a registered handler.
func (r *Router) Handles(topic common.Hash) bool {
	_, ok := r.handlers[topic]
	return ok
}

// Topics lists the registered topics.
func (r *Router) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Route decodes lg and runs its handler. It returns the decoded event name.
func (r *Router) Route(ctx context.Context, lg payload.EventLog, at time.Time) (string, error) {
	topic, ok := lg.Topic0()
	if !ok {
		return "", ErrUnhandled
	}
	h, ok := r.handlers[topic]
	if !ok {
		r.logger.Debug("unhandled event", "topic0", topic.Hex(), "tx_hash", lg.TxHash.Hex())
		return "", ErrUnhandled
	}

	name, args, err := decodeEvent(r.abi, lg.Topics, lg.Data)
	if err != nil {
		return h.EventName(), fmt.Errorf("%w %s: %v", ErrDecode, h.EventName(), err)
	}
	if name != h.EventName() {
		return name, fmt.Errorf("%w: topic %s decoded as %s, handler expects %s", ErrEventMismatch, topic.Hex(), name, h.EventName())
	}

	return name, h.Handle(ctx, Decoded{Name: name, Args: args, Log: lg, At: at})
}
