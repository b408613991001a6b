// Package backfill replays marketplace logs from an EVM node through the
// ingestion pipeline, recovering events whose webhook deliveries were lost.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/signal-ingest/internal/ingest"
	"github.com/devblac/signal-ingest/internal/payload"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Kind tags envelopes produced by a backfill.
const Kind = "BACKFILL"

// BlockClient captures the subset of ethclient used by the scanner.
type BlockClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(ctx context.Context, rpcURL string) (*RPCClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// LogProcessor runs normalized logs through dedup and handlers.
type LogProcessor interface {
	ProcessLogs(ctx context.Context, meta payload.Envelope, logs []payload.EventLog) ingest.Result
}

// Summary reports one backfill run.
type Summary struct {
	FromBlock uint64
	ToBlock   uint64
	Blocks    int
	ingest.Result
}

// Scanner walks a block range in chunks, respecting confirmations.
type Scanner struct {
	client        BlockClient
	proc          LogProcessor
	address       common.Address
	topics        []common.Hash
	confirmations uint64
	chunkSize     uint64
	logger        *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithConfirmations keeps the scan this many blocks behind the head.
func WithConfirmations(n uint64) Option {
	return func(s *Scanner) { s.confirmations = n }
}

// WithChunkSize sets the block span of each eth_getLogs call.
func WithChunkSize(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger sets the scanner logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner builds a scanner for logs emitted by address with any of topics as topic0.
func NewScanner(client BlockClient, proc LogProcessor, address common.Address, topics []common.Hash, opts ...Option) *Scanner {
	s := &Scanner{
		client:    client,
		proc:      proc,
		address:   address,
		topics:    topics,
		chunkSize: 2000,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SafeHead returns the newest block with enough confirmations.
func (s *Scanner) SafeHead(ctx context.Context) (uint64, error) {
	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	head := latest.Number.Uint64()
	if s.confirmations > head {
		return 0, errors.New("chain shorter than confirmation depth")
	}
	return head - s.confirmations, nil
}

// Run replays [from, to]. A zero or too-recent to is clamped to the safe head.
func (s *Scanner) Run(ctx context.Context, from, to uint64) (Summary, error) {
	safe, err := s.SafeHead(ctx)
	if err != nil {
		return Summary{}, err
	}
	if to == 0 || to > safe {
		to = safe
	}
	sum := Summary{FromBlock: from, ToBlock: to}
	if from > to {
		return sum, nil
	}

	for start := from; start <= to; start += s.chunkSize {
		end := start + s.chunkSize - 1
		if end > to || end < start {
			end = to
		}
		logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{s.address},
			Topics:    [][]common.Hash{s.topics},
		})
		if err != nil {
			return sum, fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}
		if err := s.processChunk(ctx, logs, &sum); err != nil {
			return sum, err
		}
		s.logger.Info("backfill chunk done", "from", start, "to", end, "logs", len(logs))
		if end == to {
			break
		}
	}
	return sum, nil
}

// processChunk hands logs to the processor one block at a time, stamped with
// the block time.
func (s *Scanner) processChunk(ctx context.Context, logs []types.Log, sum *Summary) error {
	for i := 0; i < len(logs); {
		block := logs[i].BlockNumber
		j := i
		batch := []payload.EventLog{}
		for ; j < len(logs) && logs[j].BlockNumber == block; j++ {
			batch = append(batch, toEventLog(logs[j]))
		}
		i = j

		header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return fmt.Errorf("header %d: %w", block, err)
		}
		meta := payload.Envelope{
			WebhookID: "backfill",
			ID:        fmt.Sprintf("backfill:%d", block),
			CreatedAt: time.Unix(int64(header.Time), 0).UTC(),
			Type:      Kind,
		}
		res := s.proc.ProcessLogs(ctx, meta, batch)
		sum.Blocks++
		sum.Processed += res.Processed
		sum.Skipped += res.Skipped
		sum.Duplicates += res.Duplicates
		sum.Failed += res.Failed
	}
	return nil
}

func toEventLog(lg types.Log) payload.EventLog {
	return payload.EventLog{
		Address:     lg.Address,
		Topics:      lg.Topics,
		Data:        lg.Data,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Removed:     lg.Removed,
	}
}

// ResolveStart parses a start block: a number, or "latest-N" relative to safeHead.
func ResolveStart(start string, safeHead uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start block %q: %w", start, err)
		}
		if n > safeHead {
			return 0, nil
		}
		return safeHead - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start block %q: %w", start, err)
	}
	return n, nil
}
