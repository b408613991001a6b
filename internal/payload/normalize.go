package payload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Logs implements Delivery by flattening the block's logs in order.
func (d *GraphQLDelivery) Logs() ([]EventLog, error) {
	block := d.Event.Data.Block
	out := make([]EventLog, 0, len(block.Logs))
	for i, lg := range block.Logs {
		ev, err := buildLog(lg.Account.Address, lg.Topics, lg.Data, lg.Transaction.Hash)
		if err != nil {
			return nil, fmt.Errorf("%w: log %d: %v", ErrInvalidPayload, i, err)
		}
		if lg.Index != nil {
			ev.LogIndex = *lg.Index
		}
		ev.BlockNumber = block.Number
		out = append(out, ev)
	}
	return out, nil
}

// Logs implements Delivery. Activities without a log (plain transfers) carry no
// contract event and are dropped; the rest map one to one, in order.
func (d *ActivityDelivery) Logs() ([]EventLog, error) {
	out := make([]EventLog, 0, len(d.Event.Activity))
	for i, act := range d.Event.Activity {
		lg := act.Log
		if lg == nil {
			continue
		}
		ev, err := buildLog(lg.Address, lg.Topics, lg.Data, lg.TransactionHash)
		if err != nil {
			return nil, fmt.Errorf("%w: activity %d: %v", ErrInvalidPayload, i, err)
		}
		if lg.LogIndex != "" {
			idx, err := parseQuantity(lg.LogIndex)
			if err != nil {
				return nil, fmt.Errorf("%w: activity %d: log index: %v", ErrInvalidPayload, i, err)
			}
			ev.LogIndex = uint(idx)
		}
		if lg.BlockNumber != "" {
			n, err := parseQuantity(lg.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("%w: activity %d: block number: %v", ErrInvalidPayload, i, err)
			}
			ev.BlockNumber = n
		}
		ev.Removed = lg.Removed
		out = append(out, ev)
	}
	return out, nil
}

func buildLog(address string, topics []string, data string, txHash string) (EventLog, error) {
	raw, err := hexutil.Decode(data)
	if err != nil {
		return EventLog{}, fmt.Errorf("data: %w", err)
	}
	hashes := make([]common.Hash, 0, len(topics))
	for _, t := range topics {
		hashes = append(hashes, common.HexToHash(t))
	}
	return EventLog{
		Address: common.HexToAddress(address),
		Topics:  hashes,
		Data:    raw,
		TxHash:  common.HexToHash(txHash),
	}, nil
}

// parseQuantity accepts 0x-prefixed hex quantities, tolerating leading zeros.
func parseQuantity(s string) (uint64, error) {
	lower := strings.ToLower(s)
	digits := strings.TrimPrefix(lower, "0x")
	if digits == lower || digits == "" {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return strconv.ParseUint(digits, 16, 64)
}
