// Package contracttest builds encoded marketplace logs and webhook deliveries
// for tests.
package contracttest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/devblac/signal-ingest/internal/payload"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Contract is the emitter address used by the builders.
var Contract = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")

// Log ABI-encodes event name with values given in ABI input order.
// It panics on encoding errors.
func Log(a *abi.ABI, name string, tx common.Hash, values ...any) payload.EventLog {
	ev, ok := a.Events[name]
	if !ok {
		panic(fmt.Sprintf("contracttest: unknown event %s", name))
	}
	if len(values) != len(ev.Inputs) {
		panic(fmt.Sprintf("contracttest: %s takes %d values, got %d", name, len(ev.Inputs), len(values)))
	}

	var indexed []any
	var data []any
	var dataArgs abi.Arguments
	for i, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, values[i])
		} else {
			data = append(data, values[i])
			dataArgs = append(dataArgs, in)
		}
	}

	topics := []common.Hash{ev.ID}
	if len(indexed) > 0 {
		query := make([][]any, len(indexed))
		for i, v := range indexed {
			query[i] = []any{v}
		}
		made, err := abi.MakeTopics(query...)
		if err != nil {
			panic(fmt.Sprintf("contracttest: topics: %v", err))
		}
		for _, t := range made {
			topics = append(topics, t[0])
		}
	}

	packed, err := dataArgs.Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("contracttest: pack %s: %v", name, err))
	}
	return payload.EventLog{Address: Contract, Topics: topics, Data: packed, TxHash: tx}
}

// Hash returns a deterministic 32-byte hash for n.
func Hash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

// GraphQLBody renders logs as a GRAPHQL delivery.
func GraphQLBody(id string, createdAt time.Time, logs ...payload.EventLog) []byte {
	d := payload.GraphQLDelivery{
		Envelope: envelope(id, createdAt, payload.KindGraphQL),
	}
	d.Event.SequenceNumber = "1"
	d.Event.Data.Block.Number = 100
	d.Event.Data.Block.Logs = []payload.GraphQLLog{}
	for i, lg := range logs {
		idx := uint(i)
		d.Event.Data.Block.Logs = append(d.Event.Data.Block.Logs, payload.GraphQLLog{
			Index:       &idx,
			Transaction: payload.GraphQLTransaction{Hash: lg.TxHash.Hex()},
			Topics:      hexTopics(lg.Topics),
			Data:        hexutil.Encode(lg.Data),
			Account:     payload.GraphQLAccount{Address: lg.Address.Hex()},
		})
	}
	return mustJSON(d)
}

// ActivityBody renders logs as an ADDRESS_ACTIVITY delivery, prefixed by a
// plain transfer that carries no log.
func ActivityBody(id string, createdAt time.Time, logs ...payload.EventLog) []byte {
	d := payload.ActivityDelivery{
		Envelope: envelope(id, createdAt, payload.KindAddressActivity),
	}
	d.Event.Network = "ETH_SEPOLIA"
	d.Event.Activity = append(d.Event.Activity, payload.Activity{
		FromAddress: "0x0000000000000000000000000000000000000001",
		ToAddress:   "0x0000000000000000000000000000000000000002",
		BlockNum:    "0x64",
		Hash:        Hash(0xfeed).Hex(),
		Category:    "external",
		Asset:       "ETH",
	})
	for i, lg := range logs {
		d.Event.Activity = append(d.Event.Activity, payload.Activity{
			FromAddress: "0x0000000000000000000000000000000000000001",
			BlockNum:    "0x64",
			Hash:        lg.TxHash.Hex(),
			Category:    "log",
			Log: &payload.ActivityLog{
				Address:         lg.Address.Hex(),
				Topics:          hexTopics(lg.Topics),
				Data:            hexutil.Encode(lg.Data),
				BlockNumber:     "0x64",
				TransactionHash: lg.TxHash.Hex(),
				LogIndex:        hexutil.EncodeUint64(uint64(i)),
			},
		})
	}
	return mustJSON(d)
}

func envelope(id string, createdAt time.Time, kind string) payload.Envelope {
	return payload.Envelope{WebhookID: "wh_test", ID: id, CreatedAt: createdAt, Type: kind}
}

func hexTopics(topics []common.Hash) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.Hex()
	}
	return out
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("contracttest: marshal: %v", err))
	}
	return b
}
