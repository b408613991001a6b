// Package contract decodes marketplace contract logs and drives the matching
// domain writes.
package contract

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Event names emitted by the marketplace contract.
const (
	EventPredictorJoined      = "PredictorJoined"
	EventSignalPurchased      = "SignalPurchased"
	EventPredictorBlacklisted = "PredictorBlacklisted"
	EventPredictorNFTMinted   = "PredictorNFTMinted"
)

//go:embed abi/SignalMarketplace.json
var marketplaceABI []byte

// MarketplaceABI parses the embedded contract ABI.
func MarketplaceABI() (*abi.ABI, error) {
	return parseABI(marketplaceABI, "embedded")
}

// LoadABI reads an ABI from path, or returns the embedded one when path is empty.
func LoadABI(path string) (*abi.ABI, error) {
	if path == "" {
		return MarketplaceABI()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abi %s: %w", path, err)
	}
	return parseABI(data, path)
}

func parseABI(data []byte, origin string) (*abi.ABI, error) {
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse abi %s: %w", origin, err)
	}
	for _, name := range []string{EventPredictorJoined, EventSignalPurchased, EventPredictorBlacklisted, EventPredictorNFTMinted} {
		if _, ok := a.Events[name]; !ok {
			return nil, fmt.Errorf("abi %s: missing event %s", origin, name)
		}
	}
	return &a, nil
}

// Topic returns the signature hash of a named event.
func Topic(a *abi.ABI, name string) (common.Hash, error) {
	ev, ok := a.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not in abi", name)
	}
	return ev.ID, nil
}

// decodeEvent resolves topic0 against the ABI and unpacks indexed and data
// fields into one map.
func decodeEvent(a *abi.ABI, topics []common.Hash, data []byte) (string, map[string]any, error) {
	if len(topics) == 0 {
		return "", nil, fmt.Errorf("log has no topics")
	}
	ev, err := a.EventByID(topics[0])
	if err != nil {
		return "", nil, err
	}

	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(ev.Inputs)
	if err := abi.ParseTopicsIntoMap(args, indexed, topics[1:]); err != nil {
		return ev.Name, nil, fmt.Errorf("parse topics: %w", err)
	}
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, data); err != nil {
			return ev.Name, nil, fmt.Errorf("unpack data: %w", err)
		}
	}
	return ev.Name, args, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
