package contract

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/devblac/signal-ingest/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TokenDecimals is the fixed-point scale of signal prices.
const TokenDecimals = 18

// Handlers turns marketplace events into domain writes.
type Handlers struct {
	w      domain.Writer
	logger *slog.Logger
}

// NewHandlers binds the event handlers to a domain writer.
func NewHandlers(w domain.Writer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{w: w, logger: logger}
}

// NewMarketplaceRouter builds a router with all marketplace handlers registered.
func NewMarketplaceRouter(a *abi.ABI, w domain.Writer, logger *slog.Logger) (*Router, error) {
	r := NewRouter(a, logger)
	h := NewHandlers(w, logger)
	for _, hd := range []Handler{
		HandlerFunc(EventPredictorJoined, h.PredictorJoined),
		HandlerFunc(EventSignalPurchased, h.SignalPurchased),
		HandlerFunc(EventPredictorBlacklisted, h.PredictorBlacklisted),
		HandlerFunc(EventPredictorNFTMinted, h.PredictorNFTMinted),
	} {
		topic, err := Topic(a, hd.EventName())
		if err != nil {
			return nil, err
		}
		r.Register(topic, hd)
	}
	return r, nil
}

// PredictorJoined creates the predictor, with its referrer when one is set.
func (h *Handlers) PredictorJoined(ctx context.Context, ev Decoded) error {
	predictor, err := argAddress(ev, "predictor")
	if err != nil {
		return err
	}
	referrer, err := argAddress(ev, "referrer")
	if err != nil {
		return err
	}
	tokenID, err := argBig(ev, "tokenId")
	if err != nil {
		return err
	}

	in := domain.NewPredictor{
		Address:  addressString(predictor),
		TokenID:  tokenID.String(),
		JoinedAt: ev.At,
	}
	if referrer != (common.Address{}) {
		ref := addressString(referrer)
		in.Referral = &ref
	}
	return h.settle(ev, h.w.CreatePredictor(ctx, in))
}

// SignalPurchased records the purchase receipt.
func (h *Handlers) SignalPurchased(ctx context.Context, ev Decoded) error {
	buyer, err := argAddress(ev, "buyer")
	if err != nil {
		return err
	}
	predictor, err := argAddress(ev, "predictor")
	if err != nil {
		return err
	}
	tokenID, err := argBig(ev, "tokenId")
	if err != nil {
		return err
	}
	contentID, err := argBytes32(ev, "contentIdentifier")
	if err != nil {
		return err
	}
	price, err := argBig(ev, "signalPrice")
	if err != nil {
		return err
	}

	in := domain.NewReceipt{
		TokenID:           tokenID.String(),
		ContentIdentifier: ContentCID(contentID),
		Buyer:             addressString(buyer),
		Predictor:         addressString(predictor),
		Price:             FormatUnits(price, TokenDecimals),
		PurchasedAt:       ev.At,
		TxHash:            ev.Log.TxHash.Hex(),
	}
	return h.settle(ev, h.w.CreateReceiptFromPurchase(ctx, in))
}

// PredictorBlacklisted mirrors the on-chain blacklist flag.
func (h *Handlers) PredictorBlacklisted(ctx context.Context, ev Decoded) error {
	predictor, err := argAddress(ev, "predictor")
	if err != nil {
		return err
	}
	status, err := argBool(ev, "status")
	if err != nil {
		return err
	}
	return h.settle(ev, h.w.SetBlacklistStatus(ctx, addressString(predictor), status))
}

// PredictorNFTMinted only creates predictors for admin mints; regular mints
// are covered by PredictorJoined.
func (h *Handlers) PredictorNFTMinted(ctx context.Context, ev Decoded) error {
	admin, err := argBool(ev, "isAdminMint")
	if err != nil {
		return err
	}
	if !admin {
		h.logger.Debug("ignoring non-admin mint", "tx_hash", ev.Log.TxHash.Hex())
		return nil
	}
	to, err := argAddress(ev, "to")
	if err != nil {
		return err
	}
	tokenID, err := argBig(ev, "tokenId")
	if err != nil {
		return err
	}
	in := domain.NewPredictor{
		Address:  addressString(to),
		TokenID:  tokenID.String(),
		JoinedAt: ev.At,
	}
	return h.settle(ev, h.w.CreatePredictor(ctx, in))
}

// settle swallows idempotent domain outcomes.
func (h *Handlers) settle(ev Decoded, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsBenign(err) {
		h.logger.Debug("domain write already applied", "event", ev.Name, "tx_hash", ev.Log.TxHash.Hex(), "reason", err)
		return nil
	}
	return fmt.Errorf("%s: %w", ev.Name, err)
}

// ContentCID renders a 32-byte sha2-256 digest as a CIDv0 string.
func ContentCID(digest [32]byte) string {
	buf := make([]byte, 0, 34)
	buf = append(buf, 0x12, 0x20)
	buf = append(buf, digest[:]...)
	return base58.Encode(buf)
}

// FormatUnits renders a fixed-point integer as an exact decimal string with
// at least one fractional digit, e.g. 5e18 with 18 decimals is "5.0".
func FormatUnits(v *big.Int, decimals int) string {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	s := new(big.Rat).SetFrac(v, scale).FloatString(decimals)
	if !strings.Contains(s, ".") {
		return s + ".0"
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func addressString(a common.Address) string { return strings.ToLower(a.Hex()) }

func argAddress(ev Decoded, name string) (common.Address, error) {
	v, ok := ev.Args[name].(common.Address)
	if !ok {
		return common.Address{}, argError(ev, name, "address")
	}
	return v, nil
}

func argBig(ev Decoded, name string) (*big.Int, error) {
	v, ok := ev.Args[name].(*big.Int)
	if !ok || v == nil {
		return nil, argError(ev, name, "uint256")
	}
	return v, nil
}

func argBytes32(ev Decoded, name string) ([32]byte, error) {
	v, ok := ev.Args[name].([32]byte)
	if !ok {
		return [32]byte{}, argError(ev, name, "bytes32")
	}
	return v, nil
}

func argBool(ev Decoded, name string) (bool, error) {
	v, ok := ev.Args[name].(bool)
	if !ok {
		return false, argError(ev, name, "bool")
	}
	return v, nil
}

func argError(ev Decoded, name, typ string) error {
	return fmt.Errorf("%w %s: argument %s is not %s (%T)", ErrDecode, ev.Name, name, typ, ev.Args[name])
}
