package ingest

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devblac/signal-ingest/internal/contract"
	"github.com/devblac/signal-ingest/internal/contract/contracttest"
	"github.com/devblac/signal-ingest/internal/domain"
	"github.com/devblac/signal-ingest/internal/logging"
	"github.com/devblac/signal-ingest/internal/payload"
	"github.com/devblac/signal-ingest/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"
)

var (
	buyer     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	predictor = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

// fakeWriter behaves like an idempotent domain API: the first receipt for a
// token id is created, later ones report ErrAlreadyExists.
type fakeWriter struct {
	mu         sync.Mutex
	receipts   map[string]domain.NewReceipt
	created    int
	duplicates int
	predictors int
	failWith   error
	// gate, when set, holds each receipt call until it is closed.
	gate    chan struct{}
	arrived chan struct{}
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{receipts: map[string]domain.NewReceipt{}}
}

func (f *fakeWriter) CreatePredictor(context.Context, domain.NewPredictor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictors++
	return f.failWith
}

func (f *fakeWriter) CreateReceiptFromPurchase(ctx context.Context, in domain.NewReceipt) error {
	if f.gate != nil {
		f.arrived <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.receipts[in.TokenID]; ok {
		f.duplicates++
		return domain.ErrAlreadyExists
	}
	f.receipts[in.TokenID] = in
	f.created++
	return nil
}

func (f *fakeWriter) SetBlacklistStatus(context.Context, string, bool) error { return f.failWith }

func (f *fakeWriter) Ping(context.Context) error { return nil }

type fixture struct {
	abi      *abi.ABI
	store    *storage.Store
	writer   *fakeWriter
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	a, err := contract.MarketplaceABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	w := newFakeWriter()
	router, err := contract.NewMarketplaceRouter(a, w, logging.Discard())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return &fixture{abi: a, store: store, writer: w, pipeline: New(store, router, opts...)}
}

func (f *fixture) purchase(tx common.Hash, tokenID int64) payload.EventLog {
	price := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return contracttest.Log(f.abi, contract.EventSignalPurchased, tx, buyer, predictor, big.NewInt(tokenID), [32]byte{1}, price)
}

func parse(t *testing.T, body []byte) payload.Delivery {
	t.Helper()
	d, err := payload.Parse(body)
	if err != nil {
		t.Fatalf("parse delivery: %v", err)
	}
	return d
}

func ledgerCount(t *testing.T, s *storage.Store) int64 {
	t.Helper()
	st, err := s.Stats(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return st.Total
}

func TestProcessIsIdempotentSequentially(t *testing.T) {
	f := newFixture(t)
	joined := contracttest.Log(f.abi, contract.EventPredictorJoined, contracttest.Hash(1), predictor, common.Address{}, big.NewInt(3))
	body := contracttest.GraphQLBody("whevt_1", time.Now(), f.purchase(contracttest.Hash(1), 42), joined)

	first, err := f.pipeline.Process(context.Background(), parse(t, body))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if first != (Result{Processed: 2}) {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := f.pipeline.Process(context.Background(), parse(t, body))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if second != (Result{Duplicates: 2}) {
		t.Fatalf("unexpected second result %+v", second)
	}
	if f.writer.created != 1 || f.writer.predictors != 1 {
		t.Fatalf("expected one side effect per event, got receipts=%d predictors=%d", f.writer.created, f.writer.predictors)
	}
	if n := ledgerCount(t, f.store); n != 2 {
		t.Fatalf("expected 2 ledger records, got %d", n)
	}
}

func TestProcessIsIdempotentConcurrently(t *testing.T) {
	f := newFixture(t)
	d := parse(t, contracttest.ActivityBody("whevt_2", time.Now(), f.purchase(contracttest.Hash(2), 7)))

	var g errgroup.Group
	results := make([]Result, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := f.pipeline.Process(context.Background(), d)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("process: %v", err)
	}

	var processed, duplicates int
	for _, r := range results {
		processed += r.Processed
		duplicates += r.Duplicates
	}
	if processed != 1 || duplicates != len(results)-1 {
		t.Fatalf("expected exactly one processed, got processed=%d duplicates=%d", processed, duplicates)
	}
	if f.writer.created != 1 {
		t.Fatalf("expected one new receipt, got %d", f.writer.created)
	}
	if n := ledgerCount(t, f.store); n != 1 {
		t.Fatalf("expected 1 ledger record, got %d", n)
	}
}

func TestConcurrentRedeliveryRacesIntoHandler(t *testing.T) {
	f := newFixture(t)
	f.writer.gate = make(chan struct{})
	f.writer.arrived = make(chan struct{}, 2)
	d := parse(t, contracttest.GraphQLBody("whevt_3", time.Now(), f.purchase(contracttest.Hash(3), 99)))

	var g errgroup.Group
	results := make([]Result, 2)
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := f.pipeline.Process(context.Background(), d)
			results[i] = res
			return err
		})
	}
	// both deliveries pass the ledger check before either records the event
	for i := 0; i < 2; i++ {
		select {
		case <-f.writer.arrived:
		case <-time.After(5 * time.Second):
			t.Fatalf("delivery %d never reached the handler", i)
		}
	}
	close(f.writer.gate)
	if err := g.Wait(); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.writer.created != 1 || f.writer.duplicates != 1 {
		t.Fatalf("expected one new receipt and one duplicate, got created=%d duplicates=%d", f.writer.created, f.writer.duplicates)
	}
	total := Result{}
	for _, r := range results {
		total.Processed += r.Processed
		total.Duplicates += r.Duplicates
		total.Failed += r.Failed
	}
	if total != (Result{Processed: 1, Duplicates: 1}) {
		t.Fatalf("unexpected combined result %+v", total)
	}
	if n := ledgerCount(t, f.store); n != 1 {
		t.Fatalf("expected 1 ledger record, got %d", n)
	}
}

func TestUnknownEventDoesNotAbortSiblings(t *testing.T) {
	f := newFixture(t)
	unknown := f.purchase(contracttest.Hash(4), 1)
	unknown.Topics[0] = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	known := f.purchase(contracttest.Hash(4), 2)

	res, err := f.pipeline.Process(context.Background(), parse(t, contracttest.GraphQLBody("whevt_4", time.Now(), unknown, known)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Processed: 1, Skipped: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := ledgerCount(t, f.store); n != 1 {
		t.Fatalf("unknown events must not be recorded, got %d records", n)
	}
}

func TestDownstreamFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.writer.failWith = errors.New("connection refused")
	lg := f.purchase(contracttest.Hash(5), 5)
	blacklisted := contracttest.Log(f.abi, contract.EventPredictorBlacklisted, contracttest.Hash(6), predictor, true)

	res, err := f.pipeline.Process(context.Background(), parse(t, contracttest.GraphQLBody("whevt_5", time.Now(), lg, blacklisted)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Failed: 2}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := ledgerCount(t, f.store); n != 0 {
		t.Fatalf("failed events must not be recorded, got %d", n)
	}

	// a later redelivery retries once the downstream recovers
	f.writer.failWith = nil
	res, err = f.pipeline.Process(context.Background(), parse(t, contracttest.GraphQLBody("whevt_5b", time.Now(), lg, blacklisted)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Processed: 2}) {
		t.Fatalf("unexpected retry result %+v", res)
	}
}

func TestDryRunLeavesEventsForRealRun(t *testing.T) {
	f := newFixture(t)
	dryRouter, err := contract.NewMarketplaceRouter(f.abi, domain.NewLogWriter(logging.Discard()), logging.Discard())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	dry := New(f.store, dryRouter, WithLogger(logging.Discard()), WithoutRecording())
	body := contracttest.GraphQLBody("whevt_dry", time.Now(), f.purchase(contracttest.Hash(9), 9))

	res, err := dry.Process(context.Background(), parse(t, body))
	if err != nil {
		t.Fatalf("dry-run process: %v", err)
	}
	if res != (Result{Processed: 1}) {
		t.Fatalf("unexpected dry-run result %+v", res)
	}
	if n := ledgerCount(t, f.store); n != 0 {
		t.Fatalf("dry run must not record events, got %d", n)
	}

	res, err = f.pipeline.Process(context.Background(), parse(t, body))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Processed: 1}) {
		t.Fatalf("unexpected real result %+v", res)
	}
	if f.writer.created != 1 {
		t.Fatalf("expected the receipt to be created after a dry run, got %d", f.writer.created)
	}
	if n := ledgerCount(t, f.store); n != 1 {
		t.Fatalf("expected 1 ledger record, got %d", n)
	}
}

func TestCrossShapeEquivalence(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	viaGraphQL := f.purchase(contracttest.Hash(7), 11)
	viaActivity := f.purchase(contracttest.Hash(8), 12)

	for _, body := range [][]byte{
		contracttest.GraphQLBody("whevt_g", now, viaGraphQL),
		contracttest.ActivityBody("whevt_a", now, viaActivity),
	} {
		res, err := f.pipeline.Process(context.Background(), parse(t, body))
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if res != (Result{Processed: 1}) {
			t.Fatalf("unexpected result %+v", res)
		}
	}

	g, a := f.writer.receipts["11"], f.writer.receipts["12"]
	if g.TxHash == a.TxHash {
		t.Fatalf("expected independent receipts")
	}
	g.TokenID, g.TxHash = "", ""
	a.TokenID, a.TxHash = "", ""
	if g != a {
		t.Fatalf("shapes normalized differently:\n%+v\n%+v", g, a)
	}
}

func TestRemovedAndForeignLogsAreSkipped(t *testing.T) {
	f := newFixture(t, WithContract(contracttest.Contract))
	foreign := f.purchase(contracttest.Hash(9), 1)
	foreign.Address = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	removed := f.purchase(contracttest.Hash(10), 2)

	d := parse(t, contracttest.GraphQLBody("whevt_6", time.Now(), foreign))
	res, err := f.pipeline.Process(context.Background(), d)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Skipped: 1}) {
		t.Fatalf("foreign log: unexpected result %+v", res)
	}

	act := parse(t, contracttest.ActivityBody("whevt_7", time.Now(), removed)).(*payload.ActivityDelivery)
	for i := range act.Event.Activity {
		if act.Event.Activity[i].Log != nil {
			act.Event.Activity[i].Log.Removed = true
		}
	}
	res, err = f.pipeline.Process(context.Background(), act)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Skipped: 1}) {
		t.Fatalf("removed log: unexpected result %+v", res)
	}
	if f.writer.created != 0 {
		t.Fatalf("skipped logs must not reach the domain api")
	}
}

type slowRouter struct{}

func (slowRouter) Route(ctx context.Context, _ payload.EventLog, _ time.Time) (string, error) {
	<-ctx.Done()
	return contract.EventSignalPurchased, ctx.Err()
}

func TestHandlerTimeout(t *testing.T) {
	f := newFixture(t)
	p := New(f.store, slowRouter{}, WithLogger(logging.Discard()), WithHandlerTimeout(20*time.Millisecond))

	res, err := p.Process(context.Background(), parse(t, contracttest.GraphQLBody("whevt_8", time.Now(), f.purchase(contracttest.Hash(11), 1))))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != (Result{Failed: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}
}
