package settlement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/arbitrage"
	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
	"github.com/alanyoungcy/ammarb/internal/settlement"
	"github.com/alanyoungcy/ammarb/internal/sim"
	"github.com/alanyoungcy/ammarb/internal/store/memory"
)

const (
	engineAccount = "arb.engine"
	feeAccount    = "arb.fees"
	lenderAccount = "flash.loan"
)

var (
	eos = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "EOS", Precision: 4}, Contract: "eosio.token"}
	box = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "BOX", Precision: 6}, Contract: "token.defi"}
)

func amount(sym domain.ExtendedSymbol, raw int64) domain.ExtendedAsset {
	return domain.ExtendedAsset{Quantity: domain.Asset{Amount: raw, Symbol: sym.Symbol}, Contract: sym.Contract}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --- mocks ---

type venueMap map[string]exchange.Adapter

func (v venueMap) Get(id string) (exchange.Adapter, error) {
	a, ok := v[id]
	if !ok {
		return nil, domain.ErrUnsupportedExchange
	}
	return a, nil
}

// misroutedAdapter sends swaps to a pool the venue does not have.
type misroutedAdapter struct{ exchange.Adapter }

func (m misroutedAdapter) SwapTransfer(from string, input domain.ExtendedAsset, l domain.Listing) domain.Transfer {
	l.PairID = 999
	return m.Adapter.SwapTransfer(from, input, l)
}

// swallowingAdapter routes swaps to an account that keeps the input and
// pays nothing back.
type swallowingAdapter struct{ exchange.Adapter }

const sinkAccount = "swap.sink"

func (s swallowingAdapter) SwapTransfer(from string, input domain.ExtendedAsset, _ domain.Listing) domain.Transfer {
	return domain.Transfer{From: from, To: sinkAccount, Quantity: input, Memo: "swap"}
}

// relistedAdapter reports the pair under a new id, as if the venue replaced
// the pool after routing.
type relistedAdapter struct{ exchange.Adapter }

func (r relistedAdapter) Lookup(ctx context.Context, input domain.ExtendedSymbol, targetCode string) (domain.Listing, error) {
	l, err := r.Adapter.Lookup(ctx, input, targetCode)
	l.PairID += 1000
	return l, err
}

type stubLender struct {
	err   error
	calls int
}

func (s *stubLender) Account() string { return lenderAccount }

func (s *stubLender) Borrow(context.Context, domain.LoanRequest) error {
	s.calls++
	return s.err
}

type recorder struct {
	mu   sync.Mutex
	rows []domain.Settlement
}

func (r *recorder) Record(_ context.Context, s domain.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, s)
	return nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// --- fixture ---

type fixture struct {
	net      *sim.Network
	venues   venueMap
	plans    *memory.PlanStore
	recorder *recorder
	engine   *settlement.Engine
}

// newFixture wires defibox (1000 EOS / 2000 BOX, 30 bps) and dfs
// (1200 EOS / 2300 BOX, 20 bps) with a lender holding 500 EOS.
func newFixture(t *testing.T, opts ...func(*settlement.Config)) *fixture {
	t.Helper()
	n, err := sim.NewNetwork(sim.NetworkConfig{
		LenderAccount: lenderAccount,
		Venues: []sim.VenuePools{
			{Venue: "defibox", Pools: []sim.PoolSpec{{PairID: 194, Reserve0: amount(eos, 10000000), Reserve1: amount(box, 2000000000), FeeBps: 30}}},
			{Venue: "dfs", Pools: []sim.PoolSpec{{PairID: 3, Reserve0: amount(eos, 12000000), Reserve1: amount(box, 2300000000), FeeBps: 20}}},
		},
		Balances: []sim.Balance{{Account: lenderAccount, Quantity: amount(eos, 5000000)}},
	}, discard())
	require.NoError(t, err)

	adapters, err := n.Adapters(exchange.NewStaticRegistry(n.Pairs()))
	require.NoError(t, err)
	d := exchange.NewDispatcher(adapters...)
	venues := venueMap{}
	for _, a := range adapters {
		venues[a.ID()] = a
	}

	f := &fixture{net: n, venues: venues, plans: memory.NewPlanStore(), recorder: &recorder{}}
	cfg := settlement.Config{
		Account:      engineAccount,
		FeeRecipient: feeAccount,
		Finder:       arbitrage.NewFinder(arbitrage.NewAggregator(d, discard()), arbitrage.NewSelector(d, discard())),
		Venues:       venues,
		Ledger:       n.Ledger,
		Lender:       n.Lender,
		Plans:        f.plans,
		Recorder:     f.recorder,
		Logger:       discard(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	f.engine, err = settlement.NewEngine(cfg)
	require.NoError(t, err)
	n.Ledger.Subscribe(engineAccount, f.engine)
	return f
}

func (f *fixture) balance(t *testing.T, account string, sym domain.ExtendedSymbol) int64 {
	t.Helper()
	b, err := f.net.Ledger.Balance(context.Background(), account, sym)
	require.NoError(t, err)
	return b.Amount
}

func (f *fixture) reserves(t *testing.T, venue string, pairID uint64) (int64, int64) {
	t.Helper()
	v, ok := f.net.Venue(venue)
	require.True(t, ok)
	rEOS, rBOX, err := v.Reserves(context.Background(), pairID, eos)
	require.NoError(t, err)
	return rEOS, rBOX
}

// assertUntouched checks that no balance, reserve or plan changed.
func (f *fixture) assertUntouched(t *testing.T) {
	t.Helper()
	assert.Equal(t, int64(5000000), f.balance(t, lenderAccount, eos))
	assert.Zero(t, f.balance(t, engineAccount, eos))
	assert.Zero(t, f.balance(t, engineAccount, box))
	assert.Zero(t, f.balance(t, feeAccount, eos))

	rEOS, rBOX := f.reserves(t, "defibox", 194)
	assert.Equal(t, int64(10000000), rEOS)
	assert.Equal(t, int64(2000000000), rBOX)
	rEOS, rBOX = f.reserves(t, "dfs", 3)
	assert.Equal(t, int64(12000000), rEOS)
	assert.Equal(t, int64(2300000000), rBOX)

	_, err := f.plans.Get(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func request(raw int64) domain.SettlementRequest {
	return domain.SettlementRequest{Stake: amount(eos, raw)}
}

// --- construction ---

func TestNewEngine_Validation(t *testing.T) {
	_, err := settlement.NewEngine(settlement.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account")
	assert.Contains(t, err.Error(), "plan store")

	f := newFixture(t)
	_, err = settlement.NewEngine(settlement.Config{
		Account:      engineAccount,
		FeeRecipient: engineAccount,
		Finder:       arbitrage.NewFinder(nil, nil),
		Venues:       f.venues,
		Ledger:       f.net.Ledger,
		Lender:       f.net.Lender,
		Plans:        f.plans,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee recipient")
}

// --- execute ---

func TestExecute_CompletesProfitableRoute(t *testing.T) {
	f := newFixture(t)

	s, err := f.engine.Execute(context.Background(), request(100000))
	require.NoError(t, err)

	assert.Equal(t, domain.SettlementCompleted, s.Status)
	assert.Equal(t, "0.1928 EOS", s.Profit.String())
	require.Len(t, s.Legs, 2)
	assert.Equal(t, "defibox", s.Legs[0].Venue)
	assert.Equal(t, "19.743160 BOX", s.Legs[0].Output.Quantity.String())
	assert.Equal(t, s.Legs[0].Expected, s.Legs[0].Output.Quantity)
	assert.Equal(t, "dfs", s.Legs[1].Venue)
	assert.Equal(t, "10.1928 EOS", s.Legs[1].Output.Quantity.String())
	assert.Equal(t, s.Legs[1].Expected, s.Legs[1].Output.Quantity)
	assert.Equal(t, s.ID, s.Plan.OperationID)

	assert.Equal(t, int64(5000000), f.balance(t, lenderAccount, eos), "loan repaid in full")
	assert.Equal(t, int64(1928), f.balance(t, feeAccount, eos))
	assert.Zero(t, f.balance(t, engineAccount, eos))
	assert.Zero(t, f.balance(t, engineAccount, box))

	rEOS, rBOX := f.reserves(t, "defibox", 194)
	assert.Equal(t, int64(10100000), rEOS)
	assert.Equal(t, int64(2000000000-19743160), rBOX)
	rEOS, rBOX = f.reserves(t, "dfs", 3)
	assert.Equal(t, int64(12000000-101928), rEOS)
	assert.Equal(t, int64(2300000000+19743160), rBOX)

	_, err = f.engine.Plan(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound, "plan cleared after completion")

	require.Len(t, f.recorder.rows, 1)
	assert.Equal(t, s.ID, f.recorder.rows[0].ID)
}

func TestExecute_NoProfitableRoute(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Execute(context.Background(), request(1000000))
	require.ErrorIs(t, err, domain.ErrNoProfitableRoute)
	f.assertUntouched(t)

	require.Len(t, f.recorder.rows, 1)
	assert.Equal(t, domain.SettlementFailed, f.recorder.rows[0].Status)
	assert.NotEmpty(t, f.recorder.rows[0].ID)
}

func TestExecute_InsufficientReturn(t *testing.T) {
	f := newFixture(t)
	req := request(100000)
	req.MinReturn = domain.Asset{Amount: 102000, Symbol: eos.Symbol}

	_, err := f.engine.Execute(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInsufficientReturn)
	f.assertUntouched(t)
}

func TestExecute_MinReturnMet(t *testing.T) {
	f := newFixture(t)
	req := request(100000)
	req.MinReturn = domain.Asset{Amount: 101928, Symbol: eos.Symbol}

	_, err := f.engine.Execute(context.Background(), req)
	require.NoError(t, err)
}

func TestExecute_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  domain.SettlementRequest
	}{
		{"zero stake", request(0)},
		{"negative stake", request(-1)},
		{"no contract", domain.SettlementRequest{Stake: domain.ExtendedAsset{Quantity: domain.Asset{Amount: 1, Symbol: eos.Symbol}}}},
		{"min return in other symbol", domain.SettlementRequest{Stake: amount(eos, 100000), MinReturn: domain.Asset{Amount: 1, Symbol: box.Symbol}}},
		{"negative min return", domain.SettlementRequest{Stake: amount(eos, 100000), MinReturn: domain.Asset{Amount: -1, Symbol: eos.Symbol}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Execute(context.Background(), tt.req)
			require.ErrorIs(t, err, domain.ErrInput)
			f.assertUntouched(t)
			assert.Empty(t, f.recorder.rows)
		})
	}
}

func TestExecute_SecondLegFailureUndoesEverything(t *testing.T) {
	f := newFixture(t)
	f.venues["dfs"] = misroutedAdapter{f.venues["dfs"]}

	_, err := f.engine.Execute(context.Background(), request(100000))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.assertUntouched(t)

	require.Len(t, f.recorder.rows, 1)
	failed := f.recorder.rows[0]
	assert.Equal(t, domain.SettlementFailed, failed.Status)
	assert.Equal(t, "dfs", failed.Plan.BuyVenue)
	assert.Contains(t, failed.Error, "leg 2")
}

func TestExecute_FirstLegFailureUndoesLoan(t *testing.T) {
	f := newFixture(t)
	f.venues["defibox"] = misroutedAdapter{f.venues["defibox"]}

	_, err := f.engine.Execute(context.Background(), request(100000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leg 1")
	f.assertUntouched(t)
}

func TestExecute_LoanNeverArrives(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })

	_, err := f.engine.Execute(context.Background(), request(100000))
	require.ErrorIs(t, err, domain.ErrIncomplete)
	f.assertUntouched(t)
}

func TestExecute_LockHeld(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Locks = heldLock{} })

	_, err := f.engine.Execute(context.Background(), request(100000))
	require.ErrorIs(t, err, domain.ErrLockHeld)
	f.assertUntouched(t)
	assert.Empty(t, f.recorder.rows)
}

func TestExecute_ZeroOutputLegFails(t *testing.T) {
	f := newFixture(t)
	f.venues["defibox"] = swallowingAdapter{f.venues["defibox"]}

	_, err := f.engine.Execute(context.Background(), request(100000))
	require.ErrorIs(t, err, domain.ErrLegFailed)
	assert.Contains(t, err.Error(), "leg 1")
	f.assertUntouched(t)
	assert.Zero(t, f.balance(t, sinkAccount, eos), "swallowed input returned")

	require.Len(t, f.recorder.rows, 1)
	assert.Equal(t, domain.SettlementFailed, f.recorder.rows[0].Status)
}

func TestExecute_RelistedPairFails(t *testing.T) {
	f := newFixture(t)
	f.venues["dfs"] = relistedAdapter{f.venues["dfs"]}

	_, err := f.engine.Execute(context.Background(), request(100000))
	require.ErrorIs(t, err, domain.ErrLegFailed)
	assert.Contains(t, err.Error(), "leg 2")
	assert.Contains(t, err.Error(), "plan expects pair 3")
	f.assertUntouched(t)
}

// --- request ---

func TestRequest_OverwritesPendingPlan(t *testing.T) {
	lender := &stubLender{}
	f := newFixture(t, func(c *settlement.Config) { c.Lender = lender })
	ctx := context.Background()

	first, err := f.engine.Request(ctx, request(100000))
	require.NoError(t, err)
	second, err := f.engine.Request(ctx, request(50000))
	require.NoError(t, err)
	assert.NotEqual(t, first.OperationID, second.OperationID)
	assert.Equal(t, 2, lender.calls)

	plan, err := f.engine.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.OperationID, plan.OperationID)
	assert.Equal(t, amount(eos, 50000), plan.Stake)
	assert.Equal(t, "defibox", plan.SellVenue)
	assert.Equal(t, "dfs", plan.BuyVenue)
	assert.Equal(t, box, plan.Target)
	assert.Equal(t, int64(1434), plan.ExpectedProfit.Amount)
}

func TestRequest_FailedBorrowRestoresPreviousPlan(t *testing.T) {
	lender := &stubLender{}
	f := newFixture(t, func(c *settlement.Config) { c.Lender = lender })
	ctx := context.Background()

	first, err := f.engine.Request(ctx, request(100000))
	require.NoError(t, err)

	lender.err = errors.New("issuer offline")
	_, err = f.engine.Request(ctx, request(50000))
	require.Error(t, err)

	plan, err := f.engine.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.OperationID, plan.OperationID)
}

func TestRequest_NoRouteLeavesPlanAlone(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })
	ctx := context.Background()

	_, err := f.engine.Request(ctx, request(1000000))
	require.ErrorIs(t, err, domain.ErrNoProfitableRoute)
	_, err = f.engine.Plan(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- completion ---

func TestOnTransfer_LoanMismatchAbortsBeforeSwapping(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })
	ctx := context.Background()
	plan, err := f.engine.Request(ctx, request(50000))
	require.NoError(t, err)

	err = f.net.Ledger.Transfer(ctx, domain.Transfer{From: lenderAccount, To: engineAccount, Quantity: amount(eos, 100000)})
	require.ErrorIs(t, err, domain.ErrLoanMismatch)

	assert.Equal(t, int64(5000000), f.balance(t, lenderAccount, eos), "mismatched loan bounced")
	rEOS, _ := f.reserves(t, "defibox", 194)
	assert.Equal(t, int64(10000000), rEOS)

	pending, err := f.engine.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.OperationID, pending.OperationID)
}

func TestOnTransfer_LoanWithoutPlan(t *testing.T) {
	f := newFixture(t)
	err := f.net.Ledger.Transfer(context.Background(), domain.Transfer{From: lenderAccount, To: engineAccount, Quantity: amount(eos, 100000)})
	require.ErrorIs(t, err, domain.ErrLoanMismatch)
	f.assertUntouched(t)
}

func TestOnTransfer_IgnoresOtherSenders(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })
	ctx := context.Background()
	_, err := f.engine.Request(ctx, request(100000))
	require.NoError(t, err)
	require.NoError(t, f.net.Ledger.Issue("alice", amount(eos, 100000)))

	err = f.net.Ledger.Transfer(ctx, domain.Transfer{From: "alice", To: engineAccount, Quantity: amount(eos, 100000)})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), f.balance(t, engineAccount, eos))

	_, err = f.engine.Plan(ctx)
	assert.NoError(t, err, "plan still pending")
}

func TestRequest_DirectCallCompletesThroughLender(t *testing.T) {
	f := newFixture(t)
	plan, err := f.engine.Request(context.Background(), request(100000))
	require.NoError(t, err)
	assert.Equal(t, int64(1928), f.balance(t, feeAccount, eos))
	_, err = f.engine.Plan(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, f.recorder.rows, 1)
	assert.Equal(t, plan.OperationID, f.recorder.rows[0].ID)
	assert.Equal(t, domain.SettlementCompleted, f.recorder.rows[0].Status)
	assert.Equal(t, "0.1928 EOS", f.recorder.rows[0].Profit.String())
}

func TestRequest_LockHeld(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Locks = heldLock{} })

	_, err := f.engine.Request(context.Background(), request(100000))
	require.ErrorIs(t, err, domain.ErrLockHeld)
	f.assertUntouched(t)
}

func TestOnTransfer_LateLoanIsRecorded(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })
	ctx := context.Background()
	plan, err := f.engine.Request(ctx, request(100000))
	require.NoError(t, err)
	assert.Empty(t, f.recorder.rows)

	require.NoError(t, f.net.Ledger.Transfer(ctx, domain.Transfer{From: lenderAccount, To: engineAccount, Quantity: plan.Stake}))
	assert.Equal(t, int64(5000000), f.balance(t, lenderAccount, eos))
	assert.Equal(t, int64(1928), f.balance(t, feeAccount, eos))

	require.Len(t, f.recorder.rows, 1)
	assert.Equal(t, plan.OperationID, f.recorder.rows[0].ID)
	assert.Equal(t, domain.SettlementCompleted, f.recorder.rows[0].Status)
}

func TestOnTransfer_MovedPoolYieldsZeroProfit(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })
	ctx := context.Background()
	plan, err := f.engine.Request(ctx, request(100000))
	require.NoError(t, err)

	// Another trader dumps 500 BOX into dfs before the loan arrives.
	dfs := f.venues["dfs"]
	l, err := dfs.Lookup(ctx, box, "EOS")
	require.NoError(t, err)
	require.NoError(t, f.net.Ledger.Issue("whale", amount(box, 500000000)))
	require.NoError(t, f.net.Ledger.Transfer(ctx, dfs.SwapTransfer("whale", amount(box, 500000000), l)))
	dfsEOS, dfsBOX := f.reserves(t, "dfs", 3)

	err = f.net.Ledger.Transfer(ctx, domain.Transfer{From: lenderAccount, To: engineAccount, Quantity: plan.Stake})
	require.ErrorIs(t, err, domain.ErrZeroProfit)

	assert.Equal(t, int64(5000000), f.balance(t, lenderAccount, eos))
	assert.Zero(t, f.balance(t, engineAccount, eos))
	assert.Zero(t, f.balance(t, engineAccount, box))
	assert.Zero(t, f.balance(t, feeAccount, eos))

	rEOS, rBOX := f.reserves(t, "defibox", 194)
	assert.Equal(t, int64(10000000), rEOS)
	assert.Equal(t, int64(2000000000), rBOX)
	rEOS, rBOX = f.reserves(t, "dfs", 3)
	assert.Equal(t, dfsEOS, rEOS)
	assert.Equal(t, dfsBOX, rBOX)

	pending, err := f.engine.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.OperationID, pending.OperationID)
	assert.Empty(t, f.recorder.rows)
}

// --- operator ---

func TestClearPlan(t *testing.T) {
	f := newFixture(t, func(c *settlement.Config) { c.Lender = &stubLender{} })
	ctx := context.Background()
	plan, err := f.engine.Request(ctx, request(100000))
	require.NoError(t, err)

	cleared, err := f.engine.ClearPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.OperationID, cleared.OperationID)

	_, err = f.engine.ClearPlan(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
