// Package settlement runs flash-loan arbitrage as a two-phase protocol. The
// request phase picks a route, stores it as the settlement plan and asks the
// issuer for a loan. The completion phase runs when the loan arrives: it
// executes both swap legs against the plan, repays the issuer, pays out the
// profit and clears the plan. Execute wraps both phases in one saga so any
// failure leaves no trace of either.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
	"github.com/alanyoungcy/ammarb/internal/saga"
)

// LockKey is the distributed lock guarding the settlement slot.
const LockKey = "settlement"

// RouteFinder returns the best route for a stake.
type RouteFinder interface {
	FindRoute(ctx context.Context, stake domain.ExtendedAsset) (domain.Route, error)
}

// VenueLookup resolves venue ids to adapters.
type VenueLookup interface {
	Get(id string) (exchange.Adapter, error)
}

// Recorder persists finished settlements.
type Recorder interface {
	Record(ctx context.Context, s domain.Settlement) error
}

// Config wires an Engine.
type Config struct {
	// Account is the ledger account the engine trades from.
	Account      string
	FeeRecipient string

	Finder RouteFinder
	Venues VenueLookup
	Ledger domain.Ledger
	Lender domain.LoanIssuer
	Plans  domain.PlanStore

	// Locks is optional; when set Execute also holds LockKey.
	Locks   domain.LockManager
	LockTTL time.Duration
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
}

// Engine is the settlement state machine.
type Engine struct {
	account      string
	feeRecipient string
	finder       RouteFinder
	venues       VenueLookup
	ledger       domain.Ledger
	lender       domain.LoanIssuer
	plans        domain.PlanStore
	locks        domain.LockManager
	lockTTL      time.Duration
	recorder     Recorder
	logger       *slog.Logger
	now          func() time.Time

	// mu serializes Execute, Request and ClearPlan.
	mu sync.Mutex

	lastMu sync.Mutex
	last   *domain.Settlement
}

var _ domain.TransferListener = (*Engine)(nil)

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	var missing []string
	if cfg.Account == "" {
		missing = append(missing, "account")
	}
	if cfg.FeeRecipient == "" {
		missing = append(missing, "fee recipient")
	}
	if cfg.Finder == nil {
		missing = append(missing, "route finder")
	}
	if cfg.Venues == nil {
		missing = append(missing, "venues")
	}
	if cfg.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if cfg.Lender == nil {
		missing = append(missing, "lender")
	}
	if cfg.Plans == nil {
		missing = append(missing, "plan store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("settlement: missing %v", missing)
	}
	if cfg.FeeRecipient == cfg.Account {
		return nil, fmt.Errorf("settlement: fee recipient must differ from engine account %q", cfg.Account)
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		account:      cfg.Account,
		feeRecipient: cfg.FeeRecipient,
		finder:       cfg.Finder,
		venues:       cfg.Venues,
		ledger:       cfg.Ledger,
		lender:       cfg.Lender,
		plans:        cfg.Plans,
		locks:        cfg.Locks,
		lockTTL:      ttl,
		recorder:     cfg.Recorder,
		logger:       logger.With(slog.String("component", "settlement_engine")),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Account returns the engine's ledger account.
func (e *Engine) Account() string { return e.account }

// drivenKey marks a context whose loan callback is awaited by Execute or
// Request, which then record the result themselves.
type drivenKey struct{}

func driven(ctx context.Context) bool {
	v, _ := ctx.Value(drivenKey{}).(bool)
	return v
}

// lock takes the distributed settlement lock when one is configured.
func (e *Engine) lock(ctx context.Context) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	unlock, err := e.locks.Acquire(ctx, LockKey, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("settlement: acquire lock: %w", err)
	}
	return unlock, nil
}

// Request is the first phase on its own. It validates req, selects a route,
// overwrites the settlement plan and borrows the stake. Nothing is persisted
// when route selection fails; if the borrow fails the previous plan is
// restored and the returned plan only identifies the aborted operation.
// When the issuer lends synchronously the completed settlement is recorded
// before Request returns; a loan arriving later is recorded by OnTransfer.
func (e *Engine) Request(ctx context.Context, req domain.SettlementRequest) (domain.SettlementPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := e.lock(ctx)
	if err != nil {
		return domain.SettlementPlan{}, err
	}
	defer unlock()

	plan, err := e.request(context.WithValue(ctx, drivenKey{}, true), req)
	if err != nil {
		return plan, err
	}
	if result, ok := e.takeLast(plan.OperationID); ok {
		e.record(ctx, result)
	}
	return plan, nil
}

func (e *Engine) request(ctx context.Context, req domain.SettlementRequest) (domain.SettlementPlan, error) {
	if err := validateRequest(req); err != nil {
		return domain.SettlementPlan{}, err
	}

	route, err := e.finder.FindRoute(ctx, req.Stake)
	if err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("settlement: request %s: %w", req.Stake, err)
	}
	if req.MinReturn != (domain.Asset{}) && route.Buy.Output.Quantity.Amount < req.MinReturn.Amount {
		return domain.SettlementPlan{}, fmt.Errorf("settlement: request %s: %w: route returns %s, minimum %s",
			req.Stake, domain.ErrInsufficientReturn, route.Buy.Output.Quantity, req.MinReturn)
	}

	plan := domain.PlanFromRoute(uuid.NewString(), route, e.now())
	log := e.logger.With(slog.String("operation_id", plan.OperationID))
	log.InfoContext(ctx, "settlement requested",
		slog.String("stake", plan.Stake.String()),
		slog.String("sell_venue", plan.SellVenue),
		slog.String("buy_venue", plan.BuyVenue),
		slog.String("target", plan.Target.String()),
		slog.String("expected_intermediate", plan.ExpectedIntermediate.String()),
		slog.String("expected_profit", plan.ExpectedProfit.String()),
	)

	err = saga.Nested(ctx, "settlement request", func(ctx context.Context) error {
		if err := e.writePlan(ctx, plan); err != nil {
			return err
		}
		return e.lender.Borrow(ctx, domain.LoanRequest{
			Requester: e.account,
			Quantity:  plan.Stake,
			Memo:      "flash loan " + plan.OperationID,
		})
	})
	if err != nil {
		return plan, fmt.Errorf("settlement: request %s: %w", plan.OperationID, err)
	}
	return plan, nil
}

func validateRequest(req domain.SettlementRequest) error {
	stake := req.Stake
	if !stake.Quantity.Symbol.IsValid() || stake.Contract == "" {
		return fmt.Errorf("settlement: %w: stake %s has no valid token identity", domain.ErrInput, stake)
	}
	if !stake.Quantity.IsPositive() {
		return fmt.Errorf("settlement: %w: stake %s must be positive", domain.ErrInput, stake)
	}
	if req.MinReturn == (domain.Asset{}) {
		return nil
	}
	if req.MinReturn.Symbol != stake.Quantity.Symbol {
		return fmt.Errorf("settlement: %w: minimum return %s is not in %s", domain.ErrInput, req.MinReturn, stake.Quantity.Symbol)
	}
	if req.MinReturn.Amount < 0 {
		return fmt.Errorf("settlement: %w: minimum return %s is negative", domain.ErrInput, req.MinReturn)
	}
	return nil
}

// OnTransfer is the second phase, invoked by the ledger for every transfer
// the engine account receives. Only the loan from the issuer is acted on.
func (e *Engine) OnTransfer(ctx context.Context, t domain.Transfer) error {
	if t.To != e.account || t.From != e.lender.Account() {
		return nil
	}

	plan, err := e.plans.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("settlement: %w: no plan for %s", domain.ErrLoanMismatch, t.Quantity)
	}
	if err != nil {
		return fmt.Errorf("settlement: load plan: %w", err)
	}
	if t.Quantity != plan.Stake {
		return fmt.Errorf("settlement: %w: received %s, plan %s expects %s",
			domain.ErrLoanMismatch, t.Quantity, plan.OperationID, plan.Stake)
	}

	log := e.logger.With(slog.String("operation_id", plan.OperationID))
	started := e.now()

	leg1, err := e.swapLeg(ctx, plan.SellVenue, plan.SellPairID, plan.Stake, plan.Target)
	if err != nil {
		return fmt.Errorf("settlement: leg 1 via %s: %w", plan.SellVenue, err)
	}
	leg1.Expected = plan.ExpectedIntermediate

	leg2, err := e.swapLeg(ctx, plan.BuyVenue, plan.BuyPairID, leg1.Output, plan.Stake.ExtendedSymbol())
	if err != nil {
		return fmt.Errorf("settlement: leg 2 via %s: %w", plan.BuyVenue, err)
	}
	leg2.Expected, _ = plan.Stake.Quantity.Add(plan.ExpectedProfit)

	profit, err := leg2.Output.Quantity.Sub(plan.Stake.Quantity)
	if err != nil {
		return fmt.Errorf("settlement: profit: %w", err)
	}
	if !profit.IsPositive() {
		return fmt.Errorf("settlement: %w: returned %s for stake %s", domain.ErrZeroProfit, leg2.Output.Quantity, plan.Stake.Quantity)
	}

	if err := e.ledger.Transfer(ctx, domain.Transfer{
		From:     e.account,
		To:       e.lender.Account(),
		Quantity: plan.Stake,
		Memo:     "flash loan repayment " + plan.OperationID,
	}); err != nil {
		return fmt.Errorf("settlement: repay loan: %w", err)
	}
	if err := e.ledger.Transfer(ctx, domain.Transfer{
		From:     e.account,
		To:       e.feeRecipient,
		Quantity: domain.ExtendedAsset{Quantity: profit, Contract: plan.Stake.Contract},
		Memo:     "arbitrage profit " + plan.OperationID,
	}); err != nil {
		return fmt.Errorf("settlement: pay profit: %w", err)
	}
	if err := e.clearPlan(ctx, plan); err != nil {
		return err
	}

	result := domain.Settlement{
		ID:          plan.OperationID,
		Plan:        plan,
		Legs:        []domain.LegResult{leg1, leg2},
		Profit:      profit,
		Status:      domain.SettlementCompleted,
		StartedAt:   started,
		CompletedAt: e.now(),
	}
	if driven(ctx) {
		e.setLast(ctx, &result)
	} else {
		e.record(ctx, result)
	}

	log.InfoContext(ctx, "settlement completed",
		slog.String("intermediate", leg1.Output.Quantity.String()),
		slog.String("returned", leg2.Output.Quantity.String()),
		slog.String("profit", profit.String()),
	)
	return nil
}

// swapLeg sends input to pairID on the venue and measures the output as the
// change in the engine's balance of target. The venue must still list the
// pair chosen at routing time.
func (e *Engine) swapLeg(ctx context.Context, venueID string, pairID uint64, input domain.ExtendedAsset, target domain.ExtendedSymbol) (domain.LegResult, error) {
	venue, err := e.venues.Get(venueID)
	if err != nil {
		return domain.LegResult{}, err
	}
	l, err := venue.Lookup(ctx, input.ExtendedSymbol(), target.Symbol.Code)
	if err != nil {
		return domain.LegResult{}, err
	}
	if l.PairID != pairID || l.Target != target {
		return domain.LegResult{}, fmt.Errorf("%w: %s lists %s as pair %d, plan expects pair %d to %s",
			domain.ErrLegFailed, venueID, l.Target, l.PairID, pairID, target)
	}

	before, err := e.ledger.Balance(ctx, e.account, l.Target)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("balance before swap: %w", err)
	}
	if err := e.ledger.Transfer(ctx, venue.SwapTransfer(e.account, input, l)); err != nil {
		return domain.LegResult{}, err
	}
	after, err := e.ledger.Balance(ctx, e.account, l.Target)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("balance after swap: %w", err)
	}
	out, err := after.Sub(before)
	if err != nil {
		return domain.LegResult{}, err
	}
	if !out.IsPositive() {
		return domain.LegResult{}, fmt.Errorf("%w: %s for %s", domain.ErrLegFailed, out, input)
	}
	return domain.LegResult{
		Venue:  venueID,
		PairID: l.PairID,
		Input:  input,
		Output: domain.ExtendedAsset{Quantity: out, Contract: l.Target.Contract},
	}, nil
}

// writePlan overwrites the plan slot and registers restoring the previous
// content.
func (e *Engine) writePlan(ctx context.Context, plan domain.SettlementPlan) error {
	prev, err := e.plans.Get(ctx)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("settlement: read plan: %w", err)
	}
	if hadPrev {
		e.logger.WarnContext(ctx, "overwriting pending settlement plan",
			slog.String("operation_id", plan.OperationID),
			slog.String("previous_operation_id", prev.OperationID),
			slog.Duration("previous_age", e.now().Sub(prev.CreatedAt)),
		)
	}
	if err := e.plans.Set(ctx, plan); err != nil {
		return fmt.Errorf("settlement: write plan: %w", err)
	}
	saga.Compensate(ctx, "plan write", func(ctx context.Context) error {
		if hadPrev {
			return e.plans.Set(ctx, prev)
		}
		return e.plans.Clear(ctx)
	})
	return nil
}

func (e *Engine) clearPlan(ctx context.Context, plan domain.SettlementPlan) error {
	if err := e.plans.Clear(ctx); err != nil {
		return fmt.Errorf("settlement: clear plan: %w", err)
	}
	saga.Compensate(ctx, "plan clear", func(ctx context.Context) error {
		return e.plans.Set(ctx, plan)
	})
	return nil
}

func (e *Engine) setLast(ctx context.Context, s *domain.Settlement) {
	e.lastMu.Lock()
	prev := e.last
	e.last = s
	e.lastMu.Unlock()
	saga.Compensate(ctx, "settlement result", func(context.Context) error {
		e.lastMu.Lock()
		e.last = prev
		e.lastMu.Unlock()
		return nil
	})
}

func (e *Engine) takeLast(operationID string) (domain.Settlement, bool) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	if e.last == nil || e.last.ID != operationID {
		return domain.Settlement{}, false
	}
	s := *e.last
	e.last = nil
	return s, true
}

// Execute runs one complete operation: request, loan, completion. Either the
// whole operation takes effect or, on any error, every ledger movement, pool
// change and plan write it caused is undone.
func (e *Engine) Execute(ctx context.Context, req domain.SettlementRequest) (domain.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := e.lock(ctx)
	if err != nil {
		return domain.Settlement{}, err
	}
	defer unlock()

	started := e.now()
	s := saga.New()
	plan, err := e.request(saga.WithContext(context.WithValue(ctx, drivenKey{}, true), s), req)

	var result domain.Settlement
	if err == nil {
		var ok bool
		result, ok = e.takeLast(plan.OperationID)
		if !ok {
			err = fmt.Errorf("settlement: %s: %w: loan never arrived", plan.OperationID, domain.ErrIncomplete)
		}
	}

	if err != nil {
		if uerr := s.Unwind(context.WithoutCancel(ctx)); uerr != nil {
			e.logger.ErrorContext(ctx, "settlement unwind failed",
				slog.String("operation_id", plan.OperationID),
				slog.String("error", uerr.Error()),
			)
			err = errors.Join(err, uerr)
		}
		e.logger.WarnContext(ctx, "settlement aborted",
			slog.String("stake", req.Stake.String()),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrInput) {
			return domain.Settlement{}, err
		}
		e.record(ctx, domain.Settlement{
			ID:          failedID(plan),
			Plan:        plan,
			Profit:      domain.Asset{Symbol: req.Stake.Quantity.Symbol},
			Status:      domain.SettlementFailed,
			Error:       err.Error(),
			StartedAt:   started,
			CompletedAt: e.now(),
		})
		return domain.Settlement{}, err
	}

	s.Commit()
	result.StartedAt = started
	e.record(ctx, result)
	return result, nil
}

func failedID(plan domain.SettlementPlan) string {
	if plan.OperationID != "" {
		return plan.OperationID
	}
	return uuid.NewString()
}

func (e *Engine) record(ctx context.Context, s domain.Settlement) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(context.WithoutCancel(ctx), s); err != nil {
		e.logger.WarnContext(ctx, "record settlement failed",
			slog.String("operation_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Plan returns the pending settlement plan, or domain.ErrNotFound.
func (e *Engine) Plan(ctx context.Context) (domain.SettlementPlan, error) {
	return e.plans.Get(ctx)
}

// ClearPlan discards a pending plan whose loan never arrived.
func (e *Engine) ClearPlan(ctx context.Context) (domain.SettlementPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan, err := e.plans.Get(ctx)
	if err != nil {
		return domain.SettlementPlan{}, err
	}
	if err := e.plans.Clear(ctx); err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("settlement: clear plan: %w", err)
	}
	e.logger.WarnContext(ctx, "pending settlement plan cleared",
		slog.String("operation_id", plan.OperationID),
		slog.Duration("age", e.now().Sub(plan.CreatedAt)),
	)
	return plan, nil
}
