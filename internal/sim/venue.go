// Package sim provides in-process stand-ins for the on-ledger collaborators
// of the settlement engine: AMM venues that swap on memo-tagged transfers and
// a flash-loan issuer. Together with ledger.Memory they make the engine
// runnable end to end without a chain.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/ammarb/internal/amm"
	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
	"github.com/alanyoungcy/ammarb/internal/saga"
)

// PoolSpec seeds one simulated pool.
type PoolSpec struct {
	PairID   uint64
	Reserve0 domain.ExtendedAsset
	Reserve1 domain.ExtendedAsset
	FeeBps   uint32
}

type pool struct {
	id     uint64
	token0 domain.ExtendedSymbol
	token1 domain.ExtendedSymbol
	state  amm.Pool
}

// Venue is a simulated AMM contract. It serves reserves to the venue adapter
// and swaps tokens sent to its account with a recognised memo.
type Venue struct {
	id      string
	account string
	ledger  domain.Ledger
	logger  *slog.Logger

	mu    sync.RWMutex
	pools map[uint64]*pool
}

var (
	_ exchange.ReserveSource  = (*Venue)(nil)
	_ domain.TransferListener = (*Venue)(nil)
)

// NewVenue creates the simulated contract for venue id.
func NewVenue(id string, ledger domain.Ledger, logger *slog.Logger) (*Venue, error) {
	v, err := exchange.LookupVenue(id)
	if err != nil {
		return nil, err
	}
	return &Venue{
		id:      id,
		account: v.Contract,
		ledger:  ledger,
		logger:  logger.With(slog.String("component", "sim_venue"), slog.String("venue", id)),
		pools:   make(map[uint64]*pool),
	}, nil
}

// Account returns the contract account that receives swaps.
func (v *Venue) Account() string { return v.account }

// AddPool registers a pool. The caller is responsible for funding the venue
// account with both reserves on the ledger.
func (v *Venue) AddPool(spec PoolSpec) error {
	if spec.Reserve0.ExtendedSymbol() == spec.Reserve1.ExtendedSymbol() {
		return fmt.Errorf("sim %s: %w: pool %d pairs a token with itself", v.id, domain.ErrInput, spec.PairID)
	}
	if !spec.Reserve0.Quantity.IsPositive() || !spec.Reserve1.Quantity.IsPositive() {
		return fmt.Errorf("sim %s: %w: pool %d reserves must be positive", v.id, domain.ErrInput, spec.PairID)
	}
	if spec.FeeBps >= amm.FeeDenominator {
		return fmt.Errorf("sim %s: %w: pool %d fee %d", v.id, domain.ErrInput, spec.PairID, spec.FeeBps)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pools[spec.PairID] = &pool{
		id:     spec.PairID,
		token0: spec.Reserve0.ExtendedSymbol(),
		token1: spec.Reserve1.ExtendedSymbol(),
		state: amm.Pool{
			Reserve0: spec.Reserve0.Quantity.Amount,
			Reserve1: spec.Reserve1.Quantity.Amount,
			FeeBps:   spec.FeeBps,
		},
	}
	return nil
}

// Pairs returns the registry rows for every pool, ordered by id.
func (v *Venue) Pairs() []domain.Pair {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Pair, 0, len(v.pools))
	for _, p := range v.pools {
		out = append(out, domain.Pair{Venue: v.id, ID: p.id, Token0: p.token0, Token1: p.token1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *Venue) Reserves(_ context.Context, pairID uint64, input domain.ExtendedSymbol) (int64, int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.pools[pairID]
	if !ok {
		return 0, 0, fmt.Errorf("sim %s: pool %d: %w", v.id, pairID, domain.ErrNotFound)
	}
	switch input {
	case p.token0:
		return p.state.Reserve0, p.state.Reserve1, nil
	case p.token1:
		return p.state.Reserve1, p.state.Reserve0, nil
	}
	return 0, 0, fmt.Errorf("sim %s: %w: %s not in pool %d", v.id, domain.ErrUnsupportedPair, input, pairID)
}

func (v *Venue) FeeBps(_ context.Context, pairID uint64) (uint32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.pools[pairID]
	if !ok {
		return 0, fmt.Errorf("sim %s: pool %d: %w", v.id, pairID, domain.ErrNotFound)
	}
	return p.state.FeeBps, nil
}

// OnTransfer executes a swap for tokens received with a swap memo and sends
// the output back to the sender. Transfers the venue sends itself, and
// transfers without a swap memo (liquidity top-ups), are accepted silently.
func (v *Venue) OnTransfer(ctx context.Context, t domain.Transfer) error {
	if t.To != v.account || t.From == v.account {
		return nil
	}
	route, ok := parseMemo(t.Memo)
	if !ok {
		return nil
	}

	v.mu.Lock()
	p, zeroForOne, err := v.findPool(route, t.Quantity.ExtendedSymbol())
	if err != nil {
		v.mu.Unlock()
		return err
	}
	before := p.state
	out, next, err := before.Swap(t.Quantity.Quantity.Amount, zeroForOne)
	if err != nil {
		v.mu.Unlock()
		return fmt.Errorf("sim %s: swap: %w", v.id, err)
	}
	if out < route.minOut {
		v.mu.Unlock()
		return fmt.Errorf("sim %s: output %d below minimum %d", v.id, out, route.minOut)
	}
	p.state = next
	v.mu.Unlock()

	saga.Compensate(ctx, "pool "+strconv.FormatUint(p.id, 10), func(context.Context) error {
		v.mu.Lock()
		defer v.mu.Unlock()
		p.state = before
		return nil
	})

	target := p.token1
	if !zeroForOne {
		target = p.token0
	}
	v.logger.DebugContext(ctx, "swap",
		slog.Uint64("pair_id", p.id),
		slog.String("in", t.Quantity.String()),
		slog.Int64("out", out),
		slog.String("target", target.String()),
	)
	if out == 0 {
		return nil
	}
	return v.ledger.Transfer(ctx, domain.Transfer{
		From: v.account,
		To:   t.From,
		Quantity: domain.ExtendedAsset{
			Quantity: domain.Asset{Amount: out, Symbol: target.Symbol},
			Contract: target.Contract,
		},
		Memo: "swap output",
	})
}

// findPool must be called with mu held.
func (v *Venue) findPool(r swapRoute, input domain.ExtendedSymbol) (*pool, bool, error) {
	if r.byPair {
		p, ok := v.pools[r.pairID]
		if !ok {
			return nil, false, fmt.Errorf("sim %s: pool %d: %w", v.id, r.pairID, domain.ErrNotFound)
		}
		switch input {
		case p.token0:
			return p, true, nil
		case p.token1:
			return p, false, nil
		}
		return nil, false, fmt.Errorf("sim %s: %w: %s not in pool %d", v.id, domain.ErrUnsupportedPair, input, r.pairID)
	}
	ids := make([]uint64, 0, len(v.pools))
	for id := range v.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := v.pools[id]
		if p.token0 == input && p.token1.Symbol.Code == r.targetCode {
			return p, true, nil
		}
		if p.token1 == input && p.token0.Symbol.Code == r.targetCode {
			return p, false, nil
		}
	}
	return nil, false, fmt.Errorf("sim %s: %w: %s -> %s", v.id, domain.ErrUnsupportedPair, input, r.targetCode)
}

type swapRoute struct {
	byPair     bool
	pairID     uint64
	targetCode string
	minOut     int64
}

// parseMemo understands "swap,<min>,<pair>", "swap:<pair>:<min>" and a bare
// target token code.
func parseMemo(memo string) (swapRoute, bool) {
	switch {
	case strings.HasPrefix(memo, "swap,"):
		parts := strings.Split(memo, ",")
		if len(parts) != 3 {
			return swapRoute{}, false
		}
		return pairRoute(parts[2], parts[1])
	case strings.HasPrefix(memo, "swap:"):
		parts := strings.Split(memo, ":")
		if len(parts) != 3 {
			return swapRoute{}, false
		}
		return pairRoute(parts[1], parts[2])
	}
	if (domain.Symbol{Code: memo}).IsValid() {
		return swapRoute{targetCode: memo}, true
	}
	return swapRoute{}, false
}

func pairRoute(pair, minOut string) (swapRoute, bool) {
	id, err := strconv.ParseUint(pair, 10, 64)
	if err != nil {
		return swapRoute{}, false
	}
	m, err := strconv.ParseInt(minOut, 10, 64)
	if err != nil || m < 0 {
		return swapRoute{}, false
	}
	return swapRoute{byPair: true, pairID: id, minOut: m}, true
}
