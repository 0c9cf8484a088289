package exchange

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/ammarb/internal/amm"
	"github.com/alanyoungcy/ammarb/internal/domain"
)

// ReserveSource reads live pool state for one venue.
type ReserveSource interface {
	// Reserves returns the pool balances of pairID oriented so that
	// reserveIn is the balance of input.
	Reserves(ctx context.Context, pairID uint64, input domain.ExtendedSymbol) (reserveIn, reserveOut int64, err error)
	FeeBps(ctx context.Context, pairID uint64) (uint32, error)
}

// Adapter quotes swaps on one venue and builds the transfers that execute
// them.
type Adapter interface {
	ID() string
	Contract() string
	// Listings returns every pair on this venue that accepts input.
	Listings(ctx context.Context, input domain.ExtendedSymbol) ([]domain.Listing, error)
	// Lookup returns the listing that swaps input into targetCode.
	Lookup(ctx context.Context, input domain.ExtendedSymbol, targetCode string) (domain.Listing, error)
	// Quote prices swapping input into targetCode. It fails with
	// domain.ErrUnsupportedPair when the venue does not list the pair.
	Quote(ctx context.Context, input domain.ExtendedAsset, targetCode string) (domain.Quote, error)
	// SwapTransfer returns the transfer from account that swaps input on l.
	SwapTransfer(from string, input domain.ExtendedAsset, l domain.Listing) domain.Transfer
}

// ConstantProduct is an Adapter for any x*y=k venue in the dispatch table.
type ConstantProduct struct {
	venue    Venue
	registry domain.PairRegistry
	reserves ReserveSource
}

var _ Adapter = (*ConstantProduct)(nil)

// New returns the adapter for venue id, or domain.ErrUnsupportedExchange.
func New(id string, registry domain.PairRegistry, reserves ReserveSource) (*ConstantProduct, error) {
	v, err := LookupVenue(id)
	if err != nil {
		return nil, err
	}
	return &ConstantProduct{venue: v, registry: registry, reserves: reserves}, nil
}

func (c *ConstantProduct) ID() string       { return c.venue.ID }
func (c *ConstantProduct) Contract() string { return c.venue.Contract }

func (c *ConstantProduct) Listings(ctx context.Context, input domain.ExtendedSymbol) ([]domain.Listing, error) {
	return c.registry.Listings(ctx, c.venue.ID, input)
}

func (c *ConstantProduct) Quote(ctx context.Context, input domain.ExtendedAsset, targetCode string) (domain.Quote, error) {
	l, err := c.Lookup(ctx, input.ExtendedSymbol(), targetCode)
	if err != nil {
		return domain.Quote{}, err
	}
	return c.quoteListing(ctx, input, l)
}

func (c *ConstantProduct) Lookup(ctx context.Context, input domain.ExtendedSymbol, targetCode string) (domain.Listing, error) {
	l, err := c.registry.Lookup(ctx, c.venue.ID, input, targetCode)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("exchange %s: %w", c.venue.ID, err)
	}
	return l, nil
}

func (c *ConstantProduct) quoteListing(ctx context.Context, input domain.ExtendedAsset, l domain.Listing) (domain.Quote, error) {
	rIn, rOut, err := c.reserves.Reserves(ctx, l.PairID, l.Input)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("exchange %s: reserves for pair %d: %w", c.venue.ID, l.PairID, err)
	}
	fee, err := c.reserves.FeeBps(ctx, l.PairID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("exchange %s: fee for pair %d: %w", c.venue.ID, l.PairID, err)
	}
	out, err := amm.AmountOut(input.Quantity.Amount, rIn, rOut, fee)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("exchange %s: pair %d: %w", c.venue.ID, l.PairID, err)
	}
	return domain.Quote{
		Venue:  c.venue.ID,
		PairID: l.PairID,
		Input:  input,
		Output: domain.ExtendedAsset{
			Quantity: domain.Asset{Amount: out, Symbol: l.Target.Symbol},
			Contract: l.Target.Contract,
		},
		FeeBps: fee,
	}, nil
}

func (c *ConstantProduct) SwapTransfer(from string, input domain.ExtendedAsset, l domain.Listing) domain.Transfer {
	return domain.Transfer{
		From:     from,
		To:       c.venue.Contract,
		Quantity: input,
		Memo:     c.venue.Memo(l),
	}
}
