package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
)

// Selector picks the best two-venue round trip from a QuoteBook.
type Selector struct {
	venues *exchange.Dispatcher
	logger *slog.Logger
}

// NewSelector creates a selector that prices buy-back legs on venues.
func NewSelector(venues *exchange.Dispatcher, logger *slog.Logger) *Selector {
	return &Selector{
		venues: venues,
		logger: logger.With(slog.String("component", "route_selector")),
	}
}

// Select returns the route with the largest gain. For each eligible target
// the highest quote is the sell leg; the buy leg is whichever other quoting
// venue returns the most base for the sell output. Ties keep the first
// candidate seen. Returns domain.ErrNoProfitableRoute when no route gains.
func (s *Selector) Select(ctx context.Context, book domain.QuoteBook) (domain.Route, error) {
	var (
		best  domain.Route
		found bool
	)
	for _, tq := range book.Targets {
		if !tq.Eligible {
			continue
		}
		sell := tq.Quotes[0]
		buy, ok, err := s.bestBuyBack(ctx, book.Base, sell, tq.Quotes[1:])
		if err != nil {
			return domain.Route{}, err
		}
		if !ok {
			continue
		}
		gain, err := buy.Output.Quantity.Sub(book.Base.Quantity)
		if err != nil {
			return domain.Route{}, fmt.Errorf("select: %w", err)
		}
		s.logger.DebugContext(ctx, "candidate route",
			slog.String("target", tq.Target.String()),
			slog.String("sell", sell.Venue),
			slog.String("buy", buy.Venue),
			slog.String("gain", gain.String()),
		)
		if !found || gain.Amount > best.Gain.Amount {
			best = domain.Route{Stake: book.Base, Sell: sell, Buy: buy, Gain: gain}
			found = true
		}
	}
	if !found || best.Gain.Amount <= 0 {
		return domain.Route{}, fmt.Errorf("select %s: %w", book.Base, domain.ErrNoProfitableRoute)
	}
	return best, nil
}

// bestBuyBack quotes the reverse leg on each candidate, cheapest sell price
// first, and keeps the first one returning the most base.
func (s *Selector) bestBuyBack(ctx context.Context, base domain.ExtendedAsset, sell domain.Quote, others []domain.Quote) (domain.Quote, bool, error) {
	var (
		best  domain.Quote
		found bool
	)
	for i := len(others) - 1; i >= 0; i-- {
		cand := others[i]
		if cand.Venue == sell.Venue {
			continue
		}
		venue, err := s.venues.Get(cand.Venue)
		if err != nil {
			return domain.Quote{}, false, fmt.Errorf("select: %w", err)
		}
		back, err := venue.Quote(ctx, sell.Output, base.Quantity.Symbol.Code)
		if errors.Is(err, domain.ErrUnsupportedPair) {
			continue
		}
		if err != nil {
			return domain.Quote{}, false, fmt.Errorf("select: buy-back on %s: %w", cand.Venue, err)
		}
		if back.Output.ExtendedSymbol() != base.ExtendedSymbol() {
			continue
		}
		if !found || back.Output.Quantity.Amount > best.Output.Quantity.Amount {
			best = back
			found = true
		}
	}
	return best, found, nil
}

// Finder runs aggregation and selection for one stake.
type Finder struct {
	aggregator *Aggregator
	selector   *Selector
}

// NewFinder combines an aggregator and a selector.
func NewFinder(aggregator *Aggregator, selector *Selector) *Finder {
	return &Finder{aggregator: aggregator, selector: selector}
}

// Quotes returns the quote book for stake.
func (f *Finder) Quotes(ctx context.Context, stake domain.ExtendedAsset) (domain.QuoteBook, error) {
	return f.aggregator.Aggregate(ctx, stake)
}

// Select picks the best route from an existing quote book.
func (f *Finder) Select(ctx context.Context, book domain.QuoteBook) (domain.Route, error) {
	return f.selector.Select(ctx, book)
}

// FindRoute returns the best route for stake.
func (f *Finder) FindRoute(ctx context.Context, stake domain.ExtendedAsset) (domain.Route, error) {
	book, err := f.aggregator.Aggregate(ctx, stake)
	if err != nil {
		return domain.Route{}, err
	}
	return f.selector.Select(ctx, book)
}
