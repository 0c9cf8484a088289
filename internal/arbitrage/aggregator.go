// Package arbitrage collects venue quotes for a base amount and selects the
// most profitable sell-then-buy-back route across two venues.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
)

// Aggregator asks every enabled venue for a quote on every token it lists
// against the base.
type Aggregator struct {
	venues *exchange.Dispatcher
	logger *slog.Logger
}

// NewAggregator creates an aggregator over the given venues.
func NewAggregator(venues *exchange.Dispatcher, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		venues: venues,
		logger: logger.With(slog.String("component", "quote_aggregator")),
	}
}

// Aggregate quotes base on every venue. Venues that decline a pair are left
// out; any other venue error aborts the aggregation. Quotes per target are
// ordered by output, highest first, with equal outputs kept in venue order.
//
// Venues quote by target code, so each venue contributes at most one quote
// per code: when a venue lists the same code from two contracts, only the
// first listing (lowest pair id) is quoted.
func (a *Aggregator) Aggregate(ctx context.Context, base domain.ExtendedAsset) (domain.QuoteBook, error) {
	if !base.Quantity.IsPositive() {
		return domain.QuoteBook{}, fmt.Errorf("aggregate: %w: base %s must be positive", domain.ErrInput, base)
	}

	byTarget := make(map[domain.ExtendedSymbol]*domain.TargetQuotes)
	for _, venue := range a.venues.List() {
		listings, err := venue.Listings(ctx, base.ExtendedSymbol())
		if err != nil {
			return domain.QuoteBook{}, fmt.Errorf("aggregate: listings on %s: %w", venue.ID(), err)
		}

		seen := make(map[string]bool, len(listings))
		for _, l := range listings {
			code := l.Target.Symbol.Code
			if seen[code] {
				continue
			}
			seen[code] = true

			q, err := venue.Quote(ctx, base, code)
			if errors.Is(err, domain.ErrUnsupportedPair) {
				a.logger.DebugContext(ctx, "venue declined pair",
					slog.String("venue", venue.ID()),
					slog.String("target", code),
				)
				continue
			}
			if err != nil {
				return domain.QuoteBook{}, fmt.Errorf("aggregate: %w", err)
			}

			key := q.Output.ExtendedSymbol()
			tq, ok := byTarget[key]
			if !ok {
				tq = &domain.TargetQuotes{Target: key}
				byTarget[key] = tq
			}
			tq.Quotes = append(tq.Quotes, q)
		}
	}

	book := domain.QuoteBook{Base: base, Targets: make([]domain.TargetQuotes, 0, len(byTarget))}
	for _, tq := range byTarget {
		sort.SliceStable(tq.Quotes, func(i, j int) bool {
			return tq.Quotes[i].Output.Quantity.Amount > tq.Quotes[j].Output.Quantity.Amount
		})
		tq.Eligible = distinctVenues(tq.Quotes) >= 2
		book.Targets = append(book.Targets, *tq)
	}
	sort.Slice(book.Targets, func(i, j int) bool {
		ti, tj := book.Targets[i].Target, book.Targets[j].Target
		if ti.Symbol.Code != tj.Symbol.Code {
			return ti.Symbol.Code < tj.Symbol.Code
		}
		return ti.Contract < tj.Contract
	})
	return book, nil
}

func distinctVenues(qs []domain.Quote) int {
	seen := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		seen[q.Venue] = struct{}{}
	}
	return len(seen)
}
