package exchange

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// StaticRegistry is a PairRegistry over a fixed set of pairs, typically
// loaded from configuration.
type StaticRegistry struct {
	pairs map[string][]domain.Pair
}

var _ domain.PairRegistry = (*StaticRegistry)(nil)

// NewStaticRegistry indexes pairs by venue, ordered by pair id.
func NewStaticRegistry(pairs []domain.Pair) *StaticRegistry {
	r := &StaticRegistry{pairs: make(map[string][]domain.Pair)}
	for _, p := range pairs {
		r.pairs[p.Venue] = append(r.pairs[p.Venue], p)
	}
	for _, ps := range r.pairs {
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	}
	return r
}

func (r *StaticRegistry) Listings(_ context.Context, venue string, input domain.ExtendedSymbol) ([]domain.Listing, error) {
	var out []domain.Listing
	for _, p := range r.pairs[venue] {
		if l, ok := p.ListingFor(input); ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *StaticRegistry) Lookup(ctx context.Context, venue string, input domain.ExtendedSymbol, targetCode string) (domain.Listing, error) {
	ls, err := r.Listings(ctx, venue, input)
	if err != nil {
		return domain.Listing{}, err
	}
	for _, l := range ls {
		if l.Target.Symbol.Code == targetCode {
			return l, nil
		}
	}
	return domain.Listing{}, fmt.Errorf("%w: %s -> %s on %s", domain.ErrUnsupportedPair, input, targetCode, venue)
}
