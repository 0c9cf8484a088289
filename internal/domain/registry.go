package domain

import "context"

// Pair is one liquidity pool listed on a venue.
type Pair struct {
	Venue  string         `json:"venue"`
	ID     uint64         `json:"id"`
	Token0 ExtendedSymbol `json:"token0"`
	Token1 ExtendedSymbol `json:"token1"`
}

// Listing is a Pair viewed from one side: swapping Input yields Target.
type Listing struct {
	Venue  string         `json:"venue"`
	PairID uint64         `json:"pair_id"`
	Input  ExtendedSymbol `json:"input"`
	Target ExtendedSymbol `json:"target"`
}

// ListingFor returns the listing that takes input, if the pair holds it.
func (p Pair) ListingFor(input ExtendedSymbol) (Listing, bool) {
	switch input {
	case p.Token0:
		return Listing{Venue: p.Venue, PairID: p.ID, Input: p.Token0, Target: p.Token1}, true
	case p.Token1:
		return Listing{Venue: p.Venue, PairID: p.ID, Input: p.Token1, Target: p.Token0}, true
	}
	return Listing{}, false
}

// PairRegistry answers which pairs a venue lists. Lookups are symmetric in
// the two tokens of a pair.
type PairRegistry interface {
	// Listings returns every listing on venue that accepts input, ordered by
	// pair id.
	Listings(ctx context.Context, venue string, input ExtendedSymbol) ([]Listing, error)
	// Lookup returns the listing on venue that swaps input into the token
	// with the given code, or ErrUnsupportedPair.
	Lookup(ctx context.Context, venue string, input ExtendedSymbol, targetCode string) (Listing, error)
}
