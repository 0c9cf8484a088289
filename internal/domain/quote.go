package domain

// Quote is the output one venue would pay for a given input on one pair.
type Quote struct {
	Venue  string        `json:"venue"`
	PairID uint64        `json:"pair_id"`
	Input  ExtendedAsset `json:"input"`
	Output ExtendedAsset `json:"output"`
	FeeBps uint32        `json:"fee_bps"`
}

// Route is a two-leg round trip: sell the stake for an intermediate token on
// one venue and buy the stake token back on another.
type Route struct {
	Stake ExtendedAsset `json:"stake"`
	Sell  Quote         `json:"sell"`
	Buy   Quote         `json:"buy"`
	// Gain is Buy.Output minus Stake, in the stake symbol.
	Gain Asset `json:"gain"`
}

// TargetQuotes are the quotes for one intermediate token, best output first.
// Eligible is false when fewer than two distinct venues quoted the token.
type TargetQuotes struct {
	Target   ExtendedSymbol `json:"target"`
	Quotes   []Quote        `json:"quotes"`
	Eligible bool           `json:"eligible"`
}

// QuoteBook is every quote collected for one base amount, ordered by target
// code and then contract.
type QuoteBook struct {
	Base    ExtendedAsset  `json:"base"`
	Targets []TargetQuotes `json:"targets"`
}

// SettlementRequest asks for one arbitrage operation on Stake. A non-zero
// MinReturn is the smallest quoted amount of the stake token the route must
// bring back.
type SettlementRequest struct {
	Stake     ExtendedAsset `json:"stake"`
	MinReturn Asset         `json:"min_return,omitzero"`
}
