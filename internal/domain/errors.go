package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInput reports a malformed request: non-positive stake, bad symbol,
	// negative minimum return.
	ErrInput = errors.New("invalid input")

	ErrSymbolMismatch = errors.New("symbol mismatch")
	ErrAssetOverflow  = errors.New("asset amount out of range")

	// ErrUnsupportedExchange is returned for a venue id outside the dispatch table.
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	// ErrUnsupportedPair is an adapter declining to quote a pair it does not list.
	ErrUnsupportedPair = errors.New("unsupported pair")

	ErrNoProfitableRoute  = errors.New("no profitable route")
	ErrInsufficientReturn = errors.New("quoted return below minimum")

	ErrLoanMismatch  = errors.New("received loan does not match settlement plan")
	ErrLegFailed     = errors.New("swap leg produced no output")
	ErrZeroProfit    = errors.New("settlement produced no profit")
	ErrLoanNotRepaid = errors.New("loan not repaid")
	ErrIncomplete    = errors.New("settlement did not complete")
	ErrOverdrawn     = errors.New("insufficient balance")
)
