package domain

import "time"

// SettlementStatus is the final state of a settlement attempt.
type SettlementStatus string

const (
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
)

// LegResult is the realized outcome of one swap.
type LegResult struct {
	Venue    string        `json:"venue"`
	PairID   uint64        `json:"pair_id"`
	Input    ExtendedAsset `json:"input"`
	Output   ExtendedAsset `json:"output"`
	Expected Asset         `json:"expected"`
}

// Settlement records one arbitrage operation from loan request to repayment.
type Settlement struct {
	ID          string           `json:"id"`
	Plan        SettlementPlan   `json:"plan"`
	Legs        []LegResult      `json:"legs"`
	Profit      Asset            `json:"profit"`
	Status      SettlementStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}
