package domain

import (
	"context"
	"time"
)

// SettlementPlan is the route chosen when a loan is requested, kept until the
// loan arrives. At most one plan exists at any time.
type SettlementPlan struct {
	OperationID          string         `json:"operation_id"`
	Stake                ExtendedAsset  `json:"stake"`
	SellVenue            string         `json:"sell_venue"`
	SellPairID           uint64         `json:"sell_pair_id"`
	BuyVenue             string         `json:"buy_venue"`
	BuyPairID            uint64         `json:"buy_pair_id"`
	Target               ExtendedSymbol `json:"target"`
	ExpectedIntermediate Asset          `json:"expected_intermediate"`
	ExpectedProfit       Asset          `json:"expected_profit"`
	CreatedAt            time.Time      `json:"created_at"`
}

// PlanFromRoute builds the plan for executing r.
func PlanFromRoute(operationID string, r Route, now time.Time) SettlementPlan {
	return SettlementPlan{
		OperationID:          operationID,
		Stake:                r.Stake,
		SellVenue:            r.Sell.Venue,
		SellPairID:           r.Sell.PairID,
		BuyVenue:             r.Buy.Venue,
		BuyPairID:            r.Buy.PairID,
		Target:               r.Sell.Output.ExtendedSymbol(),
		ExpectedIntermediate: r.Sell.Output.Quantity,
		ExpectedProfit:       r.Gain,
		CreatedAt:            now,
	}
}

// PlanStore is the single settlement slot. Set overwrites any existing plan;
// Get returns ErrNotFound when the slot is empty.
type PlanStore interface {
	Get(ctx context.Context) (SettlementPlan, error)
	Set(ctx context.Context, plan SettlementPlan) error
	Clear(ctx context.Context) error
}
