package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// PlanStore keeps the settlement plan in a single-row table so a restarted
// process sees the plan of a loan still in flight.
type PlanStore struct {
	pool *pgxpool.Pool
}

var _ domain.PlanStore = (*PlanStore)(nil)

func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

func (s *PlanStore) Get(ctx context.Context) (domain.SettlementPlan, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT plan FROM settlement_plan WHERE slot = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementPlan{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("postgres: get settlement plan: %w", err)
	}
	var plan domain.SettlementPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("postgres: decode settlement plan: %w", err)
	}
	return plan, nil
}

func (s *PlanStore) Set(ctx context.Context, plan domain.SettlementPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("postgres: encode settlement plan: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settlement_plan (slot, plan, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (slot) DO UPDATE SET plan = EXCLUDED.plan, updated_at = EXCLUDED.updated_at`, raw)
	if err != nil {
		return fmt.Errorf("postgres: set settlement plan %s: %w", plan.OperationID, err)
	}
	return nil
}

func (s *PlanStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM settlement_plan WHERE slot = 1`); err != nil {
		return fmt.Errorf("postgres: clear settlement plan: %w", err)
	}
	return nil
}
