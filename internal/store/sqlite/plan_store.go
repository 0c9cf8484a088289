package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// PlanStore keeps the settlement plan in a single-row table.
type PlanStore struct {
	db *DB
}

var _ domain.PlanStore = (*PlanStore)(nil)

func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

func (s *PlanStore) Get(ctx context.Context) (domain.SettlementPlan, error) {
	var raw string
	err := s.db.db.QueryRowContext(ctx, `SELECT plan FROM settlement_plan WHERE slot = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SettlementPlan{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("sqlite: get settlement plan: %w", err)
	}
	var plan domain.SettlementPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("sqlite: decode settlement plan: %w", err)
	}
	return plan, nil
}

func (s *PlanStore) Set(ctx context.Context, plan domain.SettlementPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("sqlite: encode settlement plan: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO settlement_plan (slot, plan, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET plan = excluded.plan, updated_at = excluded.updated_at`,
		string(raw), s.db.now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: set settlement plan %s: %w", plan.OperationID, err)
	}
	return nil
}

func (s *PlanStore) Clear(ctx context.Context) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM settlement_plan WHERE slot = 1`); err != nil {
		return fmt.Errorf("sqlite: clear settlement plan: %w", err)
	}
	return nil
}
