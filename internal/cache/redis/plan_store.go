package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// PlanStore keeps the settlement plan as JSON under a single key.
type PlanStore struct {
	c *Client
}

var _ domain.PlanStore = (*PlanStore)(nil)

func NewPlanStore(c *Client) *PlanStore {
	return &PlanStore{c: c}
}

func (s *PlanStore) key() string { return s.c.Key("settlement", "plan") }

func (s *PlanStore) Get(ctx context.Context) (domain.SettlementPlan, error) {
	raw, err := s.c.rdb.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SettlementPlan{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("redis: get settlement plan: %w", err)
	}
	var plan domain.SettlementPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return domain.SettlementPlan{}, fmt.Errorf("redis: decode settlement plan: %w", err)
	}
	return plan, nil
}

func (s *PlanStore) Set(ctx context.Context, plan domain.SettlementPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("redis: encode settlement plan: %w", err)
	}
	if err := s.c.rdb.Set(ctx, s.key(), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: set settlement plan %s: %w", plan.OperationID, err)
	}
	return nil
}

func (s *PlanStore) Clear(ctx context.Context) error {
	if err := s.c.rdb.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("redis: clear settlement plan: %w", err)
	}
	return nil
}
