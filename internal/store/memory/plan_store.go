// Package memory provides process-local implementations of the store
// interfaces for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// PlanStore holds the settlement plan in memory.
type PlanStore struct {
	mu   sync.RWMutex
	plan *domain.SettlementPlan
}

var _ domain.PlanStore = (*PlanStore)(nil)

// NewPlanStore returns an empty plan slot.
func NewPlanStore() *PlanStore { return &PlanStore{} }

func (s *PlanStore) Get(_ context.Context) (domain.SettlementPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plan == nil {
		return domain.SettlementPlan{}, domain.ErrNotFound
	}
	return *s.plan, nil
}

func (s *PlanStore) Set(_ context.Context, plan domain.SettlementPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = &plan
	return nil
}

func (s *PlanStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = nil
	return nil
}
