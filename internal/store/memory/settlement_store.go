package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// SettlementStore keeps settlement history in memory, newest first.
type SettlementStore struct {
	mu   sync.RWMutex
	rows []domain.Settlement
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

// NewSettlementStore returns an empty store.
func NewSettlementStore() *SettlementStore { return &SettlementStore{} }

func (s *SettlementStore) Create(_ context.Context, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == st.ID {
			return fmt.Errorf("memory: settlement %s: already exists", st.ID)
		}
	}
	s.rows = append(s.rows, st)
	sort.SliceStable(s.rows, func(i, j int) bool { return s.rows[i].StartedAt.After(s.rows[j].StartedAt) })
	return nil
}

func (s *SettlementStore) GetByID(_ context.Context, id string) (domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Settlement{}, domain.ErrNotFound
}

func (s *SettlementStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Settlement
	skipped := 0
	for _, r := range s.rows {
		if opts.Since != nil && r.StartedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !r.StartedAt.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *SettlementStore) SumProfit(_ context.Context, sym domain.ExtendedSymbol, since time.Time) (domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := domain.Asset{Symbol: sym.Symbol}
	for _, r := range s.rows {
		if r.Status != domain.SettlementCompleted || r.StartedAt.Before(since) {
			continue
		}
		if r.Plan.Stake.ExtendedSymbol() != sym {
			continue
		}
		var err error
		if total, err = total.Add(r.Profit); err != nil {
			return domain.Asset{}, err
		}
	}
	return total, nil
}

func (s *SettlementStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Settlement
	for i := len(s.rows) - 1; i >= 0; i-- {
		if !s.rows[i].StartedAt.Before(before) {
			continue
		}
		out = append(out, s.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *SettlementStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if r.StartedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}
