package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/store/sqlite"
)

var (
	eos = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "EOS", Precision: 4}, Contract: "eosio.token"}
	box = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "BOX", Precision: 6}, Contract: "token.defi"}
)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "ammarb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func settlement(id string, at time.Time, status domain.SettlementStatus, profit int64) domain.Settlement {
	stake := domain.ExtendedAsset{Quantity: domain.Asset{Amount: 100000, Symbol: eos.Symbol}, Contract: eos.Contract}
	return domain.Settlement{
		ID: id,
		Plan: domain.SettlementPlan{
			OperationID: id,
			Stake:       stake,
			SellVenue:   "defibox",
			SellPairID:  194,
			BuyVenue:    "dfs",
			BuyPairID:   3,
			Target:      box,
		},
		Legs: []domain.LegResult{
			{Venue: "defibox", PairID: 194, Input: stake,
				Output: domain.ExtendedAsset{Quantity: domain.Asset{Amount: 19743160, Symbol: box.Symbol}, Contract: box.Contract}},
		},
		Profit:      domain.Asset{Amount: profit, Symbol: eos.Symbol},
		Status:      status,
		StartedAt:   at,
		CompletedAt: at.Add(time.Second),
	}
}

func TestPlanStore(t *testing.T) {
	ctx := context.Background()
	s := sqlite.NewPlanStore(openDB(t))

	_, err := s.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Set(ctx, domain.SettlementPlan{OperationID: "a", CreatedAt: created}))
	require.NoError(t, s.Set(ctx, domain.SettlementPlan{OperationID: "b", Target: box, CreatedAt: created}))
	p, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", p.OperationID)
	assert.Equal(t, box, p.Target)
	assert.True(t, created.Equal(p.CreatedAt))

	require.NoError(t, s.Clear(ctx))
	_, err = s.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementStore(t *testing.T) {
	ctx := context.Background()
	s := sqlite.NewSettlementStore(openDB(t))
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, settlement("old", t0, domain.SettlementCompleted, 1000)))
	require.NoError(t, s.Create(ctx, settlement("failed", t0.Add(time.Minute), domain.SettlementFailed, 0)))
	require.NoError(t, s.Create(ctx, settlement("new", t0.Add(2*time.Minute), domain.SettlementCompleted, 1928)))
	assert.Error(t, s.Create(ctx, settlement("new", t0, domain.SettlementCompleted, 1)), "duplicate id")

	got, err := s.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCompleted, got.Status)
	assert.Equal(t, "0.1928 EOS", got.Profit.String())
	require.Len(t, got.Legs, 1)
	assert.Equal(t, int64(19743160), got.Legs[0].Output.Quantity.Amount)
	assert.Equal(t, "dfs", got.Plan.BuyVenue)
	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "failed", list[1].ID)

	list, err = s.List(ctx, domain.ListOpts{Offset: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ID)

	until := t0.Add(time.Minute)
	list, err = s.List(ctx, domain.ListOpts{Until: &until})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ID)

	sum, err := s.SumProfit(ctx, eos, t0)
	require.NoError(t, err)
	assert.Equal(t, "0.2928 EOS", sum.String())
	sum, err = s.SumProfit(ctx, eos, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1928), sum.Amount)
	sum, err = s.SumProfit(ctx, domain.ExtendedSymbol{Symbol: eos.Symbol, Contract: "fake.token"}, t0)
	require.NoError(t, err)
	assert.Zero(t, sum.Amount)

	before, err := s.ListBefore(ctx, t0.Add(2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, "old", before[0].ID, "oldest first")

	n, err := s.DeleteBefore(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	list, err = s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	s := sqlite.NewAuditStore(openDB(t))
	require.NoError(t, s.Log(ctx, "settlement_completed", map[string]any{"id": "a"}))
	require.NoError(t, s.Log(ctx, "settlement_failed", map[string]any{"id": "b"}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "settlement_failed", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, "b", entries[0].Detail["id"])

	entries, err = s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOpen_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ammarb.db")

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, sqlite.NewPlanStore(db).Set(ctx, domain.SettlementPlan{OperationID: "in-flight"}))
	require.NoError(t, db.Close())

	db, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping(ctx))
	p, err := sqlite.NewPlanStore(db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "in-flight", p.OperationID)
}
