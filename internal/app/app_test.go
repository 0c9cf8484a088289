package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/config"
	"github.com/alanyoungcy/ammarb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func wire(t *testing.T, cfg config.Config) *Dependencies {
	t.Helper()
	require.NoError(t, cfg.Validate())
	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return deps
}

func TestWire_DefaultsSettleAtAProfit(t *testing.T) {
	deps := wire(t, config.Defaults())
	ctx := context.Background()

	assert.Equal(t, []string{"defibox", "dfs"}, deps.Venues.IDs())
	assert.Empty(t, deps.Health, "in-memory deployment has no external dependencies")

	reqs, err := config.Defaults().Engine.Requests()
	require.NoError(t, err)
	st, err := deps.Engine.Execute(ctx, reqs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCompleted, st.Status)
	assert.Equal(t, "0.1928 EOS", st.Profit.String())

	fees, err := deps.Network.Ledger.Balance(ctx, "arb.fees", reqs[0].Stake.ExtendedSymbol())
	require.NoError(t, err)
	assert.Equal(t, int64(1928), fees.Amount)

	history, err := deps.Service.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, st.ID, history[0].ID)

	_, err = deps.Plans.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound, "plan slot is empty after settlement")
}

func TestWire_DisabledVenueIsNotQuoted(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Venues = []string{"defibox"}
	deps := wire(t, cfg)

	assert.Equal(t, []string{"defibox"}, deps.Venues.IDs())
	reqs, err := cfg.Engine.Requests()
	require.NoError(t, err)
	_, err = deps.Finder.FindRoute(context.Background(), reqs[0].Stake)
	assert.ErrorIs(t, err, domain.ErrNoProfitableRoute)
}

func TestWire_SQLiteBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "ammarb.db")
	deps := wire(t, cfg)
	require.Contains(t, deps.Health, "sqlite")
	assert.NoError(t, deps.Health["sqlite"](context.Background()))

	reqs, err := cfg.Engine.Requests()
	require.NoError(t, err)
	st, err := deps.Engine.Execute(context.Background(), reqs[0])
	require.NoError(t, err)

	got, err := deps.Settlements.GetByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Profit, got.Profit)
}

func TestApp_TradeOnce(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discard(), WithOnce())
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))
}

func TestApp_ScanOnce(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "scan"
	cfg.Notify.Console = false
	a := New(&cfg, discard(), WithOnce())
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))
}

func TestApp_UnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, discard())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}
