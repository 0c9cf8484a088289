package exchange_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
)

// --- mocks ---

type mockReserves struct {
	// reserves keyed by pair id, oriented token0 -> token1
	pools  map[uint64][2]int64
	token0 map[uint64]domain.ExtendedSymbol
	fee    uint32
	err    error
}

func (m *mockReserves) Reserves(_ context.Context, pairID uint64, input domain.ExtendedSymbol) (int64, int64, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	r := m.pools[pairID]
	if input == m.token0[pairID] {
		return r[0], r[1], nil
	}
	return r[1], r[0], nil
}

func (m *mockReserves) FeeBps(_ context.Context, _ uint64) (uint32, error) {
	return m.fee, nil
}

// --- helpers ---

var (
	eos = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "EOS", Precision: 4}, Contract: "eosio.token"}
	box = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "BOX", Precision: 6}, Contract: "token.defi"}
)

func eosAmount(raw int64) domain.ExtendedAsset {
	return domain.ExtendedAsset{Quantity: domain.Asset{Amount: raw, Symbol: eos.Symbol}, Contract: eos.Contract}
}

func newDefibox(t *testing.T, res *mockReserves) *exchange.ConstantProduct {
	t.Helper()
	reg := exchange.NewStaticRegistry([]domain.Pair{
		{Venue: "defibox", ID: 194, Token0: eos, Token1: box},
	})
	a, err := exchange.New("defibox", reg, res)
	require.NoError(t, err)
	return a
}

func TestNew_UnsupportedExchange(t *testing.T) {
	_, err := exchange.New("uniswap", exchange.NewStaticRegistry(nil), &mockReserves{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedExchange)
}

func TestAdapter_Quote(t *testing.T) {
	res := &mockReserves{
		pools:  map[uint64][2]int64{194: {10000000, 2000000000}},
		token0: map[uint64]domain.ExtendedSymbol{194: eos},
		fee:    30,
	}
	a := newDefibox(t, res)

	q, err := a.Quote(context.Background(), eosAmount(100000), "BOX")
	require.NoError(t, err)
	assert.Equal(t, "defibox", q.Venue)
	assert.Equal(t, uint64(194), q.PairID)
	assert.Equal(t, "19.743160 BOX", q.Output.Quantity.String())
	assert.Equal(t, "token.defi", q.Output.Contract)
	assert.Equal(t, uint32(30), q.FeeBps)

	// The reverse direction resolves the same pair.
	back, err := a.Quote(context.Background(), q.Output, "EOS")
	require.NoError(t, err)
	assert.Equal(t, eos, back.Output.ExtendedSymbol())
}

func TestAdapter_Quote_UnsupportedPair(t *testing.T) {
	a := newDefibox(t, &mockReserves{})
	_, err := a.Quote(context.Background(), eosAmount(100000), "USDT")
	assert.ErrorIs(t, err, domain.ErrUnsupportedPair)

	// Same code from a different issuer is a different token.
	fake := eosAmount(100000)
	fake.Contract = "fake.token"
	_, err = a.Quote(context.Background(), fake, "BOX")
	assert.ErrorIs(t, err, domain.ErrUnsupportedPair)
}

func TestAdapter_Quote_ReserveError(t *testing.T) {
	boom := errors.New("rpc down")
	a := newDefibox(t, &mockReserves{err: boom})
	_, err := a.Quote(context.Background(), eosAmount(100000), "BOX")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrUnsupportedPair)
}

func TestSwapTransfer_Memos(t *testing.T) {
	l := domain.Listing{PairID: 12, Input: eos, Target: box}
	tests := []struct {
		venue    string
		contract string
		memo     string
	}{
		{"defibox", "swap.defi", "swap,0,12"},
		{"dfs", "defisswapcnt", "swap:12:0"},
		{"swap.sx", "swap.sx", "BOX"},
		{"vigor.sx", "vigor.sx", "BOX"},
		{"stable.sx", "stable.sx", "BOX"},
		{"hamburger", "hamburgerswp", "swap,0,12"},
		{"pizza", "pzaswapcntct", "swap:12:0"},
	}
	for _, tt := range tests {
		t.Run(tt.venue, func(t *testing.T) {
			a, err := exchange.New(tt.venue, exchange.NewStaticRegistry(nil), &mockReserves{})
			require.NoError(t, err)
			l.Venue = tt.venue
			tr := a.SwapTransfer("arb.engine", eosAmount(100000), l)
			assert.Equal(t, "arb.engine", tr.From)
			assert.Equal(t, tt.contract, tr.To)
			assert.Equal(t, tt.memo, tr.Memo)
			assert.Equal(t, eosAmount(100000), tr.Quantity)
		})
	}
}

func TestDispatcher(t *testing.T) {
	reg := exchange.NewStaticRegistry(nil)
	dfs, err := exchange.New("dfs", reg, &mockReserves{})
	require.NoError(t, err)
	defibox, err := exchange.New("defibox", reg, &mockReserves{})
	require.NoError(t, err)

	d := exchange.NewDispatcher(dfs, defibox)
	assert.Equal(t, []string{"dfs", "defibox"}, d.IDs())

	got, err := d.Get("defibox")
	require.NoError(t, err)
	assert.Equal(t, "swap.defi", got.Contract())

	_, err = d.Get("pizza")
	assert.ErrorIs(t, err, domain.ErrUnsupportedExchange)
}

func TestVenueIDs(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{"defibox", "dfs", "swap.sx", "vigor.sx", "stable.sx", "hamburger", "pizza"},
		exchange.VenueIDs())
}
