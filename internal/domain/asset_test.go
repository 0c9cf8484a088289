package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

func TestParseAsset(t *testing.T) {
	tests := []struct {
		in        string
		amount    int64
		precision uint8
		code      string
	}{
		{"100.0000 EOS", 1000000, 4, "EOS"},
		{"0.000001 BOX", 1, 6, "BOX"},
		{"-2.50 USD", -250, 2, "USD"},
		{"7 NFT", 7, 0, "NFT"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := domain.ParseAsset(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.amount, a.Amount)
			assert.Equal(t, tt.precision, a.Symbol.Precision)
			assert.Equal(t, tt.code, a.Symbol.Code)
			assert.Equal(t, tt.in, a.String())
		})
	}
}

func TestParseAssetRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "100.0000", "abc EOS", "1.0 eos", "1.0 TOOLONGCODE", "1.0000000000000000000 EOS"} {
		_, err := domain.ParseAsset(in)
		assert.ErrorIs(t, err, domain.ErrInput, in)
	}
}

func TestParseAssetRejectsNonPlainAmounts(t *testing.T) {
	for _, in := range []string{"2.5e-5 EOS", "1.0e1 EOS", "1e-4 EOS", "1E4 EOS", "+1.0000 EOS", "1. EOS", ".5 EOS", "--1 EOS", "1_000 EOS"} {
		_, err := domain.ParseAsset(in)
		assert.ErrorIs(t, err, domain.ErrInput, in)
	}
}

func TestParseAssetOverflow(t *testing.T) {
	_, err := domain.ParseAsset("99999999999999999999 EOS")
	assert.ErrorIs(t, err, domain.ErrAssetOverflow)
}

func TestParseSymbol(t *testing.T) {
	sym, err := domain.ParseSymbol("4,EOS")
	require.NoError(t, err)
	assert.Equal(t, domain.Symbol{Code: "EOS", Precision: 4}, sym)
	assert.Equal(t, "4,EOS", sym.String())

	_, err = domain.ParseSymbol("EOS")
	assert.ErrorIs(t, err, domain.ErrInput)
	_, err = domain.ParseSymbol("19,EOS")
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestAssetArithmetic(t *testing.T) {
	eos := domain.Symbol{Code: "EOS", Precision: 4}
	box := domain.Symbol{Code: "BOX", Precision: 6}
	a := domain.Asset{Amount: 101928, Symbol: eos}
	b := domain.Asset{Amount: 100000, Symbol: eos}

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "0.1928 EOS", diff.String())

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(201928), sum.Amount)

	c, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	_, err = a.Add(domain.Asset{Amount: 1, Symbol: box})
	assert.ErrorIs(t, err, domain.ErrSymbolMismatch)
	_, err = a.Cmp(domain.Asset{Amount: 1, Symbol: domain.Symbol{Code: "EOS", Precision: 3}})
	assert.ErrorIs(t, err, domain.ErrSymbolMismatch)

	_, err = domain.Asset{Amount: domain.MaxAssetAmount, Symbol: eos}.Add(domain.Asset{Amount: 1, Symbol: eos})
	assert.ErrorIs(t, err, domain.ErrAssetOverflow)
}

func TestExtendedAssetJSON(t *testing.T) {
	a, err := domain.ParseAsset("10.0000 EOS")
	require.NoError(t, err)
	ext := domain.ExtendedAsset{Quantity: a, Contract: "eosio.token"}

	data, err := json.Marshal(ext)
	require.NoError(t, err)
	assert.JSONEq(t, `{"quantity":"10.0000 EOS","contract":"eosio.token"}`, string(data))

	var back domain.ExtendedAsset
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ext, back)
}

func TestPairListingFor(t *testing.T) {
	eos := domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "EOS", Precision: 4}, Contract: "eosio.token"}
	usdt := domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "USDT", Precision: 4}, Contract: "tethertether"}
	p := domain.Pair{Venue: "defibox", ID: 12, Token0: eos, Token1: usdt}

	l, ok := p.ListingFor(usdt)
	require.True(t, ok)
	assert.Equal(t, eos, l.Target)
	assert.Equal(t, uint64(12), l.PairID)

	_, ok = p.ListingFor(domain.ExtendedSymbol{Symbol: eos.Symbol, Contract: "fake.token"})
	assert.False(t, ok)
}

func TestZeroAssetTextRoundTrip(t *testing.T) {
	var s domain.Settlement
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back domain.Settlement
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, domain.Asset{}, back.Profit)
	assert.Equal(t, domain.Symbol{}, back.Plan.Target.Symbol)
}
