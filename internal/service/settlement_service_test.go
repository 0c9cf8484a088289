package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/service"
	"github.com/alanyoungcy/ammarb/internal/store/memory"
)

var eos = domain.ExtendedSymbol{Symbol: domain.Symbol{Code: "EOS", Precision: 4}, Contract: "eosio.token"}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type mockBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  int
	err       error
}

func (m *mockBus) Publish(_ context.Context, ch string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.published == nil {
		m.published = map[string][][]byte{}
	}
	m.published[ch] = append(m.published[ch], payload)
	return nil
}

func (m *mockBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (m *mockBus) StreamAppend(context.Context, string, []byte) error {
	m.streamed++
	return nil
}

func (m *mockBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type mockNotifier struct{ got []domain.Settlement }

func (m *mockNotifier) NotifySettlement(_ context.Context, s domain.Settlement) error {
	m.got = append(m.got, s)
	return nil
}

type failingStore struct{ *memory.SettlementStore }

func (failingStore) Create(context.Context, domain.Settlement) error { return errors.New("disk full") }

func settlement(id string, status domain.SettlementStatus, profit int64) domain.Settlement {
	return domain.Settlement{
		ID:        id,
		Plan:      domain.SettlementPlan{OperationID: id, Stake: domain.ExtendedAsset{Quantity: domain.Asset{Amount: 100000, Symbol: eos.Symbol}, Contract: eos.Contract}},
		Profit:    domain.Asset{Amount: profit, Symbol: eos.Symbol},
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
}

func TestRecord_PersistsPublishesAuditsNotifies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSettlementStore()
	audit := memory.NewAuditStore()
	bus := &mockBus{}
	n := &mockNotifier{}
	svc := service.NewSettlementService(store, bus, audit, n, discard())

	require.NoError(t, svc.Record(ctx, settlement("op-1", domain.SettlementCompleted, 1928)))

	got, err := svc.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1928), got.Profit.Amount)

	require.Len(t, bus.published[service.SettlementsChannel], 1)
	var ev service.SettlementEvent
	require.NoError(t, json.Unmarshal(bus.published[service.SettlementsChannel][0], &ev))
	assert.Equal(t, "settlement_completed", ev.Event)
	assert.Equal(t, "op-1", ev.Settlement.ID)
	assert.Equal(t, 1, bus.streamed)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "settlement_completed", entries[0].Event)
	assert.Equal(t, "0.1928 EOS", entries[0].Detail["profit"])

	require.Len(t, n.got, 1)
}

func TestRecord_BusFailureIsNotFatal(t *testing.T) {
	svc := service.NewSettlementService(memory.NewSettlementStore(), &mockBus{err: errors.New("redis down")}, nil, nil, discard())
	assert.NoError(t, svc.Record(context.Background(), settlement("op-1", domain.SettlementFailed, 0)))
}

func TestRecord_StoreFailureIsFatal(t *testing.T) {
	n := &mockNotifier{}
	svc := service.NewSettlementService(failingStore{memory.NewSettlementStore()}, nil, nil, n, discard())
	err := svc.Record(context.Background(), settlement("op-1", domain.SettlementCompleted, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, n.got)
}

func TestProfitAndList(t *testing.T) {
	ctx := context.Background()
	svc := service.NewSettlementService(memory.NewSettlementStore(), nil, nil, nil, discard())
	require.NoError(t, svc.Record(ctx, settlement("a", domain.SettlementCompleted, 1928)))
	require.NoError(t, svc.Record(ctx, settlement("b", domain.SettlementFailed, 0)))
	require.NoError(t, svc.Record(ctx, settlement("c", domain.SettlementCompleted, 1434)))

	total, err := svc.Profit(ctx, eos, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "0.3362 EOS", total.String())

	list, err := svc.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
