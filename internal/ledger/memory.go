// Package ledger provides an in-memory token ledger with synchronous
// recipient notification. Every transfer is atomic with the handlers it
// triggers: if a recipient's handler fails, the transfer and everything the
// handler did are undone.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/saga"
)

// Memory is a domain.Ledger kept in process memory.
type Memory struct {
	mu        sync.RWMutex
	balances  map[string]map[domain.ExtendedSymbol]int64
	listeners map[string]domain.TransferListener
	logger    *slog.Logger
}

var _ domain.Ledger = (*Memory)(nil)

// NewMemory returns an empty ledger.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		balances:  make(map[string]map[domain.ExtendedSymbol]int64),
		listeners: make(map[string]domain.TransferListener),
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Issue credits account with q out of thin air. It is used to seed balances.
func (m *Memory) Issue(account string, q domain.ExtendedAsset) error {
	if !q.Quantity.IsPositive() {
		return fmt.Errorf("ledger: issue: %w: quantity %s must be positive", domain.ErrInput, q)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credit(account, q.ExtendedSymbol(), q.Quantity.Amount)
}

// Subscribe registers l to be notified of transfers received by account.
// A later call for the same account replaces the listener.
func (m *Memory) Subscribe(account string, l domain.TransferListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[account] = l
}

// Balance returns the balance of sym held by account.
func (m *Memory) Balance(_ context.Context, account string, sym domain.ExtendedSymbol) (domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.Asset{Amount: m.balances[account][sym], Symbol: sym.Symbol}, nil
}

// Transfer moves t.Quantity and notifies the recipient. When ctx carries a
// saga, the transfer and the recipient's effects are undone if it unwinds.
func (m *Memory) Transfer(ctx context.Context, t domain.Transfer) error {
	if !t.Quantity.Quantity.IsPositive() {
		return fmt.Errorf("ledger: transfer: %w: quantity %s must be positive", domain.ErrInput, t.Quantity)
	}
	if t.From == t.To {
		return fmt.Errorf("ledger: transfer: %w: cannot transfer to self", domain.ErrInput)
	}

	return saga.Nested(ctx, "transfer", func(ctx context.Context) error {
		if err := m.move(t.From, t.To, t.Quantity); err != nil {
			return err
		}
		saga.Compensate(ctx, "transfer "+t.Quantity.String(), func(context.Context) error {
			return m.move(t.To, t.From, t.Quantity)
		})

		m.logger.DebugContext(ctx, "transfer",
			slog.String("from", t.From),
			slog.String("to", t.To),
			slog.String("quantity", t.Quantity.String()),
			slog.String("memo", t.Memo),
		)

		m.mu.RLock()
		l := m.listeners[t.To]
		m.mu.RUnlock()
		if l == nil {
			return nil
		}
		if err := l.OnTransfer(ctx, t); err != nil {
			return fmt.Errorf("ledger: transfer to %s: %w", t.To, err)
		}
		return nil
	})
}

func (m *Memory) move(from, to string, q domain.ExtendedAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sym := q.ExtendedSymbol()
	if have := m.balances[from][sym]; have < q.Quantity.Amount {
		return fmt.Errorf("ledger: %w: %s holds %s, needs %s", domain.ErrOverdrawn, from,
			domain.Asset{Amount: have, Symbol: sym.Symbol}, q.Quantity)
	}
	if err := m.credit(to, sym, q.Quantity.Amount); err != nil {
		return err
	}
	m.balances[from][sym] -= q.Quantity.Amount
	return nil
}

// credit must be called with mu held.
func (m *Memory) credit(account string, sym domain.ExtendedSymbol, amount int64) error {
	acct, ok := m.balances[account]
	if !ok {
		acct = make(map[domain.ExtendedSymbol]int64)
		m.balances[account] = acct
	}
	if acct[sym] > domain.MaxAssetAmount-amount {
		return fmt.Errorf("ledger: %w: crediting %s", domain.ErrAssetOverflow, account)
	}
	acct[sym] += amount
	return nil
}
