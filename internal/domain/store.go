package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SettlementStore persists settlement history for profit tracking.
type SettlementStore interface {
	Create(ctx context.Context, s Settlement) error
	GetByID(ctx context.Context, id string) (Settlement, error)
	List(ctx context.Context, opts ListOpts) ([]Settlement, error)
	// SumProfit totals completed profit in sym since the given time.
	SumProfit(ctx context.Context, sym ExtendedSymbol, since time.Time) (Asset, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Settlement, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PairStore persists the pair registry.
type PairStore interface {
	PairRegistry
	Upsert(ctx context.Context, p Pair) error
	List(ctx context.Context, venue string) ([]Pair, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
