package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// SettlementStore keeps each settlement as a JSON document, with the columns
// needed for filtering and profit totals alongside it.
type SettlementStore struct {
	db *DB
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

func NewSettlementStore(db *DB) *SettlementStore {
	return &SettlementStore{db: db}
}

func (s *SettlementStore) Create(ctx context.Context, st domain.Settlement) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sqlite: encode settlement %s: %w", st.ID, err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO settlements (id, doc, stake_contract, profit_symbol, profit_amount, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, string(doc), st.Plan.Stake.Contract, st.Profit.Symbol.String(), st.Profit.Amount,
		string(st.Status), st.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert settlement %s: %w", st.ID, err)
	}
	return nil
}

func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.Settlement, error) {
	var doc string
	err := s.db.db.QueryRowContext(ctx, `SELECT doc FROM settlements WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settlement{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("sqlite: get settlement %s: %w", id, err)
	}
	return decodeSettlement(doc)
}

// List returns settlements newest first.
func (s *SettlementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	query, args := listClause(`SELECT doc FROM settlements WHERE 1 = 1`,
		"started_at", "started_at DESC, id", opts)
	return s.query(ctx, query, args...)
}

// SumProfit totals the profit of completed settlements staked in sym.
func (s *SettlementStore) SumProfit(ctx context.Context, sym domain.ExtendedSymbol, since time.Time) (domain.Asset, error) {
	var sum int64
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(profit_amount), 0) FROM settlements
		WHERE status = ? AND profit_symbol = ? AND stake_contract = ? AND started_at >= ?`,
		string(domain.SettlementCompleted), sym.Symbol.String(), sym.Contract, since.UnixNano(),
	).Scan(&sum)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("sqlite: sum settlement profit: %w", err)
	}
	return domain.NewAsset(sum, sym.Symbol)
}

// ListBefore returns settlements started before the cutoff, oldest first.
// A non-positive limit returns all of them.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Settlement, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `SELECT doc FROM settlements WHERE started_at < ? ORDER BY started_at, id LIMIT ?`,
		before.UnixNano(), limit)
}

func (s *SettlementStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.db.ExecContext(ctx, `DELETE FROM settlements WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

func (s *SettlementStore) query(ctx context.Context, query string, args ...any) ([]domain.Settlement, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settlements: %w", err)
	}
	defer rows.Close()
	var list []domain.Settlement
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan settlement: %w", err)
		}
		st, err := decodeSettlement(doc)
		if err != nil {
			return nil, err
		}
		list = append(list, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list settlements rows: %w", err)
	}
	return list, nil
}

func decodeSettlement(doc string) (domain.Settlement, error) {
	var st domain.Settlement
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return domain.Settlement{}, fmt.Errorf("sqlite: decode settlement: %w", err)
	}
	return st, nil
}
