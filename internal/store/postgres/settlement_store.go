package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

const settlementColumns = `id, plan, profit_symbol, profit_amount, status, error, started_at, completed_at`

// SettlementStore persists settlements and their swap legs.
type SettlementStore struct {
	pool *pgxpool.Pool
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts a settlement and its legs in one transaction.
func (s *SettlementStore) Create(ctx context.Context, st domain.Settlement) error {
	plan, err := json.Marshal(st.Plan)
	if err != nil {
		return fmt.Errorf("postgres: encode plan: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO settlements (id, plan, stake_contract, profit_symbol, profit_amount, status, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.ID, plan, st.Plan.Stake.Contract, symbolText(st.Profit.Symbol), st.Profit.Amount,
		string(st.Status), st.Error, st.StartedAt, st.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", st.ID, err)
	}

	for i, leg := range st.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO settlement_legs (settlement_id, leg_index, venue, pair_id, input, input_contract, output, output_contract, expected)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			st.ID, i, leg.Venue, int64(leg.PairID),
			leg.Input.Quantity.String(), leg.Input.Contract,
			leg.Output.Quantity.String(), leg.Output.Contract,
			assetText(leg.Expected),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert settlement leg %s/%d: %w", st.ID, i, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.Settlement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	st, err := scanSettlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Settlement{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	out := []domain.Settlement{st}
	if err := s.attachLegs(ctx, out); err != nil {
		return domain.Settlement{}, err
	}
	return out[0], nil
}

// List returns settlements newest first.
func (s *SettlementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	query, args := listQuery(`SELECT `+settlementColumns+` FROM settlements WHERE TRUE`,
		"started_at", "started_at DESC, id", opts, nil)
	return s.query(ctx, query, args...)
}

// SumProfit totals the profit of completed settlements staked in sym.
func (s *SettlementStore) SumProfit(ctx context.Context, sym domain.ExtendedSymbol, since time.Time) (domain.Asset, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(profit_amount), 0)::BIGINT FROM settlements
		WHERE status = $1 AND profit_symbol = $2 AND stake_contract = $3 AND started_at >= $4`,
		string(domain.SettlementCompleted), sym.Symbol.String(), sym.Contract, since,
	).Scan(&sum)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("postgres: sum settlement profit: %w", err)
	}
	return domain.NewAsset(sum, sym.Symbol)
}

// ListBefore returns settlements started before the cutoff, oldest first.
// A non-positive limit returns all of them.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE started_at < $1 ORDER BY started_at, id`
	if limit > 0 {
		return s.query(ctx, query+` LIMIT $2`, before, limit)
	}
	return s.query(ctx, query, before)
}

// DeleteBefore removes settlements started before the cutoff. Legs are
// removed by cascade.
func (s *SettlementStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM settlements WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settlements before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *SettlementStore) query(ctx context.Context, query string, args ...any) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()
	var list []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		list = append(list, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	if err := s.attachLegs(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// attachLegs loads the legs of every settlement in list with one query.
func (s *SettlementStore) attachLegs(ctx context.Context, list []domain.Settlement) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i, st := range list {
		ids[i] = st.ID
		index[st.ID] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT settlement_id, venue, pair_id, input, input_contract, output, output_contract, expected
		FROM settlement_legs WHERE settlement_id = ANY($1) ORDER BY settlement_id, leg_index`, ids)
	if err != nil {
		return fmt.Errorf("postgres: get settlement legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, input, output, expected string
			pairID                      int64
			leg                         domain.LegResult
		)
		if err := rows.Scan(&id, &leg.Venue, &pairID, &input, &leg.Input.Contract, &output, &leg.Output.Contract, &expected); err != nil {
			return fmt.Errorf("postgres: scan settlement leg: %w", err)
		}
		leg.PairID = uint64(pairID)
		if err := leg.Input.Quantity.UnmarshalText([]byte(input)); err != nil {
			return fmt.Errorf("postgres: settlement %s leg input: %w", id, err)
		}
		if err := leg.Output.Quantity.UnmarshalText([]byte(output)); err != nil {
			return fmt.Errorf("postgres: settlement %s leg output: %w", id, err)
		}
		if err := leg.Expected.UnmarshalText([]byte(expected)); err != nil {
			return fmt.Errorf("postgres: settlement %s leg expected: %w", id, err)
		}
		i := index[id]
		list[i].Legs = append(list[i].Legs, leg)
	}
	return rows.Err()
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		st           domain.Settlement
		plan         []byte
		profitSymbol string
		status       string
	)
	if err := row.Scan(&st.ID, &plan, &profitSymbol, &st.Profit.Amount, &status, &st.Error, &st.StartedAt, &st.CompletedAt); err != nil {
		return domain.Settlement{}, err
	}
	if err := json.Unmarshal(plan, &st.Plan); err != nil {
		return domain.Settlement{}, fmt.Errorf("decode plan: %w", err)
	}
	if err := st.Profit.Symbol.UnmarshalText([]byte(profitSymbol)); err != nil {
		return domain.Settlement{}, fmt.Errorf("profit symbol: %w", err)
	}
	st.Status = domain.SettlementStatus(status)
	return st, nil
}

func assetText(a domain.Asset) string {
	b, _ := a.MarshalText()
	return string(b)
}

func symbolText(s domain.Symbol) string {
	b, _ := s.MarshalText()
	return string(b)
}
