package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// PairStore is the pair registry backed by the pairs table.
type PairStore struct {
	pool *pgxpool.Pool
}

var _ domain.PairStore = (*PairStore)(nil)

func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

// Upsert inserts or replaces the pair (p.Venue, p.ID).
func (s *PairStore) Upsert(ctx context.Context, p domain.Pair) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pairs (venue, pair_id, token0_symbol, token0_contract, token1_symbol, token1_contract, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (venue, pair_id) DO UPDATE SET
			token0_symbol = EXCLUDED.token0_symbol, token0_contract = EXCLUDED.token0_contract,
			token1_symbol = EXCLUDED.token1_symbol, token1_contract = EXCLUDED.token1_contract,
			updated_at = EXCLUDED.updated_at`,
		p.Venue, int64(p.ID), p.Token0.Symbol.String(), p.Token0.Contract, p.Token1.Symbol.String(), p.Token1.Contract,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pair %s/%d: %w", p.Venue, p.ID, err)
	}
	return nil
}

// List returns the pairs of venue ordered by id.
func (s *PairStore) List(ctx context.Context, venue string) ([]domain.Pair, error) {
	return s.query(ctx, `
		SELECT venue, pair_id, token0_symbol, token0_contract, token1_symbol, token1_contract
		FROM pairs WHERE venue = $1 ORDER BY pair_id`, venue)
}

func (s *PairStore) Listings(ctx context.Context, venue string, input domain.ExtendedSymbol) ([]domain.Listing, error) {
	pairs, err := s.query(ctx, `
		SELECT venue, pair_id, token0_symbol, token0_contract, token1_symbol, token1_contract
		FROM pairs
		WHERE venue = $1
		  AND ((token0_symbol = $2 AND token0_contract = $3) OR (token1_symbol = $2 AND token1_contract = $3))
		ORDER BY pair_id`, venue, input.Symbol.String(), input.Contract)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Listing, 0, len(pairs))
	for _, p := range pairs {
		if l, ok := p.ListingFor(input); ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *PairStore) Lookup(ctx context.Context, venue string, input domain.ExtendedSymbol, targetCode string) (domain.Listing, error) {
	ls, err := s.Listings(ctx, venue, input)
	if err != nil {
		return domain.Listing{}, err
	}
	for _, l := range ls {
		if l.Target.Symbol.Code == targetCode {
			return l, nil
		}
	}
	return domain.Listing{}, fmt.Errorf("%w: %s -> %s on %s", domain.ErrUnsupportedPair, input, targetCode, venue)
}

func (s *PairStore) query(ctx context.Context, query string, args ...any) ([]domain.Pair, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pairs: %w", err)
	}
	defer rows.Close()
	var out []domain.Pair
	for rows.Next() {
		var (
			p          domain.Pair
			id         int64
			sym0, sym1 string
		)
		if err := rows.Scan(&p.Venue, &id, &sym0, &p.Token0.Contract, &sym1, &p.Token1.Contract); err != nil {
			return nil, fmt.Errorf("postgres: scan pair: %w", err)
		}
		p.ID = uint64(id)
		if p.Token0.Symbol, err = domain.ParseSymbol(sym0); err != nil {
			return nil, fmt.Errorf("postgres: pair %s/%d token0: %w", p.Venue, id, err)
		}
		if p.Token1.Symbol, err = domain.ParseSymbol(sym1); err != nil {
			return nil, fmt.Errorf("postgres: pair %s/%d token1: %w", p.Venue, id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
