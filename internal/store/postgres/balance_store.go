package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get retrieves a principal's shielded balance record.
func (s *BalanceStore) Get(ctx context.Context, principal common.Address) (domain.ShieldedBalance, error) {
	const query = `
		SELECT principal, balance_handle, operator_until, updated_at
		FROM balances WHERE principal = $1`

	var b domain.ShieldedBalance
	var addr, handle string
	err := s.pool.QueryRow(ctx, query, principal.Hex()).Scan(
		&addr, &handle, &b.OperatorUntil, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ShieldedBalance{}, domain.ErrNotFound
		}
		return domain.ShieldedBalance{}, fmt.Errorf("postgres: get balance %s: %w", principal.Hex(), err)
	}

	b.Principal = common.HexToAddress(addr)
	if handle != "" {
		b.Balance = domain.Uint64Handle(handle)
	}
	return b, nil
}

// SetBalance upserts the balance handle for a principal.
func (s *BalanceStore) SetBalance(ctx context.Context, principal common.Address, h domain.Handle) error {
	const query = `
		INSERT INTO balances (principal, balance_handle, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (principal) DO UPDATE SET
			balance_handle = EXCLUDED.balance_handle,
			updated_at     = NOW()`

	if _, err := s.pool.Exec(ctx, query, principal.Hex(), h.ID); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", principal.Hex(), err)
	}
	return nil
}

// SetOperator upserts the operator delegation expiry for a principal.
func (s *BalanceStore) SetOperator(ctx context.Context, principal common.Address, until time.Time) error {
	const query = `
		INSERT INTO balances (principal, operator_until, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (principal) DO UPDATE SET
			operator_until = EXCLUDED.operator_until,
			updated_at     = NOW()`

	if _, err := s.pool.Exec(ctx, query, principal.Hex(), until); err != nil {
		return fmt.Errorf("postgres: set operator %s: %w", principal.Hex(), err)
	}
	return nil
}
