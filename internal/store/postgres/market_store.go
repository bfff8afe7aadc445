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

// MarketStore implements domain.MarketStore using PostgreSQL. Lifecycle
// writes are conditional UPDATEs on the prior flag so one-shot transitions
// hold even when callers race.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create inserts a market and returns its assigned id.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) (uint64, error) {
	const query = `
		INSERT INTO markets (
			question, creator, close_time, fee_bps, currency,
			feed_id, threshold, shielded_pool_yes, shielded_pool_no
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		m.Question, m.Creator.Hex(), m.CloseTime, int32(m.FeeBps), string(m.Currency),
		m.FeedID, m.Threshold, m.ShieldedPoolYes.ID, m.ShieldedPoolNo.ID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create market: %w", err)
	}
	return uint64(id), nil
}

const marketCols = `id, question, creator, close_time, fee_bps, currency,
	feed_id, threshold,
	outcome_reported, winning_outcome, resolved_price, resolved_at,
	native_pool_yes, native_pool_no, shielded_pool_yes, shielded_pool_no,
	decrypt_requested, pool_yes_ticket, pool_no_ticket,
	settled, settled_pool_yes, settled_pool_no, fee, distributable, settled_at,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var (
		id, threshold, resolvedPrice             int64
		poolYes, poolNo                          int64
		settledYes, settledNo, fee, distrib  int64
		feeBps                                   int32
		creator, currency, shieldYes, shieldNo   string
	)
	err := row.Scan(
		&id, &m.Question, &creator, &m.CloseTime, &feeBps, &currency,
		&m.FeedID, &threshold,
		&m.OutcomeReported, &m.WinningOutcome, &resolvedPrice, &m.ResolvedAt,
		&poolYes, &poolNo, &shieldYes, &shieldNo,
		&m.DecryptRequested, &m.PoolYesTicket, &m.PoolNoTicket,
		&m.Settled, &settledYes, &settledNo, &fee, &distrib, &m.SettledAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.Creator = common.HexToAddress(creator)
	m.FeeBps = uint32(feeBps)
	m.Currency = domain.Currency(currency)
	m.Threshold = threshold
	m.ResolvedPrice = resolvedPrice
	m.NativePoolYes = uint64(poolYes)
	m.NativePoolNo = uint64(poolNo)
	if shieldYes != "" {
		m.ShieldedPoolYes = domain.Uint64Handle(shieldYes)
	}
	if shieldNo != "" {
		m.ShieldedPoolNo = domain.Uint64Handle(shieldNo)
	}
	m.SettledPoolYes = uint64(settledYes)
	m.SettledPoolNo = uint64(settledNo)
	m.Fee = uint64(fee)
	m.Distributable = uint64(distrib)
	return m, nil
}

// Get retrieves a market by its primary key.
func (s *MarketStore) Get(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, int64(id))
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets with pagination and optional time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// MarkResolved records the outcome. The WHERE clause rejects a second
// resolution.
func (s *MarketStore) MarkResolved(ctx context.Context, id uint64, winning bool, price int64, at time.Time) error {
	const query = `
		UPDATE markets
		SET outcome_reported = TRUE,
		    winning_outcome  = $2,
		    resolved_price   = $3,
		    resolved_at      = $4,
		    updated_at       = NOW()
		WHERE id = $1 AND outcome_reported = FALSE`

	tag, err := s.pool.Exec(ctx, query, int64(id), winning, price, at)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, domain.ErrAlreadyResolved)
	}
	return nil
}

// MarkDecryptRequested stores the pool decrypt tickets and flips the
// one-shot flag.
func (s *MarketStore) MarkDecryptRequested(ctx context.Context, id uint64, yesTicket, noTicket string) error {
	const query = `
		UPDATE markets
		SET decrypt_requested = TRUE,
		    pool_yes_ticket   = $2,
		    pool_no_ticket    = $3,
		    updated_at        = NOW()
		WHERE id = $1 AND decrypt_requested = FALSE`

	tag, err := s.pool.Exec(ctx, query, int64(id), yesTicket, noTicket)
	if err != nil {
		return fmt.Errorf("postgres: request decrypt for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, domain.ErrAlreadyDecryptRequested)
	}
	return nil
}

// ResetDecryptTickets replaces the pool tickets after a failed decryption.
func (s *MarketStore) ResetDecryptTickets(ctx context.Context, id uint64, yesTicket, noTicket string) error {
	const query = `
		UPDATE markets
		SET pool_yes_ticket = $2,
		    pool_no_ticket  = $3,
		    updated_at      = NOW()
		WHERE id = $1 AND decrypt_requested = TRUE AND settled = FALSE`

	tag, err := s.pool.Exec(ctx, query, int64(id), yesTicket, noTicket)
	if err != nil {
		return fmt.Errorf("postgres: reset decrypt tickets for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, domain.ErrDecryptNotReady)
	}
	return nil
}

// MarkSettled records the decrypted pool totals and the settlement split.
func (s *MarketStore) MarkSettled(ctx context.Context, id uint64, poolYes, poolNo, fee, distributable uint64, at time.Time) error {
	const query = `
		UPDATE markets
		SET settled          = TRUE,
		    settled_pool_yes = $2,
		    settled_pool_no  = $3,
		    fee              = $4,
		    distributable    = $5,
		    settled_at       = $6,
		    updated_at       = NOW()
		WHERE id = $1 AND settled = FALSE`

	tag, err := s.pool.Exec(ctx, query,
		int64(id), int64(poolYes), int64(poolNo), int64(fee), int64(distributable), at)
	if err != nil {
		return fmt.Errorf("postgres: settle market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, domain.ErrAlreadySettled)
	}
	return nil
}

// transitionConflict distinguishes a missing market from a lost transition
// race after a zero-row UPDATE.
func (s *MarketStore) transitionConflict(ctx context.Context, id uint64, conflict error) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", int64(id)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check market %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: market %d: %w", id, conflict)
}
