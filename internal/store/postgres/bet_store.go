package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Place appends a bet and applies the pool update in one transaction. The
// market row is locked FOR UPDATE so index assignment and pool accumulation
// serialize across processes, and the open check is re-done under the lock.
func (s *BetStore) Place(ctx context.Context, bet domain.Bet, pools domain.PoolUpdate) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: place bet: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var outcomeReported, settled bool
	err = tx.QueryRow(ctx,
		`SELECT outcome_reported, settled FROM markets WHERE id = $1 FOR UPDATE`,
		int64(bet.MarketID),
	).Scan(&outcomeReported, &settled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("postgres: place bet: market %d: %w", bet.MarketID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: place bet: lock market %d: %w", bet.MarketID, err)
	}
	if outcomeReported || settled {
		return 0, fmt.Errorf("postgres: place bet: market %d: %w", bet.MarketID, domain.ErrMarketNotOpen)
	}

	var index int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(bet_index) + 1, 0) FROM bets WHERE market_id = $1`,
		int64(bet.MarketID),
	).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("postgres: place bet: next index: %w", err)
	}

	const insertBet = `
		INSERT INTO bets (
			market_id, bet_index, bettor, stake_handle, side_handle,
			native_collateral, declared_side, shielded_collateral, placed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.Exec(ctx, insertBet,
		int64(bet.MarketID), index, bet.Bettor.Hex(),
		bet.StakeHandle.ID, bet.SideHandle.ID,
		int64(bet.NativeCollateral), bet.DeclaredSide, bet.ShieldedCollateral.ID,
		bet.PlacedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: place bet: insert: %w", err)
	}

	const updatePools = `
		UPDATE markets
		SET native_pool_yes   = native_pool_yes + $2,
		    native_pool_no    = native_pool_no + $3,
		    shielded_pool_yes = CASE WHEN $4 <> '' THEN $4 ELSE shielded_pool_yes END,
		    shielded_pool_no  = CASE WHEN $5 <> '' THEN $5 ELSE shielded_pool_no END,
		    updated_at        = NOW()
		WHERE id = $1`
	_, err = tx.Exec(ctx, updatePools,
		int64(bet.MarketID),
		int64(pools.NativeYesDelta), int64(pools.NativeNoDelta),
		pools.ShieldedPoolYes.ID, pools.ShieldedPoolNo.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: place bet: update pools: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: place bet: commit: %w", err)
	}
	return uint64(index), nil
}

const betCols = `market_id, bet_index, bettor, stake_handle, side_handle,
	native_collateral, declared_side, shielded_collateral,
	decrypt_requested, stake_ticket, side_ticket,
	revealed_stake, revealed_side, withdrawn, payout, placed_at`

// scanBet scans a single bet row into a domain.Bet.
func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	var (
		marketID, betIndex, collateral, revealedStake, payout int64
		bettor, stakeHandle, sideHandle, shieldedCollateral   string
	)
	err := row.Scan(
		&marketID, &betIndex, &bettor, &stakeHandle, &sideHandle,
		&collateral, &b.DeclaredSide, &shieldedCollateral,
		&b.DecryptRequested, &b.StakeTicket, &b.SideTicket,
		&revealedStake, &b.RevealedSide, &b.Withdrawn, &payout, &b.PlacedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	b.MarketID = uint64(marketID)
	b.BetIndex = uint64(betIndex)
	b.Bettor = common.HexToAddress(bettor)
	b.StakeHandle = domain.Uint64Handle(stakeHandle)
	b.SideHandle = domain.BoolHandle(sideHandle)
	b.NativeCollateral = uint64(collateral)
	if shieldedCollateral != "" {
		b.ShieldedCollateral = domain.Uint64Handle(shieldedCollateral)
	}
	b.RevealedStake = uint64(revealedStake)
	b.Payout = uint64(payout)
	return b, nil
}

// Get retrieves a bet by its (market, index) identity.
func (s *BetStore) Get(ctx context.Context, marketID, betIndex uint64) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 AND bet_index = $2`,
		int64(marketID), int64(betIndex))
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d/%d: %w", marketID, betIndex, err)
	}
	return b, nil
}

// ListByMarket returns a market's bets in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE market_id = $1 ORDER BY bet_index`
	args := []any{int64(marketID)}
	args, query = appendPage(args, query, opts)

	return s.queryBets(ctx, query, args)
}

// ListByBettor returns every bet a principal has placed, oldest first.
func (s *BetStore) ListByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE bettor = $1 ORDER BY market_id, bet_index`
	args := []any{bettor.Hex()}
	args, query = appendPage(args, query, opts)

	return s.queryBets(ctx, query, args)
}

// Count returns the number of bets on a market.
func (s *BetStore) Count(ctx context.Context, marketID uint64) (uint64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bets WHERE market_id = $1", int64(marketID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bets for market %d: %w", marketID, err)
	}
	return uint64(count), nil
}

// MarkDecryptRequested stores the stake/side tickets. Without replace the
// WHERE clause rejects re-entry; with replace it overwrites tickets on a
// bet whose earlier decryption failed.
func (s *BetStore) MarkDecryptRequested(ctx context.Context, marketID, betIndex uint64, stakeTicket, sideTicket string, replace bool) error {
	query := `
		UPDATE bets
		SET decrypt_requested = TRUE,
		    stake_ticket      = $3,
		    side_ticket       = $4
		WHERE market_id = $1 AND bet_index = $2 AND withdrawn = FALSE`
	if !replace {
		query += ` AND decrypt_requested = FALSE`
	}

	tag, err := s.pool.Exec(ctx, query, int64(marketID), int64(betIndex), stakeTicket, sideTicket)
	if err != nil {
		return fmt.Errorf("postgres: request decrypt for bet %d/%d: %w", marketID, betIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return s.writeConflict(ctx, marketID, betIndex, domain.ErrAlreadyDecryptRequested)
	}
	return nil
}

// MarkWithdrawn records the revealed stake/side and payout, flipping the
// withdrawn flag exactly once.
func (s *BetStore) MarkWithdrawn(ctx context.Context, marketID, betIndex uint64, stake uint64, side bool, payout uint64) error {
	const query = `
		UPDATE bets
		SET withdrawn      = TRUE,
		    revealed_stake = $3,
		    revealed_side  = $4,
		    payout         = $5
		WHERE market_id = $1 AND bet_index = $2 AND withdrawn = FALSE`

	tag, err := s.pool.Exec(ctx, query,
		int64(marketID), int64(betIndex), int64(stake), side, int64(payout))
	if err != nil {
		return fmt.Errorf("postgres: withdraw bet %d/%d: %w", marketID, betIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return s.writeConflict(ctx, marketID, betIndex, domain.ErrAlreadyWithdrawn)
	}
	return nil
}

func (s *BetStore) queryBets(ctx context.Context, query string, args []any) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// writeConflict distinguishes a missing bet from a lost write race after a
// zero-row UPDATE.
func (s *BetStore) writeConflict(ctx context.Context, marketID, betIndex uint64, conflict error) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM bets WHERE market_id = $1 AND bet_index = $2)",
		int64(marketID), int64(betIndex)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check bet %d/%d: %w", marketID, betIndex, err)
	}
	if !exists {
		return fmt.Errorf("postgres: bet %d/%d: %w", marketID, betIndex, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: bet %d/%d: %w", marketID, betIndex, conflict)
}

// appendPage appends LIMIT/OFFSET clauses for the ListOpts pagination.
func appendPage(args []any, query string, opts domain.ListOpts) ([]any, string) {
	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return args, query
}
