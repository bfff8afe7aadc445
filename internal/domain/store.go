package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets. Implementations must make every lifecycle
// write conditional on the prior state so the one-shot transitions hold even
// if a caller races the service-level checks.
type MarketStore interface {
	// Create assigns the next market id and persists the record.
	Create(ctx context.Context, m Market) (uint64, error)
	Get(ctx context.Context, id uint64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)

	// MarkResolved records the outcome. Fails with ErrAlreadyResolved when
	// outcomeReported is already set.
	MarkResolved(ctx context.Context, id uint64, winning bool, price int64, at time.Time) error

	// MarkDecryptRequested stores the pool decrypt tickets and sets the
	// one-shot flag. Fails with ErrAlreadyDecryptRequested on re-entry.
	MarkDecryptRequested(ctx context.Context, id uint64, yesTicket, noTicket string) error

	// ResetDecryptTickets replaces the pool tickets after a failed
	// decryption, leaving decryptRequested set.
	ResetDecryptTickets(ctx context.Context, id uint64, yesTicket, noTicket string) error

	// MarkSettled consumes the decrypted totals. Fails with
	// ErrAlreadySettled on re-entry.
	MarkSettled(ctx context.Context, id uint64, poolYes, poolNo, fee, distributable uint64, at time.Time) error
}

// PoolUpdate describes the pool mutation applied atomically with a bet
// insert. Native markets set the deltas; shielded markets replace the
// encrypted pool handles computed by the gateway.
type PoolUpdate struct {
	NativeYesDelta  uint64
	NativeNoDelta   uint64
	ShieldedPoolYes Handle
	ShieldedPoolNo  Handle
}

// BetStore persists bets. Place and MarkWithdrawn are the all-or-nothing
// writes the ledger's invariants hang on.
type BetStore interface {
	// Place appends a bet at the market's next index and applies the pool
	// update in the same transaction, returning the assigned index. Fails
	// with ErrMarketNotOpen if the market resolved or settled concurrently.
	Place(ctx context.Context, bet Bet, pools PoolUpdate) (uint64, error)

	Get(ctx context.Context, marketID, betIndex uint64) (Bet, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Bet, error)
	ListByBettor(ctx context.Context, bettor common.Address, opts ListOpts) ([]Bet, error)
	Count(ctx context.Context, marketID uint64) (uint64, error)

	// MarkDecryptRequested stores the stake/side tickets and sets the
	// bet-level flag. The replace flag permits overwriting tickets after a
	// failed decryption; otherwise re-entry fails with
	// ErrAlreadyDecryptRequested.
	MarkDecryptRequested(ctx context.Context, marketID, betIndex uint64, stakeTicket, sideTicket string, replace bool) error

	// MarkWithdrawn records the revealed stake/side and payout, and flips
	// withdrawn exactly once. Fails with ErrAlreadyWithdrawn if the flag
	// is already set, without touching the row.
	MarkWithdrawn(ctx context.Context, marketID, betIndex uint64, stake uint64, side bool, payout uint64) error
}

// BalanceStore persists shielded balances and operator delegations.
type BalanceStore interface {
	Get(ctx context.Context, principal common.Address) (ShieldedBalance, error)
	// SetBalance upserts the balance handle for a principal.
	SetBalance(ctx context.Context, principal common.Address, h Handle) error
	// SetOperator records a time-bounded delegation to the ledger.
	SetOperator(ctx context.Context, principal common.Address, until time.Time) error
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
