package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Currency determines how bet collateral is held for a market.
type Currency string

const (
	// CurrencyNative escrows plaintext value transferred with the bet.
	CurrencyNative Currency = "native"
	// CurrencyShielded debits an encrypted balance; all amounts stay
	// encrypted until settlement-time decryption.
	CurrencyShielded Currency = "shielded"
)

// MarketStatus is the derived lifecycle state of a market. "Closed" is a
// pure function of close time and the current clock, never stored.
type MarketStatus string

const (
	MarketStatusOpen           MarketStatus = "open"
	MarketStatusClosed         MarketStatus = "closed"
	MarketStatusResolved       MarketStatus = "resolved"
	MarketStatusDecryptPending MarketStatus = "decrypt_pending"
	MarketStatusSettled        MarketStatus = "settled"
)

// Market is a single yes/no proposition resolved against a price feed.
// Lifecycle flags are strictly forward: outcomeReported, decryptRequested
// and settled are each set exactly once.
type Market struct {
	ID        uint64         `json:"id"`
	Question  string         `json:"question"`
	Creator   common.Address `json:"creator"`
	CloseTime time.Time      `json:"close_time"`
	FeeBps    uint32         `json:"fee_bps"`
	Currency  Currency       `json:"currency"`

	// Resolution parameters, fixed at creation. Threshold is an 8-decimal
	// fixed-point price; the market resolves YES when the feed reports a
	// price strictly above it.
	FeedID    string `json:"feed_id"`
	Threshold int64  `json:"threshold"`

	OutcomeReported bool       `json:"outcome_reported"`
	WinningOutcome  bool       `json:"winning_outcome"`
	ResolvedPrice   int64      `json:"resolved_price"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	// Plaintext pool accumulators (native markets only). Append-only until
	// settlement; withdrawals never mutate them.
	NativePoolYes uint64 `json:"native_pool_yes"`
	NativePoolNo  uint64 `json:"native_pool_no"`

	// Encrypted pool accumulators (shielded markets only).
	ShieldedPoolYes Handle `json:"shielded_pool_yes,omitempty"`
	ShieldedPoolNo  Handle `json:"shielded_pool_no,omitempty"`

	DecryptRequested bool   `json:"decrypt_requested"`
	PoolYesTicket    string `json:"-"`
	PoolNoTicket     string `json:"-"`

	Settled        bool       `json:"settled"`
	SettledPoolYes uint64     `json:"settled_pool_yes"`
	SettledPoolNo  uint64     `json:"settled_pool_no"`
	Fee            uint64     `json:"fee"`
	Distributable  uint64     `json:"distributable"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusAt derives the lifecycle state as of the given instant.
func (m Market) StatusAt(now time.Time) MarketStatus {
	switch {
	case m.Settled:
		return MarketStatusSettled
	case m.DecryptRequested:
		return MarketStatusDecryptPending
	case m.OutcomeReported:
		return MarketStatusResolved
	case !now.Before(m.CloseTime):
		return MarketStatusClosed
	default:
		return MarketStatusOpen
	}
}

// AcceptingBets reports whether a bet placed at now would be admitted.
func (m Market) AcceptingBets(now time.Time) bool {
	return !m.OutcomeReported && now.Before(m.CloseTime)
}
