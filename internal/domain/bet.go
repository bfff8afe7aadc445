package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Bet is one principal's escrowed position on a market, identified by
// (MarketID, BetIndex). BetIndex is assigned sequentially per market
// starting at 0 and never reused.
//
// The stake and side handles are the bettor's private record; the ledger
// cannot inspect them. For native markets the transferred collateral is the
// authoritative stake for pool accounting and the declared side drives the
// plaintext pool split. For shielded markets no plaintext exists anywhere:
// collateral is an encrypted commitment debited from the bettor's shielded
// balance, and pool accounting happens homomorphically.
type Bet struct {
	MarketID uint64         `json:"market_id"`
	BetIndex uint64         `json:"bet_index"`
	Bettor   common.Address `json:"bettor"`

	StakeHandle Handle `json:"stake_handle"`
	SideHandle  Handle `json:"side_handle"`

	// Native-market escrow.
	NativeCollateral uint64 `json:"native_collateral"`
	DeclaredSide     bool   `json:"declared_side"`

	// Shielded-market escrow.
	ShieldedCollateral Handle `json:"shielded_collateral,omitempty"`

	DecryptRequested bool   `json:"decrypt_requested"`
	StakeTicket      string `json:"-"`
	SideTicket       string `json:"-"`

	// Set when withdraw consumes the decrypt tickets.
	RevealedStake uint64 `json:"revealed_stake"`
	RevealedSide  bool   `json:"revealed_side"`

	Withdrawn bool   `json:"withdrawn"`
	Payout    uint64 `json:"payout"`

	PlacedAt time.Time `json:"placed_at"`
}

// ShieldedBalance is a principal's encrypted deposit balance together with
// the operator delegation that lets the ledger debit it at bet time.
type ShieldedBalance struct {
	Principal     common.Address `json:"principal"`
	Balance       Handle         `json:"balance"`
	OperatorUntil time.Time      `json:"operator_until"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// OperatorActive reports whether the ledger holds a live delegation to
// debit this balance.
func (b ShieldedBalance) OperatorActive(now time.Time) bool {
	return now.Before(b.OperatorUntil)
}
