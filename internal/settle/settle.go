// Package settle implements the pari-mutuel payout arithmetic. Everything
// here is pure computation over decrypted pool totals and one bet's revealed
// stake and side; no state is read or written.
package settle

import "math/big"

// Split is the fixed division of a market's pools computed once at
// settlement, before any individual payout.
type Split struct {
	WinningOutcome bool
	WinningPool    uint64
	LosingPool     uint64
	Fee            uint64
	Distributable  uint64
}

// ComputeSplit derives the settlement split from the decrypted pool totals.
// The fee is taken from the losing pool in basis points; the remainder is
// distributed to winners proportionally to stake.
func ComputeSplit(winningOutcome bool, poolYes, poolNo uint64, feeBps uint32) Split {
	winning, losing := poolYes, poolNo
	if !winningOutcome {
		winning, losing = poolNo, poolYes
	}

	// With an empty winning pool every stake is refunded in full, so no
	// fee is taken.
	var fee uint64
	if winning > 0 {
		fee = mulDiv(losing, uint64(feeBps), 10_000)
	}

	return Split{
		WinningOutcome: winningOutcome,
		WinningPool:    winning,
		LosingPool:     losing,
		Fee:            fee,
		Distributable:  losing - fee,
	}
}

// Payout computes one bet's payout from its revealed stake and side.
//
// Losing bets forfeit the stake entirely; it stays in the pool. Winning
// bets receive their stake back plus a proportional share of the
// distributable losing pool, with integer division truncating toward zero.
// The truncation remainder accumulates as dust in the pool and is never
// redistributed. When the winning pool is empty there are no winners to
// split among, so the stake is refunded in full with no fee.
func Payout(stake uint64, side bool, s Split) uint64 {
	if s.WinningPool == 0 {
		return stake
	}
	if side != s.WinningOutcome {
		return 0
	}
	return stake + mulDiv(stake, s.Distributable, s.WinningPool)
}

// mulDiv returns a*b/c with a 128-bit intermediate product so pool-sized
// operands cannot overflow.
func mulDiv(a, b, c uint64) uint64 {
	p := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	p.Quo(p, new(big.Int).SetUint64(c))
	return p.Uint64()
}
