package settle

import "testing"

func TestComputeSplit(t *testing.T) {
	s := ComputeSplit(true, 300, 700, 500)
	if s.WinningPool != 300 || s.LosingPool != 700 {
		t.Fatalf("pools = %d/%d, want 300/700", s.WinningPool, s.LosingPool)
	}
	if s.Fee != 35 {
		t.Fatalf("fee = %d, want 35", s.Fee)
	}
	if s.Distributable != 665 {
		t.Fatalf("distributable = %d, want 665", s.Distributable)
	}
}

func TestComputeSplitNoOutcome(t *testing.T) {
	s := ComputeSplit(false, 300, 700, 500)
	if s.WinningPool != 700 || s.LosingPool != 300 {
		t.Fatalf("pools = %d/%d, want 700/300", s.WinningPool, s.LosingPool)
	}
	if s.Fee != 15 {
		t.Fatalf("fee = %d, want 15", s.Fee)
	}
}

func TestPayoutProportional(t *testing.T) {
	s := ComputeSplit(true, 300, 700, 500)
	// 100 + 100*665/300 = 100 + 221 = 321, remainder stays as dust.
	if got := Payout(100, true, s); got != 321 {
		t.Fatalf("payout = %d, want 321", got)
	}
	if got := Payout(200, true, s); got != 643 {
		t.Fatalf("payout = %d, want 643", got)
	}
}

func TestPayoutLosingSide(t *testing.T) {
	s := ComputeSplit(true, 300, 700, 500)
	if got := Payout(250, false, s); got != 0 {
		t.Fatalf("payout = %d, want 0", got)
	}
}

func TestPayoutConservation(t *testing.T) {
	stakes := []uint64{100, 200}
	s := ComputeSplit(true, 300, 700, 500)
	var total uint64
	for _, st := range stakes {
		total += Payout(st, true, s)
	}
	// Sum of payouts never exceeds winning pool + distributable.
	if max := s.WinningPool + s.Distributable; total > max {
		t.Fatalf("total payouts %d exceed %d", total, max)
	}
	// Here 321+643 = 964, leaving 1 unit of dust.
	if total != 964 {
		t.Fatalf("total payouts = %d, want 964", total)
	}
}

func TestZeroWinnerRefund(t *testing.T) {
	s := ComputeSplit(true, 0, 100, 100)
	if s.Fee != 0 {
		t.Fatalf("fee = %d, want 0 when winning pool is empty", s.Fee)
	}
	if got := Payout(40, false, s); got != 40 {
		t.Fatalf("payout = %d, want full refund of 40", got)
	}
}

func TestPayoutLargePools(t *testing.T) {
	// Pools near the uint64 range must not overflow the intermediate
	// product.
	const big = uint64(1) << 62
	s := ComputeSplit(true, big, big, 100)
	if got := Payout(big, true, s); got <= big {
		t.Fatalf("payout = %d, want stake plus a positive share", got)
	}
}
