package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/gateway"
	"github.com/veilmarket/veilmarket/internal/settle"
	"github.com/veilmarket/veilmarket/internal/store/memory"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type harness struct {
	svc     *Service
	store   *memory.Store
	gateway *gateway.Memory
	clock   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   memory.New(),
		gateway: gateway.NewMemory(),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewService(
		h.store.Markets(),
		h.store.Bets(),
		h.store.Balances(),
		memory.NewCache(),
		h.gateway,
		memory.NewLocks(),
		memory.NewBus(),
		h.store.Audit(),
		logger,
	)
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) createMarket(t *testing.T, currency domain.Currency) domain.Market {
	t.Helper()
	ctx := context.Background()

	m := domain.Market{
		Question:  "Will ETH close above 3000?",
		CloseTime: h.clock.Add(time.Hour),
		FeeBps:    500,
		Currency:  currency,
		FeedID:    "ETH-USD",
		Threshold: 3000_00000000,
	}
	if currency == domain.CurrencyShielded {
		var err error
		if m.ShieldedPoolYes, err = h.gateway.EncryptUint64(ctx, 0); err != nil {
			t.Fatalf("EncryptUint64: %v", err)
		}
		if m.ShieldedPoolNo, err = h.gateway.EncryptUint64(ctx, 0); err != nil {
			t.Fatalf("EncryptUint64: %v", err)
		}
	}

	id, err := h.store.Create(ctx, m)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created, err := h.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return created
}

// resolveAndSettle drives the market through resolution and settlement the
// way the registry does, reusing the stored pools.
func (h *harness) resolveAndSettle(t *testing.T, id uint64, winning bool) {
	t.Helper()
	ctx := context.Background()

	if err := h.store.MarkResolved(ctx, id, winning, 3100_00000000, h.clock); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}

	m, err := h.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	poolYes, poolNo := m.NativePoolYes, m.NativePoolNo
	if m.Currency == domain.CurrencyShielded {
		poolYes = h.reveal(t, m.ShieldedPoolYes)
		poolNo = h.reveal(t, m.ShieldedPoolNo)
	}
	if err := h.store.MarkDecryptRequested(ctx, id, "", ""); err != nil {
		t.Fatalf("MarkDecryptRequested: %v", err)
	}

	split := settle.ComputeSplit(winning, poolYes, poolNo, m.FeeBps)
	if err := h.store.MarkSettled(ctx, id, poolYes, poolNo, split.Fee, split.Distributable, h.clock); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
}

func (h *harness) reveal(t *testing.T, handle domain.Handle) uint64 {
	t.Helper()
	tk, err := h.gateway.RequestDecrypt(context.Background(), handle)
	if err != nil {
		t.Fatalf("RequestDecrypt: %v", err)
	}
	res, err := h.gateway.PollDecrypt(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("PollDecrypt: %v", err)
	}
	if res.State != domain.DecryptRevealed {
		t.Fatalf("state = %v, want revealed", res.State)
	}
	return res.Value
}

func (h *harness) encrypt(t *testing.T, v uint64) domain.Handle {
	t.Helper()
	handle, err := h.gateway.EncryptUint64(context.Background(), v)
	if err != nil {
		t.Fatalf("EncryptUint64: %v", err)
	}
	return handle
}

func (h *harness) encryptBool(t *testing.T, v bool) domain.Handle {
	t.Helper()
	handle, err := h.gateway.EncryptBool(context.Background(), v)
	if err != nil {
		t.Fatalf("EncryptBool: %v", err)
	}
	return handle
}

func (h *harness) placeNative(t *testing.T, marketID uint64, bettor common.Address, stake uint64, side bool) domain.Bet {
	t.Helper()
	bet, err := h.svc.PlaceBet(context.Background(), PlaceBetParams{
		MarketID:     marketID,
		Bettor:       bettor,
		StakeHandle:  h.encrypt(t, stake),
		SideHandle:   h.encryptBool(t, side),
		Collateral:   stake,
		DeclaredSide: side,
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	return bet
}

func TestPlaceBetUpdatesNativePools(t *testing.T) {
	h := newHarness(t)
	m := h.createMarket(t, domain.CurrencyNative)

	b0 := h.placeNative(t, m.ID, alice, 300, true)
	b1 := h.placeNative(t, m.ID, bob, 700, false)

	if b0.BetIndex != 0 || b1.BetIndex != 1 {
		t.Fatalf("indexes = %d/%d, want 0/1", b0.BetIndex, b1.BetIndex)
	}

	stored, err := h.store.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.NativePoolYes != 300 || stored.NativePoolNo != 700 {
		t.Fatalf("pools = %d/%d, want 300/700", stored.NativePoolYes, stored.NativePoolNo)
	}
}

func TestPlaceBetRejectsClosedMarket(t *testing.T) {
	h := newHarness(t)
	m := h.createMarket(t, domain.CurrencyNative)

	h.advance(2 * time.Hour)
	_, err := h.svc.PlaceBet(context.Background(), PlaceBetParams{
		MarketID:     m.ID,
		Bettor:       alice,
		StakeHandle:  h.encrypt(t, 100),
		SideHandle:   h.encryptBool(t, true),
		Collateral:   100,
		DeclaredSide: true,
	})
	if !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Fatalf("err = %v, want ErrMarketNotOpen", err)
	}
}

func TestPlaceBetRejectsZeroCollateral(t *testing.T) {
	h := newHarness(t)
	m := h.createMarket(t, domain.CurrencyNative)

	_, err := h.svc.PlaceBet(context.Background(), PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      alice,
		StakeHandle: h.encrypt(t, 0),
		SideHandle:  h.encryptBool(t, true),
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestNativeWithdrawLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	h.placeNative(t, m.ID, alice, 300, true)
	h.placeNative(t, m.ID, bob, 700, false)

	h.advance(2 * time.Hour)

	// Reveal before settlement is rejected.
	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 0, alice); !errors.Is(err, domain.ErrDecryptNotReady) {
		t.Fatalf("err = %v, want ErrDecryptNotReady", err)
	}

	h.resolveAndSettle(t, m.ID, true)

	// Only the bettor may reveal.
	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 0, bob); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	// Withdraw before requesting the reveal is rejected.
	if _, err := h.svc.Withdraw(ctx, m.ID, 0, alice); !errors.Is(err, domain.ErrDecryptNotReady) {
		t.Fatalf("err = %v, want ErrDecryptNotReady", err)
	}

	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 0, alice); err != nil {
		t.Fatalf("RequestBetDecrypt: %v", err)
	}
	// One-shot.
	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 0, alice); !errors.Is(err, domain.ErrAlreadyDecryptRequested) {
		t.Fatalf("err = %v, want ErrAlreadyDecryptRequested", err)
	}

	withdrawn, err := h.svc.Withdraw(ctx, m.ID, 0, alice)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	// 300 + 300*665/300 = 965.
	if withdrawn.Payout != 965 {
		t.Fatalf("payout = %d, want 965", withdrawn.Payout)
	}
	if !withdrawn.Withdrawn || withdrawn.RevealedStake != 300 || !withdrawn.RevealedSide {
		t.Fatalf("bet = %+v", withdrawn)
	}

	// Double withdraw is rejected.
	if _, err := h.svc.Withdraw(ctx, m.ID, 0, alice); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("err = %v, want ErrAlreadyWithdrawn", err)
	}

	// The losing side reveals and withdraws a zero payout.
	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 1, bob); err != nil {
		t.Fatalf("RequestBetDecrypt: %v", err)
	}
	lost, err := h.svc.Withdraw(ctx, m.ID, 1, bob)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if lost.Payout != 0 || !lost.Withdrawn {
		t.Fatalf("losing bet = %+v, want zero payout, withdrawn", lost)
	}
	if _, err := h.svc.Withdraw(ctx, m.ID, 1, bob); !errors.Is(err, domain.ErrAlreadyWithdrawn) {
		t.Fatalf("err = %v, want ErrAlreadyWithdrawn", err)
	}
}

func TestShieldedBetLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyShielded)

	// Deposit requires a real amount handle.
	if _, err := h.svc.Deposit(ctx, alice, domain.Handle{}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}

	if _, err := h.svc.Deposit(ctx, alice, h.encrypt(t, 1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// Betting without an operator grant is rejected.
	_, err := h.svc.PlaceBet(ctx, PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      alice,
		StakeHandle: h.encrypt(t, 400),
		SideHandle:  h.encryptBool(t, true),
	})
	if !errors.Is(err, domain.ErrInsufficientAuthorization) {
		t.Fatalf("err = %v, want ErrInsufficientAuthorization", err)
	}

	if err := h.svc.SetOperator(ctx, alice, h.clock.Add(time.Hour)); err != nil {
		t.Fatalf("SetOperator: %v", err)
	}

	bet, err := h.svc.PlaceBet(ctx, PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      alice,
		StakeHandle: h.encrypt(t, 400),
		SideHandle:  h.encryptBool(t, true),
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if bet.ShieldedCollateral.IsZero() {
		t.Fatal("expected shielded collateral commitment")
	}

	// The balance was debited homomorphically.
	bal, err := h.svc.GetBalance(ctx, alice)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got := h.reveal(t, bal.Balance); got != 600 {
		t.Fatalf("balance = %d, want 600", got)
	}

	// Bob bets NO with his own shielded funds.
	if _, err := h.svc.Deposit(ctx, bob, h.encrypt(t, 600)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.svc.SetOperator(ctx, bob, h.clock.Add(time.Hour)); err != nil {
		t.Fatalf("SetOperator: %v", err)
	}
	if _, err := h.svc.PlaceBet(ctx, PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      bob,
		StakeHandle: h.encrypt(t, 600),
		SideHandle:  h.encryptBool(t, false),
	}); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	// The encrypted pools fold both stakes without revealing sides.
	stored, err := h.store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := h.reveal(t, stored.ShieldedPoolYes); got != 400 {
		t.Fatalf("yes pool = %d, want 400", got)
	}
	if got := h.reveal(t, stored.ShieldedPoolNo); got != 600 {
		t.Fatalf("no pool = %d, want 600", got)
	}

	h.advance(2 * time.Hour)
	h.resolveAndSettle(t, m.ID, true)

	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, bet.BetIndex, alice); err != nil {
		t.Fatalf("RequestBetDecrypt: %v", err)
	}
	withdrawn, err := h.svc.Withdraw(ctx, m.ID, bet.BetIndex, alice)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	// YES won: fee = 600*5% = 30, distributable 570, payout 400+400*570/400 = 970.
	if withdrawn.Payout != 970 {
		t.Fatalf("payout = %d, want 970", withdrawn.Payout)
	}

	// The payout was credited back to the shielded balance.
	bal, err = h.svc.GetBalance(ctx, alice)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got := h.reveal(t, bal.Balance); got != 1570 {
		t.Fatalf("balance = %d, want 1570", got)
	}
}

func TestShieldedOverdraftStakesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyShielded)

	if _, err := h.svc.Deposit(ctx, alice, h.encrypt(t, 100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.svc.SetOperator(ctx, alice, h.clock.Add(time.Hour)); err != nil {
		t.Fatalf("SetOperator: %v", err)
	}

	// Staking more than the balance escrows an encrypted zero: nothing is
	// debited and nothing reaches the pools.
	bet, err := h.svc.PlaceBet(ctx, PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      alice,
		StakeHandle: h.encrypt(t, 400),
		SideHandle:  h.encryptBool(t, true),
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	bal, err := h.svc.GetBalance(ctx, alice)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got := h.reveal(t, bal.Balance); got != 100 {
		t.Fatalf("balance = %d, want untouched 100", got)
	}

	stored, err := h.store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := h.reveal(t, stored.ShieldedPoolYes); got != 0 {
		t.Fatalf("yes pool = %d, want 0", got)
	}
	if got := h.reveal(t, stored.ShieldedPoolNo); got != 0 {
		t.Fatalf("no pool = %d, want 0", got)
	}

	// The recorded stake is the escrowed amount, so the eventual reveal and
	// payout see zero, not the submitted 400.
	if got := h.reveal(t, bet.StakeHandle); got != 0 {
		t.Fatalf("recorded stake = %d, want 0", got)
	}

	// A stake exactly covering the balance still escrows in full.
	if _, err := h.svc.PlaceBet(ctx, PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      alice,
		StakeHandle: h.encrypt(t, 100),
		SideHandle:  h.encryptBool(t, true),
	}); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	bal, err = h.svc.GetBalance(ctx, alice)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got := h.reveal(t, bal.Balance); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	stored, err = h.store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := h.reveal(t, stored.ShieldedPoolYes); got != 100 {
		t.Fatalf("yes pool = %d, want 100", got)
	}
}

func TestRequestBetDecryptRequiresSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	h.placeNative(t, m.ID, alice, 100, true)
	h.advance(2 * time.Hour)

	// Resolved but not yet settled: stakes stay sealed.
	if err := h.store.MarkResolved(ctx, m.ID, true, 3100_00000000, h.clock); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 0, alice); !errors.Is(err, domain.ErrDecryptNotReady) {
		t.Fatalf("err = %v, want ErrDecryptNotReady", err)
	}

	bet, err := h.store.GetBet(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if bet.DecryptRequested {
		t.Fatal("decrypt flag set on a rejected reveal")
	}
}

func TestWithdrawRecoversFromFailedDecrypt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	h.placeNative(t, m.ID, alice, 100, true)
	h.advance(2 * time.Hour)
	h.resolveAndSettle(t, m.ID, true)

	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, 0, alice); err != nil {
		t.Fatalf("RequestBetDecrypt: %v", err)
	}

	stored, err := h.store.GetBet(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	h.gateway.FailTicket(stored.StakeTicket)

	if _, err := h.svc.Withdraw(ctx, m.ID, 0, alice); !errors.Is(err, domain.ErrDecryptFailed) {
		t.Fatalf("err = %v, want ErrDecryptFailed", err)
	}

	// Fresh tickets were issued; the retry succeeds.
	withdrawn, err := h.svc.Withdraw(ctx, m.ID, 0, alice)
	if err != nil {
		t.Fatalf("Withdraw after reissue: %v", err)
	}
	if withdrawn.Payout != 100 {
		t.Fatalf("payout = %d, want 100", withdrawn.Payout)
	}
}

func TestWithdrawPoolConservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	stakes := []struct {
		bettor common.Address
		amount uint64
		side   bool
	}{
		{alice, 137, true},
		{bob, 263, true},
		{alice, 401, false},
		{bob, 199, false},
	}
	for _, s := range stakes {
		h.placeNative(t, m.ID, s.bettor, s.amount, s.side)
	}

	h.advance(2 * time.Hour)
	h.resolveAndSettle(t, m.ID, true)

	stored, err := h.store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var total uint64
	for i := range stakes {
		idx := uint64(i)
		if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, idx, stakes[i].bettor); err != nil {
			t.Fatalf("RequestBetDecrypt %d: %v", i, err)
		}
		bet, err := h.svc.Withdraw(ctx, m.ID, idx, stakes[i].bettor)
		if err != nil {
			t.Fatalf("Withdraw %d: %v", i, err)
		}
		total += bet.Payout
	}

	// Total payouts plus the fee never exceed the escrowed pools.
	escrowed := stored.SettledPoolYes + stored.SettledPoolNo
	if total+stored.Fee > escrowed {
		t.Fatalf("payouts %d + fee %d exceed escrow %d", total, stored.Fee, escrowed)
	}
}

// flakyBalances fails balance writes on demand so the payout-credit failure
// path is reachable with otherwise healthy collaborators.
type flakyBalances struct {
	domain.BalanceStore
	fail bool
}

func (f *flakyBalances) SetBalance(ctx context.Context, principal common.Address, h domain.Handle) error {
	if f.fail {
		return errors.New("balance store unavailable")
	}
	return f.BalanceStore.SetBalance(ctx, principal, h)
}

func TestWithdrawRecordsFailedCreditForOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyShielded)

	balances := &flakyBalances{BalanceStore: h.store.Balances()}
	h.svc.balances = balances

	if _, err := h.svc.Deposit(ctx, alice, h.encrypt(t, 500)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.svc.SetOperator(ctx, alice, h.clock.Add(time.Hour)); err != nil {
		t.Fatalf("SetOperator: %v", err)
	}
	bet, err := h.svc.PlaceBet(ctx, PlaceBetParams{
		MarketID:    m.ID,
		Bettor:      alice,
		StakeHandle: h.encrypt(t, 500),
		SideHandle:  h.encryptBool(t, true),
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	h.advance(2 * time.Hour)
	h.resolveAndSettle(t, m.ID, true)
	if _, err := h.svc.RequestBetDecrypt(ctx, m.ID, bet.BetIndex, alice); err != nil {
		t.Fatalf("RequestBetDecrypt: %v", err)
	}

	balances.fail = true
	withdrawn, err := h.svc.Withdraw(ctx, m.ID, bet.BetIndex, alice)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !withdrawn.Withdrawn || withdrawn.Payout != 500 {
		t.Fatalf("bet = %+v, want withdrawn with payout 500", withdrawn)
	}

	// The owed credit is audited with principal and amount so an operator
	// can replay it.
	entries, err := h.store.Audit().List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("List audit: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Event != domain.EventCreditFailed {
			continue
		}
		found = true
		if e.Detail["principal"] != alice.Hex() {
			t.Fatalf("principal = %v, want %s", e.Detail["principal"], alice.Hex())
		}
	}
	if !found {
		t.Fatal("no credit_failed audit entry")
	}
}

func TestRevealBalanceAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Deposit(ctx, alice, h.encrypt(t, 50)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if _, err := h.svc.RevealBalance(ctx, alice, bob); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	tk, err := h.svc.RevealBalance(ctx, alice, alice)
	if err != nil {
		t.Fatalf("RevealBalance: %v", err)
	}
	res, err := h.svc.PollDecrypt(ctx, tk.ID)
	if err != nil {
		t.Fatalf("PollDecrypt: %v", err)
	}
	if res.State != domain.DecryptRevealed || res.Value != 50 {
		t.Fatalf("result = %+v, want revealed 50", res)
	}
}

func TestSetOperatorRejectsPastExpiry(t *testing.T) {
	h := newHarness(t)
	err := h.svc.SetOperator(context.Background(), alice, h.clock.Add(-time.Minute))
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}
