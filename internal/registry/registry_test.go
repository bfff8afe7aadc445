package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/gateway"
	"github.com/veilmarket/veilmarket/internal/oracle"
	"github.com/veilmarket/veilmarket/internal/store/memory"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	nobody = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// harness bundles the service with the fakes behind it so tests can drive
// the clock, the oracle, and the gateway directly.
type harness struct {
	svc     *Service
	store   *memory.Store
	gateway *gateway.Memory
	oracle  *oracle.Static
	clock   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	signer, err := crypto.NewQuoteSigner(testKey)
	if err != nil {
		t.Fatalf("NewQuoteSigner: %v", err)
	}

	h := &harness{
		store:   memory.New(),
		gateway: gateway.NewMemory(),
		oracle:  oracle.NewStatic(signer),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewService(
		h.store.Markets(),
		memory.NewCache(),
		h.gateway,
		h.oracle,
		memory.NewLocks(),
		memory.NewBus(),
		h.store.Audit(),
		logger,
		owner,
		time.Hour,
	)
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) createMarket(t *testing.T, currency domain.Currency) domain.Market {
	t.Helper()
	m, err := h.svc.CreateMarket(context.Background(), CreateMarketParams{
		Question:  "Will BTC close above 65000?",
		Creator:   owner,
		CloseTime: h.clock.Add(time.Hour),
		FeeBps:    500,
		Currency:  currency,
		FeedID:    "BTC-USD",
		Threshold: 65000_00000000,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func TestCreateMarketValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := CreateMarketParams{
		Question:  "q",
		Creator:   owner,
		CloseTime: h.clock.Add(time.Hour),
		FeeBps:    100,
		Currency:  domain.CurrencyNative,
		FeedID:    "BTC-USD",
	}

	cases := []struct {
		name   string
		mutate func(*CreateMarketParams)
		want   error
	}{
		{"not owner", func(p *CreateMarketParams) { p.Creator = nobody }, domain.ErrUnauthorized},
		{"empty question", func(p *CreateMarketParams) { p.Question = "" }, domain.ErrInvalidConfiguration},
		{"empty feed", func(p *CreateMarketParams) { p.FeedID = "" }, domain.ErrInvalidConfiguration},
		{"past close", func(p *CreateMarketParams) { p.CloseTime = h.clock.Add(-time.Minute) }, domain.ErrInvalidConfiguration},
		{"fee at 10000 bps", func(p *CreateMarketParams) { p.FeeBps = 10_000 }, domain.ErrInvalidConfiguration},
		{"fee above 10000 bps", func(p *CreateMarketParams) { p.FeeBps = 10_001 }, domain.ErrInvalidConfiguration},
		{"bad currency", func(p *CreateMarketParams) { p.Currency = "euro" }, domain.ErrInvalidConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			if _, err := h.svc.CreateMarket(ctx, p); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	// 9999 bps is the highest legal fee.
	base.FeeBps = 9_999
	m, err := h.svc.CreateMarket(ctx, base)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("expected assigned market id")
	}
	if got := m.StatusAt(h.clock); got != domain.MarketStatusOpen {
		t.Fatalf("status = %v, want open", got)
	}
}

func TestCreateShieldedMarketSeedsPools(t *testing.T) {
	h := newHarness(t)
	m := h.createMarket(t, domain.CurrencyShielded)

	if m.ShieldedPoolYes.IsZero() || m.ShieldedPoolNo.IsZero() {
		t.Fatal("expected seeded pool handles")
	}
}

func TestResolveAgainstOracle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	// Not closed yet.
	if _, err := h.svc.Resolve(ctx, m.ID); !errors.Is(err, domain.ErrMarketNotClosed) {
		t.Fatalf("err = %v, want ErrMarketNotClosed", err)
	}

	h.advance(2 * time.Hour)
	if err := h.oracle.SetPriceAt("BTC-USD", 65001_00000000, h.clock); err != nil {
		t.Fatalf("SetPriceAt: %v", err)
	}

	resolved, err := h.svc.Resolve(ctx, m.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.OutcomeReported || !resolved.WinningOutcome {
		t.Fatalf("market = %+v, want YES outcome", resolved)
	}
	if resolved.ResolvedPrice != 65001_00000000 {
		t.Fatalf("resolved price = %d", resolved.ResolvedPrice)
	}

	// Resolution is one-shot.
	if _, err := h.svc.Resolve(ctx, m.ID); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveThresholdIsStrict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	h.advance(2 * time.Hour)
	// Price exactly at the threshold resolves NO.
	if err := h.oracle.SetPriceAt("BTC-USD", 65000_00000000, h.clock); err != nil {
		t.Fatalf("SetPriceAt: %v", err)
	}

	resolved, err := h.svc.Resolve(ctx, m.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.WinningOutcome {
		t.Fatal("price equal to threshold must resolve NO")
	}
}

func TestResolveRejectsStaleQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	if err := h.oracle.SetPriceAt("BTC-USD", 70000_00000000, h.clock); err != nil {
		t.Fatalf("SetPriceAt: %v", err)
	}
	// Quote is two hours old by resolution time; max age is one hour.
	h.advance(2 * time.Hour)

	if _, err := h.svc.Resolve(ctx, m.ID); !errors.Is(err, domain.ErrStaleOracle) {
		t.Fatalf("err = %v, want ErrStaleOracle", err)
	}
}

func TestSettleNativeMarket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyNative)

	// Seed pools directly through the bet store.
	bets := h.store.Bets()
	mustPlace(t, bets, domain.Bet{MarketID: m.ID, Bettor: nobody, NativeCollateral: 300, DeclaredSide: true},
		domain.PoolUpdate{NativeYesDelta: 300})
	mustPlace(t, bets, domain.Bet{MarketID: m.ID, Bettor: nobody, NativeCollateral: 700, DeclaredSide: false},
		domain.PoolUpdate{NativeNoDelta: 700})

	h.advance(2 * time.Hour)
	if err := h.oracle.SetPriceAt("BTC-USD", 70000_00000000, h.clock); err != nil {
		t.Fatalf("SetPriceAt: %v", err)
	}
	if _, err := h.svc.Resolve(ctx, m.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Settle before the decrypt phase is rejected.
	if _, err := h.svc.Settle(ctx, m.ID); !errors.Is(err, domain.ErrDecryptNotReady) {
		t.Fatalf("err = %v, want ErrDecryptNotReady", err)
	}

	if _, err := h.svc.RequestDecrypt(ctx, m.ID); err != nil {
		t.Fatalf("RequestDecrypt: %v", err)
	}

	settled, err := h.svc.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !settled.Settled {
		t.Fatal("expected settled market")
	}
	if settled.SettledPoolYes != 300 || settled.SettledPoolNo != 700 {
		t.Fatalf("settled pools = %d/%d", settled.SettledPoolYes, settled.SettledPoolNo)
	}
	if settled.Fee != 35 || settled.Distributable != 665 {
		t.Fatalf("fee/distributable = %d/%d, want 35/665", settled.Fee, settled.Distributable)
	}

	// Settlement is one-shot.
	if _, err := h.svc.Settle(ctx, m.ID); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}
}

func TestSettleShieldedMarketPollsTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyShielded)

	// Fold encrypted stakes into the pools the way the ledger does.
	yesStake, _ := h.gateway.EncryptUint64(ctx, 400)
	poolYes, err := h.gateway.Add(ctx, m.ShieldedPoolYes, yesStake)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	noStake, _ := h.gateway.EncryptUint64(ctx, 600)
	poolNo, err := h.gateway.Add(ctx, m.ShieldedPoolNo, noStake)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	mustPlace(t, h.store.Bets(), domain.Bet{MarketID: m.ID, Bettor: nobody},
		domain.PoolUpdate{ShieldedPoolYes: poolYes, ShieldedPoolNo: poolNo})

	h.advance(2 * time.Hour)
	if err := h.oracle.SetPriceAt("BTC-USD", 60000_00000000, h.clock); err != nil {
		t.Fatalf("SetPriceAt: %v", err)
	}
	if _, err := h.svc.Resolve(ctx, m.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The gateway answers pending on the first poll.
	h.gateway.DecryptDelay = 1
	if _, err := h.svc.RequestDecrypt(ctx, m.ID); err != nil {
		t.Fatalf("RequestDecrypt: %v", err)
	}
	if _, err := h.svc.Settle(ctx, m.ID); !errors.Is(err, domain.ErrDecryptNotReady) {
		t.Fatalf("err = %v, want ErrDecryptNotReady", err)
	}

	settled, err := h.svc.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// NO won: winning pool 600, losing 400, fee 20, distributable 380.
	if settled.SettledPoolYes != 400 || settled.SettledPoolNo != 600 {
		t.Fatalf("settled pools = %d/%d", settled.SettledPoolYes, settled.SettledPoolNo)
	}
	if settled.Fee != 20 || settled.Distributable != 380 {
		t.Fatalf("fee/distributable = %d/%d, want 20/380", settled.Fee, settled.Distributable)
	}
}

func TestSettleRecoversFromFailedDecrypt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.createMarket(t, domain.CurrencyShielded)

	h.advance(2 * time.Hour)
	if err := h.oracle.SetPriceAt("BTC-USD", 60000_00000000, h.clock); err != nil {
		t.Fatalf("SetPriceAt: %v", err)
	}
	if _, err := h.svc.Resolve(ctx, m.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := h.svc.RequestDecrypt(ctx, m.ID); err != nil {
		t.Fatalf("RequestDecrypt: %v", err)
	}

	// Fail the outstanding yes-pool ticket.
	stored, err := h.store.Markets().Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h.gateway.FailTicket(stored.PoolYesTicket)

	if _, err := h.svc.Settle(ctx, m.ID); !errors.Is(err, domain.ErrDecryptFailed) {
		t.Fatalf("err = %v, want ErrDecryptFailed", err)
	}

	// Fresh tickets were issued; the next settle succeeds.
	settled, err := h.svc.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle after reissue: %v", err)
	}
	if !settled.Settled {
		t.Fatal("expected settled market")
	}
}

func TestRequestDecryptRequiresResolution(t *testing.T) {
	h := newHarness(t)
	m := h.createMarket(t, domain.CurrencyNative)

	if _, err := h.svc.RequestDecrypt(context.Background(), m.ID); !errors.Is(err, domain.ErrNotResolved) {
		t.Fatalf("err = %v, want ErrNotResolved", err)
	}
}

func mustPlace(t *testing.T, bets domain.BetStore, bet domain.Bet, pools domain.PoolUpdate) {
	t.Helper()
	if _, err := bets.Place(context.Background(), bet, pools); err != nil {
		t.Fatalf("Place: %v", err)
	}
}
