// Package registry implements the market lifecycle: creation, oracle
// resolution, pool decryption, and settlement. Betting against markets
// lives in the ledger package.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/settle"
)

// lockTTL bounds how long a crashed process can hold a market lock.
const lockTTL = 30 * time.Second

// Service coordinates market lifecycle transitions. Every mutating
// operation runs under the per-market lock, and the store's conditional
// writes enforce the one-shot transitions a second time.
type Service struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	gateway domain.Gateway
	oracle  domain.PriceOracle
	locks   domain.LockManager
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger

	owner       common.Address
	maxQuoteAge time.Duration

	now func() time.Time
}

// NewService creates a registry Service.
//
// owner is the only principal allowed to create markets. maxQuoteAge bounds
// how old an oracle quote may be at resolution time.
func NewService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	gateway domain.Gateway,
	oracle domain.PriceOracle,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	owner common.Address,
	maxQuoteAge time.Duration,
) *Service {
	return &Service{
		markets:     markets,
		cache:       cache,
		gateway:     gateway,
		oracle:      oracle,
		locks:       locks,
		bus:         bus,
		audit:       audit,
		logger:      logger,
		owner:       owner,
		maxQuoteAge: maxQuoteAge,
		now:         time.Now,
	}
}

// CreateMarketParams are the caller-supplied market parameters; everything
// else is fixed by the service at creation.
type CreateMarketParams struct {
	Question  string
	Creator   common.Address
	CloseTime time.Time
	FeeBps    uint32
	Currency  domain.Currency
	FeedID    string
	Threshold int64
}

// CreateMarket validates the parameters and persists a new market. Only the
// configured owner may create markets. Shielded markets get their encrypted
// pool accumulators seeded to zero so the first bet folds into a valid
// handle.
func (s *Service) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	if p.Creator != s.owner {
		return domain.Market{}, fmt.Errorf("registry: create market: creator %s: %w", p.Creator.Hex(), domain.ErrUnauthorized)
	}
	if p.Question == "" {
		return domain.Market{}, fmt.Errorf("registry: create market: empty question: %w", domain.ErrInvalidConfiguration)
	}
	if p.FeedID == "" {
		return domain.Market{}, fmt.Errorf("registry: create market: empty feed id: %w", domain.ErrInvalidConfiguration)
	}
	if !p.CloseTime.After(s.now()) {
		return domain.Market{}, fmt.Errorf("registry: create market: close time in the past: %w", domain.ErrInvalidConfiguration)
	}
	// A full 10000 bps fee would confiscate the entire losing pool.
	if p.FeeBps >= 10_000 {
		return domain.Market{}, fmt.Errorf("registry: create market: fee %d bps out of range: %w", p.FeeBps, domain.ErrInvalidConfiguration)
	}
	if p.Currency != domain.CurrencyNative && p.Currency != domain.CurrencyShielded {
		return domain.Market{}, fmt.Errorf("registry: create market: currency %q: %w", p.Currency, domain.ErrInvalidConfiguration)
	}

	m := domain.Market{
		Question:  p.Question,
		Creator:   p.Creator,
		CloseTime: p.CloseTime.UTC(),
		FeeBps:    p.FeeBps,
		Currency:  p.Currency,
		FeedID:    p.FeedID,
		Threshold: p.Threshold,
	}

	if p.Currency == domain.CurrencyShielded {
		var err error
		if m.ShieldedPoolYes, err = s.gateway.EncryptUint64(ctx, 0); err != nil {
			return domain.Market{}, fmt.Errorf("registry: create market: seed yes pool: %w", err)
		}
		if m.ShieldedPoolNo, err = s.gateway.EncryptUint64(ctx, 0); err != nil {
			return domain.Market{}, fmt.Errorf("registry: create market: seed no pool: %w", err)
		}
	}

	id, err := s.markets.Create(ctx, m)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: create market: %w", err)
	}

	created, err := s.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: create market: reload %d: %w", id, err)
	}

	s.cacheSet(ctx, created)
	s.auditLog(ctx, domain.EventMarketCreated, map[string]any{
		"market_id": id,
		"currency":  string(p.Currency),
		"feed_id":   p.FeedID,
	})
	s.publish(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: id})

	s.logger.InfoContext(ctx, "registry: market created",
		slog.Uint64("market_id", id),
		slog.String("currency", string(p.Currency)),
		slog.String("feed_id", p.FeedID),
	)

	return created, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a cache miss.
func (s *Service) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: get market %d: %w", id, err)
	}

	s.cacheSet(ctx, m)
	return m, nil
}

// ListMarkets returns markets directly from the persistent store.
func (s *Service) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("registry: list markets: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *Service) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: count: %w", err)
	}
	return count, nil
}

// Resolve reports the market's outcome from the price oracle. The market
// must have passed its close time and not be resolved yet. The outcome is
// YES exactly when the verified feed price is strictly above the market's
// threshold. Resolution is permissionless: the oracle, not the caller,
// determines the outcome.
func (s *Service) Resolve(ctx context.Context, id uint64) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(id), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: %w", id, err)
	}
	defer unlock()

	m, err := s.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: %w", id, err)
	}
	if m.OutcomeReported {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: %w", id, domain.ErrAlreadyResolved)
	}
	now := s.now()
	if now.Before(m.CloseTime) {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: %w", id, domain.ErrMarketNotClosed)
	}

	quote, err := s.oracle.GetPrice(ctx, m.FeedID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: %w", id, err)
	}
	if quote.UpdatedAt.Before(m.CloseTime) {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: quote predates close time: %w",
			id, domain.ErrStaleOracle)
	}
	if age := now.Sub(quote.UpdatedAt); age > s.maxQuoteAge {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: quote age %s exceeds %s: %w",
			id, age.Round(time.Second), s.maxQuoteAge, domain.ErrStaleOracle)
	}

	winning := quote.Price > m.Threshold
	if err := s.markets.MarkResolved(ctx, id, winning, quote.Price, now.UTC()); err != nil {
		return domain.Market{}, fmt.Errorf("registry: resolve %d: %w", id, err)
	}

	s.cacheInvalidate(ctx, id)
	s.auditLog(ctx, domain.EventMarketResolved, map[string]any{
		"market_id":       id,
		"winning_outcome": winning,
		"resolved_price":  quote.Price,
		"round":           quote.Round,
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: id,
		Detail:   map[string]any{"winning_outcome": winning, "resolved_price": quote.Price},
	})

	s.logger.InfoContext(ctx, "registry: market resolved",
		slog.Uint64("market_id", id),
		slog.Bool("winning_outcome", winning),
		slog.Int64("resolved_price", quote.Price),
	)

	return s.markets.Get(ctx, id)
}

// RequestDecrypt opens the pool decryption phase on a resolved market. For
// shielded markets it requests disclosure of both encrypted pool totals;
// native pools are already plaintext, so the transition only flips the
// lifecycle flag. One-shot: a second call fails.
func (s *Service) RequestDecrypt(ctx context.Context, id uint64) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(id), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: request decrypt %d: %w", id, err)
	}
	defer unlock()

	m, err := s.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: request decrypt %d: %w", id, err)
	}
	if !m.OutcomeReported {
		return domain.Market{}, fmt.Errorf("registry: request decrypt %d: %w", id, domain.ErrNotResolved)
	}
	if m.DecryptRequested {
		return domain.Market{}, fmt.Errorf("registry: request decrypt %d: %w", id, domain.ErrAlreadyDecryptRequested)
	}

	var yesTicket, noTicket string
	if m.Currency == domain.CurrencyShielded {
		yes, err := s.gateway.RequestDecrypt(ctx, m.ShieldedPoolYes)
		if err != nil {
			return domain.Market{}, fmt.Errorf("registry: request decrypt %d: yes pool: %w", id, err)
		}
		no, err := s.gateway.RequestDecrypt(ctx, m.ShieldedPoolNo)
		if err != nil {
			return domain.Market{}, fmt.Errorf("registry: request decrypt %d: no pool: %w", id, err)
		}
		yesTicket, noTicket = yes.ID, no.ID
	}

	if err := s.markets.MarkDecryptRequested(ctx, id, yesTicket, noTicket); err != nil {
		return domain.Market{}, fmt.Errorf("registry: request decrypt %d: %w", id, err)
	}

	s.cacheInvalidate(ctx, id)
	s.auditLog(ctx, domain.EventMarketDecryptReq, map[string]any{"market_id": id})
	s.publish(ctx, domain.Event{Type: domain.EventMarketDecryptReq, MarketID: id})

	s.logger.InfoContext(ctx, "registry: pool decrypt requested", slog.Uint64("market_id", id))

	return s.markets.Get(ctx, id)
}

// Settle consumes the decrypted pool totals and fixes the market's
// settlement split. Callers poll it until the gateway has revealed both
// pools; before that it fails with ErrDecryptNotReady. A failed pool
// decryption is recovered by requesting fresh tickets and reporting
// ErrDecryptFailed; the next Settle call polls the new tickets.
func (s *Service) Settle(ctx context.Context, id uint64) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(id), lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: settle %d: %w", id, err)
	}
	defer unlock()

	m, err := s.markets.Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("registry: settle %d: %w", id, err)
	}
	if m.Settled {
		return domain.Market{}, fmt.Errorf("registry: settle %d: %w", id, domain.ErrAlreadySettled)
	}
	if !m.DecryptRequested {
		return domain.Market{}, fmt.Errorf("registry: settle %d: %w", id, domain.ErrDecryptNotReady)
	}

	poolYes, poolNo := m.NativePoolYes, m.NativePoolNo
	if m.Currency == domain.CurrencyShielded {
		poolYes, poolNo, err = s.pollPools(ctx, m)
		if err != nil {
			return domain.Market{}, fmt.Errorf("registry: settle %d: %w", id, err)
		}
	}

	split := settle.ComputeSplit(m.WinningOutcome, poolYes, poolNo, m.FeeBps)

	if err := s.markets.MarkSettled(ctx, id, poolYes, poolNo, split.Fee, split.Distributable, s.now().UTC()); err != nil {
		return domain.Market{}, fmt.Errorf("registry: settle %d: %w", id, err)
	}

	s.cacheInvalidate(ctx, id)
	s.auditLog(ctx, domain.EventMarketSettled, map[string]any{
		"market_id":     id,
		"pool_yes":      poolYes,
		"pool_no":       poolNo,
		"fee":           split.Fee,
		"distributable": split.Distributable,
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventMarketSettled,
		MarketID: id,
		Detail:   map[string]any{"fee": split.Fee, "distributable": split.Distributable},
	})

	s.logger.InfoContext(ctx, "registry: market settled",
		slog.Uint64("market_id", id),
		slog.Uint64("pool_yes", poolYes),
		slog.Uint64("pool_no", poolNo),
		slog.Uint64("fee", split.Fee),
	)

	return s.markets.Get(ctx, id)
}

// pollPools polls both pool decrypt tickets. Both must reveal before
// settlement proceeds. A failed ticket is replaced with a fresh decrypt
// request so the market cannot wedge.
func (s *Service) pollPools(ctx context.Context, m domain.Market) (uint64, uint64, error) {
	yes, err := s.gateway.PollDecrypt(ctx, m.PoolYesTicket)
	if err != nil {
		return 0, 0, fmt.Errorf("poll yes pool: %w", err)
	}
	no, err := s.gateway.PollDecrypt(ctx, m.PoolNoTicket)
	if err != nil {
		return 0, 0, fmt.Errorf("poll no pool: %w", err)
	}

	if yes.State == domain.DecryptFailed || no.State == domain.DecryptFailed {
		if err := s.reissuePoolTickets(ctx, m); err != nil {
			return 0, 0, err
		}
		return 0, 0, domain.ErrDecryptFailed
	}
	if yes.State != domain.DecryptRevealed || no.State != domain.DecryptRevealed {
		return 0, 0, domain.ErrDecryptNotReady
	}

	return yes.Value, no.Value, nil
}

func (s *Service) reissuePoolTickets(ctx context.Context, m domain.Market) error {
	yes, err := s.gateway.RequestDecrypt(ctx, m.ShieldedPoolYes)
	if err != nil {
		return fmt.Errorf("reissue yes pool ticket: %w", err)
	}
	no, err := s.gateway.RequestDecrypt(ctx, m.ShieldedPoolNo)
	if err != nil {
		return fmt.Errorf("reissue no pool ticket: %w", err)
	}
	if err := s.markets.ResetDecryptTickets(ctx, m.ID, yes.ID, no.ID); err != nil {
		return fmt.Errorf("reset pool tickets: %w", err)
	}

	s.logger.WarnContext(ctx, "registry: pool decrypt failed, tickets reissued",
		slog.Uint64("market_id", m.ID),
	)
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func marketLockKey(id uint64) string {
	return fmt.Sprintf("market:%d", id)
}

func (s *Service) cacheSet(ctx context.Context, m domain.Market) {
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "registry: cache set failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) cacheInvalidate(ctx context.Context, id uint64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "registry: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "registry: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publish(ctx context.Context, evt domain.Event) {
	evt.Timestamp = s.now().UTC()
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "registry: event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "registry: event publish failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		s.logger.WarnContext(ctx, "registry: event stream append failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}
