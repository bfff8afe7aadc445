// Package ledger implements bet placement, escrow, the reveal-then-withdraw
// flow, and shielded balance management.
package ledger

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

// Service is the bet ledger. Placements and withdrawals for one market
// serialize under the same per-market lock the registry uses, so pool
// accumulation never interleaves with settlement.
type Service struct {
	markets  domain.MarketStore
	bets     domain.BetStore
	balances domain.BalanceStore
	cache    domain.MarketCache
	gateway  domain.Gateway
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger

	now func() time.Time
}

// NewService creates a ledger Service.
func NewService(
	markets domain.MarketStore,
	bets domain.BetStore,
	balances domain.BalanceStore,
	cache domain.MarketCache,
	gateway domain.Gateway,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Service {
	return &Service{
		markets:  markets,
		bets:     bets,
		balances: balances,
		cache:    cache,
		gateway:  gateway,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// PlaceBetParams carries one bet submission. StakeHandle and SideHandle are
// the bettor's encrypted record and are never inspected by the ledger.
//
// Native markets escrow Collateral plaintext and split pools by
// DeclaredSide. Shielded markets ignore those two fields: the stake handle
// doubles as the encrypted collateral commitment, debited from the bettor's
// shielded balance and folded into the encrypted pools without revealing
// either amount or side.
type PlaceBetParams struct {
	MarketID    uint64
	Bettor      common.Address
	StakeHandle domain.Handle
	SideHandle  domain.Handle

	Collateral   uint64
	DeclaredSide bool
}

// PlaceBet escrows a new bet against an open market and returns it with its
// assigned index.
func (s *Service) PlaceBet(ctx context.Context, p PlaceBetParams) (domain.Bet, error) {
	if p.StakeHandle.IsZero() || p.SideHandle.IsZero() {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: missing stake or side handle: %w", domain.ErrInvalidAmount)
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(p.MarketID), lockTTL)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: %w", err)
	}
	defer unlock()

	m, err := s.markets.Get(ctx, p.MarketID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: market %d: %w", p.MarketID, err)
	}
	if !m.AcceptingBets(s.now()) {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: market %d: %w", p.MarketID, domain.ErrMarketNotOpen)
	}

	bet := domain.Bet{
		MarketID:    p.MarketID,
		Bettor:      p.Bettor,
		StakeHandle: p.StakeHandle,
		SideHandle:  p.SideHandle,
		PlacedAt:    s.now().UTC(),
	}

	var pools domain.PoolUpdate
	switch m.Currency {
	case domain.CurrencyNative:
		if p.Collateral == 0 {
			return domain.Bet{}, fmt.Errorf("ledger: place bet: zero collateral: %w", domain.ErrInvalidAmount)
		}
		bet.NativeCollateral = p.Collateral
		bet.DeclaredSide = p.DeclaredSide
		if p.DeclaredSide {
			pools.NativeYesDelta = p.Collateral
		} else {
			pools.NativeNoDelta = p.Collateral
		}

	case domain.CurrencyShielded:
		pools, err = s.escrowShielded(ctx, m, &bet)
		if err != nil {
			return domain.Bet{}, fmt.Errorf("ledger: place bet: %w", err)
		}
	}

	index, err := s.bets.Place(ctx, bet, pools)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: %w", err)
	}
	bet.BetIndex = index

	s.cacheInvalidate(ctx, p.MarketID)
	s.auditLog(ctx, domain.EventBetPlaced, map[string]any{
		"market_id": p.MarketID,
		"bet_index": index,
		"bettor":    p.Bettor.Hex(),
	})
	s.publish(ctx, domain.Event{Type: domain.EventBetPlaced, MarketID: p.MarketID, BetIndex: &index})

	s.logger.InfoContext(ctx, "ledger: bet placed",
		slog.Uint64("market_id", p.MarketID),
		slog.Uint64("bet_index", index),
		slog.String("bettor", p.Bettor.Hex()),
	)

	return bet, nil
}

// escrowShielded debits the bettor's shielded balance by the encrypted
// stake and folds the stake into the encrypted pools. The side never leaves
// ciphertext: Select routes the stake to one pool and an encrypted zero to
// the other.
//
// The stake is clamped to the available balance in ciphertext before
// anything moves: covered = stake <= balance, effective = covered ? stake :
// 0. An overdraft therefore stakes an encrypted zero instead of folding
// uncollected units into the pools, and the comparison outcome never leaves
// the gateway. The effective stake replaces the submitted handle as the
// bet's record, so the later reveal and payout see what was escrowed.
func (s *Service) escrowShielded(ctx context.Context, m domain.Market, bet *domain.Bet) (domain.PoolUpdate, error) {
	bal, err := s.balances.Get(ctx, bet.Bettor)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("balance %s: %w", bet.Bettor.Hex(), err)
	}
	if !bal.OperatorActive(s.now()) {
		return domain.PoolUpdate{}, fmt.Errorf("balance %s: %w", bet.Bettor.Hex(), domain.ErrInsufficientAuthorization)
	}

	zero, err := s.gateway.EncryptUint64(ctx, 0)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("encrypt zero: %w", err)
	}
	covered, err := s.gateway.Lte(ctx, bet.StakeHandle, bal.Balance)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("compare stake to balance: %w", err)
	}
	stake, err := s.gateway.Select(ctx, covered, bet.StakeHandle, zero)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("clamp stake: %w", err)
	}

	newBalance, err := s.gateway.Sub(ctx, bal.Balance, stake)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("debit balance: %w", err)
	}

	yesPart, err := s.gateway.Select(ctx, bet.SideHandle, stake, zero)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("select yes contribution: %w", err)
	}
	noPart, err := s.gateway.Select(ctx, bet.SideHandle, zero, stake)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("select no contribution: %w", err)
	}

	poolYes, err := s.gateway.Add(ctx, m.ShieldedPoolYes, yesPart)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("fold yes pool: %w", err)
	}
	poolNo, err := s.gateway.Add(ctx, m.ShieldedPoolNo, noPart)
	if err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("fold no pool: %w", err)
	}

	if err := s.balances.SetBalance(ctx, bet.Bettor, newBalance); err != nil {
		return domain.PoolUpdate{}, fmt.Errorf("store balance: %w", err)
	}

	bet.StakeHandle = stake
	bet.ShieldedCollateral = stake
	return domain.PoolUpdate{ShieldedPoolYes: poolYes, ShieldedPoolNo: poolNo}, nil
}

// GetBet retrieves one bet.
func (s *Service) GetBet(ctx context.Context, marketID, betIndex uint64) (domain.Bet, error) {
	bet, err := s.bets.Get(ctx, marketID, betIndex)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: get bet %d/%d: %w", marketID, betIndex, err)
	}
	return bet, nil
}

// ListBets returns a market's bets in placement order.
func (s *Service) ListBets(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.bets.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list bets for market %d: %w", marketID, err)
	}
	return bets, nil
}

// ListBetsByBettor returns every bet a principal has placed.
func (s *Service) ListBetsByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.bets.ListByBettor(ctx, bettor, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list bets for %s: %w", bettor.Hex(), err)
	}
	return bets, nil
}

// RequestBetDecrypt opens disclosure of a bet's stake and side so the
// bettor can withdraw. Only the bettor may reveal their own bet, and only
// once the market is settled: revealing earlier would leak stakes while the
// pools are still accepting or resolving. One-shot on success; after a
// failed decryption Withdraw reissues tickets itself.
func (s *Service) RequestBetDecrypt(ctx context.Context, marketID, betIndex uint64, caller common.Address) (domain.Bet, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), lockTTL)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: %w", marketID, betIndex, err)
	}
	defer unlock()

	bet, err := s.bets.Get(ctx, marketID, betIndex)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: %w", marketID, betIndex, err)
	}
	if bet.Bettor != caller {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: caller %s: %w", marketID, betIndex, caller.Hex(), domain.ErrUnauthorized)
	}

	m, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: %w", marketID, betIndex, err)
	}
	if !m.Settled {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: market not settled: %w", marketID, betIndex, domain.ErrDecryptNotReady)
	}
	if bet.DecryptRequested {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: %w", marketID, betIndex, domain.ErrAlreadyDecryptRequested)
	}

	if err := s.issueBetTickets(ctx, marketID, betIndex, bet, false); err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: request bet decrypt %d/%d: %w", marketID, betIndex, err)
	}

	s.auditLog(ctx, domain.EventBetDecryptRequested, map[string]any{
		"market_id": marketID,
		"bet_index": betIndex,
	})
	s.publish(ctx, domain.Event{Type: domain.EventBetDecryptRequested, MarketID: marketID, BetIndex: &betIndex})

	return s.bets.Get(ctx, marketID, betIndex)
}

// Withdraw consumes a bet's revealed stake and side, computes the payout
// against the settled market, and marks the bet withdrawn. The withdrawn
// flag flips before anything is paid so a retry can never pay twice; losing
// bets are marked withdrawn with a zero payout and cannot retry either.
//
// Shielded payouts are credited back to the bettor's shielded balance as a
// fresh ciphertext; native payouts are recorded on the bet for the caller's
// transfer layer.
func (s *Service) Withdraw(ctx context.Context, marketID, betIndex uint64, caller common.Address) (domain.Bet, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), lockTTL)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: %w", marketID, betIndex, err)
	}
	defer unlock()

	bet, err := s.bets.Get(ctx, marketID, betIndex)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: %w", marketID, betIndex, err)
	}
	if bet.Bettor != caller {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: caller %s: %w", marketID, betIndex, caller.Hex(), domain.ErrUnauthorized)
	}
	if bet.Withdrawn {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: %w", marketID, betIndex, domain.ErrAlreadyWithdrawn)
	}

	m, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: %w", marketID, betIndex, err)
	}
	if !m.Settled {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: market not settled: %w", marketID, betIndex, domain.ErrDecryptNotReady)
	}
	if !bet.DecryptRequested {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: reveal not requested: %w", marketID, betIndex, domain.ErrDecryptNotReady)
	}

	stake, side, err := s.pollBetTickets(ctx, marketID, betIndex, bet)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: %w", marketID, betIndex, err)
	}

	split := settle.ComputeSplit(m.WinningOutcome, m.SettledPoolYes, m.SettledPoolNo, m.FeeBps)
	payout := settle.Payout(stake, side, split)

	if err := s.bets.MarkWithdrawn(ctx, marketID, betIndex, stake, side, payout); err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: withdraw %d/%d: %w", marketID, betIndex, err)
	}

	if m.Currency == domain.CurrencyShielded && payout > 0 {
		if err := s.creditShielded(ctx, bet.Bettor, payout); err != nil {
			// The withdrawal stays recorded. The owed credit is logged and
			// audited with the principal and amount so an operator can
			// replay it; nothing unwinds the bet automatically.
			s.logger.ErrorContext(ctx, "ledger: shielded payout credit failed",
				slog.Uint64("market_id", marketID),
				slog.Uint64("bet_index", betIndex),
				slog.String("principal", bet.Bettor.Hex()),
				slog.Uint64("payout", payout),
				slog.String("error", err.Error()),
			)
			s.auditLog(ctx, domain.EventCreditFailed, map[string]any{
				"market_id": marketID,
				"bet_index": betIndex,
				"principal": bet.Bettor.Hex(),
				"payout":    payout,
			})
			s.publish(ctx, domain.Event{
				Type:     domain.EventCreditFailed,
				MarketID: marketID,
				BetIndex: &betIndex,
				Detail:   map[string]any{"principal": bet.Bettor.Hex(), "payout": payout},
			})
		}
	}

	s.auditLog(ctx, domain.EventBetWithdrawn, map[string]any{
		"market_id": marketID,
		"bet_index": betIndex,
		"payout":    payout,
	})
	s.publish(ctx, domain.Event{Type: domain.EventBetWithdrawn, MarketID: marketID, BetIndex: &betIndex})

	s.logger.InfoContext(ctx, "ledger: bet withdrawn",
		slog.Uint64("market_id", marketID),
		slog.Uint64("bet_index", betIndex),
		slog.Uint64("payout", payout),
	)

	return s.bets.Get(ctx, marketID, betIndex)
}

// Deposit folds an encrypted amount into the principal's shielded balance,
// initializing the balance to an encrypted zero on first use.
func (s *Service) Deposit(ctx context.Context, principal common.Address, amount domain.Handle) (domain.ShieldedBalance, error) {
	if amount.IsZero() || amount.Kind != domain.HandleUint64 {
		return domain.ShieldedBalance{}, fmt.Errorf("ledger: deposit: invalid amount handle: %w", domain.ErrInvalidAmount)
	}

	unlock, err := s.locks.Acquire(ctx, balanceLockKey(principal), lockTTL)
	if err != nil {
		return domain.ShieldedBalance{}, fmt.Errorf("ledger: deposit: %w", err)
	}
	defer unlock()

	bal, err := s.balances.Get(ctx, principal)
	if err != nil {
		zero, zerr := s.gateway.EncryptUint64(ctx, 0)
		if zerr != nil {
			return domain.ShieldedBalance{}, fmt.Errorf("ledger: deposit: seed balance: %w", zerr)
		}
		bal = domain.ShieldedBalance{Principal: principal, Balance: zero}
	}

	updated, err := s.gateway.Add(ctx, bal.Balance, amount)
	if err != nil {
		return domain.ShieldedBalance{}, fmt.Errorf("ledger: deposit: %w", err)
	}
	if err := s.balances.SetBalance(ctx, principal, updated); err != nil {
		return domain.ShieldedBalance{}, fmt.Errorf("ledger: deposit: %w", err)
	}

	s.auditLog(ctx, domain.EventDeposit, map[string]any{"principal": principal.Hex()})
	s.publish(ctx, domain.Event{Type: domain.EventDeposit, Detail: map[string]any{"principal": principal.Hex()}})

	return s.balances.Get(ctx, principal)
}

// SetOperator grants the ledger a time-bounded authorization to debit the
// principal's shielded balance at bet time.
func (s *Service) SetOperator(ctx context.Context, principal common.Address, until time.Time) error {
	if !until.After(s.now()) {
		return fmt.Errorf("ledger: set operator: expiry in the past: %w", domain.ErrInvalidConfiguration)
	}
	if err := s.balances.SetOperator(ctx, principal, until.UTC()); err != nil {
		return fmt.Errorf("ledger: set operator: %w", err)
	}
	return nil
}

// GetBalance returns a principal's shielded balance record.
func (s *Service) GetBalance(ctx context.Context, principal common.Address) (domain.ShieldedBalance, error) {
	bal, err := s.balances.Get(ctx, principal)
	if err != nil {
		return domain.ShieldedBalance{}, fmt.Errorf("ledger: get balance %s: %w", principal.Hex(), err)
	}
	return bal, nil
}

// RevealBalance opens a decrypt ticket for the principal's own balance.
// Only the balance owner may request it; the result is fetched with
// PollDecrypt.
func (s *Service) RevealBalance(ctx context.Context, principal, caller common.Address) (domain.DecryptTicket, error) {
	if principal != caller {
		return domain.DecryptTicket{}, fmt.Errorf("ledger: reveal balance: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}

	bal, err := s.balances.Get(ctx, principal)
	if err != nil {
		return domain.DecryptTicket{}, fmt.Errorf("ledger: reveal balance %s: %w", principal.Hex(), err)
	}

	ticket, err := s.gateway.RequestDecrypt(ctx, bal.Balance)
	if err != nil {
		return domain.DecryptTicket{}, fmt.Errorf("ledger: reveal balance %s: %w", principal.Hex(), err)
	}
	return ticket, nil
}

// PollDecrypt relays a decrypt ticket poll to the gateway.
func (s *Service) PollDecrypt(ctx context.Context, ticketID string) (domain.DecryptResult, error) {
	res, err := s.gateway.PollDecrypt(ctx, ticketID)
	if err != nil {
		return domain.DecryptResult{}, fmt.Errorf("ledger: poll decrypt %s: %w", ticketID, err)
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *Service) issueBetTickets(ctx context.Context, marketID, betIndex uint64, bet domain.Bet, replace bool) error {
	stakeTicket, err := s.gateway.RequestDecrypt(ctx, bet.StakeHandle)
	if err != nil {
		return fmt.Errorf("request stake decrypt: %w", err)
	}
	sideTicket, err := s.gateway.RequestDecrypt(ctx, bet.SideHandle)
	if err != nil {
		return fmt.Errorf("request side decrypt: %w", err)
	}
	if err := s.bets.MarkDecryptRequested(ctx, marketID, betIndex, stakeTicket.ID, sideTicket.ID, replace); err != nil {
		return err
	}
	return nil
}

// pollBetTickets polls the bet's stake and side tickets. Failed tickets are
// replaced so the bet cannot wedge; the caller retries after the fresh
// tickets resolve.
func (s *Service) pollBetTickets(ctx context.Context, marketID, betIndex uint64, bet domain.Bet) (uint64, bool, error) {
	stakeRes, err := s.gateway.PollDecrypt(ctx, bet.StakeTicket)
	if err != nil {
		return 0, false, fmt.Errorf("poll stake: %w", err)
	}
	sideRes, err := s.gateway.PollDecrypt(ctx, bet.SideTicket)
	if err != nil {
		return 0, false, fmt.Errorf("poll side: %w", err)
	}

	if stakeRes.State == domain.DecryptFailed || sideRes.State == domain.DecryptFailed {
		if err := s.issueBetTickets(ctx, marketID, betIndex, bet, true); err != nil {
			return 0, false, err
		}
		s.logger.WarnContext(ctx, "ledger: bet decrypt failed, tickets reissued",
			slog.Uint64("market_id", marketID),
			slog.Uint64("bet_index", betIndex),
		)
		return 0, false, domain.ErrDecryptFailed
	}
	if stakeRes.State != domain.DecryptRevealed || sideRes.State != domain.DecryptRevealed {
		return 0, false, domain.ErrDecryptNotReady
	}

	return stakeRes.Value, sideRes.Bool, nil
}

func (s *Service) creditShielded(ctx context.Context, principal common.Address, payout uint64) error {
	bal, err := s.balances.Get(ctx, principal)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	amount, err := s.gateway.EncryptUint64(ctx, payout)
	if err != nil {
		return fmt.Errorf("encrypt payout: %w", err)
	}
	updated, err := s.gateway.Add(ctx, bal.Balance, amount)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return s.balances.SetBalance(ctx, principal, updated)
}

func marketLockKey(id uint64) string {
	return fmt.Sprintf("market:%d", id)
}

func balanceLockKey(principal common.Address) string {
	return fmt.Sprintf("balance:%s", principal.Hex())
}

func (s *Service) cacheInvalidate(ctx context.Context, id uint64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "ledger: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publish(ctx context.Context, evt domain.Event) {
	evt.Timestamp = s.now().UTC()
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger: event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger: event publish failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger: event stream append failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}
