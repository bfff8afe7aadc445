// Package memory provides in-process implementations of the persistence
// interfaces backed by mutex-guarded maps. Sandbox mode and tests run on it
// instead of Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// Store holds markets, bets, balances, and the audit log in one place so
// cross-record writes (a bet insert plus its pool update) stay atomic under
// a single mutex.
type Store struct {
	mu sync.Mutex

	nextMarketID uint64
	markets      map[uint64]*domain.Market
	bets         map[uint64][]*domain.Bet
	balances     map[common.Address]*domain.ShieldedBalance

	nextAuditID int64
	audit       []domain.AuditEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextMarketID: 1,
		markets:      make(map[uint64]*domain.Market),
		bets:         make(map[uint64][]*domain.Bet),
		balances:     make(map[common.Address]*domain.ShieldedBalance),
		nextAuditID:  1,
	}
}

// --------------------------------------------------------------------------
// MarketStore
// --------------------------------------------------------------------------

func (s *Store) Create(ctx context.Context, m domain.Market) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextMarketID
	s.nextMarketID++

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	cp := m
	s.markets[m.ID] = &cp
	return m.ID, nil
}

func (s *Store) Get(ctx context.Context, id uint64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	return *m, nil
}

func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		m := s.markets[id]
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, *m)
	}
	return paginate(out, opts), nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

func (s *Store) MarkResolved(ctx context.Context, id uint64, winning bool, price int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	if m.OutcomeReported {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrAlreadyResolved)
	}

	m.OutcomeReported = true
	m.WinningOutcome = winning
	m.ResolvedPrice = price
	resolvedAt := at
	m.ResolvedAt = &resolvedAt
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkDecryptRequested(ctx context.Context, id uint64, yesTicket, noTicket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	if m.DecryptRequested {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrAlreadyDecryptRequested)
	}

	m.DecryptRequested = true
	m.PoolYesTicket = yesTicket
	m.PoolNoTicket = noTicket
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ResetDecryptTickets(ctx context.Context, id uint64, yesTicket, noTicket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	if !m.DecryptRequested {
		return fmt.Errorf("memory: market %d: decrypt not requested: %w", id, domain.ErrDecryptNotReady)
	}

	m.PoolYesTicket = yesTicket
	m.PoolNoTicket = noTicket
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkSettled(ctx context.Context, id uint64, poolYes, poolNo, fee, distributable uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrNotFound)
	}
	if m.Settled {
		return fmt.Errorf("memory: market %d: %w", id, domain.ErrAlreadySettled)
	}

	m.Settled = true
	m.SettledPoolYes = poolYes
	m.SettledPoolNo = poolNo
	m.Fee = fee
	m.Distributable = distributable
	settledAt := at
	m.SettledAt = &settledAt
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// --------------------------------------------------------------------------
// BetStore
// --------------------------------------------------------------------------

func (s *Store) Place(ctx context.Context, bet domain.Bet, pools domain.PoolUpdate) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[bet.MarketID]
	if !ok {
		return 0, fmt.Errorf("memory: market %d: %w", bet.MarketID, domain.ErrNotFound)
	}
	if m.OutcomeReported || m.Settled {
		return 0, fmt.Errorf("memory: market %d: %w", bet.MarketID, domain.ErrMarketNotOpen)
	}

	bet.BetIndex = uint64(len(s.bets[bet.MarketID]))
	if bet.PlacedAt.IsZero() {
		bet.PlacedAt = time.Now().UTC()
	}

	m.NativePoolYes += pools.NativeYesDelta
	m.NativePoolNo += pools.NativeNoDelta
	if !pools.ShieldedPoolYes.IsZero() {
		m.ShieldedPoolYes = pools.ShieldedPoolYes
	}
	if !pools.ShieldedPoolNo.IsZero() {
		m.ShieldedPoolNo = pools.ShieldedPoolNo
	}
	m.UpdatedAt = time.Now().UTC()

	cp := bet
	s.bets[bet.MarketID] = append(s.bets[bet.MarketID], &cp)
	return bet.BetIndex, nil
}

func (s *Store) GetBet(ctx context.Context, marketID, betIndex uint64) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bet(marketID, betIndex)
	if err != nil {
		return domain.Bet{}, err
	}
	return *b, nil
}

func (s *Store) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Bet, 0, len(s.bets[marketID]))
	for _, b := range s.bets[marketID] {
		out = append(out, *b)
	}
	return paginate(out, opts), nil
}

func (s *Store) ListByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.bets))
	for id := range s.bets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []domain.Bet
	for _, id := range ids {
		for _, b := range s.bets[id] {
			if b.Bettor == bettor {
				out = append(out, *b)
			}
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) CountBets(ctx context.Context, marketID uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.bets[marketID])), nil
}

func (s *Store) MarkBetDecryptRequested(ctx context.Context, marketID, betIndex uint64, stakeTicket, sideTicket string, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bet(marketID, betIndex)
	if err != nil {
		return err
	}
	if b.DecryptRequested && !replace {
		return fmt.Errorf("memory: bet %d/%d: %w", marketID, betIndex, domain.ErrAlreadyDecryptRequested)
	}

	b.DecryptRequested = true
	b.StakeTicket = stakeTicket
	b.SideTicket = sideTicket
	return nil
}

func (s *Store) MarkWithdrawn(ctx context.Context, marketID, betIndex uint64, stake uint64, side bool, payout uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bet(marketID, betIndex)
	if err != nil {
		return err
	}
	if b.Withdrawn {
		return fmt.Errorf("memory: bet %d/%d: %w", marketID, betIndex, domain.ErrAlreadyWithdrawn)
	}

	b.Withdrawn = true
	b.RevealedStake = stake
	b.RevealedSide = side
	b.Payout = payout
	return nil
}

func (s *Store) bet(marketID, betIndex uint64) (*domain.Bet, error) {
	bets, ok := s.bets[marketID]
	if !ok || betIndex >= uint64(len(bets)) {
		return nil, fmt.Errorf("memory: bet %d/%d: %w", marketID, betIndex, domain.ErrNotFound)
	}
	return bets[betIndex], nil
}

// --------------------------------------------------------------------------
// BalanceStore
// --------------------------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, principal common.Address) (domain.ShieldedBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[principal]
	if !ok {
		return domain.ShieldedBalance{}, fmt.Errorf("memory: balance %s: %w", principal.Hex(), domain.ErrNotFound)
	}
	return *b, nil
}

func (s *Store) SetBalance(ctx context.Context, principal common.Address, h domain.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[principal]
	if !ok {
		b = &domain.ShieldedBalance{Principal: principal}
		s.balances[principal] = b
	}
	b.Balance = h
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetOperator(ctx context.Context, principal common.Address, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[principal]
	if !ok {
		b = &domain.ShieldedBalance{Principal: principal}
		s.balances[principal] = b
	}
	b.OperatorUntil = until
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// --------------------------------------------------------------------------
// AuditStore
// --------------------------------------------------------------------------

func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, domain.AuditEntry{
		ID:        s.nextAuditID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextAuditID++
	return nil
}

func (s *Store) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
