package memory

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// The persistence interfaces overlap in method names (Get, List, Count), so
// the shared Store is exposed through per-interface views that all mutate
// the same state under the same mutex.

// Markets returns the MarketStore view.
func (s *Store) Markets() domain.MarketStore { return marketView{s} }

// Bets returns the BetStore view.
func (s *Store) Bets() domain.BetStore { return betView{s} }

// Balances returns the BalanceStore view.
func (s *Store) Balances() domain.BalanceStore { return balanceView{s} }

// Audit returns the AuditStore view.
func (s *Store) Audit() domain.AuditStore { return auditView{s} }

type marketView struct{ s *Store }

func (v marketView) Create(ctx context.Context, m domain.Market) (uint64, error) {
	return v.s.Create(ctx, m)
}

func (v marketView) Get(ctx context.Context, id uint64) (domain.Market, error) {
	return v.s.Get(ctx, id)
}

func (v marketView) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return v.s.List(ctx, opts)
}

func (v marketView) Count(ctx context.Context) (int64, error) {
	return v.s.Count(ctx)
}

func (v marketView) MarkResolved(ctx context.Context, id uint64, winning bool, price int64, at time.Time) error {
	return v.s.MarkResolved(ctx, id, winning, price, at)
}

func (v marketView) MarkDecryptRequested(ctx context.Context, id uint64, yesTicket, noTicket string) error {
	return v.s.MarkDecryptRequested(ctx, id, yesTicket, noTicket)
}

func (v marketView) ResetDecryptTickets(ctx context.Context, id uint64, yesTicket, noTicket string) error {
	return v.s.ResetDecryptTickets(ctx, id, yesTicket, noTicket)
}

func (v marketView) MarkSettled(ctx context.Context, id uint64, poolYes, poolNo, fee, distributable uint64, at time.Time) error {
	return v.s.MarkSettled(ctx, id, poolYes, poolNo, fee, distributable, at)
}

type betView struct{ s *Store }

func (v betView) Place(ctx context.Context, bet domain.Bet, pools domain.PoolUpdate) (uint64, error) {
	return v.s.Place(ctx, bet, pools)
}

func (v betView) Get(ctx context.Context, marketID, betIndex uint64) (domain.Bet, error) {
	return v.s.GetBet(ctx, marketID, betIndex)
}

func (v betView) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	return v.s.ListByMarket(ctx, marketID, opts)
}

func (v betView) ListByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	return v.s.ListByBettor(ctx, bettor, opts)
}

func (v betView) Count(ctx context.Context, marketID uint64) (uint64, error) {
	return v.s.CountBets(ctx, marketID)
}

func (v betView) MarkDecryptRequested(ctx context.Context, marketID, betIndex uint64, stakeTicket, sideTicket string, replace bool) error {
	return v.s.MarkBetDecryptRequested(ctx, marketID, betIndex, stakeTicket, sideTicket, replace)
}

func (v betView) MarkWithdrawn(ctx context.Context, marketID, betIndex uint64, stake uint64, side bool, payout uint64) error {
	return v.s.MarkWithdrawn(ctx, marketID, betIndex, stake, side, payout)
}

type balanceView struct{ s *Store }

func (v balanceView) Get(ctx context.Context, principal common.Address) (domain.ShieldedBalance, error) {
	return v.s.GetBalance(ctx, principal)
}

func (v balanceView) SetBalance(ctx context.Context, principal common.Address, h domain.Handle) error {
	return v.s.SetBalance(ctx, principal, h)
}

func (v balanceView) SetOperator(ctx context.Context, principal common.Address, until time.Time) error {
	return v.s.SetOperator(ctx, principal, until)
}

type auditView struct{ s *Store }

func (v auditView) Log(ctx context.Context, event string, detail map[string]any) error {
	return v.s.Log(ctx, event, detail)
}

func (v auditView) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return v.s.ListAudit(ctx, opts)
}
