package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/ledger"
)

type fakeBetService struct {
	placed      []ledger.PlaceBetParams
	withdrawErr error
}

func (s *fakeBetService) PlaceBet(_ context.Context, p ledger.PlaceBetParams) (domain.Bet, error) {
	if p.StakeHandle.IsZero() || p.SideHandle.IsZero() {
		return domain.Bet{}, domain.ErrInvalidAmount
	}
	s.placed = append(s.placed, p)
	return domain.Bet{
		MarketID:    p.MarketID,
		BetIndex:    uint64(len(s.placed) - 1),
		Bettor:      p.Bettor,
		StakeHandle: p.StakeHandle,
		SideHandle:  p.SideHandle,
	}, nil
}

func (s *fakeBetService) GetBet(_ context.Context, marketID, betIndex uint64) (domain.Bet, error) {
	return domain.Bet{MarketID: marketID, BetIndex: betIndex}, nil
}

func (s *fakeBetService) ListBets(_ context.Context, _ uint64, _ domain.ListOpts) ([]domain.Bet, error) {
	return nil, nil
}

func (s *fakeBetService) ListBetsByBettor(_ context.Context, bettor common.Address, _ domain.ListOpts) ([]domain.Bet, error) {
	return []domain.Bet{{MarketID: 1, Bettor: bettor}}, nil
}

func (s *fakeBetService) RequestBetDecrypt(_ context.Context, marketID, betIndex uint64, _ common.Address) (domain.Bet, error) {
	return domain.Bet{MarketID: marketID, BetIndex: betIndex, DecryptRequested: true}, nil
}

func (s *fakeBetService) Withdraw(_ context.Context, marketID, betIndex uint64, _ common.Address) (domain.Bet, error) {
	if s.withdrawErr != nil {
		return domain.Bet{}, s.withdrawErr
	}
	return domain.Bet{MarketID: marketID, BetIndex: betIndex, Withdrawn: true, Payout: 321}, nil
}

func betMux(h *BetHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/bets", h.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/bets", h.ListBets)
	mux.HandleFunc("GET /api/bets", h.ListByBettor)
	mux.HandleFunc("POST /api/markets/{id}/bets/{index}/decrypt", h.RequestDecrypt)
	mux.HandleFunc("POST /api/markets/{id}/bets/{index}/withdraw", h.Withdraw)
	return mux
}

func TestPlaceBet(t *testing.T) {
	svc := &fakeBetService{}
	h := NewBetHandler(svc, testLogger())

	body := `{
		"bettor": "0x2222222222222222222222222222222222222222",
		"stake_handle": {"id": "h-stake", "kind": "uint64"},
		"side_handle": {"id": "h-side", "kind": "bool"},
		"collateral": 100,
		"declared_side": true
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/markets/7/bets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	betMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var bet domain.Bet
	if err := json.Unmarshal(rec.Body.Bytes(), &bet); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bet.MarketID != 7 || bet.StakeHandle.ID != "h-stake" {
		t.Fatalf("bet = %+v", bet)
	}
	if len(svc.placed) != 1 || svc.placed[0].Collateral != 100 || !svc.placed[0].DeclaredSide {
		t.Fatalf("placed = %+v", svc.placed)
	}
}

func TestPlaceBetMissingHandles(t *testing.T) {
	h := NewBetHandler(&fakeBetService{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets/7/bets",
		strings.NewReader(`{"bettor":"0x2222222222222222222222222222222222222222"}`))
	rec := httptest.NewRecorder()
	betMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListByBettorRequiresAddress(t *testing.T) {
	h := NewBetHandler(&fakeBetService{}, testLogger())
	mux := betMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing bettor status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/bets?bettor=0x2222222222222222222222222222222222222222", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListBetsEmptyIsArray(t *testing.T) {
	h := NewBetHandler(&fakeBetService{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/1/bets", nil)
	rec := httptest.NewRecorder()
	betMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"bets":[]`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWithdrawErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrDecryptNotReady, http.StatusConflict},
		{domain.ErrAlreadyWithdrawn, http.StatusConflict},
		{domain.ErrDecryptFailed, http.StatusBadGateway},
		{domain.ErrUnauthorized, http.StatusForbidden},
	}

	for _, tc := range cases {
		h := NewBetHandler(&fakeBetService{withdrawErr: tc.err}, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/markets/1/bets/0/withdraw",
			strings.NewReader(`{"caller":"0x2222222222222222222222222222222222222222"}`))
		rec := httptest.NewRecorder()
		betMux(h).ServeHTTP(rec, req)

		if rec.Code != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
	}
}

func TestWithdraw(t *testing.T) {
	h := NewBetHandler(&fakeBetService{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/bets/0/withdraw",
		strings.NewReader(`{"caller":"0x2222222222222222222222222222222222222222"}`))
	rec := httptest.NewRecorder()
	betMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var bet domain.Bet
	if err := json.Unmarshal(rec.Body.Bytes(), &bet); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bet.Withdrawn || bet.Payout != 321 {
		t.Fatalf("bet = %+v", bet)
	}
}
