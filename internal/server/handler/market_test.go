package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/registry"
)

type fakeMarketService struct {
	markets map[uint64]domain.Market
	created []registry.CreateMarketParams

	resolveErr error
	settleErr  error
}

func (s *fakeMarketService) CreateMarket(_ context.Context, p registry.CreateMarketParams) (domain.Market, error) {
	if p.Question == "" {
		return domain.Market{}, domain.ErrInvalidConfiguration
	}
	s.created = append(s.created, p)
	m := domain.Market{
		ID:        uint64(len(s.created)),
		Question:  p.Question,
		Creator:   p.Creator,
		CloseTime: p.CloseTime,
		FeeBps:    p.FeeBps,
		Currency:  p.Currency,
		FeedID:    p.FeedID,
		Threshold: p.Threshold,
	}
	return m, nil
}

func (s *fakeMarketService) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarketService) ListMarkets(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeMarketService) Count(_ context.Context) (int64, error) {
	return int64(len(s.markets)), nil
}

func (s *fakeMarketService) Resolve(_ context.Context, id uint64) (domain.Market, error) {
	if s.resolveErr != nil {
		return domain.Market{}, s.resolveErr
	}
	return s.GetMarket(context.Background(), id)
}

func (s *fakeMarketService) RequestDecrypt(_ context.Context, id uint64) (domain.Market, error) {
	return s.GetMarket(context.Background(), id)
}

func (s *fakeMarketService) Settle(_ context.Context, id uint64) (domain.Market, error) {
	if s.settleErr != nil {
		return domain.Market{}, s.settleErr
	}
	return s.GetMarket(context.Background(), id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMux(h *MarketHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/settle", h.SettleMarket)
	mux.HandleFunc("POST /api/markets/{id}/archive", h.ArchiveMarket)
	return mux
}

func TestCreateMarket(t *testing.T) {
	svc := &fakeMarketService{markets: map[uint64]domain.Market{}}
	h := NewMarketHandler(svc, nil, nil, testLogger())
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	body := `{
		"question": "Will the price close above the strike?",
		"creator": "0x1111111111111111111111111111111111111111",
		"close_time": "2026-06-01T00:00:00Z",
		"fee_bps": 500,
		"currency": "native",
		"feed_id": "BTC/USD",
		"threshold": 6500000000000
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	testMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp marketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.FeedID != "BTC/USD" || resp.FeeBps != 500 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Status != domain.MarketStatusOpen {
		t.Fatalf("derived status = %q", resp.Status)
	}
	if len(svc.created) != 1 || svc.created[0].Creator != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Fatalf("created = %+v", svc.created)
	}
}

func TestCreateMarketValidationError(t *testing.T) {
	svc := &fakeMarketService{markets: map[uint64]domain.Market{}}
	h := NewMarketHandler(svc, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader(`{"question":""}`))
	rec := httptest.NewRecorder()
	testMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetMarketStatusMapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeMarketService{markets: map[uint64]domain.Market{
		4: {ID: 4, Question: "q", CloseTime: now.Add(-time.Hour), OutcomeReported: true},
	}}
	h := NewMarketHandler(svc, nil, nil, testLogger())
	h.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "/api/markets/4", nil)
	rec := httptest.NewRecorder()
	testMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp marketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != domain.MarketStatusResolved {
		t.Fatalf("derived status = %q", resp.Status)
	}
}

func TestGetMarketErrors(t *testing.T) {
	svc := &fakeMarketService{markets: map[uint64]domain.Market{}}
	h := NewMarketHandler(svc, nil, nil, testLogger())
	mux := testMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/99", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing market status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/markets/not-a-number", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestLifecycleConflictsMapTo409(t *testing.T) {
	svc := &fakeMarketService{
		markets:    map[uint64]domain.Market{1: {ID: 1}},
		resolveErr: domain.ErrMarketNotClosed,
		settleErr:  domain.ErrAlreadySettled,
	}
	h := NewMarketHandler(svc, nil, nil, testLogger())
	mux := testMux(h)

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/resolve", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("resolve status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/markets/1/settle", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("settle status = %d", rec.Code)
	}
}

func TestArchiveNotConfigured(t *testing.T) {
	svc := &fakeMarketService{markets: map[uint64]domain.Market{}}
	h := NewMarketHandler(svc, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/archive", nil)
	rec := httptest.NewRecorder()
	testMux(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}
