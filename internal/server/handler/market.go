package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/registry"
)

// MarketService defines the methods that the market handler requires from the
// registry service. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, p registry.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id uint64) (domain.Market, error)
	RequestDecrypt(ctx context.Context, id uint64) (domain.Market, error)
	Settle(ctx context.Context, id uint64) (domain.Market, error)
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	archiver domain.Archiver // optional
	blobs    domain.BlobReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewMarketHandler creates a MarketHandler. archiver and blobs may be nil
// when no object store is configured; the archive endpoints then return 501.
func NewMarketHandler(markets MarketService, archiver domain.Archiver, blobs domain.BlobReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		archiver: archiver,
		blobs:    blobs,
		logger:   logger,
		now:      time.Now,
	}
}

// marketResponse augments the stored record with the derived status so
// clients never recompute the open/closed boundary themselves.
type marketResponse struct {
	domain.Market
	Status domain.MarketStatus `json:"status"`
}

func (h *MarketHandler) render(m domain.Market) marketResponse {
	return marketResponse{Market: m, Status: m.StatusAt(h.now().UTC())}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// createMarketRequest is the JSON body for market creation.
type createMarketRequest struct {
	Question  string          `json:"question"`
	Creator   common.Address  `json:"creator"`
	CloseTime time.Time       `json:"close_time"`
	FeeBps    uint32          `json:"fee_bps"`
	Currency  domain.Currency `json:"currency"`
	FeedID    string          `json:"feed_id"`
	Threshold int64           `json:"threshold"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), registry.CreateMarketParams{
		Question:  req.Question,
		Creator:   req.Creator,
		CloseTime: req.CloseTime,
		FeeBps:    req.FeeBps,
		Currency:  req.Currency,
		FeedID:    req.FeedID,
		Threshold: req.Threshold,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, h.render(m))
}

// ListMarkets returns markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to count markets")
		return
	}

	rendered := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		rendered = append(rendered, h.render(m))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: rendered,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, h.render(m))
}

// ResolveMarket reports the outcome from the price oracle.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	m, err := h.markets.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to resolve market")
		return
	}

	writeJSON(w, http.StatusOK, h.render(m))
}

// RequestDecrypt asks the gateway to disclose the pool totals.
// POST /api/markets/{id}/decrypt
func (h *MarketHandler) RequestDecrypt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	m, err := h.markets.RequestDecrypt(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to request pool decryption")
		return
	}

	writeJSON(w, http.StatusAccepted, h.render(m))
}

// SettleMarket consumes the revealed pool totals and fixes the payout split.
// POST /api/markets/{id}/settle
func (h *MarketHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	m, err := h.markets.Settle(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to settle market")
		return
	}

	writeJSON(w, http.StatusOK, h.render(m))
}

// ArchiveMarket snapshots a settled market to the object store.
// POST /api/markets/{id}/archive
func (h *MarketHandler) ArchiveMarket(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, "archival not configured")
		return
	}

	id, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	path, err := h.archiver.ArchiveMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to archive market")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"market_id": id,
		"path":      path,
	})
}

// GetArchive streams a previously archived market snapshot.
// GET /api/markets/{id}/archive
func (h *MarketHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotImplemented, "archival not configured")
		return
	}

	id, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	body, err := h.blobs.Get(r.Context(), domain.ArchivePath(id))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
