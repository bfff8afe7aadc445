package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/ledger"
)

// BetService defines the methods that the bet handler requires from the
// ledger service.
type BetService interface {
	PlaceBet(ctx context.Context, p ledger.PlaceBetParams) (domain.Bet, error)
	GetBet(ctx context.Context, marketID, betIndex uint64) (domain.Bet, error)
	ListBets(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error)
	ListBetsByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error)
	RequestBetDecrypt(ctx context.Context, marketID, betIndex uint64, caller common.Address) (domain.Bet, error)
	Withdraw(ctx context.Context, marketID, betIndex uint64, caller common.Address) (domain.Bet, error)
}

// BetHandler serves bet escrow and withdrawal endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the JSON body for bet placement. Stake and side handles
// come from the confidentiality gateway; collateral and declared_side are
// only consulted on native markets.
type placeBetRequest struct {
	Bettor      common.Address `json:"bettor"`
	StakeHandle domain.Handle  `json:"stake_handle"`
	SideHandle  domain.Handle  `json:"side_handle"`

	Collateral   uint64 `json:"collateral"`
	DeclaredSide bool   `json:"declared_side"`
}

// callerRequest carries the acting address for bet-level operations.
type callerRequest struct {
	Caller common.Address `json:"caller"`
}

// PlaceBet escrows a new bet against an open market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	marketID, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bet, err := h.bets.PlaceBet(r.Context(), ledger.PlaceBetParams{
		MarketID:     marketID,
		Bettor:       req.Bettor,
		StakeHandle:  req.StakeHandle,
		SideHandle:   req.SideHandle,
		Collateral:   req.Collateral,
		DeclaredSide: req.DeclaredSide,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to place bet")
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

// listBetsResponse wraps the list endpoints output.
type listBetsResponse struct {
	Bets   []domain.Bet `json:"bets"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ListBets returns the bets on a market in placement order.
// GET /api/markets/{id}/bets?limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	marketID, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}
	opts := parseListOpts(r)

	bets, err := h.bets.ListBets(r.Context(), marketID, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list bets")
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}

	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets, Limit: opts.Limit, Offset: opts.Offset})
}

// ListByBettor returns all bets placed by one address across markets.
// GET /api/bets?bettor=0x...
func (h *BetHandler) ListByBettor(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("bettor")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "bettor query parameter required")
		return
	}
	opts := parseListOpts(r)

	bets, err := h.bets.ListBetsByBettor(r.Context(), common.HexToAddress(raw), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list bets")
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}

	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetBet returns a single bet.
// GET /api/markets/{id}/bets/{index}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	marketID, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}
	index, ok := pathUint64(w, r, "index")
	if !ok {
		return
	}

	bet, err := h.bets.GetBet(r.Context(), marketID, index)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get bet")
		return
	}

	writeJSON(w, http.StatusOK, bet)
}

// RequestDecrypt asks the gateway to disclose a bet's stake and side ahead
// of withdrawal.
// POST /api/markets/{id}/bets/{index}/decrypt
func (h *BetHandler) RequestDecrypt(w http.ResponseWriter, r *http.Request) {
	marketID, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}
	index, ok := pathUint64(w, r, "index")
	if !ok {
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bet, err := h.bets.RequestBetDecrypt(r.Context(), marketID, index, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to request bet decryption")
		return
	}

	writeJSON(w, http.StatusAccepted, bet)
}

// Withdraw consumes the revealed stake and side and pays the bettor out.
// POST /api/markets/{id}/bets/{index}/withdraw
func (h *BetHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	marketID, ok := pathUint64(w, r, "id")
	if !ok {
		return
	}
	index, ok := pathUint64(w, r, "index")
	if !ok {
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bet, err := h.bets.Withdraw(r.Context(), marketID, index, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to withdraw bet")
		return
	}

	writeJSON(w, http.StatusOK, bet)
}
