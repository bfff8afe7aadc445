package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// BalanceService defines the shielded balance operations the handler needs
// from the ledger service.
type BalanceService interface {
	Deposit(ctx context.Context, principal common.Address, amount domain.Handle) (domain.ShieldedBalance, error)
	SetOperator(ctx context.Context, principal common.Address, until time.Time) error
	GetBalance(ctx context.Context, principal common.Address) (domain.ShieldedBalance, error)
	RevealBalance(ctx context.Context, principal, caller common.Address) (domain.DecryptTicket, error)
	PollDecrypt(ctx context.Context, ticketID string) (domain.DecryptResult, error)
}

// BalanceHandler serves shielded balance endpoints.
type BalanceHandler struct {
	balances BalanceService
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler with the given service and logger.
func NewBalanceHandler(balances BalanceService, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{
		balances: balances,
		logger:   logger,
	}
}

// GetBalance returns the encrypted balance record. The handle is opaque;
// the plaintext is only reachable through RevealBalance.
// GET /api/balances/{principal}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}

	bal, err := h.balances.GetBalance(r.Context(), principal)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get balance")
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

// depositRequest carries an encrypted amount handle produced by the gateway.
type depositRequest struct {
	Amount domain.Handle `json:"amount"`
}

// Deposit folds an encrypted amount into the principal's shielded balance.
// POST /api/balances/{principal}/deposit
func (h *BalanceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bal, err := h.balances.Deposit(r.Context(), principal, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to deposit")
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

// setOperatorRequest sets the ledger's debit delegation expiry.
type setOperatorRequest struct {
	Until time.Time `json:"until"`
}

// SetOperator grants or revokes the ledger's authorization to debit the
// principal's balance at bet time.
// POST /api/balances/{principal}/operator
func (h *BalanceHandler) SetOperator(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}

	var req setOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.balances.SetOperator(r.Context(), principal, req.Until); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to set operator")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal,
		"until":     req.Until,
	})
}

// RevealBalance opens a decrypt ticket for the caller's own balance.
// POST /api/balances/{principal}/reveal
func (h *BalanceHandler) RevealBalance(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ticket, err := h.balances.RevealBalance(r.Context(), principal, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to reveal balance")
		return
	}

	writeJSON(w, http.StatusAccepted, ticket)
}

// PollDecrypt reports the state of a decrypt ticket.
// GET /api/decrypts/{ticket}
func (h *BalanceHandler) PollDecrypt(w http.ResponseWriter, r *http.Request) {
	ticketID := pathParam(r, "ticket")
	if ticketID == "" {
		writeError(w, http.StatusBadRequest, "missing ticket id")
		return
	}

	result, err := h.balances.PollDecrypt(r.Context(), ticketID)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to poll decrypt ticket")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
