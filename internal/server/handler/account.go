package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// FundsService reads and funds ledger accounts.
type FundsService interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Deposit(ctx context.Context, account common.Address, amount *big.Int) (*big.Int, error)
}

// AccountHandler serves /api/accounts.
type AccountHandler struct {
	funds  FundsService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(funds FundsService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{funds: funds, logger: logHandler(logger, "accounts")}
}

// Balance returns an account's spendable balance.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := h.funds.Balance(r.Context(), acct)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balance failed",
			slog.String("account", acct.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct.Hex(), "balance": newAmountView(bal)})
}

type depositRequest struct {
	Amount string `json:"amount"`
}

// Deposit credits an account. Mounted behind the admin key.
// POST /api/accounts/{address}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	acct, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal, err := h.funds.Deposit(r.Context(), acct, amount)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid deposit account or amount")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: deposit failed",
			slog.String("account", acct.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to deposit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct.Hex(), "balance": newAmountView(bal)})
}
