package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// CallerHeader carries the calling principal's address.
const CallerHeader = "X-Caller-Address"

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeMarketError maps a rejection to its HTTP status. Anything that is not
// a MarketError is logged and reported as a 500 without detail.
func writeMarketError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var me *domain.MarketError
	if !errors.As(err, &me) {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, op+" failed")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(me.Kind, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(me.Kind, domain.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(me.Kind, domain.ErrState):
		status = http.StatusConflict
	case errors.Is(me.Kind, domain.ErrPayment):
		status = http.StatusPaymentRequired
	}
	if status == http.StatusInternalServerError || me.Err != nil {
		logger.WarnContext(r.Context(), "handler: "+op+" rejected",
			slog.String("kind", me.KindName()),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, errorBody{Error: me.Reason, Kind: me.KindName()})
}

// callerFrom returns the address in X-Caller-Address, or NoAddress when the
// header is absent. A malformed value is an error.
func callerFrom(r *http.Request) (common.Address, error) {
	v := strings.TrimSpace(r.Header.Get(CallerHeader))
	if v == "" {
		return domain.NoAddress, nil
	}
	return domain.ParseAddress(v)
}

func assetIDParam(r *http.Request) (domain.AssetID, error) {
	return domain.ParseAssetID(r.PathValue("asset_id"))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseAmountField accepts "0.05 eth" or a plain wei integer.
func parseAmountField(name, v string) (*big.Int, error) {
	if strings.TrimSpace(v) == "" {
		return nil, errors.New(name + " is required")
	}
	amt, err := domain.ParseAmount(v)
	if err != nil {
		return nil, errors.New("invalid " + name + ": " + err.Error())
	}
	return amt, nil
}

func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func logHandler(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("handler", name))
}
