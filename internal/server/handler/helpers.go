// Package handler implements the HTTP endpoints of the arbitrage API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps a domain error to the HTTP status reported for it.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInput),
		errors.Is(err, domain.ErrSymbolMismatch),
		errors.Is(err, domain.ErrAssetOverflow):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNoProfitableRoute),
		errors.Is(err, domain.ErrInsufficientReturn),
		errors.Is(err, domain.ErrUnsupportedExchange),
		errors.Is(err, domain.ErrUnsupportedPair):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLoanMismatch),
		errors.Is(err, domain.ErrLegFailed),
		errors.Is(err, domain.ErrZeroProfit),
		errors.Is(err, domain.ErrLoanNotRepaid),
		errors.Is(err, domain.ErrIncomplete),
		errors.Is(err, domain.ErrOverdrawn):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDomainError logs server-side failures and writes err with the status
// errorStatus picks for it.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	var err error
	if opts.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return domain.ListOpts{}, fmt.Errorf("since: %w", err)
	}
	if opts.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return domain.ListOpts{}, fmt.Errorf("until: %w", err)
	}
	return opts, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an RFC 3339 time", domain.ErrInput, v)
	}
	return &t, nil
}

// parseStake reads ?amount=10.0000 EOS&contract=eosio.token. The contract
// defaults to defaultContract.
func parseStake(r *http.Request, defaultContract string) (domain.ExtendedAsset, error) {
	q := r.URL.Query()
	amount := strings.TrimSpace(q.Get("amount"))
	if amount == "" {
		return domain.ExtendedAsset{}, fmt.Errorf("%w: amount query parameter required", domain.ErrInput)
	}
	qty, err := domain.ParseAsset(amount)
	if err != nil {
		return domain.ExtendedAsset{}, err
	}
	contract := strings.TrimSpace(q.Get("contract"))
	if contract == "" {
		contract = defaultContract
	}
	if contract == "" {
		return domain.ExtendedAsset{}, fmt.Errorf("%w: contract query parameter required", domain.ErrInput)
	}
	return domain.ExtendedAsset{Quantity: qty, Contract: contract}, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
