package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// RouteFinder is the quoting side of the arbitrage finder.
type RouteFinder interface {
	Quotes(ctx context.Context, stake domain.ExtendedAsset) (domain.QuoteBook, error)
	FindRoute(ctx context.Context, stake domain.ExtendedAsset) (domain.Route, error)
}

// QuoteHandler serves read-only pricing endpoints.
type QuoteHandler struct {
	finder          RouteFinder
	defaultContract string
	logger          *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler. defaultContract is used when a
// request omits ?contract=.
func NewQuoteHandler(finder RouteFinder, defaultContract string, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{finder: finder, defaultContract: defaultContract, logger: logHandler(logger, "quotes")}
}

// Quotes returns every venue quote for the amount.
// GET /api/quotes?amount=10.0000%20EOS&contract=eosio.token
func (h *QuoteHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	stake, err := parseStake(r, h.defaultContract)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	book, err := h.finder.Quotes(r.Context(), stake)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// Route returns the best profitable route for the amount, or 422 when none
// gains.
// GET /api/route?amount=10.0000%20EOS&contract=eosio.token
func (h *QuoteHandler) Route(w http.ResponseWriter, r *http.Request) {
	stake, err := parseStake(r, h.defaultContract)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	route, err := h.finder.FindRoute(r.Context(), stake)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}
