package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// SettlementExecutor runs one complete arbitrage operation.
type SettlementExecutor interface {
	Execute(ctx context.Context, req domain.SettlementRequest) (domain.Settlement, error)
}

// SettlementHistory answers settlement history queries.
type SettlementHistory interface {
	Get(ctx context.Context, id string) (domain.Settlement, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error)
	Profit(ctx context.Context, sym domain.ExtendedSymbol, since time.Time) (domain.Asset, error)
}

// SettlementHandler serves settlement execution and history endpoints.
type SettlementHandler struct {
	executor        SettlementExecutor // nil in read-only modes
	history         SettlementHistory
	defaultContract string
	logger          *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler. A nil executor makes
// POST /api/settlements answer 503.
func NewSettlementHandler(executor SettlementExecutor, history SettlementHistory, defaultContract string, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		executor:        executor,
		history:         history,
		defaultContract: defaultContract,
		logger:          logHandler(logger, "settlements"),
	}
}

// executeRequest is the body of POST /api/settlements.
type executeRequest struct {
	Amount    string `json:"amount"`
	Contract  string `json:"contract"`
	MinReturn string `json:"min_return"`
}

func (req executeRequest) toDomain(defaultContract string) (domain.SettlementRequest, error) {
	qty, err := domain.ParseAsset(req.Amount)
	if err != nil {
		return domain.SettlementRequest{}, err
	}
	contract := strings.TrimSpace(req.Contract)
	if contract == "" {
		contract = defaultContract
	}
	out := domain.SettlementRequest{Stake: domain.ExtendedAsset{Quantity: qty, Contract: contract}}
	if strings.TrimSpace(req.MinReturn) != "" {
		if out.MinReturn, err = domain.ParseAsset(req.MinReturn); err != nil {
			return domain.SettlementRequest{}, fmt.Errorf("min_return: %w", err)
		}
	}
	return out, nil
}

// Execute runs one arbitrage operation synchronously and returns the
// completed settlement.
// POST /api/settlements {"amount":"10.0000 EOS","contract":"eosio.token","min_return":"10.1000 EOS"}
func (h *SettlementHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if h.executor == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement execution is disabled in this mode")
		return
	}
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req, err := body.toDomain(h.defaultContract)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	st, err := h.executor.Execute(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

type listSettlementsResponse struct {
	Settlements []domain.Settlement `json:"settlements"`
}

// List returns settlements newest first.
// GET /api/settlements?limit=50&offset=0&since=...&until=...
func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	list, err := h.history.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []domain.Settlement{}
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: list})
}

// Get returns one settlement.
// GET /api/settlements/{id}
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "settlement id is required")
		return
	}
	st, err := h.history.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Profit totals completed profit in one token.
// GET /api/settlements/profit?symbol=4,EOS&contract=eosio.token&since=2026-01-01T00:00:00Z
func (h *SettlementHandler) Profit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("symbol")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	sym, err := domain.ParseSymbol(raw)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	contract := q.Get("contract")
	if contract == "" {
		contract = h.defaultContract
	}
	since := time.Unix(0, 0).UTC()
	if t, err := parseTimeParam(q.Get("since")); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	} else if t != nil {
		since = *t
	}

	total, err := h.history.Profit(r.Context(), domain.ExtendedSymbol{Symbol: sym, Contract: contract}, since)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   sym.String(),
		"contract": contract,
		"since":    since.Format(time.RFC3339),
		"profit":   total.String(),
	})
}
