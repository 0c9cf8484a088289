package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// PlanManager exposes the pending settlement plan.
type PlanManager interface {
	Plan(ctx context.Context) (domain.SettlementPlan, error)
	ClearPlan(ctx context.Context) (domain.SettlementPlan, error)
}

// PlanNotifier is told when an operator discards a plan.
type PlanNotifier interface {
	Notify(ctx context.Context, event, title, body string) error
}

// PlanHandler serves the settlement plan slot.
type PlanHandler struct {
	plans  PlanManager
	notify PlanNotifier
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewPlanHandler creates a PlanHandler. notify and audit may be nil.
func NewPlanHandler(plans PlanManager, notify PlanNotifier, audit domain.AuditStore, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, notify: notify, audit: audit, logger: logHandler(logger, "plan")}
}

// GetPlan returns the pending plan, or 404 when the slot is empty.
// GET /api/plan
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.Plan(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// ClearPlan discards a plan whose loan never arrived and returns it.
// DELETE /api/plan
func (h *PlanHandler) ClearPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.ClearPlan(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	ctx := r.Context()
	if h.audit != nil {
		if err := h.audit.Log(ctx, "plan_cleared", map[string]any{
			"operation_id": plan.OperationID,
			"stake":        plan.Stake.String(),
			"created_at":   plan.CreatedAt,
		}); err != nil {
			h.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if h.notify != nil {
		body := "Operation " + plan.OperationID + " for " + plan.Stake.String() + " was discarded."
		if err := h.notify.Notify(ctx, "plan_cleared", "Settlement plan cleared", body); err != nil {
			h.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, plan)
}
