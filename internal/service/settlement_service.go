// Package service holds the application services between the settlement
// engine and the outside world: persistence, events, audit and alerts.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// SettlementsChannel is the signal bus channel settlement events go to.
const SettlementsChannel = "settlements"

// SettlementNotifier receives every recorded settlement.
type SettlementNotifier interface {
	NotifySettlement(ctx context.Context, s domain.Settlement) error
}

// SettlementEvent is the JSON shape published on SettlementsChannel.
type SettlementEvent struct {
	Event      string            `json:"event"`
	Settlement domain.Settlement `json:"settlement"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SettlementService records finished settlements and answers history
// queries. Only the store write is fatal; publishing, auditing and
// notifying failures are logged.
type SettlementService struct {
	store  domain.SettlementStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	notify SettlementNotifier
	logger *slog.Logger
}

// NewSettlementService wires the service. bus, audit and notify may be nil.
func NewSettlementService(
	store domain.SettlementStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notify SettlementNotifier,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		store:  store,
		bus:    bus,
		audit:  audit,
		notify: notify,
		logger: logger.With(slog.String("component", "settlement_service")),
	}
}

// Record persists s, then publishes, audits and notifies.
func (s *SettlementService) Record(ctx context.Context, st domain.Settlement) error {
	if err := s.store.Create(ctx, st); err != nil {
		return fmt.Errorf("settlement_service: create %s: %w", st.ID, err)
	}
	event := "settlement_" + string(st.Status)

	if s.bus != nil {
		payload, err := json.Marshal(SettlementEvent{Event: event, Settlement: st, Timestamp: time.Now().UTC()})
		if err == nil {
			err = s.bus.Publish(ctx, SettlementsChannel, payload)
		}
		if err == nil {
			err = s.bus.StreamAppend(ctx, SettlementsChannel, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "publish settlement failed",
				slog.String("operation_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		detail := map[string]any{
			"operation_id": st.ID,
			"stake":        st.Plan.Stake.String(),
			"sell_venue":   st.Plan.SellVenue,
			"buy_venue":    st.Plan.BuyVenue,
			"profit":       st.Profit.String(),
		}
		if st.Error != "" {
			detail["error"] = st.Error
		}
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("operation_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notify != nil {
		if err := s.notify.NotifySettlement(ctx, st); err != nil {
			s.logger.WarnContext(ctx, "notify settlement failed",
				slog.String("operation_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "settlement recorded",
		slog.String("operation_id", st.ID),
		slog.String("status", string(st.Status)),
		slog.String("profit", st.Profit.String()),
	)
	return nil
}

// Get returns one settlement or domain.ErrNotFound.
func (s *SettlementService) Get(ctx context.Context, id string) (domain.Settlement, error) {
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Settlement{}, err
		}
		return domain.Settlement{}, fmt.Errorf("settlement_service: get %q: %w", id, err)
	}
	return st, nil
}

// List returns settlements newest first.
func (s *SettlementService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	list, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list: %w", err)
	}
	return list, nil
}

// Profit totals completed profit in sym since the given time.
func (s *SettlementService) Profit(ctx context.Context, sym domain.ExtendedSymbol, since time.Time) (domain.Asset, error) {
	total, err := s.store.SumProfit(ctx, sym, since)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("settlement_service: profit %s: %w", sym, err)
	}
	return total, nil
}
