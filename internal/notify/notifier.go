// Package notify delivers settlement alerts to chat channels and renders
// scan results on the console. Alerts can be filtered by event type so
// operators receive only the ones they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// Event types accepted by Notify.
const (
	EventSettlementCompleted = "settlement_completed"
	EventSettlementFailed    = "settlement_failed"
	EventPlanCleared         = "plan_cleared"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier returns a Notifier forwarding only the listed events, or all
// events when the list is empty.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifySettlement formats s and sends it under its completion or failure
// event.
func (n *Notifier) NotifySettlement(ctx context.Context, s domain.Settlement) error {
	event := EventSettlementCompleted
	title := "Settlement completed: " + s.Profit.String()
	if s.Status != domain.SettlementCompleted {
		event = EventSettlementFailed
		title = "Settlement failed"
	}
	return n.Notify(ctx, event, title, SettlementMessage(s))
}

// SettlementMessage renders s as a few plain lines.
func SettlementMessage(s domain.Settlement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "operation %s\n", s.ID)
	if s.Plan.Stake.Quantity.Symbol.IsValid() {
		fmt.Fprintf(&b, "stake %s: sell on %s, buy on %s\n", s.Plan.Stake.Quantity, s.Plan.SellVenue, s.Plan.BuyVenue)
	}
	for i, leg := range s.Legs {
		fmt.Fprintf(&b, "leg %d %s: %s -> %s\n", i+1, leg.Venue, leg.Input.Quantity, leg.Output.Quantity)
	}
	if s.Status == domain.SettlementCompleted {
		fmt.Fprintf(&b, "profit %s", s.Profit)
	} else {
		fmt.Fprintf(&b, "error: %s", s.Error)
	}
	return b.String()
}

// dispatch delivers to every sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}
