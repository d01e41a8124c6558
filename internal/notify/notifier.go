// Package notify provides a multi-channel notification system. Notifications
// are dispatched to all registered senders (Discord, Telegram, etc.) and can
// be filtered by event kind so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Event kinds accepted by Notify.
const (
	EventOpportunity = "opportunity"
	EventAlert       = "alert"
	EventStatus      = "status"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "discord").
	Name() string
}

// OpportunitySender is implemented by senders that can render an arbitrage
// opportunity with channel-native formatting instead of plain text. The
// Notifier upgrades to it when available.
type OpportunitySender interface {
	SendOpportunity(ctx context.Context, opp domain.Opportunity) error
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event kinds; Notify only forwards messages whose event kind
// is in the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event kinds
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose kind appears in the events slice will be forwarded by Notify.
// If events is empty, all event kinds are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event kind is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, func(s Sender) error {
		return s.Send(ctx, title, message)
	})
}

// NotifyAll sends a notification to all senders regardless of event kind.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, func(s Sender) error {
		return s.Send(ctx, title, message)
	})
}

// NotifyOpportunity delivers an arbitrage opportunity to all senders. Senders
// that implement OpportunitySender receive the structured form; the rest get
// the plain-text rendering from FormatOpportunity.
func (n *Notifier) NotifyOpportunity(ctx context.Context, opp domain.Opportunity) error {
	if !n.allowed(EventOpportunity) {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", EventOpportunity),
		)
		return nil
	}

	return n.dispatch(ctx, func(s Sender) error {
		if os, ok := s.(OpportunitySender); ok {
			return os.SendOpportunity(ctx, opp)
		}
		title, message := FormatOpportunity(opp)
		return s.Send(ctx, title, message)
	})
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// dispatch invokes deliver for every sender. Errors from individual senders
// are collected and returned as a combined error; a single sender failure
// does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, deliver func(Sender) error) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := deliver(s); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
