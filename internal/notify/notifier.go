// Package notify is the operator alert channel. Alerts are dispatched to all
// registered senders (Telegram, Discord) and filtered by severity.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

var levelRank = map[domain.AlertLevel]int{
	domain.AlertInfo:     0,
	domain.AlertWarning:  1,
	domain.AlertCritical: 2,
}

// Notifier dispatches alerts to one or more Senders. Alerts below minLevel are
// only logged.
type Notifier struct {
	senders  []Sender
	minLevel domain.AlertLevel
	timeout  time.Duration
	logger   *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. An
// empty minLevel forwards everything.
func NewNotifier(senders []Sender, minLevel string, logger *slog.Logger) *Notifier {
	lvl := domain.AlertLevel(strings.ToLower(strings.TrimSpace(minLevel)))
	if _, ok := levelRank[lvl]; !ok {
		lvl = domain.AlertInfo
	}
	return &Notifier{
		senders:  senders,
		minLevel: lvl,
		timeout:  10 * time.Second,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Alert logs the alert and forwards it to every sender when it is severe
// enough. Delivery failures are logged, never returned: alerting must not
// interrupt trading.
func (n *Notifier) Alert(ctx context.Context, a domain.Alert) {
	if a.Level == "" {
		a.Level = domain.AlertInfo
	}
	attrs := []any{
		slog.String("level", string(a.Level)),
		slog.String("title", a.Title),
		slog.String("message", a.Message),
	}
	for k, v := range a.Tags {
		attrs = append(attrs, slog.String("tag_"+k, v))
	}
	n.logger.WarnContext(ctx, "alert", attrs...)

	if levelRank[a.Level] < levelRank[n.minLevel] {
		return
	}

	// Sends get their own deadline so a cancelled cycle still reports.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.dispatch(sendCtx, fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Level)), a.Title), formatBody(a)); err != nil {
		n.logger.ErrorContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
}

// NotifyAll sends a plain notification to all senders regardless of level.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func formatBody(a domain.Alert) string {
	if len(a.Tags) == 0 {
		return a.Message
	}
	keys := make([]string, 0, len(a.Tags))
	for k := range a.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(a.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Tags[k])
	}
	return b.String()
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
