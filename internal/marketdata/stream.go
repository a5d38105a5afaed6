// Package marketdata keeps local copies of order books, recent trades and an
// account's open orders in sync with the exchange's event streams.
package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// Stream is one event-stream connection. Handlers run serially in arrival
// order, lifecycle events included.
type Stream interface {
	On(event string, handler func(payload []byte))
	Emit(event string, payload any) error
	Connect()
	Disconnect()
}

// Dialer opens a stream on a channel ("orders", "books" or "trades").
type Dialer interface {
	Dial(channel string) Stream
}

// DialFunc adapts a function to a Dialer.
type DialFunc func(channel string) Stream

// Dial calls f(channel).
func (f DialFunc) Dial(channel string) Stream { return f(channel) }

// Lifecycle event names and the disconnect reason of a local Disconnect.
const (
	eventConnect    = "connect"
	eventDisconnect = "disconnect"
	eventReconnect  = "reconnect"
	eventError      = "error"

	clientDisconnect = "io client disconnect"
)

// watchLifecycle logs connection events and alerts on transport errors and
// on disconnects the process did not ask for.
func watchLifecycle(s Stream, room string, alerter domain.Alerter, logger *slog.Logger) {
	s.On(eventReconnect, func([]byte) {
		logger.Info("stream reconnected", slog.String("room", room))
	})
	s.On(eventError, func(payload []byte) {
		msg := decodeReason(payload)
		logger.Error("stream error", slog.String("room", room), slog.String("error", msg))
		alert(alerter, domain.Alert{
			Level:   domain.AlertWarning,
			Title:   "stream error",
			Message: msg,
			Tags:    map[string]string{"room": room},
		})
	})
	s.On(eventDisconnect, func(payload []byte) {
		reason := decodeReason(payload)
		logger.Info("stream disconnected", slog.String("room", room), slog.String("reason", reason))
		if reason == clientDisconnect {
			return
		}
		alert(alerter, domain.Alert{
			Level:   domain.AlertWarning,
			Title:   "stream disconnected",
			Message: reason,
			Tags:    map[string]string{"room": room},
		})
	})
}

func alert(alerter domain.Alerter, a domain.Alert) {
	if alerter != nil {
		alerter.Alert(context.Background(), a)
	}
}

func decodeReason(payload []byte) string {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return string(payload)
	}
	return s
}

// future is a load barrier: readers wait until the current load resolves.
// Guarded by the owning cache's mutex.
type future struct {
	loading bool
	ready   chan struct{}
}

func newFuture() future {
	return future{loading: true, ready: make(chan struct{})}
}

// reset starts a new load. A still-pending channel is reused so earlier
// waiters are released by the next resolve.
func (f *future) reset() {
	if !f.loading {
		f.ready = make(chan struct{})
		f.loading = true
	}
}

func (f *future) resolve() {
	if f.loading {
		close(f.ready)
		f.loading = false
	}
}
