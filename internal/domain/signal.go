package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AlertLevel grades alerts sent to operators.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is a message for the observability channel.
type Alert struct {
	Level   AlertLevel
	Title   string
	Message string
	Tags    map[string]string
	At      time.Time
}

// InboxMessage is a counter-trade instruction handed from one bot to another.
type InboxMessage struct {
	Quantity decimal.Decimal `json:"quantity"`
	Side     Side            `json:"side"`
}

// Alerter delivers alerts to operators. Delivery failures are the
// implementation's concern.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}
