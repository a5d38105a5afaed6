package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FillEvent is one balance change applied by an inventory ledger.
type FillEvent struct {
	BotID   int64
	OrderID string
	FillID  string
	Asset   string
	Delta   decimal.Decimal // on-chain units, signed
	Reason  string          // "make_fill", "take_fill", "fee"
	At      time.Time
}

// FillJournal is an append-only record of ledger changes.
type FillJournal interface {
	Record(ctx context.Context, events []FillEvent) error
	ListByBot(ctx context.Context, botID int64, opts ListOpts) ([]FillEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TokenAudit compares what bots believe a wallet holds with what it holds.
type TokenAudit struct {
	Token     string          `json:"token"`
	Inventory decimal.Decimal `json:"inventory"`
	Balance   decimal.Decimal `json:"balance"`
	Margin    decimal.Decimal `json:"margin"`
}

// WalletAudit is the audit of one wallet.
type WalletAudit struct {
	WalletID string       `json:"wallet_id"`
	Tokens   []TokenAudit `json:"tokens"`
}

// AuditReport is one run of the wallet audit.
type AuditReport struct {
	ID      string        `json:"id"`
	At      time.Time     `json:"at"`
	Wallets []WalletAudit `json:"wallets"`
}
