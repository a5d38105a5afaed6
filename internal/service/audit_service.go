package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/wallet"
)

// ReportArchiver stores a finished audit report and returns where it went.
type ReportArchiver interface {
	Archive(ctx context.Context, r domain.AuditReport) (string, error)
}

// AuditConfig holds the inventory margins. A zero margin disables its alert.
type AuditConfig struct {
	WarnMargin float64
	MaxMargin  float64
}

const (
	alertedWarn = iota + 1
	alertedCritical
)

// AuditService compares what the bots believe each wallet holds with the
// wallet's actual confirmed and locked balances.
type AuditService struct {
	fleet    *bot.Fleet
	wallets  *wallet.Set
	market   domain.Market
	alerter  domain.Alerter
	archiver ReportArchiver    // optional
	audit    domain.AuditStore // optional
	cfg      AuditConfig
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	alerted map[string]int // wallet/token -> highest level already alerted
	last    *domain.AuditReport
}

// NewAuditService creates an AuditService. archiver and audit may be nil.
func NewAuditService(
	fleet *bot.Fleet,
	wallets *wallet.Set,
	market domain.Market,
	alerter domain.Alerter,
	archiver ReportArchiver,
	audit domain.AuditStore,
	cfg AuditConfig,
	logger *slog.Logger,
) *AuditService {
	return &AuditService{
		fleet:    fleet,
		wallets:  wallets,
		market:   market,
		alerter:  alerter,
		archiver: archiver,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "audit_service")),
		now:      time.Now,
		alerted:  make(map[string]int),
	}
}

// Run audits every wallet with at least one bot. Archive and store failures
// are logged; the report is still returned.
func (s *AuditService) Run(ctx context.Context) domain.AuditReport {
	report := domain.AuditReport{ID: uuid.NewString(), At: s.now().UTC()}

	for walletID, inventory := range s.inventoryByWallet() {
		w, err := s.wallets.Get(walletID)
		if err != nil {
			s.logger.WarnContext(ctx, "audit_service: bot wallet not loaded", slog.String("wallet", walletID))
			continue
		}
		balances := w.Balances()

		wa := domain.WalletAudit{WalletID: walletID}
		for _, token := range sortedKeys(inventory) {
			inv := inventory[token]
			bal := balances.Total(token)
			divisor := bal
			if divisor.IsZero() {
				divisor = decimal.NewFromInt(1)
			}
			margin := inv.DivRound(divisor, 8)
			wa.Tokens = append(wa.Tokens, domain.TokenAudit{Token: token, Inventory: inv, Balance: bal, Margin: margin})

			s.logger.InfoContext(ctx, "audit_service: token",
				slog.String("wallet", walletID),
				slog.String("token", token),
				slog.String("inventory", inv.String()),
				slog.String("balance", bal.String()),
				slog.String("margin", margin.String()),
			)
			s.checkMargin(ctx, walletID, token, margin)
		}
		report.Wallets = append(report.Wallets, wa)
	}
	sort.Slice(report.Wallets, func(i, j int) bool { return report.Wallets[i].WalletID < report.Wallets[j].WalletID })

	s.persist(ctx, report)
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report
}

// Last returns the most recent report, if any audit has run.
func (s *AuditService) Last() (domain.AuditReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.AuditReport{}, false
	}
	return *s.last, true
}

// InventoryReport logs each bot's holdings in display units.
func (s *AuditService) InventoryReport(ctx context.Context) {
	for _, b := range s.fleet.List() {
		tokens := b.Ledger().Tokens()
		attrs := []any{slog.Int64("bot_id", b.ID()), slog.Any("pairs", b.Pairs())}
		for _, token := range sortedKeys(tokens) {
			amount := tokens[token]
			if asset, ok := s.market.Assets[token]; ok {
				amount = amount.Shift(-asset.Decimals)
			}
			attrs = append(attrs, slog.String(token, amount.String()))
		}
		s.logger.InfoContext(ctx, "audit_service: bot inventory", attrs...)
	}
}

func (s *AuditService) inventoryByWallet() map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal)
	for _, b := range s.fleet.List() {
		walletID := b.Account().WalletID
		if out[walletID] == nil {
			out[walletID] = make(map[string]decimal.Decimal)
		}
		for token, amount := range b.Ledger().Tokens() {
			out[walletID][token] = out[walletID][token].Add(amount)
		}
	}
	return out
}

// checkMargin alerts once per level for each wallet/token pair.
func (s *AuditService) checkMargin(ctx context.Context, walletID, token string, margin decimal.Decimal) {
	key := walletID + "/" + token
	s.mu.Lock()
	prev := s.alerted[key]
	level := prev
	if s.cfg.WarnMargin > 0 && margin.GreaterThan(decimal.NewFromFloat(s.cfg.WarnMargin)) && level < alertedWarn {
		level = alertedWarn
	}
	if s.cfg.MaxMargin > 0 && margin.GreaterThan(decimal.NewFromFloat(s.cfg.MaxMargin)) && level < alertedCritical {
		level = alertedCritical
	}
	s.alerted[key] = level
	s.mu.Unlock()

	if level == prev || s.alerter == nil {
		return
	}
	alert := domain.Alert{
		Level:   domain.AlertWarning,
		Title:   "Inventory margin exceeded",
		Message: fmt.Sprintf("Inventory margin for %s in wallet %s is %s, above %gx", token, walletID, margin, s.cfg.WarnMargin),
		Tags:    map[string]string{"wallet": walletID, "token": token},
		At:      s.now(),
	}
	if level == alertedCritical {
		alert.Level = domain.AlertCritical
		alert.Message = fmt.Sprintf("Inventory margin for %s in wallet %s is %s, above %gx", token, walletID, margin, s.cfg.MaxMargin)
	}
	s.alerter.Alert(ctx, alert)
}

func (s *AuditService) persist(ctx context.Context, report domain.AuditReport) {
	detail := map[string]any{"report_id": report.ID, "wallets": len(report.Wallets)}
	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, report)
		if err != nil {
			s.logger.WarnContext(ctx, "audit_service: archive failed", slog.String("error", err.Error()))
		} else {
			detail["object_key"] = key
		}
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "wallet_audit", detail); err != nil {
			s.logger.WarnContext(ctx, "audit_service: audit log failed", slog.String("error", err.Error()))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
