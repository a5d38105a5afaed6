package service

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/crypto"
	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/strategy"
	"github.com/alanyoungcy/moonbot/internal/wallet"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLedger struct {
	mu     sync.Mutex
	tokens map[string]decimal.Decimal
	reset  bool
}

func (l *fakeLedger) Tokens() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.tokens)
}

func (l *fakeLedger) InitialTokens() map[string]decimal.Decimal { return l.Tokens() }

func (l *fakeLedger) UpdateInventory(context.Context, []domain.Order)       {}
func (l *fakeLedger) ProcessExecutedOrders(context.Context, []domain.Order) {}

func (l *fakeLedger) Reset(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset = true
	l.tokens = map[string]decimal.Decimal{}
	return nil
}

func (l *fakeLedger) set(token string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[token] = decimal.NewFromInt(amount)
}

type stubStrategy struct {
	name     string
	settings map[string]any
	inits    int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) RequiredPairs() []string {
	if p, ok := s.settings["pair"].(string); ok {
		return []string{p}
	}
	return nil
}

func (s *stubStrategy) Init(context.Context) error {
	s.inits++
	return nil
}

func (s *stubStrategy) ComputeCurrentDelta(context.Context, domain.Snapshot) (domain.Delta, error) {
	return domain.Delta{}, nil
}

func (s *stubStrategy) Settings() map[string]any { return maps.Clone(s.settings) }
func (s *stubStrategy) Close() error             { return nil }

type memRecords struct {
	mu      sync.Mutex
	saved   map[int64]domain.BotRecord
	deleted []int64
}

func (r *memRecords) Save(rec domain.BotRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = map[int64]domain.BotRecord{}
	}
	r.saved[rec.ID] = rec
	return nil
}

func (r *memRecords) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, id)
	r.deleted = append(r.deleted, id)
	return nil
}

// fakeBuilder builds bots around stub strategies and in-memory ledgers.
type fakeBuilder struct {
	records *memRecords
	ledgers map[int64]*fakeLedger
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{records: &memRecords{}, ledgers: map[int64]*fakeLedger{}}
}

func (f *fakeBuilder) Strategy(_ context.Context, rec domain.BotRecord) (strategy.Strategy, error) {
	return &stubStrategy{name: rec.Strategy.Name, settings: maps.Clone(rec.Strategy.Settings)}, nil
}

func (f *fakeBuilder) Build(ctx context.Context, rec domain.BotRecord) (*bot.Bot, error) {
	s, err := f.Strategy(ctx, rec)
	if err != nil {
		return nil, err
	}
	ledger := &fakeLedger{tokens: map[string]decimal.Decimal{}}
	for token, amount := range rec.InitialInventory {
		ledger.tokens[token] = decimal.RequireFromString(amount)
	}
	f.ledgers[rec.ID] = ledger
	return bot.New(bot.Config{
		Record:   rec,
		Account:  domain.Account{WalletID: rec.Wallet, Address: "0x" + rec.Wallet},
		Strategy: s,
		Ledger:   ledger,
		Records:  f.records,
		Logger:   discard(),
	}), nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, al domain.Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	a.mu.Unlock()
}

func (a *recordingAlerter) levels() []domain.AlertLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AlertLevel, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, al.Level)
	}
	return out
}

type balanceFetcher map[string]domain.Balances

func (f balanceFetcher) FetchBalances(_ context.Context, acct domain.Account) (domain.Balances, error) {
	return f[acct.WalletID], nil
}

func testWallets(t *testing.T, ids ...string) *wallet.Set {
	t.Helper()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	ws := make([]*wallet.Wallet, 0, len(ids))
	for _, id := range ids {
		ws = append(ws, wallet.New(id, "eth", signer))
	}
	return wallet.NewSet(discard(), ws...)
}
