package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/executor"
)

type idleMarketData struct{}

func (idleMarketData) Orders(context.Context, domain.Account, string) ([]domain.Order, error) {
	return nil, nil
}
func (idleMarketData) Book(context.Context, string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (idleMarketData) Trades(context.Context, string) ([]domain.Trade, error) { return nil, nil }
func (idleMarketData) ResetOrders(context.Context, domain.Account) error      { return nil }
func (idleMarketData) ResetBook(context.Context, string) error                { return nil }

type idleLedger struct{}

func (idleLedger) Tokens() map[string]decimal.Decimal                    { return nil }
func (idleLedger) InitialTokens() map[string]decimal.Decimal             { return nil }
func (idleLedger) UpdateInventory(context.Context, []domain.Order)       {}
func (idleLedger) ProcessExecutedOrders(context.Context, []domain.Order) {}
func (idleLedger) Reset(context.Context) error                           { return nil }

type idleExecutor struct{}

func (idleExecutor) Cancel(context.Context, domain.Account, []domain.Order) []executor.Result {
	return nil
}
func (idleExecutor) Make(context.Context, domain.Account, []domain.Quote) []executor.Result {
	return nil
}
func (idleExecutor) Take(context.Context, domain.Account, []domain.TakeOrder) []executor.Result {
	return nil
}

type countingStrategy struct {
	calls int
	err   error
}

func (s *countingStrategy) Name() string               { return "counting" }
func (s *countingStrategy) RequiredPairs() []string    { return []string{"JRC_ETH"} }
func (s *countingStrategy) Init(context.Context) error { return nil }
func (s *countingStrategy) Settings() map[string]any   { return nil }
func (s *countingStrategy) Close() error               { return nil }

func (s *countingStrategy) ComputeCurrentDelta(context.Context, domain.Snapshot) (domain.Delta, error) {
	s.calls++
	return domain.Delta{}, s.err
}

type alertLog struct{ alerts []domain.Alert }

func (a *alertLog) Alert(_ context.Context, al domain.Alert) { a.alerts = append(a.alerts, al) }

type fakeLocks struct {
	held     map[string]bool
	acquired []string
	extended []string
	released []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() { l.released = append(l.released, key) }, nil
}

func (l *fakeLocks) Extend(_ context.Context, key string, _ time.Duration) error {
	l.extended = append(l.extended, key)
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestBot(t *testing.T, id int64, s *countingStrategy, running bool) *bot.Bot {
	t.Helper()
	b := bot.New(bot.Config{
		Record:     domain.BotRecord{ID: id, Name: "bot", Wallet: "w1"},
		Account:    domain.Account{WalletID: "w1"},
		Strategy:   s,
		Ledger:     idleLedger{},
		MarketData: idleMarketData{},
		Executor:   idleExecutor{},
		Logger:     quiet(),
	})
	if running {
		require.NoError(t, b.Start(context.Background()))
	}
	return b
}

func TestRunnerPacesRoundsAndAudits(t *testing.T) {
	fleet := bot.NewFleet()
	a, b := &countingStrategy{}, &countingStrategy{}
	require.NoError(t, fleet.Add(newTestBot(t, 1, a, true)))
	require.NoError(t, fleet.Add(newTestBot(t, 2, b, true)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	audits := 0
	r := NewRunner(fleet, nil, func(context.Context) {
		audits++
		if audits == 2 {
			cancel()
		}
	}, nil, RunnerConfig{WorkLoop: time.Second, AuditEvery: 6}, quiet())
	var pauses []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) { pauses = append(pauses, d) }

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 2, audits)
	assert.Equal(t, 3, a.calls)
	assert.Equal(t, 3, b.calls)

	require.Len(t, pauses, 6)
	for i := 0; i < len(pauses); i += 2 {
		round := pauses[i] + pauses[i+1]
		assert.LessOrEqual(t, round, time.Second)
		assert.Greater(t, round, 900*time.Millisecond)
		assert.InDelta(t, float64(500*time.Millisecond), float64(pauses[i]), float64(50*time.Millisecond))
	}
}

func TestRunnerRetiresBotsPastErrorCutoff(t *testing.T) {
	fleet := bot.NewFleet()
	failing := &countingStrategy{err: errors.New("rpc down")}
	require.NoError(t, fleet.Add(newTestBot(t, 1, failing, true)))
	alerts := &alertLog{}

	r := NewRunner(fleet, nil, nil, alerts, RunnerConfig{WorkLoop: time.Millisecond, ErrorCutoff: 2}, quiet())
	r.sleep = func(context.Context, time.Duration) {}

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrNoBots)
	assert.Equal(t, 3, failing.calls)
	assert.Zero(t, fleet.Len())
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, domain.AlertCritical, alerts.alerts[0].Level)
	assert.Equal(t, "Bot shut off", alerts.alerts[0].Title)
}

func TestRunnerSkipsLeasedAndStoppedBots(t *testing.T) {
	fleet := bot.NewFleet()
	leased, mine, stopped := &countingStrategy{}, &countingStrategy{}, &countingStrategy{}
	require.NoError(t, fleet.Add(newTestBot(t, 1, leased, true)))
	require.NoError(t, fleet.Add(newTestBot(t, 2, mine, true)))
	require.NoError(t, fleet.Add(newTestBot(t, 3, stopped, false)))
	locks := &fakeLocks{held: map[string]bool{"bot:1": true}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	audits := 0
	r := NewRunner(fleet, locks, func(context.Context) {
		audits++
		if audits == 3 {
			cancel()
		}
	}, nil, RunnerConfig{WorkLoop: time.Millisecond, AuditEvery: 3}, quiet())
	r.sleep = func(context.Context, time.Duration) {}

	require.NoError(t, r.Run(ctx))
	assert.Zero(t, leased.calls)
	assert.Zero(t, stopped.calls)
	assert.Equal(t, 2, mine.calls)
	assert.Equal(t, []string{"bot:2"}, locks.acquired)
	assert.Equal(t, []string{"bot:2"}, locks.extended)
	assert.Equal(t, []string{"bot:2"}, locks.released)
}

func TestRunnerIdlesOnEmptyFleet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRunner(bot.NewFleet(), nil, nil, nil, RunnerConfig{WorkLoop: time.Second}, quiet())
	sleeps := 0
	r.sleep = func(context.Context, time.Duration) {
		sleeps++
		if sleeps == 3 {
			cancel()
		}
	}
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 3, sleeps)
}

func TestRunnerPacesAllStoppedFleet(t *testing.T) {
	fleet := bot.NewFleet()
	stopped := &countingStrategy{}
	require.NoError(t, fleet.Add(newTestBot(t, 1, stopped, false)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	audits := 0
	r := NewRunner(fleet, nil, func(context.Context) { audits++ }, nil,
		RunnerConfig{WorkLoop: time.Second, AuditEvery: 10}, quiet())
	var pauses []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) {
		pauses = append(pauses, d)
		if len(pauses) == 5 {
			cancel()
		}
	}

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second, time.Second, time.Second}, pauses)
	assert.Equal(t, 1, audits)
	assert.Zero(t, stopped.calls)
}
