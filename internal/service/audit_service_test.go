package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/moonbot/internal/bot"
	"github.com/alanyoungcy/moonbot/internal/domain"
)

type memArchiver struct {
	reports []domain.AuditReport
	err     error
}

func (a *memArchiver) Archive(_ context.Context, r domain.AuditReport) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.reports = append(a.reports, r)
	return "audits/" + r.ID + ".json", nil
}

type memAuditStore struct {
	events  []string
	details []map[string]any
}

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.events = append(s.events, event)
	s.details = append(s.details, detail)
	return nil
}

func (s *memAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type auditFixture struct {
	svc      *AuditService
	builder  *fakeBuilder
	alerter  *recordingAlerter
	archiver *memArchiver
	store    *memAuditStore
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()
	ctx := context.Background()
	f := &auditFixture{
		builder:  newFakeBuilder(),
		alerter:  &recordingAlerter{},
		archiver: &memArchiver{},
		store:    &memAuditStore{},
	}
	fleet := bot.NewFleet()
	for _, rec := range []domain.BotRecord{
		{ID: 1, Name: "a", Wallet: "w1", InitialInventory: map[string]string{"ETH": "6", "JRC": "5"}},
		{ID: 2, Name: "b", Wallet: "w1", InitialInventory: map[string]string{"ETH": "4"}},
	} {
		b, err := f.builder.Build(ctx, rec)
		require.NoError(t, err)
		require.NoError(t, fleet.Add(b))
	}

	wallets := testWallets(t, "w1")
	require.NoError(t, wallets.RefreshAll(ctx, balanceFetcher{
		"w1": {
			Confirmed: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(5)},
			Locked:    map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3)},
		},
	}))

	market := domain.Market{Assets: map[string]domain.Asset{"ETH": {Symbol: "ETH", Decimals: 18}}}
	f.svc = NewAuditService(fleet, wallets, market, f.alerter, f.archiver, f.store,
		AuditConfig{WarnMargin: 1.1, MaxMargin: 1.5}, discard())
	f.svc.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestAuditComputesMarginsPerWallet(t *testing.T) {
	f := newAuditFixture(t)
	_, ok := f.svc.Last()
	assert.False(t, ok)

	report := f.svc.Run(context.Background())
	assert.NotEmpty(t, report.ID)
	last, ok := f.svc.Last()
	require.True(t, ok)
	assert.Equal(t, report.ID, last.ID)
	require.Len(t, report.Wallets, 1)
	w := report.Wallets[0]
	assert.Equal(t, "w1", w.WalletID)
	require.Len(t, w.Tokens, 2)

	eth := w.Tokens[0]
	assert.Equal(t, "ETH", eth.Token)
	assert.True(t, eth.Inventory.Equal(decimal.NewFromInt(10)))
	assert.True(t, eth.Balance.Equal(decimal.NewFromInt(8)))
	assert.True(t, eth.Margin.Equal(decimal.RequireFromString("1.25")))

	// No balance at all divides by one.
	jrc := w.Tokens[1]
	assert.Equal(t, "JRC", jrc.Token)
	assert.True(t, jrc.Margin.Equal(decimal.NewFromInt(5)))

	require.Len(t, f.archiver.reports, 1)
	assert.Equal(t, []string{"wallet_audit"}, f.store.events)
	assert.Equal(t, "audits/"+report.ID+".json", f.store.details[0]["object_key"])
}

func TestAuditAlertsOncePerLevel(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	f.svc.Run(ctx)
	// ETH crosses the warning margin; JRC goes straight to critical.
	assert.Equal(t, []domain.AlertLevel{domain.AlertWarning, domain.AlertCritical}, f.alerter.levels())

	f.svc.Run(ctx)
	assert.Len(t, f.alerter.levels(), 2)

	f.builder.ledgers[2].set("ETH", 10) // 16 / 8 = 2
	f.svc.Run(ctx)
	levels := f.alerter.levels()
	require.Len(t, levels, 3)
	assert.Equal(t, domain.AlertCritical, levels[2])
	assert.Equal(t, "ETH", f.alerter.alerts[2].Tags["token"])
}

func TestAuditDisabledMargins(t *testing.T) {
	f := newAuditFixture(t)
	f.svc.cfg = AuditConfig{}
	f.svc.Run(context.Background())
	assert.Empty(t, f.alerter.levels())
}

func TestAuditArchiveFailureStillReports(t *testing.T) {
	f := newAuditFixture(t)
	f.archiver.err = errors.New("bucket gone")
	report := f.svc.Run(context.Background())
	assert.Len(t, report.Wallets, 1)
	require.Len(t, f.store.details, 1)
	assert.NotContains(t, f.store.details[0], "object_key")
}
