package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/server/handler"
	"github.com/alanyoungcy/moonbot/internal/service"
	"github.com/alanyoungcy/moonbot/internal/strategy"
	"github.com/alanyoungcy/moonbot/internal/wallet"
)

type fakeBots struct {
	records map[int64]domain.BotRecord
	started []int64
	created service.CreateBotRequest
}

func (f *fakeBots) Status() domain.StatusReport {
	return domain.StatusReport{TotalBots: len(f.records), RunningBots: len(f.started)}
}

func (f *fakeBots) Get(id int64) (domain.BotRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return domain.BotRecord{}, fmt.Errorf("bot: %d: %w", id, domain.ErrBotNotFound)
	}
	return rec, nil
}

func (f *fakeBots) Start(_ context.Context, id int64) error {
	if _, err := f.Get(id); err != nil {
		return err
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeBots) Stop(context.Context, int64) error   { return nil }
func (f *fakeBots) Delete(context.Context, int64) error { return nil }

func (f *fakeBots) Configure(_ context.Context, id int64, settings map[string]any) (domain.BotRecord, error) {
	rec, err := f.Get(id)
	if err != nil {
		return rec, err
	}
	rec.Strategy.Settings = settings
	return rec, nil
}

func (f *fakeBots) Create(_ context.Context, req service.CreateBotRequest) (domain.BotRecord, error) {
	if req.Strategy != strategy.NameSimpleMM {
		return domain.BotRecord{}, fmt.Errorf("strategy %q: %w", req.Strategy, domain.ErrUnknownStrategy)
	}
	f.created = req
	return domain.BotRecord{ID: 3, Name: req.Name, Wallet: req.Wallet, Status: domain.BotStopped}, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Wallets() []wallet.Info {
	return []wallet.Info{{ID: "w1", Blockchain: "eth", Address: "0xabc"}}
}

func (fakeCatalog) Strategies() []strategy.Info {
	return strategy.NewRegistry().ListInfo()
}

func (fakeCatalog) DefaultSettings(name string) (service.StrategyDefaults, error) {
	if name != strategy.NameSimpleMM {
		return service.StrategyDefaults{}, domain.ErrUnknownStrategy
	}
	return service.StrategyDefaults{Settings: map[string]any{"pair": "JRC_ETH"}}, nil
}

type fakeAudits struct{ runs int }

func (a *fakeAudits) Run(context.Context) domain.AuditReport {
	a.runs++
	return domain.AuditReport{ID: "r1"}
}

func (a *fakeAudits) Last() (domain.AuditReport, bool) {
	return domain.AuditReport{ID: "r1"}, a.runs > 0
}

type fakeFills struct{}

func (fakeFills) Record(context.Context, []domain.FillEvent) error { return nil }

func (fakeFills) ListByBot(_ context.Context, botID int64, opts domain.ListOpts) ([]domain.FillEvent, error) {
	return []domain.FillEvent{{BotID: botID, OrderID: "o1", FillID: "f1", Asset: "ETH", Delta: decimal.NewFromInt(-5), Reason: "make_fill"}}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyLimiter) Wait(context.Context, string, int, time.Duration) error          { return nil }

type testServer struct {
	h      http.Handler
	bots   *fakeBots
	audits *fakeAudits
}

func newTestServer(cfg Config, limiter domain.RateLimiter) *testServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bots := &fakeBots{records: map[int64]domain.BotRecord{
		1: {ID: 1, Name: "amm", Strategy: domain.StrategySpec{Name: strategy.NameUniswapMMV2}},
	}}
	audits := &fakeAudits{}
	checks := map[string]handler.Check{"redis": func(context.Context) error { return nil }}
	h := Routes(cfg, Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler("test", time.Now(), bots, audits, nil, logger),
		Bots:    handler.NewBotHandler(bots, fakeFills{}, logger),
		Catalog: handler.NewCatalogHandler(fakeCatalog{}, logger),
	}, limiter, logger)
	return &testServer{h: h, bots: bots, audits: audits}
}

func (s *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestBotRoutes(t *testing.T) {
	s := newTestServer(Config{}, nil)

	rec := s.do(http.MethodGet, "/api/bots/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "amm", decode(t, rec)["name"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/bots/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/bots/abc", "").Code)

	rec = s.do(http.MethodPost, "/api/bots/1/start", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{1}, s.bots.started)

	rec = s.do(http.MethodPut, "/api/bots/1/settings", `{"pair":"SWTH_NEO"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"name": strategy.NameUniswapMMV2, "settings": map[string]any{"pair": "SWTH_NEO"}}, decode(t, rec)["strategy"])

	rec = s.do(http.MethodPost, "/api/bots", `{"name":"new","wallet":"w1","strategy":"simple_mm","settings":{"spread":0.02}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["id"])
	assert.Equal(t, map[string]any{"spread": 0.02}, s.bots.created.Settings)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/bots", `{"strategy":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/bots", `{`).Code)

	rec = s.do(http.MethodGet, "/api/bots/1/fills?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fills := decode(t, rec)["fills"].([]any)
	require.Len(t, fills, 1)
	assert.Equal(t, "-5", fills[0].(map[string]any)["delta"])
}

func TestCatalogAndStatusRoutes(t *testing.T) {
	s := newTestServer(Config{}, nil)

	rec := s.do(http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["strategies"], 4)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/strategies/simple_mm/defaults", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/strategies/nope/defaults", "").Code)

	rec = s.do(http.MethodGet, "/api/wallets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0xabc")

	body := decode(t, s.do(http.MethodGet, "/api/status", ""))
	assert.EqualValues(t, 1, body["total_bots"])
	assert.NotContains(t, body, "last_audit")

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/audit", "").Code)
	body = decode(t, s.do(http.MethodGet, "/api/status", ""))
	assert.Contains(t, body, "last_audit")

	assert.Equal(t, http.StatusNotImplemented, s.do(http.MethodGet, "/api/audit/log", "").Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/bots", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/bots", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/bots", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/bots", "", "X-API-Key", "secret").Code)
}

func TestRateLimitAndCORS(t *testing.T) {
	s := newTestServer(Config{RateLimit: 10, CORSOrigins: []string{"https://ops.example"}}, denyLimiter{})

	rec := s.do(http.MethodGet, "/api/bots", "", "Origin", "https://ops.example")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(http.MethodOptions, "/api/bots", "", "Origin", "https://evil.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthDegraded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewHealthHandler(map[string]handler.Check{
		"postgres": func(context.Context) error { return fmt.Errorf("connection refused") },
	}, logger)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
