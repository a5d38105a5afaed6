package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	cancelled []string
	made      []domain.Quote
	postOnly  []bool
	failPrice decimal.Decimal
	cancelErr map[string]error
}

func (g *fakeGateway) CreateOrder(_ context.Context, _ domain.Account, pair string, side domain.Side, price, qty decimal.Decimal, postOnly bool) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price.Equal(g.failPrice) {
		return domain.Order{}, errors.New("a better price is now available")
	}
	g.made = append(g.made, domain.Quote{Pair: pair, Side: side, Price: price, Quantity: qty})
	g.postOnly = append(g.postOnly, postOnly)
	return domain.Order{ID: "o-" + price.String(), Pair: pair, Side: side, Price: price, Resting: true}, nil
}

func (g *fakeGateway) CreateMarketOrder(_ context.Context, _ domain.Account, pair string, side domain.Side, qty decimal.Decimal) (domain.Order, error) {
	return domain.Order{ID: "t", Pair: pair, Side: side, Fills: []domain.Fill{{ID: "f", FillAmount: qty}}}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ domain.Account, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.cancelErr[id]; err != nil {
		return err
	}
	g.cancelled = append(g.cancelled, id)
	return nil
}

func (g *fakeGateway) FetchOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (g *fakeGateway) FetchBalances(context.Context, domain.Account) (domain.Balances, error) {
	return domain.Balances{}, nil
}

type countingLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(_ context.Context, key string, _ int, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return nil
}

var acct = domain.Account{WalletID: "w1", Address: "0xabc", Blockchain: "eth"}

func newExecutor(g *fakeGateway, l domain.RateLimiter) *Executor {
	return New(g, l, Config{OrdersPerSecond: 5}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMakeReportsPerQuoteResults(t *testing.T) {
	g := &fakeGateway{failPrice: dec("2")}
	lim := &countingLimiter{}
	e := newExecutor(g, lim)

	results := e.Make(context.Background(), acct, []domain.Quote{
		{Pair: "A_B", Side: domain.SideSell, Price: dec("1"), Quantity: dec("3"), ProfitMargin: 10},
		{Pair: "A_B", Side: domain.SideSell, Price: dec("2"), Quantity: dec("3")},
	})

	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 10, results[0].Order.Profit)
	assert.ErrorIs(t, results[1].Err, domain.ErrStalePrice)
	assert.Equal(t, []bool{true}, g.postOnly)
	assert.Equal(t, []string{"orders:0xabc", "orders:0xabc"}, lim.keys)
}

func TestCancelSkipsDuplicatesAndRecent(t *testing.T) {
	g := &fakeGateway{cancelErr: map[string]error{"gone": errors.New("order has been filled or cancelled")}}
	e := newExecutor(g, nil)
	orders := []domain.Order{{ID: "a"}, {ID: "a"}, {ID: "gone"}}

	results := e.Cancel(context.Background(), acct, orders)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.True(t, results[1].Skipped)
	assert.ErrorIs(t, results[2].Err, domain.ErrOrderAlreadyClosed)
	assert.Equal(t, []string{"a"}, g.cancelled)

	again := e.Cancel(context.Background(), acct, []domain.Order{{ID: "a"}})
	assert.True(t, again[0].Skipped)
	assert.Equal(t, []string{"a"}, g.cancelled)
}

func TestTake(t *testing.T) {
	e := newExecutor(&fakeGateway{}, nil)
	results := e.Take(context.Background(), acct, []domain.TakeOrder{{Pair: "A_B", Side: domain.SideBuy, Quantity: dec("1")}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Order.Fills, 1)
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(100, 0)
	d.now = func() time.Time { return now }

	d.Mark("x")
	assert.True(t, d.Seen("x"))
	now = now.Add(2 * time.Minute)
	assert.False(t, d.Seen("x"))
	d.Cleanup()
	assert.Empty(t, d.seen)
}
