package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/platform/switcheo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeStream struct {
	channel string

	mu        sync.Mutex
	handlers  map[string][]func([]byte)
	emits     []emitted
	connects  int
	connected bool
}

func newFakeStream(channel string) *fakeStream {
	return &fakeStream{channel: channel, handlers: make(map[string][]func([]byte))}
}

func (f *fakeStream) On(event string, h func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeStream) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event, payload})
	return nil
}

func (f *fakeStream) Connect() {
	f.mu.Lock()
	f.connects++
	f.connected = true
	f.mu.Unlock()
	f.fire(eventConnect, nil)
}

func (f *fakeStream) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fireJSON(eventDisconnect, clientDisconnect)
}

func (f *fakeStream) fire(event string, payload []byte) {
	f.mu.Lock()
	hs := f.handlers[event]
	f.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

func (f *fakeStream) fireJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.fire(event, data)
}

func (f *fakeStream) lastEmit() emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emits[len(f.emits)-1]
}

type fakeDialer struct {
	mu      sync.Mutex
	streams map[string][]*fakeStream
}

func (d *fakeDialer) Dial(channel string) Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newFakeStream(channel)
	if d.streams == nil {
		d.streams = make(map[string][]*fakeStream)
	}
	d.streams[channel] = append(d.streams[channel], s)
	return s
}

// waitJoined waits until a stream on channel exists and has sent join+all,
// which happens after its handlers are registered.
func (d *fakeDialer) waitJoined(t *testing.T, channel string) *fakeStream {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		streams := d.streams[channel]
		d.mu.Unlock()
		if len(streams) != 1 {
			return false
		}
		streams[0].mu.Lock()
		defer streams[0].mu.Unlock()
		return len(streams[0].emits) >= 2
	}, time.Second, time.Millisecond)
	return d.only(t, channel)
}

func (d *fakeDialer) only(t *testing.T, channel string) *fakeStream {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.streams[channel], 1)
	return d.streams[channel][0]
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

var testMarket = domain.Market{
	Assets: map[string]domain.Asset{
		"SWTH": {Symbol: "SWTH", Type: "NEP-5", Decimals: 8, Precision: 2},
		"NEO":  {Symbol: "NEO", Type: "NEO", Decimals: 8, Precision: 3},
	},
	Pairs: map[string]domain.Pair{"SWTH_NEO": {Name: "SWTH_NEO", Base: "SWTH", Quote: "NEO", Precision: 6}},
}

var testAcct = domain.Account{WalletID: "main", Address: "0xabc", Blockchain: "neo"}

func newTestManager(t *testing.T) (*Manager, *fakeDialer, *recordingAlerter) {
	t.Helper()
	d := &fakeDialer{}
	a := &recordingAlerter{}
	m := NewManager(d, testMarket, Config{
		ContractHashes: map[string]string{"neo": "0xneo"},
		PageSize:       3,
		SettleDelay:    time.Millisecond,
	}, a, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, d, a
}

func orderJSON(id, side, status string, makeFills int) switcheo.OrderPayload {
	o := switcheo.OrderPayload{
		ID: id, TradeAsset: "SWTH", BaseAsset: "NEO", Side: side, Status: status,
		Price: decimal.RequireFromString("0.001"), TradeAmount: decimal.NewFromInt(100),
	}
	for i := 0; i < makeFills; i++ {
		o.MakeFills = append(o.MakeFills, switcheo.MakeFillPayload{ID: fmt.Sprintf("%s-mf%d", id, i), Amount: decimal.NewFromInt(10)})
	}
	return o
}

// startOrders subscribes in the background and returns the orders stream.
func startOrders(t *testing.T, m *Manager, d *fakeDialer) (*fakeStream, chan []domain.Order) {
	t.Helper()
	out := make(chan []domain.Order, 1)
	go func() {
		orders, err := m.Orders(context.Background(), testAcct, "SWTH_NEO")
		assert.NoError(t, err)
		out <- orders
	}()
	return d.waitJoined(t, "orders"), out
}

func TestOrdersPagingAndGrouping(t *testing.T) {
	m, d, _ := newTestManager(t)
	s, out := startOrders(t, m, d)

	join := s.lastEmit()
	assert.Equal(t, "all", join.event)
	assert.Equal(t, switcheo.OrderRoom{ContractHash: "0xneo", Address: "0xabc", Status: "open"}, join.payload)

	s.fireJSON("all", switcheo.OrderPage{Orders: []switcheo.OrderPayload{
		orderJSON("a", "buy", "open", 0), orderJSON("b", "sell", "open", 0), orderJSON("c", "buy", "open", 0),
	}})
	more := s.lastEmit()
	assert.Equal(t, "more", more.event)
	assert.Equal(t, "c", more.payload.(switcheo.OrderRoom).BeforeID)

	select {
	case <-out:
		t.Fatal("orders returned before the last page")
	case <-time.After(20 * time.Millisecond):
	}

	s.fireJSON("more", switcheo.OrderPage{Orders: []switcheo.OrderPayload{orderJSON("d", "sell", "open", 0)}})
	orders := <-out
	require.Len(t, orders, 4)
	assert.Equal(t, "d", orders[3].ID)

	other, err := m.Orders(context.Background(), testAcct, "ETH_NEO")
	require.NoError(t, err)
	assert.Empty(t, other)
	assert.NotNil(t, other)
}

func TestOrdersUpdatesQueuedWhileLoading(t *testing.T) {
	m, d, _ := newTestManager(t)
	s, out := startOrders(t, m, d)

	s.fireJSON("updates", switcheo.OrderUpdates{Type: "new", Events: []switcheo.OrderPayload{orderJSON("x", "buy", "open", 0)}})
	s.fireJSON("updates", switcheo.OrderUpdates{Type: "update", Events: []switcheo.OrderPayload{orderJSON("a", "buy", "open", 1)}})
	s.fireJSON("all", switcheo.OrderPage{Orders: []switcheo.OrderPayload{orderJSON("a", "buy", "open", 0)}})

	orders := <-out
	require.Len(t, orders, 2)
	assert.Equal(t, "a", orders[0].ID)
	assert.Len(t, orders[0].MakeFills, 1)
	assert.Equal(t, "x", orders[1].ID)
}

func TestOrdersFreshness(t *testing.T) {
	m, d, _ := newTestManager(t)
	s, out := startOrders(t, m, d)
	s.fireJSON("all", switcheo.OrderPage{Orders: []switcheo.OrderPayload{orderJSON("a", "buy", "open", 2), orderJSON("b", "sell", "open", 0)}})
	<-out

	get := func() map[string]domain.Order {
		orders, err := m.Orders(context.Background(), testAcct, "SWTH_NEO")
		require.NoError(t, err)
		byID := make(map[string]domain.Order)
		for _, o := range orders {
			byID[o.ID] = o
		}
		return byID
	}

	// Fewer make fills than stored: stale.
	s.fireJSON("updates", switcheo.OrderUpdates{Type: "update", Events: []switcheo.OrderPayload{orderJSON("a", "buy", "open", 1)}})
	assert.Len(t, get()["a"].MakeFills, 2)

	// Cancellation without new fills replaces the open order.
	s.fireJSON("updates", switcheo.OrderUpdates{Type: "update", Events: []switcheo.OrderPayload{orderJSON("b", "sell", "cancelled", 0)}})
	assert.Equal(t, domain.OrderStatusCancelled, get()["b"].Status)

	// An open replay at the same fill count does not reopen it.
	s.fireJSON("updates", switcheo.OrderUpdates{Type: "update", Events: []switcheo.OrderPayload{orderJSON("b", "sell", "open", 0)}})
	assert.Equal(t, domain.OrderStatusCancelled, get()["b"].Status)

	// New orders that are not open are discarded; unknown types ignored.
	s.fireJSON("updates", switcheo.OrderUpdates{Type: "new", Events: []switcheo.OrderPayload{orderJSON("c", "buy", "filled", 1)}})
	s.fireJSON("updates", switcheo.OrderUpdates{Type: "bogus", Events: []switcheo.OrderPayload{orderJSON("e", "buy", "open", 0)}})
	byID := get()
	assert.NotContains(t, byID, "c")
	assert.NotContains(t, byID, "e")

	m.ClearClosedOrders()
	assert.NotContains(t, get(), "b")
}

func TestOrdersRespectsContext(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Orders(ctx, testAcct, "SWTH_NEO")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResetOrdersReloads(t *testing.T) {
	m, d, _ := newTestManager(t)
	s, out := startOrders(t, m, d)
	s.fireJSON("all", switcheo.OrderPage{Orders: []switcheo.OrderPayload{orderJSON("a", "buy", "open", 0)}})
	<-out

	require.NoError(t, m.ResetOrders(context.Background(), testAcct))
	assert.Equal(t, 2, s.connects)
	assert.Equal(t, "all", s.lastEmit().event)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Orders(ctx, testAcct, "SWTH_NEO")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "orders must wait for the reload")

	s.fireJSON("all", switcheo.OrderPage{Orders: []switcheo.OrderPayload{orderJSON("z", "sell", "open", 0)}})
	orders, err := m.Orders(context.Background(), testAcct, "SWTH_NEO")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "z", orders[0].ID)
}

func level(price string, qty int64) switcheo.LevelPayload {
	return switcheo.LevelPayload{Price: decimal.RequireFromString(price), Amount: decimal.NewFromInt(qty)}
}

func startBook(t *testing.T, m *Manager, d *fakeDialer) *fakeStream {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Book(context.Background(), "SWTH_NEO")
		assert.NoError(t, err)
	}()
	s := d.waitJoined(t, "books")
	var snap switcheo.BookSnapshot
	snap.Book.Buys = []switcheo.LevelPayload{level("0.0010", 5), level("0.0009", 5)}
	snap.Book.Sells = []switcheo.LevelPayload{level("0.0013", 5), level("0.0012", 5)}
	s.fireJSON("all", snap)
	<-done
	return s
}

func delta(side, price string, d int64, typ string) switcheo.BookDelta {
	return switcheo.BookDelta{Side: side, Price: decimal.RequireFromString(price), Delta: decimal.NewFromInt(d), Type: typ}
}

func TestBookDeltas(t *testing.T) {
	m, d, _ := newTestManager(t)
	s := startBook(t, m, d)
	assert.Equal(t, switcheo.BookRoom{ContractHash: "0xneo", Pair: "SWTH_NEO"}, s.lastEmit().payload)

	s.fireJSON("updates", switcheo.BookUpdates{Events: []switcheo.BookDelta{
		delta("buy", "0.00095", 3, "new"),
		delta("buy", "0.0011", 2, "new"),
		delta("sell", "0.00115", 4, "new"),
		delta("sell", "0.0013", -5, "cancel"),
		delta("buy", "0.0009", 1, "new"),
	}})

	book, err := m.Book(context.Background(), "SWTH_NEO")
	require.NoError(t, err)
	prices := func(levels []domain.BookLevel) []string {
		out := make([]string, len(levels))
		for i, l := range levels {
			out[i] = l.Price.String()
		}
		return out
	}
	assert.Equal(t, []string{"0.0011", "0.001", "0.00095", "0.0009"}, prices(book.Bids))
	assert.Equal(t, []string{"0.0012", "0.00115"}, prices(book.Asks))
	assert.True(t, book.Bids[3].Quantity.Equal(decimal.NewFromInt(6)))

	best, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "0.00115", best.Price.String())
}

func TestBookCancelAtMissingLevelIsNoop(t *testing.T) {
	m, d, _ := newTestManager(t)
	s := startBook(t, m, d)
	before, err := m.Book(context.Background(), "SWTH_NEO")
	require.NoError(t, err)

	s.fireJSON("updates", switcheo.BookUpdates{Events: []switcheo.BookDelta{
		delta("buy", "0.0005", -3, "cancel"),
		delta("sell", "0.0020", -1, "cancel"),
	}})

	after, err := m.Book(context.Background(), "SWTH_NEO")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBookInvariantsUnderRandomDeltas(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var bids, asks []domain.BookLevel
	for i := 0; i < 5000; i++ {
		price := decimal.New(int64(90+rng.Intn(20)), -5)
		qty := decimal.NewFromInt(int64(rng.Intn(10) - 4))
		cancel := rng.Intn(3) == 0
		if rng.Intn(2) == 0 {
			bids = applyDelta(bids, price, qty, cancel)
		} else {
			asks = applyDelta(asks, price, qty, cancel)
		}

		for _, side := range [][]domain.BookLevel{bids, asks} {
			seen := make(map[string]bool)
			for j, l := range side {
				require.True(t, l.Quantity.IsPositive(), "level %s not positive", l.Price)
				require.False(t, seen[l.Price.String()], "duplicate level %s", l.Price)
				seen[l.Price.String()] = true
				if j > 0 {
					require.True(t, side[j-1].Price.GreaterThan(l.Price), "levels out of order")
				}
			}
		}
	}
}

func TestTradesPrepend(t *testing.T) {
	m, d, _ := newTestManager(t)
	done := make(chan []domain.Trade, 1)
	go func() {
		trades, err := m.Trades(context.Background(), "SWTH_NEO")
		assert.NoError(t, err)
		done <- trades
	}()
	s := d.waitJoined(t, "trades")

	s.fireJSON("all", map[string]any{"trades": []map[string]any{
		{"id": "t2", "side": "buy", "price": "0.0011", "amount": "5", "timestamp": 1700000100},
		{"id": "t1", "side": "sell", "price": "0.0010", "amount": "5", "timestamp": "1700000000"},
	}})
	first := <-done
	require.Len(t, first, 2)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first[1].Timestamp)

	s.fireJSON("updates", map[string]any{"events": []map[string]any{
		{"id": "t4", "side": "buy", "price": "0.0012", "amount": "1", "timestamp": 1700000300},
		{"id": "t3", "side": "buy", "price": "0.0012", "amount": "1", "timestamp": 1700000200},
	}})
	trades, err := m.Trades(context.Background(), "SWTH_NEO")
	require.NoError(t, err)
	ids := make([]string, len(trades))
	for i, tr := range trades {
		ids[i] = tr.ID
	}
	assert.Equal(t, []string{"t4", "t3", "t2", "t1"}, ids)
	assert.Equal(t, "SWTH_NEO", trades[0].Pair)
}

func TestUnknownPairFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Book(context.Background(), "FOO_BAR")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycleAlerts(t *testing.T) {
	m, d, a := newTestManager(t)
	s, _ := startOrders(t, m, d)

	s.Disconnect()
	assert.Equal(t, 0, a.count(), "local disconnects are not alerted")

	s.fireJSON(eventDisconnect, "transport close")
	s.fireJSON(eventError, "boom")
	assert.Equal(t, 2, a.count())
}
