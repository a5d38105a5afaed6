package strategy

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testMarket = domain.Market{
	Assets: map[string]domain.Asset{
		"BASE":  {Symbol: "BASE", Decimals: 8, Precision: 2},
		"QUOTE": {Symbol: "QUOTE", Decimals: 8, Precision: 2},
	},
	Pairs: map[string]domain.Pair{
		"BASE_QUOTE": {Name: "BASE_QUOTE", Base: "BASE", Quote: "QUOTE", Precision: 4},
	},
}

type recordingAlerter struct{ alerts []domain.Alert }

func (r *recordingAlerter) Alert(_ context.Context, a domain.Alert) { r.alerts = append(r.alerts, a) }

func testDeps() Deps {
	return Deps{
		BotID:   3,
		Alerter: &recordingAlerter{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:    rand.New(rand.NewPCG(1, 2)),
	}
}

func ammSettings() map[string]any {
	return map[string]any{
		"pair":                 "BASE_QUOTE",
		"minTick":              "1 x",
		"searchTick":           "1 x",
		"initialTickProfit":    10,
		"subsequentTickProfit": 20,
		"margin":               1,
		"maxQuotes":            5,
		"requoteRatio":         0.1,
	}
}

func newAMM(t *testing.T) *UniswapMM {
	t.Helper()
	s, err := NewUniswapMM(testDeps(), ammSettings())
	require.NoError(t, err)
	return s.(*UniswapMM)
}

// snapshot holds 1000 of each asset (raw 1e11) on an empty book.
func snapshot(orders ...domain.Order) domain.Snapshot {
	inv := map[string]decimal.Decimal{"BASE": dec("100000000000"), "QUOTE": dec("100000000000")}
	return domain.Snapshot{
		Pairs:            []string{"BASE_QUOTE"},
		Orders:           map[string][]domain.Order{"BASE_QUOTE": orders},
		Books:            map[string]domain.OrderBook{"BASE_QUOTE": {}},
		Trades:           map[string][]domain.Trade{"BASE_QUOTE": nil},
		Inventory:        domain.CloneTokens(inv),
		InitialInventory: domain.CloneTokens(inv),
		Market:           testMarket,
	}
}

func bySide(quotes []domain.Quote, side domain.Side) []domain.Quote {
	var out []domain.Quote
	for _, q := range quotes {
		if q.Side == side {
			out = append(out, q)
		}
	}
	return out
}

func orderFor(q domain.Quote, id string, rawQty decimal.Decimal) domain.Order {
	return domain.Order{
		ID: id, Pair: q.Pair, Side: q.Side, Price: q.Price,
		Quantity: rawQty, Status: domain.OrderStatusOpen,
	}
}

func TestComputeQuantity(t *testing.T) {
	x, y, k := dec("1000"), dec("1000"), dec("1000000")

	d, ok := ComputeQuantity(x, y, k, dec("1.1"), domain.SideSell)
	require.True(t, ok)
	want := decimal.NewFromInt(1000).DivRound(decimal.NewFromInt(11), 24)
	assert.True(t, d.Sub(want).Abs().LessThan(dec("1e-18")), "got %s", d)
	product := x.Sub(d).Mul(y.Add(d.Mul(dec("1.1"))))
	assert.True(t, product.Sub(k).Abs().LessThan(dec("1e-12")), "product %s", product)

	d, ok = ComputeQuantity(x, y, k, dec("0.9"), domain.SideBuy)
	require.True(t, ok)
	product = x.Add(d).Mul(y.Sub(d.Mul(dec("0.9"))))
	assert.True(t, product.Sub(k).Abs().LessThan(dec("1e-12")), "product %s", product)

	_, ok = ComputeQuantity(x, y, k, dec("0.9"), domain.SideSell)
	assert.False(t, ok, "selling below the marginal price has no positive root")
	_, ok = ComputeQuantity(x, y, k, dec("1"), domain.SideBuy)
	assert.False(t, ok)
	_, ok = ComputeQuantity(x, y, k, decimal.Zero, domain.SideBuy)
	assert.False(t, ok)
}

func TestUniswapMM_EmptyBookQuotesBothSides(t *testing.T) {
	s := newAMM(t)

	delta, err := s.ComputeCurrentDelta(context.Background(), snapshot())
	require.NoError(t, err)

	asks := bySide(delta.Make, domain.SideSell)
	bids := bySide(delta.Make, domain.SideBuy)
	require.NotEmpty(t, asks)
	require.NotEmpty(t, bids)
	assert.Empty(t, delta.Cancel)
	assert.Empty(t, delta.Take)
	assert.LessOrEqual(t, len(asks), 5)
	assert.LessOrEqual(t, len(bids), 5)

	assert.True(t, asks[0].Price.Equal(dec("1.0012")), "first ask %s", asks[0].Price)
	assert.Equal(t, 10, asks[0].ProfitMargin)
	assert.Equal(t, 20, asks[1].ProfitMargin)
	assert.True(t, bids[0].Price.Equal(dec("0.9989")), "first bid %s", bids[0].Price)
	for _, a := range asks {
		assert.True(t, a.Quantity.IsPositive())
		for _, b := range bids {
			assert.True(t, a.Price.GreaterThan(b.Price))
		}
	}
	for i := 1; i < len(asks); i++ {
		assert.True(t, asks[i].Price.GreaterThan(asks[i-1].Price))
	}
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i].Price.LessThan(bids[i-1].Price))
	}
}

func TestUniswapMM_MatchingOrderCausesNoChurn(t *testing.T) {
	s := newAMM(t)
	first, err := s.ComputeCurrentDelta(context.Background(), snapshot())
	require.NoError(t, err)
	ask := bySide(first.Make, domain.SideSell)[0]
	info, err := testMarket.Lookup("BASE_QUOTE")
	require.NoError(t, err)

	resting := orderFor(ask, "o1", info.RawQuantity(ask.Quantity))
	delta, err := s.ComputeCurrentDelta(context.Background(), snapshot(resting))
	require.NoError(t, err)

	assert.Empty(t, delta.Cancel)
	for _, q := range delta.Make {
		assert.False(t, samePrice(resting, q), "re-made resting quote at %s", q.Price)
	}
	assert.Len(t, delta.Make, len(first.Make)-1)
}

func TestUniswapMM_FullLadderRestingIsStable(t *testing.T) {
	s := newAMM(t)
	first, err := s.ComputeCurrentDelta(context.Background(), snapshot())
	require.NoError(t, err)
	info, err := testMarket.Lookup("BASE_QUOTE")
	require.NoError(t, err)

	var orders []domain.Order
	for i, q := range first.Make {
		orders = append(orders, orderFor(q, string(rune('a'+i)), info.RawQuantity(q.Quantity)))
	}
	delta, err := s.ComputeCurrentDelta(context.Background(), snapshot(orders...))
	require.NoError(t, err)
	assert.True(t, delta.Empty(), "delta %+v", delta)
}

func TestUniswapMM_OversizedOrderIsRequoted(t *testing.T) {
	s := newAMM(t)
	first, err := s.ComputeCurrentDelta(context.Background(), snapshot())
	require.NoError(t, err)
	ask := bySide(first.Make, domain.SideSell)[0]
	info, err := testMarket.Lookup("BASE_QUOTE")
	require.NoError(t, err)

	big := orderFor(ask, "big", info.RawQuantity(ask.Quantity).Mul(decimal.NewFromInt(2)))
	delta, err := s.ComputeCurrentDelta(context.Background(), snapshot(big))
	require.NoError(t, err)

	require.Len(t, delta.Cancel, 1)
	assert.Equal(t, "big", delta.Cancel[0].ID)
	var remade []domain.Quote
	for _, q := range delta.Make {
		if samePrice(big, q) {
			remade = append(remade, q)
		}
	}
	require.Len(t, remade, 1)
	assert.True(t, remade[0].Quantity.Equal(ask.Quantity))
}

func TestUniswapMM_UnrequiredOrderIsCancelled(t *testing.T) {
	s := newAMM(t)
	stray := domain.Order{ID: "stray", Pair: "BASE_QUOTE", Side: domain.SideSell, Price: dec("7"), Quantity: dec("100"), Status: domain.OrderStatusOpen}

	delta, err := s.ComputeCurrentDelta(context.Background(), snapshot(stray))
	require.NoError(t, err)
	require.Len(t, delta.Cancel, 1)
	assert.Equal(t, "stray", delta.Cancel[0].ID)
}

func TestUniswapMM_KNeverDecreases(t *testing.T) {
	s := newAMM(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.ComputeCurrentDelta(ctx, snapshot())
		require.NoError(t, err)
	}

	lost := snapshot()
	lost.Inventory["BASE"] = dec("90000000000")
	_, err := s.ComputeCurrentDelta(ctx, lost)
	assert.ErrorIs(t, err, domain.ErrInvariantViolated)
}

func TestUniswapMM_ProfitableFillRaisesK(t *testing.T) {
	s := newAMM(t)
	ctx := context.Background()
	_, err := s.ComputeCurrentDelta(ctx, snapshot())
	require.NoError(t, err)

	// Sold 0.09 base at a marked-up 1.0012.
	after := snapshot()
	after.Inventory["BASE"] = dec("99991000000")
	after.Inventory["QUOTE"] = dec("100009010800")
	_, err = s.ComputeCurrentDelta(ctx, after)
	assert.NoError(t, err)
}

func TestUniswapMM_SkipsOwnOrdersAsReference(t *testing.T) {
	s := newAMM(t)
	ctx := context.Background()
	own := domain.Order{ID: "mine", Pair: "BASE_QUOTE", Side: domain.SideBuy, Price: dec("0.9"), Quantity: dec("1000000"), Status: domain.OrderStatusOpen}
	snap := snapshot(own)
	snap.Books["BASE_QUOTE"] = domain.OrderBook{
		Bids: []domain.BookLevel{{Price: dec("0.9"), Quantity: dec("1000000")}},
	}

	delta, err := s.ComputeCurrentDelta(ctx, snap)
	require.NoError(t, err)
	asks := bySide(delta.Make, domain.SideSell)
	require.NotEmpty(t, asks)
	// Anchored on the inventory ratio, not on our own bid at 0.9.
	assert.True(t, asks[0].Price.Equal(dec("1.0012")), "first ask %s", asks[0].Price)
}

func TestUniswapMM_RejectsBadSettings(t *testing.T) {
	settings := ammSettings()
	settings["maxQuotes"] = 0
	_, err := NewUniswapMM(testDeps(), settings)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	settings = ammSettings()
	settings["bogus"] = true
	_, err = NewUniswapMM(testDeps(), settings)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	settings = ammSettings()
	delete(settings, "pair")
	_, err = NewUniswapMM(testDeps(), settings)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}
