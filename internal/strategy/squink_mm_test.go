package strategy

import (
	"context"
	"testing"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squinkMarket trades in steps of one base unit with a 0.01 quote minimum.
var squinkMarket = domain.Market{
	Assets: map[string]domain.Asset{
		"BASE":  {Symbol: "BASE", Decimals: 8, Precision: 2, MinimumQuantity: dec("100000000")},
		"QUOTE": {Symbol: "QUOTE", Decimals: 8, Precision: 2, MinimumQuantity: dec("1000000")},
	},
	Pairs: map[string]domain.Pair{
		"BASE_QUOTE": {Name: "BASE_QUOTE", Base: "BASE", Quote: "QUOTE", Precision: 4},
	},
}

func newSquink(t *testing.T, deps Deps) *SquinkMM {
	t.Helper()
	s, err := NewSquinkMM(deps, map[string]any{
		"pair":                 "BASE_QUOTE",
		"slippage":             0.5,
		"maxQuotes":            5,
		"initialTickProfit":    10,
		"subsequentTickProfit": 20,
	})
	require.NoError(t, err)
	return s.(*SquinkMM)
}

func squinkSnapshot(baseRaw string) domain.Snapshot {
	snap := snapshot()
	snap.Market = squinkMarket
	snap.Inventory["BASE"] = dec(baseRaw)
	return snap
}

func TestPowerCurveDeltaY(t *testing.T) {
	c := powerCurve{p: 0.5, xDec: 4, yDec: 4}
	x, y := dec("10000000"), dec("10000000") // 1000 each

	sold, ok := c.deltaY(x, y, dec("-100000"))
	require.True(t, ok)
	assert.InDelta(t, 10.0503, sold.Shift(-4).InexactFloat64(), 0.001)

	bought, ok := c.deltaY(x, y, dec("100000"))
	require.True(t, ok)
	assert.InDelta(t, 9.9502, bought.Shift(-4).InexactFloat64(), 0.001)

	_, ok = c.deltaY(x, y, dec("-20000000"))
	assert.False(t, ok)
}

func TestSquinkLadderGrowsOutward(t *testing.T) {
	s := newSquink(t, testDeps())
	delta, err := s.ComputeCurrentDelta(context.Background(), squinkSnapshot("100000000000"))
	require.NoError(t, err)
	assert.Empty(t, delta.Cancel)

	asks, bids := bySide(delta.Make, domain.SideSell), bySide(delta.Make, domain.SideBuy)
	require.Len(t, asks, 5)
	require.Len(t, bids, 5)

	// Step is 1% of the base inventory: 10, 20, 30 ... units.
	for i, q := range asks {
		assert.True(t, q.Quantity.Equal(decimal.NewFromInt(int64(10*(i+1)))), "ask %d quantity %s", i, q.Quantity)
		if i > 0 {
			assert.True(t, q.Price.GreaterThan(asks[i-1].Price))
			assert.Equal(t, 20, q.ProfitMargin)
		}
	}
	assert.Equal(t, 10, asks[0].ProfitMargin)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i].Price.LessThan(bids[i-1].Price))
	}
	assert.True(t, bids[0].Price.LessThan(asks[0].Price))
	assert.True(t, asks[0].Price.GreaterThan(dec("1")))
	assert.True(t, bids[0].Price.LessThan(dec("1")))
}

func TestSquinkKeepsMatchingOrders(t *testing.T) {
	s := newSquink(t, testDeps())
	snap := squinkSnapshot("100000000000")
	first, err := s.ComputeCurrentDelta(context.Background(), snap)
	require.NoError(t, err)

	var orders []domain.Order
	for i, q := range first.Make {
		orders = append(orders, orderFor(q, string(rune('a'+i)), q.Quantity.Shift(8)))
	}
	stray := domain.Order{ID: "z", Pair: "BASE_QUOTE", Side: domain.SideSell, Price: dec("9"), Quantity: dec("100000000"), Status: domain.OrderStatusOpen}
	snap.Orders["BASE_QUOTE"] = append(orders, stray)

	again, err := s.ComputeCurrentDelta(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, again.Make)
	require.Len(t, again.Cancel, 1)
	assert.Equal(t, "z", again.Cancel[0].ID)
}

func TestSquinkWarnsWhenBaseRunsOut(t *testing.T) {
	deps := testDeps()
	s := newSquink(t, deps)
	delta, err := s.ComputeCurrentDelta(context.Background(), squinkSnapshot("500000000"))
	require.NoError(t, err)

	assert.Len(t, bySide(delta.Make, domain.SideSell), 2)
	alerts := deps.Alerter.(*recordingAlerter).alerts
	require.NotEmpty(t, alerts)
	assert.Equal(t, "BASE", alerts[0].Tags["token"])
}

func TestSquinkRejectsBadSlippage(t *testing.T) {
	for _, p := range []float64{0, 1, 2} {
		_, err := NewSquinkMM(testDeps(), map[string]any{"pair": "BASE_QUOTE", "slippage": p})
		assert.ErrorIs(t, err, domain.ErrInvalidSettings, "slippage %v", p)
	}
}
