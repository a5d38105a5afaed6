package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// The search step is 1/squinkResolution of the base inventory, kept
	// between one and squinkStepCap minimum order sizes.
	squinkResolution = 100
	squinkStepCap    = 1000
)

// SquinkMMSettings configures the constant-power market maker.
type SquinkMMSettings struct {
	PairSettings `yaml:",inline"`

	// Slippage is the curve exponent p in x^p + y^p = const; lower is
	// flatter near the current price.
	Slippage             float64 `yaml:"slippage"`
	MaxQuotes            int     `yaml:"maxQuotes"`
	InitialTickProfit    int     `yaml:"initialTickProfit"`
	SubsequentTickProfit int     `yaml:"subsequentTickProfit"`
	RequoteRatio         float64 `yaml:"requoteRatio"`
}

func DefaultSquinkMMSettings() SquinkMMSettings {
	return SquinkMMSettings{
		Slippage:             0.5,
		MaxQuotes:            5,
		InitialTickProfit:    10,
		SubsequentTickProfit: 20,
		RequoteRatio:         0.1,
	}
}

// SquinkMM quotes growing rungs off the current book: each rung is priced at
// the average price the curve gives for its size, marked up by the rung's
// profit, and must sit at least one tick outside the previous rung.
type SquinkMM struct {
	*base
	cfg          SquinkMMSettings
	requoteRatio decimal.Decimal
}

// NewSquinkMM is the squink_mm factory.
func NewSquinkMM(deps Deps, settings map[string]any) (Strategy, error) {
	cfg := DefaultSquinkMMSettings()
	if err := DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxQuotes <= 0 {
		return nil, fmt.Errorf("%w: maxQuotes must be positive", domain.ErrInvalidSettings)
	}
	if cfg.Slippage <= 0 || cfg.Slippage >= 1 {
		return nil, fmt.Errorf("%w: slippage must be between 0 and 1 exclusive", domain.ErrInvalidSettings)
	}
	return &SquinkMM{
		base:         newBase(NameSquinkMM, deps, cfg.PairSettings, settings),
		cfg:          cfg,
		requoteRatio: decimal.NewFromFloat(cfg.RequoteRatio),
	}, nil
}

func (s *SquinkMM) ComputeCurrentDelta(ctx context.Context, snap domain.Snapshot) (domain.Delta, error) {
	info, err := snap.Market.Lookup(s.pair)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("squink_mm: %w", err)
	}
	quotes, err := s.requiredQuotes(ctx, snap, info)
	if err != nil {
		return domain.Delta{}, err
	}
	orders := snap.Orders[s.pair]
	s.logger.Info("required / current quotes", slog.Int("required", len(quotes)), slog.Int("current", len(orders)))
	return reconcile(quotes, orders, info, s.requoteRatio), nil
}

// powerCurve holds x^p + y^p constant. Inventories are on-chain units; the
// curve is evaluated in human units.
type powerCurve struct {
	p          float64
	xDec, yDec int32
}

// deltaY returns |dY| in on-chain quote units, floored, for a base change
// of dX. ok is false when the trade leaves the curve.
func (c powerCurve) deltaY(x, y, dX decimal.Decimal) (decimal.Decimal, bool) {
	xf := x.Shift(-c.xDec).InexactFloat64()
	yf := y.Shift(-c.yDec).InexactFloat64()
	dxf := dX.Shift(-c.xDec).InexactFloat64()

	dy := math.Pow(math.Pow(xf, c.p)+math.Pow(yf, c.p)-math.Pow(xf+dxf, c.p), 1/c.p) - yf
	if math.IsNaN(dy) || math.IsInf(dy, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(math.Abs(dy)).Shift(c.yDec).Floor(), true
}

type squinkLadder struct {
	info     domain.PairInfo
	curve    powerCurve
	baseInv  decimal.Decimal
	quoteInv decimal.Decimal
	step     decimal.Decimal
	minTick  decimal.Decimal
	places   int32 // raw price decimal places
}

// dust rejects rungs whose proceeds fall under the quote minimum.
func (l squinkLadder) dust(proceeds decimal.Decimal) bool {
	return proceeds.Mul(sizeJitter).LessThanOrEqual(l.info.Quote.MinimumQuantity)
}

func (s *SquinkMM) requiredQuotes(ctx context.Context, snap domain.Snapshot, info domain.PairInfo) ([]domain.Quote, error) {
	baseSym, quoteSym := info.Base.Symbol, info.Quote.Symbol
	l := squinkLadder{
		info:     info,
		curve:    powerCurve{p: s.cfg.Slippage, xDec: info.Base.Decimals, yDec: info.Quote.Decimals},
		baseInv:  snap.Inventory[baseSym],
		quoteInv: snap.Inventory[quoteSym],
		minTick:  info.RawPrice(decimal.New(1, -info.Pair.Precision)),
		places:   info.Pair.Precision - info.PriceDecimals(),
	}

	minQty := info.Base.MinimumQuantity
	step := decimal.Min(decimal.Max(l.baseInv.Div(decimal.NewFromInt(squinkResolution)), minQty), minQty.Mul(decimal.NewFromInt(squinkStepCap)))
	l.step = floorTo(step, info.Base.Precision-info.Base.Decimals)
	if !l.step.IsPositive() {
		s.warnInsufficientInventory(ctx, baseSym)
		return nil, nil
	}

	// Asks start above the best bid, bids below the best ask. Without asks
	// the bid side is capped at twice the last trade or the initial ratio.
	book := snap.Books[s.pair]
	askFloor := decimal.Zero
	if len(book.Bids) > 0 {
		askFloor = info.RawPrice(book.Bids[0].Price)
	}
	var bidCeil decimal.Decimal
	switch trades := snap.Trades[s.pair]; {
	case len(book.Asks) > 0:
		bidCeil = info.RawPrice(book.Asks[len(book.Asks)-1].Price)
	case len(trades) > 0:
		bidCeil = info.RawPrice(trades[0].Price).Mul(two)
	default:
		initBase := snap.InitialInventory[baseSym]
		if !initBase.IsPositive() {
			return nil, fmt.Errorf("squink_mm: no reference price for %s: %w", s.pair, domain.ErrInsufficientInventory)
		}
		bidCeil = snap.InitialInventory[quoteSym].DivRound(initBase, divPrecision).Mul(two)
	}

	asks := s.askLadder(ctx, l, askFloor)
	if len(asks) > 0 {
		bidCeil = decimal.Min(bidCeil, info.RawPrice(asks[0].Price))
	}
	return append(asks, s.bidLadder(ctx, l, bidCeil)...), nil
}

func (s *SquinkMM) rungProfit(n int) int {
	if n == 0 {
		return s.cfg.InitialTickProfit
	}
	return s.cfg.SubsequentTickProfit
}

// askLadder sells ever larger sizes; each rung clears the previous by a tick.
func (s *SquinkMM) askLadder(ctx context.Context, l squinkLadder, floor decimal.Decimal) []domain.Quote {
	var quotes []domain.Quote
	totalQty, totalProceeds := decimal.Zero, decimal.Zero
	qty := l.step
	for attempts := 0; len(quotes) < s.cfg.MaxQuotes; attempts, qty = attempts+1, qty.Add(l.step) {
		if attempts > maxSearchAttempts {
			s.logger.Warn("too many attempts, giving up on searching ask")
			break
		}
		dY, ok := l.curve.deltaY(l.baseInv.Sub(totalQty), l.quoteInv.Add(totalProceeds), qty.Neg())
		if !ok {
			s.warnInsufficientInventory(ctx, l.info.Base.Symbol)
			break
		}
		fair := dY.DivRound(qty, divPrecision)
		profit := s.rungProfit(len(quotes))
		price := ceilTo(fair.Mul(markup(profit)), l.places)
		if price.Sub(l.minTick).LessThanOrEqual(floor) || l.dust(qty.Mul(fair)) {
			continue
		}

		totalQty = totalQty.Add(qty)
		totalProceeds = totalProceeds.Add(dY)
		if totalQty.GreaterThan(l.baseInv) {
			s.warnInsufficientInventory(ctx, l.info.Base.Symbol)
			break
		}
		quotes = append(quotes, domain.Quote{
			Pair:         s.pair,
			Side:         domain.SideSell,
			Price:        l.info.HumanPrice(price),
			Quantity:     l.info.HumanQuantity(qty),
			ProfitMargin: profit,
		})
		floor = price
	}
	return quotes
}

// bidLadder buys ever larger sizes below ceil.
func (s *SquinkMM) bidLadder(ctx context.Context, l squinkLadder, ceil decimal.Decimal) []domain.Quote {
	var quotes []domain.Quote
	totalQty, totalCost := decimal.Zero, decimal.Zero
	qty := l.step
	for attempts := 0; len(quotes) < s.cfg.MaxQuotes; attempts, qty = attempts+1, qty.Add(l.step) {
		if attempts > maxSearchAttempts {
			s.logger.Warn("too many attempts, giving up on searching bid")
			break
		}
		dY, ok := l.curve.deltaY(l.baseInv.Add(totalQty), l.quoteInv.Sub(totalCost), qty)
		if !ok {
			s.warnInsufficientInventory(ctx, l.info.Quote.Symbol)
			break
		}
		fair := dY.DivRound(qty, divPrecision)
		profit := s.rungProfit(len(quotes))
		price := floorTo(fair.DivRound(markup(profit), divPrecision), l.places)
		if !price.IsPositive() {
			s.warnInsufficientInventory(ctx, l.info.Quote.Symbol)
			break
		}
		if price.Add(l.minTick).GreaterThanOrEqual(ceil) || l.dust(qty.Mul(fair)) {
			continue
		}

		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(dY)
		if totalCost.GreaterThan(l.quoteInv) {
			s.warnInsufficientInventory(ctx, l.info.Quote.Symbol)
			break
		}
		quotes = append(quotes, domain.Quote{
			Pair:         s.pair,
			Side:         domain.SideBuy,
			Price:        l.info.HumanPrice(price),
			Quantity:     l.info.HumanQuantity(qty),
			ProfitMargin: profit,
		})
		ceil = price
	}
	return quotes
}
