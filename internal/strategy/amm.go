package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	maxSearchAttempts = 100000
	// Own orders are ignored as price anchors when a pair holds more than
	// maxQuotes*staleOrderFactor of them.
	staleOrderFactor = 6
)

var (
	bipsDivisor    = decimal.NewFromInt(10000)
	fallbackSpread = decimal.RequireFromString("1.05")
	sizeJitter     = decimal.RequireFromString("0.995")
	deltaJitter    = decimal.RequireFromString("0.99")
)

// UniswapMMSettings configures the constant-product market maker.
type UniswapMMSettings struct {
	PairSettings `yaml:",inline"`

	MinTick              string  `yaml:"minTick"`
	SearchTick           string  `yaml:"searchTick"`
	Margin               float64 `yaml:"margin"`
	MaxQuotes            int     `yaml:"maxQuotes"`
	InitialTickProfit    int     `yaml:"initialTickProfit"`
	SubsequentTickProfit int     `yaml:"subsequentTickProfit"`
	MinSize              float64 `yaml:"minSize"`
	RequoteRatio         float64 `yaml:"requoteRatio"`
}

// DefaultUniswapMMSettings mirrors the defaults offered to operators.
func DefaultUniswapMMSettings() UniswapMMSettings {
	return UniswapMMSettings{
		MinTick:              "1 x",
		SearchTick:           "1 x",
		Margin:               1,
		MaxQuotes:            5,
		InitialTickProfit:    10,
		SubsequentTickProfit: 20,
		RequoteRatio:         0.1,
	}
}

// UniswapMM quotes a ladder on both sides of a pair so that every rung, if
// filled, keeps base*quote inventory at or above the previous cycle's k.
// Prices inside the ladder search are quote units per base unit.
type UniswapMM struct {
	*base
	cfg          UniswapMMSettings
	margin       decimal.Decimal
	minSize      decimal.Decimal
	requoteRatio decimal.Decimal

	lastK *decimal.Decimal
	// Pre-markup search price of each quoted price, so a resting rung is
	// found again on the next cycle.
	askMemo map[string]decimal.Decimal
	bidMemo map[string]decimal.Decimal
}

// NewUniswapMM is the uniswap_mm_v2 factory.
func NewUniswapMM(deps Deps, settings map[string]any) (Strategy, error) {
	cfg := DefaultUniswapMMSettings()
	if err := DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxQuotes <= 0 {
		return nil, fmt.Errorf("%w: maxQuotes must be positive", domain.ErrInvalidSettings)
	}
	if cfg.Margin < 1 {
		return nil, fmt.Errorf("%w: margin must be at least 1", domain.ErrInvalidSettings)
	}
	if _, err := ParseTick(cfg.MinTick, 0); err != nil {
		return nil, err
	}
	if _, err := ParseTick(cfg.SearchTick, 0); err != nil {
		return nil, err
	}
	return &UniswapMM{
		base:         newBase(NameUniswapMMV2, deps, cfg.PairSettings, settings),
		cfg:          cfg,
		margin:       decimal.NewFromFloat(cfg.Margin),
		minSize:      decimal.NewFromFloat(cfg.MinSize),
		requoteRatio: decimal.NewFromFloat(cfg.RequoteRatio),
		askMemo:      make(map[string]decimal.Decimal),
		bidMemo:      make(map[string]decimal.Decimal),
	}, nil
}

// ComputeCurrentDelta reconciles the required ladder against the bot's open
// orders on the pair.
func (s *UniswapMM) ComputeCurrentDelta(ctx context.Context, snap domain.Snapshot) (domain.Delta, error) {
	info, err := snap.Market.Lookup(s.pair)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("uniswap_mm: %w", err)
	}
	quotes, err := s.requiredQuotes(ctx, snap, info)
	if err != nil {
		return domain.Delta{}, err
	}
	delta := reconcile(quotes, snap.Orders[s.pair], info, s.requoteRatio)
	s.logger.Info("computed delta",
		slog.Int("required", len(quotes)),
		slog.Int("make", len(delta.Make)),
		slog.Int("cancel", len(delta.Cancel)),
	)
	return delta, nil
}

func samePrice(o domain.Order, q domain.Quote) bool {
	return o.Side == q.Side && o.Price.Equal(q.Price)
}

// reconcile turns a required ladder into a delta: rungs that are missing or
// short get topped up, rungs oversized by more than requoteRatio are
// requoted, and orders off the ladder are cancelled.
func reconcile(quotes []domain.Quote, orders []domain.Order, info domain.PairInfo, requoteRatio decimal.Decimal) domain.Delta {
	var delta domain.Delta
	for _, q := range quotes {
		var matching []domain.Order
		existing := decimal.Zero
		for _, o := range orders {
			if samePrice(o, q) {
				matching = append(matching, o)
				existing = existing.Add(o.Remaining())
			}
		}
		want := info.RawQuantity(q.Quantity)
		short := want.Sub(existing)

		jittered := short.Mul(deltaJitter)
		if jittered.GreaterThan(info.Base.MinimumQuantity) &&
			jittered.Mul(info.RawPrice(q.Price)).GreaterThan(info.Quote.MinimumQuantity) {
			top := q
			top.Quantity = info.HumanQuantity(short)
			delta.Make = append(delta.Make, top)
			continue
		}
		if short.IsNegative() && want.IsPositive() &&
			short.Neg().DivRound(want, divPrecision).GreaterThan(requoteRatio) {
			delta.Cancel = append(delta.Cancel, matching...)
			delta.Make = append(delta.Make, q)
		}
	}

	for _, o := range orders {
		required := false
		for _, q := range quotes {
			if samePrice(o, q) {
				required = true
				break
			}
		}
		if !required {
			delta.Cancel = append(delta.Cancel, o)
		}
	}
	return delta
}

// ladder carries the per-cycle values shared by both sides of the search.
type ladder struct {
	info       domain.PairInfo
	ownPrices  map[string]bool
	baseInv    decimal.Decimal // virtual, margin included
	quoteInv   decimal.Decimal
	baseAvail  decimal.Decimal // actual
	quoteAvail decimal.Decimal
	k          decimal.Decimal
	minQty     decimal.Decimal
	searchTick decimal.Decimal
	minTick    decimal.Decimal
	places     int32 // raw price decimal places
	qtyPlaces  int32 // raw quantity decimal places
}

func (s *UniswapMM) requiredQuotes(ctx context.Context, snap domain.Snapshot, info domain.PairInfo) ([]domain.Quote, error) {
	baseSym, quoteSym := info.Base.Symbol, info.Quote.Symbol
	orders := snap.Orders[s.pair]

	own := make(map[string]bool, len(orders))
	if len(orders) <= s.cfg.MaxQuotes*staleOrderFactor {
		for _, o := range orders {
			own[info.RawPrice(o.Price).String()] = true
		}
	}

	extra := s.margin.Sub(decimal.NewFromInt(1))
	l := ladder{
		info:       info,
		ownPrices:  own,
		baseInv:    snap.Inventory[baseSym].Add(snap.InitialInventory[baseSym].Mul(extra)),
		quoteInv:   snap.Inventory[quoteSym].Add(snap.InitialInventory[quoteSym].Mul(extra)),
		baseAvail:  snap.Inventory[baseSym],
		quoteAvail: snap.Inventory[quoteSym],
		minQty:     s.minSize.Shift(info.Base.Decimals),
		places:     info.Pair.Precision - info.PriceDecimals(),
		qtyPlaces:  info.Base.Precision - info.Base.Decimals,
	}
	l.k = l.quoteInv.Mul(l.baseInv)
	if s.lastK != nil && l.k.LessThan(*s.lastK) {
		return nil, fmt.Errorf("uniswap_mm: k decreased from %s to %s: %w", s.lastK.String(), l.k.String(), domain.ErrInvariantViolated)
	}
	k := l.k
	s.lastK = &k

	searchTick, err := ParseTick(s.cfg.SearchTick, info.Pair.Precision)
	if err != nil {
		return nil, err
	}
	minTick, err := ParseTick(s.cfg.MinTick, info.Pair.Precision)
	if err != nil {
		return nil, err
	}
	l.searchTick = info.RawPrice(searchTick)
	l.minTick = info.RawPrice(minTick)

	askRef, bidRef, err := s.references(snap, l)
	if err != nil {
		return nil, err
	}

	ceilPrice := bidRef.Sub(l.minTick)
	asks, lowestAsk := s.askLadder(ctx, l, askRef)
	if lowestAsk.IsPositive() && lowestAsk.LessThan(bidRef) {
		bidRef = lowestAsk
	}
	bids := s.bidLadder(ctx, l, bidRef, ceilPrice)
	return append(asks, bids...), nil
}

// references returns where the ask and bid searches start: the best bid and
// best ask that are not ours, falling back to the last trade or the initial
// inventory ratio widened by 5%.
func (s *UniswapMM) references(snap domain.Snapshot, l ladder) (askRef, bidRef decimal.Decimal, err error) {
	book := snap.Books[s.pair]
	haveAsk, haveBid := false, false
	for _, lvl := range book.Bids {
		if p := l.info.RawPrice(lvl.Price); !l.ownPrices[p.String()] {
			askRef, haveAsk = p, true
			break
		}
	}
	for i := len(book.Asks) - 1; i >= 0; i-- {
		if p := l.info.RawPrice(book.Asks[i].Price); !l.ownPrices[p.String()] {
			bidRef, haveBid = p, true
			break
		}
	}
	if haveAsk && haveBid {
		return askRef, bidRef, nil
	}

	var mark decimal.Decimal
	if trades := snap.Trades[s.pair]; len(trades) > 0 {
		mark = l.info.RawPrice(trades[0].Price)
	} else {
		initBase := snap.InitialInventory[l.info.Base.Symbol]
		if !initBase.IsPositive() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("uniswap_mm: no reference price for %s: %w", s.pair, domain.ErrInsufficientInventory)
		}
		mark = snap.InitialInventory[l.info.Quote.Symbol].DivRound(initBase, divPrecision)
	}
	if !haveAsk {
		askRef = floorTo(mark.DivRound(fallbackSpread, divPrecision), l.places)
	}
	if !haveBid {
		bidRef = ceilTo(mark.Mul(fallbackSpread), l.places)
	}
	return askRef, bidRef, nil
}

func (s *UniswapMM) rungProfit(n int) int {
	if n == 0 {
		return s.cfg.InitialTickProfit
	}
	return s.cfg.SubsequentTickProfit
}

func markup(bips int) decimal.Decimal {
	return decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(bips)).Div(bipsDivisor))
}

// tooSmall rejects a rung under either asset's minimum or the configured
// minimum size.
func (l ladder) tooSmall(qty, proceeds decimal.Decimal) bool {
	q := qty.Mul(sizeJitter)
	return q.LessThanOrEqual(l.info.Base.MinimumQuantity) ||
		proceeds.Mul(sizeJitter).LessThanOrEqual(l.info.Quote.MinimumQuantity) ||
		q.LessThanOrEqual(l.minQty)
}

// askLadder walks up from ref and returns the asks plus the lowest quoted
// ask price (zero when none).
func (s *UniswapMM) askLadder(ctx context.Context, l ladder, ref decimal.Decimal) ([]domain.Quote, decimal.Decimal) {
	var (
		quotes        []domain.Quote
		lowest        decimal.Decimal
		totalQty      decimal.Decimal
		totalProceeds decimal.Decimal
		floorPrice    = ref.Add(l.minTick)
		current       = ref
	)
	for attempts := 0; len(quotes) < s.cfg.MaxQuotes; attempts++ {
		if attempts > maxSearchAttempts {
			s.logger.Warn("too many attempts, giving up on searching ask")
			s.warnInsufficientInventory(ctx, l.info.Base.Symbol)
			break
		}
		next := decimal.Max(floorPrice, current.Add(l.searchTick))
		candidate := next
		for p := range l.ownPrices {
			if m, ok := s.askMemo[p]; ok && m.GreaterThan(current) && m.LessThan(candidate) {
				candidate = m
			}
		}
		current = candidate

		profit := s.rungProfit(len(quotes))
		price := ceilTo(current.Mul(markup(profit)), l.places)

		qty, ok := ComputeQuantity(l.baseInv.Sub(totalQty), l.quoteInv.Add(totalProceeds), l.k, current, domain.SideSell)
		if !ok {
			continue
		}
		qty = floorTo(qty, l.qtyPlaces)
		proceeds := qty.Mul(current)
		if l.tooSmall(qty, proceeds) {
			continue
		}
		if totalQty.Add(qty).GreaterThan(l.baseAvail) {
			s.logger.Warn("total ask quantity exceeds base inventory")
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
		s.askMemo[price.String()] = current
		if lowest.IsZero() || price.LessThan(lowest) {
			lowest = price
		}
		totalQty = totalQty.Add(qty)
		totalProceeds = totalProceeds.Add(proceeds)
	}
	return quotes, lowest
}

// bidLadder walks down from ref, never above ceilPrice.
func (s *UniswapMM) bidLadder(ctx context.Context, l ladder, ref, ceilPrice decimal.Decimal) []domain.Quote {
	var (
		quotes        []domain.Quote
		totalQty      decimal.Decimal
		totalProceeds decimal.Decimal
		current       = ref
	)
	for attempts := 0; len(quotes) < s.cfg.MaxQuotes && current.IsPositive(); attempts++ {
		if attempts > maxSearchAttempts {
			s.logger.Warn("too many attempts, giving up on searching bid")
			s.warnInsufficientInventory(ctx, l.info.Quote.Symbol)
			break
		}
		next := decimal.Min(ceilPrice, current.Sub(l.searchTick))
		if !next.IsPositive() {
			s.warnInsufficientInventory(ctx, l.info.Quote.Symbol)
			break
		}
		candidate := next
		for p := range l.ownPrices {
			if m, ok := s.bidMemo[p]; ok && m.LessThan(current) && m.GreaterThan(candidate) {
				candidate = m
			}
		}
		current = candidate

		profit := s.rungProfit(len(quotes))
		price := floorTo(current.DivRound(markup(profit), divPrecision), l.places)

		qty, ok := ComputeQuantity(l.baseInv.Add(totalQty), l.quoteInv.Sub(totalProceeds), l.k, current, domain.SideBuy)
		if !ok {
			continue
		}
		qty = floorTo(qty, l.qtyPlaces)
		proceeds := qty.Mul(price)
		if l.tooSmall(qty, proceeds) {
			continue
		}
		if totalProceeds.Add(proceeds).GreaterThan(l.quoteAvail) {
			s.logger.Warn("total bid proceeds exceed quote inventory")
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
		s.bidMemo[price.String()] = current
		totalQty = totalQty.Add(qty)
		totalProceeds = totalProceeds.Add(proceeds)
	}
	return quotes
}
