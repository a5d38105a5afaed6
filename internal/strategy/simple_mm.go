package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const untilNextQuote = "until_next_quote"

// LadderQuote is one rule of a simple_mm ladder.
type LadderQuote struct {
	// From is "midmarket" (every rung steps from the mid price) or "quote"
	// (each rung steps from the previous one).
	From string `yaml:"from"`
	// Step is "N tick" or "N bip".
	Step string `yaml:"step"`
	// Quantity is "Q", "Q~V" or either followed by " %" of base inventory.
	Quantity string     `yaml:"quantity"`
	Repeat   repeatSpec `yaml:"repeat"`
}

// repeatSpec is a rung count or "until_next_quote".
type repeatSpec struct {
	count     int
	untilNext bool
}

func (r *repeatSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Value == untilNextQuote {
		r.untilNext = true
		return nil
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return fmt.Errorf("repeat %q: %w", n.Value, err)
	}
	r.count = v
	return nil
}

// SimpleMMSettings configures the fixed-spread ladder.
type SimpleMMSettings struct {
	PairSettings `yaml:",inline"`

	MidMarketPrice string        `yaml:"midMarketPrice"`
	Quotes         []LadderQuote `yaml:"quotes"`
}

type stepKind int

const (
	stepTick stepKind = iota
	stepBip
)

type rule struct {
	fromMid   bool
	step      decimal.Decimal
	kind      stepKind
	amount    decimal.Decimal
	variance  decimal.Decimal
	percent   bool
	repeat    int
	untilNext bool
}

// SimpleMM quotes a fixed ladder around a configured mid price.
type SimpleMM struct {
	*base
	mid   decimal.Decimal
	rules []rule
	deps  Deps
}

// NewSimpleMM is the simple_mm factory.
func NewSimpleMM(deps Deps, settings map[string]any) (Strategy, error) {
	var cfg SimpleMMSettings
	if err := DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	mid, err := decimal.NewFromString(cfg.MidMarketPrice)
	if err != nil || !mid.IsPositive() {
		return nil, fmt.Errorf("%w: midMarketPrice %q", domain.ErrInvalidSettings, cfg.MidMarketPrice)
	}
	if len(cfg.Quotes) == 0 {
		return nil, fmt.Errorf("%w: quotes are required", domain.ErrInvalidSettings)
	}
	rules := make([]rule, 0, len(cfg.Quotes))
	for _, q := range cfg.Quotes {
		r, err := parseRule(q)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return &SimpleMM{
		base:  newBase(NameSimpleMM, deps, cfg.PairSettings, settings),
		mid:   mid,
		rules: rules,
		deps:  deps,
	}, nil
}

func parseRule(q LadderQuote) (rule, error) {
	var r rule
	switch q.From {
	case "midmarket":
		r.fromMid = true
	case "quote":
	default:
		return r, fmt.Errorf("%w: unknown from type %q", domain.ErrInvalidSettings, q.From)
	}

	n, unit, _ := strings.Cut(strings.TrimSpace(q.Step), " ")
	step, err := decimal.NewFromString(n)
	if err != nil {
		return r, fmt.Errorf("%w: step %q: %w", domain.ErrInvalidSettings, q.Step, err)
	}
	r.step = step
	switch unit = strings.TrimSpace(unit); {
	case strings.HasPrefix(unit, "tick"):
		r.kind = stepTick
	case strings.HasPrefix(unit, "bip"):
		r.kind = stepBip
	default:
		return r, fmt.Errorf("%w: unknown step type %q", domain.ErrInvalidSettings, q.Step)
	}

	qty, pct := strings.CutSuffix(strings.TrimSpace(q.Quantity), "%")
	r.percent = pct
	if r.amount, r.variance, err = parseRange(qty); err != nil {
		return r, err
	}
	r.repeat, r.untilNext = q.Repeat.count, q.Repeat.untilNext
	return r, nil
}

// ComputeCurrentDelta makes ladder rungs that have no order at their side and
// price, and cancels orders that are not on the ladder.
func (s *SimpleMM) ComputeCurrentDelta(_ context.Context, snap domain.Snapshot) (domain.Delta, error) {
	info, err := snap.Market.Lookup(s.pair)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("simple_mm: %w", err)
	}
	quotes := s.requiredQuotes(info, info.HumanQuantity(snap.Inventory[info.Base.Symbol]))
	orders := snap.Orders[s.pair]

	var delta domain.Delta
	for _, q := range quotes {
		found := false
		for _, o := range orders {
			if samePrice(o, q) {
				found = true
				break
			}
		}
		if !found {
			delta.Make = append(delta.Make, q)
		}
	}
	for _, o := range orders {
		found := false
		for _, q := range quotes {
			if samePrice(o, q) {
				found = true
				break
			}
		}
		if !found {
			delta.Cancel = append(delta.Cancel, o)
		}
	}
	s.logger.Info("computed delta",
		slog.Int("required", len(quotes)),
		slog.Int("current", len(orders)),
	)
	return delta, nil
}

func (s *SimpleMM) requiredQuotes(info domain.PairInfo, inventory decimal.Decimal) []domain.Quote {
	precision := info.Pair.Precision
	minTick := decimal.New(1, -precision)
	ask, bid := s.mid, s.mid

	var quotes []domain.Quote
	for _, r := range s.rules {
		for count := 1; ; count++ {
			fromAsk, fromBid, steps := ask, bid, r.step
			if r.fromMid {
				fromAsk, fromBid = s.mid, s.mid
				steps = r.step.Mul(decimal.NewFromInt(int64(count)))
			}
			switch r.kind {
			case stepTick:
				ask = fromAsk.Add(minTick.Mul(steps))
				bid = fromBid.Sub(minTick.Mul(steps))
			case stepBip:
				ask = fromAsk.Add(fromAsk.Mul(steps).Div(bipsDivisor))
				bid = fromBid.Sub(fromBid.Mul(steps).Div(bipsDivisor))
			}

			askQty, bidQty := s.quantity(r, inventory, info), s.quantity(r, inventory, info)
			quotes = append(quotes,
				domain.Quote{Pair: s.pair, Side: domain.SideSell, Price: ask.Round(precision), Quantity: askQty},
				domain.Quote{Pair: s.pair, Side: domain.SideBuy, Price: decimal.Max(minTick, bid).Round(precision), Quantity: bidQty},
			)

			// TODO: until_next_quote should keep stepping until the next rule's first rung.
			if r.untilNext || count > r.repeat {
				break
			}
		}
	}
	return quotes
}

// quantity draws a rung size in human base units.
func (s *SimpleMM) quantity(r rule, inventory decimal.Decimal, info domain.PairInfo) decimal.Decimal {
	q := r.amount
	if r.variance.IsPositive() {
		spread := r.variance.Mul(two).Mul(decimal.NewFromFloat(s.deps.Rand.Float64()))
		q = r.amount.Sub(r.variance).Add(spread)
	}
	if r.percent {
		q = inventory.Mul(q).Div(decimal.NewFromInt(100))
	}
	return floorTo(q, info.Base.Precision)
}
