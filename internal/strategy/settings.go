package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PairSettings are accepted by every strategy.
type PairSettings struct {
	Pair          string   `yaml:"pair"`
	RequiredPairs []string `yaml:"requiredPairs"`
}

func (c PairSettings) pairs() []string {
	if len(c.RequiredPairs) > 0 {
		return append([]string(nil), c.RequiredPairs...)
	}
	return []string{c.Pair}
}

func (c PairSettings) validate() error {
	if c.Pair == "" {
		return fmt.Errorf("%w: pair is required", domain.ErrInvalidSettings)
	}
	if base, quote := domain.SplitPair(c.Pair); base == "" || quote == "" {
		return fmt.Errorf("%w: pair %q is not BASE_QUOTE", domain.ErrInvalidSettings, c.Pair)
	}
	return nil
}

// DecodeSettings copies a loosely typed settings map into out, rejecting
// unknown keys. Fields already set on out act as defaults.
func DecodeSettings(settings map[string]any, out any) error {
	raw, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSettings, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSettings, err)
	}
	return nil
}

// ParseTick reads a tick setting. "N x" means N ticks at the pair's price
// precision; anything else is an absolute human price step.
func ParseTick(tick string, precision int32) (decimal.Decimal, error) {
	s := strings.TrimSpace(tick)
	scaled := false
	if n, ok := strings.CutSuffix(s, "x"); ok {
		s, scaled = strings.TrimSpace(n), true
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: tick %q: %w", domain.ErrInvalidSettings, tick, err)
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: tick %q must be positive", domain.ErrInvalidSettings, tick)
	}
	if scaled {
		v = v.Shift(-precision)
	}
	return v, nil
}

// parseRange reads "amount" or "amount~variance".
func parseRange(s string) (amount, variance decimal.Decimal, err error) {
	a, v, found := strings.Cut(strings.TrimSpace(s), "~")
	amount, err = decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: quantity %q: %w", domain.ErrInvalidSettings, s, err)
	}
	if found {
		variance, err = decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: variance %q: %w", domain.ErrInvalidSettings, s, err)
		}
	}
	return amount, variance.Abs(), nil
}
