package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset is a tradable token as listed by the exchange.
type Asset struct {
	Symbol          string
	Name            string
	Type            string // "ETH", "ERC-20", "NEO", "NEP-5", "EOS"
	Hash            string
	Decimals        int32           // on-chain scaling
	Precision       int32           // display precision
	MinimumQuantity decimal.Decimal // on-chain units
	TradingActive   bool
}

// Pair is a trading pair in BASE_QUOTE form.
type Pair struct {
	Name      string
	Base      string
	Quote     string
	Precision int32 // price decimal places
}

// SplitPair splits "BASE_QUOTE" into its two symbols.
func SplitPair(name string) (base, quote string) {
	base, quote, _ = strings.Cut(name, "_")
	return base, quote
}

// Market is the immutable exchange metadata loaded at startup.
type Market struct {
	Assets map[string]Asset
	Pairs  map[string]Pair
}

// PairInfo bundles a pair with both of its assets.
type PairInfo struct {
	Pair  Pair
	Base  Asset
	Quote Asset
}

// Lookup resolves a pair name and its assets.
func (m Market) Lookup(pair string) (PairInfo, error) {
	p, ok := m.Pairs[pair]
	if !ok {
		return PairInfo{}, fmt.Errorf("pair %s: %w", pair, ErrNotFound)
	}
	base, ok := m.Assets[p.Base]
	if !ok {
		return PairInfo{}, fmt.Errorf("asset %s: %w", p.Base, ErrNotFound)
	}
	quote, ok := m.Assets[p.Quote]
	if !ok {
		return PairInfo{}, fmt.Errorf("asset %s: %w", p.Quote, ErrNotFound)
	}
	return PairInfo{Pair: p, Base: base, Quote: quote}, nil
}

// PriceDecimals is the shift between a human price and a price in on-chain units.
func (p PairInfo) PriceDecimals() int32 {
	return p.Quote.Decimals - p.Base.Decimals
}

// RawPrice converts a human price into quote units per base unit.
func (p PairInfo) RawPrice(price decimal.Decimal) decimal.Decimal {
	return price.Shift(p.PriceDecimals())
}

// HumanPrice is the inverse of RawPrice.
func (p PairInfo) HumanPrice(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-p.PriceDecimals())
}

// RawQuantity converts a human base quantity to on-chain units.
func (p PairInfo) RawQuantity(qty decimal.Decimal) decimal.Decimal {
	return qty.Shift(p.Base.Decimals)
}

// HumanQuantity converts on-chain base units to a human quantity.
func (p PairInfo) HumanQuantity(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-p.Base.Decimals)
}

// Balances are a wallet's holdings in on-chain integer units.
type Balances struct {
	Confirmed map[string]decimal.Decimal
	Locked    map[string]decimal.Decimal
}

// Total returns confirmed plus locked for one asset.
func (b Balances) Total(asset string) decimal.Decimal {
	return b.Confirmed[asset].Add(b.Locked[asset])
}

// BlockchainForAssetType maps an asset type to the chain it settles on.
func BlockchainForAssetType(assetType string) string {
	switch strings.ToUpper(assetType) {
	case "ETH", "ERC-20":
		return "eth"
	case "EOS":
		return "eos"
	default:
		return "neo"
	}
}

// Blockchain returns the chain a pair's book lives on, decided by its quote asset.
func (p PairInfo) Blockchain() string {
	return BlockchainForAssetType(p.Quote.Type)
}
