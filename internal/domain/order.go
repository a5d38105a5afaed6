package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus tracks the order lifecycle. Anything but open is terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// MakeFill is a fill against one of our resting orders.
type MakeFill struct {
	ID           string
	Amount       decimal.Decimal // base units
	Price        decimal.Decimal // human price
	FilledAmount decimal.Decimal // want units received, zero when not reported
	WantAmount   decimal.Decimal // offer units given, zero when not reported
}

// Fill is an immediate (taker) fill returned when an order is placed.
type Fill struct {
	ID         string
	FillAmount decimal.Decimal // offer units spent
	WantAmount decimal.Decimal // want units received
	WantAsset  string
	FeeAsset   string
	FeeAmount  decimal.Decimal
}

// Order is an exchange order owned by one of our accounts.
type Order struct {
	ID             string
	Pair           string
	Side           Side
	Price          decimal.Decimal // human price
	Quantity       decimal.Decimal // base units
	FilledQuantity decimal.Decimal // base units
	Status         OrderStatus
	MakeFills      []MakeFill
	Fills          []Fill
	Resting        bool // a make was created on the book
	Profit         int  // bips markup the quote carried, annotation only
	CreatedAt      time.Time
}

// IsOpen reports whether the order still rests on the book.
func (o Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// Remaining is the unfilled base quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// OfferAndWant returns the asset given up and the asset received.
func (o Order) OfferAndWant() (offer, want string) {
	return OfferAndWant(o.Pair, o.Side)
}

// OfferAndWant returns the asset given up and the asset received for a side.
func OfferAndWant(pair string, side Side) (offer, want string) {
	base, quote := SplitPair(pair)
	if side == SideSell {
		return base, quote
	}
	return quote, base
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	c := o
	c.MakeFills = append([]MakeFill(nil), o.MakeFills...)
	c.Fills = append([]Fill(nil), o.Fills...)
	return c
}

// CloneOrders deep-copies a list of orders.
func CloneOrders(orders []Order) []Order {
	if orders == nil {
		return []Order{}
	}
	out := make([]Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}
