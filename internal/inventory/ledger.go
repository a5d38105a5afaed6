// Package inventory tracks how many tokens each bot owns as its orders fill.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	tokensKey     = "tokens"
	openOrdersKey = "openOrders"
)

// OrderFetcher looks up an order that is no longer in the stream cache.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// Deps are the ledger's collaborators. Journal and Alerter may be nil.
type Deps struct {
	Store   domain.HashStore // scoped to "<botID>:inventory"
	Orders  OrderFetcher
	Journal domain.FillJournal
	Alerter domain.Alerter
	Logger  *slog.Logger
}

// trackedOrder is the persisted record of a resting order we placed.
type trackedOrder struct {
	Pair      string          `json:"pair"`
	Side      domain.Side     `json:"side"`
	Quantity  decimal.Decimal `json:"offerAmount"`
	Profit    int             `json:"profit"`
	MakeFills []trackedFill   `json:"makeFills"`
}

type trackedFill struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	FilledAmount decimal.Decimal `json:"filledAmount"`
	WantAmount   decimal.Decimal `json:"wantAmount"`
}

// Ledger is one bot's token inventory in on-chain units.
type Ledger struct {
	botID  int64
	market domain.Market
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	tokens  map[string]decimal.Decimal
	initial map[string]decimal.Decimal
}

// Load builds a ledger from the bot's starting inventory (human amounts per
// asset). Balances persisted by an earlier run take precedence.
func Load(ctx context.Context, botID int64, initial map[string]string, market domain.Market, deps Deps) (*Ledger, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		botID:   botID,
		market:  market,
		deps:    deps,
		logger:  logger.With(slog.String("component", "inventory"), slog.Int64("bot_id", botID)),
		initial: make(map[string]decimal.Decimal, len(initial)),
	}

	for asset, amount := range initial {
		a, ok := market.Assets[asset]
		if !ok {
			return nil, fmt.Errorf("inventory: load: asset %s: %w", asset, domain.ErrNotFound)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("inventory: load: %s amount %q: %w", asset, amount, err)
		}
		l.initial[asset] = d.Shift(a.Decimals)
	}

	stored, err := deps.Store.GetHash(ctx, tokensKey)
	if err != nil {
		l.logger.Error("read persisted tokens", slog.String("error", err.Error()))
	}
	if len(stored) > 0 {
		l.tokens = make(map[string]decimal.Decimal, len(stored))
		for asset, v := range stored {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("inventory: load: stored %s %q: %w", asset, v, err)
			}
			l.tokens[asset] = d
		}
		return l, nil
	}

	l.tokens = domain.CloneTokens(l.initial)
	assets := make([]string, 0, len(l.tokens))
	for a := range l.tokens {
		assets = append(assets, a)
	}
	l.persist(ctx, assets...)
	return l, nil
}

// Tokens returns a copy of the current balances.
func (l *Ledger) Tokens() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CloneTokens(l.tokens)
}

// InitialTokens returns a copy of the starting balances.
func (l *Ledger) InitialTokens() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CloneTokens(l.initial)
}

// Reset deletes the persisted balances.
func (l *Ledger) Reset(ctx context.Context) error {
	l.logger.Info("deleting persisted tokens")
	if err := l.deps.Store.Del(ctx, tokensKey); err != nil {
		return fmt.Errorf("inventory: reset: %w", err)
	}
	return nil
}

// ProcessExecutedOrders books the immediate fills of orders we just placed
// and starts tracking the ones that rest on the book.
func (l *Ledger) ProcessExecutedOrders(ctx context.Context, orders []domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []domain.FillEvent
	for _, o := range orders {
		if o.ID == "" {
			continue
		}
		if o.Resting {
			rec, _ := json.Marshal(trackedOrder{
				Pair:      o.Pair,
				Side:      o.Side,
				Quantity:  o.Quantity,
				Profit:    o.Profit,
				MakeFills: []trackedFill{},
			})
			if err := l.deps.Store.SetHash(ctx, openOrdersKey, o.ID, string(rec)); err != nil {
				l.logger.Error("track open order", slog.String("order_id", o.ID), slog.String("error", err.Error()))
			}
		}

		offer, want := o.OfferAndWant()
		for _, f := range o.Fills {
			acquired := f.WantAmount
			feeSeparate := f.FeeAsset != "" && f.FeeAsset != want
			if !feeSeparate {
				acquired = acquired.Sub(f.FeeAmount)
			}
			touched := []string{want, offer}

			events = append(events,
				l.apply(o, f.ID, want, acquired, "take_fill"),
				l.apply(o, f.ID, offer, f.FillAmount.Neg(), "take_fill"),
			)
			if feeSeparate && f.FeeAmount.IsPositive() {
				events = append(events, l.apply(o, f.ID, f.FeeAsset, f.FeeAmount.Neg(), "fee"))
				touched = append(touched, f.FeeAsset)
			}
			l.logger.Info("take filled",
				slog.String("order_id", o.ID),
				slog.String("add_asset", want), slog.String("add", acquired.String()),
				slog.String("deduct_asset", offer), slog.String("deduct", f.FillAmount.String()),
				slog.String("fee_asset", f.FeeAsset), slog.String("fee", f.FeeAmount.String()))
			l.persist(ctx, touched...)
		}
	}
	l.record(ctx, events)
}

// UpdateInventory reconciles tracked orders against their latest state and
// books every make fill not seen before. Orders missing from orders are
// fetched from the exchange.
func (l *Ledger) UpdateInventory(ctx context.Context, orders []domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.deps.Store.GetHash(ctx, openOrdersKey)
	if err != nil {
		l.logger.Error("read tracked orders", slog.String("error", err.Error()))
		return
	}

	byID := make(map[string]domain.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []domain.FillEvent
	for _, id := range ids {
		var tracked trackedOrder
		if err := json.Unmarshal([]byte(raw[id]), &tracked); err != nil {
			l.logger.Error("decode tracked order", slog.String("order_id", id), slog.String("error", err.Error()))
			continue
		}

		updated, ok := byID[id]
		if !ok {
			updated, err = l.deps.Orders.FetchOrder(ctx, id)
			if err != nil {
				l.orderVanished(ctx, id, err)
				continue
			}
		}

		// Views of an order can lag each other, so the record keeps every fill
		// id ever booked and only grows.
		if fresh := unbooked(tracked, updated.MakeFills); len(fresh) > 0 {
			l.logger.Info("updating inventory for order", slog.String("order_id", id))
			events = append(events, l.applyMakeFills(ctx, id, tracked, fresh)...)

			if updated.IsOpen() {
				tracked.MakeFills = append(tracked.MakeFills, toTracked(fresh)...)
				rec, _ := json.Marshal(tracked)
				if err := l.deps.Store.SetHash(ctx, openOrdersKey, id, string(rec)); err != nil {
					l.logger.Error("update tracked order", slog.String("order_id", id), slog.String("error", err.Error()))
				}
			}
		}

		if !updated.IsOpen() {
			l.logger.Info("order closed", slog.String("order_id", id), slog.String("status", string(updated.Status)))
			if err := l.deps.Store.DelHash(ctx, openOrdersKey, id); err != nil {
				l.logger.Error("untrack order", slog.String("order_id", id), slog.String("error", err.Error()))
			}
		}
	}
	l.record(ctx, events)
}

// unbooked returns the fills of an order that tracked has not recorded yet.
func unbooked(tracked trackedOrder, fills []domain.MakeFill) []domain.MakeFill {
	seen := make(map[string]bool, len(tracked.MakeFills))
	for _, f := range tracked.MakeFills {
		seen[f.ID] = true
	}
	var fresh []domain.MakeFill
	for _, f := range fills {
		if !seen[f.ID] {
			seen[f.ID] = true
			fresh = append(fresh, f)
		}
	}
	return fresh
}

// applyMakeFills books fills unbooked on tracked. Caller holds l.mu.
func (l *Ledger) applyMakeFills(ctx context.Context, id string, tracked trackedOrder, fills []domain.MakeFill) []domain.FillEvent {
	info, err := l.market.Lookup(tracked.Pair)
	if err != nil {
		l.logger.Error("tracked order on unknown pair", slog.String("order_id", id), slog.String("pair", tracked.Pair))
		return nil
	}
	offer, want := domain.OfferAndWant(tracked.Pair, tracked.Side)
	order := domain.Order{ID: id, Pair: tracked.Pair}

	var events []domain.FillEvent
	for _, f := range fills {
		wantAmt, offerAmt := makeFillAmounts(f, tracked.Side, info.RawPrice(f.Price), tracked.Profit)
		events = append(events,
			l.apply(order, f.ID, want, wantAmt, "make_fill"),
			l.apply(order, f.ID, offer, offerAmt.Neg(), "make_fill"),
		)
		l.logger.Info("make filled",
			slog.String("order_id", id),
			slog.String("add_asset", want), slog.String("add", wantAmt.String()),
			slog.String("deduct_asset", offer), slog.String("deduct", offerAmt.String()))
		l.persist(ctx, want, offer)
	}
	return events
}

// makeFillAmounts derives what a make fill gave us and cost us. The credited
// amount has the quote's profit markup taken off, rounded up.
func makeFillAmounts(f domain.MakeFill, side domain.Side, rawPrice decimal.Decimal, profit int) (want, offer decimal.Decimal) {
	notional := f.Amount.Mul(rawPrice).Floor()

	want = f.FilledAmount
	if want.IsZero() {
		if side == domain.SideBuy {
			want = f.Amount
		} else {
			want = notional
		}
	}
	q, r := want.Mul(decimal.NewFromInt(10000)).QuoRem(decimal.NewFromInt(int64(10000+profit)), 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	want = q

	offer = f.WantAmount
	if offer.IsZero() {
		if side == domain.SideSell {
			offer = f.Amount
		} else {
			offer = notional
		}
	}
	return want, offer
}

// apply adds delta to asset. Caller holds l.mu.
func (l *Ledger) apply(o domain.Order, fillID, asset string, delta decimal.Decimal, reason string) domain.FillEvent {
	l.tokens[asset] = l.tokens[asset].Add(delta)
	return domain.FillEvent{
		BotID:   l.botID,
		OrderID: o.ID,
		FillID:  fillID,
		Asset:   asset,
		Delta:   delta,
		Reason:  reason,
		At:      time.Now().UTC(),
	}
}

// persist writes the named balances. Caller holds l.mu.
func (l *Ledger) persist(ctx context.Context, assets ...string) {
	if len(assets) == 0 {
		return
	}
	fv := make([]string, 0, len(assets)*2)
	for _, a := range assets {
		fv = append(fv, a, l.tokens[a].String())
	}
	if err := l.deps.Store.SetHash(ctx, tokensKey, fv...); err != nil {
		l.logger.Error("persist tokens", slog.String("error", err.Error()))
	}
}

func (l *Ledger) record(ctx context.Context, events []domain.FillEvent) {
	if l.deps.Journal == nil || len(events) == 0 {
		return
	}
	if err := l.deps.Journal.Record(ctx, events); err != nil {
		l.logger.Error("journal fills", slog.Int("events", len(events)), slog.String("error", err.Error()))
	}
}

func (l *Ledger) orderVanished(ctx context.Context, id string, err error) {
	l.logger.Warn("tracked order disappeared", slog.String("order_id", id), slog.String("error", err.Error()))
	if l.deps.Alerter == nil {
		return
	}
	l.deps.Alerter.Alert(ctx, domain.Alert{
		Level:   domain.AlertWarning,
		Title:   "Could not find a previous order",
		Message: err.Error(),
		Tags:    map[string]string{"bot_id": strconv.FormatInt(l.botID, 10), "order_id": id},
	})
}

func toTracked(fills []domain.MakeFill) []trackedFill {
	out := make([]trackedFill, len(fills))
	for i, f := range fills {
		out[i] = trackedFill{ID: f.ID, Amount: f.Amount, Price: f.Price, FilledAmount: f.FilledAmount, WantAmount: f.WantAmount}
	}
	return out
}
