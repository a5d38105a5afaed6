package switcheo

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

// --------------------------------------------------------------------------
// Stream DTOs
// --------------------------------------------------------------------------

// Envelope is the frame every stream message travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OrderRoom identifies the account an orders subscription follows.
type OrderRoom struct {
	ContractHash string `json:"contractHash"`
	Address      string `json:"address"`
	Status       string `json:"status,omitempty"`
	BeforeID     string `json:"beforeId,omitempty"`
}

// BookRoom identifies a pair for the books and trades channels.
type BookRoom struct {
	ContractHash string `json:"contractHash"`
	Pair         string `json:"pair"`
}

// MakeFillPayload is a fill against a resting make.
type MakeFillPayload struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	FilledAmount decimal.Decimal `json:"filledAmount"`
	WantAmount   decimal.Decimal `json:"wantAmount"`
}

// FillPayload is an immediate fill returned on order creation.
type FillPayload struct {
	ID         string          `json:"id"`
	FillAmount decimal.Decimal `json:"fillAmount"`
	WantAmount decimal.Decimal `json:"wantAmount"`
	WantAsset  string          `json:"wantAsset"`
	FeeAsset   string          `json:"feeAsset"`
	FeeAmount  decimal.Decimal `json:"feeAmount"`
}

// MakePayload is a resting make created by an order.
type MakePayload struct {
	ID              string          `json:"id"`
	AvailableAmount decimal.Decimal `json:"availableAmount"`
	Price           decimal.Decimal `json:"price"`
	Status          string          `json:"status"`
}

// OrderPayload is an order as pushed by the orders channel and returned by
// the REST API.
type OrderPayload struct {
	ID           string            `json:"id"`
	TradeAsset   string            `json:"tradeAsset"`
	BaseAsset    string            `json:"baseAsset"`
	Side         string            `json:"side"`
	Price        decimal.Decimal   `json:"price"`
	TradeAmount  decimal.Decimal   `json:"tradeAmount"`
	FilledAmount decimal.Decimal   `json:"filledAmount"`
	Status       string            `json:"status"`
	OrderStatus  string            `json:"orderStatus"`
	MakeFills    []MakeFillPayload `json:"makeFills"`
	Fills        []FillPayload     `json:"fills"`
	Makes        []MakePayload     `json:"makes"`
	CreatedAt    string            `json:"createdAt"`
}

// Pair is the pair name the order trades on.
func (o *OrderPayload) Pair() string {
	return o.TradeAsset + "_" + o.BaseAsset
}

// ToDomainOrder converts an OrderPayload to a domain.Order.
func (o *OrderPayload) ToDomainOrder() domain.Order {
	status := o.Status
	if status == "" {
		status = o.OrderStatus
	}
	out := domain.Order{
		ID:             o.ID,
		Pair:           o.Pair(),
		Side:           domain.Side(o.Side),
		Price:          o.Price,
		Quantity:       o.TradeAmount,
		FilledQuantity: o.FilledAmount,
		Status:         domain.OrderStatus(status),
		MakeFills:      make([]domain.MakeFill, 0, len(o.MakeFills)),
		Resting:        len(o.Makes) > 0,
	}
	for _, mf := range o.MakeFills {
		out.MakeFills = append(out.MakeFills, domain.MakeFill{
			ID:           mf.ID,
			Amount:       mf.Amount,
			Price:        mf.Price,
			FilledAmount: mf.FilledAmount,
			WantAmount:   mf.WantAmount,
		})
	}
	for _, f := range o.Fills {
		out.Fills = append(out.Fills, domain.Fill{
			ID:         f.ID,
			FillAmount: f.FillAmount,
			WantAmount: f.WantAmount,
			WantAsset:  f.WantAsset,
			FeeAsset:   f.FeeAsset,
			FeeAmount:  f.FeeAmount,
		})
	}
	if t, err := time.Parse(time.RFC3339, o.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	return out
}

// OrderUpdates is the payload of an orders "updates" event.
type OrderUpdates struct {
	Type   string         `json:"type"`
	Events []OrderPayload `json:"events"`
}

// OrderPage is the payload of an orders "all" or "more" event.
type OrderPage struct {
	Orders []OrderPayload `json:"orders"`
}

// LevelPayload is one aggregated price level.
type LevelPayload struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// BookSnapshot is the payload of a books "all" event.
type BookSnapshot struct {
	Book struct {
		Buys  []LevelPayload `json:"buys"`
		Sells []LevelPayload `json:"sells"`
	} `json:"book"`
}

// ToDomain converts the snapshot to a domain.OrderBook.
func (b *BookSnapshot) ToDomain() domain.OrderBook {
	book := domain.OrderBook{
		Bids: make([]domain.BookLevel, 0, len(b.Book.Buys)),
		Asks: make([]domain.BookLevel, 0, len(b.Book.Sells)),
	}
	for _, l := range b.Book.Buys {
		book.Bids = append(book.Bids, domain.BookLevel{Price: l.Price, Quantity: l.Amount})
	}
	for _, l := range b.Book.Sells {
		book.Asks = append(book.Asks, domain.BookLevel{Price: l.Price, Quantity: l.Amount})
	}
	return book
}

// BookDelta is one change to an aggregated level.
type BookDelta struct {
	Side  string          `json:"side"`
	Price decimal.Decimal `json:"price"`
	Delta decimal.Decimal `json:"delta"`
	Type  string          `json:"type"`
}

// BookUpdates is the payload of a books "updates" event.
type BookUpdates struct {
	Events []BookDelta `json:"events"`
}

// TradePayload is a public trade.
type TradePayload struct {
	ID        string          `json:"id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp flexUnix        `json:"timestamp"`
}

// ToDomainTrade converts a TradePayload to a domain.Trade on pair.
func (t *TradePayload) ToDomainTrade(pair string) domain.Trade {
	return domain.Trade{
		ID:        t.ID,
		Pair:      pair,
		Side:      domain.Side(t.Side),
		Price:     t.Price,
		Quantity:  t.Amount,
		Timestamp: time.Unix(int64(t.Timestamp), 0).UTC(),
	}
}

// TradesPayload is the payload of both trades events.
type TradesPayload struct {
	Trades []TradePayload `json:"trades"`
	Events []TradePayload `json:"events"`
}

// flexUnix unmarshals unix seconds sent as a number or a string.
type flexUnix int64

func (f *flexUnix) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexUnix(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexUnix(n)
	return nil
}

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// APIToken is an asset as listed by the tokens endpoint.
type APIToken struct {
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Hash            string          `json:"hash"`
	Decimals        int32           `json:"decimals"`
	Precision       int32           `json:"precision"`
	MinimumQuantity decimal.Decimal `json:"minimum_quantity"`
	TradingActive   bool            `json:"trading_active"`
}

// ToDomainAsset converts an APIToken to a domain.Asset.
func (t *APIToken) ToDomainAsset(symbol string) domain.Asset {
	if t.Symbol != "" {
		symbol = t.Symbol
	}
	return domain.Asset{
		Symbol:          symbol,
		Name:            t.Name,
		Type:            t.Type,
		Hash:            t.Hash,
		Decimals:        t.Decimals,
		Precision:       t.Precision,
		MinimumQuantity: t.MinimumQuantity,
		TradingActive:   t.TradingActive,
	}
}

// APIPair is a trading pair as listed by the pairs endpoint.
type APIPair struct {
	Name             string `json:"name"`
	Precision        int32  `json:"precision"`
	BaseAssetSymbol  string `json:"baseAssetSymbol"`
	QuoteAssetSymbol string `json:"quoteAssetSymbol"`
}

// ToDomainPair converts an APIPair to a domain.Pair.
func (p *APIPair) ToDomainPair() domain.Pair {
	base, quote := p.BaseAssetSymbol, p.QuoteAssetSymbol
	if base == "" || quote == "" {
		base, quote = domain.SplitPair(p.Name)
	}
	return domain.Pair{Name: p.Name, Base: base, Quote: quote, Precision: p.Precision}
}

// APIBalances is the balances endpoint response, in on-chain units.
type APIBalances struct {
	Confirmed map[string]decimal.Decimal `json:"confirmed"`
	Locked    map[string]decimal.Decimal `json:"locked"`
}

// ToDomain converts the response to domain.Balances.
func (b *APIBalances) ToDomain() domain.Balances {
	out := domain.Balances{
		Confirmed: make(map[string]decimal.Decimal, len(b.Confirmed)),
		Locked:    make(map[string]decimal.Decimal, len(b.Locked)),
	}
	for k, v := range b.Confirmed {
		out.Confirmed[k] = v
	}
	for k, v := range b.Locked {
		out.Locked[k] = v
	}
	return out
}

// APIOrderRequest is the body of an order creation request.
type APIOrderRequest struct {
	Blockchain   string `json:"blockchain"`
	ContractHash string `json:"contract_hash"`
	Pair         string `json:"pair"`
	Side         string `json:"side"`
	Price        string `json:"price,omitempty"`
	Quantity     string `json:"quantity"`
	OrderType    string `json:"order_type"`
	PostOnly     bool   `json:"post_only,omitempty"`
	Address      string `json:"address"`
	Timestamp    int64  `json:"timestamp"`
	Signature    string `json:"signature,omitempty"`
}

// APICancelRequest is the body of a cancellation request.
type APICancelRequest struct {
	OrderID   string `json:"order_id"`
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature,omitempty"`
}

// APIBroadcast carries the signatures that release a created order or
// cancellation to the chain.
type APIBroadcast struct {
	Signatures map[string]string `json:"signatures"`
}

// APIError is the error body returned by the REST API.
type APIError struct {
	Error string `json:"error"`
}
