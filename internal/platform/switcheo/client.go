package switcheo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Signer signs request payloads on behalf of one wallet.
type Signer interface {
	Address() string
	SignPayload(v any) (string, error)
}

// ErrPostOnlyWouldTake is returned when a post-only order came back with
// immediate fills and was therefore not broadcast.
var ErrPostOnlyWouldTake = errors.New("post-only order would take liquidity")

// Client is the REST gateway to the exchange. It implements
// domain.Gateway and domain.MarketSource.
type Client struct {
	baseURL      string
	contractHash string
	blockchain   string
	httpClient   *http.Client

	mu      sync.RWMutex
	signers map[string]Signer
	market  domain.Market
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.switcheo.network".
func NewClient(baseURL, blockchain, contractHash string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		blockchain:   blockchain,
		contractHash: contractHash,
		httpClient:   &http.Client{Timeout: timeout},
		signers:      make(map[string]Signer),
	}
}

// AddSigner registers the signer for a wallet address.
func (c *Client) AddSigner(s Signer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signers[s.Address()] = s
}

// UseMarket sets the metadata used to convert quantities to on-chain units.
func (c *Client) UseMarket(m domain.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.market = m
}

// CreateOrder places a limit order. A post-only order that would take is
// not broadcast and fails with ErrPostOnlyWouldTake.
func (c *Client) CreateOrder(ctx context.Context, acct domain.Account, pair string, side domain.Side, price, quantity decimal.Decimal, postOnly bool) (domain.Order, error) {
	raw, err := c.rawQuantity(pair, quantity)
	if err != nil {
		return domain.Order{}, fmt.Errorf("switcheo: create order %s: %w", pair, err)
	}
	req := APIOrderRequest{
		Pair:      pair,
		Side:      string(side),
		Price:     price.String(),
		Quantity:  raw,
		OrderType: "limit",
		PostOnly:  postOnly,
	}
	order, err := c.placeOrder(ctx, acct, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("switcheo: create order %s %s %s@%s: %w", pair, side, quantity, price, err)
	}
	return order, nil
}

// CreateMarketOrder places a market (taker) order.
func (c *Client) CreateMarketOrder(ctx context.Context, acct domain.Account, pair string, side domain.Side, quantity decimal.Decimal) (domain.Order, error) {
	raw, err := c.rawQuantity(pair, quantity)
	if err != nil {
		return domain.Order{}, fmt.Errorf("switcheo: create market order %s: %w", pair, err)
	}
	req := APIOrderRequest{
		Pair:      pair,
		Side:      string(side),
		Quantity:  raw,
		OrderType: "market",
	}
	order, err := c.placeOrder(ctx, acct, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("switcheo: create market order %s %s %s: %w", pair, side, quantity, err)
	}
	return order, nil
}

// CancelOrder cancels an open order. Rejections for orders that are already
// closed come back as domain.ErrOrderAlreadyClosed.
func (c *Client) CancelOrder(ctx context.Context, acct domain.Account, orderID string) error {
	signer, err := c.signer(acct)
	if err != nil {
		return fmt.Errorf("switcheo: cancel order %s: %w", orderID, err)
	}

	req := APICancelRequest{
		OrderID:   orderID,
		Address:   signer.Address(),
		Timestamp: time.Now().UnixMilli(),
	}
	if req.Signature, err = signer.SignPayload(req); err != nil {
		return fmt.Errorf("switcheo: cancel order %s: %w: %w", orderID, domain.ErrSigningFailed, err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v2/cancellations", req, &created); err != nil {
		return fmt.Errorf("switcheo: cancel order %s: %w", orderID, domain.ClassifyExecutionError(err))
	}

	if err := c.broadcast(ctx, signer, "/v2/cancellations/"+url.PathEscape(created.ID)+"/broadcast", created.ID); err != nil {
		return fmt.Errorf("switcheo: cancel order %s: %w", orderID, domain.ClassifyExecutionError(err))
	}
	return nil
}

// FetchOrder retrieves a single order. Unknown ids yield domain.ErrNotFound.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var payload OrderPayload
	if err := c.doJSON(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, &payload); err != nil {
		return domain.Order{}, fmt.Errorf("switcheo: fetch order %s: %w", orderID, err)
	}
	return payload.ToDomainOrder(), nil
}

// FetchBalances returns the confirmed and locked balances of an account.
func (c *Client) FetchBalances(ctx context.Context, acct domain.Account) (domain.Balances, error) {
	q := url.Values{}
	q.Add("addresses[]", acct.Address)
	q.Add("contract_hashes[]", c.contractHash)

	var payload APIBalances
	if err := c.doJSON(ctx, http.MethodGet, "/v2/balances?"+q.Encode(), nil, &payload); err != nil {
		return domain.Balances{}, fmt.Errorf("switcheo: fetch balances %s: %w", acct.Address, err)
	}
	return payload.ToDomain(), nil
}

// Assets lists the exchange's tokens keyed by symbol.
func (c *Client) Assets(ctx context.Context) (map[string]domain.Asset, error) {
	var payload map[string]APIToken
	if err := c.doJSON(ctx, http.MethodGet, "/v2/exchange/tokens?show_listing_details=1", nil, &payload); err != nil {
		return nil, fmt.Errorf("switcheo: list assets: %w", err)
	}
	out := make(map[string]domain.Asset, len(payload))
	for sym, tok := range payload {
		a := tok.ToDomainAsset(sym)
		out[a.Symbol] = a
	}
	return out, nil
}

// Pairs lists the exchange's trading pairs keyed by name.
func (c *Client) Pairs(ctx context.Context) (map[string]domain.Pair, error) {
	var payload []APIPair
	if err := c.doJSON(ctx, http.MethodGet, "/v2/exchange/pairs?show_details=1", nil, &payload); err != nil {
		return nil, fmt.Errorf("switcheo: list pairs: %w", err)
	}
	out := make(map[string]domain.Pair, len(payload))
	for i := range payload {
		p := payload[i].ToDomainPair()
		out[p.Name] = p
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// placeOrder creates an order, then broadcasts its signed fills and makes.
func (c *Client) placeOrder(ctx context.Context, acct domain.Account, req APIOrderRequest) (domain.Order, error) {
	signer, err := c.signer(acct)
	if err != nil {
		return domain.Order{}, err
	}

	req.Blockchain = c.blockchainFor(acct)
	req.ContractHash = c.contractHash
	req.Address = signer.Address()
	req.Timestamp = time.Now().UnixMilli()
	if req.Signature, err = signer.SignPayload(req); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}

	var created OrderPayload
	if err := c.doJSON(ctx, http.MethodPost, "/v2/orders", req, &created); err != nil {
		return domain.Order{}, domain.ClassifyExecutionError(err)
	}
	if req.PostOnly && len(created.Fills) > 0 {
		return domain.Order{}, ErrPostOnlyWouldTake
	}

	ids := make([]string, 0, len(created.Fills)+len(created.Makes))
	for _, f := range created.Fills {
		ids = append(ids, f.ID)
	}
	for _, m := range created.Makes {
		ids = append(ids, m.ID)
	}
	if err := c.broadcast(ctx, signer, "/v2/orders/"+url.PathEscape(created.ID)+"/broadcast", ids...); err != nil {
		return domain.Order{}, domain.ClassifyExecutionError(err)
	}

	order := created.ToDomainOrder()
	if order.Pair == "_" {
		order.Pair = req.Pair
	}
	if order.Side == "" {
		order.Side = domain.Side(req.Side)
	}
	return order, nil
}

// broadcast signs each id and posts the signatures.
func (c *Client) broadcast(ctx context.Context, signer Signer, path string, ids ...string) error {
	body := APIBroadcast{Signatures: make(map[string]string, len(ids))}
	for _, id := range ids {
		sig, err := signer.SignPayload(map[string]string{"id": id})
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
		}
		body.Signatures[id] = sig
	}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// rawQuantity rounds a human base quantity to the asset's precision and
// shifts it to on-chain units.
func (c *Client) rawQuantity(pair string, qty decimal.Decimal) (string, error) {
	c.mu.RLock()
	info, err := c.market.Lookup(pair)
	c.mu.RUnlock()
	if err != nil {
		return "", err
	}
	return qty.Round(info.Base.Precision).Shift(info.Base.Decimals).StringFixed(0), nil
}

func (c *Client) signer(acct domain.Account) (Signer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.signers[acct.Address]
	if !ok {
		return nil, fmt.Errorf("no signer for %s: %w", acct.Address, domain.ErrNotFound)
	}
	return s, nil
}

func (c *Client) blockchainFor(acct domain.Account) string {
	if acct.Blockchain != "" {
		return acct.Blockchain
	}
	return c.blockchain
}

// doJSON sends an optional JSON body and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
