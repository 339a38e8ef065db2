package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// DefaultFyersURL is the published Fyers API v3 endpoint.
const DefaultFyersURL = "https://api-t1.fyers.in"

// DefaultFyersStreamURL is the Fyers market-data WebSocket endpoint.
const DefaultFyersStreamURL = "wss://socket.fyers.in/hsm/v1-5/prod"

const fyersMaxTagLen = 30

// Fyers encodes order type and side as integers, so its translation tables
// are typed per field rather than going through Table.
var fyersOrderTypes = map[models.OrderType]int{
	models.OrderTypeLimit:     1,
	models.OrderTypeMarket:    2,
	models.OrderTypeStop:      3,
	models.OrderTypeStopLimit: 4,
}

var fyersSides = map[models.OrderSide]int{
	models.OrderSideBuy:  1,
	models.OrderSideSell: -1,
}

// NORMAL has no Fyers product; carryforward on Fyers is MARGIN.
var fyersProducts = map[models.ProductType]string{
	models.ProductIntraday: "INTRADAY",
	models.ProductDelivery: "CNC",
	models.ProductMargin:   "MARGIN",
	models.ProductCover:    "CO",
	models.ProductBracket:  "BO",
}

// fyersHistoricalLimits caps the request window per resolution. Intraday
// resolutions are limited to 100 days, daily to 366 per request.
var fyersHistoricalLimits = map[string]int{
	"1": 100, "2": 100, "3": 100, "5": 100, "10": 100, "15": 100,
	"20": 100, "30": 100, "60": 100, "120": 100, "240": 100,
	"D": 366, "1D": 366,
}

// Fyers order ids look like "24010512345-BO-1".
var fyersOrderID = regexp.MustCompile(`^[0-9A-Za-z-]+$`)

// Fyers is the adapter for the Fyers API v3. Authentication is
// "appId:accessToken" in the Authorization header; the credential token is
// expected to already carry that form.
type Fyers struct {
	cred      models.Credential
	streamURL string
	t         *Transport
	statuses  errors.StatusTable
}

// NewFyers creates a Fyers adapter bound to cred.
func NewFyers(cred models.Credential, cfg Config) *Fyers {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultFyersURL
	}
	stream := cfg.StreamURL
	if stream == "" {
		stream = DefaultFyersStreamURL
	}
	return &Fyers{
		cred:      cred,
		streamURL: stream,
		t:         NewTransport(base, cfg.httpClient(), cfg.Logger),
		statuses:  errors.DefaultStatusTable(),
	}
}

// Broker implements Adapter.
func (f *Fyers) Broker() models.BrokerID { return models.BrokerFyers }

func (f *Fyers) headers() map[string]string {
	return map[string]string{"Authorization": f.cred.Token}
}

// fyersEnvelope is the v3 response wrapper. s is "ok" or "error".
type fyersEnvelope struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (f *Fyers) mapOrder(order models.NormalizedOrder) (side, otype int, product string, nerr *errors.NormalizedError) {
	otype, ok := fyersOrderTypes[order.Type]
	if !ok {
		return 0, 0, "", errors.Newf(errors.KindBrokerRejected, "FYERS does not support order type %s", order.Type)
	}
	side, ok = fyersSides[order.Side]
	if !ok {
		return 0, 0, "", errors.Newf(errors.KindBrokerRejected, "FYERS does not support side %s", order.Side)
	}
	product, ok = fyersProducts[order.Product]
	if !ok {
		return 0, 0, "", errors.Newf(errors.KindBrokerRejected, "FYERS does not support product %s", order.Product)
	}
	return side, otype, product, nil
}

func fyersPrice(order models.NormalizedOrder) (limit, stop float64) {
	if order.Price != nil {
		limit, _ = order.Price.Float64()
	}
	if order.TriggerPrice != nil {
		stop, _ = order.TriggerPrice.Float64()
	}
	return limit, stop
}

// PlaceOrder submits a new order through the synchronous v3 endpoint.
func (f *Fyers) PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error) {
	side, otype, product, nerr := f.mapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	if nerr := checkTag(order.Tag, fyersMaxTagLen); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	limit, stop := fyersPrice(order)
	body := map[string]any{
		"symbol":       order.Symbol,
		"qty":          order.Quantity,
		"type":         otype,
		"side":         side,
		"productType":  product,
		"limitPrice":   limit,
		"stopPrice":    stop,
		"disclosedQty": order.DisclosedQuantity,
		"validity":     string(order.Validity),
		"offlineOrder": false,
	}
	if order.Tag != "" {
		body["orderTag"] = order.Tag
	}
	resp, err := f.t.Do(ctx, http.MethodPost, "/api/v3/orders/sync", nil, body, f.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return f.orderResult(resp), nil
}

// ModifyOrder amends an open order with a PATCH carrying only the mutable
// fields.
func (f *Fyers) ModifyOrder(ctx context.Context, orderID string, order models.NormalizedOrder) (models.NormalizedResult, error) {
	if nerr := checkOrderID(f.Broker(), orderID, fyersOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	_, otype, _, nerr := f.mapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	limit, stop := fyersPrice(order)
	body := map[string]any{
		"id":         orderID,
		"type":       otype,
		"qty":        order.Quantity,
		"limitPrice": limit,
		"stopPrice":  stop,
	}
	resp, err := f.t.Do(ctx, http.MethodPatch, "/api/v3/orders/sync", nil, body, f.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return f.orderResult(resp), nil
}

// CancelOrder cancels an open order.
func (f *Fyers) CancelOrder(ctx context.Context, orderID string) (models.NormalizedResult, error) {
	if nerr := checkOrderID(f.Broker(), orderID, fyersOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	body := map[string]any{"id": orderID}
	resp, err := f.t.Do(ctx, http.MethodDelete, "/api/v3/orders/sync", nil, body, f.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return f.orderResult(resp), nil
}

// GetOrderBook fetches the day's orders.
func (f *Fyers) GetOrderBook(ctx context.Context) (models.NormalizedResult, error) {
	return f.read(ctx, "/api/v3/orders", nil)
}

// GetPositions fetches open positions.
func (f *Fyers) GetPositions(ctx context.Context) (models.NormalizedResult, error) {
	return f.read(ctx, "/api/v3/positions", nil)
}

// GetHoldings fetches delivery holdings.
func (f *Fyers) GetHoldings(ctx context.Context) (models.NormalizedResult, error) {
	return f.read(ctx, "/api/v3/holdings", nil)
}

// GetProfile fetches the account holder's profile.
func (f *Fyers) GetProfile(ctx context.Context) (models.NormalizedResult, error) {
	return f.read(ctx, "/api/v3/profile", nil)
}

// GetFunds fetches fund limits across segments.
func (f *Fyers) GetFunds(ctx context.Context) (models.NormalizedResult, error) {
	return f.read(ctx, "/api/v3/funds", nil)
}

// GetHistoricalData fetches candles from the data host. date_format 1 means
// the range bounds are yyyy-mm-dd strings.
func (f *Fyers) GetHistoricalData(ctx context.Context, req models.HistoricalRequest) (models.NormalizedResult, error) {
	if nerr := checkHistoricalRange(fyersHistoricalLimits, req); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	q := url.Values{}
	q.Set("symbol", req.InstrumentKey)
	q.Set("resolution", req.Resolution)
	q.Set("date_format", "1")
	q.Set("range_from", req.From.Format("2006-01-02"))
	q.Set("range_to", req.To.Format("2006-01-02"))
	q.Set("cont_flag", "1")
	return f.read(ctx, "/data/history", q)
}

func (f *Fyers) read(ctx context.Context, path string, query url.Values) (models.NormalizedResult, error) {
	resp, err := f.t.Do(ctx, http.MethodGet, path, query, nil, f.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	if !resp.OK() {
		return models.Fail(f.statuses.FromStatus(resp.Status, bodyMessage(resp.Body)), resp.Body), nil
	}
	var env fyersEnvelope
	if err := json.Unmarshal(resp.Body, &env); err == nil && env.S == "error" {
		return models.Fail(f.envError(env), resp.Body), nil
	}
	return models.OK("", resp.Body), nil
}

func (f *Fyers) orderResult(resp *Response) models.NormalizedResult {
	if !resp.OK() {
		return models.Fail(f.statuses.FromStatus(resp.Status, bodyMessage(resp.Body)), resp.Body)
	}
	var env fyersEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return models.Fail(errors.New(errors.KindUnknown, "unrecognized FYERS response"), resp.Body)
	}
	if env.S != "ok" {
		return models.Fail(f.envError(env), resp.Body)
	}
	return models.OK(env.ID, resp.Body)
}

// Fyers signals auth failures with code -8 and -16 family codes inside a 200
// body; those remap to the authentication kind.
func (f *Fyers) envError(env fyersEnvelope) *errors.NormalizedError {
	kind := errors.KindBrokerRejected
	if env.Code == -8 || env.Code == -15 || env.Code == -16 || env.Code == -17 {
		kind = errors.KindAuthenticationFailed
	}
	return errors.New(kind, env.Message).WithCode(strconv.Itoa(env.Code))
}

// StreamURL implements Streamer.
func (f *Fyers) StreamURL() string { return f.streamURL }

// StreamHeader implements Streamer.
func (f *Fyers) StreamHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", f.cred.Token)
	return h
}

// SubscribeFrame implements Streamer.
func (f *Fyers) SubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{"T": "SUB_DATA", "SLIST": symbols, "SUB_T": 1})
}

// UnsubscribeFrame implements Streamer.
func (f *Fyers) UnsubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{"T": "SUB_DATA", "SLIST": symbols, "SUB_T": 0})
}

var (
	_ OrderPlacer      = (*Fyers)(nil)
	_ OrderModifier    = (*Fyers)(nil)
	_ OrderCanceler    = (*Fyers)(nil)
	_ OrderBookReader  = (*Fyers)(nil)
	_ PositionReader   = (*Fyers)(nil)
	_ HoldingsReader   = (*Fyers)(nil)
	_ ProfileReader    = (*Fyers)(nil)
	_ FundsReader      = (*Fyers)(nil)
	_ HistoricalReader = (*Fyers)(nil)
	_ Streamer         = (*Fyers)(nil)
)
