package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// DefaultUpstoxURL is the published Upstox API v2 endpoint.
const DefaultUpstoxURL = "https://api.upstox.com"

// DefaultUpstoxStreamURL is the Upstox market-data feed authorize endpoint.
const DefaultUpstoxStreamURL = "wss://api.upstox.com/v2/feed/market-data-feed"

const upstoxMaxTagLen = 40

var upstoxTable = Table{
	Exchanges: map[models.Exchange]string{
		models.NSE: "NSE_EQ", models.BSE: "BSE_EQ", models.NFO: "NSE_FO",
		models.BFO: "BSE_FO", models.MCX: "MCX_FO", models.CDS: "NSE_CD",
	},
	Sides: canonicalSides(),
	OrderTypes: map[models.OrderType]string{
		models.OrderTypeMarket:    "MARKET",
		models.OrderTypeLimit:     "LIMIT",
		models.OrderTypeStop:      "SL-M",
		models.OrderTypeStopLimit: "SL",
	},
	// v2 exposes intraday and delivery only; leveraged products go through
	// separate endpoints this adapter does not cover.
	Products: map[models.ProductType]string{
		models.ProductIntraday: "I",
		models.ProductDelivery: "D",
	},
	Validities: dayIOC(),
}

// upstoxHistoricalLimits caps the window per interval.
var upstoxHistoricalLimits = map[string]int{
	"1minute":  30,
	"30minute": 365,
	"day":      0,
	"week":     0,
	"month":    0,
}

// Upstox order ids are UUID-like.
var upstoxOrderID = regexp.MustCompile(`^[0-9A-Za-z-]+$`)

// Upstox is the adapter for the Upstox API v2. Every call carries the
// Api-Version header besides the bearer token.
type Upstox struct {
	cred      models.Credential
	streamURL string
	t         *Transport
	statuses  errors.StatusTable
}

// NewUpstox creates an Upstox adapter bound to cred.
func NewUpstox(cred models.Credential, cfg Config) *Upstox {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultUpstoxURL
	}
	stream := cfg.StreamURL
	if stream == "" {
		stream = DefaultUpstoxStreamURL
	}
	return &Upstox{
		cred:      cred,
		streamURL: stream,
		t:         NewTransport(base, cfg.httpClient(), cfg.Logger),
		statuses:  errors.DefaultStatusTable(),
	}
}

// Broker implements Adapter.
func (u *Upstox) Broker() models.BrokerID { return models.BrokerUpstox }

func (u *Upstox) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + u.cred.Token,
		"Api-Version":   "2.0",
	}
}

type upstoxEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

type upstoxOrderData struct {
	OrderID string `json:"order_id"`
}

func upstoxFloat(order models.NormalizedOrder) (price, trigger float64) {
	if order.Price != nil {
		price, _ = order.Price.Float64()
	}
	if order.TriggerPrice != nil {
		trigger, _ = order.TriggerPrice.Float64()
	}
	return price, trigger
}

// PlaceOrder submits a new order. The instrument token is the full Upstox
// instrument key; the exchange travels inside it, not as its own field.
func (u *Upstox) PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error) {
	m, nerr := upstoxTable.MapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	if nerr := checkTag(order.Tag, upstoxMaxTagLen); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	price, trigger := upstoxFloat(order)
	body := map[string]any{
		"quantity":           order.Quantity,
		"product":            m.Product,
		"validity":           m.Validity,
		"price":              price,
		"instrument_token":   order.Symbol,
		"order_type":         m.OrderType,
		"transaction_type":   m.Side,
		"disclosed_quantity": order.DisclosedQuantity,
		"trigger_price":      trigger,
		"is_amo":             false,
	}
	if order.Tag != "" {
		body["tag"] = order.Tag
	}
	resp, err := u.t.Do(ctx, http.MethodPost, "/v2/order/place", nil, body, u.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return u.orderResult(resp), nil
}

// ModifyOrder amends an open order.
func (u *Upstox) ModifyOrder(ctx context.Context, orderID string, order models.NormalizedOrder) (models.NormalizedResult, error) {
	if nerr := checkOrderID(u.Broker(), orderID, upstoxOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	m, nerr := upstoxTable.MapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	price, trigger := upstoxFloat(order)
	body := map[string]any{
		"order_id":           orderID,
		"quantity":           order.Quantity,
		"validity":           m.Validity,
		"price":              price,
		"order_type":         m.OrderType,
		"disclosed_quantity": order.DisclosedQuantity,
		"trigger_price":      trigger,
	}
	resp, err := u.t.Do(ctx, http.MethodPut, "/v2/order/modify", nil, body, u.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return u.orderResult(resp), nil
}

// CancelOrder cancels an open order by id.
func (u *Upstox) CancelOrder(ctx context.Context, orderID string) (models.NormalizedResult, error) {
	if nerr := checkOrderID(u.Broker(), orderID, upstoxOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	q := url.Values{}
	q.Set("order_id", orderID)
	resp, err := u.t.Do(ctx, http.MethodDelete, "/v2/order/cancel", q, nil, u.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return u.orderResult(resp), nil
}

// GetOrderBook fetches the day's orders.
func (u *Upstox) GetOrderBook(ctx context.Context) (models.NormalizedResult, error) {
	return u.read(ctx, "/v2/order/retrieve-all", nil)
}

// GetPositions fetches open positions.
func (u *Upstox) GetPositions(ctx context.Context) (models.NormalizedResult, error) {
	return u.read(ctx, "/v2/portfolio/short-term-positions", nil)
}

// GetHoldings fetches delivery holdings.
func (u *Upstox) GetHoldings(ctx context.Context) (models.NormalizedResult, error) {
	return u.read(ctx, "/v2/portfolio/long-term-holdings", nil)
}

// GetProfile fetches the account holder's profile.
func (u *Upstox) GetProfile(ctx context.Context) (models.NormalizedResult, error) {
	return u.read(ctx, "/v2/user/profile", nil)
}

// GetFunds fetches available funds and margin per segment.
func (u *Upstox) GetFunds(ctx context.Context) (models.NormalizedResult, error) {
	return u.read(ctx, "/v2/user/get-funds-and-margin", nil)
}

// GetHistoricalData fetches candles. The instrument key, interval and range
// bounds are path segments, so the key needs escaping for its embedded pipe.
func (u *Upstox) GetHistoricalData(ctx context.Context, req models.HistoricalRequest) (models.NormalizedResult, error) {
	if nerr := checkHistoricalRange(upstoxHistoricalLimits, req); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	path := "/v2/historical-candle/" + url.PathEscape(req.InstrumentKey) +
		"/" + req.Resolution +
		"/" + req.To.Format("2006-01-02") +
		"/" + req.From.Format("2006-01-02")
	return u.read(ctx, path, nil)
}

func (u *Upstox) read(ctx context.Context, path string, query url.Values) (models.NormalizedResult, error) {
	resp, err := u.t.Do(ctx, http.MethodGet, path, query, nil, u.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	if !resp.OK() {
		return models.Fail(u.bodyError(resp), resp.Body), nil
	}
	return models.OK("", resp.Body), nil
}

func (u *Upstox) orderResult(resp *Response) models.NormalizedResult {
	if !resp.OK() {
		return models.Fail(u.bodyError(resp), resp.Body)
	}
	var env upstoxEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return models.Fail(errors.New(errors.KindUnknown, "unrecognized Upstox response"), resp.Body)
	}
	if env.Status != "success" {
		return models.Fail(u.envError(env), resp.Body)
	}
	var data upstoxOrderData
	_ = json.Unmarshal(env.Data, &data)
	return models.OK(data.OrderID, resp.Body)
}

// bodyError prefers the structured errors array over the raw body when the
// status line already decides the kind.
func (u *Upstox) bodyError(resp *Response) *errors.NormalizedError {
	var env upstoxEnvelope
	if err := json.Unmarshal(resp.Body, &env); err == nil && len(env.Errors) > 0 {
		nerr := u.statuses.FromStatus(resp.Status, env.Errors[0].Message)
		return nerr.WithCode(env.Errors[0].ErrorCode)
	}
	return u.statuses.FromStatus(resp.Status, bodyMessage(resp.Body))
}

func (u *Upstox) envError(env upstoxEnvelope) *errors.NormalizedError {
	if len(env.Errors) == 0 {
		return errors.New(errors.KindBrokerRejected, "order rejected")
	}
	kind := errors.KindBrokerRejected
	if env.Errors[0].ErrorCode == "UDAPI100050" || env.Errors[0].ErrorCode == "UDAPI100067" {
		kind = errors.KindAuthenticationFailed
	}
	return errors.New(kind, env.Errors[0].Message).WithCode(env.Errors[0].ErrorCode)
}

// StreamURL implements Streamer.
func (u *Upstox) StreamURL() string { return u.streamURL }

// StreamHeader implements Streamer.
func (u *Upstox) StreamHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+u.cred.Token)
	h.Set("Api-Version", "2.0")
	return h
}

// SubscribeFrame implements Streamer.
func (u *Upstox) SubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"guid":   "broker-gateway",
		"method": "sub",
		"data":   map[string]any{"mode": "full", "instrumentKeys": symbols},
	})
}

// UnsubscribeFrame implements Streamer.
func (u *Upstox) UnsubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"guid":   "broker-gateway",
		"method": "unsub",
		"data":   map[string]any{"instrumentKeys": symbols},
	})
}

var (
	_ OrderPlacer      = (*Upstox)(nil)
	_ OrderModifier    = (*Upstox)(nil)
	_ OrderCanceler    = (*Upstox)(nil)
	_ OrderBookReader  = (*Upstox)(nil)
	_ PositionReader   = (*Upstox)(nil)
	_ HoldingsReader   = (*Upstox)(nil)
	_ ProfileReader    = (*Upstox)(nil)
	_ FundsReader      = (*Upstox)(nil)
	_ HistoricalReader = (*Upstox)(nil)
	_ Streamer         = (*Upstox)(nil)
)
