package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pquerna/otp/totp"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// DefaultAngelURL is the published Angel One SmartAPI endpoint.
const DefaultAngelURL = "https://apiconnect.angelone.in"

// DefaultAngelStreamURL is the SmartAPI market-data WebSocket endpoint.
const DefaultAngelStreamURL = "wss://smartapisocket.angelone.in/smart-stream"

const angelMaxTagLen = 20

var angelTable = Table{
	Exchanges: map[models.Exchange]string{
		models.NSE: "NSE", models.BSE: "BSE", models.NFO: "NFO",
		models.BFO: "BFO", models.MCX: "MCX", models.CDS: "CDS",
	},
	Sides: canonicalSides(),
	OrderTypes: map[models.OrderType]string{
		models.OrderTypeMarket:    "MARKET",
		models.OrderTypeLimit:     "LIMIT",
		models.OrderTypeStop:      "STOPLOSS_MARKET",
		models.OrderTypeStopLimit: "STOPLOSS_LIMIT",
	},
	// SmartAPI has no cover-order product; COVER is rejected.
	Products: map[models.ProductType]string{
		models.ProductIntraday: "INTRADAY",
		models.ProductDelivery: "DELIVERY",
		models.ProductMargin:   "MARGIN",
		models.ProductNormal:   "CARRYFORWARD",
		models.ProductBracket:  "BO",
	},
	Validities: dayIOC(),
}

// angelHistoricalLimits mirrors the maximum window per interval SmartAPI
// publishes for getCandleData.
var angelHistoricalLimits = map[string]int{
	"ONE_MINUTE":     30,
	"THREE_MINUTE":   60,
	"FIVE_MINUTE":    100,
	"TEN_MINUTE":     100,
	"FIFTEEN_MINUTE": 200,
	"THIRTY_MINUTE":  200,
	"ONE_HOUR":       400,
	"ONE_DAY":        2000,
}

// angelCodeKinds maps SmartAPI error codes onto the taxonomy. Unlisted codes
// fall back to BrokerRejected on an unsuccessful envelope.
var angelCodeKinds = map[string]errors.ErrorKind{
	"AG8001": errors.KindAuthenticationFailed, // invalid token
	"AG8002": errors.KindAuthenticationFailed, // token expired
	"AG8003": errors.KindAuthenticationFailed, // token missing
	"AB1010": errors.KindAuthenticationFailed, // session expired
	"AB1004": errors.KindBrokerRejected,       // something went wrong with the order
	"AB2001": errors.KindBrokerRejected,       // internal order rejection
}

// Angel is the adapter for Angel One SmartAPI. One instance serves one
// request and carries one bearer token; the api key travels in the
// X-PrivateKey header alongside it.
type Angel struct {
	cred      models.Credential
	apiKey    string
	streamURL string
	t         *Transport
	statuses  errors.StatusTable
}

// NewAngel creates an Angel One adapter bound to cred.
func NewAngel(cred models.Credential, cfg Config) *Angel {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAngelURL
	}
	stream := cfg.StreamURL
	if stream == "" {
		stream = DefaultAngelStreamURL
	}
	return &Angel{
		cred:      cred,
		apiKey:    cfg.APIKey,
		streamURL: stream,
		t:         NewTransport(base, cfg.httpClient(), cfg.Logger),
		statuses:  errors.DefaultStatusTable(),
	}
}

// Broker implements Adapter.
func (a *Angel) Broker() models.BrokerID { return models.BrokerAngel }

func (a *Angel) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + a.cred.Token,
		"X-UserType":    "USER",
		"X-SourceID":    "WEB",
	}
	if a.apiKey != "" {
		h["X-PrivateKey"] = a.apiKey
	}
	return h
}

// angelEnvelope is the SmartAPI response wrapper.
type angelEnvelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

type angelOrderData struct {
	OrderID       string `json:"orderid"`
	UniqueOrderID string `json:"uniqueorderid"`
}

// angelVariety picks the SmartAPI order variety: stop orders ride the
// STOPLOSS variety and bracket products the ROBO variety.
func angelVariety(order models.NormalizedOrder) string {
	if order.Product == models.ProductBracket {
		return "ROBO"
	}
	if order.Type.RequiresTrigger() {
		return "STOPLOSS"
	}
	return "NORMAL"
}

// PlaceOrder submits a new order. SmartAPI wants every numeric field as a
// string.
func (a *Angel) PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error) {
	m, nerr := angelTable.MapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	if nerr := checkTag(order.Tag, angelMaxTagLen); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	token, name := splitSymbol(order.Symbol)
	body := map[string]any{
		"variety":         angelVariety(order),
		"tradingsymbol":   name,
		"symboltoken":     token,
		"transactiontype": m.Side,
		"exchange":        m.Exchange,
		"ordertype":       m.OrderType,
		"producttype":     m.Product,
		"duration":        m.Validity,
		"price":           decimalString(order.Price),
		"quantity":        strconv.Itoa(order.Quantity),
		"squareoff":       "0",
		"stoploss":        "0",
	}
	if order.TriggerPrice != nil {
		body["triggerprice"] = order.TriggerPrice.String()
	}
	if order.DisclosedQuantity > 0 {
		body["disclosedquantity"] = strconv.Itoa(order.DisclosedQuantity)
	}
	if order.Tag != "" {
		body["ordertag"] = order.Tag
	}
	resp, err := a.t.Do(ctx, http.MethodPost, "/rest/secure/angelbroking/order/v1/placeOrder", nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return a.orderResult(resp), nil
}

// ModifyOrder amends an open order.
func (a *Angel) ModifyOrder(ctx context.Context, orderID string, order models.NormalizedOrder) (models.NormalizedResult, error) {
	if nerr := checkOrderID(a.Broker(), orderID, numericOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	m, nerr := angelTable.MapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	token, name := splitSymbol(order.Symbol)
	body := map[string]any{
		"variety":       angelVariety(order),
		"orderid":       orderID,
		"ordertype":     m.OrderType,
		"producttype":   m.Product,
		"duration":      m.Validity,
		"price":         decimalString(order.Price),
		"quantity":      strconv.Itoa(order.Quantity),
		"tradingsymbol": name,
		"symboltoken":   token,
		"exchange":      m.Exchange,
	}
	resp, err := a.t.Do(ctx, http.MethodPost, "/rest/secure/angelbroking/order/v1/modifyOrder", nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return a.orderResult(resp), nil
}

// CancelOrder cancels an open order.
func (a *Angel) CancelOrder(ctx context.Context, orderID string) (models.NormalizedResult, error) {
	if nerr := checkOrderID(a.Broker(), orderID, numericOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	body := map[string]any{"variety": "NORMAL", "orderid": orderID}
	resp, err := a.t.Do(ctx, http.MethodPost, "/rest/secure/angelbroking/order/v1/cancelOrder", nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return a.orderResult(resp), nil
}

// GetOrderBook fetches the day's orders.
func (a *Angel) GetOrderBook(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/rest/secure/angelbroking/order/v1/getOrderBook", nil)
}

// GetPositions fetches open positions.
func (a *Angel) GetPositions(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/rest/secure/angelbroking/order/v1/getPosition", nil)
}

// GetHoldings fetches delivery holdings.
func (a *Angel) GetHoldings(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/rest/secure/angelbroking/portfolio/v1/getHolding", nil)
}

// GetProfile fetches the account holder's profile.
func (a *Angel) GetProfile(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/rest/secure/angelbroking/user/v1/getProfile", nil)
}

// GetFunds fetches RMS cash and margin limits.
func (a *Angel) GetFunds(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/rest/secure/angelbroking/user/v1/getRMS", nil)
}

// GetHistoricalData fetches candles. SmartAPI takes local-time date strings
// and a named interval; the window cap per interval is enforced here.
func (a *Angel) GetHistoricalData(ctx context.Context, req models.HistoricalRequest) (models.NormalizedResult, error) {
	if nerr := checkHistoricalRange(angelHistoricalLimits, req); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	body := map[string]any{
		"exchange":    string(req.Exchange),
		"symboltoken": req.InstrumentKey,
		"interval":    req.Resolution,
		"fromdate":    req.From.Format("2006-01-02 15:04"),
		"todate":      req.To.Format("2006-01-02 15:04"),
	}
	return a.read(ctx, http.MethodPost, "/rest/secure/angelbroking/historical/v1/getCandleData", body)
}

func (a *Angel) read(ctx context.Context, method, path string, body any) (models.NormalizedResult, error) {
	resp, err := a.t.Do(ctx, method, path, nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	if !resp.OK() {
		return models.Fail(a.statuses.FromStatus(resp.Status, bodyMessage(resp.Body)), resp.Body), nil
	}
	var env angelEnvelope
	if err := json.Unmarshal(resp.Body, &env); err == nil && !env.Status && env.ErrorCode != "" {
		return models.Fail(a.codeError(env), resp.Body), nil
	}
	return models.OK("", resp.Body), nil
}

func (a *Angel) orderResult(resp *Response) models.NormalizedResult {
	if !resp.OK() {
		return models.Fail(a.statuses.FromStatus(resp.Status, bodyMessage(resp.Body)), resp.Body)
	}
	var env angelEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return models.Fail(errors.New(errors.KindUnknown, "unrecognized SmartAPI response"), resp.Body)
	}
	if !env.Status {
		return models.Fail(a.codeError(env), resp.Body)
	}
	var data angelOrderData
	_ = json.Unmarshal(env.Data, &data)
	return models.OK(data.OrderID, resp.Body)
}

func (a *Angel) codeError(env angelEnvelope) *errors.NormalizedError {
	kind, ok := angelCodeKinds[env.ErrorCode]
	if !ok {
		kind = errors.KindBrokerRejected
	}
	return errors.New(kind, env.Message).WithCode(env.ErrorCode)
}

// StreamURL implements Streamer.
func (a *Angel) StreamURL() string { return a.streamURL }

// StreamHeader implements Streamer. The SmartAPI feed authenticates through
// headers on the upgrade request.
func (a *Angel) StreamHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.cred.Token)
	if a.apiKey != "" {
		h.Set("x-api-key", a.apiKey)
	}
	return h
}

// SubscribeFrame implements Streamer.
func (a *Angel) SubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"action": 1,
		"params": map[string]any{
			"mode":      2,
			"tokenList": []map[string]any{{"exchangeType": 1, "tokens": symbols}},
		},
	})
}

// UnsubscribeFrame implements Streamer.
func (a *Angel) UnsubscribeFrame(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"action": 0,
		"params": map[string]any{
			"mode":      2,
			"tokenList": []map[string]any{{"exchangeType": 1, "tokens": symbols}},
		},
	})
}

// AngelLogin performs the SmartAPI password+TOTP login and returns a
// credential carrying the session's JWT. The TOTP code is generated from the
// shared secret at call time.
func AngelLogin(ctx context.Context, cfg Config, clientCode, pin, totpSecret string) (models.Credential, error) {
	code, err := totp.GenerateCode(totpSecret, time.Now())
	if err != nil {
		return models.Credential{}, errors.Newf(errors.KindAuthenticationFailed, "generate totp: %v", err)
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAngelURL
	}
	t := NewTransport(base, cfg.httpClient(), cfg.Logger)
	body := map[string]any{"clientcode": clientCode, "password": pin, "totp": code}
	headers := map[string]string{"X-UserType": "USER", "X-SourceID": "WEB"}
	if cfg.APIKey != "" {
		headers["X-PrivateKey"] = cfg.APIKey
	}
	resp, err := t.Do(ctx, http.MethodPost, "/rest/auth/angelbroking/user/v1/loginByPassword", nil, body, headers)
	if err != nil {
		return models.Credential{}, errors.FromTransport(err)
	}
	var env struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			JWTToken string `json:"jwtToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &env); err != nil || !env.Status || env.Data.JWTToken == "" {
		msg := env.Message
		if msg == "" {
			msg = "login rejected"
		}
		return models.Credential{}, errors.New(errors.KindAuthenticationFailed, msg)
	}
	return models.Credential{Broker: models.BrokerAngel, Token: env.Data.JWTToken}, nil
}

var (
	_ OrderPlacer      = (*Angel)(nil)
	_ OrderModifier    = (*Angel)(nil)
	_ OrderCanceler    = (*Angel)(nil)
	_ OrderBookReader  = (*Angel)(nil)
	_ PositionReader   = (*Angel)(nil)
	_ HoldingsReader   = (*Angel)(nil)
	_ ProfileReader    = (*Angel)(nil)
	_ FundsReader      = (*Angel)(nil)
	_ HistoricalReader = (*Angel)(nil)
	_ Streamer         = (*Angel)(nil)
)
