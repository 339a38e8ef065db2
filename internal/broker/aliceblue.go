package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// DefaultAliceBlueURL is the published AliceBlue ANT REST endpoint.
const DefaultAliceBlueURL = "https://ant.aliceblueonline.com/rest/AliceBlueAPIService/api"

const aliceBlueMaxTagLen = 50

// aliceBlueTable remaps the canonical vocabulary into NEST wire values.
// AliceBlue has no separate margin product; MARGIN orders are rejected.
var aliceBlueTable = Table{
	Exchanges: map[models.Exchange]string{
		models.NSE: "NSE", models.BSE: "BSE", models.NFO: "NFO", models.MCX: "MCX",
	},
	Sides: canonicalSides(),
	OrderTypes: map[models.OrderType]string{
		models.OrderTypeMarket:    "MKT",
		models.OrderTypeLimit:     "L",
		models.OrderTypeStop:      "SL-M",
		models.OrderTypeStopLimit: "SL",
	},
	Products: map[models.ProductType]string{
		models.ProductIntraday: "MIS",
		models.ProductDelivery: "CNC",
		models.ProductNormal:   "NRML",
		models.ProductCover:    "CO",
		models.ProductBracket:  "BO",
	},
	Validities: dayIOC(),
}

// aliceBlueHistoricalLimits declares the resolution vocabulary and the
// maximum window in days per resolution. These are adapter capability
// metadata, not global constants.
var aliceBlueHistoricalLimits = map[string]int{
	"1": 30,   // 1-minute candles
	"D": 2000, // daily candles
}

// AliceBlue is the adapter for the AliceBlue ANT (NEST) API. One instance
// serves one request and carries one bearer token.
type AliceBlue struct {
	cred     models.Credential
	t        *Transport
	statuses errors.StatusTable
}

// NewAliceBlue creates an AliceBlue adapter bound to cred.
func NewAliceBlue(cred models.Credential, cfg Config) *AliceBlue {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAliceBlueURL
	}
	return &AliceBlue{
		cred:     cred,
		t:        NewTransport(base, cfg.httpClient(), cfg.Logger),
		statuses: errors.DefaultStatusTable(),
	}
}

// Broker implements Adapter.
func (a *AliceBlue) Broker() models.BrokerID { return models.BrokerAliceBlue }

func (a *AliceBlue) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cred.Token}
}

// aliceBlueEnvelope is the NEST response shape shared by order operations.
type aliceBlueEnvelope struct {
	Stat        string `json:"stat"`
	NestOrderNo string `json:"nestOrderNumber"`
	OrderNo     string `json:"NOrdNo"`
	Emsg        string `json:"emsg"`
}

func (a *AliceBlue) placePayload(order models.NormalizedOrder, m Mapped, complexity string) map[string]any {
	token, name := splitSymbol(order.Symbol)
	p := map[string]any{
		"complexty":      complexity,
		"discqty":        strconv.Itoa(order.DisclosedQuantity),
		"exch":           m.Exchange,
		"pCode":          m.Product,
		"prctyp":         m.OrderType,
		"price":          decimalString(order.Price),
		"qty":            order.Quantity,
		"ret":            m.Validity,
		"symbol_id":      token,
		"trading_symbol": name,
		"transtype":      m.Side,
	}
	if order.TriggerPrice != nil {
		p["trigPrice"] = order.TriggerPrice.String()
	}
	if order.Tag != "" {
		p["orderTag"] = order.Tag
	}
	return p
}

// PlaceOrder submits a regular order. Bracket orders ride the same endpoint
// with complexty=BO, mirroring the upstream API.
func (a *AliceBlue) PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error) {
	m, nerr := aliceBlueTable.MapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	if nerr := checkTag(order.Tag, aliceBlueMaxTagLen); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	complexity := "REGULAR"
	if order.Product == models.ProductBracket {
		complexity = "BO"
	}
	// NEST expects a batch even for a single order.
	body := []map[string]any{a.placePayload(order, m, complexity)}
	resp, err := a.t.Do(ctx, http.MethodPost, "/placeOrder/executePlaceOrder", nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return a.orderResult(resp), nil
}

// ModifyOrder amends an open order. The NEST order number must be numeric.
func (a *AliceBlue) ModifyOrder(ctx context.Context, orderID string, order models.NormalizedOrder) (models.NormalizedResult, error) {
	if nerr := checkOrderID(a.Broker(), orderID, numericOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	m, nerr := aliceBlueTable.MapOrder(order)
	if nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	token, name := splitSymbol(order.Symbol)
	body := map[string]any{
		"nestOrderNumber": orderID,
		"exch":            m.Exchange,
		"trading_symbol":  name,
		"symbol_id":       token,
		"transtype":       m.Side,
		"prctyp":          m.OrderType,
		"pCode":           m.Product,
		"price":           decimalString(order.Price),
		"qty":             order.Quantity,
		"discqty":         strconv.Itoa(order.DisclosedQuantity),
	}
	if order.TriggerPrice != nil {
		body["trigPrice"] = order.TriggerPrice.String()
	}
	resp, err := a.t.Do(ctx, http.MethodPost, "/placeOrder/modifyOrder", nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return a.orderResult(resp), nil
}

// CancelOrder cancels an open order by its NEST order number.
func (a *AliceBlue) CancelOrder(ctx context.Context, orderID string) (models.NormalizedResult, error) {
	if nerr := checkOrderID(a.Broker(), orderID, numericOrderID); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	body := map[string]any{"nestOrderNumber": orderID}
	resp, err := a.t.Do(ctx, http.MethodPost, "/placeOrder/cancelOrder", nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	return a.orderResult(resp), nil
}

// GetOrderBook fetches the day's order book.
func (a *AliceBlue) GetOrderBook(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/placeOrder/fetchOrderBook", nil)
}

// GetPositions fetches the day position book.
func (a *AliceBlue) GetPositions(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodPost, "/positionAndHoldings/positionBook", map[string]any{"ret": "DAY"})
}

// GetHoldings fetches delivery holdings.
func (a *AliceBlue) GetHoldings(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/positionAndHoldings/holdings", nil)
}

// GetProfile fetches the account holder's details.
func (a *AliceBlue) GetProfile(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/customer/accountDetails", nil)
}

// GetFunds fetches RMS cash and margin limits.
func (a *AliceBlue) GetFunds(ctx context.Context) (models.NormalizedResult, error) {
	return a.read(ctx, http.MethodGet, "/limits/getRmsLimits", nil)
}

// GetHistoricalData fetches candles. AliceBlue takes epoch milliseconds and
// knows two resolutions: "1" (minute) and "D" (daily).
func (a *AliceBlue) GetHistoricalData(ctx context.Context, req models.HistoricalRequest) (models.NormalizedResult, error) {
	if nerr := checkHistoricalRange(aliceBlueHistoricalLimits, req); nerr != nil {
		return models.Fail(nerr, nil), nil
	}
	body := map[string]any{
		"token":      req.InstrumentKey,
		"resolution": req.Resolution,
		"from":       strconv.FormatInt(req.From.UnixMilli(), 10),
		"to":         strconv.FormatInt(req.To.UnixMilli(), 10),
		"exchange":   string(req.Exchange),
	}
	return a.read(ctx, http.MethodPost, "/chart/history", body)
}

func (a *AliceBlue) read(ctx context.Context, method, path string, body any) (models.NormalizedResult, error) {
	resp, err := a.t.Do(ctx, method, path, nil, body, a.headers())
	if err != nil {
		return models.Fail(errors.FromTransport(err), nil), nil
	}
	if !resp.OK() {
		return models.Fail(a.statuses.FromStatus(resp.Status, bodyMessage(resp.Body)), resp.Body), nil
	}
	return models.OK("", resp.Body), nil
}

// orderResult maps a NEST order envelope: stat "Ok" carries the order
// number, "Not_Ok" carries emsg.
func (a *AliceBlue) orderResult(resp *Response) models.NormalizedResult {
	if !resp.OK() {
		return models.Fail(a.statuses.FromStatus(resp.Status, bodyMessage(resp.Body)), resp.Body)
	}
	env, ok := decodeAliceEnvelope(resp.Body)
	if !ok {
		return models.Fail(errors.New(errors.KindUnknown, "unrecognized AliceBlue response"), resp.Body)
	}
	if !strings.EqualFold(env.Stat, "Ok") {
		kind := errors.KindBrokerRejected
		if strings.Contains(strings.ToLower(env.Emsg), "session") {
			kind = errors.KindAuthenticationFailed
		}
		return models.Fail(errors.New(kind, env.Emsg), resp.Body)
	}
	id := env.OrderNo
	if id == "" {
		id = env.NestOrderNo
	}
	return models.OK(id, resp.Body)
}

// decodeAliceEnvelope accepts both the bare object and the single-element
// array NEST uses for batch endpoints.
func decodeAliceEnvelope(raw []byte) (aliceBlueEnvelope, bool) {
	var env aliceBlueEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Stat != "" {
		return env, true
	}
	var batch []aliceBlueEnvelope
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch) > 0 {
		return batch[0], true
	}
	return env, false
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return "0"
	}
	return d.String()
}

// bodyMessage pulls a human-readable message out of an arbitrary error body.
func bodyMessage(raw []byte) string {
	var probe struct {
		Message string `json:"message"`
		Emsg    string `json:"emsg"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		switch {
		case probe.Message != "":
			return probe.Message
		case probe.Emsg != "":
			return probe.Emsg
		case probe.Error != "":
			return probe.Error
		}
	}
	return ""
}

var (
	_ OrderPlacer      = (*AliceBlue)(nil)
	_ OrderModifier    = (*AliceBlue)(nil)
	_ OrderCanceler    = (*AliceBlue)(nil)
	_ OrderBookReader  = (*AliceBlue)(nil)
	_ PositionReader   = (*AliceBlue)(nil)
	_ HoldingsReader   = (*AliceBlue)(nil)
	_ ProfileReader    = (*AliceBlue)(nil)
	_ FundsReader      = (*AliceBlue)(nil)
	_ HistoricalReader = (*AliceBlue)(nil)
)
