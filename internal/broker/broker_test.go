package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

func testConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, Logger: zerolog.Nop()}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func limitOrder(broker models.BrokerID) models.NormalizedOrder {
	return models.NormalizedOrder{
		Broker:   broker,
		Symbol:   "2885:RELIANCE-EQ",
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeLimit,
		Product:  models.ProductIntraday,
		Quantity: 10,
		Price:    dec("2500.5"),
		Validity: models.ValidityDay,
	}
}

func TestAliceBluePlaceOrderWire(t *testing.T) {
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/placeOrder/executePlaceOrder" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Write([]byte(`[{"stat":"Ok","NOrdNo":"240830000001"}]`))
	}))
	defer srv.Close()

	a := NewAliceBlue(models.Credential{Broker: models.BrokerAliceBlue, Token: "tok-1"}, testConfig(srv.URL))
	res, err := a.PlaceOrder(context.Background(), limitOrder(models.BrokerAliceBlue))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !res.Success || res.BrokerOrderID != "240830000001" {
		t.Fatalf("result = %+v", res)
	}
	if len(got) != 1 {
		t.Fatalf("expected single-order batch, got %d", len(got))
	}
	p := got[0]
	if p["prctyp"] != "L" || p["pCode"] != "MIS" || p["transtype"] != "BUY" || p["exch"] != "NSE" {
		t.Errorf("mapped payload = %v", p)
	}
	if p["symbol_id"] != "2885" || p["trading_symbol"] != "RELIANCE-EQ" {
		t.Errorf("symbol split = %v / %v", p["symbol_id"], p["trading_symbol"])
	}
}

func TestAliceBlueSessionExpiredMapsToAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"Not_Ok","emsg":"Session Expired, please login again"}`))
	}))
	defer srv.Close()

	a := NewAliceBlue(models.Credential{Token: "stale"}, testConfig(srv.URL))
	res, _ := a.CancelOrder(context.Background(), "240830000001")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errors.KindAuthenticationFailed {
		t.Errorf("kind = %s", res.Error.Kind)
	}
	if res.Error.Retryable {
		t.Error("auth failures must not be retryable")
	}
}

func TestAliceBlueUnsupportedProductNoNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	a := NewAliceBlue(models.Credential{Token: "tok"}, testConfig(srv.URL))
	order := limitOrder(models.BrokerAliceBlue)
	order.Product = models.ProductMargin
	res, _ := a.PlaceOrder(context.Background(), order)
	if res.Success || res.Error.Kind != errors.KindBrokerRejected {
		t.Fatalf("result = %+v", res)
	}
	if calls != 0 {
		t.Errorf("expected no broker call, got %d", calls)
	}
}

func TestAliceBlueHistoricalWindowTooWide(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	a := NewAliceBlue(models.Credential{Token: "tok"}, testConfig(srv.URL))
	now := time.Now()
	res, _ := a.GetHistoricalData(context.Background(), models.HistoricalRequest{
		InstrumentKey: "2885",
		Resolution:    "1",
		From:          now.AddDate(0, 0, -45),
		To:            now,
		Exchange:      models.NSE,
	})
	if res.Success || res.Error.Kind != errors.KindValidationFailed {
		t.Fatalf("result = %+v", res)
	}
	if calls != 0 {
		t.Errorf("expected no broker call, got %d", calls)
	}
}

func TestAngelPlaceOrderWire(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/secure/angelbroking/order/v1/placeOrder" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.Header.Get("X-PrivateKey"); key != "angel-key" {
			t.Errorf("X-PrivateKey = %q", key)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":true,"message":"SUCCESS","data":{"orderid":"2408300001"}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = "angel-key"
	a := NewAngel(models.Credential{Broker: models.BrokerAngel, Token: "jwt"}, cfg)

	order := limitOrder(models.BrokerAngel)
	order.Type = models.OrderTypeStopLimit
	order.TriggerPrice = dec("2499")
	res, err := a.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !res.Success || res.BrokerOrderID != "2408300001" {
		t.Fatalf("result = %+v", res)
	}
	if got["variety"] != "STOPLOSS" || got["ordertype"] != "STOPLOSS_LIMIT" {
		t.Errorf("stop-limit mapping = %v / %v", got["variety"], got["ordertype"])
	}
	// SmartAPI numeric fields travel as strings.
	if got["quantity"] != "10" || got["price"] != "2500.5" {
		t.Errorf("quantity = %v price = %v", got["quantity"], got["price"])
	}
}

func TestAngelErrorCodeMapsToAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001"}`))
	}))
	defer srv.Close()

	a := NewAngel(models.Credential{Token: "bad"}, testConfig(srv.URL))
	res, _ := a.PlaceOrder(context.Background(), limitOrder(models.BrokerAngel))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errors.KindAuthenticationFailed || res.Error.BrokerCode != "AG8001" {
		t.Errorf("error = %+v", res.Error)
	}
}

func TestFyersNumericEnums(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"s":"ok","code":1101,"message":"Order submitted","id":"24083000042"}`))
	}))
	defer srv.Close()

	f := NewFyers(models.Credential{Token: "app:tok"}, testConfig(srv.URL))
	order := limitOrder(models.BrokerFyers)
	order.Symbol = "NSE:RELIANCE-EQ"
	order.Type = models.OrderTypeMarket
	order.Price = nil
	res, _ := f.PlaceOrder(context.Background(), order)
	if !res.Success || res.BrokerOrderID != "24083000042" {
		t.Fatalf("result = %+v", res)
	}
	if got["type"] != float64(2) || got["side"] != float64(1) {
		t.Errorf("type = %v side = %v", got["type"], got["side"])
	}
	if got["productType"] != "INTRADAY" {
		t.Errorf("productType = %v", got["productType"])
	}
}

func TestFyersErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"s":"error","code":-392,"message":"Price should be in multiples of tick size"}`))
	}))
	defer srv.Close()

	f := NewFyers(models.Credential{Token: "app:tok"}, testConfig(srv.URL))
	res, _ := f.PlaceOrder(context.Background(), limitOrder(models.BrokerFyers))
	if res.Success || res.Error.Kind != errors.KindBrokerRejected {
		t.Fatalf("result = %+v", res)
	}
	if res.Error.BrokerCode != "-392" {
		t.Errorf("code = %q", res.Error.BrokerCode)
	}
}

func TestUpstoxPlaceOrderWire(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Version") != "2.0" {
			t.Errorf("Api-Version = %q", r.Header.Get("Api-Version"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"success","data":{"order_id":"240830010330450"}}`))
	}))
	defer srv.Close()

	u := NewUpstox(models.Credential{Broker: models.BrokerUpstox, Token: "tok"}, testConfig(srv.URL))
	order := limitOrder(models.BrokerUpstox)
	order.Symbol = "NSE_EQ|INE002A01018"
	res, _ := u.PlaceOrder(context.Background(), order)
	if !res.Success || res.BrokerOrderID != "240830010330450" {
		t.Fatalf("result = %+v", res)
	}
	if got["transaction_type"] != "BUY" || got["product"] != "I" {
		t.Errorf("transaction_type = %v product = %v", got["transaction_type"], got["product"])
	}
	if got["instrument_token"] != "NSE_EQ|INE002A01018" {
		t.Errorf("instrument_token = %v", got["instrument_token"])
	}
}

func TestUpstoxRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":"error","errors":[{"errorCode":"UDAPI10005","message":"Too many requests"}]}`))
	}))
	defer srv.Close()

	u := NewUpstox(models.Credential{Token: "tok"}, testConfig(srv.URL))
	res, _ := u.GetPositions(context.Background())
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errors.KindRateLimited {
		t.Errorf("kind = %s", res.Error.Kind)
	}
	if !res.Error.Retryable {
		t.Error("rate limited must be retryable")
	}
	if res.Error.BrokerCode != "UDAPI10005" {
		t.Errorf("code = %q", res.Error.BrokerCode)
	}
}

func TestUpstoxHistoricalPathSegments(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"status":"success","data":{"candles":[]}}`))
	}))
	defer srv.Close()

	u := NewUpstox(models.Credential{Token: "tok"}, testConfig(srv.URL))
	from := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 8, 30, 0, 0, 0, 0, time.UTC)
	res, _ := u.GetHistoricalData(context.Background(), models.HistoricalRequest{
		InstrumentKey: "NSE_EQ|INE002A01018",
		Resolution:    "day",
		From:          from,
		To:            to,
	})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	want := "/v2/historical-candle/NSE_EQ%7CINE002A01018/day/2024-08-30/2024-08-01"
	if gotPath != want {
		t.Errorf("path = %s, want %s", gotPath, want)
	}
}

func TestAccountEndpointPaths(t *testing.T) {
	cases := []struct {
		name        string
		adapter     func(Config) Adapter
		body        string
		profilePath string
		fundsPath   string
	}{
		{
			name: "aliceblue",
			adapter: func(cfg Config) Adapter {
				return NewAliceBlue(models.Credential{Token: "tok"}, cfg)
			},
			body:        `{"stat":"Ok"}`,
			profilePath: "/customer/accountDetails",
			fundsPath:   "/limits/getRmsLimits",
		},
		{
			name: "angel",
			adapter: func(cfg Config) Adapter {
				return NewAngel(models.Credential{Token: "tok"}, cfg)
			},
			body:        `{"status":true,"errorcode":"","data":{}}`,
			profilePath: "/rest/secure/angelbroking/user/v1/getProfile",
			fundsPath:   "/rest/secure/angelbroking/user/v1/getRMS",
		},
		{
			name: "fyers",
			adapter: func(cfg Config) Adapter {
				return NewFyers(models.Credential{Token: "app:tok"}, cfg)
			},
			body:        `{"s":"ok"}`,
			profilePath: "/api/v3/profile",
			fundsPath:   "/api/v3/funds",
		},
		{
			name: "upstox",
			adapter: func(cfg Config) Adapter {
				return NewUpstox(models.Credential{Token: "tok"}, cfg)
			},
			body:        `{"status":"success","data":{}}`,
			profilePath: "/v2/user/profile",
			fundsPath:   "/v2/user/get-funds-and-margin",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var gotPath, gotMethod string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotMethod = r.Method
				w.Write([]byte(c.body))
			}))
			defer srv.Close()

			a := c.adapter(testConfig(srv.URL))
			ctx := context.Background()

			res, _ := a.(ProfileReader).GetProfile(ctx)
			if !res.Success {
				t.Fatalf("profile = %+v", res)
			}
			if gotPath != c.profilePath || gotMethod != http.MethodGet {
				t.Errorf("profile request = %s %s, want GET %s", gotMethod, gotPath, c.profilePath)
			}

			res, _ = a.(FundsReader).GetFunds(ctx)
			if !res.Success {
				t.Fatalf("funds = %+v", res)
			}
			if gotPath != c.fundsPath || gotMethod != http.MethodGet {
				t.Errorf("funds request = %s %s, want GET %s", gotMethod, gotPath, c.fundsPath)
			}
		})
	}
}

func TestTransportTimeoutMapsToTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.HTTPClient = &http.Client{Timeout: 10 * time.Millisecond}
	a := NewAliceBlue(models.Credential{Token: "tok"}, cfg)
	res, err := a.GetOrderBook(context.Background())
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if res.Success || res.Error.Kind != errors.KindTimeout {
		t.Fatalf("result = %+v", res)
	}
	if !res.Error.Retryable {
		t.Error("timeouts must be retryable")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := DefaultRegistry(nil).Seal()
	_, nerr := r.Resolve("ZERODHA", models.Credential{})
	if nerr == nil || nerr.Kind != errors.KindUnknownBroker {
		t.Fatalf("error = %+v", nerr)
	}
}

func TestRegistryResolveBindsCredential(t *testing.T) {
	r := DefaultRegistry(nil).Seal()
	a, nerr := r.Resolve(models.BrokerFyers, models.Credential{Broker: models.BrokerFyers, Token: "t1"})
	if nerr != nil {
		t.Fatalf("resolve: %v", nerr)
	}
	b, _ := r.Resolve(models.BrokerFyers, models.Credential{Broker: models.BrokerFyers, Token: "t2"})
	if a == b {
		t.Fatal("resolve must build a fresh adapter per credential")
	}
	if a.(*Fyers).cred.Token != "t1" || b.(*Fyers).cred.Token != "t2" {
		t.Fatal("credential leaked across adapters")
	}
}

func TestRegistryRegisteredOrder(t *testing.T) {
	book := NewPaperBook()
	r := DefaultRegistry(nil).
		Register(BrokerPaper, func(models.Credential) Adapter { return NewPaper(book) }).
		Seal()
	ids := r.Registered()
	want := []models.BrokerID{models.BrokerAliceBlue, models.BrokerAngel, models.BrokerFyers, models.BrokerUpstox, BrokerPaper}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestPaperOrderLifecycle(t *testing.T) {
	p := NewPaper(NewPaperBook())
	ctx := context.Background()

	market := limitOrder(BrokerPaper)
	market.Type = models.OrderTypeMarket
	market.Price = nil
	res, _ := p.PlaceOrder(ctx, market)
	if !res.Success || res.BrokerOrderID == "" {
		t.Fatalf("market place = %+v", res)
	}
	// Market orders fill immediately, so they cannot be cancelled.
	res, _ = p.CancelOrder(ctx, res.BrokerOrderID)
	if res.Success || res.Error.Kind != errors.KindBrokerRejected {
		t.Fatalf("cancel filled = %+v", res)
	}

	res, _ = p.PlaceOrder(ctx, limitOrder(BrokerPaper))
	limitID := res.BrokerOrderID
	res, _ = p.ModifyOrder(ctx, limitID, limitOrder(BrokerPaper))
	if !res.Success {
		t.Fatalf("modify open = %+v", res)
	}
	res, _ = p.CancelOrder(ctx, limitID)
	if !res.Success {
		t.Fatalf("cancel open = %+v", res)
	}

	res, _ = p.GetPositions(ctx)
	var positions []models.Position
	if err := json.Unmarshal(res.Raw, &positions); err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 10 {
		t.Fatalf("positions = %+v", positions)
	}
}

func TestPaperHoldingsSettleDeliveryFills(t *testing.T) {
	p := NewPaper(NewPaperBook())
	ctx := context.Background()

	intraday := limitOrder(BrokerPaper)
	intraday.Type = models.OrderTypeMarket
	intraday.Price = nil
	if res, _ := p.PlaceOrder(ctx, intraday); !res.Success {
		t.Fatalf("intraday place = %+v", res)
	}

	delivery := limitOrder(BrokerPaper)
	delivery.Type = models.OrderTypeMarket
	delivery.Product = models.ProductDelivery
	if res, _ := p.PlaceOrder(ctx, delivery); !res.Success {
		t.Fatalf("delivery place = %+v", res)
	}

	res, _ := p.GetHoldings(ctx)
	var holdings []models.Holding
	if err := json.Unmarshal(res.Raw, &holdings); err != nil {
		t.Fatalf("holdings: %v", err)
	}
	// Only the delivery fill settles; the intraday position stays out of
	// the demat view.
	if len(holdings) != 1 || holdings[0].Symbol != delivery.Symbol || holdings[0].Quantity != 10 {
		t.Fatalf("holdings = %+v", holdings)
	}
	if holdings[0].AveragePrice == nil || !holdings[0].AveragePrice.Equal(*delivery.Price) {
		t.Fatalf("average price = %v", holdings[0].AveragePrice)
	}
}
