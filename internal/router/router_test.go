package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// stubAdapter implements only order placement and the order book read; every
// call is counted so tests can assert an operation never reached it.
type stubAdapter struct {
	id    models.BrokerID
	cred  models.Credential
	calls *int
	mu    *sync.Mutex
}

func (s *stubAdapter) Broker() models.BrokerID { return s.id }

func (s *stubAdapter) PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error) {
	s.mu.Lock()
	(*s.calls)++
	s.mu.Unlock()
	return models.OK("order-for-"+s.cred.Token, nil), nil
}

func (s *stubAdapter) GetOrderBook(ctx context.Context) (models.NormalizedResult, error) {
	s.mu.Lock()
	(*s.calls)++
	s.mu.Unlock()
	return models.OK("", []byte(`[]`)), nil
}

var (
	_ broker.OrderPlacer     = (*stubAdapter)(nil)
	_ broker.OrderBookReader = (*stubAdapter)(nil)
)

func newStubRouter(t *testing.T) (*Router, *int) {
	t.Helper()
	var calls int
	var mu sync.Mutex
	reg := broker.NewRegistry().
		Register(models.BrokerFyers, func(cred models.Credential) broker.Adapter {
			return &stubAdapter{id: models.BrokerFyers, cred: cred, calls: &calls, mu: &mu}
		}).
		Seal()
	return New(reg, nil, zerolog.Nop()), &calls
}

func validOrder(id models.BrokerID) models.NormalizedOrder {
	price := decimal.RequireFromString("100.5")
	return models.NormalizedOrder{
		Broker:   id,
		Symbol:   "NSE:RELIANCE-EQ",
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeLimit,
		Product:  models.ProductIntraday,
		Quantity: 5,
		Price:    &price,
		Validity: models.ValidityDay,
	}
}

func TestPlaceOrderValidationStopsBeforeAdapter(t *testing.T) {
	r, calls := newStubRouter(t)
	order := validOrder(models.BrokerFyers)
	order.Quantity = 0
	order.Price = nil

	res := r.PlaceOrder(context.Background(), models.Credential{Token: "t"}, order)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errors.KindValidationFailed {
		t.Errorf("kind = %s", res.Error.Kind)
	}
	if len(res.Error.Violations) != 2 {
		t.Errorf("violations = %v", res.Error.Violations)
	}
	if *calls != 0 {
		t.Errorf("adapter reached %d times", *calls)
	}
}

func TestPlaceOrderUnknownBroker(t *testing.T) {
	r, calls := newStubRouter(t)
	res := r.PlaceOrder(context.Background(), models.Credential{Token: "t"}, validOrder(models.BrokerUpstox))
	if res.Success || res.Error.Kind != errors.KindUnknownBroker {
		t.Fatalf("result = %+v", res)
	}
	if *calls != 0 {
		t.Errorf("adapter reached %d times", *calls)
	}
}

func TestUnsupportedOperationNoAdapterCall(t *testing.T) {
	r, calls := newStubRouter(t)
	res := r.GetHoldings(context.Background(), models.Credential{Token: "t"}, models.BrokerFyers)
	if res.Success || res.Error.Kind != errors.KindUnsupportedOperation {
		t.Fatalf("result = %+v", res)
	}
	if *calls != 0 {
		t.Errorf("adapter reached %d times", *calls)
	}
}

func TestSupportedReadDispatches(t *testing.T) {
	r, calls := newStubRouter(t)
	res := r.GetOrderBook(context.Background(), models.Credential{Token: "t"}, models.BrokerFyers)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if *calls != 1 {
		t.Errorf("adapter reached %d times", *calls)
	}
}

func TestConcurrentRequestsKeepTheirCredentials(t *testing.T) {
	r, _ := newStubRouter(t)
	const n = 50

	var wg sync.WaitGroup
	results := make([]models.NormalizedResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred := models.Credential{Broker: models.BrokerFyers, Token: fmt.Sprintf("token-%d", i)}
			results[i] = r.PlaceOrder(context.Background(), cred, validOrder(models.BrokerFyers))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		want := fmt.Sprintf("order-for-token-%d", i)
		if !res.Success || res.BrokerOrderID != want {
			t.Errorf("request %d saw %q, want %q", i, res.BrokerOrderID, want)
		}
	}
}

func TestModifyOrderBrokerFromRoute(t *testing.T) {
	r, _ := newStubRouter(t)
	order := validOrder("")
	// The route parameter decides the broker even when the body names none.
	res := r.ModifyOrder(context.Background(), models.Credential{Token: "t"}, models.BrokerFyers, "123", order)
	// The stub has no modify capability, so dispatch must reach the
	// capability check rather than fail validation on the empty broker.
	if res.Error == nil || res.Error.Kind != errors.KindUnsupportedOperation {
		t.Fatalf("result = %+v", res)
	}
}

func TestStreamUnsupported(t *testing.T) {
	r, _ := newStubRouter(t)
	_, nerr := r.Stream(models.Credential{Token: "t"}, models.BrokerFyers)
	if nerr == nil || nerr.Kind != errors.KindUnsupportedOperation {
		t.Fatalf("error = %+v", nerr)
	}
}
