package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// BrokerPaper is the id the paper adapter registers under. It is not part of
// the canonical broker set; the registry only exposes it when paper trading
// is enabled in config.
const BrokerPaper models.BrokerID = "PAPER"

// Paper simulates a broker in memory. Market orders fill immediately, limit
// and stop orders stay OPEN until modified or cancelled. All state is shared
// across instances through the book, so every request sees the same
// simulated account regardless of credential.
type Paper struct {
	book *PaperBook
}

// PaperBook holds the shared simulated state.
type PaperBook struct {
	mu        sync.RWMutex
	orders    map[string]*models.OrderBookEntry
	positions map[string]*models.Position
	counter   int
}

// NewPaperBook creates an empty simulated account.
func NewPaperBook() *PaperBook {
	return &PaperBook{
		orders:    make(map[string]*models.OrderBookEntry),
		positions: make(map[string]*models.Position),
	}
}

// NewPaper creates a paper adapter over the shared book.
func NewPaper(book *PaperBook) *Paper {
	return &Paper{book: book}
}

// Broker implements Adapter.
func (p *Paper) Broker() models.BrokerID { return BrokerPaper }

// PlaceOrder records the order and fills market orders immediately.
func (p *Paper) PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error) {
	b := p.book
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counter++
	o := &models.OrderBookEntry{
		OrderID:           fmt.Sprintf("PAPER-%d-%d", time.Now().Unix(), b.counter),
		Symbol:            order.Symbol,
		Exchange:          order.Exchange,
		Side:              order.Side,
		Type:              order.Type,
		Product:           order.Product,
		Quantity:          order.Quantity,
		Price:             order.Price,
		TriggerPrice:      order.TriggerPrice,
		DisclosedQuantity: order.DisclosedQuantity,
		Status:            "OPEN",
		Tag:               order.Tag,
		PlacedAt:          time.Now(),
	}
	if order.Type == models.OrderTypeMarket {
		o.Status = "COMPLETE"
		b.fill(order)
	}
	b.orders[o.OrderID] = o
	raw, _ := json.Marshal(o)
	return models.OK(o.OrderID, raw), nil
}

// ModifyOrder amends an OPEN simulated order.
func (p *Paper) ModifyOrder(ctx context.Context, orderID string, order models.NormalizedOrder) (models.NormalizedResult, error) {
	b := p.book
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return models.Fail(errors.Newf(errors.KindBrokerRejected, "order not found: %s", orderID), nil), nil
	}
	if o.Status != "OPEN" {
		return models.Fail(errors.Newf(errors.KindBrokerRejected, "cannot modify order with status %s", o.Status), nil), nil
	}
	o.Quantity = order.Quantity
	o.Price = order.Price
	if order.TriggerPrice != nil {
		o.TriggerPrice = order.TriggerPrice
	}
	raw, _ := json.Marshal(o)
	return models.OK(o.OrderID, raw), nil
}

// CancelOrder cancels an OPEN simulated order.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) (models.NormalizedResult, error) {
	b := p.book
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return models.Fail(errors.Newf(errors.KindBrokerRejected, "order not found: %s", orderID), nil), nil
	}
	if o.Status != "OPEN" {
		return models.Fail(errors.Newf(errors.KindBrokerRejected, "cannot cancel order with status %s", o.Status), nil), nil
	}
	o.Status = "CANCELLED"
	raw, _ := json.Marshal(o)
	return models.OK(o.OrderID, raw), nil
}

// GetOrderBook returns every simulated order.
func (p *Paper) GetOrderBook(ctx context.Context) (models.NormalizedResult, error) {
	b := p.book
	b.mu.RLock()
	defer b.mu.RUnlock()

	orders := make([]models.OrderBookEntry, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, *o)
	}
	raw, _ := json.Marshal(orders)
	return models.OK("", raw), nil
}

// GetPositions returns simulated positions from fills.
func (p *Paper) GetPositions(ctx context.Context) (models.NormalizedResult, error) {
	b := p.book
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make([]models.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		positions = append(positions, *pos)
	}
	raw, _ := json.Marshal(positions)
	return models.OK("", raw), nil
}

// GetHoldings reports DELIVERY positions as holdings. Intraday and
// derivative products never settle into the simulated demat account.
func (p *Paper) GetHoldings(ctx context.Context) (models.NormalizedResult, error) {
	b := p.book
	b.mu.RLock()
	defer b.mu.RUnlock()

	holdings := make([]models.Holding, 0)
	for _, pos := range b.positions {
		if pos.Product != models.ProductDelivery || pos.Quantity <= 0 {
			continue
		}
		holdings = append(holdings, models.Holding{
			Symbol:       pos.Symbol,
			Exchange:     pos.Exchange,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
		})
	}
	raw, _ := json.Marshal(holdings)
	return models.OK("", raw), nil
}

// fill applies a completed order to the position book. Closed positions are
// dropped.
func (b *PaperBook) fill(order models.NormalizedOrder) {
	key := fmt.Sprintf("%s:%s:%s", order.Exchange, order.Symbol, order.Product)
	pos, ok := b.positions[key]
	if !ok {
		pos = &models.Position{Symbol: order.Symbol, Exchange: order.Exchange, Product: order.Product}
		b.positions[key] = pos
	}
	pos.AveragePrice = order.Price
	if order.Side == models.OrderSideBuy {
		pos.Quantity += order.Quantity
	} else {
		pos.Quantity -= order.Quantity
	}
	if pos.Quantity == 0 {
		delete(b.positions, key)
	}
}

// Reset clears all simulated state.
func (b *PaperBook) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[string]*models.OrderBookEntry)
	b.positions = make(map[string]*models.Position)
	b.counter = 0
}

var (
	_ OrderPlacer     = (*Paper)(nil)
	_ OrderModifier   = (*Paper)(nil)
	_ OrderCanceler   = (*Paper)(nil)
	_ OrderBookReader = (*Paper)(nil)
	_ PositionReader  = (*Paper)(nil)
	_ HoldingsReader  = (*Paper)(nil)
)
