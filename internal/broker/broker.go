// Package broker provides the broker adapter interfaces, the adapter
// registry, and the concrete adapters for AliceBlue, Angel One, Fyers and
// Upstox.
package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"broker-gateway/internal/models"
)

// Adapter is the minimal contract every broker adapter satisfies. Adapters
// are constructed per request and bound to exactly one credential; they are
// never shared across requests with different tokens.
type Adapter interface {
	Broker() models.BrokerID
}

// Each capability is a separate interface because the four brokers do not
// expose the same operation set uniformly. Callers type-assert the capability
// they need and must treat a failed assertion as an unsupported operation.

// OrderPlacer places a new order.
type OrderPlacer interface {
	Adapter
	PlaceOrder(ctx context.Context, order models.NormalizedOrder) (models.NormalizedResult, error)
}

// OrderModifier modifies an open order identified by the broker-assigned
// order identifier.
type OrderModifier interface {
	Adapter
	ModifyOrder(ctx context.Context, orderID string, order models.NormalizedOrder) (models.NormalizedResult, error)
}

// OrderCanceler cancels an open order.
type OrderCanceler interface {
	Adapter
	CancelOrder(ctx context.Context, orderID string) (models.NormalizedResult, error)
}

// OrderBookReader fetches the day's order book.
type OrderBookReader interface {
	Adapter
	GetOrderBook(ctx context.Context) (models.NormalizedResult, error)
}

// PositionReader fetches open positions.
type PositionReader interface {
	Adapter
	GetPositions(ctx context.Context) (models.NormalizedResult, error)
}

// HoldingsReader fetches delivery holdings.
type HoldingsReader interface {
	Adapter
	GetHoldings(ctx context.Context) (models.NormalizedResult, error)
}

// ProfileReader fetches the account holder's profile.
type ProfileReader interface {
	Adapter
	GetProfile(ctx context.Context) (models.NormalizedResult, error)
}

// FundsReader fetches available funds and margin limits.
type FundsReader interface {
	Adapter
	GetFunds(ctx context.Context) (models.NormalizedResult, error)
}

// HistoricalReader fetches historical candles for a query window. Resolution
// vocabulary and maximum range per resolution are declared by the adapter,
// not by the core.
type HistoricalReader interface {
	Adapter
	GetHistoricalData(ctx context.Context, req models.HistoricalRequest) (models.NormalizedResult, error)
}

// Streamer is implemented by adapters whose broker exposes a market-data
// WebSocket feed. The stream session actor uses these to open and drive the
// connection; the adapter only supplies addressing and frame encoding.
type Streamer interface {
	Adapter
	StreamURL() string
	StreamHeader() http.Header
	SubscribeFrame(symbols []string) ([]byte, error)
	UnsubscribeFrame(symbols []string) ([]byte, error)
}

// Config carries the per-broker wiring an adapter needs. Zero values fall
// back to the broker's published production endpoints and a timeout-bounded
// default client.
type Config struct {
	BaseURL    string
	StreamURL  string
	APIKey     string // Angel One X-PrivateKey; unused by the other brokers
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
