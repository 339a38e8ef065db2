// Package models provides the broker-agnostic domain models shared by the
// routing core and the broker adapters.
package models

import "time"

// BrokerID identifies a supported broker.
type BrokerID string

const (
	BrokerAliceBlue BrokerID = "ALICEBLUE"
	BrokerAngel     BrokerID = "ANGEL"
	BrokerFyers     BrokerID = "FYERS"
	BrokerUpstox    BrokerID = "UPSTOX"
)

// Brokers lists every broker identifier the core knows about.
func Brokers() []BrokerID {
	return []BrokerID{BrokerAliceBlue, BrokerAngel, BrokerFyers, BrokerUpstox}
}

// ParseBrokerID maps a string onto a known BrokerID. The second return value
// reports whether the identifier is part of the canonical vocabulary.
func ParseBrokerID(s string) (BrokerID, bool) {
	switch BrokerID(s) {
	case BrokerAliceBlue, BrokerAngel, BrokerFyers, BrokerUpstox:
		return BrokerID(s), true
	}
	return "", false
}

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
	MCX Exchange = "MCX" // Commodity
	CDS Exchange = "CDS" // Currency
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order in the canonical vocabulary.
// Adapters remap these onto each broker's own names (SL, SL-M, STOPLOSS_LIMIT
// and so on).
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// RequiresPrice reports whether orders of this type carry a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresTrigger reports whether orders of this type carry a trigger price.
func (t OrderType) RequiresTrigger() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
	ProductMargin   ProductType = "MARGIN"
	ProductCover    ProductType = "COVER"
	ProductBracket  ProductType = "BRACKET"
	ProductNormal   ProductType = "NORMAL" // overnight F&O
)

// Validity represents order validity.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Tick represents a raw streaming market-data message from a broker feed.
// Feeds are relayed without decoding; the payload stays in the broker's
// native encoding.
type Tick struct {
	Broker     BrokerID
	Payload    []byte
	ReceivedAt time.Time
}
