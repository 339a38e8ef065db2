package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderBookEntry is one normalized order-book row. Live adapters pass the
// broker's raw book through untouched; this shape is produced where the
// gateway itself is the book keeper.
type OrderBookEntry struct {
	OrderID           string           `json:"orderId"`
	Symbol            string           `json:"symbol"`
	Exchange          Exchange         `json:"exchange"`
	Side              OrderSide        `json:"side"`
	Type              OrderType        `json:"orderType"`
	Product           ProductType      `json:"productType"`
	Quantity          int              `json:"quantity"`
	DisclosedQuantity int              `json:"disclosedQuantity,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	TriggerPrice      *decimal.Decimal `json:"triggerPrice,omitempty"`
	Status            string           `json:"status"`
	Tag               string           `json:"tag,omitempty"`
	PlacedAt          time.Time        `json:"placedAt"`
}

// Position is one normalized open position.
type Position struct {
	Symbol       string           `json:"symbol"`
	Exchange     Exchange         `json:"exchange"`
	Product      ProductType      `json:"productType"`
	Quantity     int              `json:"quantity"`
	AveragePrice *decimal.Decimal `json:"averagePrice,omitempty"`
}

// Holding is one normalized delivery holding.
type Holding struct {
	Symbol       string           `json:"symbol"`
	Exchange     Exchange         `json:"exchange"`
	Quantity     int              `json:"quantity"`
	AveragePrice *decimal.Decimal `json:"averagePrice,omitempty"`
}
