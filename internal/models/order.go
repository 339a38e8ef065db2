package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedOrder is the broker-agnostic order intent consumed by the routing
// core. It is constructed per request, validated once, dispatched to exactly
// one adapter and then discarded; the broker remains the system of record.
type NormalizedOrder struct {
	Broker            BrokerID
	Symbol            string // broker-specific instrument identifier, opaque to the core
	Exchange          Exchange
	Side              OrderSide
	Type              OrderType
	Product           ProductType
	Quantity          int
	Price             *decimal.Decimal // required iff Type is LIMIT or STOP_LIMIT
	TriggerPrice      *decimal.Decimal // required iff Type is STOP or STOP_LIMIT
	DisclosedQuantity int
	Validity          Validity
	Tag               string // broker-specific annotation, adapter-defined max length
}

// Credential carries the opaque bearer token for one broker session. The core
// never inspects the token; it only hands it to the adapter bound to this
// request.
type Credential struct {
	Broker BrokerID
	Token  string
}

// HistoricalRequest describes a candle query window. Resolution vocabulary
// and maximum range per resolution are adapter-defined.
type HistoricalRequest struct {
	InstrumentKey string
	Resolution    string
	From          time.Time
	To            time.Time
	Exchange      Exchange
}

// Days returns the window length in whole days, rounded up.
func (r HistoricalRequest) Days() int {
	d := r.To.Sub(r.From)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
