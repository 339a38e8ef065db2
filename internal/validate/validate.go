// Package validate enforces the canonical order schema before dispatch.
package validate

import (
	"fmt"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

var (
	validExchanges = map[models.Exchange]bool{
		models.NSE: true, models.BSE: true, models.NFO: true,
		models.BFO: true, models.MCX: true, models.CDS: true,
	}
	validSides = map[models.OrderSide]bool{
		models.OrderSideBuy: true, models.OrderSideSell: true,
	}
	validOrderTypes = map[models.OrderType]bool{
		models.OrderTypeMarket: true, models.OrderTypeLimit: true,
		models.OrderTypeStop: true, models.OrderTypeStopLimit: true,
	}
	validProducts = map[models.ProductType]bool{
		models.ProductIntraday: true, models.ProductDelivery: true,
		models.ProductMargin: true, models.ProductCover: true,
		models.ProductBracket: true, models.ProductNormal: true,
	}
	validValidities = map[models.Validity]bool{
		models.ValidityDay: true, models.ValidityIOC: true,
	}
)

// Order checks the full canonical rule set against an order and returns every
// violation found, in field-declaration order. It is a pure function: the
// order is not mutated and repeated calls yield identical lists. A nil slice
// means the order is valid.
//
// Broker-specific restrictions (unsupported products, tag length, historical
// range limits) are the adapters' concern, not this package's.
func Order(o models.NormalizedOrder) []errors.FieldViolation {
	var vs []errors.FieldViolation
	add := func(field, message string) {
		vs = append(vs, errors.FieldViolation{Field: field, Message: message})
	}

	// Broker membership is the registry's concern; the validator only
	// requires the field, so non-canonical adapters (paper trading) route
	// like any other broker.
	if o.Broker == "" {
		add("brokerId", "brokerId is required")
	}
	if o.Symbol == "" {
		add("symbol", "symbol is required")
	}
	if !validExchanges[o.Exchange] {
		add("exchange", fmt.Sprintf("invalid exchange %q", o.Exchange))
	}
	if !validSides[o.Side] {
		add("side", fmt.Sprintf("invalid side %q", o.Side))
	}
	if !validOrderTypes[o.Type] {
		add("orderType", fmt.Sprintf("invalid order type %q", o.Type))
	}
	if !validProducts[o.Product] {
		add("productType", fmt.Sprintf("invalid product type %q", o.Product))
	}
	if o.Quantity <= 0 {
		add("quantity", "quantity must be a positive integer")
	}

	// Price rules are governed solely by the order type: LIMIT and
	// STOP_LIMIT need a positive price, the rest ignore the field
	// entirely, so a stray price on a MARKET order never blocks it.
	if validOrderTypes[o.Type] {
		if o.Type.RequiresPrice() {
			if o.Price == nil {
				add("price", fmt.Sprintf("price is required for %s orders", o.Type))
			} else if o.Price.Sign() <= 0 {
				add("price", "price must be positive")
			}
		}
		if o.Type.RequiresTrigger() {
			if o.TriggerPrice == nil {
				add("triggerPrice", fmt.Sprintf("triggerPrice is required for %s orders", o.Type))
			} else if o.TriggerPrice.Sign() <= 0 {
				add("triggerPrice", "triggerPrice must be positive")
			}
		}
	}

	if o.DisclosedQuantity < 0 {
		add("disclosedQuantity", "disclosedQuantity must not be negative")
	} else if o.Quantity > 0 && o.DisclosedQuantity > o.Quantity {
		add("disclosedQuantity", "disclosedQuantity must not exceed quantity")
	}
	if !validValidities[o.Validity] {
		add("validity", fmt.Sprintf("invalid validity %q", o.Validity))
	}

	return vs
}
