package broker

import (
	"regexp"
	"strings"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// Table is a declarative rename/remap table from the canonical vocabulary
// into one broker's wire vocabulary. A missing entry means the broker does
// not support that value; the adapter rejects the order before any network
// call is made.
type Table struct {
	Exchanges  map[models.Exchange]string
	Sides      map[models.OrderSide]string
	OrderTypes map[models.OrderType]string
	Products   map[models.ProductType]string
	Validities map[models.Validity]string
}

// Mapped holds the broker-vocabulary values for one order.
type Mapped struct {
	Exchange  string
	Side      string
	OrderType string
	Product   string
	Validity  string
}

// MapOrder remaps the order's enum fields. The first unsupported value stops
// the mapping; canonical-schema violations were already caught by the
// validator, so anything failing here is a broker-specific restriction.
func (t Table) MapOrder(o models.NormalizedOrder) (Mapped, *errors.NormalizedError) {
	var m Mapped
	var ok bool
	if m.Exchange, ok = t.Exchanges[o.Exchange]; !ok {
		return m, errors.Newf(errors.KindBrokerRejected, "exchange %s not supported by %s", o.Exchange, o.Broker)
	}
	if m.Side, ok = t.Sides[o.Side]; !ok {
		return m, errors.Newf(errors.KindBrokerRejected, "side %s not supported by %s", o.Side, o.Broker)
	}
	if m.OrderType, ok = t.OrderTypes[o.Type]; !ok {
		return m, errors.Newf(errors.KindBrokerRejected, "order type %s not supported by %s", o.Type, o.Broker)
	}
	if m.Product, ok = t.Products[o.Product]; !ok {
		return m, errors.Newf(errors.KindBrokerRejected, "product %s not supported by %s", o.Product, o.Broker)
	}
	if m.Validity, ok = t.Validities[o.Validity]; !ok {
		return m, errors.Newf(errors.KindBrokerRejected, "validity %s not supported by %s", o.Validity, o.Broker)
	}
	return m, nil
}

// canonicalSides is shared by every table: all four brokers trade both ways.
func canonicalSides() map[models.OrderSide]string {
	return map[models.OrderSide]string{
		models.OrderSideBuy:  "BUY",
		models.OrderSideSell: "SELL",
	}
}

func dayIOC() map[models.Validity]string {
	return map[models.Validity]string{
		models.ValidityDay: "DAY",
		models.ValidityIOC: "IOC",
	}
}

// splitSymbol decomposes an opaque instrument identifier of the form
// "token:tradingsymbol" for the brokers that address instruments by both a
// numeric token and a display symbol. An identifier without a separator is
// used for both halves.
func splitSymbol(s string) (token, name string) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, s
}

var numericOrderID = regexp.MustCompile(`^[0-9]+$`)

// checkOrderID validates a broker-assigned order identifier against the
// adapter's known format. The format check is the only inspection performed.
func checkOrderID(broker models.BrokerID, id string, pattern *regexp.Regexp) *errors.NormalizedError {
	if id == "" {
		return errors.Validation([]errors.FieldViolation{{Field: "orderId", Message: "orderId is required"}})
	}
	if pattern != nil && !pattern.MatchString(id) {
		return errors.Validation([]errors.FieldViolation{{
			Field:   "orderId",
			Message: "orderId does not match the format " + string(broker) + " assigns",
		}})
	}
	return nil
}

// checkHistoricalRange enforces the adapter's resolution vocabulary and
// maximum window per resolution. A limit of zero days means the broker
// publishes no cap for that resolution.
func checkHistoricalRange(limits map[string]int, req models.HistoricalRequest) *errors.NormalizedError {
	var vs []errors.FieldViolation
	maxDays, ok := limits[req.Resolution]
	if !ok {
		vs = append(vs, errors.FieldViolation{Field: "resolution", Message: "unsupported resolution " + req.Resolution})
	}
	if req.InstrumentKey == "" {
		vs = append(vs, errors.FieldViolation{Field: "instrumentKey", Message: "instrumentKey is required"})
	}
	if !req.To.After(req.From) {
		vs = append(vs, errors.FieldViolation{Field: "range", Message: "to must be after from"})
	} else if ok && maxDays > 0 && req.Days() > maxDays {
		vs = append(vs, errors.FieldViolation{Field: "range", Message: "window exceeds broker maximum for this resolution"})
	}
	if len(vs) > 0 {
		return errors.Validation(vs)
	}
	return nil
}

// checkTag enforces the adapter-defined annotation length limit.
func checkTag(tag string, maxLen int) *errors.NormalizedError {
	if maxLen > 0 && len(tag) > maxLen {
		return errors.Validation([]errors.FieldViolation{{Field: "tag", Message: "tag exceeds broker maximum length"}})
	}
	return nil
}
