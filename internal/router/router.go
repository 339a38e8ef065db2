// Package router dispatches normalized operations to broker adapters.
package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/errors"
	"broker-gateway/internal/logging"
	"broker-gateway/internal/metrics"
	"broker-gateway/internal/models"
	"broker-gateway/internal/validate"
)

// Router owns the dispatch pipeline: validate, resolve the adapter for the
// request's credential, check the capability, call the broker. It performs no
// retries; retry policy belongs to callers and only for idempotent reads.
type Router struct {
	registry *broker.Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a router over a sealed registry. metrics may be nil.
func New(registry *broker.Registry, m *metrics.Metrics, log zerolog.Logger) *Router {
	return &Router{registry: registry, metrics: m, log: log}
}

// Brokers returns the broker identifiers the router can dispatch to.
func (r *Router) Brokers() []models.BrokerID {
	return r.registry.Registered()
}

// PlaceOrder routes an order to its broker. Unknown brokers fail before
// validation, validation failures before the network.
func (r *Router) PlaceOrder(ctx context.Context, cred models.Credential, order models.NormalizedOrder) models.NormalizedResult {
	start := time.Now()
	adapter, nerr := r.registry.Resolve(order.Broker, cred)
	if nerr != nil {
		return r.finish(order.Broker, "placeOrder", start, models.Fail(nerr, nil))
	}
	if vs := validate.Order(order); len(vs) > 0 {
		return r.finish(order.Broker, "placeOrder", start, models.Fail(errors.Validation(vs), nil))
	}
	placer, ok := adapter.(broker.OrderPlacer)
	if !ok {
		return r.finish(order.Broker, "placeOrder", start, unsupported(adapter, "placeOrder"))
	}
	res, err := placer.PlaceOrder(ctx, order)
	if err != nil {
		res = models.Fail(errors.Normalize(err), nil)
	}
	return r.finish(order.Broker, "placeOrder", start, res)
}

// ModifyOrder validates the replacement order and routes the amendment. The
// broker identifier in the order is overridden by id so one request cannot
// name two brokers.
func (r *Router) ModifyOrder(ctx context.Context, cred models.Credential, id models.BrokerID, orderID string, order models.NormalizedOrder) models.NormalizedResult {
	start := time.Now()
	order.Broker = id
	adapter, nerr := r.registry.Resolve(id, cred)
	if nerr != nil {
		return r.finish(id, "modifyOrder", start, models.Fail(nerr, nil))
	}
	if vs := validate.Order(order); len(vs) > 0 {
		return r.finish(id, "modifyOrder", start, models.Fail(errors.Validation(vs), nil))
	}
	mod, ok := adapter.(broker.OrderModifier)
	if !ok {
		return r.finish(id, "modifyOrder", start, unsupported(adapter, "modifyOrder"))
	}
	res, err := mod.ModifyOrder(ctx, orderID, order)
	if err != nil {
		res = models.Fail(errors.Normalize(err), nil)
	}
	return r.finish(id, "modifyOrder", start, res)
}

// CancelOrder routes a cancellation. Order id format checks are the
// adapter's concern.
func (r *Router) CancelOrder(ctx context.Context, cred models.Credential, id models.BrokerID, orderID string) models.NormalizedResult {
	start := time.Now()
	adapter, nerr := r.registry.Resolve(id, cred)
	if nerr != nil {
		return r.finish(id, "cancelOrder", start, models.Fail(nerr, nil))
	}
	canceler, ok := adapter.(broker.OrderCanceler)
	if !ok {
		return r.finish(id, "cancelOrder", start, unsupported(adapter, "cancelOrder"))
	}
	res, err := canceler.CancelOrder(ctx, orderID)
	if err != nil {
		res = models.Fail(errors.Normalize(err), nil)
	}
	return r.finish(id, "cancelOrder", start, res)
}

// GetOrderBook routes an order book read.
func (r *Router) GetOrderBook(ctx context.Context, cred models.Credential, id models.BrokerID) models.NormalizedResult {
	return r.readOp(ctx, cred, id, "getOrderBook", func(a broker.Adapter) (models.NormalizedResult, error, bool) {
		reader, ok := a.(broker.OrderBookReader)
		if !ok {
			return models.NormalizedResult{}, nil, false
		}
		res, err := reader.GetOrderBook(ctx)
		return res, err, true
	})
}

// GetPositions routes a positions read.
func (r *Router) GetPositions(ctx context.Context, cred models.Credential, id models.BrokerID) models.NormalizedResult {
	return r.readOp(ctx, cred, id, "getPositions", func(a broker.Adapter) (models.NormalizedResult, error, bool) {
		reader, ok := a.(broker.PositionReader)
		if !ok {
			return models.NormalizedResult{}, nil, false
		}
		res, err := reader.GetPositions(ctx)
		return res, err, true
	})
}

// GetHoldings routes a holdings read.
func (r *Router) GetHoldings(ctx context.Context, cred models.Credential, id models.BrokerID) models.NormalizedResult {
	return r.readOp(ctx, cred, id, "getHoldings", func(a broker.Adapter) (models.NormalizedResult, error, bool) {
		reader, ok := a.(broker.HoldingsReader)
		if !ok {
			return models.NormalizedResult{}, nil, false
		}
		res, err := reader.GetHoldings(ctx)
		return res, err, true
	})
}

// GetProfile routes a profile read.
func (r *Router) GetProfile(ctx context.Context, cred models.Credential, id models.BrokerID) models.NormalizedResult {
	return r.readOp(ctx, cred, id, "getProfile", func(a broker.Adapter) (models.NormalizedResult, error, bool) {
		reader, ok := a.(broker.ProfileReader)
		if !ok {
			return models.NormalizedResult{}, nil, false
		}
		res, err := reader.GetProfile(ctx)
		return res, err, true
	})
}

// GetFunds routes a funds read.
func (r *Router) GetFunds(ctx context.Context, cred models.Credential, id models.BrokerID) models.NormalizedResult {
	return r.readOp(ctx, cred, id, "getFunds", func(a broker.Adapter) (models.NormalizedResult, error, bool) {
		reader, ok := a.(broker.FundsReader)
		if !ok {
			return models.NormalizedResult{}, nil, false
		}
		res, err := reader.GetFunds(ctx)
		return res, err, true
	})
}

// GetHistoricalData routes a candle read. Range limits are adapter
// capability metadata and enforced there.
func (r *Router) GetHistoricalData(ctx context.Context, cred models.Credential, id models.BrokerID, req models.HistoricalRequest) models.NormalizedResult {
	return r.readOp(ctx, cred, id, "getHistoricalData", func(a broker.Adapter) (models.NormalizedResult, error, bool) {
		reader, ok := a.(broker.HistoricalReader)
		if !ok {
			return models.NormalizedResult{}, nil, false
		}
		res, err := reader.GetHistoricalData(ctx, req)
		return res, err, true
	})
}

// Stream resolves the streaming capability for a broker. The session layer
// drives the connection; the router only answers whether and how.
func (r *Router) Stream(cred models.Credential, id models.BrokerID) (broker.Streamer, *errors.NormalizedError) {
	adapter, nerr := r.registry.Resolve(id, cred)
	if nerr != nil {
		return nil, nerr
	}
	s, ok := adapter.(broker.Streamer)
	if !ok {
		return nil, errors.Unsupported(string(id), "stream")
	}
	return s, nil
}

func (r *Router) readOp(ctx context.Context, cred models.Credential, id models.BrokerID, operation string, call func(broker.Adapter) (models.NormalizedResult, error, bool)) models.NormalizedResult {
	start := time.Now()
	adapter, nerr := r.registry.Resolve(id, cred)
	if nerr != nil {
		return r.finish(id, operation, start, models.Fail(nerr, nil))
	}
	res, err, supported := call(adapter)
	if !supported {
		return r.finish(id, operation, start, unsupported(adapter, operation))
	}
	if err != nil {
		res = models.Fail(errors.Normalize(err), nil)
	}
	return r.finish(id, operation, start, res)
}

func unsupported(a broker.Adapter, operation string) models.NormalizedResult {
	return models.Fail(errors.Unsupported(string(a.Broker()), operation), nil)
}

func (r *Router) finish(id models.BrokerID, operation string, start time.Time, res models.NormalizedResult) models.NormalizedResult {
	elapsed := time.Since(start)
	log := logging.WithOperation(logging.WithBroker(r.log, string(id)), operation)
	ev := log.Info()
	kind := ""
	if !res.Success {
		ev = log.Warn()
		kind = string(res.Error.Kind)
		ev = ev.Str("kind", kind)
	}
	ev.Bool("success", res.Success).
		Dur("elapsed", elapsed).
		Msg("operation routed")
	if r.metrics != nil {
		r.metrics.Observe(string(id), operation, elapsed.Seconds(), res.Success, kind)
	}
	return res
}
