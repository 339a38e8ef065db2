package models

import (
	"encoding/json"

	"broker-gateway/internal/errors"
)

// NormalizedResult is the canonical envelope every routed operation resolves
// to, success or failure. Raw carries the broker's own response body untouched
// so callers that understand a specific broker can still reach it.
type NormalizedResult struct {
	Success       bool                    `json:"success"`
	BrokerOrderID string                  `json:"brokerOrderId,omitempty"`
	Raw           json.RawMessage         `json:"raw,omitempty"`
	Error         *errors.NormalizedError `json:"error,omitempty"`
}

// OK wraps a successful broker response.
func OK(brokerOrderID string, raw json.RawMessage) NormalizedResult {
	return NormalizedResult{Success: true, BrokerOrderID: brokerOrderID, Raw: raw}
}

// Fail wraps a normalized error. Raw may be nil when the failure happened
// before any broker call.
func Fail(err *errors.NormalizedError, raw json.RawMessage) NormalizedResult {
	return NormalizedResult{Success: false, Error: err, Raw: raw}
}
