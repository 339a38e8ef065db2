// Package errors provides the closed error taxonomy used for caller-side
// branching, independent of any broker's own error codes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind is an abstract failure category. Callers branch on the kind, never
// on message text.
type ErrorKind string

const (
	KindValidationFailed     ErrorKind = "VALIDATION_FAILED"
	KindUnknownBroker        ErrorKind = "UNKNOWN_BROKER"
	KindUnsupportedOperation ErrorKind = "UNSUPPORTED_OPERATION"
	KindAuthenticationFailed ErrorKind = "AUTHENTICATION_FAILED"
	KindRateLimited          ErrorKind = "RATE_LIMITED"
	KindBrokerRejected       ErrorKind = "BROKER_REJECTED"
	KindTransportError       ErrorKind = "TRANSPORT_ERROR"
	KindTimeout              ErrorKind = "TIMEOUT"
	KindUnknown              ErrorKind = "UNKNOWN"
)

// Retryable reports whether the caller may retry an operation that failed
// with this kind. The core itself never retries, and write operations must
// never be retried regardless of kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransportError, KindTimeout:
		return true
	}
	return false
}

// FieldViolation describes one validation rule the order broke.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v FieldViolation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// NormalizedError is the canonical error shape every broker failure is mapped
// into.
type NormalizedError struct {
	Kind       ErrorKind        `json:"kind"`
	Message    string           `json:"message"`
	BrokerCode string           `json:"brokerCode,omitempty"`
	Retryable  bool             `json:"retryable"`
	Violations []FieldViolation `json:"violations,omitempty"`
}

func (e *NormalizedError) Error() string {
	if e.BrokerCode != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.BrokerCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates a NormalizedError of the given kind. Retryable follows the
// kind's default classification.
func New(kind ErrorKind, message string) *NormalizedError {
	return &NormalizedError{Kind: kind, Message: message, Retryable: kind.Retryable()}
}

// Newf creates a NormalizedError with a formatted message.
func Newf(kind ErrorKind, format string, args ...any) *NormalizedError {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithCode attaches the broker's own error code.
func (e *NormalizedError) WithCode(code string) *NormalizedError {
	e.BrokerCode = code
	return e
}

// Validation creates a ValidationFailed error carrying the full violation
// list in first-detected order.
func Validation(violations []FieldViolation) *NormalizedError {
	e := New(KindValidationFailed, "order failed validation")
	e.Violations = violations
	return e
}

// UnknownBroker creates the error returned when no adapter is registered for
// a broker identifier.
func UnknownBroker(id string) *NormalizedError {
	return Newf(KindUnknownBroker, "no adapter registered for broker %q", id)
}

// Unsupported creates the error returned when a broker's adapter does not
// implement the requested capability.
func Unsupported(broker, operation string) *NormalizedError {
	return Newf(KindUnsupportedOperation, "%s does not support %s", broker, operation)
}

// StatusTable maps HTTP status codes onto error kinds. Each adapter owns its
// table; DefaultStatusTable covers the conventions the four brokers share.
type StatusTable map[int]ErrorKind

// DefaultStatusTable returns the shared status-to-kind mapping. Adapters copy
// and adjust it rather than mutating the shared value.
func DefaultStatusTable() StatusTable {
	return StatusTable{
		400: KindBrokerRejected,
		401: KindAuthenticationFailed,
		403: KindAuthenticationFailed,
		404: KindBrokerRejected,
		408: KindTimeout,
		422: KindBrokerRejected,
		429: KindRateLimited,
		500: KindTransportError,
		502: KindTransportError,
		503: KindTransportError,
		504: KindTimeout,
	}
}

// Kind looks up the kind for a status code, defaulting to Unknown.
func (t StatusTable) Kind(status int) ErrorKind {
	if k, ok := t[status]; ok {
		return k
	}
	return KindUnknown
}

// FromStatus builds a NormalizedError from an HTTP status using the table.
func (t StatusTable) FromStatus(status int, message string) *NormalizedError {
	if message == "" {
		message = fmt.Sprintf("broker returned status %d", status)
	}
	return New(t.Kind(status), message)
}

// FromTransport classifies a failed outbound call. Deadline expiry surfaces
// as Timeout, everything else on the wire as TransportError.
func FromTransport(err error) *NormalizedError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, "broker call timed out")
	case isTimeout(err):
		return New(KindTimeout, "broker call timed out")
	default:
		return Newf(KindTransportError, "broker unreachable: %v", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// net/http wraps deadline errors with free text in some paths.
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}

// Normalize coerces any error into a NormalizedError without losing an
// already-normalized one.
func Normalize(err error) *NormalizedError {
	if err == nil {
		return nil
	}
	var ne *NormalizedError
	if errors.As(err, &ne) {
		return ne
	}
	return FromTransport(err)
}
