package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindRateLimited:    true,
		KindTransportError: true,
		KindTimeout:        true,
	}
	all := []ErrorKind{
		KindValidationFailed, KindUnknownBroker, KindUnsupportedOperation,
		KindAuthenticationFailed, KindRateLimited, KindBrokerRejected,
		KindTransportError, KindTimeout, KindUnknown,
	}
	for _, kind := range all {
		if got := kind.Retryable(); got != retryable[kind] {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, retryable[kind])
		}
	}
}

func TestStatusTableMapping(t *testing.T) {
	table := DefaultStatusTable()
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimited},
		{401, KindAuthenticationFailed},
		{403, KindAuthenticationFailed},
		{408, KindTimeout},
		{504, KindTimeout},
		{500, KindTransportError},
		{502, KindTransportError},
		{503, KindTransportError},
		{400, KindBrokerRejected},
		{422, KindBrokerRejected},
	}
	for _, tc := range cases {
		if got := table.Kind(tc.status); got != tc.want {
			t.Errorf("Kind(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestFromStatusCarriesCode(t *testing.T) {
	err := DefaultStatusTable().FromStatus(429, "too many requests")
	if err.Kind != KindRateLimited || !err.Retryable {
		t.Fatalf("unexpected error: %+v", err)
	}
	if err.Message != "too many requests" {
		t.Fatalf("message = %q", err.Message)
	}
}

func TestFromTransportTimeout(t *testing.T) {
	err := FromTransport(fmt.Errorf("request: %w", context.DeadlineExceeded))
	if err.Kind != KindTimeout {
		t.Fatalf("kind = %s, want %s", err.Kind, KindTimeout)
	}
	if !err.Retryable {
		t.Fatal("timeout must be retryable")
	}
}

func TestFromTransportConnectionError(t *testing.T) {
	err := FromTransport(fmt.Errorf("dial tcp: connection refused"))
	if err.Kind != KindTransportError {
		t.Fatalf("kind = %s, want %s", err.Kind, KindTransportError)
	}
}

func TestNormalizePassthrough(t *testing.T) {
	orig := New(KindBrokerRejected, "margin shortfall").WithCode("AB1004")
	got := Normalize(fmt.Errorf("wrapped: %w", orig))
	if got != orig {
		t.Fatalf("Normalize did not unwrap to the original error: %+v", got)
	}
}

func TestValidationError(t *testing.T) {
	err := Validation([]FieldViolation{
		{Field: "quantity", Message: "must be positive"},
		{Field: "price", Message: "required for LIMIT orders"},
	})
	if err.Kind != KindValidationFailed || err.Retryable {
		t.Fatalf("unexpected error: %+v", err)
	}
	if len(err.Violations) != 2 || err.Violations[0].Field != "quantity" {
		t.Fatalf("violations = %+v", err.Violations)
	}
}
