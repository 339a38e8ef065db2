package resilience

import (
	"testing"
	"time"
)

func testBreaker() *Breaker {
	return NewBreaker(Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Millisecond,
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := testBreaker()
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("closed breaker rejected request %d", i)
		}
		b.RecordFailure()
	}
	if b.State() != CircuitOpen {
		t.Fatalf("state = %s", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker admitted a request inside cooldown")
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := testBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker did not probe after cooldown")
	}
	if b.State() != CircuitHalfOpen {
		t.Fatalf("state = %s", b.State())
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != CircuitClosed {
		t.Fatalf("state = %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("state = %s", b.State())
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := testBreaker()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != CircuitClosed {
		t.Fatalf("state = %s", b.State())
	}
}

func TestSetKeysPerBroker(t *testing.T) {
	s := NewSet(DefaultConfig())
	if s.For("FYERS") != s.For("FYERS") {
		t.Fatal("same broker must share a breaker")
	}
	if s.For("FYERS") == s.For("UPSTOX") {
		t.Fatal("different brokers must not share a breaker")
	}
}
