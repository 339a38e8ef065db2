package credpool

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"broker-gateway/internal/models"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client-1",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	p := New(10, time.Hour)
	cred := models.Credential{Broker: models.BrokerFyers, Token: "opaque-token"}
	p.Put("fyers/main", cred)

	got, ok := p.Get("fyers/main")
	if !ok || got.Token != "opaque-token" {
		t.Fatalf("got = %+v, ok = %v", got, ok)
	}
}

func TestExpiredJWTNotReturned(t *testing.T) {
	p := New(10, time.Hour)
	cred := models.Credential{Broker: models.BrokerAngel, Token: signedToken(t, time.Now().Add(-time.Minute))}
	p.Put("angel/main", cred)

	if _, ok := p.Get("angel/main"); ok {
		t.Fatal("expired credential returned")
	}
	if p.Len() != 0 {
		t.Errorf("expired entry not removed, len = %d", p.Len())
	}
}

func TestLiveJWTHonorsExpClaim(t *testing.T) {
	p := New(10, time.Nanosecond)
	// The default TTL is effectively zero, so only the exp claim can keep
	// this entry alive.
	cred := models.Credential{Broker: models.BrokerAngel, Token: signedToken(t, time.Now().Add(time.Hour))}
	p.Put("angel/main", cred)

	if _, ok := p.Get("angel/main"); !ok {
		t.Fatal("live credential evicted")
	}
}

func TestOpaqueTokenUsesDefaultTTL(t *testing.T) {
	p := New(10, time.Hour)
	p.now = func() time.Time { return time.Unix(1000, 0) }
	p.Put("upstox/main", models.Credential{Broker: models.BrokerUpstox, Token: "opaque"})

	p.now = func() time.Time { return time.Unix(1000, 0).Add(2 * time.Hour) }
	if _, ok := p.Get("upstox/main"); ok {
		t.Fatal("opaque token outlived the default TTL")
	}
}

func TestBoundedEvictsSoonestExpiring(t *testing.T) {
	p := New(2, time.Hour)
	p.Put("a", models.Credential{Token: signedToken(t, time.Now().Add(time.Minute))})
	p.Put("b", models.Credential{Token: signedToken(t, time.Now().Add(time.Hour))})
	p.Put("c", models.Credential{Token: signedToken(t, time.Now().Add(30*time.Minute))})

	if p.Len() != 2 {
		t.Fatalf("len = %d", p.Len())
	}
	if _, ok := p.Get("a"); ok {
		t.Error("soonest-expiring entry survived eviction")
	}
	if _, ok := p.Get("b"); !ok {
		t.Error("longest-lived entry evicted")
	}
	if _, ok := p.Get("c"); !ok {
		t.Error("new entry missing")
	}
}

func TestPutSameKeyReplaces(t *testing.T) {
	p := New(1, time.Hour)
	p.Put("k", models.Credential{Token: "one"})
	p.Put("k", models.Credential{Token: "two"})
	got, ok := p.Get("k")
	if !ok || got.Token != "two" {
		t.Fatalf("got = %+v", got)
	}
	if p.Len() != 1 {
		t.Errorf("len = %d", p.Len())
	}
}
