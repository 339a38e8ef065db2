// Package credpool caches broker session credentials between requests.
package credpool

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"broker-gateway/internal/models"
)

// entry is one cached credential with its expiry.
type entry struct {
	cred      models.Credential
	expiresAt time.Time
}

// Pool is a bounded credential cache. Tokens that are JWTs expire at their
// exp claim; everything else falls back to the default TTL. When full, the
// soonest-expiring entry is evicted.
type Pool struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a pool holding at most maxEntries credentials.
func New(maxEntries int, defaultTTL time.Duration) *Pool {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Pool{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Put caches a credential under key, evicting the soonest-expiring entry if
// the pool is full.
func (p *Pool) Put(key string, cred models.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	expiresAt, ok := tokenExpiry(cred.Token)
	if !ok {
		expiresAt = p.now().Add(p.defaultTTL)
	}

	if _, exists := p.entries[key]; !exists && len(p.entries) >= p.maxEntries {
		p.evictSoonest()
	}
	p.entries[key] = entry{cred: cred, expiresAt: expiresAt}
}

// Get returns the cached credential for key if it has not expired. Expired
// entries are removed on access.
func (p *Pool) Get(key string) (models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return models.Credential{}, false
	}
	if !e.expiresAt.After(p.now()) {
		delete(p.entries, key)
		return models.Credential{}, false
	}
	return e.cred, true
}

// Delete removes a cached credential.
func (p *Pool) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// Len returns the number of cached credentials, expired ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) evictSoonest() {
	var victim string
	var soonest time.Time
	for key, e := range p.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = key
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(p.entries, victim)
	}
}

// tokenExpiry peeks at the exp claim of a JWT without verifying its
// signature. The gateway never trusts these tokens itself; the expiry only
// drives cache eviction.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
