package broker

import (
	"fmt"
	"sort"

	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// Factory builds a fresh adapter bound to one credential. Adapters are
// request-scoped: the factory runs once per resolve so no token is ever
// shared between concurrent requests.
type Factory func(cred models.Credential) Adapter

// Registry maps broker identifiers onto adapter factories. Registration
// happens once during process start; after Seal the registry is read-only
// and safe for concurrent resolves without locking.
type Registry struct {
	factories map[models.BrokerID]Factory
	sealed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.BrokerID]Factory)}
}

// Register installs a factory for a broker. Registering after Seal or
// registering the same broker twice is a programming error.
func (r *Registry) Register(id models.BrokerID, f Factory) *Registry {
	if r.sealed {
		panic("broker: register after seal")
	}
	if _, dup := r.factories[id]; dup {
		panic(fmt.Sprintf("broker: duplicate registration for %s", id))
	}
	r.factories[id] = f
	return r
}

// Seal marks the registry read-only.
func (r *Registry) Seal() *Registry {
	r.sealed = true
	return r
}

// Resolve builds the adapter for a broker, bound to the given credential.
func (r *Registry) Resolve(id models.BrokerID, cred models.Credential) (Adapter, *errors.NormalizedError) {
	f, ok := r.factories[id]
	if !ok {
		return nil, errors.UnknownBroker(string(id))
	}
	return f(cred), nil
}

// Registered returns the broker identifiers with installed factories,
// canonical brokers first.
func (r *Registry) Registered() []models.BrokerID {
	ids := make([]models.BrokerID, 0, len(r.factories))
	seen := make(map[models.BrokerID]bool, len(r.factories))
	for _, id := range models.Brokers() {
		if _, ok := r.factories[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	extra := make([]models.BrokerID, 0)
	for id := range r.factories {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ids, extra...)
}

// DefaultRegistry wires the four live adapters, sharing one Config per
// broker. Configs carry base URLs and API keys; per-request credentials
// arrive at resolve time.
func DefaultRegistry(configs map[models.BrokerID]Config) *Registry {
	cfg := func(id models.BrokerID) Config { return configs[id] }
	return NewRegistry().
		Register(models.BrokerAliceBlue, func(cred models.Credential) Adapter {
			return NewAliceBlue(cred, cfg(models.BrokerAliceBlue))
		}).
		Register(models.BrokerAngel, func(cred models.Credential) Adapter {
			return NewAngel(cred, cfg(models.BrokerAngel))
		}).
		Register(models.BrokerFyers, func(cred models.Credential) Adapter {
			return NewFyers(cred, cfg(models.BrokerFyers))
		}).
		Register(models.BrokerUpstox, func(cred models.Credential) Adapter {
			return NewUpstox(cred, cfg(models.BrokerUpstox))
		})
}
