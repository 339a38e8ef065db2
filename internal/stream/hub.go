// Package stream drives broker market-data feeds and fans ticks out to
// subscribers.
package stream

import (
	"sync"
	"time"

	"broker-gateway/internal/models"
)

// HubConfig holds configuration for the tick hub.
type HubConfig struct {
	// BufferSize is the size of the internal tick channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 256,
	}
}

// Hub distributes ticks from broker feed sessions to subscribers. Ticks are
// opaque broker payloads keyed by broker; normalization of tick contents is
// out of scope, so subscribers receive exactly what the feed sent.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[models.BrokerID][]*Subscriber
	done        chan struct{}
	closed      bool

	dropped func(models.BrokerID)
}

// Subscriber receives one broker's ticks. A subscriber that stops draining
// its channel loses ticks rather than blocking the feed.
type Subscriber struct {
	ID        string
	Channel   chan models.Tick
	CreatedAt time.Time
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	return &Hub{
		config:      config,
		subscribers: make(map[models.BrokerID][]*Subscriber),
		done:        make(chan struct{}),
	}
}

// OnDrop installs a callback invoked whenever a tick is dropped on a slow
// subscriber.
func (h *Hub) OnDrop(fn func(models.BrokerID)) {
	h.dropped = fn
}

// Subscribe registers a subscriber for one broker's ticks.
func (h *Hub) Subscribe(id models.BrokerID, subscriberID string) *Subscriber {
	sub := &Subscriber{
		ID:        subscriberID,
		Channel:   make(chan models.Tick, h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
	}
	h.mu.Lock()
	h.subscribers[id] = append(h.subscribers[id], sub)
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id models.BrokerID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[id]
	for i, s := range subs {
		if s == sub {
			close(s.Channel)
			h.subscribers[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[id]) == 0 {
		delete(h.subscribers, id)
	}
}

// Publish fans a tick out to the broker's subscribers. Sends never block; a
// full subscriber channel drops the tick.
func (h *Hub) Publish(tick models.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, sub := range h.subscribers[tick.Broker] {
		select {
		case sub.Channel <- tick:
		default:
			if h.dropped != nil {
				h.dropped(tick.Broker)
			}
		}
	}
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for id, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, id)
	}
}
