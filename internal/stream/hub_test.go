package stream

import (
	"testing"
	"time"

	"broker-gateway/internal/models"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	defer h.Close()

	a := h.Subscribe(models.BrokerFyers, "a")
	b := h.Subscribe(models.BrokerFyers, "b")
	other := h.Subscribe(models.BrokerUpstox, "c")

	h.Publish(models.Tick{Broker: models.BrokerFyers, Payload: []byte("tick"), ReceivedAt: time.Now()})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case tick := <-sub.Channel:
			if string(tick.Payload) != "tick" {
				t.Errorf("payload = %s", tick.Payload)
			}
		default:
			t.Errorf("subscriber %s missed the tick", sub.ID)
		}
	}
	select {
	case <-other.Channel:
		t.Error("tick crossed broker boundary")
	default:
	}
}

func TestHubDropsOnFullSubscriber(t *testing.T) {
	h := NewHubWithConfig(HubConfig{BufferSize: 10, SubscriberBufferSize: 1})
	defer h.Close()

	drops := 0
	h.OnDrop(func(models.BrokerID) { drops++ })

	sub := h.Subscribe(models.BrokerFyers, "slow")
	h.Publish(models.Tick{Broker: models.BrokerFyers, Payload: []byte("1")})
	h.Publish(models.Tick{Broker: models.BrokerFyers, Payload: []byte("2")})

	if drops != 1 {
		t.Errorf("drops = %d", drops)
	}
	tick := <-sub.Channel
	if string(tick.Payload) != "1" {
		t.Errorf("kept tick = %s", tick.Payload)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe(models.BrokerAngel, "x")
	h.Unsubscribe(models.BrokerAngel, sub)

	if _, open := <-sub.Channel; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing to a broker with no subscribers must not panic.
	h.Publish(models.Tick{Broker: models.BrokerAngel, Payload: []byte("t")})
}
