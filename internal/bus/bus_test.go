package bus

import (
	"testing"

	"github.com/swarmcast/meshcore/internal/message"
)

func TestDispatchOrderIsRegistrationOrder(t *testing.T) {
	b := New()
	var order []int

	b.On("ping", func(message.Message) { order = append(order, 1) })
	b.On("ping", func(message.Message) { order = append(order, 2) })
	b.On("ping", func(message.Message) { order = append(order, 3) })

	b.Dispatch(message.Message{Type: "ping", From: "a", To: "b"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", order)
	}
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := New()
	count := 0
	b.Once("pong", func(message.Message) { count++ })

	b.Dispatch(message.Message{Type: "pong", From: "a", To: "b"})
	b.Dispatch(message.Message{Type: "pong", From: "a", To: "b"})

	if count != 1 {
		t.Fatalf("expected once listener to fire exactly once, fired %d times", count)
	}
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	sub := b.On("ping", func(message.Message) { count++ })

	b.Dispatch(message.Message{Type: "ping", From: "a", To: "b"})
	b.RemoveListener(sub)
	b.Dispatch(message.Message{Type: "ping", From: "a", To: "b"})

	if count != 1 {
		t.Fatalf("expected 1 delivery before removal, got %d", count)
	}
}

func TestRemoveListenerTwiceIsSafe(t *testing.T) {
	b := New()
	sub := b.On("ping", func(message.Message) {})
	b.RemoveListener(sub)
	b.RemoveListener(sub) // must not panic
}

func TestDispatchDropsMalformedMessage(t *testing.T) {
	b := New()
	fired := false
	b.On("offer", func(message.Message) { fired = true })

	// offer is forwardable but missing TTL/ForwardBy.
	b.Dispatch(message.Message{Type: message.TypeOffer, From: "a", To: "b"})

	if fired {
		t.Fatal("expected malformed message to be dropped, listener fired")
	}
}

func TestRemoveAllListenersByType(t *testing.T) {
	b := New()
	count := 0
	b.On("ping", func(message.Message) { count++ })
	b.On("pong", func(message.Message) { count++ })

	b.RemoveAllListeners("ping")
	b.Dispatch(message.Message{Type: "ping", From: "a", To: "b"})
	b.Dispatch(message.Message{Type: "pong", From: "a", To: "b"})

	if count != 1 {
		t.Fatalf("expected only pong listener to fire, count=%d", count)
	}
}
