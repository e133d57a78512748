package meshnet_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/meshnet"
	"github.com/swarmcast/meshcore/internal/message"
	"github.com/swarmcast/meshcore/internal/transport/memtransport"
)

// pipeUplink relays bytes straight to a paired MeshNode's DispatchWire,
// standing in for the rendezvous relay so two nodes with no open
// connection yet can still complete a handshake in-process.
type pipeUplink struct {
	mu   sync.Mutex
	peer *meshnet.MeshNode
}

func (p *pipeUplink) Send(data []byte) error {
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		go peer.DispatchWire(data)
	}
	return nil
}

func link(a, b *meshnet.MeshNode) {
	upA := &pipeUplink{peer: b}
	upB := &pipeUplink{peer: a}
	a.SetUplink(upA)
	b.SetUplink(upB)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHandshakeConnectsTwoPeersThroughUplink(t *testing.T) {
	net := memtransport.NewNetwork()
	factory := memtransport.NewFactory(net)

	a := meshnet.New("peer-a", meshnet.DefaultTTL, bus.New(), factory)
	b := meshnet.New("peer-b", meshnet.DefaultTTL, bus.New(), factory)
	link(a, b)

	if err := a.Connect("peer-b"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return a.Open("peer-b") && b.Open("peer-a") })
}

func TestDirectSendAfterHandshake(t *testing.T) {
	net := memtransport.NewNetwork()
	factory := memtransport.NewFactory(net)

	busA, busB := bus.New(), bus.New()
	a := meshnet.New("peer-a", meshnet.DefaultTTL, busA, factory)
	b := meshnet.New("peer-b", meshnet.DefaultTTL, busB, factory)
	link(a, b)

	if err := a.Connect("peer-b"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return a.Open("peer-b") })

	received := make(chan message.Message, 1)
	busB.On("app:ping", func(msg message.Message) { received <- msg })

	if err := a.Send(message.Message{Type: "app:ping", From: "peer-a", To: "peer-b", Data: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Data != "hi" {
			t.Fatalf("expected data 'hi', got %v", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("direct message never arrived")
	}
}

func TestQueuedUntilConnected(t *testing.T) {
	net := memtransport.NewNetwork()
	factory := memtransport.NewFactory(net)

	busA, busB := bus.New(), bus.New()
	a := meshnet.New("peer-a", meshnet.DefaultTTL, busA, factory)
	b := meshnet.New("peer-b", meshnet.DefaultTTL, busB, factory)
	link(a, b)

	received := make(chan message.Message, 1)
	busB.On("app:queued", func(msg message.Message) { received <- msg })

	// Not connected yet: Send must queue rather than error, and deliver once
	// the handshake completes.
	if err := a.Send(message.Message{Type: "app:queued", From: "peer-a", To: "peer-b", Data: 42}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Connect("peer-b"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case msg := <-received:
		if v, ok := msg.Data.(float64); !ok || v != 42 {
			t.Fatalf("expected data 42, got %v", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued message was never drained after connect")
	}
}

// TestRelayPrefersDirectConnectionOverFlood exercises spec §4.3's forward
// rule on a node with more than one open neighbor: a message addressed to
// a specific peer that already has an open direct connection must reach it
// directly, not be broadcast to every other open neighbor as well.
func TestRelayPrefersDirectConnectionOverFlood(t *testing.T) {
	net := memtransport.NewNetwork()
	factory := memtransport.NewFactory(net)

	a := meshnet.New("peer-a", meshnet.DefaultTTL, bus.New(), factory)
	b := meshnet.New("peer-b", meshnet.DefaultTTL, bus.New(), factory)
	c := meshnet.New("peer-c", meshnet.DefaultTTL, bus.New(), factory)
	// A node holds a single uplink, so b is linked to a for its handshake
	// with a, then relinked to c for its handshake with c.
	link(a, b)
	if err := b.Connect("peer-a"); err != nil {
		t.Fatalf("Connect a: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return b.Open("peer-a") })

	link(b, c)
	if err := b.Connect("peer-c"); err != nil {
		t.Fatalf("Connect c: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return b.Open("peer-a") && b.Open("peer-c") })

	// Only activity logged after this point concerns the relayed frame;
	// b's own Connect calls above logged request-peer floods of their own.
	before := len(b.RecentActivity())

	frame, err := json.Marshal(message.Message{
		Type:      message.TypeRequestPeer,
		From:      "peer-origin",
		To:        "peer-c",
		TTL:       3,
		ForwardBy: []string{},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b.DispatchWire(frame)

	waitUntil(t, time.Second, func() bool {
		for _, e := range b.RecentActivity()[before:] {
			if e.Type == message.TypeRequestPeer {
				return true
			}
		}
		return false
	})

	for _, e := range b.RecentActivity()[before:] {
		if e.Type != message.TypeRequestPeer {
			continue
		}
		if e.Action != "direct" || e.Peer != "peer-c" {
			t.Fatalf("expected a direct relay to peer-c, got %+v", e)
		}
	}
}

func TestRetryExpiresWithoutConnection(t *testing.T) {
	net := memtransport.NewNetwork()
	factory := memtransport.NewFactory(net)
	a := meshnet.New("peer-a", meshnet.DefaultTTL, bus.New(), factory)

	if err := a.Send(message.Message{Type: "app:lonely", From: "peer-a", To: "nobody"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		for _, e := range a.RecentActivity() {
			if e.Action == "dropped" {
				return true
			}
		}
		return false
	})
}
