// Package meshnet implements the TTL-bounded forwarding mesh: per-remote
// connection negotiation (ConnectionRegistry) and the send/forward/broadcast
// rules a MeshNode applies to every outbound and inbound Message
// (spec §4.2-4.3), grounded on internal/mq/manager.go's topic-routed inbox
// and internal/call/session.go's handshake mechanics.
package meshnet

import (
	"fmt"
	"time"

	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/meshcore"
	"github.com/swarmcast/meshcore/internal/message"
	"github.com/swarmcast/meshcore/internal/transport"
	"github.com/swarmcast/meshcore/internal/util"
)

// activityLogCap bounds the diagnostic ring buffer to the most recent
// forwarding decisions, the same fixed-window tradeoff internal/p2p.Node's
// diagnostic snapshot makes for its own event history.
const activityLogCap = 64

// ActivityEntry is one recorded forwarding decision, newest last.
type ActivityEntry struct {
	Type   string
	Action string // "direct", "route", "flood", "queued", "dropped"
	Peer   string
}

// DefaultTTL bounds how many hops a forwarded message may travel before it
// is dropped (spec §4.3 default).
const DefaultTTL = 3

// DefaultQueueTimeout is how long a message addressed to a not-yet-connected
// peer waits before it is dropped from the retry queue.
const DefaultQueueTimeout = 1000 * time.Millisecond

// DefaultRetryTick is how often the retry queue sweeps for expired entries.
const DefaultRetryTick = 1000 * time.Millisecond

// MeshNode is the self peer's view of the mesh: it owns every open
// Connection (through a ConnectionRegistry), applies the forwarding rules
// to inbound traffic, and queues outbound traffic for peers it isn't
// connected to yet.
type MeshNode struct {
	selfID   string
	ttl      int
	bus      *bus.Bus
	registry *ConnectionRegistry
	retry    *retryQueue
	uplink   Uplink
	activity *util.RingBuffer[ActivityEntry]
}

// Uplink is the rendezvous/signaling link (transport.Signal satisfies it):
// a bonus broadcast target used to bootstrap the very first handshake,
// before any direct mesh connection exists to flood a message over.
type Uplink interface {
	Send(data []byte) error
}

// New creates a MeshNode bound to selfID, dispatching locally-delivered
// messages on b and negotiating connections through factory. ttl is the
// default hop budget stamped on messages this node originates.
func New(selfID string, ttl int, b *bus.Bus, factory transport.Factory) *MeshNode {
	n := &MeshNode{selfID: selfID, ttl: ttl, bus: b, activity: util.NewRingBuffer[ActivityEntry](activityLogCap)}
	n.registry = NewConnectionRegistry(selfID, factory, n.Send)
	n.registry.SetCallbacks(n.onConnected, n.onDisconnected, n.onWireMessage)
	n.retry = newRetryQueue(DefaultRetryTick, n.onRetryExpired)

	b.On(message.TypeRequestPeer, n.onInbound(n.registry.HandleRequestPeer))
	b.On(message.TypeOffer, n.onInbound(n.registry.HandleOffer))
	b.On(message.TypeAnswer, n.onInbound(n.registry.HandleAnswer))
	b.On(message.TypeICECandidate, n.onInbound(n.registry.HandleICECandidate))
	return n
}

// Registry exposes the underlying ConnectionRegistry, e.g. so a caller can
// check Open(remoteID) before sending media traffic.
func (n *MeshNode) Registry() *ConnectionRegistry { return n.registry }

// SetUplink attaches the signaling link flood traffic also goes out over,
// so a handshake message reaches a bootstrap peer that has no open mesh
// connection yet. Pass nil to detach.
func (n *MeshNode) SetUplink(link Uplink) { n.uplink = link }

// DispatchWire decodes a frame received over the uplink and hands it to the
// bus exactly as if it had arrived over an open mesh connection.
func (n *MeshNode) DispatchWire(data []byte) {
	n.onWireMessage("signal", data)
}

// Connect starts the handshake toward remoteID. A no-op if already
// connecting or connected.
func (n *MeshNode) Connect(remoteID string) error {
	return n.registry.RequestPeer(remoteID, n.ttl)
}

// Open reports whether remoteID currently has an open connection.
func (n *MeshNode) Open(remoteID string) bool {
	return n.registry.Open(remoteID)
}

// Close tears down the retry queue's background goroutine.
func (n *MeshNode) Close() {
	n.retry.close()
}

// onInbound wraps a registry handler so it only fires for messages this
// node must actually act on: addressed to self, or broadcast. Anything
// else goes through handleRelay instead of the registry.
func (n *MeshNode) onInbound(handle func(message.Message)) bus.Listener {
	return func(msg message.Message) {
		if msg.To != n.selfID && msg.To != message.Broadcast {
			n.handleRelay(msg)
			return
		}
		handle(msg)
		if msg.To == message.Broadcast {
			n.handleRelay(msg)
		}
	}
}

// handleRelay implements the forward rule (spec §4.3): a message not
// addressed to this node is dropped if this node already handled it or its
// TTL is exhausted; otherwise TTL is decremented and self is appended to
// ForwardBy exactly once, and the mutated message is resent along the same
// direct-then-route-then-flood precedence Send applies to locally
// originated traffic. This matters because a message addressed to a
// specific peer that already has an open connection to this node should
// reach it directly, not be broadcast to every other open neighbor.
func (n *MeshNode) handleRelay(msg message.Message) {
	if !message.Forwardable(msg.Type) {
		return
	} else if msg.HasHandled(n.selfID) {
		return
	} else if msg.TTL <= 0 {
		return
	}

	out := msg.Clone()
	out.TTL--
	out.ForwardBy = append(out.ForwardBy, n.selfID)

	var err error
	if out.To == message.Broadcast {
		n.logActivity(out.Type, "flood", out.To)
		err = n.distribute(out)
	} else if conn, ok := n.registry.Get(out.To); ok && conn.IsOpen() {
		n.logActivity(out.Type, "direct", out.To)
		err = n.sendDirect(conn, out)
	} else if len(out.Route) > 0 {
		n.logActivity(out.Type, "route", out.To)
		err = n.relayAlongRoute(out)
	} else {
		n.logActivity(out.Type, "flood", out.To)
		err = n.distribute(out)
	}
	if err != nil {
		log.Warnf("relay %s to %s: %v", out.Type, out.To, err)
	}
}

// relayAlongRoute mirrors sendAlongRoute but falls back to distribute
// rather than flood: msg has already had its TTL decremented and ForwardBy
// appended once by handleRelay and must not be mutated a second time.
func (n *MeshNode) relayAlongRoute(msg message.Message) error {
	next := msg.Route[0]
	conn, ok := n.registry.Get(next)
	if !ok || !conn.IsOpen() {
		return n.distribute(msg)
	}
	out := msg.Clone()
	out.Route = append([]string(nil), msg.Route[1:]...)
	return n.sendDirect(conn, out)
}

// Send routes msg to its destination, choosing exactly one of: broadcast
// flood, direct delivery over an open connection, route-directed hop
// toward the handshake's origin, flood-forward for a forwardable type with
// no known route, or queueing until the destination connects. Each branch
// is mutually exclusive and the chain is written explicitly so no message
// can match more than one rule.
func (n *MeshNode) Send(msg message.Message) error {
	if msg.To == message.Broadcast {
		n.logActivity(msg.Type, "flood", msg.To)
		return n.broadcast(msg)
	} else if conn, ok := n.registry.Get(msg.To); ok && conn.IsOpen() {
		n.logActivity(msg.Type, "direct", msg.To)
		return n.sendDirect(conn, msg)
	} else if len(msg.Route) > 0 {
		n.logActivity(msg.Type, "route", msg.To)
		return n.sendAlongRoute(msg)
	} else if message.Forwardable(msg.Type) {
		n.logActivity(msg.Type, "flood", msg.To)
		return n.flood(msg)
	} else {
		n.logActivity(msg.Type, "queued", msg.To)
		n.retry.enqueue(msg, DefaultQueueTimeout)
		return nil
	}
}

func (n *MeshNode) logActivity(typ, action, peer string) {
	n.activity.Push(ActivityEntry{Type: typ, Action: action, Peer: peer})
}

// RecentActivity returns the most recent forwarding decisions this node has
// made, oldest first, for diagnostics/monitoring.
func (n *MeshNode) RecentActivity() []ActivityEntry {
	return n.activity.Snapshot()
}

func (n *MeshNode) sendDirect(conn *Connection, msg message.Message) error {
	data, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (n *MeshNode) sendAlongRoute(msg message.Message) error {
	if len(msg.Route) == 0 {
		return n.flood(msg)
	}
	next := msg.Route[0]
	conn, ok := n.registry.Get(next)
	if !ok || !conn.IsOpen() {
		return n.flood(msg)
	}
	out := msg.Clone()
	out.Route = append([]string(nil), msg.Route[1:]...)
	return n.sendDirect(conn, out)
}

// broadcast and flood share the same delivery mechanics (send to every
// open neighbor that hasn't already handled the message) but are kept as
// separate entry points because flood refuses a message whose TTL is
// already exhausted (ErrInvariantViolation), while broadcast sends without
// checking TTL.
func (n *MeshNode) broadcast(msg message.Message) error {
	return n.floodTo(msg)
}

func (n *MeshNode) flood(msg message.Message) error {
	if msg.TTL <= 0 {
		return fmt.Errorf("%w: ttl exhausted for %s", meshcore.ErrInvariantViolation, msg.Type)
	}
	return n.floodTo(msg)
}

func (n *MeshNode) floodTo(msg message.Message) error {
	out := msg.Clone()
	out.TTL--
	return n.distribute(out)
}

// distribute sends an already TTL/ForwardBy-adjusted message to every open
// connection that hasn't handled it yet, plus the uplink if set. It never
// mutates msg itself, so callers that already advanced TTL/ForwardBy
// (handleRelay) can reuse it without a second decrement.
func (n *MeshNode) distribute(out message.Message) error {
	var firstErr error
	for remoteID, conn := range n.openConnections() {
		if out.HasHandled(remoteID) {
			continue
		}
		if err := n.sendDirect(conn, out); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if n.uplink != nil {
		data, err := marshalMessage(out)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if err := n.uplink.Send(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (n *MeshNode) openConnections() map[string]*Connection {
	n.registry.mu.Lock()
	defer n.registry.mu.Unlock()
	out := make(map[string]*Connection, len(n.registry.conns))
	for id, c := range n.registry.conns {
		if c.IsOpen() {
			out[id] = c
		}
	}
	return out
}

func (n *MeshNode) onConnected(remoteID string) {
	for _, msg := range n.retry.drain(remoteID) {
		if err := n.Send(msg); err != nil {
			log.Warnf("draining queued message to %s: %v", remoteID, err)
		}
	}
	n.bus.Dispatch(message.Message{
		Type: message.TypeConnected,
		From: n.selfID,
		To:   remoteID,
	})
}

func (n *MeshNode) onDisconnected(remoteID string) {
	n.bus.Dispatch(message.Message{
		Type: message.TypeDisconnected,
		From: n.selfID,
		To:   remoteID,
	})
}

func (n *MeshNode) onRetryExpired(msg message.Message) {
	n.logActivity(msg.Type, "dropped", msg.To)
	log.Warnf("dropping message type=%q to=%q: queue timeout exceeded", msg.Type, msg.To)
}

// onWireMessage decodes a frame received over an open connection and hands
// it to the bus. For forwardable types this reaches the onInbound-wrapped
// registry listeners, which relay or act on it; for every other type it is
// simply delivered to whatever subsystem (rps, media) is listening.
func (n *MeshNode) onWireMessage(remoteID string, data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		log.Warnf("malformed frame from %s: %v", remoteID, err)
		return
	}
	n.bus.Dispatch(msg)
}
