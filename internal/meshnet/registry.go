package meshnet

import (
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/swarmcast/meshcore/internal/message"
	"github.com/swarmcast/meshcore/internal/transport"
)

var log = logging.Logger("meshnet")

// ConnectionRegistry owns the per-remote Connection state machine and drives
// the three-way handshake (request-peer → offer → answer → icecandidate)
// spec §4.2 describes, generalizing the single-call negotiation of
// internal/call/session.go to an arbitrary number of concurrent remotes.
type ConnectionRegistry struct {
	selfID  string
	factory transport.Factory

	// send emits a handshake Message through the owning MeshNode's routing
	// (direct send, route-directed reply, or flood), since a registry on its
	// own has no notion of multi-hop delivery.
	send func(message.Message) error

	onConnected    func(remoteID string)
	onDisconnected func(remoteID string)
	onMessage      func(remoteID string, data []byte)

	mu          sync.Mutex
	conns       map[string]*Connection
	transportOf map[string]transport.Connection

	icePendingMu sync.Mutex
	icePending   map[string][]any
}

// NewConnectionRegistry creates a registry for selfID. send is used for
// every handshake message the registry originates or relays.
func NewConnectionRegistry(selfID string, factory transport.Factory, send func(message.Message) error) *ConnectionRegistry {
	return &ConnectionRegistry{
		selfID:      selfID,
		factory:     factory,
		send:        send,
		conns:       make(map[string]*Connection),
		transportOf: make(map[string]transport.Connection),
		icePending:  make(map[string][]any),
	}
}

// SetCallbacks installs the hooks MeshNode uses to dispatch local
// connected/disconnected events, drain the retry queue, and route inbound
// wire traffic through the bus.
func (r *ConnectionRegistry) SetCallbacks(onConnected, onDisconnected func(remoteID string), onMessage func(remoteID string, data []byte)) {
	r.mu.Lock()
	r.onConnected = onConnected
	r.onDisconnected = onDisconnected
	r.onMessage = onMessage
	r.mu.Unlock()
}

// Get returns the Connection tracked for remoteID, if any.
func (r *ConnectionRegistry) Get(remoteID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[remoteID]
	return c, ok
}

// Open reports whether remoteID has a connection in state open.
func (r *ConnectionRegistry) Open(remoteID string) bool {
	c, ok := r.Get(remoteID)
	return ok && c.IsOpen()
}

func (r *ConnectionRegistry) ensure(remoteID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[remoteID]; ok {
		return c, true
	}
	c := newConnection(remoteID)
	r.conns[remoteID] = c
	return c, false
}

// RequestPeer starts the handshake toward remoteID by sending a
// request-peer message; it is a no-op if a connection already exists,
// matching the idempotent connect spec §4.2 requires.
func (r *ConnectionRegistry) RequestPeer(remoteID string, ttl int) error {
	if _, existed := r.ensure(remoteID); existed {
		return nil
	}
	return r.send(message.Message{
		Type:      message.TypeRequestPeer,
		From:      r.selfID,
		To:        remoteID,
		TTL:       ttl,
		ForwardBy: []string{},
	})
}

// HandleRequestPeer responds to an inbound request-peer by becoming the
// offerer: it creates the local Connection, generates an SDP offer, and
// sends it back along the reverse of the path the request-peer traveled.
//
// Simultaneous request-peer is resolved by the lexicographically smaller id
// winning the offerer role (spec §4.2 Open Question): if both ends issued
// request-peer to each other at once, the larger-id end ignores the
// competing request-peer and waits for the incoming offer, while the
// smaller-id end replaces its own pending entry and sends the offer.
func (r *ConnectionRegistry) HandleRequestPeer(msg message.Message) {
	remoteID := msg.From

	r.mu.Lock()
	existing, had := r.conns[remoteID]
	if had && existing.State() != StateClose {
		if strings.Compare(r.selfID, remoteID) > 0 {
			// We lose the tie-break (larger id); ignore the peer's
			// competing request-peer and wait for its offer.
			r.mu.Unlock()
			return
		}
		// We win the offerer role (smaller id): drop our pending attempt
		// and offer in answer to theirs.
		delete(r.conns, remoteID)
	}
	conn := newConnection(remoteID)
	r.conns[remoteID] = conn
	r.mu.Unlock()

	route := reverseRoute(msg)
	tconn, err := r.newTransport(remoteID, route)
	if err != nil {
		log.Warnf("request-peer from %s: create connection: %v", remoteID, err)
		return
	}
	// Bind open/close/message callbacks before negotiating: some transports
	// (memtransport, and a fast local ICE gatherer) may transition to open
	// synchronously inside CreateOffer/CreateAnswer, before this call
	// returns, so the callbacks must already be in place to observe it.
	r.bindTransport(conn, tconn)

	offerSDP, err := tconn.CreateOffer()
	if err != nil {
		log.Warnf("request-peer from %s: create offer: %v", remoteID, err)
		return
	}

	if err := r.send(message.Message{
		Type:      message.TypeOffer,
		From:      r.selfID,
		To:        remoteID,
		TTL:       msg.TTL,
		ForwardBy: []string{},
		Route:     route,
		Data:      offerSDP,
	}); err != nil {
		log.Warnf("request-peer from %s: send offer: %v", remoteID, err)
	}
}

// HandleOffer answers an inbound SDP offer: it creates the local Connection
// as the answerer and replies with answer along the reverse route.
func (r *ConnectionRegistry) HandleOffer(msg message.Message) {
	remoteID := msg.From
	offerSDP, _ := msg.Data.(string)

	conn, _ := r.ensure(remoteID)

	route := reverseRoute(msg)
	tconn, err := r.newTransport(remoteID, route)
	if err != nil {
		log.Warnf("offer from %s: create connection: %v", remoteID, err)
		return
	}
	r.bindTransport(conn, tconn)

	answerSDP, err := tconn.CreateAnswer(offerSDP)
	if err != nil {
		log.Warnf("offer from %s: create answer: %v", remoteID, err)
		return
	}

	if err := r.send(message.Message{
		Type:      message.TypeAnswer,
		From:      r.selfID,
		To:        remoteID,
		TTL:       msg.TTL,
		ForwardBy: []string{},
		Route:     route,
		Data:      answerSDP,
	}); err != nil {
		log.Warnf("offer from %s: send answer: %v", remoteID, err)
	}
}

// HandleAnswer completes the offerer side's negotiation.
func (r *ConnectionRegistry) HandleAnswer(msg message.Message) {
	remoteID := msg.From
	answerSDP, _ := msg.Data.(string)

	r.mu.Lock()
	conn, ok := r.conns[remoteID]
	r.mu.Unlock()
	if !ok {
		log.Warnf("answer from unknown peer %s", remoteID)
		return
	}

	tconn := r.transportFor(conn)
	if tconn == nil {
		log.Warnf("answer from %s: no pending connection", remoteID)
		return
	}
	if err := tconn.SetAnswer(answerSDP); err != nil {
		log.Warnf("answer from %s: set answer: %v", remoteID, err)
	}
}

// HandleICECandidate routes a buffered or live candidate to the right
// transport.Connection, matching spec §3's requirement that candidates
// arriving ahead of the remote description are buffered per remote.
func (r *ConnectionRegistry) HandleICECandidate(msg message.Message) {
	remoteID := msg.From

	r.mu.Lock()
	conn, ok := r.conns[remoteID]
	r.mu.Unlock()

	tconn := r.transportFor(conn)
	if !ok || tconn == nil {
		r.icePendingMu.Lock()
		r.icePending[remoteID] = append(r.icePending[remoteID], msg.Data)
		r.icePendingMu.Unlock()
		return
	}
	if err := tconn.AddICECandidate(msg.Data); err != nil {
		log.Warnf("icecandidate from %s: %v", remoteID, err)
	}
}

// newTransport creates the transport.Connection backing remoteID and wires
// its local-ICE callback to emit icecandidate messages. transportOf keeps
// it out of Connection itself, so meshnet's Connection type stays free of a
// transport import and the sendCloser abstraction stays narrow.
func (r *ConnectionRegistry) newTransport(remoteID string, _ []string) (transport.Connection, error) {
	var onICEMu sync.Mutex
	tconn, err := r.factory.New(func(candidate any) {
		onICEMu.Lock()
		defer onICEMu.Unlock()
		_ = r.send(message.Message{
			Type:      message.TypeICECandidate,
			From:      r.selfID,
			To:        remoteID,
			TTL:       defaultHandshakeTTL,
			ForwardBy: []string{},
			Data:      candidate,
		})
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transportOf[remoteID] = tconn
	r.mu.Unlock()
	return tconn, nil
}

func (r *ConnectionRegistry) transportFor(conn *Connection) transport.Connection {
	if conn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transportOf[conn.RemoteID]
}

func (r *ConnectionRegistry) bindTransport(conn *Connection, tconn transport.Connection) {
	ch := tconn.Channel()
	conn.setChannel(ch)

	ch.OnOpen(func() {
		conn.setState(StateOpen)
		r.flushPendingICE(conn.RemoteID, tconn)
		r.mu.Lock()
		cb := r.onConnected
		r.mu.Unlock()
		if cb != nil {
			cb(conn.RemoteID)
		}
	})
	ch.OnClose(func() {
		conn.setState(StateClose)
		r.mu.Lock()
		delete(r.conns, conn.RemoteID)
		delete(r.transportOf, conn.RemoteID)
		cb := r.onDisconnected
		r.mu.Unlock()
		if cb != nil {
			cb(conn.RemoteID)
		}
	})
	ch.OnError(func(err error) {
		log.Warnf("channel error with %s: %v", conn.RemoteID, err)
	})
	ch.OnMessage(func(data []byte) {
		r.mu.Lock()
		cb := r.onMessage
		r.mu.Unlock()
		if cb != nil {
			cb(conn.RemoteID, data)
		}
	})
}

func (r *ConnectionRegistry) flushPendingICE(remoteID string, tconn transport.Connection) {
	r.icePendingMu.Lock()
	pending := r.icePending[remoteID]
	delete(r.icePending, remoteID)
	r.icePendingMu.Unlock()

	for _, c := range pending {
		if err := tconn.AddICECandidate(c); err != nil {
			log.Warnf("flush pending icecandidate for %s: %v", remoteID, err)
		}
	}
}

// reverseRoute computes the hop chain a reply should walk to get back to
// msg.From: the request's own ForwardBy, reversed, since the last forwarder
// is the neighbor closest to us.
func reverseRoute(msg message.Message) []string {
	if len(msg.ForwardBy) == 0 {
		return nil
	}
	out := make([]string, len(msg.ForwardBy))
	for i, h := range msg.ForwardBy {
		out[len(out)-1-i] = h
	}
	return out
}

const defaultHandshakeTTL = 3
