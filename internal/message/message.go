// Package message defines the single on-wire envelope shared by every
// subsystem (connection handshake, gossip, media, and purely local events),
// plus the taxonomy that decides how the mesh routes each type.
package message

// Broadcast is the sentinel destination meaning "every reachable peer".
// The wire format always carries this as the string "-1" (spec §9 Open
// Questions: treat the sentinel uniformly as a string, never a number).
const Broadcast = "-1"

// Connection-related types: forwardable, carry ttl/forwardBy, and drive the
// three-way handshake in internal/meshnet.
const (
	TypeRequestPeer  = "request-peer"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "icecandidate"
)

// Gossip types: never forwarded, exchanged only between already-connected
// pairs by internal/rps.
const (
	TypeFirstView             = "first-view"
	TypeGossipRequestExchange = "gossip:request-exchange"
	TypeGossipAnswerExchange  = "gossip:answer-exchange"
	TypeGossipViewUpdate      = "gossip:view-update"
	TypeGossipDescriptorUpdate = "gossip:descriptor-update"
)

// Media types: never forwarded, driven by internal/media's part state
// machine.
const (
	TypeRequestMetadata = "media:request-metadata"
	TypeMetadata        = "media:metadata"
	TypeRequestHead     = "media:request-head"
	TypeHead            = "media:head"
	TypeRequestPart     = "media:request-part"
	TypePart            = "media:part"
)

// Internal event types: dispatched locally only, never put on the wire.
const (
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
)

// forwardable is the closed set of types the mesh node may broadcast or
// relay hop-by-hop when no direct route exists (spec §4.3 rule 4).
var forwardable = map[string]bool{
	TypeRequestPeer:  true,
	TypeOffer:        true,
	TypeAnswer:       true,
	TypeICECandidate: true,
}

// Forwardable reports whether typ belongs to the connection-related taxon,
// the only messages the mesh will relay hop-by-hop or broadcast.
func Forwardable(typ string) bool {
	return forwardable[typ]
}

// Message is the single envelope that crosses the transport. Type-specific
// payload fields are all present but only meaningful for a subset of types;
// this mirrors the teacher's single MQMsg{Type,ID,Seq,Topic,Payload} wire
// struct (internal/mq/protocol.go) rather than one Go type per taxon, since
// dispatch here is by string tag at runtime, not compile-time variant.
type Message struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`

	// TTL and ForwardBy are required on forwardable types; decremented and
	// appended to respectively at each hop (spec §3).
	TTL       int      `json:"ttl"`
	ForwardBy []string `json:"forwardBy"`

	// Route carries the original ForwardBy chain so an offer/answer can be
	// delivered back along the inverse path without re-broadcasting
	// (spec §4.2).
	Route []string `json:"route,omitempty"`

	// Data carries an arbitrary payload: SDP blobs, ICE candidates, gossip
	// view buffers, descriptor-update {path,value} pairs, media bytes.
	Data any `json:"data,omitempty"`

	// URL identifies the media this message concerns (media: types).
	URL string `json:"url,omitempty"`

	// Number identifies a part, or "P:C:N" (part:chunk:total) for a chunked
	// part (spec §4.5).
	Number string `json:"number,omitempty"`
}

// Clone returns a deep-enough copy safe to mutate (ForwardBy/Route slices
// are copied) without aliasing the original. Forward() relies on this so
// concurrent sends of the same logical message don't race on ForwardBy.
func (m Message) Clone() Message {
	c := m
	if m.ForwardBy != nil {
		c.ForwardBy = append(make([]string, 0, len(m.ForwardBy)), m.ForwardBy...)
	}
	if m.Route != nil {
		c.Route = append([]string(nil), m.Route...)
	}
	return c
}

// HasHandled reports whether id is the origin sender or already appears in
// ForwardBy — the set a forward must never re-target (spec §3 invariant:
// "forwarding would re-send it to a peer already in {from} ∪ forwardBy").
func (m Message) HasHandled(id string) bool {
	if id == m.From {
		return true
	}
	for _, h := range m.ForwardBy {
		if h == id {
			return true
		}
	}
	return false
}
