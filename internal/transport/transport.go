// Package transport declares the external collaborators spec §6 names: the
// duplex per-peer transport, the signaling bootstrap link, and the origin
// byte-range client. The core (internal/meshnet, internal/rps,
// internal/media) only ever talks to these interfaces; concrete adapters
// live in the sibling packages (webrtctransport, wssignal, httporigin,
// memtransport) the way the teacher keeps libp2p/pion specifics behind
// small interfaces such as call.Signaler.
//
// The spec puts SDP/ICE negotiation inside ConnectionRegistry (spec §4.2) —
// offer/answer/icecandidate travel as ordinary mesh Messages that may be
// relayed hop by hop before a direct channel exists. So, unlike a typical
// "just open a channel" transport interface, Connection exposes the
// negotiation primitives themselves (CreateOffer/CreateAnswer/SetAnswer/
// AddICECandidate) as opaque string/any values; internal/meshnet drives the
// state machine and puts those values on the wire.
package transport

import "context"

// Channel is one open duplex connection to a single remote peer. Event
// registration mirrors pion/webrtc's PeerConnection.On* callback idiom
// (internal/call/session.go), which is also how the reference WebRTC
// DataChannel API surfaces open/message/close/error.
type Channel interface {
	// Send writes one message-oriented frame. Implementations must be
	// non-blocking with respect to the remote peer observing it (spec §5).
	Send(data []byte) error
	Close() error

	OnOpen(func())
	OnMessage(func(data []byte))
	OnClose(func())
	OnError(func(error))
}

// Connection is one peer connection in the process of being negotiated (or
// already negotiated). SDP is carried as an opaque string and ICE
// candidates as an opaque, JSON-marshalable value — both travel as the
// `data` field of offer/answer/icecandidate Messages, so ConnectionRegistry
// never needs to know their concrete shape.
type Connection interface {
	// CreateOffer is called by the side that received request-peer; it
	// returns the local SDP to send as an `offer` message.
	CreateOffer() (sdp string, err error)

	// CreateAnswer sets offerSDP as the remote description and returns the
	// local SDP to send back as an `answer` message.
	CreateAnswer(offerSDP string) (answerSDP string, err error)

	// SetAnswer applies the remote answer SDP on the offering side.
	SetAnswer(answerSDP string) error

	// AddICECandidate adds (or buffers, if the remote description isn't
	// set yet) one remote ICE candidate.
	AddICECandidate(candidate any) error

	// Channel returns this connection's data channel. It may be called
	// before the channel opens.
	Channel() Channel

	Close() error
}

// Factory creates Connections. onLocalICE is invoked once per locally
// gathered ICE candidate; the caller sends it to the remote as an
// `icecandidate` message.
type Factory interface {
	New(onLocalICE func(candidate any)) (Connection, error)
}

// Signal is the single bidirectional rendezvous link (spec §6). Messages
// received on it are dispatched by internal/meshnet (MeshNode.DispatchWire)
// exactly as if from a peer connection. Neither Signal nor meshnet discards
// a frame for being this node's own echo or a stale broadcast; the only
// filtering is the relay's already-handled check on messages not addressed
// to this node.
type Signal interface {
	Send(data []byte) error
	OnMessage(func(data []byte))
	Close() error
}

// ResponseType selects how Origin.Fetch decodes the response body.
type ResponseType int

const (
	ResponseBlob ResponseType = iota
	ResponseArrayBuffer
	ResponseJSON
)

// ByteRange is an inclusive [Start, End] byte range for a ranged fetch. A
// nil *ByteRange means "fetch the whole resource".
type ByteRange struct {
	Start int64
	End   int64
}

// Origin is the opaque origin HTTP client (spec §6). Fetch returns the
// decoded JSON value (when ResponseType is ResponseJSON) or raw bytes
// otherwise.
type Origin interface {
	Fetch(ctx context.Context, url string, rt ResponseType, rng *ByteRange) (any, error)
}
