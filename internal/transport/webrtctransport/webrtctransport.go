// Package webrtctransport implements transport.Factory/transport.Connection
// over github.com/pion/webrtc/v4 data channels. It generalizes the
// offer/answer/ICE-buffering technique of internal/call/session.go — there
// built for a single call's media PeerConnection, here for an arbitrary
// number of concurrent mesh-peer connections, each carrying one ordered,
// reliable data channel instead of audio/video tracks.
package webrtctransport

import (
	"encoding/json"
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/swarmcast/meshcore/internal/transport"
)

var log = logging.Logger("webrtctransport")

// DefaultICEServers is the STUN server the teacher's call session uses.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// NewFactory returns a transport.Factory that creates pion PeerConnections
// configured with DefaultICEServers.
func NewFactory() transport.Factory {
	return factory{}
}

type factory struct{}

func (factory) New(onLocalICE func(candidate any)) (transport.Connection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: DefaultICEServers})
	if err != nil {
		return nil, err
	}
	conn := &connection{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // ICE gathering complete
		}
		if onLocalICE != nil {
			onLocalICE(candidateToWire(c.ToJSON()))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		conn.attach(dc)
	})

	return conn, nil
}

// candidateToWire mirrors the exact {candidate,sdpMid,sdpMLineIndex} map
// shape internal/call/session.go puts on the wire for ice-candidate
// signals, so the mesh's icecandidate message payload is plain JSON rather
// than a pion-specific type.
func candidateToWire(init webrtc.ICECandidateInit) map[string]any {
	sdpMid := ""
	if init.SDPMid != nil {
		sdpMid = *init.SDPMid
	}
	var idx uint16
	if init.SDPMLineIndex != nil {
		idx = *init.SDPMLineIndex
	}
	return map[string]any{
		"candidate":     init.Candidate,
		"sdpMid":        sdpMid,
		"sdpMLineIndex": idx,
	}
}

func candidateFromWire(v any) (webrtc.ICECandidateInit, error) {
	// Round-trip through JSON so both a map[string]any (from a decoded
	// Message) and a webrtc.ICECandidateInit (from a same-process test)
	// are accepted.
	b, err := json.Marshal(v)
	if err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(b, &init); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	return init, nil
}

// connection implements transport.Connection over one pion PeerConnection.
type connection struct {
	pc *webrtc.PeerConnection

	mu            sync.Mutex
	remoteDescSet bool
	pendingICE    []webrtc.ICECandidateInit
	channel       *dataChannel
}

func (c *connection) CreateOffer() (string, error) {
	dc, err := c.pc.CreateDataChannel("mesh", nil)
	if err != nil {
		return "", err
	}
	c.attach(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *connection) CreateAnswer(offerSDP string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: offerSDP,
	}); err != nil {
		return "", err
	}
	c.flushPendingICE()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *connection) SetAnswer(answerSDP string) error {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: answerSDP,
	}); err != nil {
		return err
	}
	c.flushPendingICE()
	return nil
}

// AddICECandidate buffers candidate if the remote description isn't set
// yet, exactly as call.Session.addICECandidate does — the buffer is owned
// by the connection, not the data channel, because it outlives
// pre-connection state.
func (c *connection) AddICECandidate(candidate any) error {
	init, err := candidateFromWire(candidate)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.remoteDescSet {
		c.pendingICE = append(c.pendingICE, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(init)
}

func (c *connection) flushPendingICE() {
	c.mu.Lock()
	c.remoteDescSet = true
	pending := c.pendingICE
	c.pendingICE = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := c.pc.AddICECandidate(init); err != nil {
			log.Warnf("buffered AddICECandidate error: %v", err)
		}
	}
}

func (c *connection) Channel() transport.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		c.channel = &dataChannel{}
	}
	return c.channel
}

func (c *connection) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	if c.channel == nil {
		c.channel = &dataChannel{}
	}
	ch := c.channel
	c.mu.Unlock()
	ch.bind(dc)
}

func (c *connection) Close() error {
	return c.pc.Close()
}

// dataChannel adapts *webrtc.DataChannel to transport.Channel.
type dataChannel struct {
	mu      sync.Mutex
	dc      *webrtc.DataChannel
	onOpen  func()
	onMsg   func([]byte)
	onClose func()
	onError func(error)
}

func (c *dataChannel) bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	onOpen, onMsg, onClose, onErr := c.onOpen, c.onMsg, c.onClose, c.onError
	c.mu.Unlock()

	dc.OnOpen(func() {
		if onOpen != nil {
			onOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if onMsg != nil {
			onMsg(msg.Data)
		}
	})
	dc.OnClose(func() {
		if onClose != nil {
			onClose()
		}
	})
	dc.OnError(func(err error) {
		if onErr != nil {
			onErr(err)
		}
	})
}

func (c *dataChannel) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return errors.New("webrtctransport: data channel not open")
	}
	return dc.Send(data)
}

func (c *dataChannel) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return nil
	}
	return dc.Close()
}

func (c *dataChannel) OnOpen(fn func())          { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *dataChannel) OnMessage(fn func([]byte)) { c.mu.Lock(); c.onMsg = fn; c.mu.Unlock() }
func (c *dataChannel) OnClose(fn func())         { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *dataChannel) OnError(fn func(error))    { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }
