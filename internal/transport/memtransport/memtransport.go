// Package memtransport is an in-memory transport.Factory used by tests, the
// same way the teacher prefers an httptest.Server fake over a mocking
// framework (internal/rendezvous/templates_test.go) — there is no
// stretchr/testify anywhere in the teacher tree, so this package has no
// mock-generation dependency either.
//
// There is no real SDP here: CreateOffer/CreateAnswer/SetAnswer exchange an
// opaque token and both sides' data channels open inside CreateAnswer, as
// soon as the answering side accepts the offer (SetAnswer does nothing),
// which is enough to exercise
// ConnectionRegistry's state machine without a real codec.
package memtransport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/swarmcast/meshcore/internal/transport"
)

var seq uint64

// Factory is a transport.Factory whose Connections pair up through a
// shared Network by token exchanged as the "SDP".
type Factory struct {
	net *Network
}

// NewFactory creates a Factory attached to net.
func NewFactory(net *Network) *Factory {
	return &Factory{net: net}
}

func (f *Factory) New(onLocalICE func(candidate any)) (transport.Connection, error) {
	return &connection{net: f.net, channel: &channel{}, onLocalICE: onLocalICE}, nil
}

// Network pairs up connections created from tokens handed out by
// CreateOffer, so a Factory.New on one side and another on a different
// "peer" can be linked purely by the opaque SDP string that would, on a
// real transport, cross the network as a Message.
type Network struct {
	mu      sync.Mutex
	waiting map[string]*connection
}

// NewNetwork creates an empty shared network.
func NewNetwork() *Network {
	return &Network{waiting: make(map[string]*connection)}
}

type connection struct {
	net        *Network
	channel    *channel
	onLocalICE func(candidate any)

	mu     sync.Mutex
	peer   *connection
	token  string
	closed bool
}

func (c *connection) CreateOffer() (string, error) {
	c.mu.Lock()
	c.token = fmt.Sprintf("mem-offer-%d", atomic.AddUint64(&seq, 1))
	token := c.token
	c.mu.Unlock()

	c.net.mu.Lock()
	c.net.waiting[token] = c
	c.net.mu.Unlock()
	return token, nil
}

func (c *connection) CreateAnswer(offerSDP string) (string, error) {
	c.net.mu.Lock()
	peer, ok := c.net.waiting[offerSDP]
	delete(c.net.waiting, offerSDP)
	c.net.mu.Unlock()
	if !ok {
		return "", errors.New("memtransport: no offer pending for token")
	}

	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	peer.mu.Lock()
	peer.peer = c
	peer.mu.Unlock()

	c.channel.bindPeer(peer.channel)
	peer.channel.bindPeer(c.channel)

	// Both ends open as soon as the answer is produced: memtransport models
	// an already-reliable channel, so there is no separate ICE-connect
	// delay to wait out.
	c.channel.fireOpen()
	peer.channel.fireOpen()

	return fmt.Sprintf("mem-answer-%d", atomic.AddUint64(&seq, 1)), nil
}

func (c *connection) SetAnswer(_ string) error {
	return nil
}

func (c *connection) AddICECandidate(_ any) error {
	return nil
}

func (c *connection) Channel() transport.Channel {
	return c.channel
}

func (c *connection) Close() error {
	return c.channel.Close()
}

// channel is a transport.Channel half of an in-memory pipe.
type channel struct {
	mu      sync.Mutex
	peer    *channel
	closed  bool
	onOpen  func()
	onMsg   func([]byte)
	onClose func()
	onError func(error)
}

func (c *channel) bindPeer(p *channel) {
	c.mu.Lock()
	c.peer = p
	c.mu.Unlock()
}

func (c *channel) fireOpen() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *channel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("memtransport: send on closed channel")
	}
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return errors.New("memtransport: channel not paired")
	}

	peer.mu.Lock()
	cb := peer.onMsg
	peer.mu.Unlock()
	if cb != nil {
		cp := append([]byte(nil), data...)
		go cb(cp)
	}
	return nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cb := c.onClose
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (c *channel) OnOpen(fn func())          { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *channel) OnMessage(fn func([]byte)) { c.mu.Lock(); c.onMsg = fn; c.mu.Unlock() }
func (c *channel) OnClose(fn func())         { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *channel) OnError(fn func(error))    { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }
