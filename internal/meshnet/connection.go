package meshnet

import "sync"

// State is a Connection's position in the state machine spec §3 defines:
// connecting → open → close, with close terminal.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClose
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClose:
		return "close"
	default:
		return "unknown"
	}
}

// Connection tracks one remote peer's handshake/transport state. It owns
// outbound send and reports connected/disconnected to the owning MeshNode
// via the callbacks installed by ConnectionRegistry.
type Connection struct {
	RemoteID string

	mu    sync.Mutex
	state State
	ch    sendCloser
}

// sendCloser is the minimal surface Connection needs from a
// transport.Channel; kept narrow so tests can supply a stub without
// pulling in the transport package.
type sendCloser interface {
	Send([]byte) error
	Close() error
}

func newConnection(remoteID string) *Connection {
	return &Connection{RemoteID: remoteID, state: StateConnecting}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the connection can currently carry traffic.
func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

func (c *Connection) setChannel(ch sendCloser) {
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes data over the connection's channel. Returns
// meshcore.ErrUnknownTransport if the channel isn't open.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	ch := c.ch
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || ch == nil {
		return errUnknownTransport(c.RemoteID)
	}
	return ch.Send(data)
}

// Close transitions the connection to close and releases its channel.
func (c *Connection) Close() {
	c.mu.Lock()
	ch := c.ch
	c.ch = nil
	c.state = StateClose
	c.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
}
