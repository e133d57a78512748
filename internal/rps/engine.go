package rps

import (
	"encoding/json"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/message"
)

var log = logging.Logger("rps")

// DefaultGossipPeriod is how often the active thread initiates an exchange.
const DefaultGossipPeriod = 2500 * time.Millisecond

// DefaultViewCapacity is the view's maximum size (C in spec §5).
const DefaultViewCapacity = 10

// Policy selects which view entry the active thread gossips with next.
type Policy string

const (
	PolicyRandom Policy = "random"
	PolicyOldest Policy = "oldest"
)

// Mesh is the subset of meshnet.MeshNode the engine needs: direct delivery
// to an already-connected peer, on-demand connection setup, and a way to
// tell whether a candidate is connected yet.
type Mesh interface {
	Send(msg message.Message) error
	Connect(remoteID string) error
	Open(remoteID string) bool
}

// RpsEngine runs the active (initiating) and passive (responding) gossip
// threads against a shared View, grounded on internal/mq/manager.go's
// ticker-driven publish loop.
type RpsEngine struct {
	selfID string
	mesh   Mesh
	bus    *bus.Bus
	view   *View

	c, h, s int
	period  time.Duration
	policy  Policy

	mu         sync.Mutex
	pending    bus.Subscription
	ticker     *time.Ticker
	stopCh     chan struct{}
	selfDesc   NodeDescriptor
}

// Config bundles the engine's tunables (spec §5 defaults: c=10, h=0, s=0,
// gossipPeriod=2500ms).
type Config struct {
	C, H, S int
	Period  time.Duration
	Policy  Policy
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{C: DefaultViewCapacity, H: 0, S: 0, Period: DefaultGossipPeriod, Policy: PolicyRandom}
}

// New creates an engine for selfID and wires its passive thread onto bus.
func New(selfID string, mesh Mesh, b *bus.Bus, cfg Config) *RpsEngine {
	e := &RpsEngine{
		selfID: selfID,
		mesh:   mesh,
		bus:    b,
		view:   NewView(),
		c:      cfg.C,
		h:      cfg.H,
		s:      cfg.S,
		period: cfg.Period,
		policy: cfg.Policy,
		stopCh: make(chan struct{}),
	}
	e.selfDesc = NodeDescriptor{ID: selfID}
	b.On(message.TypeGossipRequestExchange, e.handlePassive)
	b.On(message.TypeGossipDescriptorUpdate, e.handleDescriptorUpdate)
	return e
}

// SetDescriptor sets a path on this node's own descriptor, announced to
// peers on the next active exchange; the passive (answer) buffer does not
// carry this node's descriptor (spec §11).
func (e *RpsEngine) SetDescriptor(path string, value any) {
	e.mu.Lock()
	e.selfDesc.Set(path, value)
	e.mu.Unlock()
}

func (e *RpsEngine) handleDescriptorUpdate(msg message.Message) {
	fields, ok := msg.Data.(map[string]any)
	if !ok {
		return
	}
	path, _ := fields["path"].(string)
	if path == "" {
		return
	}
	e.SetDescriptor(path, fields["value"])
}

// View exposes the engine's current membership sample.
func (e *RpsEngine) View() *View { return e.view }

// Seed injects an initial contact, used when a peer joins the mesh with no
// prior membership knowledge (spec §5: first-view bootstrap).
func (e *RpsEngine) Seed(id string) {
	e.view.entries = append(e.view.entries, NodeDescriptor{ID: id, Age: 0})
}

// Start begins the active thread's periodic exchange.
func (e *RpsEngine) Start() {
	e.mu.Lock()
	if e.ticker != nil {
		e.mu.Unlock()
		return
	}
	e.ticker = time.NewTicker(e.period)
	ticker := e.ticker
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				e.tick()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop halts the active thread and abandons any pending exchange.
func (e *RpsEngine) Stop() {
	e.mu.Lock()
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.abandonPending()
	e.mu.Unlock()
	close(e.stopCh)
}

// abandonPending drops any not-yet-answered exchange listener without
// error, per spec §5's cancellation semantics: a slow peer simply gets
// dropped at the next tick, it is not treated as a failure.
func (e *RpsEngine) abandonPending() {
	if e.pending != 0 {
		e.bus.RemoveListener(e.pending)
		e.pending = 0
	}
}

func (e *RpsEngine) tick() {
	e.view.IncrementAges()

	e.mu.Lock()
	e.abandonPending()
	e.mu.Unlock()

	var target NodeDescriptor
	var ok bool
	if e.policy == PolicyOldest {
		target, ok = e.view.Oldest()
	} else {
		target, ok = e.view.Random()
	}
	if !ok {
		return
	}

	if !e.mesh.Open(target.ID) {
		if err := e.mesh.Connect(target.ID); err != nil {
			log.Warnf("gossip: connect to %s: %v", target.ID, err)
		}
		return
	}

	e.mu.Lock()
	self := e.selfDesc
	e.mu.Unlock()
	sent := genBuffer(ThreadActive, target.ID, self, e.view, e.c, e.h)

	e.mu.Lock()
	e.pending = e.bus.Once(message.TypeGossipAnswerExchange, func(msg message.Message) {
		if msg.From != target.ID {
			return
		}
		received, err := decodeDescriptors(msg.Data)
		if err != nil {
			log.Warnf("gossip: decode answer from %s: %v", target.ID, err)
			return
		}
		mergeView(received, sent, e.view, e.selfID, e.c, e.h, e.s)
		e.dispatchViewUpdate()
	})
	e.mu.Unlock()

	if err := e.mesh.Send(message.Message{
		Type: message.TypeGossipRequestExchange,
		From: e.selfID,
		To:   target.ID,
		Data: sent,
	}); err != nil {
		log.Warnf("gossip: send request-exchange to %s: %v", target.ID, err)
	}
}

func (e *RpsEngine) handlePassive(msg message.Message) {
	received, err := decodeDescriptors(msg.Data)
	if err != nil {
		log.Warnf("gossip: decode request from %s: %v", msg.From, err)
		return
	}

	e.mu.Lock()
	self := e.selfDesc
	e.mu.Unlock()
	sent := genBuffer(ThreadPassive, msg.From, self, e.view, e.c, e.h)
	mergeView(received, sent, e.view, e.selfID, e.c, e.h, e.s)
	e.dispatchViewUpdate()

	if err := e.mesh.Send(message.Message{
		Type: message.TypeGossipAnswerExchange,
		From: e.selfID,
		To:   msg.From,
		Data: sent,
	}); err != nil {
		log.Warnf("gossip: send answer-exchange to %s: %v", msg.From, err)
	}
}

// dispatchViewUpdate fires a local-only event (never put on the wire) so
// internal/integrator can translate the refreshed view into per-media
// remote tables.
func (e *RpsEngine) dispatchViewUpdate() {
	e.bus.Dispatch(message.Message{
		Type: message.TypeGossipViewUpdate,
		From: e.selfID,
		To:   e.selfID,
		Data: e.view.Entries(),
	})
}

// decodeDescriptors normalizes msg.Data into []NodeDescriptor whether it
// arrived as the concrete type (same-process tests) or as the generic
// []interface{} a JSON round-trip over the wire produces.
func decodeDescriptors(data any) ([]NodeDescriptor, error) {
	if d, ok := data.([]NodeDescriptor); ok {
		return d, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out []NodeDescriptor
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
