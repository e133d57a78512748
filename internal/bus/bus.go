// Package bus implements the in-process publish/subscribe that glues the
// mesh, gossip, and media subsystems together (spec §4.1), grounded on the
// teacher's two listener-registry idioms: internal/state/peers.go's
// notifyListeners fan-out and internal/mq/manager.go's per-topic subscriber
// list.
//
// JS engines let On/RemoveListener key off function identity; Go closures
// aren't comparable that way, so On returns a Subscription handle and
// RemoveListener takes that handle instead of a bare function value. This
// keeps "listeners form a set" (a second On call makes a second, distinct
// subscription — exactly like calling addEventListener twice with two
// different closures) without relying on reflection-based function pointer
// comparison, which breaks for method values and bound closures.
package bus

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/swarmcast/meshcore/internal/message"
)

var log = logging.Logger("bus")

// Listener receives a dispatched message.
type Listener func(message.Message)

// Subscription identifies one registered listener so it can be removed.
type Subscription uint64

type entry struct {
	id     Subscription
	fn     Listener
	once   bool
	active bool
}

// Bus dispatches messages to listeners registered for their type.
// Dispatch order within a type is registration order, satisfying the
// determinism spec §4.1 requires.
type Bus struct {
	mu      sync.Mutex
	nextID  Subscription
	byType  map[string][]*entry
	byToken map[Subscription]*entry
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		byType:  make(map[string][]*entry),
		byToken: make(map[Subscription]*entry),
	}
}

// On registers a persistent listener for typ and returns a handle that can
// be passed to RemoveListener.
func (b *Bus) On(typ string, fn Listener) Subscription {
	return b.register(typ, fn, false)
}

// Once registers a listener that is automatically removed after its first
// invocation (used by RpsEngine's active thread to await exactly one
// gossip:answer-exchange per tick).
func (b *Bus) Once(typ string, fn Listener) Subscription {
	return b.register(typ, fn, true)
}

func (b *Bus) register(typ string, fn Listener, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	e := &entry{id: b.nextID, fn: fn, once: once, active: true}
	b.byType[typ] = append(b.byType[typ], e)
	b.byToken[e.id] = e
	return e.id
}

// RemoveListener unregisters the subscription. Safe to call more than once
// or with an already-fired one-shot subscription.
func (b *Bus) RemoveListener(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byToken[sub]
	if !ok {
		return
	}
	delete(b.byToken, sub)
	e.active = false
}

// RemoveAllListeners drops every listener for typ, or every listener on the
// bus if typ is empty.
func (b *Bus) RemoveAllListeners(typ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typ == "" {
		b.byType = make(map[string][]*entry)
		b.byToken = make(map[Subscription]*entry)
		return
	}
	for _, e := range b.byType[typ] {
		delete(b.byToken, e.id)
	}
	delete(b.byType, typ)
}

// Dispatch validates the message and, if valid, invokes every active
// listener registered for its type, in registration order. Dispatch of one
// message to its listeners runs to completion before Dispatch returns
// (spec §5: "dispatch of a message to listeners runs to completion before
// the next message is dispatched").
func (b *Bus) Dispatch(msg message.Message) {
	if err := Validate(msg); err != nil {
		log.Warnf("dropping malformed message type=%q: %v", msg.Type, err)
		return
	}

	b.mu.Lock()
	listeners := b.byType[msg.Type]
	snapshot := make([]*entry, 0, len(listeners))
	for _, e := range listeners {
		if e.active {
			snapshot = append(snapshot, e)
		}
	}
	// Prune fired/removed one-shots and dead entries while holding the lock,
	// so a Once listener is guaranteed to fire exactly once even if Dispatch
	// is called concurrently for the same type.
	kept := listeners[:0]
	for _, e := range listeners {
		if e.active && !e.once {
			kept = append(kept, e)
		} else if e.active && e.once {
			delete(b.byToken, e.id)
		}
	}
	b.byType[msg.Type] = kept
	b.mu.Unlock()

	for _, e := range snapshot {
		e.fn(msg)
	}
}
