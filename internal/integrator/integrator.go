// Package integrator bridges the gossip view into the media layer: it
// watches the local gossip:view-update event for peers that advertise
// media parts in their descriptor extension and keeps the media layer's
// own per-URL remotes table in sync with the latest view, grounded on
// internal/state/peers.go's notifyListeners-driven peer table.
package integrator

import (
	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/message"
	"github.com/swarmcast/meshcore/internal/rps"
)

// mediaExtKey is the descriptor extension path peers set (via
// RpsEngine.SetDescriptor) to announce the parts of a media URL they hold,
// e.g. SetDescriptor("media."+url, []int{0, 2, 4}).
const mediaExtKey = "media"

// MediaTracker is the subset of MediaFetcher the integrator needs: which
// URLs to rebuild remotes for, and where to push a rebuilt table.
type MediaTracker interface {
	TrackedURLs() []string
	SetRemotes(url string, remotes map[string][]int)
}

// Integrator pushes gossip-derived "who holds which parts" data into the
// media layer and publishes this node's own held parts back out over
// gossip.
type Integrator struct {
	selfID string
	bus    *bus.Bus
	media  MediaTracker
}

// New creates an Integrator and subscribes it to view-update events on b.
func New(selfID string, b *bus.Bus, media MediaTracker) *Integrator {
	it := &Integrator{selfID: selfID, bus: b, media: media}
	b.On(message.TypeGossipViewUpdate, it.onViewUpdate)
	return it
}

// AnnounceMedia publishes a local gossip:descriptor-update so this node's
// own descriptor advertises the given part numbers for url on the next
// exchange (spec §4.6).
func (it *Integrator) AnnounceMedia(url string, parts []int) {
	it.bus.Dispatch(message.Message{
		Type: message.TypeGossipDescriptorUpdate,
		From: it.selfID,
		To:   it.selfID,
		Data: map[string]any{"path": mediaExtKey + "." + url, "value": parts},
	})
}

// onViewUpdate rebuilds, for each URL the media layer is tracking, the
// remotes table from the current gossip view (spec §4.6): remotes =
// {d.id: d.media[url] for d in view if d.media contains url}.
func (it *Integrator) onViewUpdate(msg message.Message) {
	entries, ok := msg.Data.([]rps.NodeDescriptor)
	if !ok {
		return
	}

	for _, url := range it.media.TrackedURLs() {
		remotes := make(map[string][]int)
		for _, e := range entries {
			raw, ok := e.Get(mediaExtKey + "." + url)
			if !ok {
				continue
			}
			if parts := decodePartNumbers(raw); len(parts) > 0 {
				remotes[e.ID] = parts
			}
		}
		it.media.SetRemotes(url, remotes)
	}
}

// decodePartNumbers normalizes a descriptor's announced part list, which
// is a []int when set in-process but becomes []any of float64 once it has
// round-tripped through JSON over the wire.
func decodePartNumbers(raw any) []int {
	switch v := raw.(type) {
	case []int:
		return v
	case []any:
		out := make([]int, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case float64:
				out = append(out, int(n))
			case int:
				out = append(out, n)
			}
		}
		return out
	default:
		return nil
	}
}
