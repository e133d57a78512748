// Package rps implements the gossip-based random peer sampling engine:
// periodic active/passive view exchange that keeps every peer's partial
// view of the mesh fresh without any node needing global membership
// (spec §5), grounded on internal/mq/manager.go's ticker-driven loop and
// internal/state/peers.go's peer-table bookkeeping.
package rps

import "strings"

// NodeDescriptor is one entry in a View: a peer's id, the age of this
// entry (ticks since it was last refreshed by direct contact), and an
// open extension registry for descriptor data the mesh layer doesn't
// interpret itself (spec §11: per-path self-descriptor fields announced
// over gossip:descriptor-update).
type NodeDescriptor struct {
	ID  string         `json:"id"`
	Age int            `json:"age"`
	Ext map[string]any `json:"ext,omitempty"`
}

// Clone returns a deep-enough copy safe to mutate independently.
func (d NodeDescriptor) Clone() NodeDescriptor {
	c := d
	if d.Ext != nil {
		c.Ext = make(map[string]any, len(d.Ext))
		for k, v := range d.Ext {
			c.Ext[k] = v
		}
	}
	return c
}

// Set stores value at a dot-separated path, creating intermediate maps as
// needed, e.g. Set("media.active", true) sets Ext["media"]["active"].
func (d *NodeDescriptor) Set(path string, value any) {
	if d.Ext == nil {
		d.Ext = make(map[string]any)
	}
	parts := strings.Split(path, ".")
	m := d.Ext
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Get reads a dot-separated path, returning ok=false if any segment is
// absent or not itself a nested map.
func (d NodeDescriptor) Get(path string) (any, bool) {
	if d.Ext == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	m := d.Ext
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	v, ok := m[parts[len(parts)-1]]
	return v, ok
}
