package rps

import (
	"math/rand"
)

// View is a peer's bounded sample of the mesh's membership, the core data
// structure the active and passive threads read and mutate.
type View struct {
	entries []NodeDescriptor
}

// NewView creates an empty view.
func NewView() *View { return &View{} }

// Entries returns a copy of the view's current descriptors.
func (v *View) Entries() []NodeDescriptor {
	out := make([]NodeDescriptor, len(v.entries))
	copy(out, v.entries)
	return out
}

// Len reports the view's current size.
func (v *View) Len() int { return len(v.entries) }

// IndexOf returns the position of id in the view, or -1.
func (v *View) IndexOf(id string) int {
	for i, e := range v.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Random returns a uniformly random entry, or false if the view is empty.
func (v *View) Random() (NodeDescriptor, bool) {
	if len(v.entries) == 0 {
		return NodeDescriptor{}, false
	}
	return v.entries[rand.Intn(len(v.entries))], true
}

// Oldest returns the entry with the highest age, or false if empty.
func (v *View) Oldest() (NodeDescriptor, bool) {
	if len(v.entries) == 0 {
		return NodeDescriptor{}, false
	}
	oldest := v.entries[0]
	for _, e := range v.entries[1:] {
		if e.Age > oldest.Age {
			oldest = e
		}
	}
	return oldest, true
}

// IncrementAges ages every entry by one tick, called once per active-thread
// cycle so freshness decays between gossip rounds.
func (v *View) IncrementAges() {
	for i := range v.entries {
		v.entries[i].Age++
	}
}

// Replace swaps the view's contents wholesale, the result of a merge.
func (v *View) Replace(entries []NodeDescriptor) {
	v.entries = entries
}
