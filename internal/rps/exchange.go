package rps

import (
	"math/rand"
	"sort"
)

// Thread identifies which side of a gossip exchange produced a buffer: the
// active thread initiates toward a chosen peer, the passive thread answers
// an incoming request.
type Thread string

const (
	ThreadActive  Thread = "active"
	ThreadPassive Thread = "passive"
)

// genBuffer builds the set of descriptors thread sends to distantId, per
// spec §4.4. distantId's own entry is always excluded (a peer never needs
// its own descriptor echoed back). The target size is c/2 for the passive
// thread, or c/2-1 for the active thread, which reserves one slot for its
// own descriptor (age reset to 0); the passive buffer carries no such
// slot. If the filtered view is already at or under that target, it is
// returned whole (plus self, for the active thread); otherwise it is
// sorted by age ascending and split into a head of fresher entries and a
// tail of the h oldest, and the target count is sampled uniformly at
// random, preferring head and only reaching into tail once head is
// exhausted.
func genBuffer(thread Thread, distantId string, self NodeDescriptor, view *View, c, h int) []NodeDescriptor {
	self.Age = 0

	entries := view.Entries()
	filtered := make([]NodeDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.ID != distantId {
			filtered = append(filtered, e)
		}
	}

	target := c/2 - 1
	if thread != ThreadActive {
		target = c / 2
	}
	if target < 0 {
		target = 0
	}

	var picked []NodeDescriptor
	if len(filtered) <= target {
		picked = filtered
	} else {
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Age < filtered[j].Age })

		tailLen := h
		if tailLen > len(filtered) {
			tailLen = len(filtered)
		}
		head := filtered[:len(filtered)-tailLen]
		tail := filtered[len(filtered)-tailLen:]

		switch {
		case target < len(head):
			picked = randomSample(head, target)
		case target == len(head):
			picked = head
		default:
			picked = append(append([]NodeDescriptor(nil), head...), randomSample(tail, target-len(head))...)
		}
	}

	if thread != ThreadActive {
		return picked
	}
	buf := make([]NodeDescriptor, 0, len(picked)+1)
	buf = append(buf, self)
	buf = append(buf, picked...)
	return buf
}

// randomSample returns n uniformly-random, distinct elements of pool
// without mutating it.
func randomSample(pool []NodeDescriptor, n int) []NodeDescriptor {
	if n > len(pool) {
		n = len(pool)
	}
	cp := append([]NodeDescriptor(nil), pool...)
	rand.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	return cp[:n]
}

// mergeView folds a received buffer into view after an exchange, per spec
// §4.4's four numbered steps: dedupe by id keeping the freshest (lowest
// age) of the existing and received entries, then, only while still over
// capacity, evict in order — first up to h of the oldest (tail, by
// ascending age), then up to s randomly-chosen entries that were also in
// sent (the remote already has a copy of those), then, if still over,
// uniformly-random entries until the view is back down to c.
func mergeView(received []NodeDescriptor, sent []NodeDescriptor, view *View, selfID string, c, h, s int) {
	merged := make(map[string]NodeDescriptor, len(view.entries)+len(received))
	for _, e := range view.entries {
		if e.ID == selfID {
			continue
		}
		merged[e.ID] = e
	}
	for _, d := range received {
		if d.ID == selfID {
			continue
		}
		if existing, ok := merged[d.ID]; !ok || d.Age < existing.Age {
			merged[d.ID] = d
		}
	}

	out := make([]NodeDescriptor, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Age < out[j].Age })

	if excess := len(out) - c; excess > 0 {
		heal := h
		if heal > excess {
			heal = excess
		}
		out = out[:len(out)-heal]
	}

	if excess := len(out) - c; excess > 0 {
		sentIDs := make(map[string]bool, len(sent))
		for _, e := range sent {
			sentIDs[e.ID] = true
		}
		var idx []int
		for i, e := range out {
			if sentIDs[e.ID] {
				idx = append(idx, i)
			}
		}
		drop := s
		if drop > excess {
			drop = excess
		}
		if drop > len(idx) {
			drop = len(idx)
		}
		if drop > 0 {
			rand.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
			dropSet := make(map[int]bool, drop)
			for _, i := range idx[:drop] {
				dropSet[i] = true
			}
			kept := make([]NodeDescriptor, 0, len(out)-drop)
			for i, e := range out {
				if !dropSet[i] {
					kept = append(kept, e)
				}
			}
			out = kept
		}
	}

	if excess := len(out) - c; excess > 0 {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		out = out[:c]
	}

	view.Replace(out)
}
