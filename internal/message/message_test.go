package message

import "testing"

func TestHasHandledChecksFromAndForwardBy(t *testing.T) {
	m := Message{From: "a", ForwardBy: []string{"b", "c"}}

	for _, id := range []string{"a", "b", "c"} {
		if !m.HasHandled(id) {
			t.Fatalf("expected %q to be handled", id)
		}
	}
	if m.HasHandled("d") {
		t.Fatal("expected d to not be handled")
	}
}

func TestCloneCopiesSlicesIndependently(t *testing.T) {
	orig := Message{ForwardBy: []string{"a"}, Route: []string{"x", "y"}}
	clone := orig.Clone()

	clone.ForwardBy = append(clone.ForwardBy, "b")
	clone.Route[0] = "z"

	if len(orig.ForwardBy) != 1 {
		t.Fatalf("mutating clone's ForwardBy affected original: %v", orig.ForwardBy)
	}
	if orig.Route[0] != "x" {
		t.Fatalf("mutating clone's Route affected original: %v", orig.Route)
	}
}

func TestForwardableTaxonomy(t *testing.T) {
	forwardable := []string{TypeRequestPeer, TypeOffer, TypeAnswer, TypeICECandidate}
	for _, typ := range forwardable {
		if !Forwardable(typ) {
			t.Fatalf("expected %q to be forwardable", typ)
		}
	}

	notForwardable := []string{TypeGossipRequestExchange, TypeRequestPart, TypeConnected, "unknown"}
	for _, typ := range notForwardable {
		if Forwardable(typ) {
			t.Fatalf("expected %q to not be forwardable", typ)
		}
	}
}
