package media

import "testing"

func TestNewMediaStartsAwaitingMetadata(t *testing.T) {
	m := newMedia("https://example.test/video")
	if m.State != StateAwaitMetadata {
		t.Fatalf("expected new media to await metadata, got %v", m.State)
	}
	if m.nextFeed != 1 {
		t.Fatalf("expected nextFeed to start at 1, got %d", m.nextFeed)
	}
}

func TestAddRemotePartsDedupes(t *testing.T) {
	m := newMedia("u")
	m.addRemoteParts("peer-1", 0, 2)
	m.addRemoteParts("peer-1", 2, 4)

	got := m.remotes["peer-1"]
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct parts for peer-1, got %d: %v", len(got), got)
	}
}

func TestHoldersOfFiltersByPart(t *testing.T) {
	m := newMedia("u")
	m.addRemoteParts("peer-1", 0, 2, 4)
	m.addRemoteParts("peer-2", 1, 2)

	holders := m.holdersOf(2)
	if len(holders) != 2 {
		t.Fatalf("expected 2 holders of part 2, got %d: %v", len(holders), holders)
	}
	if holders := m.holdersOf(0); len(holders) != 1 || holders[0] != "peer-1" {
		t.Fatalf("expected only peer-1 to hold part 0, got %v", holders)
	}
	if holders := m.holdersOf(9); len(holders) != 0 {
		t.Fatalf("expected no holders of an untracked part, got %v", holders)
	}
}

func TestSetRemotesReplacesTableWholesale(t *testing.T) {
	m := newMedia("u")
	m.addRemoteParts("peer-1", 0)

	m.setRemotes(map[string][]int{"peer-2": {1}})

	if len(m.holdersOf(0)) != 0 {
		t.Fatal("expected setRemotes to drop the prior table entirely")
	}
	if holders := m.holdersOf(1); len(holders) != 1 || holders[0] != "peer-2" {
		t.Fatalf("expected peer-2 to hold part 1, got %v", holders)
	}
}

func TestHeldPartsReportsAvailableAndAdded(t *testing.T) {
	m := newMedia("u")
	m.initParts(3)
	m.parts[1].Status = PartAvailable
	m.parts[2].Status = PartAdded

	held := m.heldParts()
	if len(held) != 2 || held[0] != 1 || held[1] != 2 {
		t.Fatalf("expected held parts [1 2], got %v", held)
	}
}

func TestInitPartsCreatesNeededParts(t *testing.T) {
	m := newMedia("u")
	m.initParts(3)

	if m.NumParts != 3 {
		t.Fatalf("expected NumParts=3, got %d", m.NumParts)
	}
	for i := 1; i <= 3; i++ {
		p, ok := m.parts[i]
		if !ok {
			t.Fatalf("expected part %d to exist", i)
		}
		if p.Status != PartNeeded {
			t.Fatalf("expected part %d to start Needed, got %v", i, p.Status)
		}
	}
}

func TestInitPartsDoesNotResetExistingParts(t *testing.T) {
	m := newMedia("u")
	m.initParts(2)
	m.parts[1].Status = PartAvailable

	m.initParts(2) // re-announce with same count must not clobber progress

	if m.parts[1].Status != PartAvailable {
		t.Fatalf("expected part 1 to remain Available, got %v", m.parts[1].Status)
	}
}
