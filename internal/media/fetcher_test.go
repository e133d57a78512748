package media

import (
	"sync"
	"testing"

	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/message"
)

// pairMesh delivers every Send straight into the other side's bus, modeling
// two already-connected peers without going through internal/meshnet.
type pairMesh struct {
	other *bus.Bus
}

func (p *pairMesh) Send(msg message.Message) error {
	p.other.Dispatch(msg)
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	parts map[string][]int
}

func newFakeSink() *fakeSink { return &fakeSink{parts: make(map[string][]int)} }

func (s *fakeSink) Append(url string, partNumber int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[url] = append(s.parts[url], partNumber)
	return nil
}

func TestFetcherPeerHasAllParts(t *testing.T) {
	providerBus, consumerBus := bus.New(), bus.New()
	sink := newFakeSink()

	provider := New("provider", &pairMesh{other: consumerBus}, providerBus, nil, nil, DefaultConfig())
	consumer := New("consumer", &pairMesh{other: providerBus}, consumerBus, nil, sink, DefaultConfig())

	url := "https://example.test/clip"
	provider.Provide(url, map[string]any{"title": "clip"}, 10, map[int][]byte{
		1: []byte("part-one-data"),
		2: []byte("part-two-data"),
	})

	consumer.Add(url)

	m, ok := consumer.getMedia(url)
	if !ok {
		t.Fatal("expected consumer to be tracking the media")
	}
	if m.State != StateComplete {
		t.Fatalf("expected fetch to complete synchronously, got state %v", m.State)
	}

	sink.mu.Lock()
	got := append([]int(nil), sink.parts[url]...)
	sink.mu.Unlock()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected parts fed to sink in order [1 2], got %v", got)
	}
}

func TestFetcherDrainToSinkRequiresContiguousOrder(t *testing.T) {
	m := newMedia("u")
	m.initParts(3)
	sink := newFakeSink()
	f := &MediaFetcher{sink: sink}

	// Part 2 arrives before part 1: nothing should drain yet.
	m.parts[2].Status = PartAvailable
	m.parts[2].Data = []byte("two")
	f.drainToSink(m)

	if len(sink.parts["u"]) != 0 {
		t.Fatalf("expected no parts drained out of order, got %v", sink.parts["u"])
	}

	m.parts[1].Status = PartAvailable
	m.parts[1].Data = []byte("one")
	f.drainToSink(m)

	if got := sink.parts["u"]; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2] once part 1 arrives, got %v", got)
	}
	if m.parts[1].Status != PartAdded || m.parts[2].Status != PartAdded {
		t.Fatal("expected drained parts to move to Added")
	}
}

func TestNextPartsToDownloadSkipsNonNeeded(t *testing.T) {
	m := newMedia("u")
	m.initParts(3)
	m.parts[1].Status = PartPending
	m.addRemoteParts("peer-a", 1, 2, 3)

	f := &MediaFetcher{}
	picked := f.nextPartsToDownload(m, 5)

	if len(picked) != 2 {
		t.Fatalf("expected 2 needed parts (2 and 3), got %d", len(picked))
	}
	for _, p := range picked {
		if p.Source != "peer-a" {
			t.Fatalf("expected source peer-a, got %q", p.Source)
		}
		if p.Status != PartPending {
			t.Fatalf("expected picked part to become pending, got %v", p.Status)
		}
	}
}

func TestNextPartsToDownloadFallsBackToOrigin(t *testing.T) {
	m := newMedia("u")
	m.initParts(1)

	f := &MediaFetcher{}
	picked := f.nextPartsToDownload(m, 1)

	if len(picked) != 1 || picked[0].Source != OriginSource {
		t.Fatalf("expected fallback to origin source, got %+v", picked)
	}
}

// TestNextPartsToDownloadFiltersByHolder exercises spec §8 scenario 2
// ("Remote-has-part") literally: remotes = {"2": [0,2,4], "5": [1,2]} means
// peer 2 is a candidate source for parts 0, 2, and 4 but not part 1; peer 5
// is a candidate for part 1 and 2 but not part 0 or 4. A part with no
// holder at all must fall back to the origin sentinel.
func TestNextPartsToDownloadFiltersByHolder(t *testing.T) {
	m := newMedia("u")
	m.initParts(5) // parts numbered 1..5; treat part 0 as out of range here
	m.setRemotes(map[string][]int{
		"2": {0, 2, 4},
		"5": {1, 2},
	})

	f := &MediaFetcher{}
	picked := f.nextPartsToDownload(m, 5)
	bySource := make(map[int]string, len(picked))
	for _, p := range picked {
		bySource[p.Number] = p.Source
	}

	if bySource[2] != "2" && bySource[2] != "5" {
		t.Fatalf("expected part 2 from one of its holders (2 or 5), got %q", bySource[2])
	}
	if bySource[1] != "5" {
		t.Fatalf("expected only peer 5 to hold part 1, got %q", bySource[1])
	}
	if bySource[4] != "2" {
		t.Fatalf("expected only peer 2 to hold part 4, got %q", bySource[4])
	}
	if bySource[3] != OriginSource {
		t.Fatalf("expected part 3 with no holder to fall back to origin, got %q", bySource[3])
	}
	if bySource[5] != OriginSource {
		t.Fatalf("expected part 5 with no holder to fall back to origin, got %q", bySource[5])
	}
}
