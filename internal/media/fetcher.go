package media

import (
	"context"
	"encoding/base64"
	"math/rand"
	"strconv"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/message"
	"github.com/swarmcast/meshcore/internal/transport"
)

var log = logging.Logger("media")

// DefaultDownloadTimeout bounds how long a fetcher waits for a response
// before rolling a part back to needed or falling back to the origin.
const DefaultDownloadTimeout = 5 * time.Second

// DefaultConcurrentParts is how many parts are requested in flight at once.
const DefaultConcurrentParts = 3

// Sink receives reassembled part bytes in strictly increasing part order.
type Sink interface {
	Append(url string, partNumber int, data []byte) error
}

// Mesh is the subset of meshnet.MeshNode the fetcher needs to exchange
// media messages with direct neighbors.
type Mesh interface {
	Send(msg message.Message) error
}

// Announcer publishes "parts I hold for this URL" into the gossip layer
// (spec §4.6: a gossip:descriptor-update under the media.<url> path), so
// other peers' view updates can learn this node is now a source for them.
type Announcer interface {
	AnnounceMedia(url string, parts []int)
}

// local is one item this node can serve to other peers: metadata plus
// whatever parts are locally available.
type local struct {
	metadata any
	partSize int64
	numParts int
	parts    map[int][]byte
}

// Config bundles the fetcher's tunables (spec §6 defaults).
type Config struct {
	ChunkSize       int
	DownloadTimeout time.Duration
	ConcurrentParts int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, DownloadTimeout: DefaultDownloadTimeout, ConcurrentParts: DefaultConcurrentParts}
}

// MediaFetcher drives the add → metadata → head → parts pipeline for every
// URL a caller is interested in, and answers the same requests on behalf
// of URLs this node can itself serve.
type MediaFetcher struct {
	selfID string
	mesh   Mesh
	bus    *bus.Bus
	origin transport.Origin
	sink   Sink
	cfg    Config

	mu        sync.Mutex
	media     map[string]*Media
	served    map[string]*local
	timers    map[string]*time.Timer // keyed by "url" or "url#part"
	announcer Announcer
}

// New creates a fetcher. origin may be nil if no HTTP fallback is
// configured, in which case unanswered requests simply time out.
func New(selfID string, mesh Mesh, b *bus.Bus, origin transport.Origin, sink Sink, cfg Config) *MediaFetcher {
	f := &MediaFetcher{
		selfID: selfID,
		mesh:   mesh,
		bus:    b,
		origin: origin,
		sink:   sink,
		cfg:    cfg,
		media:  make(map[string]*Media),
		served: make(map[string]*local),
		timers: make(map[string]*time.Timer),
	}
	b.On(message.TypeRequestMetadata, f.onRequestMetadata)
	b.On(message.TypeMetadata, f.onMetadata)
	b.On(message.TypeRequestHead, f.onRequestHead)
	b.On(message.TypeHead, f.onHead)
	b.On(message.TypeRequestPart, f.onRequestPart)
	b.On(message.TypePart, f.onPart)
	return f
}

// Provide registers content this node can serve to other peers, and
// announces every part of it as held so peers already tracking this URL
// learn this node as a source on their next gossip view update.
func (f *MediaFetcher) Provide(url string, metadata any, partSize int64, parts map[int][]byte) {
	f.mu.Lock()
	f.served[url] = &local{metadata: metadata, partSize: partSize, numParts: len(parts), parts: parts}
	f.mu.Unlock()
	f.announce(url, rangeInts(len(parts)))
}

// SetAnnouncer wires the gossip publisher used to advertise held parts. It
// is set after construction to break the fetcher/integrator construction
// cycle: node.go builds the fetcher, then the integrator around it, then
// calls this.
func (f *MediaFetcher) SetAnnouncer(a Announcer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announcer = a
}

// TrackedURLs returns every URL currently being fetched, so an Integrator
// knows which media to rebuild remotes for on each gossip view update.
func (f *MediaFetcher) TrackedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.media))
	for url := range f.media {
		out = append(out, url)
	}
	return out
}

// SetRemotes replaces url's known part-holders, the result of a gossip
// view update (spec §4.6), and immediately tries to fill any download
// slots the new sources free up.
func (f *MediaFetcher) SetRemotes(url string, remotes map[string][]int) {
	m, ok := f.getMedia(url)
	if !ok {
		return
	}
	m.setRemotes(remotes)
	f.downloadNext(url)
}

func (f *MediaFetcher) announce(url string, parts []int) {
	f.mu.Lock()
	a := f.announcer
	f.mu.Unlock()
	if a != nil {
		a.AnnounceMedia(url, parts)
	}
}

// Add starts fetching url: broadcasts a metadata request to direct
// neighbors and arms the origin-fallback timer.
func (f *MediaFetcher) Add(url string) {
	f.mu.Lock()
	if _, ok := f.media[url]; ok {
		f.mu.Unlock()
		return
	}
	m := newMedia(url)
	f.media[url] = m
	f.mu.Unlock()

	f.send(message.Message{Type: message.TypeRequestMetadata, From: f.selfID, To: message.Broadcast, URL: url})
	f.armTimeout(url+"#metadata", func() { f.fallbackMetadata(url) })
}

func (f *MediaFetcher) send(msg message.Message) {
	if err := f.mesh.Send(msg); err != nil {
		log.Warnf("media: send %s for %s: %v", msg.Type, msg.URL, err)
	}
}

func (f *MediaFetcher) armTimeout(key string, fn func()) {
	f.mu.Lock()
	if t, ok := f.timers[key]; ok {
		t.Stop()
	}
	f.timers[key] = time.AfterFunc(f.cfg.DownloadTimeout, fn)
	f.mu.Unlock()
}

func (f *MediaFetcher) cancelTimeout(key string) {
	f.mu.Lock()
	if t, ok := f.timers[key]; ok {
		t.Stop()
		delete(f.timers, key)
	}
	f.mu.Unlock()
}

func (f *MediaFetcher) getMedia(url string) (*Media, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.media[url]
	return m, ok
}

// --- serving side: answer requests for content this node Provide()s ---

func (f *MediaFetcher) onRequestMetadata(msg message.Message) {
	f.mu.Lock()
	item, ok := f.served[msg.URL]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.send(message.Message{Type: message.TypeMetadata, From: f.selfID, To: msg.From, URL: msg.URL, Data: item.metadata})
}

func (f *MediaFetcher) onRequestHead(msg message.Message) {
	f.mu.Lock()
	item, ok := f.served[msg.URL]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.send(message.Message{
		Type: message.TypeHead, From: f.selfID, To: msg.From, URL: msg.URL,
		Data: map[string]any{"numParts": item.numParts, "partSize": item.partSize},
	})
}

func (f *MediaFetcher) onRequestPart(msg message.Message) {
	partNumber, err := strconv.Atoi(msg.Number)
	if err != nil {
		return
	}
	f.mu.Lock()
	item, ok := f.served[msg.URL]
	f.mu.Unlock()
	if !ok {
		return
	}
	data, ok := item.parts[partNumber]
	if !ok {
		return
	}
	numbers, pieces := chunkPart(partNumber, data, f.cfg.ChunkSize)
	for i := range numbers {
		f.send(message.Message{
			Type: message.TypePart, From: f.selfID, To: msg.From, URL: msg.URL,
			Number: numbers[i], Data: pieces[i],
		})
	}
}

// --- consuming side: drive our own fetches forward ---

func (f *MediaFetcher) onMetadata(msg message.Message) {
	m, ok := f.getMedia(msg.URL)
	if !ok {
		return
	}
	m.mu.Lock()
	alreadyPast := m.State != StateAwaitMetadata
	if !alreadyPast {
		m.Metadata = msg.Data
		m.State = StateAwaitHead
	}
	m.mu.Unlock()
	if alreadyPast {
		return
	}
	f.cancelTimeout(msg.URL + "#metadata")

	f.send(message.Message{Type: message.TypeRequestHead, From: f.selfID, To: message.Broadcast, URL: msg.URL})
	f.armTimeout(msg.URL+"#head", func() { f.fallbackHead(msg.URL) })
}

func (f *MediaFetcher) onHead(msg message.Message) {
	m, ok := f.getMedia(msg.URL)
	if !ok {
		return
	}
	m.mu.Lock()
	alreadyPast := m.State != StateAwaitHead
	m.mu.Unlock()
	if alreadyPast {
		return
	}

	fields, _ := msg.Data.(map[string]any)
	numParts := intField(fields, "numParts")
	partSize := int64(intField(fields, "partSize"))
	if numParts <= 0 {
		return
	}

	m.mu.Lock()
	m.State = StateFetchingParts
	m.PartSize = partSize
	m.mu.Unlock()
	m.initParts(numParts)
	// A peer that answers head is assumed to hold the full content it just
	// described (it was Provide()-initialized with complete parts), so it
	// becomes a candidate source for every part up front.
	m.addRemoteParts(msg.From, rangeInts(numParts)...)
	f.cancelTimeout(msg.URL + "#head")

	f.downloadNext(msg.URL)
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// nextPartsToDownload selects up to n currently-needed parts and assigns
// each a source by uniform random choice among the peers known to hold
// that specific part number, falling back to OriginSource when no peer
// holds it (spec §4.5/§6: source of last resort).
func (f *MediaFetcher) nextPartsToDownload(m *Media, n int) []*Part {
	m.mu.Lock()
	defer m.mu.Unlock()

	var picked []*Part
	for i := 1; i <= m.NumParts && len(picked) < n; i++ {
		p := m.parts[i]
		if p == nil || p.Status != PartNeeded {
			continue
		}
		p.Source = pickSource(m.holdersOf(i))
		p.Status = PartPending
		picked = append(picked, p)
	}
	return picked
}

func pickSource(holders []string) string {
	if len(holders) == 0 {
		return OriginSource
	}
	return holders[rand.Intn(len(holders))]
}

func (f *MediaFetcher) downloadNext(url string) {
	m, ok := f.getMedia(url)
	if !ok {
		return
	}
	parts := f.nextPartsToDownload(m, f.cfg.ConcurrentParts)
	for _, p := range parts {
		f.requestPart(m, p)
	}
}

func (f *MediaFetcher) requestPart(m *Media, p *Part) {
	key := m.URL + "#" + strconv.Itoa(p.Number)
	f.armTimeout(key, func() { f.onPartTimeout(m, p) })

	if p.Source == OriginSource {
		go f.fetchFromOrigin(m, p)
		return
	}
	f.send(message.Message{
		Type: message.TypeRequestPart, From: f.selfID, To: p.Source, URL: m.URL,
		Number: strconv.Itoa(p.Number),
	})
}

func (f *MediaFetcher) fetchFromOrigin(m *Media, p *Part) {
	if f.origin == nil {
		f.onPartTimeout(m, p)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.DownloadTimeout)
	defer cancel()

	var rng *transport.ByteRange
	if m.PartSize > 0 {
		start := int64(p.Number-1) * m.PartSize
		rng = &transport.ByteRange{Start: start, End: start + m.PartSize - 1}
	}
	v, err := f.origin.Fetch(ctx, m.URL, transport.ResponseArrayBuffer, rng)
	if err != nil {
		log.Warnf("media: origin fetch %s part %d: %v", m.URL, p.Number, err)
		f.onPartTimeout(m, p)
		return
	}
	data, _ := v.([]byte)
	f.completePart(m, p, data)
}

func (f *MediaFetcher) onPart(msg message.Message) {
	m, ok := f.getMedia(msg.URL)
	if !ok {
		return
	}
	partNumber, chunkIdx, count, err := parseChunkNumber(msg.Number)
	if err != nil {
		log.Warnf("media: %v", err)
		return
	}

	m.mu.Lock()
	p := m.parts[partNumber]
	m.mu.Unlock()
	if p == nil || p.Status != PartPending {
		return
	}

	var data []byte
	switch d := msg.Data.(type) {
	case []byte:
		data = d
	case string:
		// A []byte payload arrives base64-encoded once it has crossed the wire.
		decoded, err := base64.StdEncoding.DecodeString(d)
		if err != nil {
			log.Warnf("media: part %s of %s: %v", msg.Number, m.URL, err)
			return
		}
		data = decoded
	}
	full, done := assembleChunk(p, chunkIdx, count, data)
	if !done {
		return
	}
	m.addRemoteParts(msg.From, partNumber)
	f.completePart(m, p, full)
}

func (f *MediaFetcher) completePart(m *Media, p *Part, data []byte) {
	f.cancelTimeout(m.URL + "#" + strconv.Itoa(p.Number))

	m.mu.Lock()
	p.Data = data
	p.Status = PartAvailable
	m.mu.Unlock()

	f.announce(m.URL, m.heldParts())
	f.drainToSink(m)
	f.downloadNext(m.URL)
}

// drainToSink hands every contiguous run of available parts, starting at
// the lowest not-yet-fed number, to the sink in order.
func (f *MediaFetcher) drainToSink(m *Media) {
	for {
		m.mu.Lock()
		p := m.parts[m.nextFeed]
		if p == nil || p.Status != PartAvailable {
			m.mu.Unlock()
			return
		}
		num, data := p.Number, p.Data
		m.mu.Unlock()

		if f.sink != nil {
			if err := f.sink.Append(m.URL, num, data); err != nil {
				log.Warnf("media: sink append %s part %d: %v", m.URL, num, err)
				return
			}
		}

		m.mu.Lock()
		p.Status = PartAdded
		p.Data = nil
		m.nextFeed++
		complete := m.nextFeed > m.NumParts
		m.mu.Unlock()
		if complete {
			m.mu.Lock()
			m.State = StateComplete
			m.mu.Unlock()
			return
		}
	}
}

func (f *MediaFetcher) onPartTimeout(m *Media, p *Part) {
	m.mu.Lock()
	if p.Status == PartPending {
		p.Status = PartNeeded
	}
	m.mu.Unlock()
	f.downloadNext(m.URL)
}

func (f *MediaFetcher) fallbackMetadata(url string) {
	m, ok := f.getMedia(url)
	if !ok || f.origin == nil {
		return
	}
	m.mu.Lock()
	past := m.State != StateAwaitMetadata
	m.mu.Unlock()
	if past {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.DownloadTimeout)
	defer cancel()
	v, err := f.origin.Fetch(ctx, url, transport.ResponseJSON, nil)
	if err != nil {
		log.Warnf("media: origin metadata fallback %s: %v", url, err)
		return
	}
	f.onMetadata(message.Message{Type: message.TypeMetadata, From: OriginSource, To: f.selfID, URL: url, Data: v})
}

func (f *MediaFetcher) fallbackHead(url string) {
	m, ok := f.getMedia(url)
	if !ok {
		return
	}
	m.mu.Lock()
	past := m.State != StateAwaitHead
	m.mu.Unlock()
	if past {
		return
	}
	// No origin head endpoint is assumed; a single-part whole-file fetch is
	// the degraded path when no peer answers head.
	f.onHead(message.Message{
		Type: message.TypeHead, From: OriginSource, To: f.selfID, URL: url,
		Data: map[string]any{"numParts": 1, "partSize": 0},
	})
}

