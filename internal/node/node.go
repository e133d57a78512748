// Package node wires the mesh, gossip, media, and integrator subsystems
// together into a single runnable peer, grounded on the teacher's
// internal/p2p.Node: one constructor that builds every collaborator and
// hands back a struct with a small, stable public surface (ID, Close, plus
// the operations callers actually need), even though the underlying stack
// here is WebRTC/gossip rather than libp2p.
package node

import (
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/swarmcast/meshcore/internal/bus"
	"github.com/swarmcast/meshcore/internal/config"
	"github.com/swarmcast/meshcore/internal/integrator"
	"github.com/swarmcast/meshcore/internal/media"
	"github.com/swarmcast/meshcore/internal/meshnet"
	"github.com/swarmcast/meshcore/internal/rps"
	"github.com/swarmcast/meshcore/internal/transport"
)

var log = logging.Logger("node")

// Peer is the self node's complete runtime: every subsystem sharing one
// bus and one identity.
type Peer struct {
	ID string

	Bus        *bus.Bus
	Mesh       *meshnet.MeshNode
	RPS        *rps.RpsEngine
	Media      *media.MediaFetcher
	Integrator *integrator.Integrator

	startTime time.Time
}

// New builds a Peer from cfg, a transport.Factory for connection
// negotiation, and an optional transport.Origin for media's
// source-of-last-resort fallback. sink receives reassembled media bytes;
// it may be nil for a peer that only ever relays and serves, never plays.
func New(id string, cfg config.Config, factory transport.Factory, origin transport.Origin, sink media.Sink) *Peer {
	b := bus.New()
	mesh := meshnet.New(id, cfg.Mesh.TTL, b, factory)

	rpsEngine := rps.New(id, mesh, b, rps.Config{
		C:      cfg.Gossip.ViewCapacity,
		H:      cfg.Gossip.Healing,
		S:      cfg.Gossip.Swap,
		Period: cfg.Gossip.Period,
		Policy: rps.Policy(cfg.Gossip.Policy),
	})

	fetcher := media.New(id, mesh, b, origin, sink, media.Config{
		ChunkSize:       cfg.Media.ChunkSize,
		DownloadTimeout: cfg.Media.DownloadTimeout,
		ConcurrentParts: cfg.Media.ConcurrentParts,
	})

	it := integrator.New(id, b, fetcher)
	fetcher.SetAnnouncer(it)

	return &Peer{
		ID:         id,
		Bus:        b,
		Mesh:       mesh,
		RPS:        rpsEngine,
		Media:      fetcher,
		Integrator: it,
		startTime:  time.Now(),
	}
}

// Start begins the gossip engine's active thread. Call once all of the
// peer's initial bootstrap contacts have been Seed()ed onto p.RPS.View().
func (p *Peer) Start() {
	p.RPS.Start()
	log.Infof("peer %s started", p.ID)
}

// Close tears down the mesh's background goroutines and stops gossiping.
func (p *Peer) Close() {
	p.RPS.Stop()
	p.Mesh.Close()
}

// Connect starts the handshake toward a bootstrap or rendezvous-discovered
// peer and seeds it into the gossip view so it shows up in future
// exchanges even before the connection finishes negotiating.
func (p *Peer) Connect(remoteID string) error {
	p.RPS.Seed(remoteID)
	return p.Mesh.Connect(remoteID)
}

// Fetch starts downloading url through the mesh, falling back to the
// configured origin if no peer answers in time.
func (p *Peer) Fetch(url string) {
	p.Media.Add(url)
}

// Provide registers content this peer can serve to others. The fetcher
// announces its held parts over gossip itself, so remotes that never see
// a direct broadcast can still discover this peer through the integrator's
// per-media remotes table.
func (p *Peer) Provide(url string, metadata any, partSize int64, parts map[int][]byte) {
	p.Media.Provide(url, metadata, partSize, parts)
}

// Uptime reports how long this peer has been running.
func (p *Peer) Uptime() time.Duration {
	return time.Since(p.startTime)
}

// AttachSignal wires a rendezvous link as a bootstrap broadcast target and
// feeds its inbound frames into the mesh exactly like a wire connection,
// so the first request-peer/offer/answer of a handshake can travel before
// any direct connection exists.
func (p *Peer) AttachSignal(link transport.Signal) {
	p.Mesh.SetUplink(link)
	link.OnMessage(p.Mesh.DispatchWire)
}
