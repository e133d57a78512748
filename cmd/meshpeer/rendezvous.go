package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/swarmcast/meshcore/internal/transport/wssignal"
)

// relayHub is a dumb broadcast relay: every frame received from one link is
// forwarded to every other connected link unchanged. It exists only to
// bootstrap the first request-peer/offer/answer/icecandidate of a handshake
// before any direct mesh connection exists; once peers are connected they
// stop needing it. Grounded on the teacher's rendezvous server role, with
// the libp2p circuit-relay machinery replaced by a plain websocket fanout
// since this mesh negotiates its own WebRTC offers/answers as ordinary
// Messages rather than delegating NAT traversal to the relay.
type relayHub struct {
	mu    sync.Mutex
	links map[*wssignal.Link]bool
}

func newRelayHub() *relayHub {
	return &relayHub{links: make(map[*wssignal.Link]bool)}
}

func (h *relayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	link, err := wssignal.Accept(w, r)
	if err != nil {
		log.Printf("rendezvous: accept: %v", err)
		return
	}

	h.mu.Lock()
	h.links[link] = true
	h.mu.Unlock()

	link.OnMessage(func(data []byte) {
		h.broadcast(link, data)
	})

	log.Printf("rendezvous: peer attached (%d connected)", h.count())
}

func (h *relayHub) broadcast(from *wssignal.Link, data []byte) {
	h.mu.Lock()
	peers := make([]*wssignal.Link, 0, len(h.links))
	for l := range h.links {
		if l != from {
			peers = append(peers, l)
		}
	}
	h.mu.Unlock()

	for _, l := range peers {
		if err := l.Send(data); err != nil {
			h.drop(l)
		}
	}
}

func (h *relayHub) drop(l *wssignal.Link) {
	h.mu.Lock()
	delete(h.links, l)
	h.mu.Unlock()
	_ = l.Close()
}

func (h *relayHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

func runRendezvous(addr string) error {
	hub := newRelayHub()
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	log.Printf("rendezvous: listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
