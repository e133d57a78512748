// Package wssignal implements transport.Signal over a gorilla/websocket
// connection, grounded in the read/write-pump idiom the teacher uses for
// browser-facing sockets (internal/viewer/routes/call.go's wsUpgrader) and
// in the Hub/register/unregister channel pattern of the example repo
// n0remac-robot-webrtc/websocket.go — collapsed here from a multi-room hub
// into the single bidirectional rendezvous link spec §6 describes.
package wssignal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("wssignal")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Link is one bidirectional signaling connection, either side of which may
// have originated it (client Dial or server Accept).
type Link struct {
	conn *websocket.Conn

	mu      sync.Mutex
	onMsg   func([]byte)
	closed  bool
	send    chan []byte
	closeCh chan struct{}
}

func newLink(conn *websocket.Conn) *Link {
	l := &Link{
		conn:    conn,
		send:    make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go l.readPump()
	go l.writePump()
	return l
}

// Dial connects to a rendezvous service's websocket endpoint.
func Dial(url string) (*Link, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newLink(conn), nil
}

// Accept upgrades an incoming HTTP request to a websocket-backed Link, for
// a process that hosts the rendezvous endpoint itself.
func Accept(w http.ResponseWriter, r *http.Request) (*Link, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newLink(conn), nil
}

func (l *Link) Send(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return websocket.ErrCloseSent
	}
	l.mu.Unlock()

	select {
	case l.send <- data:
		return nil
	case <-l.closeCh:
		return websocket.ErrCloseSent
	}
}

func (l *Link) OnMessage(fn func([]byte)) {
	l.mu.Lock()
	l.onMsg = fn
	l.mu.Unlock()
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.closeCh)
	l.mu.Unlock()
	return l.conn.Close()
}

func (l *Link) readPump() {
	defer l.Close()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		l.mu.Lock()
		cb := l.onMsg
		l.mu.Unlock()
		if cb != nil {
			cb(data)
		}
	}
}

func (l *Link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()
	for {
		select {
		case data, ok := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = l.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := l.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Warnf("write error: %v", err)
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-l.closeCh:
			return
		}
	}
}
