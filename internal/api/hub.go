package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"devsync-go/internal/coordinator"
)

const (
	subscriberBuffer = 32
	writeWait        = 5 * time.Second
	pongWait         = 30 * time.Second
	pingPeriod       = 15 * time.Second
)

// Hub fans device status events out to websocket subscribers. A subscriber that cannot keep up
// is disconnected rather than allowed to block publishers.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan coordinator.Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: map[*subscriber]struct{}{},
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// dashboards are served from other local ports
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev coordinator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			h.log.Warn().Str("remote", sub.conn.RemoteAddr().String()).Msg("event subscriber too slow, dropping")
			delete(h.subs, sub)
			sub.stop()
		}
	}
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.log.Debug().Err(err).Msg("event stream upgrade failed")
		return
	}
	sub := &subscriber{conn: conn, send: make(chan coordinator.Event, subscriberBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("event subscriber connected")

	go h.readLoop(sub)
	h.writeLoop(sub)

	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	_ = conn.Close()
}

// readLoop only services control frames; the stream is one-way.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.stop()
	sub.conn.SetReadLimit(1 << 10)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.stop()
	}
}
