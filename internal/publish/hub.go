package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/filter"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// ViewMessage is pushed to every subscriber after each publish.
type ViewMessage struct {
	Seq   uint64          `json:"seq"`
	List  filter.ListView `json:"list"`
	Paths filter.PathView `json:"paths"`
}

// ClientObserver is told when subscribers come and go.
type ClientObserver interface {
	ClientConnected()
	ClientDisconnected()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes the derived views to websocket subscribers. A subscriber that
// cannot keep up is disconnected rather than slowing the poll loop.
type Hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	observer ClientObserver

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

// NewHub returns an empty Hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]struct{}),
	}
}

// SetObserver installs o to receive connect and disconnect events.
func (h *Hub) SetObserver(o ClientObserver) {
	h.observer = o
}

// Name implements aggregator.Sink.
func (h *Hub) Name() string { return "websocket" }

// Publish renders the views once and queues them for every subscriber.
func (h *Hub) Publish(_ context.Context, u aggregator.Update) error {
	list := filter.BuildList(u.Spots, u.Filters)
	paths := filter.BuildPaths(u.Spots, u.Filters, filter.PathSteps)
	list.Loading = !u.Ready
	paths.Loading = !u.Ready

	msg, err := json.Marshal(ViewMessage{Seq: u.Seq, List: list, Paths: paths})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("websocket subscriber too slow, dropping")
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the subscriber count.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams views until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ClientConnected()
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Debug("websocket read")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
