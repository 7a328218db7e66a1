package dashboard

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/models"
)

const eventBufferSize = 256

// Hub fans lifecycle events out to connected websocket clients and keeps a
// bounded ring of recent events for the REST endpoint. Publish never blocks:
// a client that cannot keep up is dropped.
type Hub struct {
	mu      sync.Mutex
	recent  []models.Event
	clients map[*client]struct{}
	logger  *logrus.Logger
}

type client struct {
	conn *websocket.Conn
	send chan models.Event
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard binds to localhost; same-origin enforcement is not useful there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHub creates an empty event hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

var _ models.Publisher = (*Hub)(nil)

// Publish implements models.Publisher.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, ev)
	if len(h.recent) > eventBufferSize {
		h.recent = h.recent[len(h.recent)-eventBufferSize:]
	}

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer: disconnect rather than block the trading loop.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Recent returns a copy of the buffered events, oldest first.
func (h *Hub) Recent() []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Event, len(h.recent))
	copy(out, h.recent)
	return out
}

// HandleWS upgrades the connection and streams events until the client leaves.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan models.Event, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
