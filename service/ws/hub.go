package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventMessage is the wire shape of one pushed lifecycle event.
type EventMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
	At    time.Time              `json:"at"`
}

// Hub fans lifecycle events out to a user's open connections. Outbound only;
// clients never send anything but pings. Publish never blocks: a client that
// cannot keep up is dropped.
type Hub struct {
	mu          sync.RWMutex
	connections map[uint][]*client

	register   chan *client
	unregister chan *client
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		connections: make(map[uint][]*client),
		register:    make(chan *client),
		unregister:  make(chan *client),
		logger:      logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c.userID] = append(h.connections[c.userID], c)
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		}
	}
}

// Publish implements the event publisher contract consumed by the session
// orchestrator.
func (h *Hub) Publish(userID uint, event string, data map[string]interface{}) {
	msg := EventMessage{Event: event, Data: data, At: time.Now()}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal event message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Collect slow consumers first; removing while ranging shifts the slice
	// and revisits a client whose send channel is already closed.
	var doomed []*client
	for _, c := range h.connections[userID] {
		select {
		case c.send <- raw:
		default:
			doomed = append(doomed, c)
		}
	}
	for _, c := range doomed {
		h.remove(c)
		close(c.send)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *client) {
	conns := h.connections[c.userID]
	for i, existing := range conns {
		if existing == c {
			h.connections[c.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[c.userID]) == 0 {
		delete(h.connections, c.userID)
	}
}
