// Package realtime pushes bus change events to websocket clients. Each
// client follows one bus.
package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bus-tracker/internal/publisher"
)

const sendBuffer = 64

type Client struct {
	ID     string
	Bus    string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

func NewClient(bus, userID string, conn *websocket.Conn) *Client {
	return &Client{ID: uuid.NewString(), Bus: bus, UserID: userID, Conn: conn, Send: make(chan []byte, sendBuffer)}
}

type Metrics interface {
	ClientsSet(n int)
	ClientDroppedInc()
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // bus -> clients
	count   int
	metrics Metrics
}

func NewHub(m Metrics) *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{}), metrics: m}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.Bus]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.Bus] = set
	}
	set[c] = struct{}{}
	h.count++
	h.gauge()
	h.mu.Unlock()
	log.Printf("ws: client %s (%s) following bus %s", c.ID, c.UserID, c.Bus)
}

// Unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) bool {
	set, ok := h.clients[c.Bus]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.Bus)
	}
	close(c.Send)
	h.count--
	h.gauge()
	return true
}

func (h *Hub) gauge() {
	if h.metrics != nil {
		h.metrics.ClientsSet(h.count)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dispatch forwards ev to every client following its bus. A client whose
// buffer is full is dropped rather than allowed to stall the others.
func (h *Hub) Dispatch(ev publisher.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[ev.BusNumber] {
		select {
		case c.Send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if h.removeLocked(c) {
			log.Printf("ws: dropping slow client %s", c.ID)
			if h.metrics != nil {
				h.metrics.ClientDroppedInc()
			}
		}
	}
	h.mu.Unlock()
}

type FeedSource interface {
	SubscribeAll(handler func(publisher.Event)) (func(), error)
}

// Feed connects the hub to every change event on the channel.
func (h *Hub) Feed(src FeedSource) (func(), error) {
	return src.SubscribeAll(h.Dispatch)
}
