package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var wslog = logrus.WithField("module", "ws")

const clientSendBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventMessage is the envelope written to websocket subscribers.
type eventMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// joinRequest is the only message clients send: subscribe to one
// intersection's events. A client may join any number of intersections.
type joinRequest struct {
	IntersectionID string `json:"join_intersection"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan eventMessage
}

// Hub fans engine events out to websocket subscribers grouped by
// intersection. Publishing never blocks: a subscriber whose buffer is full
// misses the event and the next snapshot catches it up.
type Hub struct {
	engine *Engine

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	rooms   map[string]map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		rooms:   make(map[string]map[*wsClient]struct{}),
	}
}

// BindEngine wires the engine whose snapshots are replayed on join.
func (h *Hub) BindEngine(engine *Engine) {
	h.engine = engine
}

// Publish implements EventSink. An empty intersectionID broadcasts to every
// connected client.
func (h *Hub) Publish(intersectionID, event string, payload any) {
	msg := eventMessage{Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	targets := h.clients
	if intersectionID != "" {
		targets = h.rooms[intersectionID]
	}
	for c := range targets {
		select {
		case c.send <- msg:
		default:
			wslog.Warn("subscriber buffer full, dropping event")
		}
	}
}

// HandleWS upgrades the connection and serves it until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wslog.Errorf("upgrade: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan eventMessage, clientSendBuffer)}
	h.register(c)
	go c.writePump()
	h.readLoop(c)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for _, room := range h.rooms {
			delete(room, c)
		}
		close(c.send)
	}
	h.mu.Unlock()
}

// join adds the client to an intersection's room and queues the current
// snapshot so a fresh subscriber immediately knows range, queue, and signal
// state.
func (h *Hub) join(c *wsClient, intersectionID string) {
	msgs, err := h.engine.JoinSnapshot(intersectionID)
	if err != nil {
		wslog.Warnf("join %q: %v", intersectionID, err)
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		room := h.rooms[intersectionID]
		if room == nil {
			room = make(map[*wsClient]struct{})
			h.rooms[intersectionID] = room
		}
		room[c] = struct{}{}
		for _, msg := range msgs {
			select {
			case c.send <- msg:
			default:
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		var req joinRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wslog.Debugf("read: %v", err)
			}
			return
		}
		if req.IntersectionID != "" {
			h.join(c, req.IntersectionID)
		}
	}
}

func (c *wsClient) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			wslog.Debugf("write: %v", err)
			c.conn.Close()
			// Drain so Publish never finds a full buffer on a dead client.
			for range c.send {
			}
			return
		}
	}
}
