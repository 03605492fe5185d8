// Package realtime streams reputation changes to WebSocket clients.
//
// A client connects to /ws, optionally narrowed with query parameters
// (tontineId, userId, event; each repeatable), and may replace its filter
// at any time by sending a Filter as JSON. Every filter change is
// acknowledged with a "subscribed" message.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
	broadcastQueue = 256
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	},
}

// EventType names a reputation change.
type EventType string

const (
	EventReputationUpdated EventType = "reputation_updated"
	EventLevelChanged      EventType = "level_changed"
	EventBadgeEarned       EventType = "badge_earned"
	EventBadgeRevoked      EventType = "badge_revoked"

	// EventSubscribed acknowledges a filter change. It is never filtered.
	EventSubscribed EventType = "subscribed"
)

// Event is the message written to clients.
type Event struct {
	Type      EventType   `json:"type"`
	UserID    string      `json:"userId,omitempty"`
	TontineID string      `json:"tontineId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Filter selects the events a client receives. Empty lists match
// everything, so the zero Filter receives every event.
type Filter struct {
	TontineIDs []string    `json:"tontineIds,omitempty"`
	UserIDs    []string    `json:"userIds,omitempty"`
	Events     []EventType `json:"events,omitempty"`
}

// FilterFromQuery builds a filter from repeated tontineId, userId and
// event query parameters.
func FilterFromQuery(q url.Values) Filter {
	f := Filter{TontineIDs: q["tontineId"], UserIDs: q["userId"]}
	for _, e := range q["event"] {
		f.Events = append(f.Events, EventType(e))
	}
	return f
}

// matcher is a Filter compiled into sets.
type matcher struct {
	tontines map[string]struct{}
	users    map[string]struct{}
	events   map[EventType]struct{}
}

func compile(f Filter) matcher {
	return matcher{
		tontines: toSet(f.TontineIDs),
		users:    toSet(f.UserIDs),
		events:   toSet(f.Events),
	}
}

func toSet[T comparable](values []T) map[T]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (m matcher) match(ev *Event) bool {
	return in(m.tontines, ev.TontineID) && in(m.users, ev.UserID) && in(m.events, ev.Type)
}

func in[T comparable](set map[T]struct{}, v T) bool {
	if set == nil {
		return true
	}
	_, ok := set[v]
	return ok
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sendMu sync.Mutex
	closed bool

	mu      sync.RWMutex
	filter  Filter
	matcher matcher
}

func newClient(h *Hub, conn *websocket.Conn, f Filter) *client {
	return &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), filter: f, matcher: compile(f)}
}

func (c *client) wants(ev *Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matcher.match(ev)
}

// enqueue queues msg without blocking and reports false when the client's
// queue is full. Messages to a closed client are discarded.
func (c *client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

func (c *client) setFilter(f Filter) {
	c.mu.Lock()
	c.filter, c.matcher = f, compile(f)
	c.mu.Unlock()
}

// Stats are hub counters.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedEvents    int64 `json:"droppedEvents"`
}

// Hub fans reputation events out to connected clients.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	now        func() time.Time

	totalEvents   atomic.Int64
	totalClients  atomic.Int64
	peakClients   atomic.Int64
	droppedEvents atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan *Event, broadcastQueue),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("realtime client connected", "total", n)

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

// fanOut encodes ev once and queues it for every matching client. Clients
// whose queue is full are disconnected.
func (h *Hub) fanOut(ev *Event) {
	h.totalEvents.Add(1)
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode realtime event", "type", ev.Type, "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.wants(ev) && !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("disconnecting slow realtime client")
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
}

// Broadcast queues ev for delivery. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("realtime queue full, dropping event", "type", ev.Type)
	}
}

// Publish implements reputation.Notifier.
func (h *Hub) Publish(eventType, userID, tontineID string, data interface{}) {
	h.Broadcast(&Event{
		Type:      EventType(eventType),
		UserID:    userID,
		TontineID: tontineID,
		Timestamp: h.now(),
		Data:      data,
	})
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
	}
}

// HandleWebSocket upgrades the request and registers the connection with
// the filter given in its query string.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, FilterFromQuery(r.URL.Query()))
	c.ack()
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ack queues a "subscribed" message carrying the current filter.
func (c *client) ack() {
	c.mu.RLock()
	f := c.filter
	c.mu.RUnlock()
	msg, _ := json.Marshal(&Event{Type: EventSubscribed, Timestamp: c.hub.now(), Data: f})
	c.enqueue(msg)
}

// readPump applies filter updates until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var f Filter
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}
		c.setFilter(f)
		c.ack()
	}
}

// writePump writes queued messages and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
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
