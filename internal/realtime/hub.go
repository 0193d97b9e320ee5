// Package realtime streams assessments and sealed audit blocks to
// WebSocket subscribers.
//
// Clients connect to /ws and receive every event by default. Sending a
// Subscription document narrows the feed by event type, account, decision
// or minimum score.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/risk"
	"github.com/mbd888/sentinel/internal/witness"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// EventType names a feed event.
type EventType string

const (
	EventAssessment  EventType = "assessment"
	EventBlockSealed EventType = "block_sealed"
)

// Event is one message on the feed.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription filters the feed for a client. Empty filters match
// everything. Account, decision and score filters apply to assessments
// only.
type Subscription struct {
	AllEvents  bool            `json:"allEvents"`
	EventTypes []EventType     `json:"eventTypes"`
	Accounts   []string        `json:"accounts"`
	Decisions  []risk.Decision `json:"decisions"`
	MinScore   float64         `json:"minScore"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

const (
	// MaxClients caps concurrent feed connections.
	MaxClients = 10000

	sendQueue      = 256
	maxMessageSize = 64 << 10
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
)

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	upgrader   websocket.Upgrader
	origins    []string

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a hub. Browser origins other than the serving host must
// appear in allowedOrigins; "*" admits any origin.
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		origins:    allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	return slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin)
}

// Run owns client registration and fan-out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClients(c)
		case ev := <-h.broadcast:
			h.fanout(ev)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.totalClients.Add(1)
	for peak := h.peakClients.Load(); int64(n) > peak; peak = h.peakClients.Load() {
		if h.peakClients.CompareAndSwap(peak, int64(n)) {
			break
		}
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("feed client connected", "total", n)
}

// removeClients closes the send queue of every listed client still
// registered. Closing the queue makes writePump send a close frame.
func (h *Hub) removeClients(cs ...*Client) int {
	h.mu.Lock()
	removed := 0
	for _, c := range cs {
		if h.clients[c] {
			delete(h.clients, c)
			close(c.send)
			removed++
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	return removed
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	h.removeClients(all...)
}

// fanout encodes ev once and queues it on every matching client. Clients
// whose queue is full are disconnected.
func (h *Hub) fanout(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode feed event", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().matches(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if n := h.removeClients(slow...); n > 0 {
		h.logger.Warn("dropped slow feed clients", "count", n)
	}
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (sub Subscription) matches(event *Event) bool {
	if sub.AllEvents {
		return true
	}
	if len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, event.Type) {
		return false
	}

	rec, ok := event.Data.(*risk.Record)
	if !ok {
		return true
	}
	if len(sub.Accounts) > 0 &&
		!slices.Contains(sub.Accounts, rec.Account) && !slices.Contains(sub.Accounts, rec.Counterparty) {
		return false
	}
	if len(sub.Decisions) > 0 && !slices.Contains(sub.Decisions, rec.Decision) {
		return false
	}
	return rec.Score >= sub.MinScore
}

// Broadcast queues an event for delivery. It never blocks; a full queue
// drops the event.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// NotifyAssessment publishes an assessment record.
func (h *Hub) NotifyAssessment(rec *risk.Record) {
	h.Broadcast(&Event{Type: EventAssessment, Timestamp: time.Now().UTC(), Data: rec})
}

// NotifyBlock publishes a sealed audit block.
func (h *Hub) NotifyBlock(b *witness.Block) {
	h.Broadcast(&Event{Type: EventBlockSealed, Timestamp: time.Now().UTC(), Data: b})
}

// Stats summarizes hub activity.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		ConnectedClients: len(h.clients),
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueue),
		sub:  Subscription{AllEvents: true},
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump applies subscription updates sent by the client.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription", "error", err)
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// writePump is the only writer on the connection. It drains the send
// queue and pings every pingPeriod.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, []byte{})
				return
			}
			if err := write(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
