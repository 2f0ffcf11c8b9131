package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every event type.
	WSChannelAll = "*"

	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame exchanged with a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects which device events a client receives.
//
// Channels are event types ("record", "command_completed", ...) or "*".
// Devices narrows delivery to the listed serial numbers; an empty list
// means every device.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// Hub fans device events out to connected WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	dropped atomic.Uint64
}

// WSClient is one operator connection and its event filter.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string // token subject from the ticket; empty when auth is off

	mu      sync.RWMutex
	types   map[string]struct{}
	devices map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub whose clients use the given keepalive settings.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client from the hub. Only the call that actually
// removes the client closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// HandleEvent implements adms.EventSink.
func (h *Hub) HandleEvent(e adms.Event) {
	h.Publish(e)
}

// Publish sends e to every client whose filter matches its type and
// serial number. Clients with a full buffer miss the event.
func (h *Hub) Publish(e adms.Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: string(e.Type),
		Timestamp: ts.UTC().Format(time.RFC3339),
		Payload:   e,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "type", e.Type, "error", err)
		return
	}

	// Client filters take their own lock, so snapshot first.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.wants(string(e.Type), e.SerialNumber) {
			continue
		}
		if !client.trySend(data) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many event frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func newWSClient(hub *Hub, conn *websocket.Conn, subject string) *WSClient {
	return &WSClient{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		subject: subject,
		types:   make(map[string]struct{}),
		devices: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the connection and attaches it to the hub.
// When operator auth is enabled a ticket from POST /auth/ws-ticket is
// required in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.secCfg.JWT.Secret != "" {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, subject)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) keepalive() (ping, pong time.Duration) {
	return time.Duration(c.hub.cfg.PingInterval) * time.Second,
		time.Duration(c.hub.cfg.PongTimeout) * time.Second
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	ping, pong := c.keepalive()
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(ping + pong))
	}

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings.
		//nolint:errcheck // Best-effort deadline reset
		extend()
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	ping, pong := c.keepalive()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // Best-effort deadline; write error caught by caller
		c.conn.SetWriteDeadline(time.Now().Add(pong))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.updateFilter(msg, true)
	case WSTypeUnsubscribe:
		c.updateFilter(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateFilter adds (subscribe) or removes (unsubscribe) the channels and
// devices named in the message payload.
func (c *WSClient) updateFilter(msg WSMessage, add bool) {
	// Payload arrives as a generic map; round-trip it into the typed form.
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.types[ch] = struct{}{}
		} else {
			delete(c.types, ch)
		}
	}
	for _, sn := range sub.Devices {
		if add {
			c.devices[sn] = struct{}{}
		} else {
			delete(c.devices, sn)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if !add {
		key = "unsubscribed"
	}
	c.hub.logger.Debug("websocket filter updated", key, sub.Channels, "devices", sub.Devices, "subject", c.subject)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		key:       sub.Channels,
		"devices": sub.Devices,
	})
}

// wants reports whether an event of the given type from serial passes the
// client's filter.
func (c *WSClient) wants(eventType, serial string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, all := c.types[WSChannelAll]
	_, typed := c.types[eventType]
	if !all && !typed {
		return false
	}
	if len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[serial]
	return ok
}

// trySend queues data without blocking. It returns false when the buffer
// is full or the client has already been closed.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
