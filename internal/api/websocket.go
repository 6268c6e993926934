package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mfc-control/internal/infrastructure/config"
	"github.com/nerrad567/mfc-control/internal/infrastructure/logging"
	"github.com/nerrad567/mfc-control/internal/telemetry"
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
)

// Broadcast channels.
const (
	// ChannelTelemetry carries telemetry samples, optionally narrowed to
	// the devices named at subscribe time.
	ChannelTelemetry = "telemetry.sample"
	// ChannelSafety carries emergency stops and purge results.
	ChannelSafety = "safety.event"
)

const (
	wsSendBufferSize = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30
	defaultWSPongTimeout    = 10
)

var knownChannels = []string{ChannelTelemetry, ChannelSafety}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
// Devices only applies to ChannelTelemetry; empty means every device.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// Hub fans events out to WebSocket clients. It is a telemetry sink and
// remembers the last sample so new telemetry subscribers start with a
// full picture of the bench.
type Hub struct {
	logger       *logging.Logger
	maxMsgSize   int64
	pingInterval time.Duration
	pongWait     time.Duration

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	latest  *telemetry.Sample
	dropped uint64
}

// WSClient is one connected socket.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	subs   map[string]struct{}
	filter map[string]bool // telemetry device filter; nil = all
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero settings take the defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	return &Hub{
		logger:       logger,
		maxMsgSize:   int64(cfg.MaxMessageSize),
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		clients:      make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, ok := h.encodeEvent(channel, payload)
	if !ok {
		return
	}
	for _, c := range h.snapshot() {
		if c.subscribed(channel) {
			h.deliver(c, data)
		}
	}
}

// HandleSample implements telemetry.Sink. Clients with a device filter get
// only their devices' readings.
func (h *Hub) HandleSample(_ context.Context, s telemetry.Sample) error {
	h.mu.Lock()
	h.latest = &s
	h.mu.Unlock()

	var full []byte
	for _, c := range h.snapshot() {
		if !c.subscribed(ChannelTelemetry) {
			continue
		}
		if f := c.deviceFilter(); f != nil {
			if data, ok := h.encodeEvent(ChannelTelemetry, filterSample(s, f)); ok {
				h.deliver(c, data)
			}
			continue
		}
		if full == nil {
			var ok bool
			if full, ok = h.encodeEvent(ChannelTelemetry, s); !ok {
				return nil
			}
		}
		h.deliver(c, full)
	}
	return nil
}

func filterSample(s telemetry.Sample, devices map[string]bool) telemetry.Sample {
	out := telemetry.Sample{Time: s.Time, Readings: make([]telemetry.Reading, 0, len(devices))}
	for _, r := range s.Readings {
		if devices[r.Device] {
			out.Readings = append(out.Readings, r)
		}
	}
	return out
}

func (h *Hub) encodeEvent(channel string, payload any) ([]byte, bool) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) deliver(c *WSClient, data []byte) {
	if !c.enqueue(data) {
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// handleWebSocket upgrades the request and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		subs: make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	h := c.hub
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait)) }

	c.conn.SetReadLimit(h.maxMsgSize)
	extend() //nolint:errcheck // first deadline
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may ignore protocol pings, so any frame counts as alive.
		extend() //nolint:errcheck // reset on traffic
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	h := c.hub
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.pongWait)) //nolint:errcheck // write error reported below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.pongWait)) //nolint:errcheck // write error reported below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// handleSubscription applies a subscribe or unsubscribe frame. One unknown
// channel rejects the whole frame.
func (c *WSClient) handleSubscription(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid payload"))
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Channels) == 0 {
		c.reply(msg.ID, WSTypeError, errorPayload("payload must list channels"))
		return
	}
	for _, ch := range sub.Channels {
		if !slices.Contains(knownChannels, ch) {
			c.reply(msg.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
	}

	subscribe := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
	if slices.Contains(sub.Channels, ChannelTelemetry) {
		c.filter = nil
		if subscribe && len(sub.Devices) > 0 {
			c.filter = make(map[string]bool, len(sub.Devices))
			for _, d := range sub.Devices {
				c.filter[d] = true
			}
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})

	if subscribe && slices.Contains(sub.Channels, ChannelTelemetry) {
		c.hub.mu.RLock()
		latest := c.hub.latest
		c.hub.mu.RUnlock()
		if latest != nil {
			s := *latest
			if f := c.deviceFilter(); f != nil {
				s = filterSample(s, f)
			}
			if data, ok := c.hub.encodeEvent(ChannelTelemetry, s); ok {
				c.hub.deliver(c, data)
			}
		}
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *WSClient) deviceFilter() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// enqueue queues data unless the client is gone or its buffer is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel once; writePump then exits.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
