// Package ws bridges the redis signal bus to WebSocket clients so
// dashboards see matches, opportunities, and alerts as they happen.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayLimit caps how many stream entries one reconnect pulls per channel.
	replayLimit = 500

	// replayTimeout bounds the stream reads for a single reconnect.
	replayTimeout = 10 * time.Second
)

// defaultChannels are the signal bus channels the hub subscribes to. They
// mirror what the monitor publishes per evaluation pass.
var defaultChannels = []string{"alerts", "opportunities", "status"}

// envelope is the frame sent to clients: the bus channel a payload came
// from plus the payload itself, verbatim. StreamID is set only on frames
// replayed from a durable stream; clients pass the last one they saw as
// ?since= when reconnecting.
type envelope struct {
	Channel  string          `json:"channel"`
	StreamID string          `json:"stream_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// subscribeMsg is the JSON message a client sends to narrow or widen its
// channel subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// broadcastMsg carries a frame along with its source channel so the hub can
// route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config captures runtime metadata reported to clients on connect, plus the
// origins permitted to open a connection.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string // empty allows all
}

// Hub manages connected WebSocket clients and broadcasts signal bus
// messages to everyone subscribed to the source channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a hub that bridges the given SignalBus to WebSocket
// clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: startedAt,
	}
}

// originChecker admits requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main event loop: client registration and message
// broadcasting. It should be called in a goroutine and exits when the
// context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.subscribeChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("dropping message for slow client",
						slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeChannel subscribes to one signal bus channel and forwards
// received payloads, wrapped in an envelope, to the broadcast loop.
func (h *Hub) subscribeChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("channel subscription failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}

	h.logger.Info("subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("channel subscription closed",
					slog.String("channel", channel))
				return
			}
			frame, err := json.Marshal(envelope{
				Channel: channel,
				Payload: json.RawMessage(data),
			})
			if err != nil {
				h.logger.Warn("frame marshal failed",
					slog.String("channel", channel),
					slog.String("error", err.Error()))
				continue
			}
			h.broadcast <- broadcastMsg{channel: channel, data: frame}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client. Clients start subscribed to every channel; ?channels=a,b
// narrows the initial set, and subscribe/unsubscribe messages adjust it
// later. ?since=<stream id> replays entries the client missed while
// disconnected, read from the durable streams behind its channels.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	if requested := r.URL.Query().Get("channels"); requested != "" {
		for _, ch := range strings.Split(requested, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				c.subs[ch] = true
			}
		}
	} else {
		for _, ch := range defaultChannels {
			c.subs[ch] = true
		}
	}

	h.register <- c
	c.sendHello()

	if since := strings.TrimSpace(r.URL.Query().Get("since")); since != "" {
		go c.replayBacklog(since)
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection, handling
// subscription management requests and pong keepalives.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error",
					slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello pushes a small status frame so clients can mark the connection
// healthy before any market events flow.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	payload, err := json.Marshal(map[string]any{
		"type":           "hello",
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Channel: "status", Payload: payload})
	if err != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// channels returns a sorted snapshot of the client's subscriptions.
func (c *client) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// replayBacklog sends stream entries recorded after sinceID to this client
// so a reconnecting dashboard can fill its gap. Live frames keep flowing
// while it runs; clients reconcile duplicates by stream ID.
func (c *client) replayBacklog(sinceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	for _, channel := range c.channels() {
		msgs, err := c.hub.bus.StreamRead(ctx, channel, sinceID, replayLimit)
		if err != nil {
			c.hub.logger.Warn("backlog replay failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()))
			continue
		}
		for _, m := range msgs {
			frame, err := json.Marshal(envelope{
				Channel:  channel,
				StreamID: m.ID,
				Payload:  json.RawMessage(m.Payload),
			})
			if err != nil {
				continue
			}
			select {
			case c.send <- frame:
			default:
				// Full send buffer: the client cannot absorb the backlog.
				return
			}
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection, with
// periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
