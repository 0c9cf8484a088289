// Package ws fans signal bus events out to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame is one event encoded both ways; each client gets the encoding it
// asked for.
type frame struct {
	channel string
	binary  []byte // protobuf google.protobuf.Struct
	text    []byte // the same envelope as JSON
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	json bool
	send chan frame
	subs map[string]bool
	mu   sync.RWMutex
	// closed is set under Hub.mu once send is closed.
	closed bool
}

// subscribeMsg is the JSON message a client sends to change its channels
// or to catch up on a channel's durable stream.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe", "unsubscribe" or "replay"
	Channels []string `json:"channels"`
	// Since is the last stream id the client saw; replay starts after it.
	Since string `json:"since,omitempty"`
}

// Hub manages connected websocket clients and relays every message published
// on its bus channels to the clients subscribed to that channel. Frames are
// protobuf-encoded google.protobuf.Struct envelopes
// {channel, payload, timestamp}; clients connecting with ?format=json get the
// same envelope as JSON text frames. A client that reconnects can send
// {"action":"replay","channels":[...],"since":"<id>"} to receive the stream
// entries it missed.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	channels   []string
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config captures the channels to relay and runtime metadata sent to clients
// on connect.
type Config struct {
	Mode      string
	Channels  []string
	StartedAt time.Time
}

// NewHub creates a hub that bridges bus to connected clients.
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
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		channels:   cfg.Channels,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run is the hub's event loop. It subscribes to every configured channel and
// returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range h.channels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.closed = true
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				c.closed = true
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(f.channel) {
					continue
				}
				select {
				case c.send <- f:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("channel", f.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			f, err := encodeFrame(channel, data, time.Now().UTC())
			if err != nil {
				h.logger.Warn("ws: encode frame",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encodeFrame wraps a bus payload in the {channel, payload, timestamp}
// envelope. JSON payloads are embedded structurally; anything else is
// carried as a string.
func encodeFrame(channel string, payload []byte, ts time.Time) (frame, error) {
	return marshalFrame(channel, envelope(channel, payload, ts))
}

func envelope(channel string, payload []byte, ts time.Time) map[string]any {
	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		body = string(payload)
	}
	return map[string]any{
		"channel":   channel,
		"payload":   body,
		"timestamp": ts.Format(time.RFC3339Nano),
	}
}

func marshalFrame(channel string, env map[string]any) (frame, error) {
	st, err := structpb.NewStruct(env)
	if err != nil {
		return frame{}, err
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	text, err := json.Marshal(env)
	if err != nil {
		return frame{}, err
	}
	return frame{channel: channel, binary: bin, text: text}, nil
}

// replay sends up to replayLimit stream entries after since for each
// requested channel the hub relays. Replayed envelopes carry the stream id
// so the client can resume from it.
func (h *Hub) replay(c *client, channels []string, since string) {
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	for _, ch := range channels {
		if !slices.Contains(h.channels, ch) {
			continue
		}
		msgs, err := h.bus.StreamRead(ctx, ch, since, replayLimit)
		if err != nil {
			h.logger.Warn("ws: replay read failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		now := time.Now().UTC()
		for _, m := range msgs {
			env := envelope(ch, m.Payload, now)
			env["id"] = m.ID
			f, err := marshalFrame(ch, env)
			if err != nil {
				continue
			}
			if !h.deliver(c, f) {
				return
			}
		}
	}
}

// deliver queues f for c unless c has been closed. It reports false when
// the client is gone or its buffer is full.
func (h *Hub) deliver(c *client, f frame) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		h.logger.Warn("ws: dropping replay for slow client", slog.String("channel", f.channel))
		return false
	}
}

// HandleWS upgrades an HTTP request to a websocket connection and registers
// the client with the hub. The client starts subscribed to every channel.
// GET /ws[?format=json]
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		json: strings.EqualFold(r.URL.Query().Get("format"), "json"),
		send: make(chan frame, sendBufferSize),
		subs: make(map[string]bool, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}

	c.sendInitialStatus()

	select {
	case h.register <- c:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			continue
		}
		if sub.Action == "replay" {
			c.hub.replay(c, sub.Channels, sub.Since)
			continue
		}
		c.handleSubscription(sub)
	}
}

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

// sendInitialStatus pushes a hub_status frame so clients can mark the
// connection healthy before any settlement happens.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	channels := make([]any, 0, len(c.hub.channels))
	for _, ch := range c.hub.channels {
		channels = append(channels, ch)
	}
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channels":       channels,
	})
	if err != nil {
		return
	}
	f, err := encodeFrame("hub_status", payload, time.Now().UTC())
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

// isSubscribed matches exact names and trailing-* prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, data := websocket.BinaryMessage, f.binary
			if c.json {
				kind, data = websocket.TextMessage, f.text
			}
			if err := c.conn.WriteMessage(kind, data); err != nil {
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
