// Package ws fans committed ledger events out to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// replayBatch bounds a single replay request.
	replayBatch = 500
)

// eventPattern is the bus subscription and the default client filter.
const eventPattern = "ledger:*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DecodeFunc turns a bus payload back into an event for routing.
type DecodeFunc func([]byte) (domain.Event, error)

// frame is one outgoing message; text frames carry JSON control messages,
// binary frames carry encoded events.
type frame struct {
	text bool
	data []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan frame
	subs map[string]bool
	mu   sync.RWMutex
}

// clientMsg is a control message sent by a client.
//
//	{"action":"subscribe","channels":["ledger:trade.*"]}
//	{"action":"unsubscribe","channels":["ledger:*"]}
//	{"action":"replay","from":"0"}
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	From     string   `json:"from"`
}

// Hub manages connected WebSocket clients and broadcasts ledger events from
// the signal bus to the clients whose filters match the event channel.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	decode     DecodeFunc
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
	status     func() any
}

// Config captures metadata sent to clients on connect.
type Config struct {
	StartedAt time.Time
	// Status, if set, is included in the greeting frame.
	Status func() any
}

// NewHub creates a hub that bridges the SignalBus to WebSocket clients.
func NewHub(bus domain.SignalBus, decode DecodeFunc, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		decode:     decode,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  startedAt,
		status:     cfg.Status,
	}
}

// Run subscribes to ledger events and serves registrations and broadcasts
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgCh, err := h.bus.Subscribe(ctx, eventPattern)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("pattern", eventPattern))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return nil
			}
			ev, err := h.decode(data)
			if err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(ev.Channel(), data)
		}
	}
}

func (h *Hub) fanOut(channel string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- frame{data: data}:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan frame, sendBufferSize),
		subs: map[string]bool{eventPattern: true},
	}

	h.register <- c
	c.sendText(h.greeting())

	go c.writePump()
	go c.readPump(r.Context())
}

func (h *Hub) greeting() map[string]any {
	payload := map[string]any{
		"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
		"stream":         domain.EventStream,
	}
	if h.status != nil {
		payload["ledger"] = h.status()
	}
	return map[string]any{"type": "hello", "payload": payload}
}

func (c *client) readPump(ctx context.Context) {
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

	// The request context ends when the handler returns; replays use a
	// context scoped to the connection instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendText(map[string]any{"type": "error", "error": "invalid message"})
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			if err := c.handleSubscription(msg); err != nil {
				c.sendText(map[string]any{"type": "error", "error": err.Error()})
			}
		case "replay":
			c.replay(ctx, msg.From)
		default:
			c.sendText(map[string]any{"type": "error", "error": "unknown action " + msg.Action})
		}
	}
}

// handleSubscription applies subscribe/unsubscribe. Channels are path.Match
// patterns over event channels such as "ledger:trade.completed".
func (c *client) handleSubscription(msg clientMsg) error {
	for _, ch := range msg.Channels {
		if _, err := path.Match(ch, ""); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		if msg.Action == "subscribe" {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
	return nil
}

// replay sends durable stream entries after the given id, then a text
// frame with the last id delivered so the client can page forward.
func (c *client) replay(ctx context.Context, from string) {
	if from == "" {
		from = "0"
	}
	msgs, err := c.hub.bus.ReadAfter(ctx, from, replayBatch)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		c.sendText(map[string]any{"type": "error", "error": "replay failed"})
		return
	}
	last := from
	for _, m := range msgs {
		ev, err := c.hub.decode(m.Payload)
		if err != nil || !c.isSubscribed(ev.Channel()) {
			last = m.ID
			continue
		}
		c.enqueue(frame{data: m.Payload})
		last = m.ID
	}
	c.sendText(map[string]any{
		"type":    "replay_done",
		"payload": map[string]any{"last_id": last, "count": len(msgs)},
	})
}

func (c *client) sendText(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(frame{text: true, data: data})
}

func (c *client) enqueue(f frame) {
	defer func() {
		// send is closed once the hub unregisters the client.
		_ = recover()
	}()
	select {
	case c.send <- f:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for pattern := range c.subs {
		if ok, _ := path.Match(pattern, channel); ok {
			return true
		}
	}
	return false
}

// writePump sends queued frames and periodic pings.
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
			kind := websocket.BinaryMessage
			if f.text {
				kind = websocket.TextMessage
			}
			if err := c.conn.WriteMessage(kind, f.data); err != nil {
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
