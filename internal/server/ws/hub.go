// Package ws pushes marketplace events to websocket clients. With a signal
// bus the hub bridges the market:* channels published by every replica;
// without one it is registered directly as an event sink.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// allChannels is every client's initial subscription.
const allChannels = events.ChannelPrefix + "*"

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

type subscribeMsg struct {
	Action   string   `json:"action"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

type envelope struct {
	channel string
	data    []byte
}

// Hub tracks connected clients and routes events by channel.
type Hub struct {
	bus      domain.SignalBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan envelope

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. bus may be nil. allowedOrigins empty accepts any
// origin.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, sendBufferSize),
		clients:    make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.bridge(ctx)
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
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// bridge forwards every market:* publication. The channel is recovered
// from the payload's event type since pattern subscriptions only yield the
// payload.
func (h *Hub) bridge(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, allChannels)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", allChannels),
			slog.String("error", err.Error()),
		)
		return
	}
	for data := range msgs {
		var head struct {
			Type domain.EventType `json:"type"`
		}
		channel := allChannels
		if json.Unmarshal(data, &head) == nil && head.Type != "" {
			channel = events.Channel(head.Type)
		}
		h.enqueue(ctx, envelope{channel: channel, data: data})
	}
}

func (h *Hub) enqueue(ctx context.Context, env envelope) {
	select {
	case h.broadcast <- env:
	case <-ctx.Done():
	}
}

// Name implements events.Sink.
func (h *Hub) Name() string { return "ws" }

// Handle implements events.Sink for single-process deployments. It never
// blocks the emitting operation: a full queue drops the event.
func (h *Hub) Handle(_ context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{channel: events.Channel(evt.Type), data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full", slog.String("event", string(evt.Type)))
	}
	return nil
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]struct{}{allChannels: {}},
	}
	h.register <- c

	if hello, err := json.Marshal(map[string]any{"type": "hello", "channels": []string{allChannels}}); err == nil {
		c.send <- hello
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = struct{}{}
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

// subscribed matches exact names and trailing-* prefixes.
func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[channel]; ok {
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
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

var _ events.Sink = (*Hub)(nil)
