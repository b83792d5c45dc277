package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBER FAN-OUT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Drains the distribution queue and hands every message to each connected
// websocket client. A client that cannot keep up is disconnected rather than
// slowing the others down.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultKeepalive  = 25 * time.Second
	defaultWriteWait  = 10 * time.Second
	defaultSendBuffer = 256
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

// HubOptions tunes keepalive and buffering
type HubOptions struct {
	Keepalive  time.Duration // server ping period
	PongWait   time.Duration // silence tolerated before dropping a client
	WriteWait  time.Duration
	SendBuffer int // per-client buffered messages
	Origins    []string
}

// Hub owns the set of live subscribers
type Hub struct {
	queue    *Queue
	opts     HubOptions
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates a hub reading from queue
func NewHub(queue *Queue, opts HubOptions, m *metrics.Metrics) *Hub {
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 2 * opts.Keepalive
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	h := &Hub{
		queue:   queue,
		opts:    opts,
		metrics: m,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.Origins) == 0 {
		return true
	}
	for _, o := range h.opts.Origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Run drains the queue until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("📡 Stream hub started")
	defer h.closeAll()

	for {
		msg, err := h.queue.Pop(ctx)
		if err != nil {
			log.Info().Msg("Stream hub stopped")
			return
		}
		h.fanOut(msg)
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("client", c.id).Msg("Subscriber too slow, disconnecting")
		h.remove(c)
	}
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SubscriberDelta(1)

	log.Info().Str("client", c.id).Int("subscribers", n).Msg("🔌 Subscriber connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.metrics.SubscriberDelta(-1)
		log.Info().Str("client", c.id).Int("subscribers", n).Msg("Subscriber disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.remove(c)
	}
}

// writeLoop is the only writer on the connection
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.opts.Keepalive)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			// Control ping for the read deadline, JSON ping for browser clients
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := write(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}

// readLoop keeps the read deadline fresh and answers client pings
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	extend := func() {
		c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	}
	extend()
	c.conn.SetReadLimit(4096)
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		extend()
		if kind == websocket.TextMessage && isPing(data) {
			select {
			case c.send <- pongFrame:
			default:
			}
		}
	}
}

func isPing(data []byte) bool {
	s := string(data)
	return s == "ping" || s == `{"type":"ping"}`
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
