package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/logging"
	"github.com/nerrad567/tagbox-core/internal/notify"
)

// Frame types on the /ws connection.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameResponse    = "response"
	FrameError       = "error"
)

// clientQueueSize is the per-client outbound frame buffer. A client that
// falls this far behind misses events rather than stalling the hub.
const clientQueueSize = 64

// primeTimeout bounds the state lookup that follows a subscribe.
const primeTimeout = 2 * time.Second

// Frame is one JSON message on the WebSocket, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ChannelList is the payload of subscribe and unsubscribe frames.
type ChannelList struct {
	Channels []string `json:"channels"`
}

// Primer returns the current payload of every stateful channel, keyed by
// channel name. The hub sends the matching entries to a client right after
// it subscribes, so a page opened mid-song shows the song.
type Primer func(ctx context.Context) map[string]any

// Hub fans notifications out to WebSocket clients by channel.
// It is a notify.Sink.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	primer  Primer
	closed  bool
}

var _ notify.Sink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// SetPrimer installs the state lookup used after a subscribe.
func (h *Hub) SetPrimer(p Primer) {
	h.mu.Lock()
	h.primer = p
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.shutdown()
	}
}

func (h *Hub) prime(ctx context.Context) map[string]any {
	h.mu.RLock()
	p := h.primer
	h.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p(ctx)
}

// wsClient is one connected page. Frames are written only by writeLoop;
// everything else queues them through enqueue.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	queue    chan []byte
	done     bool
	channels map[string]struct{}
}

// upgrader accepts any origin; the CORS middleware has already applied the
// configured origin policy to the upgrade request.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and serves the client until it
// disconnects. There is no login: the box lives on a household LAN.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		conn:     conn,
		queue:    make(chan []byte, clientQueueSize),
		channels: make(map[string]struct{}),
	}
	if !s.hub.add(c) {
		conn.Close() //nolint:errcheck // Hub already shut down
		return
	}
	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr, "clients", s.hub.ClientCount())

	go c.writeLoop()
	go c.readLoop()
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue hands a frame to writeLoop, dropping it if the client is gone or
// its queue is full.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	select {
	case c.queue <- data:
	default:
		c.hub.logger.Debug("websocket client queue full, dropping frame")
	}
}

// shutdown stops writeLoop. Safe to call more than once.
func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		close(c.queue)
	}
}

func (c *wsClient) send(f Frame) {
	f.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Error("encoding websocket frame", "type", f.Type, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *wsClient) fail(id, message string) {
	c.send(Frame{Type: FrameError, ID: id, Payload: map[string]string{"message": message}})
}

func (c *wsClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close() //nolint:errcheck // Connection is being torn down
	}()

	cfg := c.hub.cfg
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	extend() //nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings still keep the socket alive
		// by talking.
		extend() //nolint:errcheck // A failed deadline surfaces as a read error
		c.handle(data)
	}
}

func (c *wsClient) writeLoop() {
	cfg := c.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close() //nolint:errcheck // Connection is being torn down
	}()

	for {
		select {
		case data, ok := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write error caught below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort goodbye
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var in struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch in.Type {
	case FramePing:
		c.send(Frame{Type: FramePong, ID: in.ID})
	case FrameSubscribe, FrameUnsubscribe:
		var list ChannelList
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &list); err != nil {
				c.fail(in.ID, "invalid "+in.Type+" payload")
				return
			}
		}
		if in.Type == FrameSubscribe {
			c.subscribe(in.ID, list.Channels)
		} else {
			c.unsubscribe(in.ID, list.Channels)
		}
	default:
		c.fail(in.ID, "unknown message type: "+in.Type)
	}
}

// subscribe adds the known channels, acknowledges, then sends the current
// state of each newly added stateful channel.
func (c *wsClient) subscribe(id string, channels []string) {
	var added, rejected []string

	c.mu.Lock()
	for _, ch := range channels {
		if !slices.Contains(notify.Channels, ch) {
			rejected = append(rejected, ch)
			continue
		}
		if _, ok := c.channels[ch]; !ok {
			added = append(added, ch)
		}
		c.channels[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.send(Frame{Type: FrameResponse, ID: id, Payload: map[string][]string{
		"subscribed": nonNil(added),
		"rejected":   nonNil(rejected),
	}})

	if len(added) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), primeTimeout)
	defer cancel()
	state := c.hub.prime(ctx)
	for _, ch := range added {
		if payload, ok := state[ch]; ok {
			c.send(Frame{Type: FrameEvent, EventType: ch, Payload: payload})
		}
	}
}

func (c *wsClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()

	c.send(Frame{Type: FrameResponse, ID: id, Payload: map[string][]string{
		"unsubscribed": nonNil(channels),
	}})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
