package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/earthring/chunkstream/internal/auth"
	"github.com/earthring/chunkstream/internal/logging"
	"github.com/earthring/chunkstream/internal/telemetry"
	"github.com/gorilla/websocket"
)

const (
	// StatsProtocolV1 is the only stats stream protocol version.
	StatsProtocolV1 = "chunkstream-stats-v1"

	defaultPingInterval = 30 * time.Second
	pongWait            = 60 * time.Second
	writeTimeout        = 10 * time.Second
	clientSendBuffer    = 64
	broadcastBuffer     = 256
)

// StatsMessage is the envelope for every message on the stats stream.
type StatsMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type statsClient struct {
	conn    *websocket.Conn
	subject string
	send    chan []byte // owned by the hub, closed on unregister
	replies chan []byte // direct responses from readPump, never closed
	hub     *StatsHub
}

// StatsHub fans frame records out to websocket subscribers. Publish never
// blocks the frame loop: when the hub or a subscriber falls behind, records
// are dropped.
type StatsHub struct {
	mu         sync.RWMutex
	clients    map[*statsClient]bool
	broadcast  chan []byte
	register   chan *statsClient
	unregister chan *statsClient
	done       chan struct{}

	tokens   *auth.ServiceTokens
	upgrader websocket.Upgrader
	logger   *slog.Logger
	dropped  uint64
}

// NewStatsHub creates a hub. tokens may be nil to accept unauthenticated
// subscribers.
func NewStatsHub(tokens *auth.ServiceTokens, allowedOrigins []string, logger *slog.Logger) *StatsHub {
	return &StatsHub{
		clients:    make(map[*statsClient]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *statsClient),
		unregister: make(chan *statsClient),
		done:       make(chan struct{}),
		tokens:     tokens,
		logger:     logging.OrNop(logger).With("component", "stats_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			Subprotocols:    []string{StatsProtocolV1},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// non-browser clients send no origin
				return origin == "" || originAllowed(origin, allowedOrigins)
			},
		},
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing every
// subscriber.
func (h *StatsHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("stats subscriber registered", "subject", c.subject)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("stats subscriber unregistered", "subject", c.subject)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// too slow, drop it
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a frame record for every subscriber.
func (h *StatsHub) Publish(rec telemetry.FrameRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		h.logger.Warn("failed to marshal frame record", "error", err)
		return
	}
	msg, err := json.Marshal(StatsMessage{Type: "frame", Data: data})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// ClientCount returns the number of registered subscribers.
func (h *StatsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many records were discarded because the hub was behind.
func (h *StatsHub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// HandleWebSocket handles GET /ws/stats.
func (h *StatsHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if h.tokens != nil {
		token, err := extractToken(r)
		if err != nil {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		claims, err := h.tokens.Validate(token)
		if err != nil {
			h.logger.Debug("stats token rejected", "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if !claims.HasScope(auth.ScopeStats) {
			http.Error(w, "Insufficient scope", http.StatusForbidden)
			return
		}
		subject = claims.Subject
	}

	if negotiateVersion(r.Header.Get("Sec-WebSocket-Protocol")) == "" {
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &statsClient{
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, clientSendBuffer),
		replies: make(chan []byte, 8),
		hub:     h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// extractToken reads the token from the query string or Authorization header
func extractToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1], nil
		}
	}
	return "", errors.New("missing authentication token")
}

// negotiateVersion returns the protocol to use, or "" when none of the
// requested versions is supported. No request means v1.
func negotiateVersion(requested string) string {
	if requested == "" {
		return StatsProtocolV1
	}
	for _, v := range strings.Split(requested, ",") {
		if strings.TrimSpace(v) == StatsProtocolV1 {
			return StatsProtocolV1
		}
	}
	return ""
}

func (c *statsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("stats websocket error", "error", err)
			}
			return
		}

		var msg StatsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(StatsMessage{Type: "error", Data: json.RawMessage(`"invalid message format"`)})
			continue
		}
		switch msg.Type {
		case "ping":
			c.reply(StatsMessage{Type: "pong", ID: msg.ID})
		default:
			c.reply(StatsMessage{Type: "error", ID: msg.ID, Data: json.RawMessage(`"unknown message type"`)})
		}
	}
}

func (c *statsClient) reply(msg StatsMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.replies <- b:
	default:
	}
}

func (c *statsClient) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case message := <-c.replies:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
