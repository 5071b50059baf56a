// Package notify delivers push messages to UI contexts and renders
// localized notifications.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxInboundSize = 512
	sendBuffer     = 64
)

// Hub fans push messages out to websocket clients and in-process
// subscribers. Delivery is best effort: a slow receiver loses messages, it
// never blocks the sender.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]*client
	subs     map[uuid.UUID]chan domain.PushMessage
	upgrader websocket.Upgrader
	logger   infra.Logger
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a hub. An empty allowedOrigins accepts any origin.
func NewHub(logger infra.Logger, allowedOrigins []string) *Hub {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allow[o] = struct{}{}
	}
	return &Hub{
		clients: make(map[uuid.UUID]*client),
		subs:    make(map[uuid.UUID]chan domain.PushMessage),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allow) == 0 {
					return true
				}
				_, ok := allow[origin]
				return ok
			},
		},
		logger: infra.Component(logger, "notify"),
	}
}

// StatusChanged broadcasts a generationStatusChanged message.
func (h *Hub) StatusChanged(_ context.Context, msg domain.PushMessage) {
	msg.Action = domain.PushGenerationStatusChanged
	h.broadcast(msg)
}

// Notify broadcasts a user-facing notification.
func (h *Hub) Notify(_ context.Context, n domain.Notification) {
	h.logger.Info().
		Str("level", string(n.Level)).
		Str("job_id", n.JobID).
		Str("error_kind", string(n.ErrorKind)).
		Msg(n.Title)
	h.broadcast(domain.PushMessage{
		Action:       domain.PushNotification,
		JobID:        n.JobID,
		JobKind:      n.JobKind,
		Notification: &n,
	})
}

// Subscribe returns a channel of push messages that closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) (<-chan domain.PushMessage, error) {
	id := uuid.New()
	ch := make(chan domain.PushMessage, sendBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()
	return ch, nil
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg domain.PushMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal push message")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, id)
			h.logger.Warn().Str("client_id", id.String()).Msg("dropping slow websocket client")
		}
	}
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams push messages
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{id: uuid.New(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug().Str("client_id", c.id.String()).Msg("websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		close(c.send)
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}

// readPump only drains control frames; clients never send commands.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
