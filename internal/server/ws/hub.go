// Package ws serves each tenant's session stream over WebSocket.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
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
)

// Stream is a tenant's ordered output.
type Stream interface {
	Next(ctx context.Context) (domain.SessionItem, error)
}

// Sessions finds a tenant's running stream.
type Sessions interface {
	Stream(tenant string) (Stream, bool)
}

// SessionsFunc adapts a function to Sessions.
type SessionsFunc func(tenant string) (Stream, bool)

func (f SessionsFunc) Stream(tenant string) (Stream, bool) { return f(tenant) }

// Hub tracks one WebSocket consumer per tenant. A session queue has a
// single reader, so a second connection for the same tenant is refused.
type Hub struct {
	sessions Sessions
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewHub creates a hub. checkOrigin may be nil to allow every origin.
func NewHub(sessions Sessions, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[string]*client),
		ctx:     context.Background(),
	}
}

// client is a single tenant connection.
type client struct {
	tenant string
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Run binds connections to ctx. When ctx ends every connection is closed and
// Run waits for their pumps to exit.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	for _, c := range h.clients {
		c.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
	return ctx.Err()
}

// Clients returns the number of connected tenants.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleStream upgrades the request and pushes the tenant's session items
// as JSON text frames until the session stops or the client goes away.
// GET /api/sessions/{tenant}/stream
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	stream, ok := h.sessions.Stream(tenant)
	if !ok {
		http.Error(w, `{"error":"session not running"}`, http.StatusConflict)
		return
	}

	h.mu.Lock()
	if _, busy := h.clients[tenant]; busy {
		h.mu.Unlock()
		http.Error(w, `{"error":"stream already attached"}`, http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	c := &client{tenant: tenant, cancel: cancel}
	h.clients[tenant] = c
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("tenant", tenant), slog.String("error", err.Error()))
		h.release(c)
		return
	}
	c.conn = conn
	h.logger.Info("ws: stream attached", slog.String("tenant", tenant))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.readPump()
		cancel()
	}()
	go func() {
		defer h.wg.Done()
		defer h.release(c)
		c.writePump(ctx, stream, h.logger)
	}()
}

func (h *Hub) release(c *client) {
	c.cancel()
	h.mu.Lock()
	if h.clients[c.tenant] == c {
		delete(h.clients, c.tenant)
	}
	h.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		h.logger.Info("ws: stream detached", slog.String("tenant", c.tenant))
	}
}

// readPump discards client frames and notices disconnects.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards session items and keeps the connection alive with
// pings. Only this goroutine writes to the connection.
func (c *client) writePump(ctx context.Context, stream Stream, logger *slog.Logger) {
	items := make(chan domain.SessionItem)
	errc := make(chan error, 1)
	go func() {
		defer close(items)
		for {
			item, err := stream.Next(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-items:
			if !ok {
				var err error
				select {
				case err = <-errc:
				default:
				}
				c.close(err)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(item); err != nil {
				logger.Debug("ws: write failed", slog.String("tenant", c.tenant), slog.String("error", err.Error()))
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

// close sends a close frame describing why the stream ended.
func (c *client) close(err error) {
	code, text := websocket.CloseGoingAway, "server shutting down"
	if errors.Is(err, domain.ErrSessionStopped) {
		code, text = websocket.CloseNormalClosure, "session stopped"
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
