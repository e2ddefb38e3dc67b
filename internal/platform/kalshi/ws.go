package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	// kalshiWriteWait is the time allowed to write a message to the peer.
	kalshiWriteWait = 10 * time.Second

	// kalshiPongWait is the time allowed to read the next pong message.
	kalshiPongWait = 30 * time.Second

	// kalshiPingPeriod sends pings at this interval. Must be less than pongWait.
	kalshiPingPeriod = (kalshiPongWait * 9) / 10

	// kalshiHandshakeTimeout bounds the WebSocket upgrade.
	kalshiHandshakeTimeout = 15 * time.Second
)

// WSClient is a single-connection WebSocket client for Kalshi market data.
// It does not reconnect; Run returns when the connection drops and the caller
// decides when to dial again with a fresh client.
type WSClient struct {
	wsURL string
	auth  Authenticator

	mu    sync.Mutex // guards conn writes and cmdID
	conn  *websocket.Conn
	cmdID int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewWSClient creates a new Kalshi WebSocket client.
//
// wsURL is the WebSocket endpoint, e.g. "wss://api.elections.kalshi.com/trade-api/ws/v2".
func NewWSClient(wsURL string, auth Authenticator) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		auth:  auth,
		done:  make(chan struct{}),
	}
}

// Connect performs the authenticated WebSocket handshake.
func (w *WSClient) Connect(ctx context.Context) error {
	u, err := url.Parse(w.wsURL)
	if err != nil {
		return fmt.Errorf("kalshi/ws: parse url: %w", err)
	}
	var headers http.Header
	if w.auth != nil {
		h, err := w.auth.Headers(ctx, "GET", u.Path)
		if err != nil {
			return fmt.Errorf("kalshi/ws: authenticate: %w", err)
		}
		headers = h
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: kalshiHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, headers)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(kalshiPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(kalshiPongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.pingLoop(conn)
	return nil
}

// Subscribe requests order book snapshots and deltas for the tickers.
func (w *WSClient) Subscribe(_ context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("kalshi/ws: %w", domain.ErrNotConnected)
	}

	w.cmdID++
	cmd := KalshiWSSubscribeCmd{
		ID:  w.cmdID,
		Cmd: "subscribe",
		Params: KalshiWSSubscribeParams{
			Channels: []string{"orderbook_delta"},
			Tickers:  tickers,
		},
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("kalshi/ws: marshal subscribe: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	return nil
}

// Run reads messages and passes each decoded envelope to handle until the
// connection fails or ctx is cancelled. It always returns a non-nil error.
func (w *WSClient) Run(ctx context.Context, handle func(KalshiWSMessage)) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("kalshi/ws: %w", domain.ErrNotConnected)
	}

	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kalshi/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		var env KalshiWSMessage
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		handle(env)
	}
}

// Close shuts down the WebSocket connection.
func (w *WSClient) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.conn == nil {
			return
		}
		w.conn.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = w.conn.Close()
	})
	return err
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(kalshiPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
