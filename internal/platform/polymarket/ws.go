package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// BookHandler is called for every full book snapshot.
type BookHandler func(BookMessage)

// PriceChangeHandler is called for every incremental level update.
type PriceChangeHandler func(PriceChangeMessage)

// WSClient is a single-connection client for the Polymarket CLOB market
// channel. Run returns when the connection drops; reconnecting is the
// caller's job.
type WSClient struct {
	wsURL string

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	handlerMu     sync.RWMutex
	bookHandlers  []BookHandler
	priceHandlers []PriceChangeHandler

	done      chan struct{}
	closeOnce sync.Once
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the CLOB WebSocket endpoint, e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.pingLoop(conn)
	return nil
}

// Subscribe subscribes the market channel to the given CLOB token ids. The
// server answers with a book snapshot per token.
func (w *WSClient) Subscribe(_ context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	data, err := json.Marshal(WSSubscribe{AssetsIDs: assetIDs, Type: "market"})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrNotConnected)
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// OnBook registers a handler for book snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnPriceChange registers a handler for incremental updates.
func (w *WSClient) OnPriceChange(handler PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, handler)
}

// Run reads and dispatches messages until the connection fails or ctx is
// cancelled. It always returns a non-nil error.
func (w *WSClient) Run(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrNotConnected)
	}

	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(message)
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
		w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = w.conn.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a frame by its event type. The initial reply to a
// subscription is a JSON array of book snapshots.
func (w *WSClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			w.handleMessage(item)
		}
		return
	}

	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}
	msgType := envelope.Event
	if msgType == "" {
		msgType = envelope.MsgType
	}

	w.handlerMu.RLock()
	books, prices := w.bookHandlers, w.priceHandlers
	w.handlerMu.RUnlock()

	switch msgType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		for _, h := range books {
			h(book)
		}
	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		for _, h := range prices {
			h(pc)
		}
	}
}
