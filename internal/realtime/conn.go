package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/pawnline-match-server/internal/authn"
)

const (
	sendBuffer   = 32
	readLimit    = 64 << 10
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 3 * time.Second
)

type conn struct {
	id   string
	hub  *Hub
	user authn.Identity
	ws   *websocket.Conn
	send chan Envelope

	// matchID is the room this connection is in. Guarded by hub.mu.
	matchID string

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ServeHTTP authenticates the upgrade request and runs the connection until either side
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Verify(authn.TokenFromRequest(r), "")
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  h.originPatterns,
	})
	if err != nil {
		h.log.Warn("ws_accept_failed", zap.String("user_id", id.UserID), zap.Error(err))
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		id:     uuid.NewString(),
		hub:    h,
		user:   id,
		ws:     ws,
		send:   make(chan Envelope, sendBuffer),
		cancel: cancel,
	}
	h.log.Info("ws_connect", zap.String("conn_id", c.id), zap.String("user_id", id.UserID))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()
	c.readPump(ctx)
	c.close(websocket.StatusNormalClosure, "")
	<-writerDone

	h.disconnect(r.Context(), c)
	h.log.Info("ws_disconnect", zap.String("conn_id", c.id), zap.String("user_id", id.UserID))
}

func (c *conn) readPump(ctx context.Context) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.ws, &env); err != nil {
			if ctx.Err() == nil && !isNormalClose(err) {
				c.hub.log.Debug("ws_read_error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		c.hub.dispatch(ctx, c, env)
	}
}

func (c *conn) writePump(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// emit queues one event. A client that cannot keep up is dropped instead of stalling the room.
func (c *conn) emit(typ string, payload any) {
	env, err := envelope(typ, payload)
	if err != nil {
		c.hub.log.Error("ws_encode_failed", zap.String("type", typ), zap.Error(err))
		return
	}
	// 버퍼가 차면 기다리지 않고 연결을 끊음
	select {
	case c.send <- env:
	default:
		c.hub.log.Warn("ws_slow_consumer", zap.String("conn_id", c.id), zap.String("user_id", c.user.UserID))
		c.close(websocket.StatusPolicyViolation, "too slow")
	}
}

// close may be called with hub.mu held, so the close handshake runs in the background.
func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		go func() { _ = c.ws.Close(code, reason) }()
	})
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
