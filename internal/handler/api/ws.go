package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"TradePulse/internal/domain/models"
	applogger "TradePulse/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn serializes writes so the fan-out loop, the ping loop and the
// reader's pong replies never interleave on the wire.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// pingConn is what the ping loop needs from a subscriber connection.
type pingConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Subscribe upgrades the request and streams push frames for one key.
// The first subscriber of a key starts its collector; the collector
// keeps running after the last subscriber leaves.
func (h *Handler) Subscribe(c echo.Context) error {
	key := models.SymbolKey{
		Symbol: c.Param("symbol"),
		Market: models.NormalizeMarket(c.Param("market")),
	}

	raw, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := &wsConn{conn: raw}

	if err := conn.WriteJSON(models.ConnectionFrame(key)); err != nil {
		raw.Close()
		return nil
	}
	h.sendSnapshot(c, key, conn)
	h.fanout.Connect(key, conn)

	ctx := c.Request().Context()
	stop := make(chan struct{})
	go h.pingLoop(conn, stop)

	// reader: client pings and disconnect detection
	for {
		_, payload, err := raw.ReadMessage()
		if err != nil {
			break
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(payload, &msg) == nil && msg.Type == "ping" {
			if err := conn.WriteJSON(models.PongFrame()); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(stop)
	h.fanout.Disconnect(key, conn)
	raw.Close()
	h.logger.Debug("subscriber closed", applogger.String("key", key.String()))
	return nil
}

// sendSnapshot replays the most recent trades oldest-first so a fresh
// chart has context before live frames arrive.
func (h *Handler) sendSnapshot(c echo.Context, key models.SymbolKey, conn *wsConn) {
	trades, err := h.store.FetchTrades(c.Request().Context(), key, nil, nil, h.snapshotLimit)
	if err != nil {
		h.logger.Warn("snapshot fetch failed",
			applogger.String("key", key.String()),
			applogger.Error(err),
		)
		return
	}
	for i := len(trades) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(models.TradeFrame(trades[i])); err != nil {
			return
		}
	}
}

// pingLoop keeps idle subscribers alive. A failed ping is terminal:
// the connection is closed so the reader unblocks and the subscriber
// is removed from the fan-out.
func (h *Handler) pingLoop(conn pingConn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.idlePing)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(models.PingFrame()); err != nil {
				conn.Close()
				return
			}
		}
	}
}
