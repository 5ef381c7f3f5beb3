// Package ws upgrades signaling connections and bridges them to the
// dispatch hub. The adapter owns the socket lifecycle; message semantics
// live in core.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/auth"
	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/dispatch"
	"github.com/avolkov/huddle/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	hub    *dispatch.Hub
	tokens *auth.Tokens
	cfg    *config.Config
}

func NewController(hub *dispatch.Hub, tokens *auth.Tokens, cfg *config.Config) *Controller {
	return &Controller{hub: hub, tokens: tokens, cfg: cfg}
}

// wsConn wraps one websocket with a buffered outbound channel. Writes go
// through the channel so the hub never blocks on a slow client.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

// WriteMessage queues data for the write pump. A full buffer means the
// client is not draining; the message is dropped.
func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.conn.Close()
}

var _ dispatch.Socket = (*wsConn)(nil)

// identity resolves who is connecting. With auth enabled the token is
// mandatory; otherwise the userId query parameter is trusted as-is.
func (ctl *Controller) identity(c *gin.Context) (domain.UserID, bool) {
	if ctl.cfg.Auth.Enabled {
		claims, err := ctl.tokens.Verify(c.Query("token"))
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Msg("rejected ws upgrade")
			return "", false
		}
		return domain.UserID(claims.Subject), true
	}
	uid := domain.UserID(c.Query("userId"))
	if uid == "" {
		return "", false
	}
	return uid, true
}

// HandleWS upgrades the request, registers the connection with the hub and
// starts the pumps. It returns when the upgrade fails or is rejected; the
// pumps own the connection after that.
func (ctl *Controller) HandleWS(c *gin.Context) {
	uid, ok := ctl.identity(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.ws").Str("uid", string(uid)).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 64),
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	ctl.hub.Register(uid, conn)

	go ctl.writePump(conn)
	go ctl.readPump(uid, conn)
}

func pongDeadline(ping time.Duration) time.Duration {
	return ping * 10 / 9
}
