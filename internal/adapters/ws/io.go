package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

func (ctl *Controller) writePump(c *wsConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "adapters.ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(uid domain.UserID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Str("uid", string(uid)).Msg("readPump closing")
		ctl.hub.Unregister(uid, c)
		_ = c.Close()
	}()

	deadline := pongDeadline(ctl.cfg.PingPeriod)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "adapters.ws").Str("uid", string(uid)).Msg("readPump read error")
			}
			return
		}
		ctl.hub.Dispatch(uid, data)
	}
}
