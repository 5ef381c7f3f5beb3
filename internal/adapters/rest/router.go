// Package rest exposes the room lifecycle over HTTP. Everything stateful
// happens in core; handlers here translate requests, statuses and JSON.
package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/adapters/ws"
	"github.com/avolkov/huddle/internal/auth"
	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/dispatch"
)

func SetupRouter(cfg *config.Config, manager *core.RoomManager, engine core.MediaEngine, hub *dispatch.Hub, tokens *auth.Tokens, reg *prometheus.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &Handlers{
		cfg:     cfg,
		manager: manager,
		engine:  engine,
		hub:     hub,
		tokens:  tokens,
	}
	wsCtl := ws.NewController(hub, tokens, cfg)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.POST("/create-room", h.CreateRoom)
	api.POST("/join-room/:roomId", h.JoinRoom)
	api.POST("/leave-room/:roomId", h.LeaveRoom)
	api.POST("/remove-user-from-room", h.RemoveUserFromRoom)
	api.POST("/end-call/:roomId", h.EndCall)
	api.GET("/ws", wsCtl.HandleWS)

	log.Info().Str("module", "adapters.rest").Msg("router setup")
	return r
}
