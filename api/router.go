// Package api is the minimal operational HTTP surface of §6: health,
// stream status/start/stop, and a websocket live event feed, guarded by
// an operator-token auth middleware. It is the thin admin window onto
// the supervisor, not the full REST façade the distilled spec excludes.
package api

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"edge-nvr/config"
)

// NewRouter builds the Gin engine the same way the teacher's
// setupRouter does: CORS first, an unauthenticated health check, then
// an authenticated group for everything that touches the supervisor.
func NewRouter(srv *Server, jwtCfg config.JWTConfig) *gin.Engine {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * 3600,
	}))

	router.GET("/healthz", srv.Health)

	protected := router.Group("/streams")
	protected.Use(AuthMiddleware(jwtCfg.Secret))
	{
		protected.GET("", srv.ListStreams)
		protected.GET("/:name", srv.StreamStatus)
		protected.POST("/:name/start", srv.StartStream)
		protected.POST("/:name/stop", srv.StopStream)
	}

	events := router.Group("/events")
	events.Use(AuthMiddleware(jwtCfg.Secret))
	{
		events.GET("/ws", srv.Events)
	}

	return router
}
