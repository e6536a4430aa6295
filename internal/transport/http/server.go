package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/core"
)

// NewServer builds the relay HTTP server: health, ICE config, stats and the
// signaling socket.
func NewServer(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), CORSMiddleware())

	api := NewAPIHandlers(hub, cfg.ICEServers, logger)
	router.GET("/health", api.Health)

	logged := router.Group("/api", LoggerMiddleware(logger))
	logged.GET("/ice-servers", api.ICEServers)
	logged.GET("/stats", api.Stats)

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg.RateLimitPerMinute, cfg.MaxMessageBytes, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
