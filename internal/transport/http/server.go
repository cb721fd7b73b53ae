package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/auth"
	"github.com/vovakirdan/plansync/internal/config"
	"github.com/vovakirdan/plansync/internal/core"
	"github.com/vovakirdan/plansync/internal/metrics"
	"github.com/vovakirdan/plansync/internal/store"
)

// NewServer builds the HTTP server: REST auth, paginated history, the
// websocket endpoint, health and metrics.
func NewServer(
	hub *core.Hub,
	authService *auth.Service,
	messages store.MessageStore,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler(hub))
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := NewAPIHandlers(authService, logger)
	history := NewHistoryHandler(messages, m, cfg.HistoryMaxLimit, logger)

	group := router.Group("/api")
	group.POST("/register", api.Register)
	group.POST("/login", api.Login)
	group.POST("/guest", api.GuestLogin)
	group.GET("/rooms/:room/messages", AuthMiddleware(authService, cfg.JWTRequired, logger), history.List)

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, m, cfg, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := hub.Stats(c.Request.Context())
		if err != nil {
			c.JSON(stdhttp.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "hub": stats})
	}
}
