package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/config"
)

// NewServer builds the HTTP server: health, metrics, auth, collection
// REST routes and the realtime WebSocket.
func NewServer(ds backend.DataService, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(ds, authService, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine behind NewServer.
func NewRouter(ds backend.DataService, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), MetricsMiddleware(), LoggerMiddleware(logger))

	r.GET("/health", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := NewAPIHandlers(authService, logger)
	authGroup := r.Group("/api/auth", RateLimitMiddleware(newRateLimiter(cfg.AuthRateLimit, time.Minute), logger))
	authGroup.POST("/signup", api.SignUp)
	authGroup.POST("/signin", api.SignIn)

	requireAuth := AuthMiddleware(authService, logger)

	collections := NewCollectionHandlers(ds, logger)
	cg := r.Group("/api/collections", requireAuth)
	cg.GET("/:collection", collections.List)
	cg.POST("/:collection", collections.Create)
	cg.PATCH("/:collection/:id", collections.Update)
	cg.DELETE("/:collection/:id", collections.Delete)

	ws := NewWSHandler(ds, cfg.SubscriberBuffer, logger)
	r.GET("/realtime", requireAuth, ws.Serve)

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
