// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	appctx "portalid/internal/core/context"
	"portalid/internal/core/idempotency"
	"portalid/internal/core/sequence"
	"portalid/internal/infrastructure/http/v1/handlers"
	"portalid/internal/infrastructure/http/v1/middleware"
	"portalid/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Sequences is the ID allocator
	Sequences handlers.SequenceService

	// Store is pinged by the readiness probe
	Store     sequence.Pinger
	StoreKind string

	// Idempotency enables X-Idempotency-Key replay when non-nil
	Idempotency idempotency.Store
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Store, cfg.StoreKind)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	seq := handlers.NewSequenceHandler(cfg.Sequences)

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTValidator))

	// Any signed-in session, guests included, may inspect counters.
	api.GET("/sequences", seq.List)
	api.GET("/sequences/:name", seq.Get)

	write := api.Group("", middleware.RequireMember())
	if cfg.Idempotency != nil {
		write.Use(middleware.Idempotency(cfg.Idempotency))
	}
	{
		write.POST("/tasks/ids", seq.CreateTaskID)
		write.POST("/incidents/ids", seq.CreateIncidentID)
		write.POST("/sequences/:name/allocate", seq.Allocate)
		write.PUT("/sequences/:name", middleware.RequireRole(appctx.RoleAdmin), seq.Seed)
	}

	return router
}
