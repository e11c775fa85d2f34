// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/core/idempotency"
	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/reports"
	"lotledger/internal/domain/stockstatus"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/internal/infrastructure/http/v1/middleware"
	"lotledger/pkg/logger"
)

// RouterConfig holds the services behind the API.
type RouterConfig struct {
	Logger *logger.Logger

	Batches  *batches.Service
	Adjuster *adjuster.Adjuster
	Ledger   *ledger.Service
	Stock    *stockstatus.Service
	Reports  *reports.Service

	// Idempotency enables Idempotency-Key replay on mutations when set.
	Idempotency idempotency.Store

	// HealthChecks are run by /health/ready.
	HealthChecks map[string]handlers.Check

	// DefaultExpiryWindowDays applies to /stock/expiring without withinDays.
	DefaultExpiryWindowDays int
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Order matters: errors rendered by ErrorHandler must still be logged.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.UserContext())
	if cfg.Idempotency != nil {
		api.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	handlers.NewBatchesHandler(base, cfg.Adjuster, cfg.Batches).RegisterRoutes(api)
	handlers.NewAdjustmentsHandler(base, cfg.Adjuster, cfg.Ledger).RegisterRoutes(api)
	handlers.NewStockHandler(base, cfg.Stock, cfg.DefaultExpiryWindowDays).RegisterRoutes(api)
	handlers.NewReportsHandler(base, cfg.Reports).RegisterRoutes(api)

	return router
}
