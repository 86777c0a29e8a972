// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"txprop/internal/domain/member"
	"txprop/internal/domain/scenario"
	"txprop/internal/infrastructure/http/v1/handlers"
	"txprop/internal/infrastructure/http/v1/middleware"
	"txprop/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// DB is pinged by the readiness check
	DB handlers.Pinger

	// StorageDriver is reported by the readiness check
	StorageDriver string

	Members   *member.Service
	Scenarios *scenario.Runner

	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	Development bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.StorageDriver)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.ExecutionContext())
	{
		base := handlers.NewBaseHandler()
		registerMemberRoutes(v1, base, cfg)
		registerScenarioRoutes(v1, base, cfg)
	}

	return router
}

func registerMemberRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Members == nil {
		return
	}
	h := handlers.NewMemberHandler(base, cfg.Members)

	rg.POST("/members", h.Join)
	rg.GET("/members/:username", h.GetMember)
	rg.GET("/logs/:message", h.GetLog)
}

func registerScenarioRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Scenarios == nil {
		return
	}
	h := handlers.NewScenarioHandler(base, cfg.Scenarios)

	rg.GET("/scenarios", h.List)
	rg.POST("/scenarios/:name", h.Run)
}
