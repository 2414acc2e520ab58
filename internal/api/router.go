package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubofallthings/hatsync/internal/app"
	"github.com/hubofallthings/hatsync/internal/handlers"
	"github.com/hubofallthings/hatsync/internal/middleware"
	"github.com/hubofallthings/hatsync/internal/monitoring"
	"github.com/hubofallthings/hatsync/internal/services"
)

const (
	refreshRateLimit  = 30
	refreshRateWindow = time.Minute
)

// Dependencies are the services the HTTP API is built on. Health may be nil.
type Dependencies struct {
	Config    *app.Config
	Sync      *services.SyncService
	Logs      *services.SyncLogService
	Tokens    *services.TokenService
	Health    *monitoring.HealthManager
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Sync == nil {
		return nil, fmt.Errorf("sync service must be provided")
	}
	if deps.Logs == nil {
		return nil, fmt.Errorf("sync log service must be provided")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token service must be provided")
	}
	if deps.RateStore == nil {
		deps.RateStore = middleware.NewMemoryRateStore()
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.HATToken())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	health := deps.Health
	if !deps.Config.Monitoring.Health.Enabled {
		health = nil
	}
	registerHealthRoutes(r, handlers.NewHealthHandler(health))

	api := r.Group("/api")

	recordHandler, err := handlers.NewRecordHandler(deps.Sync)
	if err != nil {
		return nil, err
	}
	registerRecordRoutes(api, recordHandler, middleware.RateLimit(deps.RateStore, refreshRateLimit, refreshRateWindow))

	logHandler, err := handlers.NewSyncLogHandler(deps.Logs)
	if err != nil {
		return nil, err
	}
	api.GET("/sync/logs", logHandler.List)

	tokenHandler, err := handlers.NewTokenHandler(deps.Tokens)
	if err != nil {
		return nil, err
	}
	registerTokenRoutes(api, tokenHandler)

	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled {
		endpoint := prom.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
