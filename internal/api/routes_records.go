package api

import (
	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/internal/handlers"
)

func registerRecordRoutes(api *gin.RouterGroup, handler *handlers.RecordHandler, limit gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	api.GET("/types", handler.Types)

	records := api.Group("/records")
	{
		records.GET("/:type", handler.Get)
		records.POST("/:type/refresh", limit, handler.Refresh)
	}

	cache := api.Group("/cache")
	{
		cache.GET("/:type", handler.CacheStatus)
		cache.DELETE("/:type", handler.Invalidate)
	}
}
