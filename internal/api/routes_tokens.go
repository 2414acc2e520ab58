package api

import (
	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/internal/handlers"
)

func registerTokenRoutes(api *gin.RouterGroup, handler *handlers.TokenHandler) {
	if api == nil || handler == nil {
		return
	}

	api.POST("/login", handler.Login)
	api.DELETE("/login/:domain", handler.Logout)
}
