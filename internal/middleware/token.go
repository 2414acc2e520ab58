package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/pkg/response"
)

const ctxTokenKey = "hatsync.token"

// HATToken lifts the X-Auth-Token request header into the gin context.
func HATToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := strings.TrimSpace(c.GetHeader(response.TokenHeader)); token != "" {
			c.Set(ctxTokenKey, token)
		}
		c.Next()
	}
}

// RequestToken returns the caller-supplied HAT token, or "".
func RequestToken(c *gin.Context) string {
	return c.GetString(ctxTokenKey)
}
