package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/pkg/response"
)

// DefaultContentSecurityPolicy forbids loading anything; the API only serves JSON.
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders applies hardening headers. Responses may carry HAT tokens and records,
// so they are marked uncacheable.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", DefaultContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Header("Access-Control-Expose-Headers", response.TokenHeader)
		c.Next()
	}
}
