package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
)

// TokenHeader carries HAT access tokens in both directions.
const TokenHeader = "X-Auth-Token"

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta describes how a payload was produced, or how a list was paginated.
type Meta struct {
	Page        int        `json:"page,omitempty"`
	PerPage     int        `json:"per_page,omitempty"`
	Total       int        `json:"total"`
	Source      string     `json:"source,omitempty"`
	RemoteCalls int        `json:"remote_calls"`
	Provisioned bool       `json:"provisioned,omitempty"`
	Skipped     int        `json:"skipped,omitempty"`
	LastSynced  *time.Time `json:"last_synced,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMeta writes a JSON success response including metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *Meta) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// Token echoes the effective HAT token back to the caller. Empty tokens are ignored.
func Token(c *gin.Context, token string) {
	if token == "" {
		return
	}
	c.Header(TokenHeader, token)
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}
