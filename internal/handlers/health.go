package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/internal/monitoring"
)

// HealthHandler exposes liveness and readiness reports.
type HealthHandler struct {
	manager *monitoring.HealthManager
	now     func() time.Time
}

// NewHealthHandler returns a handler backed by manager. A nil manager reports health as disabled.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	return &HealthHandler{manager: manager, now: time.Now}
}

// GET /health
func (h *HealthHandler) Summary(c *gin.Context) {
	if h.manager == nil {
		disabledHealth(c)
		return
	}
	report := monitoring.MergeReports(
		h.manager.EvaluateLiveness(requestContext(c)),
		h.manager.EvaluateReadiness(requestContext(c)),
	)
	c.JSON(statusFor(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checked_at": h.now().UTC(),
	})
}

// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	if h.manager == nil {
		disabledHealth(c)
		return
	}
	h.write(c, h.manager.EvaluateLiveness(requestContext(c)))
}

// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.manager == nil {
		disabledHealth(c)
		return
	}
	h.write(c, h.manager.EvaluateReadiness(requestContext(c)))
}

func (h *HealthHandler) write(c *gin.Context, report monitoring.HealthReport) {
	c.JSON(statusFor(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": h.now().UTC(),
	})
}

func statusFor(report monitoring.HealthReport) int {
	if !report.Success {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func disabledHealth(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
