package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/internal/services"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/response"
)

// SyncLogHandler exposes the sync attempt history.
type SyncLogHandler struct {
	svc *services.SyncLogService
}

func NewSyncLogHandler(svc *services.SyncLogService) (*SyncLogHandler, error) {
	if svc == nil {
		return nil, errors.New("sync log handler: service is required")
	}
	return &SyncLogHandler{svc: svc}, nil
}

// GET /api/sync/logs
func (h *SyncLogHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.SyncLogFilters{
		Type:    strings.TrimSpace(c.Query("type")),
		Outcome: strings.TrimSpace(c.Query("outcome")),
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("since must be an RFC3339 timestamp"))
			return
		}
		filters.Since = &t
	}

	logs, total, err := h.svc.List(requestContext(c), services.ListSyncLogsOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}
