package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubofallthings/hatsync/internal/middleware"
	"github.com/hubofallthings/hatsync/internal/services"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/response"
)

// RecordHandler serves cached HAT records and drives sync attempts.
type RecordHandler struct {
	svc *services.SyncService
}

// NewRecordHandler constructs a RecordHandler.
func NewRecordHandler(svc *services.SyncService) (*RecordHandler, error) {
	if svc == nil {
		return nil, errors.New("record handler: sync service is required")
	}
	return &RecordHandler{svc: svc}, nil
}

type typeDTO struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	Table      string `json:"table"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// GET /api/types
func (h *RecordHandler) Types(c *gin.Context) {
	descriptors := h.svc.Types()
	out := make([]typeDTO, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, typeDTO{
			Name:       d.Name,
			Source:     d.Source,
			Table:      d.Table,
			TTLSeconds: int64(d.TTL.Seconds()),
		})
	}
	response.SuccessWithMeta(c, http.StatusOK, out, &response.Meta{Total: len(out)})
}

// GET /api/records/:type
func (h *RecordHandler) Get(c *gin.Context) {
	h.sync(c, false)
}

// POST /api/records/:type/refresh
func (h *RecordHandler) Refresh(c *gin.Context) {
	h.sync(c, true)
}

func (h *RecordHandler) sync(c *gin.Context, force bool) {
	run, err := h.svc.Sync(requestContext(c), services.SyncInput{
		Type:      c.Param("type"),
		UniqueKey: queryKey(c),
		Domain:    strings.TrimSpace(c.Query("domain")),
		Token:     middleware.RequestToken(c),
		Force:     force,
	})
	if run != nil && run.TokenRenewed {
		response.Token(c, run.Token)
	}
	if err != nil {
		_ = c.Error(err)
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, run.Records, &response.Meta{
		Total:       run.Count,
		Source:      run.Source,
		RemoteCalls: run.RemoteCalls,
		Provisioned: run.Provisioned,
		Skipped:     run.Skipped,
		LastSynced:  run.LastSynced,
	})
}

type cacheEntryDTO struct {
	Type       string     `json:"type"`
	UniqueKey  string     `json:"unique_key"`
	Domain     string     `json:"domain"`
	DateAdded  time.Time  `json:"date_added"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Bytes      int        `json:"bytes"`
}

// GET /api/cache/:type
func (h *RecordHandler) CacheStatus(c *gin.Context) {
	typ, key := c.Param("type"), queryKey(c)
	entry, ok, err := h.svc.Cached(requestContext(c), cacheRef(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.ErrNotFound.WithMessage("no cached "+typ+" records for key "+key))
		return
	}

	response.Success(c, http.StatusOK, cacheEntryDTO{
		Type:       entry.Type,
		UniqueKey:  entry.UniqueKey,
		Domain:     entry.Domain,
		DateAdded:  entry.DateAdded.UTC(),
		LastSynced: utcPtr(entry.LastSynced),
		ExpiryDate: utcPtr(entry.ExpiryDate),
		Bytes:      len(entry.Payload),
	})
}

// DELETE /api/cache/:type
func (h *RecordHandler) Invalidate(c *gin.Context) {
	if err := h.svc.Invalidate(requestContext(c), cacheRef(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func cacheRef(c *gin.Context) services.CacheRef {
	return services.CacheRef{
		Type:      c.Param("type"),
		UniqueKey: queryKey(c),
		Domain:    c.Query("domain"),
		Token:     middleware.RequestToken(c),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
