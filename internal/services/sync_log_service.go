package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hubofallthings/hatsync/internal/models"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
)

// SyncLogEntry captures one sync attempt to persist.
type SyncLogEntry struct {
	AttemptID    string
	Type         string
	UniqueKey    string
	Domain       string
	Outcome      string
	Source       string
	RemoteCalls  int
	Provisioned  bool
	Skipped      int
	Records      int
	TokenRenewed bool
	Err          error
	Duration     time.Duration
	Metadata     map[string]any
}

// SyncLogFilters narrows sync log queries.
type SyncLogFilters struct {
	Type    string
	Outcome string
	Since   *time.Time
}

// ListSyncLogsOptions controls pagination and filtering for sync log queries.
type ListSyncLogsOptions struct {
	Page     int
	PageSize int
	Filters  SyncLogFilters
}

// SyncLogService persists and retrieves sync attempt history.
type SyncLogService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSyncLogService constructs a SyncLogService using the provided database handle.
func NewSyncLogService(db *gorm.DB) (*SyncLogService, error) {
	if db == nil {
		return nil, errors.New("sync log service: db is required")
	}
	return &SyncLogService{db: db, now: time.Now}, nil
}

// Record stores an attempt, marshalling metadata into JSON form.
func (s *SyncLogService) Record(ctx context.Context, entry SyncLogEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Type) == "" {
		return errors.New("sync log service: type is required")
	}
	if strings.TrimSpace(entry.Outcome) == "" {
		return errors.New("sync log service: outcome is required")
	}

	log := models.SyncLog{
		AttemptID:    entry.AttemptID,
		Type:         strings.TrimSpace(entry.Type),
		UniqueKey:    strings.TrimSpace(entry.UniqueKey),
		Domain:       normaliseDomain(entry.Domain),
		Outcome:      entry.Outcome,
		Source:       entry.Source,
		RemoteCalls:  entry.RemoteCalls,
		Provisioned:  entry.Provisioned,
		Skipped:      entry.Skipped,
		Records:      entry.Records,
		TokenRenewed: entry.TokenRenewed,
		DurationMS:   entry.Duration.Milliseconds(),
	}
	if entry.Err != nil {
		log.ErrorCode = appErrors.Code(entry.Err)
		log.ErrorMessage = entry.Err.Error()
	}
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("sync log service: marshal metadata: %w", err)
		}
		log.Metadata = datatypes.JSON(encoded)
	}

	return s.db.WithContext(ctx).Create(&log).Error
}

// List returns paginated sync logs ordered by creation time descending.
func (s *SyncLogService) List(ctx context.Context, opts ListSyncLogsOptions) ([]models.SyncLog, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.SyncLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.SyncLog{})
	query = applySyncLogFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("sync log service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("sync log service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes sync logs older than the supplied retention window (in days).
func (s *SyncLogService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("sync log service: retentionDays must be positive")
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SyncLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("sync log service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applySyncLogFilters(query *gorm.DB, filters SyncLogFilters) *gorm.DB {
	if filters.Type != "" {
		query = query.Where("type = ?", filters.Type)
	}
	if filters.Outcome != "" {
		query = query.Where("outcome = ?", filters.Outcome)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	return query
}
