package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hubofallthings/hatsync/internal/models"
)

// DatabaseStore implements Store using the primary SQL database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...Option) *DatabaseStore {
	if db == nil {
		return nil
	}
	o := buildOptions(opts)
	return &DatabaseStore{db: db, now: o.now}
}

// Get retrieves an entry, deleting it lazily when it has expired.
func (s *DatabaseStore) Get(ctx context.Context, typ, uniqueKey string) (*Entry, bool, error) {
	if s == nil {
		return nil, false, errors.New("cache: database store not initialised")
	}
	if err := validateKey(typ, uniqueKey); err != nil {
		return nil, false, err
	}
	ctx = normalizeContext(ctx)

	var row models.CacheEntry
	err := s.db.WithContext(ctx).Take(&row, "type = ? AND unique_key = ?", typ, uniqueKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	if row.Expired(now) {
		// only drop the row if no concurrent Put refreshed it meanwhile
		_ = s.db.WithContext(ctx).
			Where("type = ? AND unique_key = ? AND expiry_date <= ?", typ, uniqueKey, now.UTC()).
			Delete(&models.CacheEntry{}).Error
		return nil, false, nil
	}

	return &Entry{
		Type:       row.Type,
		UniqueKey:  row.UniqueKey,
		Payload:    row.Payload,
		DateAdded:  row.DateAdded,
		LastSynced: row.LastSynced,
		ExpiryDate: row.ExpiryDate,
	}, true, nil
}

// Put upserts the payload. DateAdded is only written by the first insert.
func (s *DatabaseStore) Put(ctx context.Context, typ, uniqueKey string, payload []byte, expiry *time.Time) error {
	if s == nil {
		return errors.New("cache: database store not initialised")
	}
	if err := validateKey(typ, uniqueKey); err != nil {
		return err
	}
	ctx = normalizeContext(ctx)

	now := s.now().UTC()
	if payload == nil {
		payload = []byte{}
	}
	if expiry != nil {
		utc := expiry.UTC()
		expiry = &utc
	}

	row := models.CacheEntry{
		Type:       typ,
		UniqueKey:  uniqueKey,
		Payload:    payload,
		DateAdded:  now,
		LastSynced: &now,
		ExpiryDate: expiry,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "unique_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "last_synced", "expiry_date", "updated_at"}),
		}).Create(&row).Error
}

// Invalidate removes the entry. Missing entries are not an error.
func (s *DatabaseStore) Invalidate(ctx context.Context, typ, uniqueKey string) error {
	if s == nil {
		return errors.New("cache: database store not initialised")
	}
	if err := validateKey(typ, uniqueKey); err != nil {
		return err
	}
	ctx = normalizeContext(ctx)

	return s.db.WithContext(ctx).
		Where("type = ? AND unique_key = ?", typ, uniqueKey).
		Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes every entry whose expiry is at or before now.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil {
		return 0, errors.New("cache: database store not initialised")
	}
	ctx = normalizeContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expiry_date IS NOT NULL AND expiry_date <= ?", now.UTC()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}
