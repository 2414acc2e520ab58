package models

import (
	"time"
)

// CacheEntry is a locally cached payload for one (type, unique key) pair.
type CacheEntry struct {
	Type       string     `gorm:"primaryKey;size:64" json:"type"`
	UniqueKey  string     `gorm:"primaryKey;size:191" json:"unique_key"`
	Payload    []byte     `gorm:"not null" json:"-"`
	DateAdded  time.Time  `gorm:"not null" json:"date_added"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
	ExpiryDate *time.Time `gorm:"index" json:"expiry_date,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Expired reports whether the entry is stale at now. Entries without an expiry never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e == nil || e.ExpiryDate == nil {
		return false
	}
	return !e.ExpiryDate.After(now)
}
