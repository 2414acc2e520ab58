package models

import (
	"gorm.io/datatypes"
)

// Sync outcomes recorded per attempt.
const (
	SyncOutcomeCache       = "cache"
	SyncOutcomeRemote      = "remote"
	SyncOutcomeProvisioned = "provisioned"
	SyncOutcomeFailed      = "failed"
)

// SyncLog records a single sync attempt.
type SyncLog struct {
	BaseModel

	AttemptID    string         `gorm:"size:36;index" json:"attempt_id"`
	Type         string         `gorm:"size:64;not null;index" json:"type"`
	UniqueKey    string         `gorm:"size:191" json:"unique_key"`
	Domain       string         `gorm:"size:255" json:"domain"`
	Outcome      string         `gorm:"size:32;not null;index" json:"outcome"`
	Source       string         `gorm:"size:16" json:"source"`
	RemoteCalls  int            `json:"remote_calls"`
	Provisioned  bool           `json:"provisioned"`
	Skipped      int            `json:"skipped"`
	Records      int            `json:"records"`
	TokenRenewed bool           `json:"token_renewed"`
	ErrorCode    string         `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
}
