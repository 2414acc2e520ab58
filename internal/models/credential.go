package models

import "time"

// Credential stores the most recent access token for a HAT domain, encrypted at rest.
type Credential struct {
	Domain      string     `gorm:"primaryKey;size:255" json:"domain"`
	TokenCipher string     `gorm:"type:text;not null" json:"-"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
