package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/hubofallthings/hatsync/internal/models"
	"github.com/hubofallthings/hatsync/pkg/crypto"
)

const (
	// TokenEncryptionKeySetting holds the secret used to encrypt stored HAT tokens.
	TokenEncryptionKeySetting = "tokens.encryption_key"
	// ActiveDomainSetting remembers the HAT domain of the last login.
	ActiveDomainSetting = "hat.active_domain"
)

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error
	if IsUniqueViolation(err) {
		// lost a race with a concurrent first write; the row exists now
		err = db.WithContext(ctx).Model(&models.SystemSetting{}).
			Where("key = ?", key).
			Update("value", value).Error
	}
	if err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// ResolveTokenEncryptionKey returns the key used to encrypt stored tokens.
// A configured key wins and is persisted; otherwise the stored key is reused, and
// a fresh one is generated on first start so previously saved tokens stay readable.
func ResolveTokenEncryptionKey(ctx context.Context, db *gorm.DB, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		current, err := GetSystemSetting(ctx, db, TokenEncryptionKeySetting)
		if err != nil {
			return "", err
		}
		if current != configured {
			if err := UpsertSystemSetting(ctx, db, TokenEncryptionKeySetting, configured); err != nil {
				return "", err
			}
		}
		return configured, nil
	}

	current, err := GetSystemSetting(ctx, db, TokenEncryptionKeySetting)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(current) != "" {
		return current, nil
	}

	generated, err := crypto.GenerateToken(32)
	if err != nil {
		return "", fmt.Errorf("system settings: generate token key: %w", err)
	}
	if err := UpsertSystemSetting(ctx, db, TokenEncryptionKeySetting, generated); err != nil {
		return "", err
	}
	return generated, nil
}
