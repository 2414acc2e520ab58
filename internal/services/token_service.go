package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hubofallthings/hatsync/internal/database"
	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/models"
	"github.com/hubofallthings/hatsync/pkg/crypto"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/logger"
	"github.com/hubofallthings/hatsync/pkg/validator"
)

// StoredToken is a decrypted credential.
type StoredToken struct {
	Domain    string
	Token     string
	ExpiresAt *time.Time
}

// TokenService keeps the latest HAT token per domain, encrypted at rest with a
// per-domain key derived from the installation secret.
type TokenService struct {
	db     *gorm.DB
	secret []byte
	params crypto.Argon2Parameters

	mu   sync.Mutex
	keys map[string][]byte
}

// NewTokenService constructs a TokenService. The secret must be non-empty.
func NewTokenService(db *gorm.DB, secret []byte) (*TokenService, error) {
	if db == nil {
		return nil, errors.New("token service: db is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("token service: encryption secret is required")
	}
	return &TokenService{
		db:     db,
		secret: append([]byte(nil), secret...),
		params: crypto.DefaultArgon2Params(),
		keys:   make(map[string][]byte),
	}, nil
}

// Save encrypts and upserts the token for domain.
func (s *TokenService) Save(ctx context.Context, domain, token string) error {
	ctx = ensureContext(ctx)
	domain = normaliseDomain(domain)
	if err := validator.ValidateVar(domain, "required,hatdomain"); err != nil {
		return appErrors.NewBadRequest("invalid HAT domain").WithInternal(err)
	}
	if token == "" {
		return appErrors.NewBadRequest("token is required")
	}

	key, err := s.keyFor(domain)
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal([]byte(token), key, []byte(domain))
	if err != nil {
		return fmt.Errorf("token service: encrypt: %w", err)
	}

	record := models.Credential{Domain: domain, TokenCipher: sealed}
	if info, err := hat.ParseToken(token); err == nil {
		record.ExpiresAt = info.ExpiresAt
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_cipher", "expires_at", "updated_at"}),
		}).Create(&record).Error
}

// Load returns the stored token for domain. The boolean is false when none is stored.
func (s *TokenService) Load(ctx context.Context, domain string) (StoredToken, bool, error) {
	ctx = ensureContext(ctx)
	domain = normaliseDomain(domain)

	var record models.Credential
	err := s.db.WithContext(ctx).Take(&record, "domain = ?", domain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoredToken{}, false, nil
	}
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("token service: load: %w", err)
	}

	key, err := s.keyFor(domain)
	if err != nil {
		return StoredToken{}, false, err
	}
	plain, err := crypto.Open(record.TokenCipher, key, []byte(domain))
	if err != nil {
		logger.WithModule("tokens").Warn("stored token cannot be decrypted", zap.String("domain", domain), zap.Error(err))
		return StoredToken{}, false, nil
	}

	return StoredToken{
		Domain:    domain,
		Token:     string(plain),
		ExpiresAt: record.ExpiresAt,
	}, true, nil
}

// Delete removes the stored token for domain.
func (s *TokenService) Delete(ctx context.Context, domain string) error {
	ctx = ensureContext(ctx)
	return s.db.WithContext(ctx).Where("domain = ?", normaliseDomain(domain)).Delete(&models.Credential{}).Error
}

// Login stores token and marks its domain as active. The domain comes from the token
// issuer unless one is supplied.
func (s *TokenService) Login(ctx context.Context, token, domain string) (string, error) {
	ctx = ensureContext(ctx)

	domain = normaliseDomain(domain)
	if domain == "" {
		info, err := hat.ParseToken(token)
		if err != nil {
			return "", appErrors.NewBadRequest("token does not name its HAT; pass the domain explicitly").WithInternal(err)
		}
		domain = info.Domain
	}

	if err := s.Save(ctx, domain, token); err != nil {
		return "", err
	}
	if err := database.UpsertSystemSetting(ctx, s.db, database.ActiveDomainSetting, domain); err != nil {
		return "", err
	}
	return domain, nil
}

// ActiveDomain returns the domain of the most recent login, or "".
func (s *TokenService) ActiveDomain(ctx context.Context) (string, error) {
	return database.GetSystemSetting(ensureContext(ctx), s.db, database.ActiveDomainSetting)
}

func (s *TokenService) keyFor(domain string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[domain]; ok {
		return key, nil
	}
	key, err := crypto.DeriveKeyArgon2id(s.secret, crypto.ContextSalt(domain), s.params)
	if err != nil {
		return nil, fmt.Errorf("token service: derive key: %w", err)
	}
	s.keys[domain] = key
	return key, nil
}
