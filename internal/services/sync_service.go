package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hubofallthings/hatsync/internal/cache"
	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/records"
	"github.com/hubofallthings/hatsync/internal/syncer"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/logger"
)

// DefaultUniqueKey is used when a caller does not name a key.
const DefaultUniqueKey = "all"

// SyncRun is a type-erased sync result with records rendered as JSON.
type SyncRun struct {
	AttemptID    string          `json:"attempt_id"`
	Type         string          `json:"type"`
	UniqueKey    string          `json:"unique_key"`
	Domain       string          `json:"domain"`
	Source       string          `json:"source"`
	Records      json.RawMessage `json:"records"`
	Count        int             `json:"count"`
	Skipped      int             `json:"skipped"`
	RemoteCalls  int             `json:"remote_calls"`
	Provisioned  bool            `json:"provisioned"`
	LastSynced   *time.Time      `json:"last_synced,omitempty"`
	Path         []string        `json:"path"`
	Outcome      string          `json:"outcome"`
	Token        string          `json:"-"`
	TokenRenewed bool            `json:"token_renewed"`
	CacheErr     error           `json:"-"`
}

// Syncer runs sync attempts for one record type without exposing its Go type.
type Syncer interface {
	Descriptor() records.Descriptor
	Sync(ctx context.Context, req syncer.Request) (SyncRun, error)
}

type typedSyncer[T any] struct {
	coordinator *syncer.Coordinator[T]
}

func (s typedSyncer[T]) Descriptor() records.Descriptor {
	return s.coordinator.Kind().Descriptor
}

func (s typedSyncer[T]) Sync(ctx context.Context, req syncer.Request) (SyncRun, error) {
	result, err := s.coordinator.Sync(ctx, req)

	run := SyncRun{
		AttemptID:    result.AttemptID,
		Type:         s.coordinator.Kind().Name,
		UniqueKey:    req.UniqueKey,
		Domain:       req.Domain,
		Source:       string(result.Source),
		Count:        len(result.Items),
		Skipped:      result.Skipped,
		RemoteCalls:  result.RemoteCalls(),
		Provisioned:  result.Provisioned,
		LastSynced:   result.LastSynced,
		Outcome:      syncer.OutcomeOf(result, err),
		Token:        result.Token,
		TokenRenewed: result.TokenRenewed,
		CacheErr:     result.CacheErr,
	}
	for _, state := range result.Path {
		run.Path = append(run.Path, string(state))
	}
	if err != nil {
		return run, err
	}

	items := result.Items
	if items == nil {
		items = []T{}
	}
	encoded, marshalErr := json.Marshal(items)
	if marshalErr != nil {
		return run, appErrors.ErrInternalServer.WithInternal(marshalErr)
	}
	run.Records = encoded
	return run, nil
}

// TokenStore persists HAT tokens. TokenService implements it.
type TokenStore interface {
	Save(ctx context.Context, domain, token string) error
	Load(ctx context.Context, domain string) (StoredToken, bool, error)
	ActiveDomain(ctx context.Context) (string, error)
}

// SyncRecorder persists sync attempts. SyncLogService implements it.
type SyncRecorder interface {
	Record(ctx context.Context, entry SyncLogEntry) error
}

// SyncServiceConfig holds the defaults used to resolve domains and tokens.
type SyncServiceConfig struct {
	Domain string
	Token  string
}

// SyncInput is a request from the API or CLI.
type SyncInput struct {
	Type      string
	UniqueKey string
	Domain    string
	Token     string
	Force     bool
}

// SyncService dispatches sync requests to the coordinator registered for each type.
type SyncService struct {
	syncers map[string]Syncer
	store   cache.Store
	tokens  TokenStore
	logs    SyncRecorder
	cfg     SyncServiceConfig
	log     *zap.Logger
}

// NewSyncService constructs a SyncService. tokens and logs may be nil.
func NewSyncService(store cache.Store, tokens TokenStore, logs SyncRecorder, cfg SyncServiceConfig) (*SyncService, error) {
	if store == nil {
		return nil, errors.New("sync service: cache store is required")
	}
	return &SyncService{
		syncers: make(map[string]Syncer),
		store:   store,
		tokens:  tokens,
		logs:    logs,
		cfg:     cfg,
		log:     logger.WithModule("sync"),
	}, nil
}

// Register adds the coordinator for its kind. A later registration for the same name replaces it.
func Register[T any](svc *SyncService, coordinator *syncer.Coordinator[T]) {
	svc.syncers[coordinator.Kind().Name] = typedSyncer[T]{coordinator: coordinator}
}

// Types lists registered record types ordered by name.
func (s *SyncService) Types() []records.Descriptor {
	out := make([]records.Descriptor, 0, len(s.syncers))
	for _, sy := range s.syncers {
		out = append(out, sy.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sync runs one attempt for input.Type, persisting renewed tokens and logging the attempt.
func (s *SyncService) Sync(ctx context.Context, input SyncInput) (*SyncRun, error) {
	ctx = ensureContext(ctx)

	sy, err := s.syncerFor(input.Type)
	if err != nil {
		return nil, err
	}

	uniqueKey := strings.TrimSpace(input.UniqueKey)
	if uniqueKey == "" {
		uniqueKey = DefaultUniqueKey
	}

	domain, token, err := s.resolveCredentials(ctx, input)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	run, syncErr := sy.Sync(ctx, syncer.Request{
		UniqueKey: uniqueKey,
		Domain:    domain,
		Token:     token,
		Force:     input.Force,
	})

	if run.TokenRenewed && s.tokens != nil {
		if err := s.tokens.Save(ctx, domain, run.Token); err != nil {
			s.log.Warn("persist renewed token failed", zap.String("domain", domain), zap.Error(err))
		}
	}

	s.record(ctx, run, syncErr, time.Since(started))

	if syncErr != nil {
		return &run, syncErr
	}
	return &run, nil
}

// CacheRef names a cache entry. Domain and Token resolve the HAT the same way Sync does.
type CacheRef struct {
	Type      string
	UniqueKey string
	Domain    string
	Token     string
}

// Cached returns the cache entry for a type and key without contacting the HAT.
func (s *SyncService) Cached(ctx context.Context, ref CacheRef) (*cache.Entry, bool, error) {
	ctx = ensureContext(ctx)
	domain, uniqueKey, err := s.cacheKey(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	entry, ok, err := s.store.Get(ctx, ref.Type, cache.ScopedKey(domain, uniqueKey))
	if err != nil || !ok {
		return nil, ok, err
	}
	entry.Domain = domain
	entry.UniqueKey = uniqueKey
	return entry, true, nil
}

// Invalidate drops the cache entry for a type and key.
func (s *SyncService) Invalidate(ctx context.Context, ref CacheRef) error {
	ctx = ensureContext(ctx)
	domain, uniqueKey, err := s.cacheKey(ctx, ref)
	if err != nil {
		return err
	}
	return s.store.Invalidate(ctx, ref.Type, cache.ScopedKey(domain, uniqueKey))
}

func (s *SyncService) cacheKey(ctx context.Context, ref CacheRef) (string, string, error) {
	if _, err := s.syncerFor(ref.Type); err != nil {
		return "", "", err
	}
	uniqueKey := strings.TrimSpace(ref.UniqueKey)
	if uniqueKey == "" {
		uniqueKey = DefaultUniqueKey
	}
	domain, err := s.resolveDomain(ctx, ref.Domain, strings.TrimSpace(ref.Token))
	if err != nil {
		return "", "", err
	}
	if domain == "" {
		return "", "", appErrors.NewBadRequest("no HAT domain configured; log in or set hat.domain")
	}
	return domain, uniqueKey, nil
}

// RefreshAll force-syncs the default key of every registered type.
func (s *SyncService) RefreshAll(ctx context.Context) error {
	var errs error
	for _, descriptor := range s.Types() {
		if _, err := s.Sync(ctx, SyncInput{Type: descriptor.Name, Force: true}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh %s: %w", descriptor.Name, err))
		}
	}
	return errs
}

func (s *SyncService) syncerFor(typ string) (Syncer, error) {
	sy, ok := s.syncers[strings.TrimSpace(typ)]
	if !ok {
		return nil, appErrors.ErrUnknownType.WithInternal(fmt.Errorf("type %q", typ))
	}
	return sy, nil
}

// Credentials reports the domain and token a sync without overrides would use.
// Missing values come back empty rather than as errors.
func (s *SyncService) Credentials(ctx context.Context) (string, string, error) {
	ctx = ensureContext(ctx)
	domain, err := s.resolveDomain(ctx, "", "")
	if err != nil || domain == "" {
		return "", "", err
	}
	token, err := s.resolveToken(ctx, domain, "")
	return domain, token, err
}

// resolveCredentials picks the domain (request, config, token issuer, last login) and the
// token (request, stored, config) for an attempt.
func (s *SyncService) resolveCredentials(ctx context.Context, input SyncInput) (string, string, error) {
	token := strings.TrimSpace(input.Token)

	domain, err := s.resolveDomain(ctx, input.Domain, token)
	if err != nil {
		return "", "", err
	}
	if domain == "" {
		return "", "", appErrors.NewBadRequest("no HAT domain configured; log in or set hat.domain")
	}

	token, err = s.resolveToken(ctx, domain, token)
	if err != nil {
		return "", "", err
	}
	if token == "" {
		return "", "", appErrors.ErrUnauthorized.WithMessage("no HAT token available for " + domain)
	}

	return domain, token, nil
}

func (s *SyncService) resolveDomain(ctx context.Context, requested, token string) (string, error) {
	if domain := normaliseDomain(requested); domain != "" {
		return domain, nil
	}
	if domain := normaliseDomain(s.cfg.Domain); domain != "" {
		return domain, nil
	}
	for _, candidate := range []string{token, s.cfg.Token} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if info, err := hat.ParseToken(candidate); err == nil && info.Domain != "" {
			return info.Domain, nil
		}
	}
	if s.tokens == nil {
		return "", nil
	}
	active, err := s.tokens.ActiveDomain(ctx)
	if err != nil {
		return "", err
	}
	return normaliseDomain(active), nil
}

func (s *SyncService) resolveToken(ctx context.Context, domain, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.tokens != nil {
		stored, ok, err := s.tokens.Load(ctx, domain)
		if err != nil {
			return "", err
		}
		if ok {
			return stored.Token, nil
		}
	}
	return strings.TrimSpace(s.cfg.Token), nil
}

func (s *SyncService) record(ctx context.Context, run SyncRun, syncErr error, elapsed time.Duration) {
	if run.CacheErr != nil {
		s.log.Warn("sync result not cached", zap.String("type", run.Type), zap.Error(run.CacheErr))
	}
	if s.logs == nil {
		return
	}

	entry := SyncLogEntry{
		AttemptID:    run.AttemptID,
		Type:         run.Type,
		UniqueKey:    run.UniqueKey,
		Domain:       run.Domain,
		Outcome:      run.Outcome,
		Source:       run.Source,
		RemoteCalls:  run.RemoteCalls,
		Provisioned:  run.Provisioned,
		Skipped:      run.Skipped,
		Records:      run.Count,
		TokenRenewed: run.TokenRenewed,
		Err:          syncErr,
		Duration:     elapsed,
		Metadata:     map[string]any{"path": run.Path},
	}
	if run.CacheErr != nil {
		entry.Metadata["cache_error"] = run.CacheErr.Error()
	}

	if err := s.logs.Record(ctx, entry); err != nil {
		s.log.Warn("record sync log failed", zap.String("type", run.Type), zap.Error(err))
	}
}
