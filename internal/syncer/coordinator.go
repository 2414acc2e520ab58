package syncer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hubofallthings/hatsync/internal/cache"
	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/models"
	"github.com/hubofallthings/hatsync/internal/records"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/logger"
	"github.com/hubofallthings/hatsync/pkg/metrics"
)

// State is a step of a sync attempt.
type State string

const (
	StateIdle          State = "idle"
	StateCacheLookup   State = "cache_lookup"
	StateRemoteFetch   State = "remote_fetch"
	StateProvision     State = "provision"
	StateCacheWrite    State = "cache_write"
	StateReportFailure State = "report_failure"
	StateDone          State = "done"
)

// Source tells where the records of a Result came from.
type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// Fetcher loads decoded records of one type from the HAT. hat.TypedFetcher implements it.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, res hat.Resource, token string) (hat.Page[T], error)
}

// Request describes one sync attempt.
type Request struct {
	UniqueKey string
	Domain    string
	Token     string
	// Force skips the cache lookup.
	Force bool
}

// Result is the outcome of a sync attempt. Token is the working token at the end of the
// attempt and is set on failures too.
type Result[T any] struct {
	AttemptID    string
	Items        []T
	Source       Source
	LastSynced   *time.Time
	FetchCalls   int
	Provisioned  bool
	Skipped      int
	Token        string
	TokenRenewed bool
	Path         []State
	// CacheErr is set when fetched records could not be written back to the cache.
	CacheErr error
}

// RemoteCalls is the number of HAT requests the attempt made.
func (r Result[T]) RemoteCalls() int {
	calls := r.FetchCalls
	if r.Provisioned {
		calls++
	}
	return calls
}

// OutcomeOf classifies an attempt for metrics and the sync log.
func OutcomeOf[T any](r Result[T], err error) string {
	switch {
	case err != nil:
		return models.SyncOutcomeFailed
	case r.Source == SourceCache:
		return models.SyncOutcomeCache
	case r.Provisioned:
		return models.SyncOutcomeProvisioned
	default:
		return models.SyncOutcomeRemote
	}
}

// Outcome is delivered by SyncAsync.
type Outcome[T any] struct {
	Result Result[T]
	Err    error
}

// Option customises a Coordinator.
type Option func(*settings)

type settings struct {
	ttl    time.Duration
	now    func() time.Time
	dedupe bool
}

// WithTTL overrides the cache lifetime of fetched payloads. Zero or negative stores without expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.ttl = ttl
	}
}

// WithClock overrides the clock used for expiry computation.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDedupe collapses concurrent attempts for the same domain, key and token into one.
// Each caller gets its own copy of the shared result.
func WithDedupe(enabled bool) Option {
	return func(s *settings) {
		s.dedupe = enabled
	}
}

// Coordinator runs the cache-then-remote sync state machine for one record type.
type Coordinator[T any] struct {
	kind        records.Kind[T]
	store       cache.Store
	fetcher     Fetcher[T]
	provisioner hat.Provisioner
	settings    settings
	group       singleflight.Group
	log         *zap.Logger
}

// New builds a Coordinator. The TTL defaults to the kind's TTL.
func New[T any](kind records.Kind[T], store cache.Store, fetcher Fetcher[T], provisioner hat.Provisioner, opts ...Option) *Coordinator[T] {
	s := settings{ttl: kind.TTL, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &Coordinator[T]{
		kind:        kind,
		store:       store,
		fetcher:     fetcher,
		provisioner: provisioner,
		settings:    s,
		log:         logger.WithModule("sync").With(zap.String("type", kind.Name)),
	}
}

// Kind returns the record kind handled by the coordinator.
func (c *Coordinator[T]) Kind() records.Kind[T] {
	return c.kind
}

// Sync runs one attempt to completion.
func (c *Coordinator[T]) Sync(ctx context.Context, req Request) (Result[T], error) {
	if strings.TrimSpace(req.UniqueKey) == "" {
		return Result[T]{}, appErrors.NewBadRequest("unique key is required")
	}
	if !c.settings.dedupe {
		return c.run(ctx, req)
	}

	key := fmt.Sprintf("%s|%s|%t|%x", req.Domain, req.UniqueKey, req.Force, sha256.Sum256([]byte(req.Token)))
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		result, err := c.run(ctx, req)
		return result, err
	})
	result, _ := v.(Result[T])
	if shared {
		result.Items = slices.Clone(result.Items)
		result.Path = slices.Clone(result.Path)
	}
	return result, err
}

// SyncAsync runs the attempt on its own goroutine. The channel is buffered so the
// attempt completes and writes the cache even if nobody receives the outcome.
func (c *Coordinator[T]) SyncAsync(ctx context.Context, req Request) <-chan Outcome[T] {
	out := make(chan Outcome[T], 1)
	go func() {
		result, err := c.Sync(ctx, req)
		out <- Outcome[T]{Result: result, Err: err}
		close(out)
	}()
	return out
}

type attempt[T any] struct {
	req     Request
	key     string
	result  Result[T]
	failure error
	log     *zap.Logger
}

func (a *attempt[T]) enter(state State) {
	a.result.Path = append(a.result.Path, state)
}

func (a *attempt[T]) adoptToken(token string) {
	if token == "" || token == a.result.Token {
		return
	}
	a.result.Token = token
	a.result.TokenRenewed = true
	a.log.Debug("token renewed")
}

func (c *Coordinator[T]) run(ctx context.Context, req Request) (Result[T], error) {
	started := c.settings.now()
	a := &attempt[T]{
		req: req,
		key: cache.ScopedKey(req.Domain, req.UniqueKey),
		result: Result[T]{
			AttemptID: uuid.NewString(),
			Token:     req.Token,
		},
	}
	a.log = c.log.With(
		zap.String("attempt_id", a.result.AttemptID),
		zap.String("unique_key", req.UniqueKey),
	)
	res := hat.Resource{Domain: req.Domain, Source: c.kind.Source, Table: c.kind.Table}

	a.enter(StateIdle)
	state := StateCacheLookup
	if req.Force {
		state = StateRemoteFetch
	}

	for state != StateDone {
		a.enter(state)
		switch state {
		case StateCacheLookup:
			state = c.lookup(ctx, a)
		case StateRemoteFetch:
			state = c.fetch(ctx, a, res)
		case StateProvision:
			state = c.provision(ctx, a, res)
		case StateCacheWrite:
			state = c.write(ctx, a)
		case StateReportFailure:
			state = StateDone
		default:
			a.failure = fmt.Errorf("sync: unknown state %q", state)
			state = StateDone
		}
	}
	a.enter(StateDone)

	c.record(a, c.settings.now().Sub(started))
	if a.failure != nil {
		return a.result, a.failure
	}
	return a.result, nil
}

func (c *Coordinator[T]) lookup(ctx context.Context, a *attempt[T]) State {
	entry, ok, err := c.store.Get(ctx, c.kind.Name, a.key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(c.kind.Name, "error").Inc()
		a.log.Warn("cache lookup failed, treating as miss", zap.Error(err))
		return StateRemoteFetch
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(c.kind.Name, "miss").Inc()
		return StateRemoteFetch
	}

	items, err := records.DecodeList[T](c.kind.Codec, entry.Payload)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(c.kind.Name, "corrupt").Inc()
		a.log.Warn("cached payload failed to decode, invalidating", zap.Error(err))
		if invErr := c.store.Invalidate(ctx, c.kind.Name, a.key); invErr != nil {
			a.log.Warn("invalidate corrupt entry failed", zap.Error(invErr))
		}
		return StateRemoteFetch
	}

	metrics.CacheLookups.WithLabelValues(c.kind.Name, "hit").Inc()
	a.result.Items = items
	a.result.Source = SourceCache
	a.result.LastSynced = entry.LastSynced
	return StateDone
}

func (c *Coordinator[T]) fetch(ctx context.Context, a *attempt[T], res hat.Resource) State {
	a.result.FetchCalls++
	page, err := c.fetcher.Fetch(ctx, res, a.result.Token)
	a.adoptToken(page.Token)

	if err != nil {
		if errors.Is(err, appErrors.ErrTableDoesNotExist) && !a.result.Provisioned {
			a.log.Info("remote table missing, provisioning", zap.String("resource", res.String()))
			return StateProvision
		}
		a.failure = err
		return StateReportFailure
	}

	a.result.Items = page.Items
	a.result.Skipped = page.Skipped
	a.result.Source = SourceRemote
	return StateCacheWrite
}

func (c *Coordinator[T]) provision(ctx context.Context, a *attempt[T], res hat.Resource) State {
	a.result.Provisioned = true
	renewed, err := c.provisioner.CreateTable(ctx, res, c.kind.Schema, a.result.Token)
	a.adoptToken(renewed)
	if err != nil {
		if appErrors.Code(err) == "" {
			err = appErrors.ErrProvisionFailed.WithInternal(err)
		}
		a.failure = err
		return StateReportFailure
	}
	return StateRemoteFetch
}

func (c *Coordinator[T]) write(ctx context.Context, a *attempt[T]) State {
	payload, err := records.EncodeList[T](c.kind.Codec, a.result.Items)
	if err == nil {
		now := c.settings.now()
		err = c.store.Put(ctx, c.kind.Name, a.key, payload, cache.ExpiryAfter(now, c.settings.ttl))
		if err == nil {
			synced := now.UTC()
			a.result.LastSynced = &synced
		}
	}
	if err != nil {
		a.result.CacheErr = err
		a.log.Error("cache write failed", zap.Error(err))
	}
	return StateDone
}

func (c *Coordinator[T]) record(a *attempt[T], elapsed time.Duration) {
	outcome := OutcomeOf(a.result, a.failure)
	metrics.SyncAttempts.WithLabelValues(c.kind.Name, outcome).Inc()
	metrics.SyncDuration.WithLabelValues(c.kind.Name).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("remote_calls", a.result.RemoteCalls()),
		zap.Int("records", len(a.result.Items)),
		zap.Int("skipped", a.result.Skipped),
		zap.Bool("token_renewed", a.result.TokenRenewed),
		zap.Duration("elapsed", elapsed),
	}
	if a.failure != nil {
		a.log.Warn("sync failed", append(fields, zap.String("error_code", appErrors.Code(a.failure)), zap.Error(a.failure))...)
		return
	}
	a.log.Info("sync completed", fields...)
}
