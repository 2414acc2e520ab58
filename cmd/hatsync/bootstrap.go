package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hubofallthings/hatsync/internal/api"
	"github.com/hubofallthings/hatsync/internal/app"
	"github.com/hubofallthings/hatsync/internal/app/maintenance"
	"github.com/hubofallthings/hatsync/internal/cache"
	"github.com/hubofallthings/hatsync/internal/database"
	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/middleware"
	"github.com/hubofallthings/hatsync/internal/monitoring"
	"github.com/hubofallthings/hatsync/internal/monitoring/checks"
	"github.com/hubofallthings/hatsync/internal/records"
	"github.com/hubofallthings/hatsync/internal/services"
	"github.com/hubofallthings/hatsync/internal/syncer"
	"github.com/hubofallthings/hatsync/pkg/logger"
)

const probeTimeout = 3 * time.Second

// runtimeStack bundles the long-lived services shared by every subcommand.
type runtimeStack struct {
	Config  *app.Config
	DB      *gorm.DB
	Redis   *cache.RedisClient
	Store   cache.Store
	Tokens  *services.TokenService
	Logs    *services.SyncLogService
	Sync    *services.SyncService
	Tracker *monitoring.JobTracker
	Cleaner *maintenance.Cleaner
}

// bootstrapRuntime opens the database, selects the cache backend and wires the sync services.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{Config: cfg}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	tokenKey, err := database.ResolveTokenEncryptionKey(ctx, stack.DB, cfg.Tokens.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("resolve token encryption key: %w", err)
	}
	secret, err := app.DecodeKey(tokenKey)
	if err != nil {
		return nil, fmt.Errorf("decode token encryption key: %w", err)
	}
	stack.Tokens, err = services.NewTokenService(stack.DB, secret)
	if err != nil {
		return nil, fmt.Errorf("initialise token service: %w", err)
	}

	stack.Logs, err = services.NewSyncLogService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise sync log service: %w", err)
	}

	stack.Store = selectStore(ctx, cfg, stack, log)

	stack.Sync, err = services.NewSyncService(stack.Store, stack.Tokens, stack.Logs, services.SyncServiceConfig{
		Domain: cfg.HAT.Domain,
		Token:  cfg.HAT.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise sync service: %w", err)
	}
	registerKinds(cfg, stack.Sync, stack.Store, hat.NewClient(cfg.HAT.ClientConfig()))

	stack.Tracker = monitoring.NewJobTracker()
	purger, _ := stack.Store.(cache.Purger)
	stack.Cleaner = maintenance.NewCleaner(stack.DB, purger, stack.Logs,
		maintenance.WithTracker(stack.Tracker),
		maintenance.WithLogRetentionDays(cfg.Maintenance.LogRetentionDays),
		maintenance.WithPurgeSchedule(cfg.Maintenance.PurgeSchedule),
		maintenance.WithLogSchedule(cfg.Maintenance.LogSchedule),
		maintenance.WithRefresher(stack.Sync, cfg.Maintenance.RefreshSchedule),
	)

	success = true
	return stack, nil
}

// selectStore returns the redis store when configured and reachable, the database store otherwise.
func selectStore(ctx context.Context, cfg *app.Config, stack *runtimeStack, log *zap.Logger) cache.Store {
	if !cfg.Cache.UsesRedis() {
		return cache.NewDatabaseStore(stack.DB)
	}

	client, err := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = client.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = client.Close()
		}
	}
	if err != nil {
		log.Warn("redis unavailable; falling back to the database cache", zap.Error(err))
		return cache.NewDatabaseStore(stack.DB)
	}

	stack.Redis = client
	log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	return cache.NewRedisStore(client)
}

func registerKinds(cfg *app.Config, svc *services.SyncService, store cache.Store, client *hat.Client) {
	registerKind(cfg, svc, store, client, records.Notes)
	registerKind(cfg, svc, store, client, records.Locations)
	registerKind(cfg, svc, store, client, records.Profiles)
}

func registerKind[T any](cfg *app.Config, svc *services.SyncService, store cache.Store, client *hat.Client, kind records.Kind[T]) {
	kind = app.ApplyOverrides(cfg, kind)
	fetcher := hat.NewTypedFetcher[T](client, kind.Codec, kind.Name, hat.FetchOptions{})
	services.Register(svc, syncer.New(kind, store, fetcher, client, syncer.WithDedupe(cfg.Sync.DedupeInflight)))
}

// healthManager registers the probes served under /health.
func (s *runtimeStack) healthManager() *monitoring.HealthManager {
	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(checks.Database(s.DB, probeTimeout))
	var pinger checks.RedisPinger
	if s.Redis != nil {
		pinger = s.Redis
	}
	manager.RegisterReadiness(checks.Redis(pinger, s.Config.Cache.UsesRedis(), probeTimeout))
	manager.RegisterReadiness(checks.HATCredentials(s.Sync.Credentials))
	manager.RegisterReadiness(checks.Maintenance(s.Tracker, 0))
	return manager
}

// router builds the HTTP API. Rate limit counters live in redis when it is in use.
func (s *runtimeStack) router() (*gin.Engine, error) {
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	var rateStore middleware.RateStore
	if s.Redis != nil {
		rateStore = middleware.NewRedisRateStore(s.Redis)
	}

	return api.NewRouter(api.Dependencies{
		Config:    s.Config,
		Sync:      s.Sync,
		Logs:      s.Logs,
		Tokens:    s.Tokens,
		Health:    s.healthManager(),
		RateStore: rateStore,
	})
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
