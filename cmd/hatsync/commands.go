package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hubofallthings/hatsync/internal/app"
	"github.com/hubofallthings/hatsync/internal/services"
	"github.com/hubofallthings/hatsync/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

type command func(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error

var commands = map[string]command{
	"serve": serveCommand,
	"sync":  syncCommand,
	"login": loginCommand,
	"purge": purgeCommand,
}

func serveCommand(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logger.WithModule("server")
	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	if err := stack.Cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}

	router, err := stack.router()
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	if err := stack.Cleaner.RunOnce(shutdownCtx); err != nil {
		log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
	}

	log.Info("server stopped gracefully")
	return nil
}

func syncCommand(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(out)
	typ := fs.String("type", "", "Record type to sync (required)")
	key := fs.String("key", services.DefaultUniqueKey, "Cache key")
	domain := fs.String("domain", "", "HAT domain; defaults to the configured or last logged-in domain")
	token := fs.String("token", "", "HAT access token; defaults to the stored token")
	force := fs.Bool("force", false, "Skip the cache and fetch from the HAT")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*typ) == "" {
		return errors.New("sync: -type is required")
	}

	log := logger.WithModule("cli")
	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	run, err := stack.Sync.Sync(ctx, services.SyncInput{
		Type:      *typ,
		UniqueKey: *key,
		Domain:    *domain,
		Token:     *token,
		Force:     *force,
	})
	if err != nil {
		return fmt.Errorf("sync %s: %w", *typ, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func loginCommand(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(out)
	token := fs.String("token", "", "HAT access token (required)")
	domain := fs.String("domain", "", "HAT domain; defaults to the token issuer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("login: -token is required")
	}

	log := logger.WithModule("cli")
	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	active, err := stack.Tokens.Login(ctx, strings.TrimSpace(*token), *domain)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(out, "logged in to %s\n", active)
	return nil
}

func purgeCommand(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logger.WithModule("cli")
	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	if err := stack.Cleaner.RunOnce(ctx); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	for _, status := range stack.Tracker.Snapshot() {
		fmt.Fprintf(out, "%s: ok in %s\n", status.Job, status.LastDuration)
	}
	return nil
}
