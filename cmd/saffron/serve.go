package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saffronlabs/saffron/pkg/account"
	"github.com/saffronlabs/saffron/pkg/config"
	"github.com/saffronlabs/saffron/pkg/logger"
	"github.com/saffronlabs/saffron/pkg/observability"
	"github.com/saffronlabs/saffron/pkg/server"
	"github.com/saffronlabs/saffron/pkg/session"
	"github.com/saffronlabs/saffron/pkg/toolcall"
)

const shutdownTimeout = 15 * time.Second

type serveCmd struct {
	Watch bool `help:"Reload logger settings when the config file changes."`
}

type validateCmd struct{}

func (validateCmd) Run(c *cli) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	fmt.Printf("configuration ok: listening on %s, data folder %s\n",
		cfg.Server.Address(), cfg.Accounts.DataFolder)
	return nil
}

func (s serveCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	slog.Info("Starting saffron", "version", version, "address", cfg.Server.Address())

	metrics, err := observability.New(cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	pool := account.NewPool(account.Options{
		MaxSessionsPerAccount: cfg.Accounts.MaxSessionsPerCookie,
		TaskInterval:          cfg.Accounts.TaskInterval(),
		Store:                 account.NewStore(cfg.Accounts.DataFolder, cfg.Accounts.NoFilesystemMode),
		Authenticator:         account.NewOAuthAuthenticator(cfg.Claude.WebBaseURL),
		Prober:                account.NewRateLimitProber(cfg.Claude.APIBaseURL, cfg.Claude.WebBaseURL),
	})

	sessions := session.NewManager(session.ManagerOptions{
		Pool:        pool,
		WebBaseURL:  cfg.Claude.WebBaseURL,
		IdleTimeout: cfg.Request.SessionIdleTTL(),
	})
	registry := toolcall.NewRegistry(cfg.Request.ToolCallTTL())

	if err := metrics.RegisterPoolGauges(func() observability.PoolCounts {
		status := pool.Status()
		return observability.PoolCounts{
			ValidAccounts:       int64(status.ValidAccounts),
			RateLimitedAccounts: int64(status.RateLimitedAccounts),
			InvalidAccounts:     int64(status.InvalidAccounts),
			ActiveSessions:      int64(status.ActiveSessions),
		}
	}); err != nil {
		return fmt.Errorf("failed to register gauges: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)
	sessions.Start(ctx)

	if s.Watch {
		go func() {
			err := config.Watch(ctx, c.Config, func(updated *config.Config) {
				if err := initLogger(updated); err != nil {
					slog.Warn("Failed to apply reloaded logger settings", "error", err)
				}
			})
			if err != nil {
				slog.Warn("Config watch unavailable", "error", err)
			}
		}()
	}

	srv := server.New(cfg, pool, sessions, registry, metrics)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}

	sessions.Stop()
	pool.Stop()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Metrics shutdown incomplete", "error", err)
	}
	return nil
}

// loadConfig reads the config file; a missing file at the default path
// falls back to defaults so the proxy runs with zero configuration.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("No config file found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func initLogger(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return err
	}

	var output io.Writer = os.Stderr
	if cfg.Logger.File != "" {
		f, _, err := logger.OpenLogFile(cfg.Logger.File)
		if err != nil {
			return err
		}
		output = f
	}
	logger.Init(level, output, cfg.Logger.Format)
	return nil
}
