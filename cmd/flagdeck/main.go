// Package main is the entry point for the flagdeck console.
//
// flagdeck keeps a single feature-flag console state (features, client
// groups and a change log) in one blob and exposes it through an HTTP API
// (serve) and a handful of operator subcommands that read or edit the same
// blob directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/matt-riley/flagdeck/internal/config"
	"github.com/matt-riley/flagdeck/internal/logging"
	"github.com/matt-riley/flagdeck/internal/metrics"
	"github.com/matt-riley/flagdeck/internal/repository"
	"github.com/matt-riley/flagdeck/internal/service"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("flagdeck failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "flagdeck",
		Short:         "Feature flag console",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newFeaturesCommand(),
		newShowCommand(),
		newAudienceCommand(),
		newEnvCommand(),
		newChangesCommand(),
		newEvaluateCommand(),
		newResetCommand(),
	)

	return root
}

// console is the state service plus the resources backing it.
type console struct {
	cfg   config.Config
	log   *slog.Logger
	svc   *service.Service
	close func()
}

// openConsole loads configuration, opens the configured blob store and
// hydrates the service from it. m may be nil; when set, store and command
// metrics are recorded into it.
func openConsole(cmd *cobra.Command, m *metrics.Metrics) (*console, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	repo, pool, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil && m != nil {
		metrics.RegisterPoolMetrics(m.Registry, pool)
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithStateKey(cfg.StateKey),
		service.WithStoreTimeout(cfg.StoreTimeout),
	}
	if m != nil {
		opts = append(opts, service.WithMetrics(m))
	}

	svc, err := service.New(ctx, repo, opts...)
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("init service: %w", err)
	}

	return &console{cfg: cfg, log: log, svc: svc, close: closeRepo}, nil
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(log)
	return cfg, log, nil
}

// blobStore is a service.Repository that can also drop a key. Every
// configured store implements it.
type blobStore interface {
	service.Repository
	DeleteBlob(ctx context.Context, key string) error
}

func openRepository(ctx context.Context, cfg config.Config) (blobStore, *pgxpool.Pool, func(), error) {
	switch cfg.BlobStore {
	case config.StoreMemory:
		return repository.NewMemoryRepository(), nil, func() {}, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repository.NewPostgresRepository(pool), pool, pool.Close, nil
	case config.StoreRedis:
		repo, err := repository.OpenRedisRepository(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return repo, nil, func() { _ = repo.Close() }, nil
	default:
		repo, err := repository.OpenPebbleRepository(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open pebble store: %w", err)
		}
		return repo, nil, func() { _ = repo.Close() }, nil
	}
}
