package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ha1tch/csvgraph/pkg/cache"
	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/loader"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/server"
	"github.com/ha1tch/csvgraph/pkg/sink"
	"github.com/ha1tch/csvgraph/pkg/source"
	"github.com/ha1tch/csvgraph/pkg/validation"
)

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, trimmed, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	for _, key := range trimmed {
		logger.Warn().Str("key", key).Msg("Environment value had surrounding whitespace, trimmed")
	}

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load table mapping")
		return err
	}

	src, err := source.NewDir(cfg.CSVDir, source.Options{
		Delimiter:  cfg.DelimiterRune(),
		BoolExempt: cfg.BoolExempt,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open CSV directory")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := newStore(cfg, logger)
	defer store.Close()

	token, err := store.Acquire(ctx, cache.LoadLockKey, cfg.LockTTL)
	if errors.Is(err, cache.ErrLocked) {
		logger.Error().Msg("Another load is running against these backends")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to take load lock: %w", err)
	}
	defer func() {
		if err := store.Release(context.Background(), cache.LoadLockKey, token); err != nil {
			logger.Warn().Err(err).Msg("Failed to release load lock")
		}
	}()

	sinks, mem, err := openSinks(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to primary backend")
		return err
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	printBanner(cfg, names)

	coordinator := loader.New(catalog, sinks, loader.Options{
		RunID:     uuid.NewString(),
		Observer:  loader.NewLogObserver(logger),
		Validator: validation.NewGuard(cfg.FKSuffix),
	})

	var report *models.Report
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.StatusAddr != "" {
		srv := server.New(cfg.StatusAddr, coordinator, store, catalog, logger)
		g.Go(func() error {
			if err := srv.Serve(srvCtx); err != nil {
				logger.Error().Err(err).Msg("Status server failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stopServer()
		var runErr error
		report, runErr = coordinator.Run(gctx, src)
		return runErr
	})
	runErr := g.Wait()

	if report != nil {
		publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.SetJSON(publishCtx, store, cache.ReportKey, report, cfg.ReportTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish run report")
		}
		cancel()
	}

	if mem != nil && cfg.DumpPath != "" {
		stats, err := mem.Dump(cfg.DumpPath)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.DumpPath).Msg("Failed to write graph dump")
		} else {
			logger.Info().
				Str("path", cfg.DumpPath).
				Int("nodes", stats.Nodes).
				Int("edges", stats.Edges).
				Msg("Graph dump written and verified")
		}
	}

	if runErr != nil {
		return runErr
	}
	if report.FailedTables > 0 {
		return fmt.Errorf("%d tables failed to load", report.FailedTables)
	}
	return nil
}

// newStore connects to Redis when configured, falling back to the
// in-process cache
func newStore(cfg *config.Config, logger zerolog.Logger) cache.Store {
	if cfg.CacheType == "redis" {
		redisCache, err := cache.NewRedisCache(cfg.RedisHost, cfg.RedisPort, cfg.ReportTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Redis, falling back to memory cache")
			return cache.NewMemoryCache(cfg.CacheSize, cfg.ReportTTL)
		}
		logger.Info().Msg("Using Redis cache")
		return redisCache
	}
	logger.Debug().Msg("Using in-memory cache")
	return cache.NewMemoryCache(cfg.CacheSize, cfg.ReportTTL)
}

// openSinks connects every configured backend. Only the primary is
// required; an unreachable secondary is left out of the run.
func openSinks(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]*sink.Bound, *sink.MemorySink, error) {
	var sinks []*sink.Bound
	var mem *sink.MemorySink

	primaryType := "age"
	if cfg.DryRun {
		primaryType = "memory"
	}
	primary, err := sink.NewSink(ctx, primaryType, cfg.SinkConfig(primaryType))
	if err != nil {
		return nil, nil, err
	}
	if m, ok := primary.(*sink.MemorySink); ok {
		mem = m
	}
	logSink(logger, primary)
	sinks = append(sinks, sink.Required(primary))

	if cfg.Neo4jURI != "" && !cfg.DryRun {
		secondary, err := sink.NewSink(ctx, "neo4j", cfg.SinkConfig("neo4j"))
		if err != nil {
			logger.Warn().Err(err).Msg("Neo4j unavailable, loading the primary backend only")
		} else {
			logSink(logger, secondary)
			sinks = append(sinks, sink.Optional(secondary))
		}
	}

	if cfg.SnapshotPath != "" {
		snapshot, err := sink.NewSink(ctx, "sqlite", cfg.SinkConfig("sqlite"))
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.SnapshotPath).Msg("Snapshot unavailable, skipped")
		} else {
			logSink(logger, snapshot)
			sinks = append(sinks, sink.Optional(snapshot))
		}
	}

	return sinks, mem, nil
}

func logSink(logger zerolog.Logger, s sink.Sink) {
	if infoProvider, ok := s.(sink.InfoProvider); ok {
		info := infoProvider.Info()
		logger.Info().
			Str("type", info.Type).
			Str("version", info.Version).
			Bool("transactional", info.Transactional).
			Bool("parameterized", info.Parameterized).
			Msg("Backend connected")
		return
	}
	logger.Info().Str("sink", s.Name()).Msg("Backend connected")
}
