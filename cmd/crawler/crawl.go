package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/wiki-archiver/internal/adapter/chromedp_renderer"
	"github.com/user/wiki-archiver/internal/adapter/filesystem"
	"github.com/user/wiki-archiver/internal/adapter/postgres"
	"github.com/user/wiki-archiver/internal/delivery/http/handler"
	"github.com/user/wiki-archiver/internal/delivery/http/router"
	"github.com/user/wiki-archiver/internal/usecase"
	"github.com/user/wiki-archiver/pkg/config"
	"github.com/user/wiki-archiver/pkg/logger"
	"github.com/user/wiki-archiver/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

func runCrawl(cmd *cobra.Command, configPath string, flags *crawlFlags) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, cleanup, err := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()

	// --- Scope ---
	canon, err := usecase.NewCanonicalizer(cfg.BaseURL, cfg.ExcludePrefixes)
	if err != nil {
		return err
	}
	log.Info("starting wiki download",
		zap.String("base_url", canon.Scope()),
		zap.String("base_dir", cfg.BaseDir),
		zap.String("backend", cfg.Checkpoint.Backend),
	)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// --- Repositories ---
	checkpoints, closeStore, err := openCheckpoints(ctx, cfg, canon.Scope(), log)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver, err := filesystem.NewArchiveRepo(cfg.BaseDir, cfg.Archive.Disambiguate, log)
	if err != nil {
		return err
	}

	opts := []usecase.SchedulerOption{
		usecase.WithRetryPolicy(usecase.RetryPolicy{
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  cfg.Retry.Multiplier,
			MaxAttempts: cfg.Retry.MaxAttempts,
		}),
		usecase.WithRequeueDeadLetters(flags.requeueDeadLetters),
	}

	if cfg.Postgres.URL != "" {
		dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		deadLetters := postgres.NewDeadLetterRepo(dbpool)
		if err := deadLetters.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare dead letter table: %w", err)
		}
		opts = append(opts, usecase.WithDeadLetterRepository(deadLetters))
		log.Info("PostgreSQL dead letter store enabled")
	}

	// --- Renderer ---
	// Started last: from here on the scheduler owns it and closes it on return.
	renderer, err := chromedp_renderer.NewChromedpRenderer(chromedp_renderer.Options{
		ReadyTimeout: cfg.Renderer.ReadyTimeout,
		PageTimeout:  cfg.Renderer.PageTimeout,
		WaitSelector: cfg.Renderer.WaitSelector,
		Headless:     cfg.Renderer.Headless,
		ExecPath:     cfg.Renderer.ChromePath,
		UserAgent:    cfg.Renderer.UserAgent,
		ProxyServer:  cfg.Renderer.ProxyServer,
	}, log)
	if err != nil {
		return err
	}

	scheduler := usecase.NewScheduler(
		canon.Scope(),
		renderer,
		archiver,
		usecase.NewLinkExtractor(canon, log),
		checkpoints,
		m,
		log,
		opts...,
	)

	if cfg.Server.Addr == "" {
		err = scheduler.Run(ctx)
	} else {
		err = runWithServer(ctx, scheduler, cfg.Server.Addr, m, reg, log)
	}

	p := scheduler.Progress()
	switch {
	case err == nil:
		log.Info("crawl finished",
			zap.Int("pages", p.PageCount),
			zap.Int("dead_letters", p.DeadLettered),
		)
	case errors.Is(err, context.Canceled):
		log.Info("crawl interrupted, progress saved",
			zap.Int("pages", p.PageCount),
			zap.Int("remaining", p.Remaining),
		)
	default:
		log.Error("crawl failed", zap.Error(err))
	}
	return err
}

// runWithServer runs the scheduler next to the progress API. The server is
// shut down as soon as the crawl returns.
func runWithServer(
	ctx context.Context,
	scheduler *usecase.Scheduler,
	addr string,
	m *metrics.Metrics,
	reg *prometheus.Registry,
	log *zap.Logger,
) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      router.New(handler.NewHandler(scheduler, log), m, reg, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		log.Info("Starting server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-serverCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
