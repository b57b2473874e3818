package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/api"
	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/clock/system"
	"github.com/JakeFAU/image-archiver/internal/config"
	collyfetcher "github.com/JakeFAU/image-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/image-archiver/internal/logging"
	"github.com/JakeFAU/image-archiver/internal/scheduler"
)

const (
	exitOK        = 0
	exitStartup   = 1
	exitNoSources = 2

	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	flags := flag.NewFlagSet("archiver", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cfgPath := flags.String("config", "", "Path to config file")
	envFile := flags.String("env-file", "", "Optional dotenv file exported before config is read")
	once := flags.Bool("once", false, "Run a single cycle and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitStartup
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(stderr, "load env file failed: %v\n", err)
		return exitStartup
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config failed: %v\n", err)
		return exitStartup
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return exitStartup
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			fmt.Fprintf(stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	sources := archiver.ResolveSources(cfg.SourceConfig())
	if len(sources) == 0 {
		logger.Error("no sources configured; set sources.url or sources.spec (IMAGE_URL or SOURCES)")
		return exitNoSources
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := archiver.EnsureDirs(sources); err != nil {
		logger.Error("prepare archive directories failed", zap.Error(err))
		return exitStartup
	}
	symlinks := archiver.ProbeSymlinks(sources[0].Dir)
	for _, src := range sources {
		logger.Info("source registered",
			zap.String("source_id", src.ID),
			zap.String("url", src.URL),
			zap.String("dir", src.Dir),
			zap.String("mode", string(src.Mode)),
		)
	}
	logger.Info("archiver configured",
		zap.Int("sources", len(sources)),
		zap.Duration("interval", cfg.Interval()),
		zap.Duration("timeout", cfg.FetchTimeout()),
		zap.Int("retry_count", cfg.Fetch.RetryCount),
		zap.Float64("backoff_factor", cfg.Fetch.BackoffFactor),
		zap.Int("max_files", cfg.Retention.MaxFiles),
		zap.Int("max_age_days", cfg.Retention.MaxAgeDays),
		zap.Bool("symlinks", symlinks),
	)

	svc, err := buildServices(ctx, cfg, sources, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return exitStartup
	}
	defer svc.Close(logger)

	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
		Logger:        logger.Named("fetcher"),
	})
	sched, err := scheduler.New(
		sources,
		fetcher,
		archiver.NewWriter(symlinks, logger.Named("writer")),
		archiver.NewSweeper(cfg.Retention(), clock, logger.Named("retention")),
		clock,
		scheduler.Config{
			Interval:     cfg.Interval(),
			FetchTimeout: cfg.FetchTimeout(),
			Retry:        cfg.RetryPolicy(),
		},
		logger,
		svc.options...,
	)
	if err != nil {
		logger.Error("scheduler init failed", zap.Error(err))
		return exitStartup
	}

	if *once {
		result := sched.RunCycle(ctx)
		logger.Info("single cycle complete",
			zap.String("cycle_id", result.ID),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
		return exitOK
	}

	var srv *http.Server
	if cfg.Server.Port > 0 {
		apiServer := api.NewServer(sources, svc.status, sched.Ready, logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler failed", zap.Error(err))
	}
	logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return exitOK
}
