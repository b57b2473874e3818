package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/config"
	headlessfetcher "github.com/JakeFAU/image-archiver/internal/fetcher/headless"
	"github.com/JakeFAU/image-archiver/internal/progress"
	"github.com/JakeFAU/image-archiver/internal/progress/sinks"
	"github.com/JakeFAU/image-archiver/internal/scheduler"
	pubsubpublisher "github.com/JakeFAU/image-archiver/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/image-archiver/internal/storage/gcs"
	localstore "github.com/JakeFAU/image-archiver/internal/storage/local"
	"github.com/JakeFAU/image-archiver/internal/storage/postgres"
)

const bucketCheckTimeout = 10 * time.Second

// services holds the optional collaborators built from configuration.
type services struct {
	options []scheduler.Option
	status  *sinks.StatusSink
	closers []func(context.Context) error
}

func (s *services) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Close releases collaborators in reverse construction order.
func (s *services) Close(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			logger.Warn("close service failed", zap.Error(err))
		}
	}
}

func buildServices(
	ctx context.Context,
	cfg config.Config,
	sources []archiver.Source,
	reg prometheus.Registerer,
	logger *zap.Logger,
) (*services, error) {
	svc := &services{}
	if err := svc.withProgress(reg, logger); err != nil {
		svc.Close(logger)
		return nil, err
	}
	steps := []func(context.Context, config.Config, []archiver.Source, *zap.Logger) error{
		svc.withScreenshots,
		svc.withMirrors,
		svc.withPublisher,
		svc.withLedger,
	}
	for _, step := range steps {
		if err := step(ctx, cfg, sources, logger); err != nil {
			svc.Close(logger)
			return nil, err
		}
	}
	return svc, nil
}

func (s *services) withProgress(reg prometheus.Registerer, logger *zap.Logger) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	s.status = sinks.NewStatusSink()
	hub := progress.NewHub(progress.Config{Logger: logger},
		promSink,
		sinks.NewLogSink(logger.Named("events")),
		s.status,
	)
	s.onClose(hub.Close)
	s.options = append(s.options, scheduler.WithEmitter(hub))
	return nil
}

func (s *services) withScreenshots(_ context.Context, cfg config.Config, sources []archiver.Source, logger *zap.Logger) error {
	needed := false
	for _, src := range sources {
		if src.Mode == archiver.ModeScreenshot {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		Width:             cfg.Headless.Width,
		Height:            cfg.Headless.Height,
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
	})
	if err != nil {
		return fmt.Errorf("init headless fetcher: %w", err)
	}
	logger.Info("headless screenshots enabled", zap.Strings("sources", cfg.Headless.Sources))
	s.onClose(func(context.Context) error {
		fetcher.Close()
		return nil
	})
	s.options = append(s.options, scheduler.WithScreenshotFetcher(fetcher))
	return nil
}

func (s *services) withMirrors(ctx context.Context, cfg config.Config, _ []archiver.Source, logger *zap.Logger) error {
	if cfg.Mirror.LocalDir != "" {
		local, err := localstore.New(localstore.Config{BaseDir: cfg.Mirror.LocalDir})
		if err != nil {
			return fmt.Errorf("init local mirror: %w", err)
		}
		logger.Info("local mirror enabled", zap.String("dir", cfg.Mirror.LocalDir))
		s.options = append(s.options, scheduler.WithMirror(local))
	}
	if cfg.Mirror.GCSBucket == "" {
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	bucket, err := gcsstore.New(client, gcsstore.Config{
		Bucket: cfg.Mirror.GCSBucket,
		Prefix: cfg.Mirror.Prefix,
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("init gcs mirror: %w", err)
	}
	s.onClose(func(context.Context) error { return bucket.Close() })
	checkCtx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
	defer cancel()
	if err := bucket.CheckBucket(checkCtx); err != nil {
		return err
	}
	logger.Info("gcs mirror enabled",
		zap.String("bucket", cfg.Mirror.GCSBucket),
		zap.String("prefix", cfg.Mirror.Prefix),
	)
	s.options = append(s.options, scheduler.WithMirror(bucket))
	return nil
}

func (s *services) withPublisher(ctx context.Context, cfg config.Config, _ []archiver.Source, logger *zap.Logger) error {
	if cfg.PubSub.ProjectID == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client, map[string]string{"producer": "image-archiver"})
	s.onClose(func(context.Context) error { return publisher.Close() })
	logger.Info("capture notifications enabled",
		zap.String("project_id", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	s.options = append(s.options, scheduler.WithPublisher(publisher, cfg.PubSub.TopicName))
	return nil
}

func (s *services) withLedger(ctx context.Context, cfg config.Config, _ []archiver.Source, logger *zap.Logger) error {
	if cfg.DB.DSN == "" {
		return nil
	}
	store, err := postgres.NewCaptureStore(ctx, postgres.CaptureStoreConfig{
		DSN:   cfg.DB.DSN,
		Table: cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("init capture ledger: %w", err)
	}
	s.onClose(func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("capture ledger enabled", zap.String("table", cfg.DB.Table))
	s.options = append(s.options, scheduler.WithLedger(store))
	return nil
}
