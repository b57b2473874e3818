// Package scheduler drives the periodic fetch, archive, and retention cycle
// over every configured source.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/clock/system"
	"github.com/JakeFAU/image-archiver/internal/hash/sha256"
	"github.com/JakeFAU/image-archiver/internal/id/uuid"
	"github.com/JakeFAU/image-archiver/internal/metrics"
	"github.com/JakeFAU/image-archiver/internal/progress"
)

// Config controls cycle pacing and per-fetch limits.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Retry        archiver.RetryPolicy
}

// CycleResult summarizes one pass over the registry.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Succeeded int
	Failed    int
	Captures  []archiver.Capture
}

// Scheduler visits every source once per cycle, strictly one at a time.
type Scheduler struct {
	sources    []archiver.Source
	fetcher    archiver.Fetcher
	screenshot archiver.Fetcher
	writer     *archiver.Writer
	sweeper    *archiver.Sweeper
	clock      archiver.Clock
	cfg        Config
	logger     *zap.Logger

	mirrors   []archiver.Mirror
	publisher archiver.Publisher
	topic     string
	ledger    archiver.Ledger
	emitter   progress.Emitter
	hasher    archiver.Hasher
	ids       archiver.IDGenerator

	completed atomic.Int64
	mu        sync.RWMutex
	last      CycleResult
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithScreenshotFetcher sets the fetcher used for screenshot-mode sources.
func WithScreenshotFetcher(f archiver.Fetcher) Option {
	return func(s *Scheduler) { s.screenshot = f }
}

// WithMirror adds a secondary copy target for every committed capture.
func WithMirror(m archiver.Mirror) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.mirrors = append(s.mirrors, m)
		}
	}
}

// WithPublisher publishes a notification to topic for every committed capture.
func WithPublisher(p archiver.Publisher, topic string) Option {
	return func(s *Scheduler) {
		s.publisher = p
		s.topic = topic
	}
}

// WithLedger records every committed capture.
func WithLedger(l archiver.Ledger) Option {
	return func(s *Scheduler) { s.ledger = l }
}

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithHasher overrides the digest used for captures.
func WithHasher(h archiver.Hasher) Option {
	return func(s *Scheduler) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithIDGenerator overrides cycle and capture id generation.
func WithIDGenerator(g archiver.IDGenerator) Option {
	return func(s *Scheduler) {
		if g != nil {
			s.ids = g
		}
	}
}

// New validates collaborators and returns a Scheduler.
func New(
	sources []archiver.Source,
	fetcher archiver.Fetcher,
	writer *archiver.Writer,
	sweeper *archiver.Sweeper,
	clock archiver.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Scheduler, error) {
	if len(sources) == 0 {
		return nil, archiver.ErrNoSources
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if writer == nil || sweeper == nil {
		return nil, errors.New("writer and sweeper are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		sources: append([]archiver.Source(nil), sources...),
		fetcher: fetcher,
		writer:  writer,
		sweeper: sweeper,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
		emitter: progress.NopEmitter{},
		hasher:  sha256.New(),
		ids:     uuid.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, src := range s.sources {
		if src.Mode == archiver.ModeScreenshot && s.screenshot == nil {
			return nil, fmt.Errorf("source %s needs a screenshot fetcher", src.ID)
		}
	}
	if dups := archiver.DuplicateIDs(s.sources); len(dups) > 0 {
		s.logger.Warn("duplicate source ids share an archive directory", zap.Strings("ids", dups))
	}
	return s, nil
}

// Sources returns a copy of the registry in visiting order.
func (s *Scheduler) Sources() []archiver.Source {
	return append([]archiver.Source(nil), s.sources...)
}

// CyclesCompleted reports how many cycles have finished.
func (s *Scheduler) CyclesCompleted() int64 {
	return s.completed.Load()
}

// Ready reports whether at least one cycle has completed.
func (s *Scheduler) Ready() bool {
	return s.CyclesCompleted() > 0
}

// LastCycle returns the most recent completed cycle summary.
func (s *Scheduler) LastCycle() CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run executes cycles until ctx is canceled. Each cycle starts interval after
// the previous one started, or immediately when the previous one overran.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Int("sources", len(s.sources)),
		zap.Duration("interval", s.cfg.Interval),
	)
	for {
		result := s.RunCycle(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopping", zap.Int64("cycles", s.CyclesCompleted()))
			return nil
		}
		wait := s.cfg.Interval - result.Duration
		if wait <= 0 {
			s.logger.Warn("cycle exceeded interval, starting next cycle immediately",
				zap.String("cycle_id", result.ID),
				zap.Duration("elapsed", result.Duration),
			)
			continue
		}
		s.logger.Debug("sleeping until next cycle", zap.Duration("wait", wait))
		if err := s.clock.Sleep(ctx, wait); err != nil {
			s.logger.Info("scheduler stopping", zap.Int64("cycles", s.CyclesCompleted()))
			return nil
		}
	}
}

// RunCycle visits every source once. A failure or panic for one source is
// logged and never prevents the remaining sources from being visited.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	start := s.clock.Now()
	cycleID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate cycle id", zap.Error(err))
	}
	result := CycleResult{ID: cycleID, StartedAt: start.UTC()}
	rawID := progress.ParseCycleID(cycleID)
	logger := s.logger.With(zap.String("cycle_id", cycleID))

	s.emit(progress.Event{
		CycleID: rawID,
		Stage:   progress.StageCycleStart,
		Sources: len(s.sources),
	})
	logger.Info("cycle started", zap.Int("sources", len(s.sources)))

	for _, src := range s.sources {
		if ctx.Err() != nil {
			break
		}
		capture, err := s.visit(ctx, cycleID, src, logger)
		if err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
		result.Captures = append(result.Captures, capture)
	}
	if skipped := len(s.sources) - result.Succeeded - result.Failed; skipped > 0 {
		result.Failed += skipped
	}
	result.Duration = s.clock.Now().Sub(start)

	s.emit(progress.Event{
		CycleID: rawID,
		Stage:   progress.StageCycleDone,
		Sources: len(s.sources),
		Failed:  result.Failed,
		Dur:     nonNegative(result.Duration),
	})
	logger.Info("cycle finished",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Duration),
	)

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
	s.completed.Add(1)
	return result
}

// visit runs fetch, write, hooks, and sweep for one source.
func (s *Scheduler) visit(
	ctx context.Context,
	cycleID string,
	src archiver.Source,
	logger *zap.Logger,
) (capture archiver.Capture, err error) {
	logger = logger.With(zap.String("source_id", src.ID))
	rawID := progress.ParseCycleID(cycleID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing source %s: %v", src.ID, r)
			logger.Error("recovered from panic", zap.Any("panic", r))
			s.emit(progress.Event{
				CycleID:  rawID,
				Stage:    progress.StageFetchFailed,
				SourceID: src.ID,
				URL:      src.URL,
				Note:     err.Error(),
			})
		}
	}()

	fetched, err := s.fetch(ctx, src, logger)
	if err != nil {
		s.emit(progress.Event{
			CycleID:  rawID,
			Stage:    progress.StageFetchFailed,
			SourceID: src.ID,
			URL:      src.URL,
			Attempts: fetched.Attempts,
			Note:     err.Error(),
		})
		return archiver.Capture{}, err
	}
	resp := fetched.Response
	s.emit(progress.Event{
		CycleID:     rawID,
		Stage:       progress.StageFetchDone,
		SourceID:    src.ID,
		URL:         src.URL,
		Bytes:       int64(len(resp.Body)),
		Attempts:    fetched.Attempts,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         nonNegative(resp.Duration),
	})

	capturedAt := s.clock.Now()
	ext := archiver.GuessExtension(resp.ContentType(), src.URL)
	target, err := s.writer.Write(src.Dir, resp.Body, ext, capturedAt)
	if err != nil {
		logger.Error("archive write failed", zap.String("dir", src.Dir), zap.Error(err))
		s.emit(progress.Event{
			CycleID:  rawID,
			Stage:    progress.StageFetchFailed,
			SourceID: src.ID,
			URL:      src.URL,
			Attempts: fetched.Attempts,
			Note:     err.Error(),
		})
		return archiver.Capture{}, fmt.Errorf("write capture: %w", err)
	}

	capture = s.describe(src, cycleID, target, ext, resp, fetched.Attempts, capturedAt, logger)
	logger.Info("capture saved",
		zap.String("filename", capture.Filename),
		zap.Int("bytes", capture.Bytes),
		zap.Int("attempts", capture.Attempts),
	)
	s.emit(progress.Event{
		CycleID:  rawID,
		Stage:    progress.StageCaptureSaved,
		SourceID: src.ID,
		URL:      src.URL,
		Filename: capture.Filename,
		Bytes:    int64(capture.Bytes),
		Attempts: capture.Attempts,
	})

	s.runHooks(ctx, capture, resp.Body, logger)
	s.sweep(rawID, src, logger)
	return capture, nil
}

func (s *Scheduler) fetch(ctx context.Context, src archiver.Source, logger *zap.Logger) (archiver.FetchResult, error) {
	fetcher := s.fetcher
	if src.Mode == archiver.ModeScreenshot {
		fetcher = s.screenshot
	}
	request := archiver.FetchRequest{
		SourceID: src.ID,
		URL:      src.URL,
		Timeout:  s.cfg.FetchTimeout,
	}
	result, err := archiver.FetchWithRetry(ctx, fetcher, request, s.cfg.Retry, s.clock, logger)
	if err != nil {
		logger.Warn("fetch failed, skipping source this cycle",
			zap.String("url", src.URL),
			zap.Int("attempts", result.Attempts),
			zap.Error(err),
		)
		return result, fmt.Errorf("fetch %s: %w", src.ID, err)
	}
	return result, nil
}

func (s *Scheduler) describe(
	src archiver.Source,
	cycleID string,
	target string,
	ext string,
	resp archiver.FetchResponse,
	attempts int,
	capturedAt time.Time,
	logger *zap.Logger,
) archiver.Capture {
	contentType := resp.ContentType()
	if contentType == "" {
		contentType = archiver.ContentTypeForExtension(ext)
	}
	id, err := s.ids.NewID()
	if err != nil {
		logger.Warn("generate capture id", zap.Error(err))
	}
	digest, err := s.hasher.Hash(resp.Body)
	if err != nil {
		logger.Warn("hash capture", zap.Error(err))
	}
	return archiver.Capture{
		ID:          id,
		SourceID:    src.ID,
		URL:         src.URL,
		Path:        target,
		Filename:    filepath.Base(target),
		ContentType: contentType,
		Bytes:       len(resp.Body),
		SHA256:      digest,
		CapturedAt:  capturedAt.UTC(),
		CycleID:     cycleID,
		Attempts:    attempts,
	}
}

// runHooks copies a committed capture outward. Hook failures, panics
// included, never undo the capture.
func (s *Scheduler) runHooks(ctx context.Context, capture archiver.Capture, body []byte, logger *zap.Logger) {
	if s.ledger != nil {
		s.runHook("ledger", logger, func() error {
			if err := s.ledger.RecordCapture(ctx, capture); err != nil {
				return fmt.Errorf("record capture: %w", err)
			}
			return nil
		})
	}
	objectPath := path.Join(capture.SourceID, archiver.ImagesDirName, capture.Filename)
	for _, mirror := range s.mirrors {
		s.runHook("mirror", logger, func() error {
			uri, err := mirror.PutObject(ctx, objectPath, capture.ContentType, body)
			if err != nil {
				return fmt.Errorf("mirror capture to %s: %w", objectPath, err)
			}
			logger.Debug("capture mirrored", zap.String("uri", uri))
			return nil
		})
	}
	if s.publisher != nil && s.topic != "" {
		s.runHook("publish", logger, func() error {
			msgID, err := s.publisher.Publish(ctx, s.topic, capture.Notification())
			if err != nil {
				return fmt.Errorf("publish capture to %s: %w", s.topic, err)
			}
			logger.Debug("capture published", zap.String("message_id", msgID))
			return nil
		})
	}
}

func (s *Scheduler) runHook(hook string, logger *zap.Logger, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveHookFailure(hook)
			logger.Error("capture hook panicked", zap.String("hook", hook), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		metrics.ObserveHookFailure(hook)
		logger.Error("capture hook failed", zap.String("hook", hook), zap.Error(err))
	}
}

func (s *Scheduler) sweep(cycleID [16]byte, src archiver.Source, logger *zap.Logger) {
	if !s.sweeper.Limits().Enabled() {
		return
	}
	result, err := s.sweeper.Sweep(src.Dir)
	if err != nil {
		logger.Error("retention sweep failed", zap.String("dir", src.Dir), zap.Error(err))
		return
	}
	if result.Removed() == 0 {
		return
	}
	logger.Info("retention removed items",
		zap.Int("by_count", result.RemovedCount),
		zap.Int("by_age", result.RemovedByAge),
		zap.Int("failures", result.Failures),
	)
	s.emit(progress.Event{
		CycleID:  cycleID,
		Stage:    progress.StagePruned,
		SourceID: src.ID,
		Removed:  result.Removed(),
	})
}

func (s *Scheduler) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now().UTC()
	}
	s.emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
