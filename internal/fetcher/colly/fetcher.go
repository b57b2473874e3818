// Package collyfetcher implements archiver.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/clock/system"
	"github.com/JakeFAU/image-archiver/internal/metrics"
)

// DefaultAccept is sent when Config.Headers does not set Accept.
const DefaultAccept = "image/*,*/*;q=0.8"

// ErrBodyTooLarge reports a response body longer than Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds max body bytes")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	Headers       http.Header
	Logger        *zap.Logger
	// Clock paces robots.txt probe retries; nil uses the system clock.
	Clock archiver.Clock
}

// Fetcher implements archiver.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	clock         archiver.Clock
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Each cycle revisits the same URL.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = bodyReadLimit(cfg.MaxBodyBytes)

	transport := newHTTPTransport()
	c.WithTransport(transport)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("colly"),
		clock:         clock,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses are returned
// with their status code so the caller can decide what counts as success.
func (f *Fetcher) Fetch(ctx context.Context, request archiver.FetchRequest) (archiver.FetchResponse, error) {
	var (
		result   archiver.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector, robotsState := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, "error", 0)
		return archiver.FetchResponse{}, err
	}
	if limit := f.cfg.MaxBodyBytes; limit > 0 && len(result.Body) > limit {
		metrics.ObserveFetch(request.URL, "too_large", 0)
		return archiver.FetchResponse{}, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, limit)
	}
	if robotsState.fellBack() {
		f.logger.Warn("robots.txt unreachable, treated as allow-all",
			zap.String("source_id", request.SourceID),
			zap.String("url", request.URL),
			zap.String("reason", robotsState.reason),
		)
	}
	metrics.ObserveFetch(request.URL, strconv.Itoa(result.StatusCode), len(result.Body))
	return result, nil
}

// bodyReadLimit reads one byte past the configured limit. colly truncates
// silently, so the extra byte is what tells an oversized body apart.
func bodyReadLimit(maxBodyBytes int) int {
	if maxBodyBytes <= 0 {
		return 0
	}
	return maxBodyBytes + 1
}

func (f *Fetcher) buildCollector(
	request archiver.FetchRequest,
	start time.Time,
	result *archiver.FetchResponse,
	fetchErr *error,
) (*colly.Collector, *robotsProbe) {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = bodyReadLimit(f.cfg.MaxBodyBytes)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var robotsState *robotsProbe
	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if f.cfg.RespectRobots {
		robotsState = &robotsProbe{}
		collector.WithTransport(&robotsTransport{
			base:  baseTransport,
			clock: f.clock,
			probe: robotsState,
		})
	} else {
		collector.WithTransport(baseTransport)
	}

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector, robotsState
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *archiver.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = archiver.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if r.Headers.Get("Accept") == "" {
		r.Headers.Set("Accept", DefaultAccept)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
