package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/metrics"
)

const (
	robotsPath          = "/robots.txt"
	robotsAllowAll      = "User-agent: *\nAllow: /"
	robotsReasonTimeout = "TLS handshake timeout"
)

// robotsProbeDelays separates retries of a robots.txt probe that timed out.
var robotsProbeDelays = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport retries robots.txt probes that time out and, once the
// retries run out, answers with an allow-all policy so a flaky probe cannot
// block the image fetch. Every other request goes straight to base.
type robotsTransport struct {
	base  http.RoundTripper
	clock archiver.Clock
	probe *robotsProbe
}

// robotsProbe records whether the probe of one fetch fell back to allow-all.
type robotsProbe struct {
	fallback bool
	reason   string
}

func (p *robotsProbe) fellBack() bool {
	return p != nil && p.fallback
}

func (p *robotsProbe) markFallback(reason string) {
	if p.fallback {
		return
	}
	p.fallback = true
	p.reason = reason
	metrics.ObserveRobotsFallback()
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if t.probe == nil || !strings.EqualFold(req.URL.Path, robotsPath) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isProbeTimeout(err) {
			return nil, fmt.Errorf("probe robots.txt: %w", err)
		}
		if attempt >= len(robotsProbeDelays) {
			t.probe.markFallback(robotsReasonTimeout)
			return allowAllResponse(req), nil
		}
		if err := t.clock.Sleep(req.Context(), robotsProbeDelays[attempt]); err != nil {
			return nil, fmt.Errorf("wait before robots.txt retry: %w", err)
		}
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isProbeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
