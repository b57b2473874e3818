package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if archiverFetchesTotal == nil || archiverFetchedBytesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		archiverRobotsFallbackTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(archiverFetchesTotal.WithLabelValues("observe.example", "200"))
	beforeBytes := testutil.ToFloat64(archiverFetchedBytesTotal.WithLabelValues("observe.example"))

	ObserveFetch("https://Observe.example/cam.jpg", "200", 512)
	ObserveFetch("https://observe.example/cam.jpg", "error", 0)

	if val := testutil.ToFloat64(archiverFetchesTotal.WithLabelValues("observe.example", "200")); val != before+1 {
		t.Errorf("expected fetch counter %f, got %f", before+1, val)
	}
	if val := testutil.ToFloat64(archiverFetchedBytesTotal.WithLabelValues("observe.example")); val != beforeBytes+512 {
		t.Errorf("expected byte counter %f, got %f", beforeBytes+512, val)
	}
}

func TestObserveRobotsFallback(t *testing.T) {
	Init()
	before := testutil.ToFloat64(archiverRobotsFallbackTotal)
	ObserveRobotsFallback()
	if val := testutil.ToFloat64(archiverRobotsFallbackTotal); val != before+1 {
		t.Errorf("expected robots fallback counter %f, got %f", before+1, val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

func TestObserveHookFailure(t *testing.T) {
	Init()
	before := testutil.ToFloat64(archiverHookFailuresTotal.WithLabelValues("mirror"))
	ObserveHookFailure("mirror")
	if val := testutil.ToFloat64(archiverHookFailuresTotal.WithLabelValues("mirror")); val != before+1 {
		t.Fatalf("expected mirror hook failures %v, got %v", before+1, val)
	}
}
