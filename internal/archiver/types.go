package archiver

import (
	"net/http"
	"time"
)

// SourceMode selects how a source is acquired.
type SourceMode string

// Supported acquisition modes.
const (
	ModeHTTP       SourceMode = "http"
	ModeScreenshot SourceMode = "screenshot"
)

// Source is one independently polled image origin.
type Source struct {
	ID   string     `json:"id"`
	URL  string     `json:"url"`
	Dir  string     `json:"dir"`
	Mode SourceMode `json:"mode"`
}

// FetchRequest captures everything needed for a single fetch attempt.
type FetchRequest struct {
	SourceID string
	URL      string
	Timeout  time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response content type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// FetchResult is a successful fetch after retries.
type FetchResult struct {
	Response FetchResponse
	Attempts int
}

// Capture describes one archived item after it has been committed.
type Capture struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	URL         string    `json:"url"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	SHA256      string    `json:"sha256"`
	CapturedAt  time.Time `json:"captured_at"`
	CycleID     string    `json:"cycle_id"`
	Attempts    int       `json:"attempts"`
}

// CaptureNotification is the message published for each committed capture.
type CaptureNotification struct {
	SourceID    string    `json:"source_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	SHA256      string    `json:"sha256"`
	CapturedAt  time.Time `json:"captured_at"`
	CycleID     string    `json:"cycle_id"`
}

// Notification builds the published form of c.
func (c Capture) Notification() CaptureNotification {
	return CaptureNotification{
		SourceID:    c.SourceID,
		Filename:    c.Filename,
		ContentType: c.ContentType,
		Bytes:       c.Bytes,
		SHA256:      c.SHA256,
		CapturedAt:  c.CapturedAt,
		CycleID:     c.CycleID,
	}
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	Eligible     int
	RemovedCount int
	RemovedByAge int
	Failures     int
	RemovedNames []string
}

// Removed returns the total number of deleted files.
func (r SweepResult) Removed() int {
	return r.RemovedCount + r.RemovedByAge
}
