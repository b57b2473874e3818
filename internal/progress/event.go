// Package progress defines the event structures emitted by the scheduler.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCycleStart   Stage = "CYCLE_START"
	StageCycleDone    Stage = "CYCLE_DONE"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchFailed  Stage = "FETCH_FAILED"
	StageCaptureSaved Stage = "CAPTURE_SAVED"
	StagePruned       Stage = "PRUNED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a fetch cycle.
type Event struct {
	// CycleID identifies one pass over the registry using the 16-byte UUID form.
	CycleID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// SourceID scopes source-level events.
	SourceID string
	// URL is the source URL; it should not contain credentials.
	URL string
	// Filename names the committed item for CAPTURE_SAVED.
	Filename string
	// Bytes carries the body size for fetches and captures.
	Bytes int64
	// Attempts is how many fetch attempts the outcome took.
	Attempts int
	// Removed counts items deleted by a retention sweep.
	Removed int
	// Sources is the registry size for cycle events.
	Sources int
	// Failed counts sources that did not produce an item in a cycle.
	Failed int
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures fetch or cycle latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CycleID == [16]byte{} {
		return errors.New("cycle id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone:
	case StageFetchDone:
		if e.SourceID == "" {
			return errors.New("fetch done requires source id")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageFetchFailed, StagePruned:
		if e.SourceID == "" {
			return fmt.Errorf("%s requires source id", e.Stage)
		}
	case StageCaptureSaved:
		if e.SourceID == "" || e.Filename == "" {
			return errors.New("capture saved requires source id and filename")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CycleUUID converts the binary cycle ID to uuid.UUID.
func (e Event) CycleUUID() uuid.UUID {
	return uuid.UUID(e.CycleID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseCycleID decodes a textual cycle id. Unparseable ids map to the zero value.
func ParseCycleID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
