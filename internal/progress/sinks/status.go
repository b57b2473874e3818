package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/image-archiver/internal/progress"
)

// SourceStatus is the last known state of one source.
type SourceStatus struct {
	SourceID            string    `json:"source_id"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	LastFilename        string    `json:"last_filename,omitempty"`
	LastBytes           int64     `json:"last_bytes,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Captures            int64     `json:"captures"`
	Failures            int64     `json:"failures"`
	Pruned              int64     `json:"pruned"`
}

// CycleStatus summarizes cycle history.
type CycleStatus struct {
	Completed      int64         `json:"completed"`
	LastCycleID    string        `json:"last_cycle_id,omitempty"`
	LastStartedAt  time.Time     `json:"last_started_at,omitzero"`
	LastFinishedAt time.Time     `json:"last_finished_at,omitzero"`
	LastDuration   time.Duration `json:"last_duration_ns,omitempty"`
	LastFailed     int           `json:"last_failed"`
}

// StatusSink keeps an in-memory table of per-source outcomes for the ops API.
type StatusSink struct {
	mu      sync.RWMutex
	sources map[string]*SourceStatus
	cycles  CycleStatus
}

// NewStatusSink returns an empty status table.
func NewStatusSink() *StatusSink {
	return &StatusSink{sources: make(map[string]*SourceStatus)}
}

// Consume folds the batch into the status table.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCycleStart:
			s.cycles.LastCycleID = evt.CycleUUID().String()
			s.cycles.LastStartedAt = evt.TS
		case progress.StageCycleDone:
			s.cycles.Completed++
			s.cycles.LastFinishedAt = evt.TS
			s.cycles.LastDuration = evt.Dur
			s.cycles.LastFailed = evt.Failed
		case progress.StageCaptureSaved:
			st := s.source(evt.SourceID)
			st.LastSuccessAt = evt.TS
			st.LastFilename = evt.Filename
			st.LastBytes = evt.Bytes
			st.ConsecutiveFailures = 0
			st.Captures++
		case progress.StageFetchFailed:
			st := s.source(evt.SourceID)
			st.LastFailureAt = evt.TS
			st.LastError = evt.Note
			st.ConsecutiveFailures++
			st.Failures++
		case progress.StagePruned:
			s.source(evt.SourceID).Pruned += int64(evt.Removed)
		}
	}
	return nil
}

func (s *StatusSink) source(id string) *SourceStatus {
	st, ok := s.sources[id]
	if !ok {
		st = &SourceStatus{SourceID: id}
		s.sources[id] = st
	}
	return st
}

// Source returns the status of one source.
func (s *StatusSink) Source(id string) (SourceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sources[id]
	if !ok {
		return SourceStatus{SourceID: id}, false
	}
	return *st, true
}

// Sources returns every known source status sorted by id.
func (s *StatusSink) Sources() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SourceStatus, 0, len(s.sources))
	for _, st := range s.sources {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Cycles returns the cycle summary.
func (s *StatusSink) Cycles() CycleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
