package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/image-archiver/internal/progress"
)

// TestStatusSinkTracksSources folds successes, failures and prunes per source.
func TestStatusSinkTracksSources(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	cycle := uuid.New()
	cycleID := progress.UUIDToBytes(cycle)
	now := time.Unix(1700000000, 0).UTC()

	batch := []progress.Event{
		{CycleID: cycleID, TS: now, Stage: progress.StageCycleStart},
		{CycleID: cycleID, TS: now, Stage: progress.StageFetchFailed, SourceID: "side", Note: "timeout"},
		{CycleID: cycleID, TS: now.Add(time.Second), Stage: progress.StageCaptureSaved, SourceID: "front", Filename: "a.jpg", Bytes: 10},
		{CycleID: cycleID, TS: now.Add(time.Second), Stage: progress.StagePruned, SourceID: "front", Removed: 2},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	cycles := sink.Cycles()
	assert.Equal(t, int64(0), cycles.Completed)
	assert.Equal(t, cycle.String(), cycles.LastCycleID)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CycleID: cycleID, TS: now.Add(2 * time.Second), Stage: progress.StageCycleDone, Failed: 1, Dur: 2 * time.Second},
		{CycleID: cycleID, TS: now.Add(3 * time.Second), Stage: progress.StageFetchFailed, SourceID: "side", Note: "status 500"},
	}))

	cycles = sink.Cycles()
	assert.Equal(t, int64(1), cycles.Completed)
	assert.Equal(t, 1, cycles.LastFailed)
	assert.Equal(t, 2*time.Second, cycles.LastDuration)

	statuses := sink.Sources()
	require.Len(t, statuses, 2)
	assert.Equal(t, "front", statuses[0].SourceID)
	assert.Equal(t, "a.jpg", statuses[0].LastFilename)
	assert.Equal(t, int64(1), statuses[0].Captures)
	assert.Equal(t, int64(2), statuses[0].Pruned)

	side, ok := sink.Source("side")
	require.True(t, ok)
	assert.Equal(t, 2, side.ConsecutiveFailures)
	assert.Equal(t, "status 500", side.LastError)

	// A success resets the failure streak.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CycleID: cycleID, TS: now.Add(4 * time.Second), Stage: progress.StageCaptureSaved, SourceID: "side", Filename: "b.jpg"},
	}))
	side, _ = sink.Source("side")
	assert.Equal(t, 0, side.ConsecutiveFailures)
	assert.Equal(t, int64(2), side.Failures)

	_, ok = sink.Source("unknown")
	assert.False(t, ok)
}
