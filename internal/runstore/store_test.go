package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qloopdev/qloop/internal/evidence"
	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/quality"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "qloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult() loop.LoopResult {
	c := evidence.NewCollector()
	c.RecordFileChange("main.go", evidence.ActionWrite, 12)
	c.RecordCommand("go test ./...", "ok  pkg  0.1s", 0)
	snap := c.Snapshot()

	return loop.LoopResult{
		Status:          loop.StatusSuccess,
		Reason:          loop.ReasonQualityMet,
		FinalScore:      82.5,
		TotalIterations: 2,
		TotalDuration:   3 * time.Second,
		Iterations: []loop.IterationResult{
			{
				Iteration: 1,
				Score:     55,
				Assessment: quality.Assessment{
					Score:              55,
					ImprovementsNeeded: []string{"fix failing tests"},
				},
				Evidence: snap,
				Duration: time.Second,
			},
			{
				Iteration:  2,
				Score:      82.5,
				Assessment: quality.Assessment{Score: 82.5, Passed: true},
				Evidence:   snap,
				Duration:   2 * time.Second,
			},
		},
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.SaveRun(ctx, "add retry logic", sampleResult())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	rec, err := s.GetRun(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, "add retry logic", rec.Task)
	assert.Equal(t, loop.StatusSuccess, rec.Status)
	assert.Equal(t, string(loop.ReasonQualityMet), rec.Reason)
	assert.InDelta(t, 82.5, rec.FinalScore, 0.001)
	require.Len(t, rec.Iterations, 2)
	assert.Equal(t, []string{"fix failing tests"}, rec.Iterations[0].Improvements)
	assert.True(t, rec.Iterations[1].Passed)
	assert.Equal(t, []string{"main.go"}, rec.Iterations[0].Evidence.FilesWritten)
	assert.True(t, rec.Iterations[0].Evidence.TestsRun)
}

func TestStore_GetRunNotFound(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "20990101-000000-abcdef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SaveRun(ctx, "task one", sampleResult())
	require.NoError(t, err)
	second, err := s.SaveRun(ctx, "task two", sampleResult())
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].RunID)
	assert.Equal(t, first, runs[1].RunID)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_PruneKeepsNewest(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	var last string
	for i := 0; i < 4; i++ {
		id, err := s.SaveRun(ctx, "task", sampleResult())
		require.NoError(t, err)
		last = id
	}

	deleted, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, last, runs[0].RunID)

	// Cascade removed the orphaned iterations.
	_, err = s.GetRun(ctx, last)
	require.NoError(t, err)
}
