package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Update(t *testing.T) {
	ctx, tracker := WithNewTracker(context.Background(), "tag", "dy", nil)

	UpdateCtx(ctx, Delta{Total: 2, Running: 2})
	UpdateCtx(ctx, Delta{Running: -1, Completed: 1})
	UpdateCtx(ctx, Delta{Running: -1, Failed: 1})

	snapshot := tracker.Snapshot()
	assert.Equal(t, "tag", snapshot.Tag)
	assert.Equal(t, "dy", snapshot.Dataset)
	assert.Equal(t, 2, snapshot.TotalBranches)
	assert.Equal(t, 1, snapshot.CompletedBranches)
	assert.Equal(t, 1, snapshot.FailedBranches)
	assert.Equal(t, 0, snapshot.RunningBranches)
}

func TestProgress_OnChange(t *testing.T) {
	var seen []Snapshot
	_, tracker := WithNewTracker(context.Background(), "tag", "dy", func(s Snapshot) {
		seen = append(seen, s)
	})

	tracker.Update(Delta{Total: 1, Running: 1})
	tracker.Update(Delta{Running: -1, Completed: 1})

	if assert.Len(t, seen, 2) {
		assert.Equal(t, 1, seen[0].RunningBranches)
		assert.Equal(t, 1, seen[1].CompletedBranches)
	}

	tracker.OnChange(nil)
	tracker.Update(Delta{Total: 1})
	assert.Len(t, seen, 2)
}

func TestUpdateCtx_WithoutTracker(t *testing.T) {
	// no tracker in context, must not panic
	UpdateCtx(context.Background(), Delta{Total: 1})

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestProgress_NilSafe(t *testing.T) {
	var tracker *Progress
	tracker.Update(Delta{Total: 1})
	assert.Equal(t, Snapshot{}, tracker.Snapshot())
}
