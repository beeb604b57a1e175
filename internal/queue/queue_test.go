package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/pkg/types"
)

func TestEnqueueAssignsIDAndRespectsCapacity(t *testing.T) {
	q := New(2, 50, "")

	item1, err := q.Enqueue(&types.QueueItem{AgentPath: "agents/a"})
	require.NoError(t, err)
	assert.NotEmpty(t, item1.ID)
	assert.Equal(t, types.StatusPending, item1.Status)

	_, err = q.Enqueue(&types.QueueItem{AgentPath: "agents/b"})
	require.NoError(t, err)

	_, err = q.Enqueue(&types.QueueItem{AgentPath: "agents/c"})
	assert.ErrorIs(t, err, ErrFull)
}

func TestNextPrefersPriorityThenFIFO(t *testing.T) {
	q := New(10, 50, "")

	_, err := q.Enqueue(&types.QueueItem{AgentPath: "a", Priority: types.PriorityLow})
	require.NoError(t, err)
	normal, _ := q.Enqueue(&types.QueueItem{AgentPath: "b", Priority: types.PriorityNormal})
	high, _ := q.Enqueue(&types.QueueItem{AgentPath: "c", Priority: types.PriorityHigh})

	next := q.Next()
	require.NotNil(t, next)
	assert.Equal(t, high.ID, next.ID)

	require.NoError(t, q.MarkRunning(high.ID))
	next = q.Next()
	require.NotNil(t, next)
	assert.Equal(t, normal.ID, next.ID)
}

func TestNextSkipsFutureScheduledItems(t *testing.T) {
	q := New(10, 50, "")

	future := time.Now().Add(time.Hour)
	_, err := q.Enqueue(&types.QueueItem{AgentPath: "later", Priority: types.PriorityHigh, ScheduledFor: &future})
	require.NoError(t, err)

	assert.Nil(t, q.Next(), "a future-scheduled item must not be eligible yet")

	due := time.Now().Add(-time.Minute)
	ready, err := q.Enqueue(&types.QueueItem{AgentPath: "now", Priority: types.PriorityLow, ScheduledFor: &due})
	require.NoError(t, err)

	next := q.Next()
	require.NotNil(t, next)
	assert.Equal(t, ready.ID, next.ID, "a past-due scheduled item is eligible even at lower priority")
}

func TestStateMachineTransitions(t *testing.T) {
	q := New(10, 50, "")
	item, err := q.Enqueue(&types.QueueItem{AgentPath: "a"})
	require.NoError(t, err)

	// completed without running first is rejected
	err = q.MarkCompleted(item.ID, &types.ChatResult{Success: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, q.MarkRunning(item.ID))

	// running -> running is rejected
	err = q.MarkRunning(item.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, q.MarkCompleted(item.ID, &types.ChatResult{Success: true}))

	got, ok := q.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// terminal -> running is rejected
	err = q.MarkRunning(item.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkUnknownIDReturnsNotFound(t *testing.T) {
	q := New(10, 50, "")
	assert.ErrorIs(t, q.MarkRunning("nope"), ErrNotFound)
	assert.ErrorIs(t, q.MarkCompleted("nope", nil), ErrNotFound)
	assert.ErrorIs(t, q.MarkFailed("nope", "boom"), ErrNotFound)
}

func TestTerminalRetentionPrunesOldest(t *testing.T) {
	q := New(10, 2, "")

	var ids []string
	for i := 0; i < 3; i++ {
		item, err := q.Enqueue(&types.QueueItem{AgentPath: "a"})
		require.NoError(t, err)
		require.NoError(t, q.MarkRunning(item.ID))
		require.NoError(t, q.MarkCompleted(item.ID, &types.ChatResult{Success: true}))
		ids = append(ids, item.ID)
	}

	snap := q.Snapshot()
	assert.Len(t, snap.Completed, 2)

	_, ok := q.Get(ids[0])
	assert.False(t, ok, "oldest terminal item should have been pruned")
}

func TestSnapshotGroupsByStatus(t *testing.T) {
	q := New(10, 50, "")
	pending, _ := q.Enqueue(&types.QueueItem{AgentPath: "a"})
	running, _ := q.Enqueue(&types.QueueItem{AgentPath: "b"})
	require.NoError(t, q.MarkRunning(running.ID))

	snap := q.Snapshot()
	require.Len(t, snap.Pending, 1)
	require.Len(t, snap.Running, 1)
	assert.Equal(t, pending.ID, snap.Pending[0].ID)
	assert.Equal(t, running.ID, snap.Running[0].ID)
}

func TestPersistenceSurvivesReloadAndDiscardsRunning(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "queue.json")

	q := New(10, 50, snapPath)
	pendingItem, err := q.Enqueue(&types.QueueItem{AgentPath: "a"})
	require.NoError(t, err)
	runningItem, err := q.Enqueue(&types.QueueItem{AgentPath: "b"})
	require.NoError(t, err)
	require.NoError(t, q.MarkRunning(runningItem.ID))

	q2 := New(10, 50, snapPath)

	_, ok := q2.Get(pendingItem.ID)
	assert.True(t, ok)

	_, ok = q2.Get(runningItem.ID)
	assert.False(t, ok, "items left running at shutdown must be discarded on reload")
}
