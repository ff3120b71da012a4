package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsmraft/engine/enginetest"
	"github.com/rsmraft/engine/rsm"
	"github.com/rsmraft/engine/snapshot"
)

func runInline(f func() error) error { return f() }

func TestTryTakeIsANoOpBeforeAnythingHasBeenApplied(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	sm := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, sm, nil)

	require.NoError(t, c.TryTake(0, runInline))
	_, pending := c.PendingIndex()
	assert.False(t, pending)
	_, ok := store.CurrentSnapshot()
	assert.False(t, ok)
}

func TestTryTakeCreatesAPendingSnapshot(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	sm := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, sm, nil)

	require.NoError(t, c.TryTake(5, runInline))

	idx, pending := c.PendingIndex()
	require.True(t, pending)
	assert.Equal(t, rsm.LogIndex(5), idx)

	// A second call before Complete must not take another snapshot.
	require.NoError(t, c.TryTake(6, runInline))
	idx, _ = c.PendingIndex()
	assert.Equal(t, rsm.LogIndex(5), idx)
}

func TestTryCompleteFinalizesOncePendingLastCompletedReached(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	sm := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, sm, nil)

	require.NoError(t, c.TryTake(5, runInline))

	// Not yet caught up: nothing completes.
	require.NoError(t, c.TryComplete(4))
	_, pending := c.PendingIndex()
	assert.True(t, pending)
	_, hasCurrent := store.CurrentSnapshot()
	assert.False(t, hasCurrent)

	require.NoError(t, c.TryComplete(5))
	_, pending = c.PendingIndex()
	assert.False(t, pending)

	current, hasCurrent := store.CurrentSnapshot()
	require.True(t, hasCurrent)
	assert.Equal(t, rsm.LogIndex(5), current.Index())
	assert.Equal(t, rsm.LogIndex(5), log.Compactor().SnapshotIndex())
}

func TestTryInstallIsANoOpWithoutACompletedSnapshot(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	sm := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, sm, nil)

	require.NoError(t, c.TryInstall(5, runInline))
	assert.Equal(t, rsm.LogIndex(0), log.Compactor().SnapshotIndex())
}

func TestTryInstallAppliesACompletedSnapshotAtMatchingIndex(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	producer := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, producer, nil)

	require.NoError(t, c.TryTake(5, runInline))
	require.NoError(t, c.TryComplete(5))

	// A second replica with its own log shares the completed snapshot but
	// has not advanced its own compactor's snapshotIndex yet.
	installerLog := enginetest.NewLog()
	installer := enginetest.NewEchoStateMachine()
	c2 := snapshot.NewCoordinator(installerLog, store, installer, nil)

	// Wrong index: install must wait.
	require.NoError(t, c2.TryInstall(4, runInline))
	assert.Equal(t, rsm.LogIndex(0), installerLog.Compactor().SnapshotIndex())

	require.NoError(t, c2.TryInstall(5, runInline))
	assert.Equal(t, rsm.LogIndex(5), installerLog.Compactor().SnapshotIndex())
}

func TestOpenReaderFailsWithoutACompletedSnapshot(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	sm := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, sm, nil)

	_, _, err := c.OpenReader(context.Background())
	assert.Error(t, err)
}

func TestOpenReaderCanBeAcquiredAndReleasedRepeatedly(t *testing.T) {
	log := enginetest.NewLog()
	store := enginetest.NewSnapshotStore()
	sm := enginetest.NewEchoStateMachine()
	c := snapshot.NewCoordinator(log, store, sm, nil)
	require.NoError(t, c.TryTake(1, runInline))
	require.NoError(t, c.TryComplete(1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 6; i++ {
		r, release, err := c.OpenReader(ctx)
		require.NoError(t, err)
		release()
		require.NoError(t, r.Close())
	}
}
