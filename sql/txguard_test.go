package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxGuardReleaseRollsBack(t *testing.T) {
	db, err := Open(testURI(t), WithMigrations(testTables))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	guard, err := NewTxGuard(context.Background(), db)
	require.NoError(t, err)
	insert(t, guard, "a", 1)
	require.NoError(t, guard.Release())
	require.Equal(t, 0, count(t, db, "a"))

	_, err = guard.Exec("select 1", nil, nil)
	require.ErrorIs(t, err, ErrGuardClosed)
}

func TestTxGuardCheckpoint(t *testing.T) {
	db, err := Open(testURI(t), WithMigrations(testTables))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	guard, err := NewTxGuard(context.Background(), db, WithCheckpointItems(2))
	require.NoError(t, err)

	insert(t, guard, "a", 1)
	require.NoError(t, guard.MaybeCheckpoint(10))
	require.NoError(t, guard.MaybeCheckpoint(10))
	require.Equal(t, 0, count(t, db, "a"), "below the batch limit nothing is committed")
	require.NoError(t, guard.MaybeCheckpoint(10))
	require.Equal(t, 1, count(t, db, "a"))

	insert(t, guard, "b", 2)
	require.NoError(t, guard.Checkpoint())
	require.Equal(t, 1, count(t, db, "b"))

	insert(t, guard, "c", 3)
	require.NoError(t, guard.Release())
	require.Equal(t, 0, count(t, db, "c"))
}

func TestTxGuardCommit(t *testing.T) {
	db := InMemory(WithMigrations(testTables))
	guard, err := NewTxGuard(context.Background(), db)
	require.NoError(t, err)
	insert(t, guard, "a", 1)
	require.NoError(t, guard.Commit())
	require.NoError(t, guard.Release())
	require.ErrorIs(t, guard.Commit(), ErrGuardClosed)
	require.Equal(t, 1, count(t, db, "a"))
}

func TestTxGuardCheckpointBytes(t *testing.T) {
	db, err := Open(testURI(t), WithMigrations(testTables))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	guard, err := NewTxGuard(context.Background(), db, WithCheckpointBytes(100), WithCheckpointItems(0))
	require.NoError(t, err)
	t.Cleanup(func() { guard.Release() })
	require.Equal(t, defaultCheckpointItems, guard.checkpointItems)

	insert(t, guard, "a", 1)
	require.NoError(t, guard.MaybeCheckpoint(60))
	require.Equal(t, 0, count(t, db, "a"))
	require.NoError(t, guard.MaybeCheckpoint(60))
	require.Equal(t, 1, count(t, db, "a"))
}
