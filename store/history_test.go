package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

func TestHistoryStartAndFinish(t *testing.T) {
	s, err := NewHistoryStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.RecordStart(ctx, 1, []string{"a", "b"}, start))
	require.NoError(t, s.RecordStart(ctx, 2, nil, start.Add(time.Second)))
	require.NoError(t, s.RecordFinish(ctx, 1, types.RebuildFailed, "disk full", start.Add(2*time.Second)))

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, uint64(2), records[0].JobID)
	assert.Equal(t, types.RebuildRunning, records[0].Status)
	assert.Empty(t, records[0].Apps)

	assert.Equal(t, uint64(1), records[1].JobID)
	assert.Equal(t, []string{"a", "b"}, records[1].Apps)
	assert.Equal(t, types.RebuildFailed, records[1].Status)
	assert.Equal(t, "disk full", records[1].Error)
	assert.Equal(t, start.Add(2*time.Second).UnixMilli(), records[1].FinishedAt)
}

func TestHistoryFinishUnknownJob(t *testing.T) {
	s, err := NewHistoryStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.RecordFinish(context.Background(), 9, types.RebuildSucceeded, "", time.Now()))
}

func TestHistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := NewHistoryStore(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordStart(ctx, 1, []string{"a"}, time.Now()))
	require.NoError(t, first.Close())

	second, err := NewHistoryStore(path)
	require.NoError(t, err)
	defer second.Close()
	// job ids restart per process
	require.NoError(t, second.RecordStart(ctx, 1, []string{"b"}, time.Now().Add(time.Second)))

	records, err := second.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
