package noncetracker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCheckRejectsReplay(t *testing.T) {
	tr := New(NewMemoryBackend(), time.Minute, 0, 0)
	n := uuid.New()

	require.True(t, tr.Check(n))
	require.False(t, tr.Check(n))
	require.Equal(t, 1, tr.Len())
}

func TestCheckAllowsDistinctNonces(t *testing.T) {
	tr := New(NewMemoryBackend(), time.Minute, 0, 0)
	require.True(t, tr.Check(uuid.New()))
	require.True(t, tr.Check(uuid.New()))
	require.Equal(t, 2, tr.Len())
}

func TestCapacityEvictsOldest(t *testing.T) {
	backend := NewMemoryBackend()
	tr := New(backend, time.Hour, 3, time.Hour)

	first := uuid.New()
	require.True(t, tr.Check(first))
	require.True(t, tr.Check(uuid.New()))
	require.True(t, tr.Check(uuid.New()))
	require.Equal(t, 3, tr.Len())

	require.True(t, tr.Check(uuid.New()))
	require.Equal(t, 3, tr.Len())

	require.True(t, tr.Check(first), "evicted nonce must be acceptable again")
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	backend := NewMemoryBackend()
	n := uuid.New()
	backend.CheckAndInsert(n, time.Now().Add(-time.Hour), time.Minute, DefaultCapacity)
	require.Equal(t, 1, backend.Len())

	backend.Sweep(time.Now().Add(-time.Minute))
	require.Equal(t, 0, backend.Len())
}

func TestDestroyStopsSweepAndClears(t *testing.T) {
	tr := New(NewMemoryBackend(), time.Minute, 0, 10*time.Millisecond)
	tr.StartSweep()
	tr.Check(uuid.New())
	tr.Destroy()
	require.Equal(t, 0, tr.Len())
}
