package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreTasks(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()

	require.NoError(t, s.CreateTask(ctx, "a", json.RawMessage(`{"workerType":"servo-docker-worker"}`)))
	assert.ErrorIs(t, s.CreateTask(ctx, "a", json.RawMessage(`{}`)), ErrExists)
	assert.ErrorContains(t, s.CreateTask(ctx, "b", json.RawMessage(`{"workerType":`)), "not valid JSON")

	got, err := s.GetTask(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"workerType":"servo-docker-worker"}`, string(got))

	_, err = s.GetTask(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"a"}, s.Tasks())
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2018, 9, 20, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := t.Context()

	require.NoError(t, s.IndexTask(ctx, "r", "task1", time.Hour))
	id, err := s.FindTask(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "task1", id)

	now = now.Add(2 * time.Hour)
	_, err = s.FindTask(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)

	// re-indexing revives the route
	require.NoError(t, s.IndexTask(ctx, "r", "task2", time.Hour))
	id, err = s.FindTask(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "task2", id)
}
