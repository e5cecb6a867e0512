package manager

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore creates a test Redis store with miniredis.
func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	store := NewRedisStore(client, opts...)
	return store, mr
}

func TestRedisStoreLoadNotFound(t *testing.T) {
	store, _ := setupRedisStore(t)
	_, err := store.Load(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreLoadInvalidName(t *testing.T) {
	store, _ := setupRedisStore(t)
	_, err := store.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRedisStoreSaveAndLoad(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	run := &Run{
		ID:            "run-123",
		Definition:    testDefinition("wfA"),
		LastRequestID: "reactor_r1_stream_camA",
		StartedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, store.Save(ctx, run))

	loaded, err := store.Load(ctx, "wfA")
	require.NoError(t, err)
	assert.Equal(t, "run-123", loaded.ID)
	assert.Equal(t, "reactor_r1_stream_camA", loaded.LastRequestID)
	require.Len(t, loaded.Definition.Steps, 2)
	assert.Equal(t, "4", loaded.Definition.Steps[1].Parameters["segment_length"])
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Run{ID: "run-1", Definition: testDefinition("wfA")}))
	require.NoError(t, store.Delete(ctx, "wfA"))

	_, err := store.Load(ctx, "wfA")
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRedisStoreList(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Run{ID: "run-1", Definition: testDefinition("wfA")}))
	require.NoError(t, store.Save(ctx, &Run{ID: "run-2", Definition: testDefinition("wfB")}))

	runs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	names := map[string]bool{}
	for _, run := range runs {
		names[run.Definition.Name] = true
	}
	assert.Equal(t, map[string]bool{"wfA": true, "wfB": true}, names)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("myplane"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Run{ID: "run-1", Definition: testDefinition("wfA")}))

	assert.True(t, mr.Exists("myplane:run:wfA"))
	assert.True(t, mr.Exists("myplane:runs"))
}

func TestRedisStoreTTLExpiresRuns(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Run{ID: "run-1", Definition: testDefinition("wfA")}))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "wfA")
	assert.ErrorIs(t, err, ErrNotFound)

	// The index entry may outlive the value; List skips expired records.
	runs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRedisStoreNoTTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(0))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Run{ID: "run-1", Definition: testDefinition("wfA")}))

	mr.FastForward(48 * time.Hour)

	_, err := store.Load(ctx, "wfA")
	require.NoError(t, err)
}
