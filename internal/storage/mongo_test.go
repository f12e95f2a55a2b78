package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T) (*MongoSlot, func()) {
	if testing.Short() {
		t.Skip("skipping mongo container test in short mode")
	}
	ctx := context.Background()

	// Start MongoDB container
	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	slot := NewMongoSlot(db)
	require.NoError(t, slot.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return slot, cleanup
}

func TestMongoSlot_LoadMissing(t *testing.T) {
	slot, cleanup := setupTestMongo(t)
	defer cleanup()

	got, err := slot.Load(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrSlotEmpty)
	assert.Nil(t, got)
}

func TestMongoSlot_SaveUpsertsAndLoads(t *testing.T) {
	slot, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, slot.Save(ctx, "cart-storage:7", []byte("first")))
	require.NoError(t, slot.Save(ctx, "cart-storage:7", []byte("second")))

	got, err := slot.Load(ctx, "cart-storage:7")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	count, err := slot.collection.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMongoSlot_Delete(t *testing.T) {
	slot, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, slot.Save(ctx, "k", []byte("v")))
	require.NoError(t, slot.Delete(ctx, "k"))

	_, err := slot.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrSlotEmpty)
	assert.NoError(t, slot.Delete(ctx, "k"))
}

func TestMongoSlot_ContextCancellation(t *testing.T) {
	slot, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond) // Ensure context is cancelled

	_, err := slot.Load(ctx, "k")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}
