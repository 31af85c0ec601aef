package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-dispatch-service/internal/storage/memory"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

func TestStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Only one concurrent commit wins", func(t *testing.T) {
		store := memory.NewStore()
		id, err := store.CreateRequest(ctx, dispatch.NotificationIntent{RecipientToken: "t"})
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if store.MarkProcessed(ctx, id, "m", now) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Failure never overwrites a processed record", func(t *testing.T) {
		store := memory.NewStore()
		store.Put("r1", dispatch.NotificationIntent{RecipientToken: "t"})
		require.NoError(t, store.MarkProcessed(ctx, "r1", "m-1", now))

		err := store.MarkFailed(ctx, "r1", "late failure", now)

		require.ErrorIs(t, err, dispatch.ErrAlreadyProcessed)
		rec, err := store.GetRecord(ctx, "r1")
		require.NoError(t, err)
		assert.True(t, rec.Processed)
		assert.Empty(t, rec.Error)
	})

	t.Run("Missing record", func(t *testing.T) {
		store := memory.NewStore()
		_, err := store.GetRequest(ctx, "nope")
		assert.ErrorIs(t, err, dispatch.ErrNotFound)
		assert.ErrorIs(t, store.MarkProcessed(ctx, "nope", "m", now), dispatch.ErrNotFound)
	})
}
