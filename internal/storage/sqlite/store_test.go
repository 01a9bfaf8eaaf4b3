package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustURN(t *testing.T, raw string) urn.URN {
	t.Helper()
	u, err := urn.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := mustURN(t, "urn:sm:user:alice")

	first, created, err := store.Upsert(ctx, user, "tok-1", device.Fields{Active: true, Type: device.PlatformAndroid, Name: "Pixel"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)
	assert.Equal(t, user, first.User)
	assert.Equal(t, "tok-1", first.Token)
	assert.Equal(t, "Pixel", first.Name)
	assert.True(t, first.Active)
	assert.Equal(t, device.PlatformAndroid, first.Type)
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)

	t.Run("second call overwrites the same record", func(t *testing.T) {
		second, created, err := store.Upsert(ctx, user, "tok-1", device.Fields{Active: false, Type: device.PlatformIOS, Name: "iPhone"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "iPhone", second.Name)
		assert.False(t, second.Active)
		assert.Equal(t, device.PlatformIOS, second.Type)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	})

	t.Run("same token for another user is a separate device", func(t *testing.T) {
		other, created, err := store.Upsert(ctx, mustURN(t, "urn:sm:user:bob"), "tok-1", device.Fields{Active: true, Type: device.PlatformWeb})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, other.ID)
	})
}

func TestStore_UpdatedAtStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	frozen := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	user := mustURN(t, "urn:sm:user:clock")
	fields := device.Fields{Active: true, Type: device.PlatformAndroid, Name: "same"}

	prev, _, err := store.Upsert(ctx, user, "tok", fields)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		next, created, err := store.Upsert(ctx, user, "tok", fields)
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, next.UpdatedAt.After(prev.UpdatedAt), "identical overwrite must still advance updated_at")
		prev = next
	}

	require.NoError(t, store.Deactivate(ctx, &prev))
	reloaded, _, err := store.Upsert(ctx, user, "tok", fields)
	require.NoError(t, err)
	assert.True(t, reloaded.UpdatedAt.After(prev.UpdatedAt))
}

func TestStore_ConcurrentUpsertCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := mustURN(t, "urn:sm:user:racer")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
		ids     = map[int64]struct{}{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, created, err := store.Upsert(ctx, user, "shared", device.Fields{Active: true, Type: device.PlatformWeb})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if created {
				creates++
			}
			ids[d.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	assert.Len(t, ids, 1)

	active, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStore_DeactivateAndListActive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := mustURN(t, "urn:sm:user:lister")

	a, _, err := store.Upsert(ctx, user, "tok-a", device.Fields{Active: true, Type: device.PlatformAndroid, Name: "keep"})
	require.NoError(t, err)
	b, _, err := store.Upsert(ctx, user, "tok-b", device.Fields{Active: true, Type: device.PlatformIOS, Name: "drop"})
	require.NoError(t, err)
	_, _, err = store.Upsert(ctx, user, "tok-c", device.Fields{Active: false, Type: device.PlatformWeb})
	require.NoError(t, err)

	before := b.UpdatedAt
	require.NoError(t, store.Deactivate(ctx, &b))
	assert.False(t, b.Active)
	assert.True(t, b.UpdatedAt.After(before))

	active, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	t.Run("deactivate leaves other columns alone", func(t *testing.T) {
		again, created, err := store.Upsert(ctx, user, "tok-b", device.Fields{Active: false, Type: device.PlatformIOS, Name: "drop"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, b.ID, again.ID)
		assert.Equal(t, b.CreatedAt, again.CreatedAt)
	})

	t.Run("unknown device", func(t *testing.T) {
		err := store.Deactivate(ctx, &device.Device{ID: 9999})
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)
	})

	t.Run("user with no devices", func(t *testing.T) {
		none, err := store.ListActive(ctx, mustURN(t, "urn:sm:user:nobody"))
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
