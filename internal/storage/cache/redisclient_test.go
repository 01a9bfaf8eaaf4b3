package cache_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fcm-devices/internal/storage/cache"
	"github.com/tinywideclouds/go-fcm-devices/internal/storage/sqlite"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisClient(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	type payload struct {
		Name string `json:"name"`
	}

	require.NoError(t, client.Set(ctx, "k", payload{Name: "v"}, time.Minute))

	var got payload
	require.NoError(t, client.Get(ctx, "k", &got))
	assert.Equal(t, "v", got.Name)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, client.Get(ctx, "k", &got), cache.ErrCacheMiss)

	require.NoError(t, client.Set(ctx, "k2", payload{Name: "x"}, time.Minute))
	require.NoError(t, client.Del(ctx, "k2"))
	assert.False(t, mr.Exists("k2"))

	n, err := client.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	var counter int64
	require.NoError(t, client.Get(ctx, "counter", &counter))
	assert.Equal(t, int64(1), counter)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := cache.NewRedisClient("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestCachedStore_OverSQLite(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	backing, err := sqlite.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })

	store := cache.NewCachedDeviceStore(backing, client, time.Hour, newTestLogger())
	user, _ := urn.Parse("urn:sm:user:cached")

	d, created, err := store.Upsert(ctx, user, "tok", device.Fields{Active: true, Type: device.PlatformAndroid, Name: "phone"})
	require.NoError(t, err)
	require.True(t, created)

	first, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	require.Len(t, first, 1)
	gen := generationOf(t, mr, user)
	assert.True(t, mr.Exists(cache.CacheKey(user, gen)), "listing should populate the cache")

	cachedRead, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	require.Len(t, cachedRead, 1)
	assert.Equal(t, first[0].ID, cachedRead[0].ID)
	assert.Equal(t, user, cachedRead[0].User)
	assert.True(t, first[0].UpdatedAt.Equal(cachedRead[0].UpdatedAt))

	require.NoError(t, store.Deactivate(ctx, &d))
	assert.Greater(t, generationOf(t, mr, user), gen, "deactivation must retire the cached listing")

	after, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func generationOf(t *testing.T, mr *miniredis.Miniredis, user urn.URN) int64 {
	t.Helper()
	raw, err := mr.Get(cache.GenerationKey(user))
	if err != nil {
		return 0
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	return gen
}

// racingStore runs onList once, after the backing store has answered a
// listing and before the decorator caches it.
type racingStore struct {
	*sqlite.Store
	onList func()
}

func (s *racingStore) ListActive(ctx context.Context, user urn.URN) ([]device.Device, error) {
	list, err := s.Store.ListActive(ctx, user)
	if s.onList != nil {
		hook := s.onList
		s.onList = nil
		hook()
	}
	return list, err
}

func TestCachedStore_ListingRacingDeactivate(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	backing, err := sqlite.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })

	racing := &racingStore{Store: backing}
	store := cache.NewCachedDeviceStore(racing, client, time.Hour, newTestLogger())
	user, _ := urn.Parse("urn:sm:user:racer")

	d, _, err := store.Upsert(ctx, user, "dead-token", device.Fields{Active: true, Type: device.PlatformIOS})
	require.NoError(t, err)

	racing.onList = func() {
		require.NoError(t, store.Deactivate(ctx, &d))
	}

	stale, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	require.Len(t, stale, 1, "the racing read saw the device before deactivation")

	after, err := store.ListActive(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, after, "a listing that raced a write must not be served from cache")
}
