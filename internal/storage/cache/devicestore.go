package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss if the key is absent.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
	// Incr atomically increments an integer key, creating it at 0 first.
	Incr(ctx context.Context, key string) (int64, error)
}

// CachedDeviceStore is a Decorator that adds read-aside caching of the
// active-device listing to any DeviceStore.
//
// Listings are cached under a per-user generation that every write bumps.
// A reader resolves the generation before it reads the store, so a listing
// that raced a write is stored under a generation nobody reads again.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedDeviceStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) ListActive(ctx context.Context, user urn.URN) ([]device.Device, error) {
	gen, err := s.generation(ctx, user)
	if err != nil {
		s.logger.Warn("Cache generation read failed, bypassing cache", "user", user.String(), "err", err)
		return s.realStore.ListActive(ctx, user)
	}
	key := CacheKey(user, gen)

	var cached []cachedDevice
	err = s.cache.Get(ctx, key, &cached)
	if err == nil {
		return fromCache(cached, user), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Cache read failed, falling back to store", "key", key, "err", err)
	}

	fresh, err := s.realStore.ListActive(ctx, user)
	if err != nil {
		return nil, err
	}

	// Caching is an optimisation; a failed Set just means the next read hits the store.
	if err := s.cache.Set(ctx, key, toCache(fresh), s.ttl); err != nil {
		s.logger.Warn("Cache populate failed", "key", key, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) Upsert(ctx context.Context, user urn.URN, token string, fields device.Fields) (device.Device, bool, error) {
	d, created, err := s.realStore.Upsert(ctx, user, token, fields)
	if err != nil {
		return device.Device{}, false, err
	}
	s.invalidate(ctx, user)
	return d, created, nil
}

// Deactivate retires the cached listing as soon as the store write lands so
// the dead token drops out of the next fan-out.
func (s *CachedDeviceStore) Deactivate(ctx context.Context, d *device.Device) error {
	if err := s.realStore.Deactivate(ctx, d); err != nil {
		return err
	}
	s.invalidate(ctx, d.User)
	return nil
}

// --- Helpers ---

// invalidate retires every listing cached for user. Old entries age out via TTL.
func (s *CachedDeviceStore) invalidate(ctx context.Context, user urn.URN) {
	if _, err := s.cache.Incr(ctx, GenerationKey(user)); err != nil {
		s.logger.Error("Cache invalidation failed", "user", user.String(), "err", err)
	}
}

// generation returns the user's current listing generation, 0 if none was written.
func (s *CachedDeviceStore) generation(ctx context.Context, user urn.URN) (int64, error) {
	var gen int64
	err := s.cache.Get(ctx, GenerationKey(user), &gen)
	if errors.Is(err, ErrCacheMiss) {
		return 0, nil
	}
	return gen, err
}

// GenerationKey is the Redis counter bumped on every write for user.
func GenerationKey(user urn.URN) string {
	return fmt.Sprintf("devices:gen:%s", user.String())
}

// CacheKey is the Redis key holding a user's active devices at generation gen.
func CacheKey(user urn.URN, gen int64) string {
	return fmt.Sprintf("devices:active:%s:%d", user.String(), gen)
}

// cachedDevice is the JSON form kept in Redis. The user is implied by the key.
type cachedDevice struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Type      string    `json:"type"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCache(devices []device.Device) []cachedDevice {
	out := make([]cachedDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, cachedDevice{
			ID:        d.ID,
			Name:      d.Name,
			Active:    d.Active,
			Type:      string(d.Type),
			Token:     d.Token,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return out
}

func fromCache(cached []cachedDevice, user urn.URN) []device.Device {
	out := make([]device.Device, 0, len(cached))
	for _, c := range cached {
		out = append(out, device.Device{
			ID:        c.ID,
			Name:      c.Name,
			User:      user,
			Active:    c.Active,
			Type:      device.Platform(c.Type),
			Token:     c.Token,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	return out
}
