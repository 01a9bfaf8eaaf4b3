// Package devices implements idempotent device registration.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-fcm-devices/internal/events"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

var (
	// ErrInvalidToken is returned for an empty registration token.
	ErrInvalidToken = errors.New("registration token must not be empty")
	// ErrNameTooLong is returned when the display name exceeds device.MaxNameLength.
	ErrNameTooLong = fmt.Errorf("device name exceeds %d characters", device.MaxNameLength)
)

// Registry collapses create and update into one call so clients can blindly
// resubmit their current state on every login or logout.
type Registry struct {
	store  dispatch.DeviceStore
	events events.Publisher
	logger *slog.Logger
}

func NewRegistry(store dispatch.DeviceStore, publisher events.Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		events: publisher,
		logger: logger.With("component", "DeviceRegistry"),
	}
}

// RegisterOrUpdate stores the device for (user, token). It reports created=true
// when this call inserted the record, and fires exactly one of
// device.created or device.updated.
func (r *Registry) RegisterOrUpdate(
	ctx context.Context,
	user urn.URN,
	token string,
	active bool,
	platform device.Platform,
	name string,
) (device.Device, bool, error) {
	if strings.TrimSpace(token) == "" {
		return device.Device{}, false, ErrInvalidToken
	}
	if _, err := device.ParsePlatform(string(platform)); err != nil {
		return device.Device{}, false, err
	}
	if len(name) > device.MaxNameLength {
		return device.Device{}, false, ErrNameTooLong
	}

	d, created, err := r.store.Upsert(ctx, user, token, device.Fields{
		Active: active,
		Type:   platform,
		Name:   name,
	})
	if err != nil {
		return device.Device{}, false, fmt.Errorf("failed to upsert device: %w", err)
	}

	kind := events.DeviceUpdated
	if created {
		kind = events.DeviceCreated
	}
	r.events.Publish(ctx, events.Event{Kind: kind, Device: d})

	r.logger.Debug("Device registered", "device_id", d.ID, "user", user.String(), "created", created, "active", d.Active)
	return d, created, nil
}
