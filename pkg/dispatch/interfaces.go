// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Backend defines the contract for a component that delivers a single push
// message to a single registration token (e.g. FCM, APNs, Web Push).
//
// Provider-side rejections are reported inside the Result (see FailureResult);
// a non-nil error means the provider could not be reached at all.
type Backend interface {
	Send(ctx context.Context, token string, msg Message) (*Result, error)
}

// ErrDeviceNotFound is returned by Deactivate when the device no longer exists.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceStore defines the persistence contract for device registrations.
type DeviceStore interface {
	// Upsert atomically inserts the (user, token) device or overwrites its
	// fields. created is true for exactly one caller per key's first insert,
	// even under concurrent calls. updated_at strictly increases on every overwrite.
	Upsert(ctx context.Context, user urn.URN, token string, fields device.Fields) (device.Device, bool, error)

	// Deactivate persists Active=false and a fresh UpdatedAt for the device,
	// touching no other column. The passed device is updated in place.
	Deactivate(ctx context.Context, d *device.Device) error

	// ListActive returns every active device belonging to user.
	ListActive(ctx context.Context, user urn.URN) ([]device.Device, error)
}
