// Package dispatcher sends push messages to devices and applies the side
// effects of provider failures.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-fcm-devices/internal/events"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

type Dispatcher struct {
	backend dispatch.Backend
	store   dispatch.DeviceStore
	events  events.Publisher
	logger  *slog.Logger
}

func New(backend dispatch.Backend, store dispatch.DeviceStore, publisher events.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		store:   store,
		events:  publisher,
		logger:  logger.With("component", "Dispatcher"),
	}
}

// Send delivers msg to d through the backend and returns the raw provider result.
//
// Only the first result entry is classified. An unrecoverable code
// deactivates the device. A configuration code returns a
// *dispatch.ConfigurationError alongside the result. Every other code is
// passed through untouched.
func (s *Dispatcher) Send(ctx context.Context, d *device.Device, msg dispatch.Message) (*dispatch.Result, error) {
	result, err := s.backend.Send(ctx, d.Token, msg)
	if err != nil {
		return nil, fmt.Errorf("push backend failed for device %d: %w", d.ID, err)
	}
	if result == nil || result.Failure == 0 {
		return result, nil
	}

	code := result.FirstError()
	switch dispatch.Classify(code) {
	case dispatch.ClassUnrecoverable:
		s.logger.Info("Deactivating device after unrecoverable push error", "device_id", d.ID, "code", code)
		if err := s.store.Deactivate(ctx, d); err != nil {
			return result, fmt.Errorf("failed to deactivate device %d: %w", d.ID, err)
		}
		s.events.Publish(ctx, events.Event{Kind: events.DeviceUpdated, Device: *d})

	case dispatch.ClassConfiguration:
		s.logger.Error("Push backend configuration problem", "device_id", d.ID, "code", code)
		return result, &dispatch.ConfigurationError{DeviceID: d.ID, Code: code}

	default:
		s.logger.Warn("Push failed with unclassified error", "device_id", d.ID, "code", code)
	}

	return result, nil
}

// SendToUser sends msg to each active device of user. Outcomes are
// independent per device and no aggregate is returned. A configuration error
// stops the loop because every remaining send shares the same credential.
func (s *Dispatcher) SendToUser(ctx context.Context, user urn.URN, msg dispatch.Message) error {
	devices, err := s.store.ListActive(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to list active devices: %w", err)
	}
	if len(devices) == 0 {
		s.logger.Info("No active devices registered for user; dropping notification.", "user", user.String())
		return nil
	}

	for i := range devices {
		d := &devices[i]
		if !d.Active {
			continue
		}
		if _, err := s.Send(ctx, d, msg); err != nil {
			if errors.Is(err, dispatch.ErrConfiguration) {
				return err
			}
			s.logger.Warn("Send to device failed", "device_id", d.ID, "err", err)
		}
	}
	return nil
}
