// Package events provides the observer bus used to announce device lifecycle
// changes to interested collaborators.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
)

// Kind names a device lifecycle event.
type Kind string

const (
	DeviceCreated Kind = "device.created"
	DeviceUpdated Kind = "device.updated"
)

// Event is published after the store has committed the change.
type Event struct {
	Kind       Kind
	Device     device.Device
	OccurredAt time.Time
}

// Listener receives events. A returned error is logged by the bus and does
// not reach the publisher.
type Listener interface {
	Handle(ctx context.Context, evt Event) error
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context, evt Event) error

func (f ListenerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Publisher is the side of the bus the core depends on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Kind][]Listener
	logger    *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		listeners: make(map[Kind][]Listener),
		logger:    logger.With("component", "EventBus"),
	}
}

// Subscribe registers l for every event of the given kind.
func (b *Bus) Subscribe(kind Kind, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[kind] = append(b.listeners[kind], l)
}

// Publish fans evt out to the listeners of its kind.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners[evt.Kind]...)
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := l.Handle(ctx, evt); err != nil {
			b.logger.Warn("Event listener failed", "kind", evt.Kind, "device_id", evt.Device.ID, "err", err)
		}
	}
}
