package events

import (
	"context"
	"log/slog"
)

// LogListener writes one structured line per device event.
type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger.With("component", "DeviceEventLog")}
}

func (l *LogListener) Handle(_ context.Context, evt Event) error {
	l.logger.Info("Device event",
		"kind", evt.Kind,
		"device_id", evt.Device.ID,
		"user", evt.Device.User.String(),
		"type", evt.Device.Type,
		"active", evt.Device.Active,
	)
	return nil
}
