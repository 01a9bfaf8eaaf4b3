// Package console provides the inert push backend used when no live provider
// is configured. It never touches the network.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

type Backend struct {
	logger *slog.Logger
	seq    atomic.Int64
}

func NewBackend(logger *slog.Logger) *Backend {
	return &Backend{
		logger: logger.With("component", "ConsoleBackend"),
	}
}

// Send logs the push and reports it as delivered.
func (b *Backend) Send(ctx context.Context, token string, msg dispatch.Message) (*dispatch.Result, error) {
	id := fmt.Sprintf("console:%d", b.seq.Add(1))

	b.logger.InfoContext(ctx, "Push notification (not sent)",
		"message_id", id,
		"token", shorten(token),
		"title", msg.Title,
		"body", msg.Body,
		"icon", msg.Icon,
		"data", msg.Data,
	)

	return dispatch.SuccessResult(id), nil
}

func shorten(token string) string {
	if len(token) > 10 {
		return token[:10] + "..."
	}
	return token
}
