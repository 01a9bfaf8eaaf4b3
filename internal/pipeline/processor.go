package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// UserSender fans a message out to a user's devices.
type UserSender interface {
	SendToUser(ctx context.Context, user urn.URN, msg dispatch.Message) error
}

// NewProcessor creates the stage that hands each request to the dispatcher.
// A returned error nacks the message, so only failures that happen before
// any push was sent are returned. A configuration error is acked: the
// devices listed ahead of the failing one already received the push and
// the condition does not clear on redelivery.
func NewProcessor(sender UserSender, logger *slog.Logger) messagepipeline.StreamProcessor[SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *SendRequest) error {
		procLogger := logger.With(
			"recipient_id", request.Recipient.String(),
			"pubsub_msg_id", original.ID,
		)

		if err := sender.SendToUser(ctx, request.Recipient, request.Message); err != nil {
			if errors.Is(err, dispatch.ErrConfiguration) {
				procLogger.Error("Push backend misconfigured; fan-out aborted", "err", err)
				return nil
			}
			procLogger.Error("Fan-out failed", "err", err)
			return err
		}

		procLogger.Debug("Fan-out complete")
		return nil
	}
}
