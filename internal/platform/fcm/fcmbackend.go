package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

const defaultWebIcon = "/assets/icons/icon-192x192.png"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Backend struct {
	client MessagingClient
	logger *slog.Logger
}

func NewBackend(client MessagingClient, logger *slog.Logger) *Backend {
	return &Backend{
		client: client,
		logger: logger.With("component", "FCMBackend"),
	}
}

// Send pushes msg to one registration token through the HTTP v1 API.
// Rejections from FCM are translated into the legacy error vocabulary so the
// dispatcher can classify them; failures that never reached FCM are errors.
func (b *Backend) Send(ctx context.Context, token string, msg dispatch.Message) (*dispatch.Result, error) {
	icon := msg.Icon
	if icon == "" {
		icon = defaultWebIcon
	}

	fcmMsg := &messaging.Message{
		Token: token,
		Data:  msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  icon,
			},
		},
	}

	id, err := b.client.Send(ctx, fcmMsg)
	if err == nil {
		return dispatch.SuccessResult(id), nil
	}

	if code, ok := errorCode(err); ok {
		b.logger.Debug("FCM rejected message", "code", code, "err", err)
		return dispatch.FailureResult(code), nil
	}
	return nil, fmt.Errorf("fcm transport failed: %w", err)
}

// errorCode reports the legacy code for an error FCM answered with. The
// second return is false when no response was received.
func errorCode(err error) (string, bool) {
	switch {
	case messaging.IsSenderIDMismatch(err):
		return dispatch.CodeMismatchSenderID, true
	case messaging.IsRegistrationTokenNotRegistered(err):
		return dispatch.CodeNotRegistered, true
	case messaging.IsInvalidArgument(err):
		return invalidArgumentCode(err.Error()), true
	case errorutils.HTTPResponse(err) != nil:
		return err.Error(), true
	default:
		return "", false
	}
}

// invalidArgumentCode separates a malformed token from a malformed payload.
// FCM answers both with INVALID_ARGUMENT; only the former names the
// registration token. Anything else keeps the raw text so it stays
// unclassified and does not deactivate the device.
func invalidArgumentCode(msg string) string {
	if strings.Contains(strings.ToLower(msg), "registration token") {
		return dispatch.CodeInvalidRegistration
	}
	return msg
}
