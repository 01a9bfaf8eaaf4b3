// Package apns provides the push backend for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-fcm-devices/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Backend struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

// NewBackend creates a token-authenticated APNs backend.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewBackend(cfg config.APNSConfig, logger *slog.Logger) (*Backend, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &Backend{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSBackend"),
	}, nil
}

// Send pushes msg to a single device token. APNs is unary, one request per token.
func (b *Backend) Send(ctx context.Context, deviceToken string, msg dispatch.Message) (*dispatch.Result, error) {
	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body)
	for k, v := range msg.Data {
		builder.Custom(k, v)
	}

	res, err := b.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       b.topic,
		Payload:     builder,
	})
	if err != nil {
		return nil, fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		return dispatch.SuccessResult(res.ApnsID), nil
	}

	b.logger.DebugContext(ctx, "APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	return dispatch.FailureResult(reasonCode(res.Reason)), nil
}

// reasonCode translates an APNs rejection reason into the legacy code vocabulary.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func reasonCode(reason string) string {
	switch reason {
	case apns2.ReasonBadDeviceToken:
		return dispatch.CodeInvalidRegistration
	case apns2.ReasonUnregistered:
		return dispatch.CodeNotRegistered
	case apns2.ReasonMissingDeviceToken:
		return dispatch.CodeMissingRegistration
	case apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.CodeMismatchSenderID
	default:
		return reason
	}
}
