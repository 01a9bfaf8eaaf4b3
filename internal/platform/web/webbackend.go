package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-fcm-devices/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

// Backend delivers Web Push messages signed with the deployment's VAPID keys.
// The device token is the browser's PushSubscription serialised as JSON.
type Backend struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewBackend(cfg config.VapidConfig, timeout time.Duration, logger *slog.Logger) *Backend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Backend{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushBackend"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *Backend) Send(ctx context.Context, token string, msg dispatch.Message) (*dispatch.Result, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		b.logger.DebugContext(ctx, "Token is not a push subscription", "err", err)
		return dispatch.FailureResult(dispatch.CodeInvalidRegistration), nil
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": msg.Title,
			"body":  msg.Body,
			"icon":  msg.Icon,
		},
		"data": msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
		Subscriber:      b.subscriber,
		VAPIDPublicKey:  b.publicKey,
		VAPIDPrivateKey: b.privateKey,
		TTL:             60,
		HTTPClient:      b.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("webpush transport failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return dispatch.SuccessResult(resp.Header.Get("Location")), nil
	case http.StatusGone, http.StatusNotFound:
		return dispatch.FailureResult(dispatch.CodeNotRegistered), nil
	case http.StatusForbidden:
		// The subscription was created for a different application server key.
		return dispatch.FailureResult(dispatch.CodeMismatchSenderID), nil
	default:
		b.logger.WarnContext(ctx, "WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return dispatch.FailureResult(fmt.Sprintf("HTTP %d", resp.StatusCode)), nil
	}
}
