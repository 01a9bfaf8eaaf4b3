// Package fcmlegacy sends pushes through the legacy FCM HTTP endpoint using a
// server key. Its response shape is the one dispatch.Result models.
package fcmlegacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

// DefaultEndpoint is the legacy FCM send URL.
const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// Backend posts one message per call to the legacy endpoint.
type Backend struct {
	serverKey string
	endpoint  string
	client    *http.Client
	logger    *slog.Logger
}

func NewBackend(serverKey, endpoint string, timeout time.Duration, logger *slog.Logger) *Backend {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Backend{
		serverKey: serverKey,
		endpoint:  endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "FCMLegacyBackend"),
	}
}

type sendRequest struct {
	To           string            `json:"to"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

type sendResponse struct {
	MulticastID  json.Number `json:"multicast_id"`
	Success      int         `json:"success"`
	Failure      int         `json:"failure"`
	CanonicalIDs int         `json:"canonical_ids"`
	Results      []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send delivers msg to a single registration token. Provider-level
// rejections come back inside the Result; only transport and protocol
// failures are returned as errors.
func (b *Backend) Send(ctx context.Context, token string, msg dispatch.Message) (*dispatch.Result, error) {
	body, err := json.Marshal(sendRequest{
		To: token,
		Notification: notification{
			Title: msg.Title,
			Body:  msg.Body,
			Icon:  msg.Icon,
		},
		Data: msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("fcm: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+b.serverKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fcm: transport failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fcm: received status %d", resp.StatusCode)
	}

	var fcmResp sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&fcmResp); err != nil {
		return nil, fmt.Errorf("fcm: failed to decode response: %w", err)
	}

	result := &dispatch.Result{
		MulticastID: fcmResp.MulticastID.String(),
		Success:     fcmResp.Success,
		Failure:     fcmResp.Failure,
		Results:     make([]dispatch.ResultEntry, 0, len(fcmResp.Results)),
	}
	for _, r := range fcmResp.Results {
		result.Results = append(result.Results, dispatch.ResultEntry{
			MessageID: r.MessageID,
			Error:     r.Error,
		})
	}

	b.logger.DebugContext(ctx, "FCM responded",
		"multicast_id", result.MulticastID,
		"success", result.Success,
		"failure", result.Failure,
	)
	return result, nil
}
