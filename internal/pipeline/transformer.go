// Package pipeline contains the message processing components that turn
// Pub/Sub send requests into per-user push fan-outs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

var errMissingRecipient = errors.New("recipient_id is required")

// SendRequest asks for Message to be pushed to every active device of Recipient.
type SendRequest struct {
	Recipient urn.URN
	Message   dispatch.Message
}

type wireSendRequest struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Icon        string            `json:"icon,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// SendRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw payload into a SendRequest. Malformed payloads are
// skipped so the StreamingService can route them to the DLQ.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*SendRequest, bool, error) {
	var wire wireSendRequest
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if wire.RecipientID == "" {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, errMissingRecipient)
	}

	recipient, err := urn.Parse(wire.RecipientID)
	if err != nil {
		return nil, true, fmt.Errorf("message %s has invalid recipient_id %q: %w", msg.ID, wire.RecipientID, err)
	}

	return &SendRequest{
		Recipient: recipient,
		Message: dispatch.Message{
			Title: wire.Title,
			Body:  wire.Body,
			Icon:  wire.Icon,
			Data:  wire.Data,
		},
	}, false, nil
}
