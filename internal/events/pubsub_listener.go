package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

// TopicPublisher is the subset of *pubsub.Publisher used by PubsubListener.
type TopicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// devicePayload is the wire form of a device event. The token is never
// published.
type devicePayload struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type eventPayload struct {
	EventID    string        `json:"event_id"`
	Kind       Kind          `json:"kind"`
	OccurredAt time.Time     `json:"occurred_at"`
	Device     devicePayload `json:"device"`
}

// PubsubListener forwards device events to a Pub/Sub topic so other services
// can react to registrations and deactivations.
type PubsubListener struct {
	publisher TopicPublisher
}

func NewPubsubListener(publisher TopicPublisher) *PubsubListener {
	return &PubsubListener{publisher: publisher}
}

func (l *PubsubListener) Handle(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(eventPayload{
		EventID:    uuid.NewString(),
		Kind:       evt.Kind,
		OccurredAt: evt.OccurredAt,
		Device: devicePayload{
			ID:        evt.Device.ID,
			User:      evt.Device.User.String(),
			Name:      evt.Device.Name,
			Type:      string(evt.Device.Type),
			Active:    evt.Device.Active,
			CreatedAt: evt.Device.CreatedAt,
			UpdatedAt: evt.Device.UpdatedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal device event: %w", err)
	}

	result := l.publisher.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"kind": string(evt.Kind)},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish device event: %w", err)
	}
	return nil
}
