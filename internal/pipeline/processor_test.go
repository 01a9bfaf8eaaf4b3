package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fcm-devices/internal/dispatcher"
	"github.com/tinywideclouds/go-fcm-devices/internal/events"
	"github.com/tinywideclouds/go-fcm-devices/internal/pipeline"
	"github.com/tinywideclouds/go-fcm-devices/internal/storage/sqlite"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendToUser(ctx context.Context, user urn.URN, msg dispatch.Message) error {
	return m.Called(ctx, user, msg).Error(0)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	recipient, err := urn.Parse("urn:sm:user:bob")
	require.NoError(t, err)

	request := &pipeline.SendRequest{
		Recipient: recipient,
		Message:   dispatch.Message{Title: "Hi", Body: "Bob"},
	}
	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "pubsub-1"}}

	t.Run("Delegates to SendToUser", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("SendToUser", ctx, recipient, request.Message).Return(nil)

		processor := pipeline.NewProcessor(sender, newTestLogger())
		require.NoError(t, processor(ctx, original, request))
		sender.AssertExpectations(t)
	})

	t.Run("Listing failure is returned for retry", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("SendToUser", ctx, recipient, request.Message).Return(errors.New("store unavailable"))

		processor := pipeline.NewProcessor(sender, newTestLogger())
		assert.Error(t, processor(ctx, original, request))
	})

	t.Run("Configuration error is acked", func(t *testing.T) {
		sender := new(mockSender)
		cfgErr := &dispatch.ConfigurationError{DeviceID: 9, Code: dispatch.CodeMismatchSenderID}
		sender.On("SendToUser", ctx, recipient, request.Message).Return(cfgErr)

		processor := pipeline.NewProcessor(sender, newTestLogger())
		assert.NoError(t, processor(ctx, original, request))
		sender.AssertExpectations(t)
	})
}

// countingBackend answers per token and counts every push it is asked to make.
type countingBackend struct {
	mu      sync.Mutex
	replies map[string]string
	sends   map[string]int
}

func (b *countingBackend) Send(_ context.Context, token string, _ dispatch.Message) (*dispatch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends[token]++
	if code := b.replies[token]; code != "" {
		return dispatch.FailureResult(code), nil
	}
	return dispatch.SuccessResult("msg-" + token), nil
}

func TestProcessor_OnePushPerDevice(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	recipient, err := urn.Parse("urn:sm:user:carol")
	require.NoError(t, err)
	for _, token := range []string{"tok-a", "tok-b"} {
		_, _, err := store.Upsert(ctx, recipient, token, device.Fields{Active: true, Type: device.PlatformAndroid})
		require.NoError(t, err)
	}

	backend := &countingBackend{
		replies: map[string]string{"tok-b": dispatch.CodeMismatchSenderID},
		sends:   map[string]int{},
	}
	disp := dispatcher.New(backend, store, events.NewBus(logger), logger)
	processor := pipeline.NewProcessor(disp, logger)

	request := &pipeline.SendRequest{Recipient: recipient, Message: dispatch.Message{Title: "Hi"}}
	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "pubsub-2"}}

	// Pub/Sub redelivers a nacked message up to the dead-letter limit.
	const maxDeliveries = 5
	for attempt := 0; attempt < maxDeliveries; attempt++ {
		if processor(ctx, original, request) == nil {
			break
		}
	}

	assert.Equal(t, map[string]int{"tok-a": 1, "tok-b": 1}, backend.sends)

	active, err := store.ListActive(ctx, recipient)
	require.NoError(t, err)
	assert.Len(t, active, 2, "a configuration error must not deactivate devices")
}
