package console_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform/console"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

func TestConsoleBackend_Send(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	backend := console.NewBackend(logger)

	msg := dispatch.Message{
		Title: "Testing 123",
		Body:  "A test notification",
		Data:  map[string]string{"k": "v"},
	}

	res, err := backend.Send(context.Background(), "abcdefghijklmnopqrstuvwxyz", msg)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 0, res.Failure)
	require.Len(t, res.Results, 1)
	assert.NotEmpty(t, res.Results[0].MessageID)
	assert.Empty(t, res.Results[0].Error)

	out := buf.String()
	assert.Contains(t, out, "Testing 123")
	assert.Contains(t, out, "abcdefghij...")
	assert.NotContains(t, out, "abcdefghijklmnopqrstuvwxyz", "full token must not be logged")

	t.Run("message ids are unique", func(t *testing.T) {
		second, err := backend.Send(context.Background(), "t", msg)
		require.NoError(t, err)
		assert.NotEqual(t, res.Results[0].MessageID, second.Results[0].MessageID)
	})
}
