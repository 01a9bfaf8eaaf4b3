//go:build integration

package notificationservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-fcm-devices/internal/devices"
	"github.com/tinywideclouds/go-fcm-devices/internal/dispatcher"
	"github.com/tinywideclouds/go-fcm-devices/internal/events"
	"github.com/tinywideclouds/go-fcm-devices/internal/storage/sqlite"
	"github.com/tinywideclouds/go-fcm-devices/notificationservice"
	"github.com/tinywideclouds/go-fcm-devices/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// --- MOCKS ---

// recordingBackend fails tokens listed in failures with the given code.
type recordingBackend struct {
	mu       sync.Mutex
	tokens   []string
	failures map[string]string
}

func (b *recordingBackend) Send(_ context.Context, token string, _ dispatch.Message) (*dispatch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	if code, ok := b.failures[token]; ok {
		return dispatch.FailureResult(code), nil
	}
	return dispatch.SuccessResult("ok"), nil
}

func (b *recordingBackend) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tokens...)
}

// --- TEST ---

func TestNotificationService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { psClient.Close() })

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("Full Lifecycle: Register -> Publish -> Dispatch -> Deactivate", func(t *testing.T) {
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		backend := &recordingBackend{failures: map[string]string{"dead-token": dispatch.CodeNotRegistered}}
		bus := events.NewBus(logger)
		registry := devices.NewRegistry(store, bus, logger)
		disp := dispatcher.New(backend, store, bus, logger)

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := notificationservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			registry,
			disp,
			store,
			fakeAuth,
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: Register devices
		userURN, _ := urn.Parse("urn:sm:user:integ-user")
		_, _, err = registry.RegisterOrUpdate(ctx, userURN, "android-token-999", true, device.PlatformAndroid, "phone")
		require.NoError(t, err)
		_, _, err = registry.RegisterOrUpdate(ctx, userURN, "dead-token", true, device.PlatformIOS, "old phone")
		require.NoError(t, err)

		// Step B: Publish a send request without tokens
		payload, _ := json.Marshal(map[string]any{
			"recipient_id": userURN.String(),
			"title":        "Hello",
			"body":         "World",
		})
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: both devices were attempted, and the dead one was deactivated
		require.Eventually(t, func() bool {
			return len(backend.sent()) == 2
		}, 15*time.Second, 100*time.Millisecond)

		require.Eventually(t, func() bool {
			active, err := store.ListActive(ctx, userURN)
			return err == nil && len(active) == 1 && active[0].Token == "android-token-999"
		}, 5*time.Second, 100*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
