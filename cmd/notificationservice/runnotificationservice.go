// --- File: cmd/notificationservice/runnotificationservice.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-fcm-devices/internal/devices"
	"github.com/tinywideclouds/go-fcm-devices/internal/dispatcher"
	"github.com/tinywideclouds/go-fcm-devices/internal/events"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform"

	"github.com/tinywideclouds/go-fcm-devices/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-fcm-devices/internal/storage/firestore"
	"github.com/tinywideclouds/go-fcm-devices/internal/storage/postgres"
	"github.com/tinywideclouds/go-fcm-devices/internal/storage/sqlite"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"

	"github.com/tinywideclouds/go-fcm-devices/notificationservice"
	"github.com/tinywideclouds/go-fcm-devices/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-fcm-devices")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Device Store (Decorated) ---
	deviceStore, closeStore, err := newDeviceStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("DeviceStore init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deviceStore = cache.NewCachedDeviceStore(deviceStore, redisClient, cfg.Redis.TTL, logger)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_"+cfg.Store.Driver)
	}

	// --- Pub/Sub (only when something uses it) ---
	var psClient *pubsub.Client
	if cfg.PipelineEnabled() || cfg.EventsTopicID != "" {
		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()
	}

	// --- Event Bus ---
	bus := events.NewBus(logger)
	logListener := events.NewLogListener(logger)
	bus.Subscribe(events.DeviceCreated, logListener)
	bus.Subscribe(events.DeviceUpdated, logListener)
	if cfg.EventsTopicID != "" {
		publisher := psClient.Publisher(cfg.EventsTopicID)
		defer publisher.Stop()
		pubsubListener := events.NewPubsubListener(publisher)
		bus.Subscribe(events.DeviceCreated, pubsubListener)
		bus.Subscribe(events.DeviceUpdated, pubsubListener)
		logger.Info("Device events will be published", "topic", cfg.EventsTopicID)
	}

	// --- Push Backend ---
	backend, err := platform.NewBackend(ctx, cfg.Push, logger)
	if err != nil {
		logger.Error("Push backend init failed", "err", err)
		os.Exit(1)
	}

	registry := devices.NewRegistry(deviceStore, bus, logger)
	disp := dispatcher.New(backend, deviceStore, bus, logger)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware init failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Consumer creation failed", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Info("No subscription configured; running HTTP surface only")
	}

	service, err := notificationservice.New(
		cfg,
		consumer,
		registry,
		disp,
		deviceStore,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newDeviceStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.DeviceStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("DeviceStore initialized", "type", "postgres")
		return store, store.Close, nil

	case config.StoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("DeviceStore initialized", "type", "firestore")
		return fsStore.NewDeviceStore(fsClient), func() { _ = fsClient.Close() }, nil

	default:
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("DeviceStore initialized", "type", "sqlite", "path", cfg.Store.SQLitePath)
		return store, func() { _ = store.Close() }, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
