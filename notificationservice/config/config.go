// --- File: notificationservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Store drivers.
const (
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Production   bool
}

// PushConfig selects and configures the push backend. An empty Backend
// selects the inert console backend.
type PushConfig struct {
	Backend     string
	ProjectID   string
	FCMAPIKey   string
	FCMEndpoint string
	Timeout     time.Duration
	APNS        APNSConfig
	Vapid       VapidConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	// EventsTopicID enables publishing device events to Pub/Sub when set.
	EventsTopicID string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Store      StoreConfig
	Push       PushConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether the Pub/Sub send pipeline should run.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("EVENTS_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "EVENTS_TOPIC_ID", "source", "env")
		cfg.EventsTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Store Overrides
	if val := os.Getenv("STORE_DRIVER"); val != "" {
		logger.Debug("Overriding config value", "key", "STORE_DRIVER", "source", "env")
		cfg.Store.Driver = val
	}
	if val := os.Getenv("SQLITE_PATH"); val != "" {
		cfg.Store.SQLitePath = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_URL", "source", "env")
		cfg.Store.PostgresDSN = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Push Overrides
	if val := os.Getenv("PUSH_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_BACKEND", "source", "env")
		cfg.Push.Backend = val
	}
	if val := os.Getenv("FCM_API_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_API_KEY", "source", "env")
		cfg.Push.FCMAPIKey = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		cfg.Push.FCMEndpoint = val
	}
	if val := os.Getenv("PUSH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Push.Timeout = d
		} else {
			logger.Warn("Ignoring invalid PUSH_TIMEOUT", "value", val, "err", err)
		}
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.Push.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.Push.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.Push.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.Push.APNS.P8KeyContent = val
	}
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Push.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Push.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Push.Vapid.SubscriberEmail = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.Push.ProjectID == "" {
		cfg.Push.ProjectID = cfg.ProjectID
	}

	switch cfg.Store.Driver {
	case StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			cfg.Store.SQLitePath = "./data/devices.db"
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			return nil, fmt.Errorf("store.postgres_dsn is required for the postgres driver (set via YAML or DATABASE_URL env var)")
		}
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore driver (set via YAML or PROJECT_ID env var)")
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if (cfg.PipelineEnabled() || cfg.EventsTopicID != "") && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when Pub/Sub is used (set via YAML or PROJECT_ID env var)")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
