// --- File: notificationservice/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlStoreConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID        string `yaml:"key_id"`
	TeamID       string `yaml:"team_id"`
	BundleID     string `yaml:"bundle_id"`
	P8KeyContent string `yaml:"p8_key"`
	Production   bool   `yaml:"production"`
}

type YamlPushConfig struct {
	Backend     string          `yaml:"backend"`
	ProjectID   string          `yaml:"project_id"`
	FCMAPIKey   string          `yaml:"fcm_api_key"`
	FCMEndpoint string          `yaml:"fcm_endpoint"`
	Timeout     string          `yaml:"timeout"`
	APNS        YamlAPNSConfig  `yaml:"apns"`
	Vapid       YamlVapidConfig `yaml:"vapid"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	EventsTopicID          string          `yaml:"events_topic_id"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	StoreConfig            YamlStoreConfig `yaml:"store"`
	PushConfig             YamlPushConfig  `yaml:"push"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		EventsTopicID:  baseCfg.EventsTopicID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      parseDuration(baseCfg.RedisConfig.TTL, "redis.ttl", logger),
		},
		Store: StoreConfig{
			Driver:      baseCfg.StoreConfig.Driver,
			SQLitePath:  baseCfg.StoreConfig.SQLitePath,
			PostgresDSN: baseCfg.StoreConfig.PostgresDSN,
		},
		Push: PushConfig{
			Backend:     baseCfg.PushConfig.Backend,
			ProjectID:   baseCfg.PushConfig.ProjectID,
			FCMAPIKey:   baseCfg.PushConfig.FCMAPIKey,
			FCMEndpoint: baseCfg.PushConfig.FCMEndpoint,
			Timeout:     parseDuration(baseCfg.PushConfig.Timeout, "push.timeout", logger),
			APNS: APNSConfig{
				KeyID:        baseCfg.PushConfig.APNS.KeyID,
				TeamID:       baseCfg.PushConfig.APNS.TeamID,
				BundleID:     baseCfg.PushConfig.APNS.BundleID,
				P8KeyContent: baseCfg.PushConfig.APNS.P8KeyContent,
				Production:   baseCfg.PushConfig.APNS.Production,
			},
			Vapid: VapidConfig{
				PublicKey:       baseCfg.PushConfig.Vapid.PublicKey,
				PrivateKey:      baseCfg.PushConfig.Vapid.PrivateKey,
				SubscriberEmail: baseCfg.PushConfig.Vapid.SubscriberEmail,
			},
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"store_driver", cfg.Store.Driver,
		"push_backend", cfg.Push.Backend,
	)

	return cfg, nil
}

func parseDuration(raw, key string, logger *slog.Logger) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("Ignoring invalid duration", "key", key, "value", raw, "err", err)
		return 0
	}
	return d
}
