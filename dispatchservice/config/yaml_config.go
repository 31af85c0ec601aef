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

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlCollectionsConfig struct {
	Requests     string `yaml:"requests"`
	Sent         string `yaml:"sent"`
	Owners       string `yaml:"owners"`
	OwnerEntries string `yaml:"owner_entries"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file. The
// public api key and the APNs signing key only arrive via env.
type YamlConfig struct {
	ProjectID              string                `yaml:"project_id"`
	ListenAddr             string                `yaml:"listen_addr"`
	TopicID                string                `yaml:"topic_id"`
	SubscriptionID         string                `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                   `yaml:"num_pipeline_workers"`
	IntakeMode             string                `yaml:"intake_mode"`
	GatewayProvider        string                `yaml:"gateway_provider"`
	StoreBackend           string                `yaml:"store_backend"`
	CorsConfig             YamlCorsConfig        `yaml:"cors"`
	RedisConfig            YamlRedisConfig       `yaml:"redis"`
	VapidConfig            YamlVapidConfig       `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig        `yaml:"apns"`
	Collections            YamlCollectionsConfig `yaml:"collections"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		IntakeMode:             baseCfg.IntakeMode,
		GatewayProvider:        baseCfg.GatewayProvider,
		StoreBackend:           baseCfg.StoreBackend,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
		Collections: CollectionsConfig(baseCfg.Collections),
	}

	if baseCfg.RedisConfig.TTL != "" {
		ttl, err := time.ParseDuration(baseCfg.RedisConfig.TTL)
		if err != nil {
			logger.Warn("Ignoring invalid redis ttl", "ttl", baseCfg.RedisConfig.TTL, "err", err)
		} else {
			cfg.Redis.TTL = ttl
		}
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"intake_mode", cfg.IntakeMode,
		"gateway_provider", cfg.GatewayProvider,
		"store_backend", cfg.StoreBackend,
	)

	return cfg, nil
}
