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

// Intake modes: how request-created events reach the handler.
const (
	IntakePubsub         = "pubsub"
	IntakeFirestoreWatch = "firestore_watch"
	IntakeNone           = "none"
)

// Store backends.
const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Gateway providers.
const (
	GatewayFCM  = "fcm"
	GatewayAPNS = "apns"
	GatewayWeb  = "web"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
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
	Sandbox      bool
}

type CollectionsConfig struct {
	Requests     string
	Sent         string
	Owners       string
	OwnerEntries string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	TopicID                string

	IntakeMode      string
	GatewayProvider string
	StoreBackend    string
	// APIKey gates the public endpoints. Empty disables them.
	APIKey string

	CorsConfig  middleware.CorsConfig
	Redis       RedisConfig
	Vapid       VapidConfig
	APNS        APNSConfig
	Collections CollectionsConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
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
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("INTAKE_MODE"); val != "" {
		logger.Debug("Overriding config value", "key", "INTAKE_MODE", "source", "env")
		cfg.IntakeMode = val
	}
	if val := os.Getenv("GATEWAY_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "GATEWAY_PROVIDER", "source", "env")
		cfg.GatewayProvider = val
	}
	if val := os.Getenv("STORE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORE_BACKEND", "source", "env")
		cfg.StoreBackend = val
	}
	if val := os.Getenv("PUBLIC_API_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "PUBLIC_API_KEY", "source", "env")
		cfg.APIKey = val
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
	if val := os.Getenv("REDIS_TTL"); val != "" {
		if ttl, err := time.ParseDuration(val); err == nil {
			cfg.Redis.TTL = ttl
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
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

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.IntakeMode == "" {
		cfg.IntakeMode = IntakePubsub
	}
	if cfg.GatewayProvider == "" {
		cfg.GatewayProvider = GatewayFCM
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreFirestore
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	applyCollectionDefaults(&cfg.Collections)

	// 3. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		logger.Warn("No public api key configured; public endpoints will refuse every request")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}

	switch cfg.IntakeMode {
	case IntakePubsub:
		if cfg.SubscriptionID == "" {
			return fmt.Errorf("subscription_id is required for intake_mode %q (set via YAML or SUBSCRIPTION_ID env var)", IntakePubsub)
		}
		if cfg.TopicID == "" {
			return fmt.Errorf("topic_id is required for intake_mode %q (set via YAML or TOPIC_ID env var)", IntakePubsub)
		}
	case IntakeFirestoreWatch:
		if cfg.StoreBackend != StoreFirestore {
			return fmt.Errorf("intake_mode %q requires store_backend %q", IntakeFirestoreWatch, StoreFirestore)
		}
	case IntakeNone:
	default:
		return fmt.Errorf("unknown intake_mode %q", cfg.IntakeMode)
	}

	switch cfg.StoreBackend {
	case StoreFirestore, StoreMemory:
	default:
		return fmt.Errorf("unknown store_backend %q", cfg.StoreBackend)
	}

	switch cfg.GatewayProvider {
	case GatewayFCM:
	case GatewayAPNS:
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8KeyContent == "" {
			return fmt.Errorf("gateway_provider %q requires apns key_id, team_id, bundle_id and p8 key", GatewayAPNS)
		}
	case GatewayWeb:
		if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
			return fmt.Errorf("gateway_provider %q requires vapid keys", GatewayWeb)
		}
	default:
		return fmt.Errorf("unknown gateway_provider %q", cfg.GatewayProvider)
	}
	return nil
}

func applyCollectionDefaults(c *CollectionsConfig) {
	if c.Requests == "" {
		c.Requests = "notificationRequests"
	}
	if c.Sent == "" {
		c.Sent = "sentNotifications"
	}
	if c.Owners == "" {
		c.Owners = "guardians"
	}
	if c.OwnerEntries == "" {
		c.OwnerEntries = "notifications"
	}
}
