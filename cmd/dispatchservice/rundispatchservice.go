package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-dispatch-service/dispatchservice"
	"github.com/tinywideclouds/go-dispatch-service/dispatchservice/config"
	"github.com/tinywideclouds/go-dispatch-service/internal/pipeline"
	"github.com/tinywideclouds/go-dispatch-service/internal/platform/apns"
	"github.com/tinywideclouds/go-dispatch-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-dispatch-service/internal/platform/web"
	"github.com/tinywideclouds/go-dispatch-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-dispatch-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-dispatch-service/internal/storage/memory"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
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
	})).With("service", "go-dispatch-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	deps := dispatchservice.Dependencies{
		Registry: prometheus.NewRegistry(),
		Clock:    dispatch.SystemClock{},
	}
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// --- Stores ---
	switch cfg.StoreBackend {
	case config.StoreMemory:
		store := memory.NewStore()
		deps.Requests, deps.Audit = store, store
		logger.Warn("Using in-memory store; records do not survive a restart")
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()

		store := fsStore.NewRequestStore(fsClient, fsStore.Collections(cfg.Collections), logger)
		deps.Requests, deps.Audit = store, store
		if cfg.IntakeMode == config.IntakeFirestoreWatch {
			deps.Watcher = store
		}
		logger.Info("RequestStore initialized", "type", "firestore")
	}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deps.Requests = cache.NewCachedRequestStore(deps.Requests, redisClient, cfg.Redis.TTL, logger)
		logger.Info("RequestStore upgraded", "type", "redis_cached")
	}

	// --- Event Queue ---
	if cfg.IntakeMode == config.IntakePubsub || cfg.TopicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		if cfg.TopicID != "" {
			publisher := psClient.Publisher(cfg.TopicID)
			defer publisher.Stop()
			deps.Publisher = pipeline.NewPubsubPublisher(publisher)
		}
		if cfg.IntakeMode == config.IntakePubsub {
			deps.Consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
			if err != nil {
				logger.Error("Consumer creation failed", "err", err)
				os.Exit(1)
			}
		}
	}

	// --- Gateway ---
	deps.Gateway, err = newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gateway creation failed", "provider", cfg.GatewayProvider, "err", err)
		os.Exit(1)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "url", identityURL, "err", err)
		os.Exit(1)
	}
	deps.AuthMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware creation failed", "err", err)
		os.Exit(1)
	}

	// --- Service ---
	service, err := dispatchservice.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "intake_mode", cfg.IntakeMode, "gateway", cfg.GatewayProvider)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Gateway, error) {
	switch cfg.GatewayProvider {
	case config.GatewayAPNS:
		gw, err := apns.NewGateway(apns.Config(cfg.APNS), logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case config.GatewayWeb:
		logger.Info("Web push gateway enabled", "public_key", cfg.Vapid.PublicKey)
		return web.NewGateway(cfg.Vapid, logger), nil
	default:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		client, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		return fcm.NewGateway(client, logger), nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 30,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(10 * time.Second),
			MaximumBackoff: durationpb.New(10 * time.Minute),
		},
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
