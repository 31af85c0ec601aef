// Package dispatchservice assembles the orchestrator, its intake adapters and
// the HTTP server into one runnable service.
package dispatchservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-dispatch-service/dispatchservice/config"
	"github.com/tinywideclouds/go-dispatch-service/internal/api"
	"github.com/tinywideclouds/go-dispatch-service/internal/metrics"
	"github.com/tinywideclouds/go-dispatch-service/internal/orchestrator"
	"github.com/tinywideclouds/go-dispatch-service/internal/pipeline"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// RequestWatcher streams request-created events from the document store.
type RequestWatcher interface {
	Watch(ctx context.Context, fn func(context.Context, dispatch.RequestEvent)) error
}

// Dependencies are the infrastructure pieces built by the caller.
type Dependencies struct {
	Gateway  dispatch.Gateway
	Requests dispatch.RequestStore
	Audit    dispatch.AuditLog

	// Exactly one intake may be set, matching cfg.IntakeMode.
	Consumer messagepipeline.MessageConsumer
	Watcher  RequestWatcher

	// Publisher announces documents created over HTTP. Optional.
	Publisher pipeline.EventPublisher

	AuthMiddleware func(http.Handler) http.Handler
	Registry       *prometheus.Registry
	Clock          dispatch.Clock
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.RequestEvent]
	watcher         RequestWatcher
	handler         *pipeline.EventHandler
	watchCtx        context.Context
	stopWatch       context.CancelFunc
	watchDone       chan struct{}
	watchStarted    atomic.Bool
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Gateway == nil || deps.Requests == nil {
		return nil, fmt.Errorf("gateway and request store are required")
	}
	if deps.AuthMiddleware == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}
	if deps.Clock == nil {
		deps.Clock = dispatch.SystemClock{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Core
	orch := orchestrator.New(deps.Gateway, deps.Requests, deps.Audit, deps.Clock, logger,
		orchestrator.WithMetrics(metrics.New(deps.Registry)))
	handler := pipeline.NewEventHandler(deps.Requests, orch, logger)

	svc := &Wrapper{
		BaseServer: baseServer,
		handler:    handler,
		logger:     logger,
	}

	// 3. Event intake
	switch cfg.IntakeMode {
	case config.IntakePubsub:
		if deps.Consumer == nil {
			return nil, fmt.Errorf("intake_mode %q requires a consumer", cfg.IntakeMode)
		}
		streamingService, err := messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.RequestEventTransformer,
			pipeline.NewProcessor(handler, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		svc.pipelineService = streamingService
	case config.IntakeFirestoreWatch:
		if deps.Watcher == nil {
			return nil, fmt.Errorf("intake_mode %q requires a watcher", cfg.IntakeMode)
		}
		svc.watcher = deps.Watcher
		svc.watchCtx, svc.stopWatch = context.WithCancel(context.Background())
		svc.watchDone = make(chan struct{})
	}

	// 4. HTTP adapters
	directAPI := api.NewDirectAPI(orch, pipeline.NewEnqueuer(deps.Requests, deps.Publisher, logger), logger)
	publicAPI := api.NewPublicAPI(orch, cfg.APIKey, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.AuthMiddleware(handlerFunc)))
	}

	// Authenticated
	handle("POST /api/v1/notifications/send", directAPI.SendNotification)
	handle("POST /api/v1/notifications/requests", directAPI.CreateRequest)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// Public: the handlers answer preflight and wrong methods themselves.
	mux.HandleFunc("/v1/public/notifications", publicAPI.SendNotification)
	mux.HandleFunc("/v1/public/pill-taken", publicAPI.SendPillTaken)

	mux.Handle("GET /dispatch/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	return svc, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	if w.stopWatch != nil {
		context.AfterFunc(ctx, w.stopWatch)
		w.startWatcher()
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) startWatcher() {
	w.watchStarted.Store(true)
	go func() {
		defer close(w.watchDone)
		w.logger.Info("Request listener starting...")
		err := w.watcher.Watch(w.watchCtx, func(ctx context.Context, ev dispatch.RequestEvent) {
			outcome, err := w.handler.Handle(ctx, ev)
			if err != nil {
				// No redelivery here; the record keeps the error for inspection.
				w.logger.Error("Watched request failed", "request_id", ev.RequestID, "state", outcome.State, "err", err)
				return
			}
			w.logger.Debug("Watched request handled", "request_id", ev.RequestID, "state", outcome.State)
		})
		if err != nil {
			w.logger.Error("Request listener stopped with error", "err", err)
		}
	}()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.stopWatch != nil {
		w.stopWatch()
	}
	if w.watchStarted.Load() {
		select {
		case <-w.watchDone:
		case <-ctx.Done():
		}
	}
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
