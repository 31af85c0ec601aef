package dispatchservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-dispatch-service/dispatchservice"
	"github.com/tinywideclouds/go-dispatch-service/dispatchservice/config"
	"github.com/tinywideclouds/go-dispatch-service/internal/storage/memory"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// --- Fakes ---

type countingGateway struct {
	mu       sync.Mutex
	payloads []dispatch.ChannelPayload
}

func (g *countingGateway) Send(_ context.Context, p dispatch.ChannelPayload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payloads = append(g.payloads, p)
	return "msg-" + p.Token, nil
}

func (g *countingGateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payloads)
}

// replayWatcher emits its events, then blocks like a live listener.
type replayWatcher struct {
	events []dispatch.RequestEvent
}

func (w *replayWatcher) Watch(ctx context.Context, fn func(context.Context, dispatch.RequestEvent)) error {
	for _, ev := range w.events {
		fn(ctx, ev)
	}
	<-ctx.Done()
	return nil
}

func fakeAuth(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), userID)))
		})
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(mode string) *config.Config {
	return &config.Config{
		ProjectID:          "test-project",
		ListenAddr:         ":0",
		NumPipelineWorkers: 1,
		IntakeMode:         mode,
		APIKey:             "s3cret",
	}
}

// --- Tests ---

func TestService_Routes(t *testing.T) {
	store := memory.NewStore()
	gw := &countingGateway{}
	registry := prometheus.NewRegistry()

	svc, err := dispatchservice.New(baseConfig(config.IntakeNone), dispatchservice.Dependencies{
		Gateway:        gw,
		Requests:       store,
		Audit:          store,
		AuthMiddleware: fakeAuth("urn:sm:user:guardian-1"),
		Registry:       registry,
	}, newTestLogger())
	require.NoError(t, err)

	serve := func(method, target string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		w := httptest.NewRecorder()
		svc.Mux().ServeHTTP(w, httptest.NewRequest(method, target, &buf))
		return w
	}

	t.Run("Public send", func(t *testing.T) {
		w := serve(http.MethodPost, "/v1/public/notifications", map[string]any{"token": "T1", "apiKey": "s3cret"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, store.SentLog(), 1)
	})

	t.Run("Public preflight", func(t *testing.T) {
		w := serve(http.MethodOptions, "/v1/public/pill-taken", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Authenticated direct send", func(t *testing.T) {
		w := serve(http.MethodPost, "/api/v1/notifications/send", map[string]any{
			"token":        "T2",
			"notification": map[string]string{"title": "Time for pills"},
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Create request stores a document", func(t *testing.T) {
		w := serve(http.MethodPost, "/api/v1/notifications/requests", map[string]any{"token": "T3"})
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		req, err := store.GetRequest(context.Background(), resp["requestId"])
		require.NoError(t, err)
		assert.False(t, req.Record.Processed)
	})

	t.Run("Metrics reflect dispatches", func(t *testing.T) {
		w := serve(http.MethodGet, "/dispatch/metrics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `dispatch_outcomes_total{state="committed"} 2`)
	})

	assert.Equal(t, 2, gw.Count())
}

func TestService_WatchIntake_DuplicateEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	store := memory.NewStore()
	store.Put("req-1", dispatch.NotificationIntent{RecipientToken: "T1", SourceID: "guardian-1"})
	gw := &countingGateway{}

	svc, err := dispatchservice.New(baseConfig(config.IntakeFirestoreWatch), dispatchservice.Dependencies{
		Gateway:  gw,
		Requests: store,
		Audit:    store,
		Watcher: &replayWatcher{events: []dispatch.RequestEvent{
			{RequestID: "req-1"},
			{RequestID: "req-1"},
		}},
		AuthMiddleware: fakeAuth("urn:sm:user:guardian-1"),
	}, newTestLogger())
	require.NoError(t, err)

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()
	go func() { _ = svc.Start(svcCtx) }()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	require.Eventually(t, func() bool {
		return len(store.OwnerNotifications("guardian-1")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, gw.Count())
	rec, err := store.GetRecord(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, rec.Processed)
}

func TestService_New_Validation(t *testing.T) {
	store := memory.NewStore()
	auth := fakeAuth("urn:sm:user:x")

	t.Run("Pubsub intake without consumer", func(t *testing.T) {
		_, err := dispatchservice.New(baseConfig(config.IntakePubsub), dispatchservice.Dependencies{
			Gateway: &countingGateway{}, Requests: store, AuthMiddleware: auth,
		}, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("Watch intake without watcher", func(t *testing.T) {
		_, err := dispatchservice.New(baseConfig(config.IntakeFirestoreWatch), dispatchservice.Dependencies{
			Gateway: &countingGateway{}, Requests: store, AuthMiddleware: auth,
		}, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("Missing gateway", func(t *testing.T) {
		_, err := dispatchservice.New(baseConfig(config.IntakeNone), dispatchservice.Dependencies{
			Requests: store, AuthMiddleware: auth,
		}, newTestLogger())
		assert.Error(t, err)
	})
}
