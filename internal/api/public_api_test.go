package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-dispatch-service/internal/api"
	"github.com/tinywideclouds/go-dispatch-service/internal/orchestrator"
	"github.com/tinywideclouds/go-dispatch-service/internal/storage/memory"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

const testAPIKey = "s3cret"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Send(ctx context.Context, p dispatch.ChannelPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// --- Setup ---
func setupPublicAPI(t *testing.T) (*api.PublicAPI, *MockGateway, *memory.Store) {
	t.Helper()
	gw := new(MockGateway)
	store := memory.NewStore()
	orch := orchestrator.New(gw, store, store, fixedClock{t: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)}, newTestLogger())
	return api.NewPublicAPI(orch, testAPIKey, newTestLogger()), gw, store
}

func postJSON(t *testing.T, target string, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// --- Tests ---

func TestPublicSend(t *testing.T) {
	t.Run("Scenario B - wrong key is refused before any external call", func(t *testing.T) {
		handler, gw, store := setupPublicAPI(t)
		req := postJSON(t, "/v1/public/notifications", map[string]any{
			"token": "T1", "title": "x", "apiKey": "wrong",
		})
		w := httptest.NewRecorder()

		handler.SendNotification(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, map[string]any{"error": "Unauthorized"}, decodeBody(t, w))
		gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		assert.Empty(t, store.SentLog())
	})

	t.Run("Preflight returns 204 with CORS headers", func(t *testing.T) {
		handler, gw, _ := setupPublicAPI(t)
		w := httptest.NewRecorder()

		handler.SendNotification(w, httptest.NewRequest(http.MethodOptions, "/v1/public/notifications", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Other methods get 405 with Allow POST", func(t *testing.T) {
		handler, _, _ := setupPublicAPI(t)
		w := httptest.NewRecorder()

		handler.SendNotification(w, httptest.NewRequest(http.MethodGet, "/v1/public/notifications", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
	})

	t.Run("Missing token is 400", func(t *testing.T) {
		handler, gw, _ := setupPublicAPI(t)
		w := httptest.NewRecorder()

		handler.SendNotification(w, postJSON(t, "/v1/public/notifications", map[string]any{"apiKey": testAPIKey}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Success sends once and logs the delivery", func(t *testing.T) {
		handler, gw, store := setupPublicAPI(t)
		gw.On("Send", mock.Anything, mock.MatchedBy(func(p dispatch.ChannelPayload) bool {
			return p.Token == "T1" && p.Title == "Refill" && p.Data["pillId"] == "p-7"
		})).Return("msg-1", nil).Once()

		w := httptest.NewRecorder()
		handler.SendNotification(w, postJSON(t, "/v1/public/notifications", map[string]any{
			"token": "T1", "title": "Refill", "body": "Running low",
			"data": map[string]any{"pillId": "p-7"}, "apiKey": testAPIKey,
		}))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"success": true, "messageId": "msg-1"}, decodeBody(t, w))
		gw.AssertExpectations(t)

		sent := store.SentLog()
		require.Len(t, sent, 1)
		assert.Equal(t, "msg-1", sent[0].MessageID)
		assert.Equal(t, "T1", sent[0].Token)
	})

	t.Run("Gateway failure is 500 without leaking the cause", func(t *testing.T) {
		handler, gw, store := setupPublicAPI(t)
		gw.On("Send", mock.Anything, mock.Anything).
			Return("", &dispatch.GatewayError{Provider: "fcm", Cause: errors.New("quota exceeded for project 42")})

		w := httptest.NewRecorder()
		handler.SendNotification(w, postJSON(t, "/v1/public/notifications", map[string]any{
			"token": "T1", "apiKey": testAPIKey,
		}))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "quota")
		assert.Empty(t, store.SentLog())
	})

	t.Run("Unconfigured key refuses everything", func(t *testing.T) {
		gw := new(MockGateway)
		store := memory.NewStore()
		orch := orchestrator.New(gw, store, store, dispatch.SystemClock{}, newTestLogger())
		handler := api.NewPublicAPI(orch, "", newTestLogger())

		w := httptest.NewRecorder()
		handler.SendNotification(w, postJSON(t, "/v1/public/notifications", map[string]any{"token": "T1", "apiKey": ""}))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestPublicPillTaken(t *testing.T) {
	t.Run("Synthesizes content and records for the guardian", func(t *testing.T) {
		handler, gw, store := setupPublicAPI(t)
		gw.On("Send", mock.Anything, mock.MatchedBy(func(p dispatch.ChannelPayload) bool {
			return p.Title == "Medication Taken" &&
				p.Body == "Grandma has taken Aspirin" &&
				p.Android.ChannelID == "taken_pill_channel"
		})).Return("msg-9", nil).Once()

		w := httptest.NewRecorder()
		handler.SendPillTaken(w, postJSON(t, "/v1/public/pill-taken", map[string]any{
			"token": "T1", "elderName": "Grandma", "pillName": "Aspirin",
			"guardianId": "guardian-1", "apiKey": testAPIKey,
		}))

		assert.Equal(t, http.StatusOK, w.Code)
		gw.AssertExpectations(t)
		assert.Len(t, store.SentLog(), 1)

		owned := store.OwnerNotifications("guardian-1")
		require.Len(t, owned, 1)
		assert.Equal(t, dispatch.CategoryMedicationTaken, owned[0].Category)
		assert.False(t, owned[0].Read)
	})

	t.Run("Wrong key is refused", func(t *testing.T) {
		handler, gw, store := setupPublicAPI(t)
		w := httptest.NewRecorder()
		handler.SendPillTaken(w, postJSON(t, "/v1/public/pill-taken", map[string]any{
			"token": "T1", "guardianId": "guardian-1", "apiKey": "nope",
		}))

		assert.Equal(t, http.StatusForbidden, w.Code)
		gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		assert.Empty(t, store.OwnerNotifications("guardian-1"))
	})
}
