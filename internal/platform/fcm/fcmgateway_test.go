// --- File: internal/platform/fcm/fcmgateway_test.go ---
package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-dispatch-service/internal/payload"
	"github.com/tinywideclouds/go-dispatch-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reminderPayload() dispatch.ChannelPayload {
	return payload.Build(dispatch.NotificationIntent{
		RecipientToken: "T1",
		Title:          "Time for pills",
		Body:           "Take aspirin",
		Category:       dispatch.CategoryMedicationReminder,
	}, time.UnixMilli(1_700_000_000_000))
}

func TestFCMGateway_Send(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Happy Path - Returns Message ID", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Token == "T1" &&
				*m.Android.TTL == 60*time.Second &&
				m.Android.Notification.ChannelID == "high_importance_channel" &&
				m.APNS.Headers["apns-priority"] == "10"
		})).Return("projects/p/messages/1", nil)

		id, err := gateway.Send(ctx, reminderPayload())

		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/1", id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure - Wrapped as GatewayError", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)
		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		_, err := gateway.Send(ctx, reminderPayload())

		var gwErr *dispatch.GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, "fcm", gwErr.Provider)
		assert.Contains(t, err.Error(), "network down")
		assert.Equal(t, codes.Internal, status.Code(err))
	})
}

func TestNewMessage_MapsAllSections(t *testing.T) {
	msg := fcm.NewMessage(reminderPayload())

	require.NotNil(t, msg.Notification)
	assert.Equal(t, "Time for pills", msg.Notification.Title)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.True(t, msg.Android.Notification.DefaultSound)
	assert.True(t, msg.Android.Notification.DefaultVibrateTimings)
	assert.Equal(t, "default", msg.APNS.Payload.Aps.Sound)
	assert.Equal(t, 1, *msg.APNS.Payload.Aps.Badge)
	assert.True(t, msg.APNS.Payload.Aps.ContentAvailable)
	assert.True(t, msg.APNS.Payload.Aps.MutableContent)
	assert.Equal(t, "high", msg.Webpush.Headers["Urgency"])
	assert.Equal(t, "medication-reminder", msg.Data["type"])
}
