// --- File: internal/platform/fcm/fcmgateway.go ---
package fcm

import (
	"context"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Gateway delivers a ChannelPayload as a single FCM message carrying all
// three platform sections.
type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

// NewGateway accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

func (g *Gateway) Send(ctx context.Context, p dispatch.ChannelPayload) (string, error) {
	msg := NewMessage(p)

	messageID, err := g.client.Send(ctx, msg)
	if err != nil {
		switch {
		case messaging.IsRegistrationTokenNotRegistered(err):
			g.logger.Warn("FCM token is no longer registered", "err", err)
		case messaging.IsInvalidArgument(err):
			g.logger.Warn("FCM rejected message as InvalidArgument", "err", err)
		default:
			g.logger.Error("FCM send failed", "err", err)
		}
		return "", &dispatch.GatewayError{Provider: "fcm", Cause: err}
	}
	return messageID, nil
}

// NewMessage maps the payload sections onto the FCM wire message.
func NewMessage(p dispatch.ChannelPayload) *messaging.Message {
	ttl := p.Android.TTL
	badge := p.APNS.Badge

	return &messaging.Message{
		Token: p.Token,
		Data:  p.Data,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: p.Android.Priority,
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				ChannelID:             p.Android.ChannelID,
				DefaultSound:          p.Android.DefaultSound,
				DefaultVibrateTimings: p.Android.DefaultVibrate,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: p.APNS.Headers,
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:            p.APNS.Sound,
					Badge:            &badge,
					ContentAvailable: p.APNS.ContentAvailable,
					MutableContent:   p.APNS.MutableContent,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Headers: p.Webpush.Headers,
			Notification: &messaging.WebpushNotification{
				Title: p.Title,
				Body:  p.Body,
				Icon:  "/assets/icons/icon-192x192.png",
			},
		},
	}
}
