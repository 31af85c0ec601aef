// --- File: internal/platform/apns/apnsgateway.go ---
// Package apns provides the gateway for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Gateway sends the iOS section of a payload directly to APNs.
type Gateway struct {
	client APNSClient
	topic  string // The App Bundle ID
	expiry time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewGateway creates a configured APNs gateway.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newGateway(client, cfg.BundleID, logger), nil
}

func newGateway(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  topic,
		expiry: time.Minute,
		now:    time.Now,
		logger: logger.With("component", "APNSGateway"),
	}
}

// Send pushes one notification. The APNs HTTP/2 API is unary, so a single
// Push maps exactly onto one dispatch.
func (g *Gateway) Send(ctx context.Context, p dispatch.ChannelPayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &dispatch.GatewayError{Provider: "apns", Cause: err}
	}

	n := &apns2.Notification{
		DeviceToken: p.Token,
		Topic:       g.topic,
		Payload:     buildPayload(p),
		Priority:    priority(p.APNS.Headers["apns-priority"]),
		PushType:    apns2.EPushType(p.APNS.Headers["apns-push-type"]),
		Expiration:  g.now().Add(g.expiry),
	}
	if n.PushType == "" {
		n.PushType = apns2.PushTypeAlert
	}

	res, err := g.client.Push(n)
	if err != nil {
		g.logger.Error("APNs transport failed", "err", err)
		return "", &dispatch.GatewayError{Provider: "apns", Cause: err}
	}

	if !res.Sent() {
		// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			g.logger.Warn("APNs rejected device token", "reason", res.Reason, "status", res.StatusCode)
		default:
			g.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
		return "", &dispatch.GatewayError{
			Provider: "apns",
			Cause:    fmt.Errorf("status %d: %s", res.StatusCode, res.Reason),
		}
	}

	return res.ApnsID, nil
}

func buildPayload(p dispatch.ChannelPayload) *payload.Payload {
	builder := payload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body).
		Sound(p.APNS.Sound).
		Badge(p.APNS.Badge)
	if p.APNS.ContentAvailable {
		builder.ContentAvailable()
	}
	if p.APNS.MutableContent {
		builder.MutableContent()
	}

	for k, v := range p.Data {
		builder.Custom(k, v)
	}
	return builder
}

func priority(header string) int {
	if v, err := strconv.Atoi(header); err == nil {
		return v
	}
	return apns2.PriorityHigh
}
