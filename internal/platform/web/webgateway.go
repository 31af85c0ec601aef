package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-dispatch-service/dispatchservice/config"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// Gateway delivers payloads straight to a browser push service using VAPID.
// The recipient token is the JSON-encoded PushSubscription produced by the
// browser (endpoint + p256dh/auth keys).
type Gateway struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

func NewGateway(cfg config.VapidConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        time.Minute,
		logger:     logger.With("component", "WebPushGateway"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *Gateway) Send(ctx context.Context, p dispatch.ChannelPayload) (string, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(p.Token), &sub); err != nil || sub.Endpoint == "" {
		return "", g.fail(fmt.Errorf("token is not a web push subscription: %v", err))
	}

	body, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": p.Title,
			"body":  p.Body,
		},
		"data": p.Data,
	})
	if err != nil {
		return "", g.fail(fmt.Errorf("failed to marshal payload: %w", err))
	}

	urgency := webpush.UrgencyHigh
	if u := p.Webpush.Headers["Urgency"]; u != "" {
		urgency = webpush.Urgency(u)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &sub, &webpush.Options{
		Subscriber:      g.subscriber,
		VAPIDPublicKey:  g.publicKey,
		VAPIDPrivateKey: g.privateKey,
		TTL:             int(g.ttl.Seconds()),
		Urgency:         urgency,
		HTTPClient:      g.httpClient,
	})
	if err != nil {
		g.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return "", g.fail(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc, nil
		}
		return uuid.NewString(), nil
	case http.StatusGone, http.StatusNotFound:
		g.logger.Warn("WebPush subscription expired", "status", resp.StatusCode, "endpoint", sub.Endpoint)
	default:
		g.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
	}
	return "", g.fail(fmt.Errorf("push service responded %d", resp.StatusCode))
}

func (g *Gateway) fail(err error) error {
	return &dispatch.GatewayError{Provider: "webpush", Cause: err}
}
