package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// EventPublisher announces a newly created request document.
type EventPublisher interface {
	Publish(ctx context.Context, ev dispatch.RequestEvent) error
}

// PubsubPublisher publishes RequestEvents as JSON to a Pub/Sub topic.
type PubsubPublisher struct {
	publisher *pubsub.Publisher
}

func NewPubsubPublisher(publisher *pubsub.Publisher) *PubsubPublisher {
	return &PubsubPublisher{publisher: publisher}
}

func (p *PubsubPublisher) Publish(ctx context.Context, ev dispatch.RequestEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal request event: %w", err)
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"requestId": ev.RequestID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish request event %s: %w", ev.RequestID, err)
	}
	return nil
}

// Enqueuer is the durable enqueue path: it writes a request document and,
// when a publisher is configured, announces it on the event queue. With the
// Firestore listener intake the publisher is nil; the document itself is the
// event.
type Enqueuer struct {
	requests  dispatch.RequestStore
	publisher EventPublisher
	logger    *slog.Logger
}

func NewEnqueuer(requests dispatch.RequestStore, publisher EventPublisher, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		requests:  requests,
		publisher: publisher,
		logger:    logger.With("component", "Enqueuer"),
	}
}

// Enqueue returns the new request id. If the document was written but the
// announcement failed, the id is still returned together with an
// Unavailable error.
func (e *Enqueuer) Enqueue(ctx context.Context, intent dispatch.NotificationIntent) (string, error) {
	if strings.TrimSpace(intent.RecipientToken) == "" {
		return "", dispatch.InvalidArgument("recipient token is required")
	}

	id, err := e.requests.CreateRequest(ctx, intent)
	if err != nil {
		return "", &dispatch.StoreError{Op: "create request", Cause: err}
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, dispatch.RequestEvent{RequestID: id}); err != nil {
			e.logger.Error("Request stored but not announced", "request_id", id, "err", err)
			return id, status.Errorf(codes.Unavailable, "request %s stored but not announced: %v", id, err)
		}
	}

	e.logger.Info("Request enqueued", "request_id", id)
	return id, nil
}
