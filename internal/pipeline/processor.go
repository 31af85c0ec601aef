package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// NewProcessor adapts the EventHandler to the streaming pipeline.
// Returning an error Nacks the message so Pub/Sub redelivers it; the
// delivery record makes that redelivery safe.
func NewProcessor(handler *EventHandler, logger *slog.Logger) messagepipeline.StreamProcessor[dispatch.RequestEvent] {
	return func(ctx context.Context, original messagepipeline.Message, ev *dispatch.RequestEvent) error {
		procLogger := logger.With(
			"request_id", ev.RequestID,
			"pubsub_msg_id", original.ID,
		)

		outcome, err := handler.Handle(ctx, *ev)
		if err != nil {
			// Rejected intents are acked; they cannot succeed on redelivery.
			if status.Code(err) == codes.InvalidArgument {
				procLogger.Warn("Dropping invalid request", "err", err)
				return nil
			}
			// The send is out; redelivery would only repeat it.
			if outcome.Delivered() {
				procLogger.Error("Delivered but record not committed; acknowledging", "message_id", outcome.MessageID, "err", err)
				return nil
			}
			procLogger.Error("Dispatch failed; message will be redelivered", "state", outcome.State, "err", err)
			return err
		}

		procLogger.Info("Event processed", "state", outcome.State, "message_id", outcome.MessageID)
		return nil
	}
}
