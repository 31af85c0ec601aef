// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the event-queue intake of the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// RequestEventTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a dispatch.RequestEvent.
func RequestEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.RequestEvent, bool, error) {
	var ev dispatch.RequestEvent

	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// skip=true lets the StreamingService Nack the message towards the DLQ.
		return nil, true, fmt.Errorf("failed to unmarshal request event from message %s: %w", msg.ID, err)
	}
	if ev.RequestID == "" {
		return nil, true, fmt.Errorf("request event in message %s has no requestId", msg.ID)
	}

	return &ev, false, nil
}
