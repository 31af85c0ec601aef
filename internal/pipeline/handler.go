package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-dispatch-service/internal/orchestrator"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// Dispatcher is the orchestrator contract used by intake adapters.
type Dispatcher interface {
	Dispatch(ctx context.Context, job orchestrator.Job) (dispatch.Outcome, error)
}

// EventHandler turns a "request document created" event into a dispatch.
// Infrastructure delivers events at least once; the handler is safe to call
// repeatedly for the same document.
type EventHandler struct {
	requests   dispatch.RequestStore
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewEventHandler(requests dispatch.RequestStore, dispatcher Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		requests:   requests,
		dispatcher: dispatcher,
		logger:     logger.With("component", "EventHandler"),
	}
}

// Handle reads the request document and dispatches it. Not every document
// owes a send: missing, already processed or tokenless documents end as
// Skipped without error.
func (h *EventHandler) Handle(ctx context.Context, ev dispatch.RequestEvent) (dispatch.Outcome, error) {
	log := h.logger.With("request_id", ev.RequestID)
	skipped := dispatch.Outcome{State: dispatch.StateSkipped}

	if ev.RequestID == "" {
		log.Warn("Event without request id; ignoring")
		return skipped, nil
	}

	req, err := h.requests.GetRequest(ctx, ev.RequestID)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			log.Info("Request document not found; nothing to send")
			return skipped, nil
		}
		log.Error("Failed to read request document", "err", err)
		return dispatch.Outcome{State: dispatch.StateFailed}, &dispatch.StoreError{Op: "read request", Cause: err}
	}
	if req.Record.Processed {
		log.Info("Request already processed", "message_id", req.Record.MessageID)
		return skipped, nil
	}
	if strings.TrimSpace(req.Intent.RecipientToken) == "" {
		log.Info("Request has no recipient token; nothing to send")
		return skipped, nil
	}

	return h.dispatcher.Dispatch(ctx, orchestrator.Job{
		Intent:   req.Intent,
		RecordID: req.ID,
		Audit:    orchestrator.Audit{OwnerLog: true},
	})
}
