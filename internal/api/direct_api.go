package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-dispatch-service/internal/orchestrator"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// DirectAPI serves the authenticated routes. The JWT middleware puts the
// caller's handle in the context before these handlers run.
type DirectAPI struct {
	dispatcher Dispatcher
	enqueuer   Enqueuer
	logger     *slog.Logger
}

func NewDirectAPI(dispatcher Dispatcher, enqueuer Enqueuer, logger *slog.Logger) *DirectAPI {
	return &DirectAPI{
		dispatcher: dispatcher,
		enqueuer:   enqueuer,
		logger:     logger.With("component", "DirectAPI"),
	}
}

type DirectSendRequest struct {
	Token        string `json:"token"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type CreateRequestResponse struct {
	RequestID string `json:"requestId"`
}

// SendNotification delivers synchronously. No delivery record is kept, so a
// retried call sends again.
func (api *DirectAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := api.caller(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req DirectSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	log := api.logger.With("caller", caller.String(), "correlation_id", uuid.NewString())
	outcome, err := api.dispatcher.Dispatch(ctx, orchestrator.Job{
		Intent: dispatch.NotificationIntent{
			RecipientToken: req.Token,
			Title:          req.Notification.Title,
			Body:           req.Notification.Body,
			Category:       dispatch.Category(req.Type),
			StructuredData: req.Data,
		},
	})
	if err != nil {
		log.Error("Direct dispatch failed", "state", outcome.State, "err", err)
		response.WriteJSONError(w, httpStatus(err), clientMessage(err, "failed to send notification"))
		return
	}

	log.Info("Direct dispatch sent", "message_id", outcome.MessageID)
	writeJSON(w, http.StatusOK, SendResponse{Success: true, MessageID: outcome.MessageID})
}

// CreateRequest stores a request document for asynchronous, replay-safe
// delivery by the event handler.
func (api *DirectAPI) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var intent dispatch.NotificationIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := api.enqueuer.Enqueue(r.Context(), intent)
	if err != nil {
		api.logger.Error("Failed to enqueue request", "caller", caller.String(), "request_id", id, "err", err)
		response.WriteJSONError(w, httpStatus(err), clientMessage(err, "failed to enqueue request"))
		return
	}

	api.logger.Info("Request accepted", "caller", caller.String(), "request_id", id)
	writeJSON(w, http.StatusAccepted, CreateRequestResponse{RequestID: id})
}

func (api *DirectAPI) caller(r *http.Request) (urn.URN, bool) {
	var none urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok || userID == "" {
		return none, false
	}
	caller, err := urn.Parse(userID)
	if err != nil {
		api.logger.Warn("Caller handle is not a valid URN", "handle", userID, "err", err)
		return none, false
	}
	return caller, true
}
