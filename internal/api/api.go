// Package api holds the HTTP intake adapters. Each handler only translates
// its transport shape into an orchestrator.Job; all dispatch rules live in
// the orchestrator.
package api

import (
	"context"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-dispatch-service/internal/orchestrator"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// Dispatcher is the orchestrator contract used by the handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, job orchestrator.Job) (dispatch.Outcome, error)
}

// Enqueuer creates durable request documents.
type Enqueuer interface {
	Enqueue(ctx context.Context, intent dispatch.NotificationIntent) (string, error)
}

// SendResponse is returned by every synchronous send route.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// httpStatus maps the error taxonomy onto HTTP.
func httpStatus(err error) int {
	switch status.Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage hides internal causes from callers.
func clientMessage(err error, fallback string) string {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return status.Convert(err).Message()
	default:
		return fallback
	}
}
