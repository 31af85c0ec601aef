package dispatch

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is returned by stores when a document does not exist.
	ErrNotFound = errors.New("dispatch: not found")
	// ErrAlreadyProcessed is returned by the conditional update when another
	// flow committed the record first.
	ErrAlreadyProcessed = errors.New("dispatch: record already processed")
)

// GatewayError wraps any rejection from a push provider: invalid token,
// malformed payload, quota, or a transport fault.
type GatewayError struct {
	Provider string
	Cause    error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %v", e.Provider, e.Cause)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// GRPCStatus lets status.Code classify gateway failures as Internal.
func (e *GatewayError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, e.Error())
}

// StoreError wraps a durable read or write failure.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, e.Error())
}

// InvalidArgument builds a validation error.
func InvalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// Unauthenticated builds a missing-identity error.
func Unauthenticated(msg string) error {
	return status.Error(codes.Unauthenticated, msg)
}

// Forbidden builds a bad-shared-secret error.
func Forbidden(msg string) error {
	return status.Error(codes.PermissionDenied, msg)
}
