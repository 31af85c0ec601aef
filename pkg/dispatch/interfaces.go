// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"time"
)

// Gateway defines the contract for a component that hands a fully built
// payload to a push-messaging provider (FCM, APNs, Web Push).
type Gateway interface {
	// Send delivers the payload to its single recipient and returns the
	// provider-assigned message id. Every failure is a *GatewayError.
	// Implementations never retry.
	Send(ctx context.Context, payload ChannelPayload) (string, error)
}

// RecordStore is the durable home of DeliveryRecords.
// MarkProcessed is the idempotency fence: it must be a conditional update
// that fails with ErrAlreadyProcessed when the record is already processed.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*DeliveryRecord, error)
	MarkProcessed(ctx context.Context, id, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, cause string, at time.Time) error
}

// RequestStore extends RecordStore with the event documents that carry both
// the intent and its delivery record.
type RequestStore interface {
	RecordStore

	// CreateRequest persists a new, unprocessed request and returns its id.
	CreateRequest(ctx context.Context, intent NotificationIntent) (string, error)

	// GetRequest returns ErrNotFound when the document does not exist.
	GetRequest(ctx context.Context, id string) (*NotificationRequest, error)
}

// AuditLog receives append-only records of successful deliveries.
type AuditLog interface {
	AppendSent(ctx context.Context, entry SentNotificationLog) error
	AppendOwnerNotification(ctx context.Context, ownerID string, entry OwnerNotification) error
}

// Clock abstracts time so dispatch can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
