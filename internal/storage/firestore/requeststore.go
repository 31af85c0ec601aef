// Package firestore is the durable RequestStore and AuditLog. Request
// documents carry the intent and the delivery record side by side.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// Collections names the collections the store reads and writes.
type Collections struct {
	Requests     string
	Sent         string
	Owners       string
	OwnerEntries string
}

// DefaultCollections returns the production layout:
// notificationRequests, sentNotifications and guardians/{id}/notifications.
func DefaultCollections() Collections {
	return Collections{
		Requests:     "notificationRequests",
		Sent:         "sentNotifications",
		Owners:       "guardians",
		OwnerEntries: "notifications",
	}
}

// requestDoc is the stored shape of a request: intent and record fields
// flattened into one document.
type requestDoc struct {
	dispatch.NotificationIntent
	dispatch.DeliveryRecord
}

// RequestStore implements dispatch.RequestStore and dispatch.AuditLog.
type RequestStore struct {
	client *firestore.Client
	cols   Collections
	logger *slog.Logger
}

func NewRequestStore(client *firestore.Client, cols Collections, logger *slog.Logger) *RequestStore {
	return &RequestStore{
		client: client,
		cols:   cols,
		logger: logger.With("component", "FirestoreRequestStore"),
	}
}

func (s *RequestStore) CreateRequest(ctx context.Context, intent dispatch.NotificationIntent) (string, error) {
	ref, _, err := s.client.Collection(s.cols.Requests).Add(ctx, requestDoc{NotificationIntent: intent})
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	return ref.ID, nil
}

func (s *RequestStore) GetRequest(ctx context.Context, id string) (*dispatch.NotificationRequest, error) {
	snap, err := s.requestRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dispatch.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request %s: %w", id, err)
	}

	var doc requestDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode request %s: %w", id, err)
	}
	return &dispatch.NotificationRequest{ID: id, Intent: doc.NotificationIntent, Record: doc.DeliveryRecord}, nil
}

func (s *RequestStore) GetRecord(ctx context.Context, id string) (*dispatch.DeliveryRecord, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return &req.Record, nil
}

// MarkProcessed sets processed=true inside a transaction that first checks
// the flag, so of two concurrent commits only one succeeds.
func (s *RequestStore) MarkProcessed(ctx context.Context, id, messageID string, at time.Time) error {
	return s.conditionalUpdate(ctx, id, []firestore.Update{
		{Path: "processed", Value: true},
		{Path: "processedAt", Value: at},
		{Path: "messageId", Value: messageID},
	})
}

// MarkFailed records the failure cause. A processed record is left alone.
func (s *RequestStore) MarkFailed(ctx context.Context, id, cause string, at time.Time) error {
	return s.conditionalUpdate(ctx, id, []firestore.Update{
		{Path: "error", Value: cause},
		{Path: "errorAt", Value: at},
	})
}

func (s *RequestStore) conditionalUpdate(ctx context.Context, id string, updates []firestore.Update) error {
	ref := s.requestRef(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return dispatch.ErrNotFound
			}
			return err
		}
		var rec dispatch.DeliveryRecord
		if err := snap.DataTo(&rec); err != nil {
			return err
		}
		if rec.Processed {
			return dispatch.ErrAlreadyProcessed
		}
		return tx.Update(ref, updates)
	})
	if err != nil && !errors.Is(err, dispatch.ErrNotFound) && !errors.Is(err, dispatch.ErrAlreadyProcessed) {
		return fmt.Errorf("transaction on request %s failed: %w", id, err)
	}
	return err
}

func (s *RequestStore) AppendSent(ctx context.Context, entry dispatch.SentNotificationLog) error {
	if _, _, err := s.client.Collection(s.cols.Sent).Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to append sent log: %w", err)
	}
	return nil
}

func (s *RequestStore) AppendOwnerNotification(ctx context.Context, ownerID string, entry dispatch.OwnerNotification) error {
	col := s.client.Collection(s.cols.Owners).Doc(ownerID).Collection(s.cols.OwnerEntries)
	if _, _, err := col.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to append notification for owner %s: %w", ownerID, err)
	}
	return nil
}

// Watch listens for new request documents and calls fn for each one. The
// first snapshot reports every existing document as added; fn must skip
// documents that are already processed. Watch blocks until ctx is done.
func (s *RequestStore) Watch(ctx context.Context, fn func(context.Context, dispatch.RequestEvent)) error {
	it := s.client.Collection(s.cols.Requests).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err == iterator.Done || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("request listener failed: %w", err)
		}

		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			s.logger.Debug("Request document added", "request_id", change.Doc.Ref.ID)
			fn(ctx, dispatch.RequestEvent{RequestID: change.Doc.Ref.ID})
		}
	}
}

func (s *RequestStore) requestRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.cols.Requests).Doc(id)
}
