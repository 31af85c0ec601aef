// Package memory is a process-local RequestStore and AuditLog. Conditional
// updates are serialized by a mutex, giving the same compare-and-set
// semantics as the Firestore transaction.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

type Store struct {
	mu       sync.Mutex
	requests map[string]*dispatch.NotificationRequest
	sent     []dispatch.SentNotificationLog
	owners   map[string][]dispatch.OwnerNotification
}

func NewStore() *Store {
	return &Store{
		requests: make(map[string]*dispatch.NotificationRequest),
		owners:   make(map[string][]dispatch.OwnerNotification),
	}
}

func (s *Store) CreateRequest(_ context.Context, intent dispatch.NotificationIntent) (string, error) {
	id := uuid.NewString()
	s.Put(id, intent)
	return id, nil
}

// Put stores a request under a caller-chosen id, replacing any previous one.
func (s *Store) Put(id string, intent dispatch.NotificationIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent.StructuredData = maps.Clone(intent.StructuredData)
	s.requests[id] = &dispatch.NotificationRequest{ID: id, Intent: intent}
}

func (s *Store) GetRequest(_ context.Context, id string) (*dispatch.NotificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	cp := *req
	cp.Intent.StructuredData = maps.Clone(req.Intent.StructuredData)
	return &cp, nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*dispatch.DeliveryRecord, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return &req.Record, nil
}

func (s *Store) MarkProcessed(_ context.Context, id, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return dispatch.ErrNotFound
	}
	if req.Record.Processed {
		return dispatch.ErrAlreadyProcessed
	}
	req.Record.Processed = true
	req.Record.ProcessedAt = at
	req.Record.MessageID = messageID
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id, cause string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return dispatch.ErrNotFound
	}
	if req.Record.Processed {
		return dispatch.ErrAlreadyProcessed
	}
	req.Record.Error = cause
	req.Record.ErrorAt = at
	return nil
}

func (s *Store) AppendSent(_ context.Context, entry dispatch.SentNotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, entry)
	return nil
}

func (s *Store) AppendOwnerNotification(_ context.Context, ownerID string, entry dispatch.OwnerNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[ownerID] = append(s.owners[ownerID], entry)
	return nil
}

// SentLog returns a copy of every sent-log entry.
func (s *Store) SentLog() []dispatch.SentNotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.SentNotificationLog(nil), s.sent...)
}

// OwnerNotifications returns a copy of one owner's entries.
func (s *Store) OwnerNotifications(ownerID string) []dispatch.OwnerNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.OwnerNotification(nil), s.owners[ownerID]...)
}
