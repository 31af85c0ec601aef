// Package dispatch contains the public domain model and contracts of the
// dispatch service: intents, channel payloads, delivery records, outcomes
// and the error taxonomy.
package dispatch

import "time"

// Category selects the presentation rules applied to a notification.
type Category string

const (
	CategoryGeneric            Category = "generic"
	CategoryMedicationReminder Category = "medication-reminder"
	CategoryMedicationTaken    Category = "medication-taken"
)

// OrDefault returns CategoryGeneric for the zero value.
func (c Category) OrDefault() Category {
	if c == "" {
		return CategoryGeneric
	}
	return c
}

// NotificationIntent is the transport-independent request to notify one
// device token.
type NotificationIntent struct {
	RecipientToken string         `json:"token" firestore:"token"`
	Title          string         `json:"title,omitempty" firestore:"title,omitempty"`
	Body           string         `json:"body,omitempty" firestore:"body,omitempty"`
	Category       Category       `json:"type,omitempty" firestore:"type,omitempty"`
	StructuredData map[string]any `json:"data,omitempty" firestore:"data,omitempty"`
	// SourceID identifies the owning subject (e.g. a guardian); it is only
	// used for secondary record keeping.
	SourceID string `json:"guardianId,omitempty" firestore:"guardianId,omitempty"`
}

// DeliveryRecord tracks whether an event has been dispatched.
type DeliveryRecord struct {
	Processed   bool      `firestore:"processed"`
	ProcessedAt time.Time `firestore:"processedAt,omitempty"`
	MessageID   string    `firestore:"messageId,omitempty"`
	Error       string    `firestore:"error,omitempty"`
	ErrorAt     time.Time `firestore:"errorAt,omitempty"`
}

// NotificationRequest is an event document: the intent plus its record.
type NotificationRequest struct {
	ID     string
	Intent NotificationIntent
	Record DeliveryRecord
}

// RequestEvent is the message carried by the event queue. It only names the
// document; the handler reads everything else from the store.
type RequestEvent struct {
	RequestID string `json:"requestId"`
}

// SentNotificationLog is the audit entry written after a public delivery.
type SentNotificationLog struct {
	Token     string            `firestore:"token"`
	Title     string            `firestore:"title"`
	Body      string            `firestore:"body"`
	Category  Category          `firestore:"type"`
	Data      map[string]string `firestore:"data,omitempty"`
	SourceID  string            `firestore:"guardianId,omitempty"`
	MessageID string            `firestore:"messageId"`
	SentAt    time.Time         `firestore:"sentAt"`
}

// OwnerNotification is appended to an owner's own notification history.
type OwnerNotification struct {
	RequestID string    `firestore:"requestId,omitempty"`
	Title     string    `firestore:"title"`
	Body      string    `firestore:"body"`
	Category  Category  `firestore:"type"`
	MessageID string    `firestore:"messageId"`
	Read      bool      `firestore:"read"`
	SentAt    time.Time `firestore:"sentAt"`
}
