package dispatch

// State is the terminal state reached by a single dispatch.
type State string

const (
	StateCommitted State = "committed"
	StateSkipped   State = "skipped"
	StateRejected  State = "rejected"
	StateFailed    State = "failed"
	// StateSent means the gateway accepted the message but the delivery
	// record could not be committed.
	StateSent State = "sent"
	// StateDuplicate means the gateway accepted the message but a concurrent
	// flow committed the record first. No audit entries are written.
	StateDuplicate State = "duplicate"
)

// Outcome is what a dispatch reports back to its intake adapter.
type Outcome struct {
	State     State
	MessageID string
}

// Delivered reports whether the gateway accepted the message.
func (o Outcome) Delivered() bool {
	switch o.State {
	case StateCommitted, StateSent, StateDuplicate:
		return true
	}
	return false
}
