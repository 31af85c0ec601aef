// Package guard decides whether a dispatch may proceed and records its
// outcome against the DeliveryRecord.
package guard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// Decision is the result of TryBegin.
type Decision int

const (
	Permitted Decision = iota
	AlreadyProcessed
)

func (d Decision) String() string {
	if d == AlreadyProcessed {
		return "already_processed"
	}
	return "permitted"
}

// Guard fences a DeliveryRecord. An empty record id means the intake path
// has no backing record; every operation is then a no-op.
type Guard struct {
	store dispatch.RecordStore
	clock dispatch.Clock
	log   *slog.Logger
}

func New(store dispatch.RecordStore, clock dispatch.Clock, logger *slog.Logger) *Guard {
	return &Guard{
		store: store,
		clock: clock,
		log:   logger.With("component", "IdempotencyGuard"),
	}
}

// TryBegin reports whether the record still owes a send. A missing record
// is permitted: the conditional commit is the real fence.
func (g *Guard) TryBegin(ctx context.Context, recordID string) (Decision, error) {
	if recordID == "" {
		return Permitted, nil
	}

	rec, err := g.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			return Permitted, nil
		}
		return Permitted, &dispatch.StoreError{Op: "read record", Cause: err}
	}
	if rec.Processed {
		g.log.Debug("Record already processed", "record_id", recordID, "message_id", rec.MessageID)
		return AlreadyProcessed, nil
	}
	return Permitted, nil
}

// CommitSuccess marks the record processed. It returns
// dispatch.ErrAlreadyProcessed if a concurrent flow committed first.
func (g *Guard) CommitSuccess(ctx context.Context, recordID, messageID string) error {
	if recordID == "" {
		return nil
	}
	err := g.store.MarkProcessed(ctx, recordID, messageID, g.clock.Now())
	if err == nil || errors.Is(err, dispatch.ErrAlreadyProcessed) {
		return err
	}
	return &dispatch.StoreError{Op: "commit success", Cause: err}
}

// CommitFailure records the cause and leaves the record eligible for
// reprocessing.
func (g *Guard) CommitFailure(ctx context.Context, recordID string, cause error) error {
	if recordID == "" {
		return nil
	}
	if err := g.store.MarkFailed(ctx, recordID, cause.Error(), g.clock.Now()); err != nil {
		if errors.Is(err, dispatch.ErrAlreadyProcessed) {
			return nil
		}
		return &dispatch.StoreError{Op: "commit failure", Cause: err}
	}
	return nil
}
