// Package orchestrator runs a single dispatch end to end:
// validate, consult the guard, build, send, commit, audit.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/tinywideclouds/go-dispatch-service/internal/guard"
	"github.com/tinywideclouds/go-dispatch-service/internal/metrics"
	"github.com/tinywideclouds/go-dispatch-service/internal/payload"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// Audit selects the secondary records written after a committed send.
type Audit struct {
	SentLog  bool // global sent-notifications log
	OwnerLog bool // the intent owner's notification history
}

// Job is one unit of work handed over by an intake adapter.
type Job struct {
	Intent dispatch.NotificationIntent
	// RecordID names the backing DeliveryRecord; empty for intake paths
	// without replay protection.
	RecordID string
	Audit    Audit
}

type Orchestrator struct {
	gateway dispatch.Gateway
	guard   *guard.Guard
	audit   dispatch.AuditLog
	clock   dispatch.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records outcomes and gateway latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New wires the orchestrator. audit may be nil when no intake path writes
// audit entries.
func New(
	gateway dispatch.Gateway,
	records dispatch.RecordStore,
	audit dispatch.AuditLog,
	clock dispatch.Clock,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		gateway: gateway,
		guard:   guard.New(records, clock, logger),
		audit:   audit,
		clock:   clock,
		logger:  logger.With("component", "Orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatch drives a job to a terminal state. The returned error carries a
// gRPC status code (InvalidArgument, Internal) suitable for the caller.
func (o *Orchestrator) Dispatch(ctx context.Context, job Job) (dispatch.Outcome, error) {
	log := o.logger.With("record_id", job.RecordID, "category", job.Intent.Category.OrDefault())

	outcome, err := o.dispatch(ctx, job, log)
	o.metrics.ObserveOutcome(outcome.State)
	return outcome, err
}

func (o *Orchestrator) dispatch(ctx context.Context, job Job, log *slog.Logger) (dispatch.Outcome, error) {
	// Received -> Validated
	if strings.TrimSpace(job.Intent.RecipientToken) == "" {
		log.Warn("Rejected intent without recipient token")
		return dispatch.Outcome{State: dispatch.StateRejected}, dispatch.InvalidArgument("a valid recipient token is required")
	}

	// Validated -> Permitted | Skipped
	decision, err := o.guard.TryBegin(ctx, job.RecordID)
	if err != nil {
		log.Error("Idempotency check failed", "err", err)
		return dispatch.Outcome{State: dispatch.StateFailed}, err
	}
	if decision == guard.AlreadyProcessed {
		log.Info("Duplicate event; dispatch skipped")
		return dispatch.Outcome{State: dispatch.StateSkipped}, nil
	}

	// Permitted -> Sent | Failed
	p := payload.Build(job.Intent, o.clock.Now())
	start := time.Now()
	messageID, err := o.gateway.Send(ctx, p)
	o.metrics.ObserveGateway(time.Since(start), err)
	if err != nil {
		var gwErr *dispatch.GatewayError
		if !errors.As(err, &gwErr) {
			err = &dispatch.GatewayError{Provider: "unknown", Cause: err}
		}
		log.Error("Gateway send failed", "err", err)
		if cerr := o.guard.CommitFailure(ctx, job.RecordID, err); cerr != nil {
			log.Error("Failed to record gateway failure", "err", cerr)
		}
		return dispatch.Outcome{State: dispatch.StateFailed}, err
	}
	log = log.With("message_id", messageID)

	// Sent -> Committed
	if err := o.guard.CommitSuccess(ctx, job.RecordID, messageID); err != nil {
		if !errors.Is(err, dispatch.ErrAlreadyProcessed) {
			// The message is out; only the record lags behind. A redelivery
			// of the event may send it again.
			log.Error("Delivered but commit failed; record may be resent", "err", err)
			return dispatch.Outcome{State: dispatch.StateSent, MessageID: messageID}, err
		}
		log.Warn("Record committed concurrently by another flow; duplicate send")
		return dispatch.Outcome{State: dispatch.StateDuplicate, MessageID: messageID}, nil
	}

	o.writeAudit(ctx, job, p, messageID, log)

	log.Info("Notification dispatched")
	return dispatch.Outcome{State: dispatch.StateCommitted, MessageID: messageID}, nil
}

// writeAudit is best-effort: failures are logged and never change the
// outcome of an already committed send.
func (o *Orchestrator) writeAudit(ctx context.Context, job Job, p dispatch.ChannelPayload, messageID string, log *slog.Logger) {
	if o.audit == nil {
		return
	}
	now := o.clock.Now()
	category := job.Intent.Category.OrDefault()

	if job.Audit.SentLog {
		entry := dispatch.SentNotificationLog{
			Token:     job.Intent.RecipientToken,
			Title:     p.Title,
			Body:      p.Body,
			Category:  category,
			Data:      maps.Clone(p.Data),
			SourceID:  job.Intent.SourceID,
			MessageID: messageID,
			SentAt:    now,
		}
		if err := o.audit.AppendSent(ctx, entry); err != nil {
			o.metrics.AuditFailed()
			log.Error("Failed to append sent-notification log", "err", err)
		}
	}

	if job.Audit.OwnerLog && job.Intent.SourceID != "" {
		entry := dispatch.OwnerNotification{
			RequestID: job.RecordID,
			Title:     p.Title,
			Body:      p.Body,
			Category:  category,
			MessageID: messageID,
			SentAt:    now,
		}
		if err := o.audit.AppendOwnerNotification(ctx, job.Intent.SourceID, entry); err != nil {
			o.metrics.AuditFailed()
			log.Error("Failed to append owner notification", "owner_id", job.Intent.SourceID, "err", err)
		}
	}
}
