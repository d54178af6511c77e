// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit logs controller lifecycle events: intent submission,
// policy apply/rollback, supersession, reconciliation, and feedback
// corrections. Narrowed from a general-purpose audit vocabulary down to
// the intent-based-networking domain; persists through the State Store's
// audit_log table rather than a bespoke store.
package audit

import (
	"context"
	"fmt"

	"github.com/ibnctl/ibnctl/internal/logging"
)

// EventType is the closed set of controller events this package records.
type EventType string

const (
	EventIntentSubmitted  EventType = "intent_submitted"
	EventIntentCompiled   EventType = "intent_compiled"
	EventIntentSuperseded EventType = "intent_superseded"
	EventIntentRevoked    EventType = "intent_revoked"
	EventPolicyApplied    EventType = "policy_applied"
	EventPolicyFailed     EventType = "policy_failed"
	EventPolicyRolledBack EventType = "policy_rolled_back"
	EventReconciliation   EventType = "reconciliation_run"
	EventFeedbackCorrect  EventType = "feedback_correction"
	EventHysteresisBlock  EventType = "hysteresis_block"
	EventSchemaMigration  EventType = "schema_migration"
	EventControllerStart  EventType = "controller_start"
	EventControllerStop   EventType = "controller_stop"
)

// Severity is the log level an event is recorded at.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// recordStore is the slice of *store.Store the Logger needs.
type recordStore interface {
	RecordAudit(ctx context.Context, eventType, severity, intentID, policyID, submitter, message string) error
}

// Logger persists audit events and mirrors them to the structured logger.
type Logger struct {
	store  recordStore
	logger *logging.Logger
}

// New builds a Logger. store may be nil, in which case events are only
// mirrored to the structured logger (used by components running before
// the State Store is open, e.g. early startup failures).
func New(store recordStore, logger *logging.Logger) *Logger {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Logger{store: store, logger: logger}
}

// Log records one event. intentID/policyID/submitter may be empty.
func (l *Logger) Log(ctx context.Context, eventType EventType, severity Severity, intentID, policyID, submitter, message string) {
	l.logStructured(eventType, severity, intentID, policyID, submitter, message)

	if l.store == nil {
		return
	}
	if err := l.store.RecordAudit(ctx, string(eventType), string(severity), intentID, policyID, submitter, message); err != nil {
		l.logger.Error("failed to persist audit event", "event_type", eventType, "error", err)
	}
}

func (l *Logger) logStructured(eventType EventType, severity Severity, intentID, policyID, submitter, message string) {
	switch severity {
	case SeverityWarn:
		l.logger.Warn("audit", "event_type", eventType, "intent", intentID, "policy", policyID, "submitter", submitter, "message", message)
	case SeverityError:
		l.logger.Error("audit", "event_type", eventType, "intent", intentID, "policy", policyID, "submitter", submitter, "message", message)
	default:
		l.logger.Info("audit", "event_type", eventType, "intent", intentID, "policy", policyID, "submitter", submitter, "message", message)
	}
}

// LogIntentSubmitted records a new Intent entering the system.
func (l *Logger) LogIntentSubmitted(ctx context.Context, intentID, submitter, rawText string) {
	l.Log(ctx, EventIntentSubmitted, SeverityInfo, intentID, "", submitter, rawText)
}

// LogIntentSuperseded records an Intent being superseded by a successor
// (a user resubmission or a feedback correction).
func (l *Logger) LogIntentSuperseded(ctx context.Context, intentID, successorID string) {
	l.Log(ctx, EventIntentSuperseded, SeverityInfo, intentID, "", "", "superseded by "+successorID)
}

// LogIntentRevoked records an operator-initiated revoke.
func (l *Logger) LogIntentRevoked(ctx context.Context, intentID, submitter string) {
	l.Log(ctx, EventIntentRevoked, SeverityInfo, intentID, "", submitter, "")
}

// LogPolicyApplied records a successful Policy apply.
func (l *Logger) LogPolicyApplied(ctx context.Context, intentID, policyID string) {
	l.Log(ctx, EventPolicyApplied, SeverityInfo, intentID, policyID, "", "")
}

// LogPolicyFailed records a Policy crossing the consecutive-failure
// threshold into failed.
func (l *Logger) LogPolicyFailed(ctx context.Context, intentID, policyID, lastError string) {
	l.Log(ctx, EventPolicyFailed, SeverityError, intentID, policyID, "", lastError)
}

// LogPolicyRolledBack records a Policy rollback (supersession or revoke).
func (l *Logger) LogPolicyRolledBack(ctx context.Context, intentID, policyID string) {
	l.Log(ctx, EventPolicyRolledBack, SeverityInfo, intentID, policyID, "", "")
}

// LogReconciliation records a startup (or periodic) reconciliation pass.
func (l *Logger) LogReconciliation(ctx context.Context, plane string, reapplied int) {
	l.Log(ctx, EventReconciliation, SeverityInfo, "", "", "", fmt.Sprintf("%s: %d policies reapplied", plane, reapplied))
}

// LogFeedbackCorrection records the Feedback Controller emitting a
// corrective Intent.
func (l *Logger) LogFeedbackCorrection(ctx context.Context, parentIntentID, correctiveIntentID string) {
	l.Log(ctx, EventFeedbackCorrect, SeverityInfo, parentIntentID, "", "feedback", "corrective intent "+correctiveIntentID)
}

// LogHysteresisBlock records a goal's corrective emission being damped.
func (l *Logger) LogHysteresisBlock(ctx context.Context, intentID string, untilTick int64) {
	l.Log(ctx, EventHysteresisBlock, SeverityWarn, intentID, "", "feedback", fmt.Sprintf("damped until tick %d", untilTick))
}

// LogLifecycle records process start/stop.
func (l *Logger) LogLifecycle(ctx context.Context, starting bool) {
	eventType := EventControllerStop
	if starting {
		eventType = EventControllerStart
	}
	l.Log(ctx, eventType, SeverityInfo, "", "", "", "")
}
