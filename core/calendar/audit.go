package calendar

import (
	"context"
	"time"
)

// Action is what a reconciliation attempt did (or tried to do).
type Action string

const (
	ActionCreate     Action = "consultation.create"
	ActionCancel     Action = "consultation.cancel"
	ActionReschedule Action = "consultation.reschedule"
	ActionNoShow     Action = "consultation.no_show"
	ActionSupersede  Action = "consultation.supersede"
	ActionWebhook    Action = "webhook.receive"
	ActionSync       Action = "sync.window"
	ActionSubscribe  Action = "webhook.subscribe"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailure  Outcome = "failure"
	OutcomeSecurity Outcome = "security"
)

// AuditEvent records the outcome of one reconciliation attempt.
type AuditEvent struct {
	ID              string     `json:"id" db:"id"`
	Action          Action     `json:"action" db:"action"`
	Outcome         Outcome    `json:"outcome" db:"outcome"`
	Provider        string     `json:"provider" db:"provider"`
	Origin          Origin     `json:"origin" db:"origin"`
	ExternalEventID string     `json:"external_event_id" db:"external_event_id"`
	StudentID       string     `json:"student_id" db:"student_id"`
	ConsultationID  string     `json:"consultation_id" db:"consultation_id"`
	ScheduledAt     *time.Time `json:"scheduled_at" db:"scheduled_at"`
	Reason          string     `json:"reason" db:"reason"`
	Error           string     `json:"error" db:"error"`
	OccurredAt      time.Time  `json:"occurred_at" db:"occurred_at"` // UTC
}

// Auditor persists AuditEvents. Callers log its errors and carry on.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}
