package auditsvc

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
)

// LogAuditor writes audit events to a core.Logger.
type LogAuditor struct {
	logger core.Logger
}

var _ calendar.Auditor = (*LogAuditor)(nil)

func NewLogAuditor(logger core.Logger) *LogAuditor {
	return &LogAuditor{logger: logger}
}

func (a *LogAuditor) Record(_ context.Context, ev calendar.AuditEvent) error {
	msg := fmt.Sprintf("audit: %s %s", ev.Action, ev.Outcome)
	extras := map[string]interface{}{
		"provider": ev.Provider,
		"origin":   ev.Origin,
	}
	if ev.ExternalEventID != "" {
		extras["external_event_id"] = ev.ExternalEventID
	}
	if ev.ConsultationID != "" {
		extras["consultation_id"] = ev.ConsultationID
	}
	if ev.StudentID != "" {
		extras["student_id"] = ev.StudentID
	}
	if ev.Reason != "" {
		extras["reason"] = ev.Reason
	}
	if ev.Error != "" {
		extras["error"] = ev.Error
	}

	switch ev.Outcome {
	case calendar.OutcomeSecurity, calendar.OutcomeFailure:
		a.logger.Warn(msg, extras)
	default:
		a.logger.Info(msg, extras)
	}
	return nil
}

// Multi records each event in every sink, in order.
// All sinks are tried; the first error is returned.
type Multi []calendar.Auditor

var _ calendar.Auditor = (Multi)(nil)

func (m Multi) Record(ctx context.Context, ev calendar.AuditEvent) error {
	var first error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Record(ctx, ev); err != nil && first == nil {
			first = errors.Wrapf(err, "recording %s", ev.Action)
		}
	}
	return first
}
