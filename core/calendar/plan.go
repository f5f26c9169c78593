package calendar

import (
	"fmt"
	"time"

	"github.com/trezcool/calsync/core/consultation"
)

// EffectKind is the mutation a planner asks the Reconciler to perform.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectCreate
	EffectUpdate
)

// Skip reasons.
const (
	SkipAlreadyProcessed = "already processed"
	SkipNoMatchCancel    = "no matching consultation for cancel"
	SkipNoMatchRes       = "no matching consultation for reschedule"
	SkipNoMatchNoShow    = "no matching consultation for no-show"
	SkipPartOfReschedule = "cancel is part of a reschedule"
	SkipTerminal         = "consultation is cancelled"
	SkipSticky           = "attendance already recorded"
)

const noteTimeLayout = "2006-01-02 15:04 MST"

// Snapshot is the stored state a planner decides on.
type Snapshot struct {
	Current  *consultation.Consultation // bound to ExternalEvent.ID
	Previous *consultation.Consultation // bound to ExternalEvent.PreviousID
	Next     *consultation.Consultation // bound to ExternalEvent.NextID
}

// Effect is the outcome of planning one ExternalEvent.
// For EffectCreate the Reconciler resolves the student and fills Create.StudentID.
type Effect struct {
	Kind           EffectKind
	Action         Action
	ConsultationID string
	Create         consultation.NewConsultation
	Patch          consultation.Patch
	Skip           string
	Existing       *consultation.Consultation // the row a skip or update refers to
}

func skip(reason string, existing *consultation.Consultation) Effect {
	return Effect{Kind: EffectNone, Skip: reason, Existing: existing}
}

// Plan dispatches on kind.
func Plan(kind EventKind, ev ExternalEvent, snap Snapshot) Effect {
	switch kind {
	case KindCreated:
		return planCreated(ev, snap)
	case KindCanceled:
		return planCanceled(ev, snap)
	case KindRescheduled:
		return planRescheduled(ev, snap)
	case KindNoShow:
		return planNoShow(ev, snap)
	}
	return skip(fmt.Sprintf("unsupported event kind %q", kind), nil)
}

func planCreated(ev ExternalEvent, snap Snapshot) Effect {
	if snap.Current != nil {
		return skip(SkipAlreadyProcessed, snap.Current)
	}
	// a create that replaces a still scheduled booking is its reschedule
	if prev := snap.Previous; prev != nil && prev.Status == consultation.StatusScheduled {
		return rescheduleEffect(ev, prev)
	}

	nc := consultation.NewConsultation{
		Type:            ev.EventType,
		ScheduledAt:     ev.StartTime.UTC(),
		Duration:        ev.DurationMinutes(),
		ExternalEventID: ev.ID,
		Location:        ev.Location,
		MeetingLink:     ev.MeetingLink,
		Notes:           "created via external calendar, event type: " + eventTypeLabel(ev.EventType),
	}
	if nc.Type == "" {
		nc.Type = consultation.DefaultType
	}
	return Effect{Kind: EffectCreate, Action: ActionCreate, Create: nc}
}

func planCanceled(ev ExternalEvent, snap Snapshot) Effect {
	cur := snap.Current
	switch {
	case cur == nil:
		return skip(SkipNoMatchCancel, nil)
	case cur.Status == consultation.StatusCancelled:
		return skip(SkipAlreadyProcessed, cur)
	case cur.Status.Sticky():
		return skip(SkipSticky, cur)
	case ev.Rescheduled:
		if next := snap.Next; next != nil && next.ID != cur.ID {
			// the replacement booking got its own row before this one was moved
			return supersedeEffect(cur, next)
		}
		// the replacement create moves this row to the new key
		return skip(SkipPartOfReschedule, cur)
	}

	note := "cancelled via external calendar"
	if ev.CancelReason != "" {
		note += ": " + ev.CancelReason
	}
	return Effect{
		Kind:           EffectUpdate,
		Action:         ActionCancel,
		ConsultationID: cur.ID,
		Patch:          consultation.Patch{Status: statusPtr(consultation.StatusCancelled), AppendNote: note},
		Existing:       cur,
	}
}

func planRescheduled(ev ExternalEvent, snap Snapshot) Effect {
	prev, cur := snap.Previous, snap.Current
	if ev.PreviousID == "" || ev.PreviousID == ev.ID {
		// rescheduled in place, under the same key
		prev = cur
	}
	if prev == nil {
		if cur != nil {
			return skip(SkipAlreadyProcessed, cur)
		}
		return skip(SkipNoMatchRes, nil)
	}

	switch {
	case prev.Status == consultation.StatusCancelled:
		return skip(SkipTerminal, prev)
	case prev.Status.Sticky():
		return skip(SkipSticky, prev)
	}

	if cur != nil && cur.ID != prev.ID {
		// the new booking already has its own row; retire the old one
		return supersedeEffect(prev, cur)
	}
	if cur != nil && prev.ScheduledAt.Equal(ev.StartTime) && prev.Duration == ev.DurationMinutes() &&
		prev.ExternalEventID.String == ev.ID {
		return skip(SkipAlreadyProcessed, prev)
	}
	return rescheduleEffect(ev, prev)
}

func planNoShow(ev ExternalEvent, snap Snapshot) Effect {
	cur := snap.Current
	switch {
	case cur == nil:
		return skip(SkipNoMatchNoShow, nil)
	case cur.Status == consultation.StatusNoShow:
		return skip(SkipAlreadyProcessed, cur)
	case cur.Status == consultation.StatusCancelled:
		return skip(SkipTerminal, cur)
	case cur.Status.Sticky():
		return skip(SkipSticky, cur)
	}
	return Effect{
		Kind:           EffectUpdate,
		Action:         ActionNoShow,
		ConsultationID: cur.ID,
		Patch: consultation.Patch{
			Status:     statusPtr(consultation.StatusNoShow),
			AppendNote: "marked as no-show via external calendar",
		},
		Existing: cur,
	}
}

func supersedeEffect(old, replacement *consultation.Consultation) Effect {
	return Effect{
		Kind:           EffectUpdate,
		Action:         ActionSupersede,
		ConsultationID: old.ID,
		Patch: consultation.Patch{
			Status:     statusPtr(consultation.StatusCancelled),
			AppendNote: "superseded by rescheduled booking " + replacement.ID,
		},
		Existing: old,
	}
}

func rescheduleEffect(ev ExternalEvent, prev *consultation.Consultation) Effect {
	start := ev.StartTime.UTC()
	dur := ev.DurationMinutes()
	patch := consultation.Patch{
		ScheduledAt: &start,
		Duration:    &dur,
		AppendNote: fmt.Sprintf("rescheduled via external calendar from %s to %s",
			prev.ScheduledAt.UTC().Format(noteTimeLayout), start.Format(noteTimeLayout)),
	}
	if ev.ID != "" && ev.ID != prev.ExternalEventID.String {
		id := ev.ID
		patch.ExternalEventID = &id
	}
	if ev.Location != "" {
		patch.Location = strPtr(ev.Location)
	}
	if ev.MeetingLink != "" {
		patch.MeetingLink = strPtr(ev.MeetingLink)
	}
	return Effect{
		Kind:           EffectUpdate,
		Action:         ActionReschedule,
		ConsultationID: prev.ID,
		Patch:          patch,
		Existing:       prev,
	}
}

func eventTypeLabel(typ string) string {
	if typ == "" {
		return consultation.DefaultType
	}
	return typ
}

func statusPtr(s consultation.Status) *consultation.Status { return &s }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
