package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/calsync/core/consultation"
)

var (
	planStart = time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	planNew   = time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)
)

func row(id, key string, status consultation.Status) *consultation.Consultation {
	return &consultation.Consultation{
		ID:              id,
		StudentID:       "s1",
		ScheduledAt:     planStart,
		Duration:        30,
		Status:          status,
		ExternalEventID: null.StringFrom(key),
	}
}

func planEvent(id, prev string) ExternalEvent {
	return ExternalEvent{
		ID:           id,
		PreviousID:   prev,
		StartTime:    planNew,
		EndTime:      planNew.Add(45 * time.Minute),
		InviteeEmail: "jane@example.edu",
		EventType:    "Career Counseling",
	}
}

func TestPlan(t *testing.T) {
	scheduled := row("c1", "I1", consultation.StatusScheduled)
	other := row("c2", "I2", consultation.StatusScheduled)
	sameKeyMoved := row("c1", "I2", consultation.StatusScheduled)
	sameKeyMoved.ScheduledAt, sameKeyMoved.Duration = planNew, 45
	reschedEv := planEvent("I2", "I1")
	canceledEv := planEvent("I1", "")
	canceledEv.CancelReason = "sick"
	partOfRes := planEvent("I1", "")
	partOfRes.Rescheduled = true
	partOfResNext := partOfRes
	partOfResNext.NextID = "I2"

	tests := []struct {
		name       string
		kind       EventKind
		ev         ExternalEvent
		snap       Snapshot
		wantKind   EffectKind
		wantAction Action
		wantSkip   string
		wantStatus consultation.Status // when the patch sets one
		wantKey    string              // when the patch switches keys
		wantID     string
	}{
		{name: "create", kind: KindCreated, ev: planEvent("I1", ""), wantKind: EffectCreate, wantAction: ActionCreate},
		{name: "create duplicate", kind: KindCreated, ev: planEvent("I1", ""), snap: Snapshot{Current: scheduled}, wantSkip: SkipAlreadyProcessed},
		{
			name: "create replacing a scheduled booking", kind: KindCreated, ev: reschedEv,
			snap:     Snapshot{Previous: scheduled},
			wantKind: EffectUpdate, wantAction: ActionReschedule, wantKey: "I2", wantID: "c1",
		},
		{
			name: "create replacing a cancelled booking", kind: KindCreated, ev: reschedEv,
			snap:     Snapshot{Previous: row("c1", "I1", consultation.StatusCancelled)},
			wantKind: EffectCreate, wantAction: ActionCreate,
		},
		{name: "cancel unknown", kind: KindCanceled, ev: canceledEv, wantSkip: SkipNoMatchCancel},
		{
			name: "cancel", kind: KindCanceled, ev: canceledEv, snap: Snapshot{Current: scheduled},
			wantKind: EffectUpdate, wantAction: ActionCancel, wantStatus: consultation.StatusCancelled, wantID: "c1",
		},
		{name: "cancel part of reschedule", kind: KindCanceled, ev: partOfRes, snap: Snapshot{Current: scheduled}, wantSkip: SkipPartOfReschedule},
		{
			name: "cancel part of reschedule, replacement already moved this row", kind: KindCanceled, ev: partOfResNext,
			snap: Snapshot{Current: sameKeyMoved, Next: sameKeyMoved}, wantSkip: SkipPartOfReschedule,
		},
		{
			name: "cancel part of reschedule, replacement has its own row", kind: KindCanceled, ev: partOfResNext,
			snap:     Snapshot{Current: scheduled, Next: other},
			wantKind: EffectUpdate, wantAction: ActionSupersede, wantStatus: consultation.StatusCancelled, wantID: "c1",
		},
		{
			name: "cancel part of reschedule, attended", kind: KindCanceled, ev: partOfResNext,
			snap: Snapshot{Current: row("c1", "I1", consultation.StatusAttended), Next: other}, wantSkip: SkipSticky,
		},
		{name: "cancel replay", kind: KindCanceled, ev: canceledEv, snap: Snapshot{Current: row("c1", "I1", consultation.StatusCancelled)}, wantSkip: SkipAlreadyProcessed},
		{name: "cancel attended", kind: KindCanceled, ev: canceledEv, snap: Snapshot{Current: row("c1", "I1", consultation.StatusAttended)}, wantSkip: SkipSticky},
		{name: "cancel no-show", kind: KindCanceled, ev: canceledEv, snap: Snapshot{Current: row("c1", "I1", consultation.StatusNoShow)}, wantSkip: SkipSticky},
		{name: "reschedule unknown", kind: KindRescheduled, ev: reschedEv, wantSkip: SkipNoMatchRes},
		{
			name: "reschedule", kind: KindRescheduled, ev: reschedEv, snap: Snapshot{Previous: scheduled},
			wantKind: EffectUpdate, wantAction: ActionReschedule, wantKey: "I2", wantID: "c1",
		},
		{
			name: "reschedule replay resolves both keys to one row", kind: KindRescheduled, ev: reschedEv,
			snap:     Snapshot{Previous: sameKeyMoved, Current: sameKeyMoved},
			wantSkip: SkipAlreadyProcessed,
		},
		{
			name: "reschedule in place", kind: KindRescheduled, ev: planEvent("I1", ""), snap: Snapshot{Current: scheduled},
			wantKind: EffectUpdate, wantAction: ActionReschedule, wantID: "c1",
		},
		{
			name: "reschedule after new booking was created", kind: KindRescheduled, ev: reschedEv,
			snap:     Snapshot{Previous: scheduled, Current: other},
			wantKind: EffectUpdate, wantAction: ActionSupersede, wantStatus: consultation.StatusCancelled, wantID: "c1",
		},
		{name: "reschedule attended", kind: KindRescheduled, ev: reschedEv, snap: Snapshot{Previous: row("c1", "I1", consultation.StatusAttended)}, wantSkip: SkipSticky},
		{name: "reschedule cancelled", kind: KindRescheduled, ev: reschedEv, snap: Snapshot{Previous: row("c1", "I1", consultation.StatusCancelled)}, wantSkip: SkipTerminal},
		{name: "no-show unknown", kind: KindNoShow, ev: planEvent("I1", ""), wantSkip: SkipNoMatchNoShow},
		{
			name: "no-show", kind: KindNoShow, ev: planEvent("I1", ""), snap: Snapshot{Current: scheduled},
			wantKind: EffectUpdate, wantAction: ActionNoShow, wantStatus: consultation.StatusNoShow, wantID: "c1",
		},
		{name: "no-show replay", kind: KindNoShow, ev: planEvent("I1", ""), snap: Snapshot{Current: row("c1", "I1", consultation.StatusNoShow)}, wantSkip: SkipAlreadyProcessed},
		{name: "no-show attended", kind: KindNoShow, ev: planEvent("I1", ""), snap: Snapshot{Current: row("c1", "I1", consultation.StatusAttended)}, wantSkip: SkipSticky},
		{name: "no-show cancelled", kind: KindNoShow, ev: planEvent("I1", ""), snap: Snapshot{Current: row("c1", "I1", consultation.StatusCancelled)}, wantSkip: SkipTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eff := Plan(tt.kind, tt.ev, tt.snap)
			assert.Equal(t, tt.wantKind, eff.Kind)
			assert.Equal(t, tt.wantSkip, eff.Skip)
			if tt.wantKind == EffectNone {
				return
			}
			assert.Equal(t, tt.wantAction, eff.Action)
			assert.Equal(t, tt.wantID, eff.ConsultationID)
			if tt.wantStatus != "" {
				if assert.NotNil(t, eff.Patch.Status) {
					assert.Equal(t, tt.wantStatus, *eff.Patch.Status)
				}
			}
			if tt.wantKey != "" {
				if assert.NotNil(t, eff.Patch.ExternalEventID) {
					assert.Equal(t, tt.wantKey, *eff.Patch.ExternalEventID)
				}
			} else {
				assert.Nil(t, eff.Patch.ExternalEventID)
			}
			assert.NotEmpty(t, eff.Patch.AppendNote+eff.Create.Notes)
		})
	}
}

func TestPlanCreated_Fields(t *testing.T) {
	ev := planEvent("I1", "")
	ev.EventType = ""
	ev.Location = "Room 4"
	eff := Plan(KindCreated, ev, Snapshot{})

	nc := eff.Create
	assert.Equal(t, consultation.DefaultType, nc.Type)
	assert.Equal(t, planNew, nc.ScheduledAt)
	assert.Equal(t, 45, nc.Duration)
	assert.Equal(t, "I1", nc.ExternalEventID)
	assert.Equal(t, "Room 4", nc.Location)
	assert.Equal(t, "created via external calendar, event type: General", nc.Notes)
}

func TestPlanRescheduled_Note(t *testing.T) {
	eff := Plan(KindRescheduled, planEvent("I2", "I1"), Snapshot{Previous: row("c1", "I1", consultation.StatusScheduled)})
	assert.Equal(t, "rescheduled via external calendar from 2024-01-10 14:00 UTC to 2024-01-12 09:00 UTC", eff.Patch.AppendNote)
	assert.Equal(t, planNew, *eff.Patch.ScheduledAt)
	assert.Equal(t, 45, *eff.Patch.Duration)
}

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		start, end string
		want       int
	}{
		{"2024-01-10T14:00:00Z", "2024-01-10T14:30:00Z", 30},
		{"2024-01-10T14:00:00Z", "2024-01-10T14:29:31Z", 30},
		{"2024-01-10T14:00:00Z", "2024-01-10T14:29:29Z", 29},
		{"2024-01-10T14:00:00Z", "2024-01-10T14:00:00Z", 0},
	}
	for _, tt := range tests {
		start, _ := time.Parse(time.RFC3339, tt.start)
		end, _ := time.Parse(time.RFC3339, tt.end)
		assert.Equal(t, tt.want, ExternalEvent{StartTime: start, EndTime: end}.DurationMinutes(), tt.end)
	}
}
