package calendar

import (
	"math"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
)

// EventKind is the provider lifecycle tag of an ExternalEvent.
type EventKind string

const (
	KindCreated     EventKind = "invitee.created"
	KindCanceled    EventKind = "invitee.canceled"
	KindRescheduled EventKind = "invitee.rescheduled"
	KindNoShow      EventKind = "invitee_no_show.created"
)

// SubscribedKinds are registered on every webhook subscription.
var SubscribedKinds = []EventKind{KindCreated, KindCanceled, KindNoShow}

// Origin is the delivery channel of an ExternalEvent.
type Origin string

const (
	OriginWebhook Origin = "webhook"
	OriginPoll    Origin = "poll"
)

// ExternalEvent is one provider event, normalized for reconciliation. It is never persisted.
//
// ID is the idempotency key: the provider's invitee URI. PreviousID is set on reschedules
// and carries the key of the booking being replaced. NextID is set on a cancel that is part of
// a reschedule and carries the key of the replacement booking.
type ExternalEvent struct {
	ID           string    `json:"id" validate:"required,notblank"`
	PreviousID   string    `json:"previous_id,omitempty"`
	NextID       string    `json:"next_id,omitempty"`
	Kind         EventKind `json:"kind"`
	StartTime    time.Time `json:"start_time" validate:"required"`
	EndTime      time.Time `json:"end_time" validate:"required,gtefield=StartTime"`
	InviteeEmail string    `json:"invitee_email" validate:"required,email"`
	InviteeName  string    `json:"invitee_name,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Location     string    `json:"location,omitempty"`
	MeetingLink  string    `json:"meeting_link,omitempty" validate:"omitempty,url"`
	EventType    string    `json:"event_type,omitempty"`
	Rescheduled  bool      `json:"rescheduled,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	Origin       Origin    `json:"origin,omitempty"`
}

// fields validated per kind; cancellations and no-shows only need the key.
var kindFields = map[EventKind][]string{
	KindCreated:     {"ID", "StartTime", "EndTime", "InviteeEmail", "MeetingLink"},
	KindCanceled:    {"ID"},
	KindRescheduled: {"ID", "StartTime", "EndTime", "MeetingLink"},
	KindNoShow:      {"ID"},
}

// DurationMinutes returns the event length in whole minutes, rounded to the nearest minute.
func (ev ExternalEvent) DurationMinutes() int {
	return int(math.Round(ev.EndTime.Sub(ev.StartTime).Minutes()))
}

// Validate checks the fields ev needs for kind. Errors are *core.ValidationError.
func (ev ExternalEvent) Validate(validate *validator.Validate, translator ut.Translator, kind EventKind) error {
	fields, ok := kindFields[kind]
	if !ok {
		return core.NewValidationError(errors.Errorf("unsupported event kind %q", kind))
	}
	if err := validate.StructPartial(ev, fields...); err != nil {
		var vErrs validator.ValidationErrors
		if !errors.As(err, &vErrs) {
			return errors.Wrap(err, "validating event")
		}
		flds := make([]core.FieldError, 0, len(vErrs))
		for _, vErr := range vErrs {
			flds = append(flds, core.FieldError{Field: vErr.Field(), Error: vErr.Translate(translator)})
		}
		return core.NewValidationError(nil, flds...)
	}
	return nil
}
