package consultation

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// Status of a Consultation.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusAttended  Status = "attended"
	StatusNoShow    Status = "no-show"
	StatusCancelled Status = "cancelled"
)

const DefaultType = "General"

var (
	Statuses = []Status{StatusScheduled, StatusAttended, StatusNoShow, StatusCancelled}

	// allowed status transitions; cancelled is terminal.
	transitions = map[Status][]Status{
		StatusScheduled: {StatusAttended, StatusNoShow, StatusCancelled},
		StatusAttended:  {StatusNoShow},
		StatusNoShow:    {StatusAttended},
	}
)

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether a consultation in status s may move to status to.
// Staying in the same status is always allowed.
func (s Status) CanTransitionTo(to Status) bool {
	if s == to {
		return true
	}
	for _, st := range transitions[s] {
		if st == to {
			return true
		}
	}
	return false
}

// Sticky statuses were set by staff after the meeting and must not be overwritten by calendar signals.
func (s Status) Sticky() bool {
	return s == StatusAttended || s == StatusNoShow
}

// Consultation is one scheduled meeting between staff and a Student.
type Consultation struct {
	ID               string      `json:"id" db:"id"`
	StudentID        string      `json:"student_id" db:"student_id"`
	Type             string      `json:"type" db:"type"`
	ScheduledAt      time.Time   `json:"scheduled_at" db:"scheduled_at"` // UTC
	Duration         int         `json:"duration" db:"duration"`         // minutes
	Status           Status      `json:"status" db:"status"`
	ExternalEventID  null.String `json:"external_event_id" db:"external_event_id"`
	Location         null.String `json:"location" db:"location"`
	MeetingLink      null.String `json:"meeting_link" db:"meeting_link"`
	Notes            string      `json:"notes" db:"notes"`
	FollowUpRequired bool        `json:"follow_up_required" db:"follow_up_required"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

// NewConsultation contains the information needed to create a Consultation.
type NewConsultation struct {
	StudentID       string `validate:"required"`
	Type            string
	ScheduledAt     time.Time `validate:"required"`
	Duration        int       `validate:"gte=0"`
	ExternalEventID string    `validate:"required"`
	Location        string
	MeetingLink     string
	Notes           string
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	ScheduledAt     *time.Time
	Duration        *int
	Status          *Status
	ExternalEventID *string // the previous key stays resolvable as an alias
	Location        *string
	MeetingLink     *string
	AppendNote      string // appended to Notes on its own line
}

// Empty reports whether applying p would change nothing.
func (p Patch) Empty() bool {
	return p.ScheduledAt == nil && p.Duration == nil && p.Status == nil && p.ExternalEventID == nil &&
		p.Location == nil && p.MeetingLink == nil && p.AppendNote == ""
}

// Apply validates and applies p to c in place. It does not touch the keys index.
func (p Patch) Apply(c *Consultation, now time.Time) error {
	if p.Status != nil {
		if !p.Status.Valid() {
			return ErrInvalidStatus
		}
		if !c.Status.CanTransitionTo(*p.Status) {
			return ErrInvalidTransition
		}
		c.Status = *p.Status
	}
	if p.ScheduledAt != nil {
		c.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.Duration != nil {
		c.Duration = *p.Duration
	}
	if p.ExternalEventID != nil {
		c.ExternalEventID = null.StringFrom(*p.ExternalEventID)
	}
	if p.Location != nil {
		c.Location = null.NewString(*p.Location, *p.Location != "")
	}
	if p.MeetingLink != nil {
		c.MeetingLink = null.NewString(*p.MeetingLink, *p.MeetingLink != "")
	}
	if p.AppendNote != "" {
		c.Notes = AppendNote(c.Notes, p.AppendNote)
	}
	c.UpdatedAt = now.UTC()
	return nil
}

// AppendNote adds note on a new line, leaving existing notes intact.
func AppendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

// Build returns the Consultation described by nc, in scheduled status.
func (nc NewConsultation) Build(id string, now time.Time) Consultation {
	typ := nc.Type
	if typ == "" {
		typ = DefaultType
	}
	now = now.UTC()
	return Consultation{
		ID:              id,
		StudentID:       nc.StudentID,
		Type:            typ,
		ScheduledAt:     nc.ScheduledAt.UTC(),
		Duration:        nc.Duration,
		Status:          StatusScheduled,
		ExternalEventID: null.StringFrom(nc.ExternalEventID),
		Location:        null.NewString(nc.Location, nc.Location != ""),
		MeetingLink:     null.NewString(nc.MeetingLink, nc.MeetingLink != ""),
		Notes:           nc.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
