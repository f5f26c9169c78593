package student

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/calsync/core"
)

// Student is looked up or auto-created from calendar invitees.
// Academic fields stay null until an operator completes the record.
type Student struct {
	ID             string      `json:"id" db:"id"`
	Email          string      `json:"email" db:"email"`
	FirstName      string      `json:"first_name" db:"first_name"`
	LastName       string      `json:"last_name" db:"last_name"`
	Phone          null.String `json:"phone" db:"phone"`
	Program        null.String `json:"program" db:"program"`
	YearLevel      null.Int    `json:"year_level" db:"year_level"`
	GraduationYear null.Int    `json:"graduation_year" db:"graduation_year"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// NewStudent contains the minimal information used to auto-create a Student.
type NewStudent struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// NewStudentFromInvitee builds a NewStudent from invitee data.
// Explicit first/last names win over the display name; the display name is split on its first space.
func NewStudentFromInvitee(email, displayName, firstName, lastName string) NewStudent {
	ns := NewStudent{
		Email:     core.CleanString(email, true /* lower */),
		FirstName: core.CleanString(firstName),
		LastName:  core.CleanString(lastName),
	}
	if ns.FirstName == "" && ns.LastName == "" {
		ns.FirstName, ns.LastName = SplitName(displayName)
	}
	if ns.FirstName == "" && ns.LastName == "" {
		if at := strings.Index(ns.Email, "@"); at > 0 {
			ns.FirstName = ns.Email[:at]
		}
	}
	return ns
}

// SplitName splits a display name into first and last names: "Jane Doe" -> ("Jane", "Doe"),
// "Mary Ann Smith" -> ("Mary", "Ann Smith"), "Cher" -> ("Cher", "").
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
