package inmemdb

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/core/student"
)

var (
	NowFunc = time.Now // mockable
	NewID   = func() string { return uuid.New().String() }
)

type (
	// DB holds in-memory tables with the same uniqueness rules as the Postgres schema.
	DB struct {
		student      *studentTable
		consultation *consultationTable
		audit        *auditTable
		settings     *settingsTable
	}

	studentTable struct {
		sync.RWMutex
		table   map[string]*student.Student
		byEmail map[string]string // lower(email) -> id
	}

	consultationTable struct {
		sync.RWMutex
		table map[string]*consultation.Consultation
		keys  map[string]string // external event id (current or alias) -> id
	}

	auditTable struct {
		sync.RWMutex
		rows []calendar.AuditEvent
	}

	settingsTable struct {
		sync.RWMutex
		signingKeys map[string]string
	}
)

func Open() (*DB, error) {
	db := &DB{
		student:      &studentTable{table: make(map[string]*student.Student), byEmail: make(map[string]string)},
		consultation: &consultationTable{table: make(map[string]*consultation.Consultation), keys: make(map[string]string)},
		audit:        &auditTable{},
		settings:     &settingsTable{signingKeys: make(map[string]string)},
	}
	return db, nil
}
