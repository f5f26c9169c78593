package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/consultation"
)

const consultationColumns = `c.id, c.student_id, c.type, c.scheduled_at, c.duration, c.status, c.external_event_id,
	c.location, c.meeting_link, c.notes, c.follow_up_required, c.created_at, c.updated_at`

// consultationRepository keeps consultations and their idempotency keys.
// consultation_event_keys holds every external id a row ever had, so lookups by a
// pre-reschedule id still resolve and a key can never be bound to two rows.
type consultationRepository struct {
	db core.DB
}

var _ consultation.Repository = (*consultationRepository)(nil) // interface compliance check

func NewConsultationRepository(db core.DB) *consultationRepository {
	return &consultationRepository{db: db}
}

func (repo consultationRepository) get(ctx context.Context, exec core.DBExecutor, where string, arg interface{}) (consultation.Consultation, error) {
	var c consultation.Consultation
	err := exec.GetContext(ctx, &c, `SELECT `+consultationColumns+` FROM consultations c `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return consultation.Consultation{}, consultation.ErrNotFound
		}
		return consultation.Consultation{}, errors.Wrap(err, "selecting consultation")
	}
	return c, nil
}

func (repo consultationRepository) FindByExternalID(ctx context.Context, externalID string) (consultation.Consultation, error) {
	return repo.get(ctx, repo.db,
		`JOIN consultation_event_keys k ON k.consultation_id = c.id WHERE k.external_event_id = $1`, externalID)
}

func (repo consultationRepository) Create(ctx context.Context, nc consultation.NewConsultation) (consultation.Consultation, error) {
	c := nc.Build(NewID(), NowFunc())
	err := inTx(ctx, repo.db, func(tx core.DBExecutor) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO consultations (id, student_id, type, scheduled_at, duration, status, external_event_id,
				location, meeting_link, notes, follow_up_required, created_at, updated_at)
			VALUES (:id, :student_id, :type, :scheduled_at, :duration, :status, :external_event_id,
				:location, :meeting_link, :notes, :follow_up_required, :created_at, :updated_at)`, c)
		if err != nil {
			return err
		}
		return insertKey(ctx, tx, nc.ExternalEventID, c.ID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return consultation.Consultation{}, consultation.ErrDuplicateExternalID
		}
		return consultation.Consultation{}, errors.Wrap(err, "inserting consultation")
	}
	return c, nil
}

// Update locks the row, validates the patch against its current status and writes it.
func (repo consultationRepository) Update(ctx context.Context, id string, patch consultation.Patch) (consultation.Consultation, error) {
	var c consultation.Consultation
	err := inTx(ctx, repo.db, func(tx core.DBExecutor) error {
		var err error
		if c, err = repo.get(ctx, tx, `WHERE c.id = $1 FOR UPDATE`, id); err != nil {
			return err
		}
		if err = patch.Apply(&c, NowFunc()); err != nil {
			return err
		}
		if patch.ExternalEventID != nil {
			var owner string
			err = tx.GetContext(ctx, &owner,
				`SELECT consultation_id FROM consultation_event_keys WHERE external_event_id = $1`, *patch.ExternalEventID)
			switch {
			case err == nil && owner != id:
				return consultation.ErrDuplicateExternalID
			case errors.Is(err, sql.ErrNoRows):
				if err = insertKey(ctx, tx, *patch.ExternalEventID, id); err != nil {
					return err
				}
			case err != nil:
				return errors.Wrap(err, "selecting event key")
			}
		}
		_, err = tx.NamedExecContext(ctx, `
			UPDATE consultations SET scheduled_at = :scheduled_at, duration = :duration, status = :status,
				external_event_id = :external_event_id, location = :location, meeting_link = :meeting_link,
				notes = :notes, updated_at = :updated_at
			WHERE id = :id`, c)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, consultation.ErrNotFound), errors.Is(err, consultation.ErrInvalidTransition),
			errors.Is(err, consultation.ErrInvalidStatus), errors.Is(err, consultation.ErrDuplicateExternalID):
			return consultation.Consultation{}, errors.Cause(err)
		case isUniqueViolation(err):
			return consultation.Consultation{}, consultation.ErrDuplicateExternalID
		}
		return consultation.Consultation{}, errors.Wrap(err, "updating consultation")
	}
	return c, nil
}

func insertKey(ctx context.Context, exec core.DBExecutor, externalID, consultationID string) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO consultation_event_keys (external_event_id, consultation_id, created_at) VALUES ($1, $2, $3)`,
		externalID, consultationID, NowFunc().UTC())
	return err
}
