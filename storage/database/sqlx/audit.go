package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
)

type auditRepository struct {
	exec core.DBExecutor
}

var _ calendar.Auditor = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(exec core.DBExecutor) *auditRepository {
	return &auditRepository{exec: exec}
}

func (repo auditRepository) Record(ctx context.Context, ev calendar.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = NowFunc().UTC()
	}
	_, err := repo.exec.NamedExecContext(ctx, `
		INSERT INTO audit_events (id, action, outcome, provider, origin, external_event_id, student_id,
			consultation_id, scheduled_at, reason, error, occurred_at)
		VALUES (:id, :action, :outcome, :provider, :origin, :external_event_id, :student_id,
			:consultation_id, :scheduled_at, :reason, :error, :occurred_at)`, ev)
	return errors.Wrap(err, "inserting audit event")
}

// Recent returns the latest audit events, newest first.
func (repo auditRepository) Recent(ctx context.Context, limit int) ([]calendar.AuditEvent, error) {
	events := make([]calendar.AuditEvent, 0, limit)
	err := repo.exec.SelectContext(ctx, &events, `
		SELECT id, action, outcome, provider, origin, external_event_id, student_id, consultation_id,
			scheduled_at, reason, error, occurred_at
		FROM audit_events ORDER BY occurred_at DESC LIMIT $1`, limit)
	return events, errors.Wrap(err, "selecting audit events")
}

type settingsRepository struct {
	exec core.DBExecutor
}

var _ calendar.SecretStore = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(exec core.DBExecutor) *settingsRepository {
	return &settingsRepository{exec: exec}
}

func (repo settingsRepository) SigningKey(ctx context.Context, provider string) (string, error) {
	var key string
	err := repo.exec.GetContext(ctx, &key, `SELECT signing_key FROM calendar_settings WHERE provider = $1`, provider)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrap(err, "selecting signing key")
	}
	return key, nil
}

func (repo settingsRepository) SaveSigningKey(ctx context.Context, provider, key string) error {
	_, err := repo.exec.ExecContext(ctx, `
		INSERT INTO calendar_settings (provider, signing_key, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (provider) DO UPDATE SET signing_key = EXCLUDED.signing_key, updated_at = EXCLUDED.updated_at`,
		provider, key, NowFunc().UTC().Truncate(time.Microsecond))
	return errors.Wrap(err, "saving signing key")
}
