package inmemdb

import (
	"context"

	"github.com/trezcool/calsync/core/calendar"
)

type auditRepository struct {
	db *auditTable
}

var _ calendar.Auditor = (*auditRepository)(nil)

func NewAuditRepository(db *DB) *auditRepository {
	return &auditRepository{db: db.audit}
}

func (repo *auditRepository) Record(_ context.Context, ev calendar.AuditEvent) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = NowFunc().UTC()
	}
	repo.db.rows = append(repo.db.rows, ev)
	return nil
}

func (repo *auditRepository) Events() []calendar.AuditEvent {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return append([]calendar.AuditEvent(nil), repo.db.rows...)
}

type settingsRepository struct {
	db *settingsTable
}

var _ calendar.SecretStore = (*settingsRepository)(nil)

func NewSettingsRepository(db *DB) *settingsRepository {
	return &settingsRepository{db: db.settings}
}

func (repo *settingsRepository) SigningKey(_ context.Context, provider string) (string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.db.signingKeys[provider], nil
}

func (repo *settingsRepository) SaveSigningKey(_ context.Context, provider, key string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.signingKeys[provider] = key
	return nil
}
