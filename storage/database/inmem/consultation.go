package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/calsync/core/consultation"
)

type consultationRepository struct {
	db *consultationTable
}

var _ consultation.Repository = (*consultationRepository)(nil)

func NewConsultationRepository(db *DB) *consultationRepository {
	return &consultationRepository{db: db.consultation}
}

func (repo *consultationRepository) FindByExternalID(_ context.Context, externalID string) (consultation.Consultation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if id, ok := repo.db.keys[externalID]; ok {
		return *repo.db.table[id], nil
	}
	return consultation.Consultation{}, consultation.ErrNotFound
}

func (repo *consultationRepository) Create(_ context.Context, nc consultation.NewConsultation) (consultation.Consultation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.keys[nc.ExternalEventID]; ok {
		return consultation.Consultation{}, consultation.ErrDuplicateExternalID
	}
	c := nc.Build(NewID(), NowFunc())
	repo.db.table[c.ID] = &c
	repo.db.keys[nc.ExternalEventID] = c.ID
	return c, nil
}

func (repo *consultationRepository) Update(_ context.Context, id string, patch consultation.Patch) (consultation.Consultation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[id]
	if !ok {
		return consultation.Consultation{}, consultation.ErrNotFound
	}
	if patch.ExternalEventID != nil {
		if owner, ok := repo.db.keys[*patch.ExternalEventID]; ok && owner != id {
			return consultation.Consultation{}, consultation.ErrDuplicateExternalID
		}
	}

	c := *orig
	if err := patch.Apply(&c, NowFunc()); err != nil {
		return consultation.Consultation{}, err
	}
	if patch.ExternalEventID != nil {
		repo.db.keys[*patch.ExternalEventID] = id // previous keys stay as aliases
	}
	repo.db.table[id] = &c
	return c, nil
}

// SetStatus mimics a staff action outside calendar reconciliation. Used by tests.
func (repo *consultationRepository) SetStatus(id string, status consultation.Status) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if c, ok := repo.db.table[id]; ok {
		c.Status = status
	}
}

// All returns every consultation ordered by creation time. Used by tests.
func (repo *consultationRepository) All() []consultation.Consultation {
	repo.db.RLock()
	defer repo.db.RUnlock()

	all := make([]consultation.Consultation, 0, len(repo.db.table))
	for _, c := range repo.db.table {
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}
