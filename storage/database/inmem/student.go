package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/calsync/core/student"
)

type studentRepository struct {
	db *studentTable
}

var _ student.Repository = (*studentRepository)(nil)

func NewStudentRepository(db *DB) *studentRepository {
	return &studentRepository{db: db.student}
}

func (repo *studentRepository) FindByEmail(_ context.Context, email string) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if id, ok := repo.db.byEmail[strings.ToLower(email)]; ok {
		return *repo.db.table[id], nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) Create(_ context.Context, ns student.NewStudent) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	email := strings.ToLower(ns.Email)
	if _, ok := repo.db.byEmail[email]; ok {
		return student.Student{}, student.ErrEmailExists
	}
	now := NowFunc().UTC()
	stu := student.Student{
		ID:        NewID(),
		Email:     email,
		FirstName: ns.FirstName,
		LastName:  ns.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	repo.db.table[stu.ID] = &stu
	repo.db.byEmail[email] = stu.ID
	return stu, nil
}

// Count is used by tests.
func (repo *studentRepository) Count() int {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return len(repo.db.table)
}
