package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/student"
)

const studentColumns = `id, email, first_name, last_name, phone, program, year_level, graduation_year, created_at, updated_at`

type studentRepository struct {
	exec core.DBExecutor
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(exec core.DBExecutor) *studentRepository {
	return &studentRepository{exec: exec}
}

func (repo studentRepository) FindByEmail(ctx context.Context, email string) (student.Student, error) {
	var stu student.Student
	err := repo.exec.GetContext(ctx, &stu,
		`SELECT `+studentColumns+` FROM students WHERE LOWER(email) = LOWER($1)`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return student.Student{}, student.ErrNotFound
		}
		return student.Student{}, errors.Wrap(err, "selecting student by email")
	}
	return stu, nil
}

// Create inserts a student with only the identity fields set.
func (repo studentRepository) Create(ctx context.Context, ns student.NewStudent) (student.Student, error) {
	now := NowFunc().UTC()
	stu := student.Student{
		ID:        NewID(),
		Email:     strings.ToLower(ns.Email),
		FirstName: ns.FirstName,
		LastName:  ns.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := repo.exec.NamedExecContext(ctx, `
		INSERT INTO students (id, email, first_name, last_name, created_at, updated_at)
		VALUES (:id, :email, :first_name, :last_name, :created_at, :updated_at)`, stu)
	if err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, student.ErrEmailExists
		}
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return stu, nil
}
