package student

import (
	"context"
	"errors"
)

var (
	// errors
	ErrNotFound    = errors.New("student not found")
	ErrEmailExists = errors.New("a student with this email already exists")
)

// Repository is the keyed Student persistence.
type Repository interface {
	// FindByEmail returns ErrNotFound when no student has `email` (case-insensitive).
	FindByEmail(ctx context.Context, email string) (Student, error)
	// Create returns ErrEmailExists when the email is already taken.
	Create(ctx context.Context, ns NewStudent) (Student, error)
}
