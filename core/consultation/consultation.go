package consultation

import (
	"context"
	"errors"
)

var (
	// errors
	ErrNotFound            = errors.New("consultation not found")
	ErrDuplicateExternalID = errors.New("a consultation already exists for this external event")
	ErrInvalidTransition   = errors.New("invalid consultation status transition")
	ErrInvalidStatus       = errors.New("invalid consultation status")
)

// Repository is the keyed Consultation persistence.
// External event keys are unique across current ids and the aliases left behind by reschedules.
type Repository interface {
	// FindByExternalID resolves current keys and aliases. Returns ErrNotFound.
	FindByExternalID(ctx context.Context, externalID string) (Consultation, error)
	// Create returns ErrDuplicateExternalID when the key is already bound.
	Create(ctx context.Context, nc NewConsultation) (Consultation, error)
	// Update applies the patch atomically. Returns ErrNotFound, ErrInvalidTransition or ErrDuplicateExternalID.
	Update(ctx context.Context, id string, patch Patch) (Consultation, error)
}
