package calendar

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSyncInProgress is returned when a poll sync is requested while another one is running.
var ErrSyncInProgress = errors.New("calendar sync already in progress")

// AuthenticityError is a bad or missing webhook signature. It never mutates state.
type AuthenticityError struct {
	Reason string
}

func (err *AuthenticityError) Error() string {
	return "webhook authenticity: " + err.Reason
}

// ConfigurationError is a missing secret or credential.
type ConfigurationError struct {
	Setting string
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("calendar misconfigured: %s is not set", err.Setting)
}

// PersistenceError is a store failure during reconciliation.
type PersistenceError struct {
	Op  string
	Err error
}

func (err *PersistenceError) Error() string {
	return err.Op + ": " + err.Err.Error()
}

func (err *PersistenceError) Unwrap() error {
	return err.Err
}

func (err *PersistenceError) Cause() error {
	return err.Err
}

func persistenceErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func IsAuthenticity(err error) bool {
	var aErr *AuthenticityError
	return errors.As(err, &aErr)
}

func IsConfiguration(err error) bool {
	var cErr *ConfigurationError
	return errors.As(err, &cErr)
}

func IsPersistence(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}
