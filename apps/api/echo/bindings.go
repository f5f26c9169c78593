package echoapi

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type (
	// SyncRequest is the optional body of a manual sync; missing bounds default to the configured window.
	SyncRequest struct {
		From *time.Time `json:"from" validate:"required_with=To"`
		To   *time.Time `json:"to" validate:"required_with=From"`
	}

	SyncResponse struct {
		Success        bool      `json:"success"`
		From           time.Time `json:"from"`
		To             time.Time `json:"to"`
		SyncedCount    int       `json:"syncedCount"`
		CancelledCount int       `json:"cancelledCount"`
		ErrorCount     int       `json:"errorCount"`
		Errors         []string  `json:"errors"`
		Message        string    `json:"message"`
	}

	SubscribeRequest struct {
		CallbackURL string `json:"callback_url" validate:"required,url"`
	}
)

func (data SyncRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(data)
}

func (data SubscribeRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(data)
}
