package calendar

import (
	"context"
	"time"
)

type (
	// User is the identity the provider API token belongs to.
	User struct {
		URI          string
		Name         string
		Email        string
		Organization string
	}

	// ScheduledEvent is one booking slot on the provider side. It may have several invitees.
	ScheduledEvent struct {
		URI         string
		Name        string // event type label
		Status      string // active | canceled
		StartTime   time.Time
		EndTime     time.Time
		Location    string
		MeetingLink string
	}

	Invitee struct {
		URI          string
		Email        string
		Name         string
		FirstName    string
		LastName     string
		Status       string // active | canceled
		Rescheduled  bool
		OldInvitee   string
		NewInvitee   string
		CancelReason string
	}

	EventQuery struct {
		UserURI   string
		From      time.Time
		To        time.Time
		Status    string // empty means any
		PageToken string
	}

	EventPage struct {
		Events        []ScheduledEvent
		NextPageToken string
	}

	Subscription struct {
		URI         string    `json:"uri"`
		CallbackURL string    `json:"callback_url"`
		Events      []string  `json:"events"`
		State       string    `json:"state"`
		CreatedAt   time.Time `json:"created_at"`
	}

	SubscriptionRequest struct {
		CallbackURL string
		Events      []EventKind
		SigningKey  string
	}

	// Webhook is a decoded inbound notification.
	Webhook struct {
		Kind  EventKind
		Event ExternalEvent
	}

	// Provider is the scheduling provider API.
	Provider interface {
		Name() string
		CurrentUser(ctx context.Context) (User, error)
		ListScheduledEvents(ctx context.Context, q EventQuery) (EventPage, error)
		// ListEventInvitees returns every invitee of the event, following pagination.
		ListEventInvitees(ctx context.Context, eventURI string) ([]Invitee, error)
		ListWebhookSubscriptions(ctx context.Context, usr User) ([]Subscription, error)
		CreateWebhookSubscription(ctx context.Context, usr User, req SubscriptionRequest) (Subscription, error)
		DeleteWebhookSubscription(ctx context.Context, uri string) error
	}

	// WebhookDecoder authenticates and decodes the provider's inbound notifications.
	WebhookDecoder interface {
		Name() string
		SignatureHeader() string
		// VerifySignature returns an *AuthenticityError or *ConfigurationError.
		VerifySignature(header string, body []byte, secret string) error
		// DecodeWebhook returns a *core.ValidationError for undecodable bodies.
		DecodeWebhook(body []byte) (Webhook, error)
	}

	// SecretStore keeps webhook signing keys per provider. A missing key is "" with a nil error.
	SecretStore interface {
		SigningKey(ctx context.Context, provider string) (string, error)
		SaveSigningKey(ctx context.Context, provider, key string) error
	}
)

// NewExternalEvent combines a scheduled event and one of its invitees.
func NewExternalEvent(se ScheduledEvent, inv Invitee, kind EventKind, origin Origin) ExternalEvent {
	return ExternalEvent{
		ID:           inv.URI,
		PreviousID:   inv.OldInvitee,
		NextID:       inv.NewInvitee,
		Kind:         kind,
		StartTime:    se.StartTime,
		EndTime:      se.EndTime,
		InviteeEmail: inv.Email,
		InviteeName:  inv.Name,
		FirstName:    inv.FirstName,
		LastName:     inv.LastName,
		Location:     se.Location,
		MeetingLink:  se.MeetingLink,
		EventType:    se.Name,
		Rescheduled:  inv.Rescheduled,
		CancelReason: inv.CancelReason,
		Origin:       origin,
	}
}
