package calendar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
)

// Subscriptions registers the webhook callback with the provider and keeps the signing key.
type Subscriptions struct {
	provider Provider
	secrets  SecretStore
	auditor  Auditor
	logger   core.Logger
}

func NewSubscriptions(provider Provider, secrets SecretStore, auditor Auditor, logger core.Logger) *Subscriptions {
	return &Subscriptions{provider: provider, secrets: secrets, auditor: auditor, logger: logger}
}

// GenerateSigningKey returns 32 random bytes, hex encoded.
func GenerateSigningKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return hex.EncodeToString(buf), nil
}

// Subscribe creates or replaces the provider subscription pointing at callbackURL
// with a freshly generated signing key, and stores the key.
// If the key cannot be stored the new subscription is deleted again.
func (s *Subscriptions) Subscribe(ctx context.Context, callbackURL string) (Subscription, error) {
	if callbackURL == "" {
		return Subscription{}, core.NewValidationError(nil, core.FieldError{Field: "callback_url", Error: "this field is required"})
	}
	if u, err := url.Parse(callbackURL); err != nil || !u.IsAbs() || u.Host == "" {
		return Subscription{}, core.NewValidationError(nil, core.FieldError{Field: "callback_url", Error: "must be an absolute URL"})
	}

	usr, err := s.provider.CurrentUser(ctx)
	if err != nil {
		return Subscription{}, errors.Wrap(err, "resolving provider user")
	}

	existing, err := s.provider.ListWebhookSubscriptions(ctx, usr)
	if err != nil {
		return Subscription{}, errors.Wrap(err, "listing webhook subscriptions")
	}
	for _, sub := range existing {
		if sub.CallbackURL != callbackURL {
			continue
		}
		if err := s.provider.DeleteWebhookSubscription(ctx, sub.URI); err != nil {
			return Subscription{}, errors.Wrap(err, "deleting previous webhook subscription")
		}
		s.logger.Info("calendar: replaced webhook subscription", map[string]interface{}{"uri": sub.URI})
	}

	key, err := GenerateSigningKey()
	if err != nil {
		return Subscription{}, err
	}
	sub, err := s.provider.CreateWebhookSubscription(ctx, usr, SubscriptionRequest{
		CallbackURL: callbackURL,
		Events:      SubscribedKinds,
		SigningKey:  key,
	})
	if err != nil {
		return Subscription{}, errors.Wrap(err, "creating webhook subscription")
	}
	if err := s.secrets.SaveSigningKey(ctx, s.provider.Name(), key); err != nil {
		// nobody could verify its deliveries
		if dErr := s.provider.DeleteWebhookSubscription(ctx, sub.URI); dErr != nil {
			s.logger.Error("calendar: removing unusable webhook subscription", errors.Wrap(dErr, "deleting webhook subscription"),
				map[string]interface{}{"uri": sub.URI})
		}
		return Subscription{}, errors.Wrap(err, "saving signing key")
	}

	if s.auditor != nil {
		aErr := s.auditor.Record(ctx, AuditEvent{
			Action:     ActionSubscribe,
			Outcome:    OutcomeSuccess,
			Provider:   s.provider.Name(),
			Reason:     callbackURL,
			OccurredAt: NowFunc().UTC(),
		})
		if aErr != nil {
			s.logger.Error("calendar: recording audit event", errors.Wrap(aErr, "recording audit event"))
		}
	}
	return sub, nil
}

func (s *Subscriptions) List(ctx context.Context) ([]Subscription, error) {
	usr, err := s.provider.CurrentUser(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving provider user")
	}
	subs, err := s.provider.ListWebhookSubscriptions(ctx, usr)
	return subs, errors.Wrap(err, "listing webhook subscriptions")
}
