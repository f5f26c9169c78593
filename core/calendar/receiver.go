package calendar

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
)

var ErrUnknownProvider = errors.New("unknown calendar provider")

// Delivery statuses acknowledged to the provider.
const (
	DeliveryProcessed = "processed"
	DeliverySkipped   = "skipped"
	DeliveryIgnored   = "ignored"
	DeliveryRejected  = "rejected"
)

type Delivery struct {
	Status string     `json:"status"`
	Kind   EventKind  `json:"kind,omitempty"`
	Result ResultKind `json:"result,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Receiver authenticates inbound webhooks and dispatches them to the Reconciler.
type Receiver struct {
	decoders   map[string]WebhookDecoder
	reconciler *Reconciler
	secrets    SecretStore
	fallback   map[string]string // configured signing keys, used when the store has none
	auditor    Auditor
	logger     core.Logger
}

func NewReceiver(reconciler *Reconciler, secrets SecretStore, auditor Auditor, logger core.Logger) *Receiver {
	return &Receiver{
		decoders:   make(map[string]WebhookDecoder),
		reconciler: reconciler,
		secrets:    secrets,
		fallback:   make(map[string]string),
		auditor:    auditor,
		logger:     logger,
	}
}

// Register enables webhooks for dec's provider. signingKey may be empty.
func (rc *Receiver) Register(dec WebhookDecoder, signingKey string) {
	rc.decoders[dec.Name()] = dec
	if signingKey != "" {
		rc.fallback[dec.Name()] = signingKey
	}
}

func (rc *Receiver) Decoder(provider string) (WebhookDecoder, bool) {
	dec, ok := rc.decoders[provider]
	return dec, ok
}

// SigningKey returns the stored key for provider, falling back to the configured one.
func (rc *Receiver) SigningKey(ctx context.Context, provider string) (string, error) {
	if rc.secrets != nil {
		key, err := rc.secrets.SigningKey(ctx, provider)
		if err != nil {
			return "", errors.Wrap(err, "loading signing key")
		}
		if key != "" {
			return key, nil
		}
	}
	if key := rc.fallback[provider]; key != "" {
		return key, nil
	}
	return "", &ConfigurationError{Setting: provider + " webhook signing key"}
}

// Receive verifies and reconciles one webhook delivery.
//
// Errors: ErrUnknownProvider, *ConfigurationError, *AuthenticityError and *PersistenceError.
// Unknown event kinds are acknowledged without mutation. Undecodable or invalid events are
// acknowledged as rejected, with a failure audit: redelivering them cannot succeed.
func (rc *Receiver) Receive(ctx context.Context, provider, signature string, body []byte) (Delivery, error) {
	dec, ok := rc.decoders[provider]
	if !ok {
		return Delivery{}, ErrUnknownProvider
	}

	secret, err := rc.SigningKey(ctx, provider)
	if err != nil {
		rc.logger.Error("calendar: webhook rejected", err, map[string]interface{}{"provider": provider})
		rc.audit(ctx, AuditEvent{Provider: provider, Outcome: OutcomeFailure, Reason: "signing key unavailable", Error: err.Error()})
		return Delivery{}, err
	}
	if err := dec.VerifySignature(signature, body, secret); err != nil {
		if IsAuthenticity(err) {
			rc.logger.Warn("calendar: webhook rejected, "+err.Error(), map[string]interface{}{"provider": provider})
			rc.audit(ctx, AuditEvent{Provider: provider, Outcome: OutcomeSecurity, Reason: "invalid signature", Error: err.Error()})
		}
		return Delivery{}, err
	}

	hook, err := dec.DecodeWebhook(body)
	if err != nil {
		rc.logger.Warn("calendar: undecodable webhook", err, map[string]interface{}{"provider": provider})
		rc.audit(ctx, AuditEvent{Provider: provider, Outcome: OutcomeFailure, Reason: "undecodable payload", Error: err.Error()})
		return Delivery{Status: DeliveryRejected, Reason: "undecodable payload"}, nil
	}

	switch hook.Kind {
	case KindCreated, KindCanceled, KindRescheduled, KindNoShow:
	default:
		rc.logger.Info("calendar: ignored webhook event "+string(hook.Kind), map[string]interface{}{"provider": provider})
		return Delivery{Status: DeliveryIgnored, Kind: hook.Kind}, nil
	}

	hook.Event.Origin = OriginWebhook
	res, err := rc.reconciler.Handle(ctx, hook.Kind, hook.Event)
	if err != nil {
		var vErr *core.ValidationError
		if errors.As(err, &vErr) {
			// already audited by the reconciler
			return Delivery{Status: DeliveryRejected, Kind: hook.Kind, Reason: "invalid event: " + vErr.Error()}, nil
		}
		return Delivery{}, errors.Wrapf(err, "reconciling %s", hook.Kind)
	}

	d := Delivery{Status: DeliveryProcessed, Kind: hook.Kind, Result: res.Kind}
	if !res.Mutated() {
		d.Status = DeliverySkipped
		d.Reason = res.Skip
	}
	return d, nil
}

func (rc *Receiver) audit(ctx context.Context, ev AuditEvent) {
	if rc.auditor == nil {
		return
	}
	ev.Action = ActionWebhook
	ev.Origin = OriginWebhook
	ev.OccurredAt = NowFunc().UTC()
	if err := rc.auditor.Record(ctx, ev); err != nil {
		rc.logger.Error("calendar: recording audit event", errors.Wrap(err, "recording audit event"))
	}
}
