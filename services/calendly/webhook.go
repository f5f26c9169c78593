package calendly

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
)

const SignatureHeader = "Calendly-Webhook-Signature"

// envelopeSchema is the part of the webhook body the decoder relies on.
const envelopeSchema = `{
	"type": "object",
	"required": ["event", "payload"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"created_at": {"type": "string"},
		"payload": {"type": "object"}
	}
}`

const envelopeSchemaURL = "calendly-webhook-envelope.json"

type (
	webhookEnvelope struct {
		Event     string          `json:"event"`
		CreatedAt time.Time       `json:"created_at"`
		Payload   json.RawMessage `json:"payload"`
	}

	webhookInvitee struct {
		inviteeDTO
		ScheduledEvent eventDTO `json:"scheduled_event"`
	}

	// invitee_no_show.created
	webhookNoShow struct {
		URI     string `json:"uri"`
		Invitee string `json:"invitee"`
	}

	// WebhookDecoder decodes and authenticates Calendly webhook deliveries.
	WebhookDecoder struct {
		tolerance time.Duration
		schema    *jsonschema.Schema
	}
)

var _ calendar.WebhookDecoder = (*WebhookDecoder)(nil)

// NewWebhookDecoder returns a decoder accepting signatures up to tolerance old (0 disables the check).
func NewWebhookDecoder(tolerance time.Duration) (*WebhookDecoder, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, errors.Wrap(err, "parsing envelope schema")
	}
	c := jsonschema.NewCompiler()
	if err = c.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, errors.Wrap(err, "adding envelope schema")
	}
	schema, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, errors.Wrap(err, "compiling envelope schema")
	}
	return &WebhookDecoder{tolerance: tolerance, schema: schema}, nil
}

func (d *WebhookDecoder) Name() string { return ProviderName }

func (d *WebhookDecoder) SignatureHeader() string { return SignatureHeader }

func (d *WebhookDecoder) VerifySignature(header string, body []byte, secret string) error {
	return calendar.VerifyHeader(header, body, secret, d.tolerance)
}

// DecodeWebhook maps a delivery to an ExternalEvent. Unknown event kinds decode to a
// Webhook with only Kind set.
func (d *WebhookDecoder) DecodeWebhook(body []byte) (calendar.Webhook, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return calendar.Webhook{}, core.NewValidationError(errors.Wrap(err, "invalid JSON body"))
	}
	if err = d.schema.Validate(inst); err != nil {
		return calendar.Webhook{}, core.NewValidationError(errors.Wrap(err, "invalid webhook envelope"))
	}

	var env webhookEnvelope
	if err = json.Unmarshal(body, &env); err != nil {
		return calendar.Webhook{}, core.NewValidationError(errors.Wrap(err, "decoding webhook envelope"))
	}

	kind := calendar.EventKind(env.Event)
	hook := calendar.Webhook{Kind: kind}
	switch kind {
	case calendar.KindCreated, calendar.KindCanceled, calendar.KindRescheduled:
		var p webhookInvitee
		if err = json.Unmarshal(env.Payload, &p); err != nil {
			return calendar.Webhook{}, core.NewValidationError(errors.Wrap(err, "decoding invitee payload"))
		}
		hook.Event = inviteeEvent(kind, p)
	case calendar.KindNoShow:
		var p webhookNoShow
		if err = json.Unmarshal(env.Payload, &p); err != nil {
			return calendar.Webhook{}, core.NewValidationError(errors.Wrap(err, "decoding no-show payload"))
		}
		hook.Event = calendar.ExternalEvent{ID: p.Invitee, Kind: kind}
	}
	return hook, nil
}

func inviteeEvent(kind calendar.EventKind, p webhookInvitee) calendar.ExternalEvent {
	se := calendar.ScheduledEvent{
		URI:         p.ScheduledEvent.URI,
		Name:        p.ScheduledEvent.Name,
		Status:      p.ScheduledEvent.Status,
		StartTime:   p.ScheduledEvent.StartTime.UTC(),
		EndTime:     p.ScheduledEvent.EndTime.UTC(),
		Location:    p.ScheduledEvent.Location.place(),
		MeetingLink: p.ScheduledEvent.Location.meetingLink(),
	}
	return calendar.NewExternalEvent(se, toInvitee(p.inviteeDTO), kind, calendar.OriginWebhook)
}
