package calendar_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/services/calendly"
	inmemdb "github.com/trezcool/calsync/storage/database/inmem"
)

const secret = "whsec"

func webhookBody(t *testing.T, kind string, payload map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"event": kind, "created_at": "2024-01-05T10:00:00Z", "payload": payload})
	require.NoError(t, err)
	return body
}

func invitee(uri string, extra ...map[string]interface{}) map[string]interface{} {
	p := map[string]interface{}{
		"uri":   uri,
		"email": "jane@example.edu",
		"name":  "Jane Doe",
		"scheduled_event": map[string]interface{}{
			"uri":        "https://api.calendly.com/scheduled_events/E1",
			"name":       "Career Counseling",
			"start_time": "2024-01-10T14:00:00Z",
			"end_time":   "2024-01-10T14:30:00Z",
		},
	}
	for _, e := range extra {
		for k, v := range e {
			p[k] = v
		}
	}
	return p
}

func newReceiver(t *testing.T, f *fixture, signingKey string) *calendar.Receiver {
	t.Helper()
	dec, err := calendly.NewWebhookDecoder(0)
	require.NoError(t, err)
	rc := calendar.NewReceiver(f.reconciler, inmemdb.NewSettingsRepository(f.db), f.audit, f.logger)
	rc.Register(dec, signingKey)
	return rc
}

func TestReceiver_Receive(t *testing.T) {
	f := newFixture(t)
	rc := newReceiver(t, f, secret)
	ctx := context.Background()
	sign := func(body []byte) string { return calendar.SignHeader(body, secret, time.Now()) }

	created := webhookBody(t, "invitee.created", invitee("I1"))
	d, err := rc.Receive(ctx, "calendly", sign(created), created)
	require.NoError(t, err)
	assert.Equal(t, calendar.Delivery{Status: calendar.DeliveryProcessed, Kind: calendar.KindCreated, Result: calendar.ResultCreated}, d)

	d, err = rc.Receive(ctx, "calendly", sign(created), created)
	require.NoError(t, err)
	assert.Equal(t, calendar.DeliverySkipped, d.Status)
	assert.Equal(t, calendar.ResultAlreadyExists, d.Result)

	unknown := webhookBody(t, "routing_form_submission.created", map[string]interface{}{})
	d, err = rc.Receive(ctx, "calendly", sign(unknown), unknown)
	require.NoError(t, err)
	assert.Equal(t, calendar.DeliveryIgnored, d.Status)

	canceled := webhookBody(t, "invitee.canceled", invitee("I1", map[string]interface{}{"cancellation": map[string]string{"reason": "sick"}}))
	d, err = rc.Receive(ctx, "calendly", sign(canceled), canceled)
	require.NoError(t, err)
	assert.Equal(t, calendar.ResultUpdated, d.Result)
	assert.Len(t, f.consultations.All(), 1)
}

func TestReceiver_OutOfOrderReschedule(t *testing.T) {
	f := newFixture(t)
	rc := newReceiver(t, f, secret)
	ctx := context.Background()
	deliver := func(body []byte) calendar.Delivery {
		d, err := rc.Receive(ctx, "calendly", calendar.SignHeader(body, secret, time.Now()), body)
		require.NoError(t, err)
		return d
	}

	moved := map[string]interface{}{"old_invitee": "I1", "scheduled_event": map[string]interface{}{
		"uri": "https://api.calendly.com/scheduled_events/E2", "name": "Career Counseling",
		"start_time": "2024-01-12T14:00:00Z", "end_time": "2024-01-12T14:30:00Z",
	}}
	assert.Equal(t, calendar.ResultCreated, deliver(webhookBody(t, "invitee.created", invitee("I2", moved))).Result)
	assert.Equal(t, calendar.ResultCreated, deliver(webhookBody(t, "invitee.created", invitee("I1"))).Result)

	d := deliver(webhookBody(t, "invitee.canceled", invitee("I1", map[string]interface{}{"rescheduled": true, "new_invitee": "I2"})))
	assert.Equal(t, calendar.DeliveryProcessed, d.Status)
	assert.Equal(t, calendar.ResultUpdated, d.Result)

	old, err := f.consultations.FindByExternalID(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCancelled, old.Status)
	replacement, err := f.consultations.FindByExternalID(ctx, "I2")
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusScheduled, replacement.Status)
}

func TestReceiver_Rejections(t *testing.T) {
	body := webhookBody(t, "invitee.created", invitee("I1"))
	valid := calendar.SignHeader(body, secret, time.Now())

	t.Run("tampered body", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, secret)
		tampered := webhookBody(t, "invitee.created", invitee("I1", map[string]interface{}{"email": "mallory@example.edu"}))

		_, err := rc.Receive(context.Background(), "calendly", valid, tampered)
		assert.True(t, calendar.IsAuthenticity(err))
		assert.Empty(t, f.consultations.All())
		assert.Equal(t, 0, f.students.Count())
		audit := lastAudit(t, f)
		assert.Equal(t, calendar.OutcomeSecurity, audit.Outcome)
		assert.Equal(t, "invalid signature", audit.Reason)
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, "other")
		_, err := rc.Receive(context.Background(), "calendly", valid, body)
		assert.True(t, calendar.IsAuthenticity(err))
		assert.Empty(t, f.consultations.All())
	})

	t.Run("missing secret", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, "")
		_, err := rc.Receive(context.Background(), "calendly", valid, body)
		assert.True(t, calendar.IsConfiguration(err))
	})

	t.Run("stored key wins over configured key", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, "stale")
		require.NoError(t, inmemdb.NewSettingsRepository(f.db).SaveSigningKey(context.Background(), "calendly", secret))
		_, err := rc.Receive(context.Background(), "calendly", valid, body)
		assert.NoError(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, secret)
		_, err := rc.Receive(context.Background(), "zoom", valid, body)
		assert.Equal(t, calendar.ErrUnknownProvider, err)
	})

	t.Run("undecodable body", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, secret)
		bad := []byte(`{"payload": {}}`)
		d, err := rc.Receive(context.Background(), "calendly", calendar.SignHeader(bad, secret, time.Now()), bad)
		require.NoError(t, err)
		assert.Equal(t, calendar.Delivery{Status: calendar.DeliveryRejected, Reason: "undecodable payload"}, d)
		audit := lastAudit(t, f)
		assert.Equal(t, calendar.OutcomeFailure, audit.Outcome)
		assert.Equal(t, "undecodable payload", audit.Reason)
	})

	t.Run("invalid event", func(t *testing.T) {
		f := newFixture(t)
		rc := newReceiver(t, f, secret)
		bad := webhookBody(t, "invitee.created", invitee("I1", map[string]interface{}{"email": "not-an-email"}))
		d, err := rc.Receive(context.Background(), "calendly", calendar.SignHeader(bad, secret, time.Now()), bad)
		require.NoError(t, err)
		assert.Equal(t, calendar.DeliveryRejected, d.Status)
		assert.Equal(t, calendar.KindCreated, d.Kind)
		assert.Contains(t, d.Reason, "invitee_email")
		assert.Empty(t, f.consultations.All())
		assert.Equal(t, calendar.OutcomeFailure, lastAudit(t, f).Outcome)
	})

	t.Run("signing key store down", func(t *testing.T) {
		f := newFixture(t)
		rc := calendar.NewReceiver(f.reconciler, failingSecrets{}, f.audit, f.logger)
		dec, err := calendly.NewWebhookDecoder(0)
		require.NoError(t, err)
		rc.Register(dec, secret)

		_, err = rc.Receive(context.Background(), "calendly", valid, body)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, f.consultations.All())
		audit := lastAudit(t, f)
		assert.Equal(t, calendar.OutcomeFailure, audit.Outcome)
		assert.Equal(t, calendar.ActionWebhook, audit.Action)
		assert.Equal(t, "signing key unavailable", audit.Reason)
	})
}

type failingSecrets struct{}

func (failingSecrets) SigningKey(context.Context, string) (string, error) { return "", assert.AnError }

func (failingSecrets) SaveSigningKey(context.Context, string, string) error { return assert.AnError }
