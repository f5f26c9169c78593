package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/calsync/apps/api/echo"
	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/services/calendly"
)

const webhookPath = "/calendar/webhook/calendly"

func webhookBody(t *testing.T, kind, uri, email string) []byte {
	return marchallObj(t, map[string]interface{}{
		"event":      kind,
		"created_at": "2024-01-05T10:00:00.000000Z",
		"payload": map[string]interface{}{
			"uri":        uri,
			"email":      email,
			"name":       "Jane Doe",
			"status":     "active",
			"first_name": nil,
			"last_name":  nil,
			"scheduled_event": map[string]interface{}{
				"uri":        "https://api.calendly.com/scheduled_events/E1",
				"name":       "Career Counseling",
				"status":     "active",
				"start_time": "2024-01-10T14:00:00.000000Z",
				"end_time":   "2024-01-10T14:30:00.000000Z",
				"location":   map[string]interface{}{"type": "zoom", "join_url": "https://zoom.us/j/1"},
			},
		},
	})
}

func signed(body []byte, key string) map[string]string {
	return map[string]string{calendly.SignatureHeader: calendar.SignHeader(body, key, time.Now())}
}

func Test_calendarApi_webhook(t *testing.T) {
	e := setup(t)

	created := webhookBody(t, "invitee.created", "I1", "Jane.Doe@Example.edu")
	canceled := webhookBody(t, "invitee.canceled", "I1", "jane.doe@example.edu")
	unknown := marchallObj(t, map[string]interface{}{"event": "routing_form_submission.created", "payload": map[string]interface{}{}})
	invalid := webhookBody(t, "invitee.created", "I2", "not-an-email")

	tests := []httpTest{
		{
			name: "missing signature", method: http.MethodPost, path: webhookPath, body: created,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid signature"}),
		},
		{
			name: "wrong key", method: http.MethodPost, path: webhookPath, body: created, header: signed(created, "nope"),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid signature"}),
		},
		{
			name: "created", method: http.MethodPost, path: webhookPath, body: created, header: signed(created, signingKey),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, calendar.Delivery{Status: calendar.DeliveryProcessed, Kind: calendar.KindCreated, Result: calendar.ResultCreated}),
		},
		{
			name: "created (replay)", method: http.MethodPost, path: webhookPath, body: created, header: signed(created, signingKey),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, calendar.Delivery{
				Status: calendar.DeliverySkipped, Kind: calendar.KindCreated, Result: calendar.ResultAlreadyExists, Reason: calendar.SkipAlreadyProcessed,
			}),
		},
		{
			name: "unknown event kind", method: http.MethodPost, path: webhookPath, body: unknown, header: signed(unknown, signingKey),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, calendar.Delivery{Status: calendar.DeliveryIgnored, Kind: "routing_form_submission.created"}),
		},
		{
			name: "invalid event", method: http.MethodPost, path: webhookPath, body: invalid, header: signed(invalid, signingKey),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, calendar.Delivery{
				Status: calendar.DeliveryRejected, Kind: calendar.KindCreated,
				Reason: "invalid event: invitee_email: invitee_email must be a valid email address",
			}),
		},
		{
			name: "canceled", method: http.MethodPost, path: webhookPath, body: canceled, header: signed(canceled, signingKey),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, calendar.Delivery{Status: calendar.DeliveryProcessed, Kind: calendar.KindCanceled, Result: calendar.ResultUpdated}),
		},
		{
			name: "unknown provider", method: http.MethodPost, path: "/calendar/webhook/zoom", body: created,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: calendar.ErrUnknownProvider.Error()}),
		},
	}
	runHTTPTests(t, e, tests)

	all := e.consultations.All()
	require.Len(t, all, 1)
	assert.Equal(t, consultation.StatusCancelled, all[0].Status)
	assert.Equal(t, "https://zoom.us/j/1", all[0].MeetingLink.String)
	assert.Equal(t, 1, e.students.Count())

	var security int
	for _, ev := range e.audit.Events() {
		if ev.Outcome == calendar.OutcomeSecurity {
			security++
		}
	}
	assert.Equal(t, 2, security)

	req, rec := newRequest(http.MethodGet, "/metrics")
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, line := range []string{
		`calsync_webhook_deliveries_total{provider="calendly",status="processed"} 2`,
		`calsync_webhook_deliveries_total{provider="calendly",status="rejected"} 1`,
		`calsync_webhook_deliveries_total{provider="calendly",status="unauthorized"} 2`,
		`calsync_webhook_deliveries_total{provider="zoom",status="unknown_provider"} 1`,
	} {
		assert.Contains(t, rec.Body.String(), line)
	}
}

func Test_calendarApi_webhookMissingKey(t *testing.T) {
	e := setup(t)
	body := webhookBody(t, "invitee.created", "I1", "jane@example.edu")

	// the stored key takes precedence over the configured one
	require.NoError(t, e.settings.SaveSigningKey(context.Background(), calendly.ProviderName, "rotated"))

	runHTTPTests(t, e, []httpTest{
		{
			name: "configured key no longer accepted", method: http.MethodPost, path: webhookPath, body: body, header: signed(body, signingKey),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "stored key", method: http.MethodPost, path: webhookPath, body: body, header: signed(body, "rotated"),
			wantCode: http.StatusOK,
		},
	})
}

func Test_calendarApi_sync(t *testing.T) {
	e := setup(t)
	start := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	e.provider.AddEvent("E1", "active", start, 30, "Advising", "jane@example.edu")
	e.provider.AddEvent("E2", "active", start.Add(time.Hour), 45, "Advising", "john@example.edu", "bad-email")

	from := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)
	window := marchallObj(t, SyncRequest{From: &from, To: &to})
	reversed := marchallObj(t, SyncRequest{From: &to, To: &from})
	partial := marchallObj(t, map[string]string{"from": from.Format(time.RFC3339)})

	studentClaims := NewOperatorClaims(conf, "st-1", "jane@example.edu")
	studentClaims.IsAdmin = false

	runHTTPTests(t, e, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/calendar/sync", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", method: http.MethodPost, path: "/v1/calendar/sync", token: getToken(t, studentClaims),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "reversed window", method: http.MethodPost, path: "/v1/calendar/sync", token: adminToken(t), body: reversed,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "sync window end must be after its start"}),
		},
		{
			name: "half window", method: http.MethodPost, path: "/v1/calendar/sync", token: adminToken(t), body: partial,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"to": "this field is required"}),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/calendar/sync", adminToken(t), window)
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)

	var res SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SyncedCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, "synced 2 consultation(s), cancelled 0, 1 error(s)", res.Message)
	assert.Len(t, e.consultations.All(), 2)

	// metrics are exposed
	req, rec = newRequest(http.MethodGet, "/metrics")
	e.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `calsync_sync_runs_total{result="partial"} 1`)
	assert.Contains(t, rec.Body.String(), `calsync_sync_items_total{kind="synced"} 2`)
	assert.Contains(t, rec.Body.String(), `calsync_sync_items_total{kind="error"} 1`)
}

func Test_calendarApi_syncProviderDown(t *testing.T) {
	e := setup(t)
	e.provider.UserErr = assert.AnError

	req, rec := newAuthRequest(http.MethodPost, "/v1/calendar/sync", adminToken(t))
	e.serve(req, rec)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var res SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "sync failed: calendar provider unavailable", res.Message)
}

func Test_calendarApi_syncInProgress(t *testing.T) {
	e := setup(t)
	e.provider.Block = make(chan struct{})
	e.provider.Entered = make(chan struct{}, 1)

	done := make(chan int)
	go func() {
		req, rec := newAuthRequest(http.MethodPost, "/v1/calendar/sync", adminToken(t))
		e.serve(req, rec)
		done <- rec.Code
	}()
	<-e.provider.Entered

	req, rec := newAuthRequest(http.MethodPost, "/v1/calendar/sync", adminToken(t))
	e.serve(req, rec)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(e.provider.Block)
	assert.Equal(t, http.StatusOK, <-done)
}

func Test_calendarApi_subscriptions(t *testing.T) {
	e := setup(t)
	callback := "https://crm.school.edu/calendar/webhook/calendly"

	runHTTPTests(t, e, []httpTest{
		{
			name: "auth required", method: http.MethodPost, path: "/v1/calendar/webhook-subscriptions",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "callback required", method: http.MethodPost, path: "/v1/calendar/webhook-subscriptions", token: adminToken(t),
			body: marchallObj(t, SubscribeRequest{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"callback_url": "this field is required"}),
		},
		{
			name: "callback must be a url", method: http.MethodPost, path: "/v1/calendar/webhook-subscriptions", token: adminToken(t),
			body: marchallObj(t, SubscribeRequest{CallbackURL: "crm"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"callback_url": "callback_url must be a valid URL"}),
		},
		{
			name: "subscribe", method: http.MethodPost, path: "/v1/calendar/webhook-subscriptions", token: adminToken(t),
			body: marchallObj(t, SubscribeRequest{CallbackURL: callback}), wantCode: http.StatusCreated,
		},
		{
			name: "subscribe again", method: http.MethodPost, path: "/v1/calendar/webhook-subscriptions", token: adminToken(t),
			body: marchallObj(t, SubscribeRequest{CallbackURL: callback}), wantCode: http.StatusCreated,
		},
	})

	req, rec := newAuthRequest(http.MethodGet, "/v1/calendar/webhook-subscriptions", adminToken(t))
	e.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []calendar.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, callback, subs[0].CallbackURL)

	key, err := e.settings.SigningKey(context.Background(), e.provider.Name())
	require.NoError(t, err)
	assert.Len(t, key, 64)
}

func Test_health(t *testing.T) {
	e := setup(t)
	runHTTPTests(t, e, []httpTest{
		{name: "health", path: "/health", wantCode: http.StatusOK, wantData: []byte(`{"status":"ok"}`)},
	})

	req, rec := newRequest(http.MethodGet, "/")
	e.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to CalSync API!", rec.Body.String())
}

func TestGenerateToken(t *testing.T) {
	token := adminToken(t)
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "op-1", claims.Subject)
}
