package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/calsync/apps/api/echo"
	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/core/student"
	"github.com/trezcool/calsync/services/calendly"
	metricsvc "github.com/trezcool/calsync/services/metrics"
	inmemdb "github.com/trezcool/calsync/storage/database/inmem"
	"github.com/trezcool/calsync/tests"
)

const signingKey = "whsec_test"

var (
	conf = &core.Config{
		AppName:   "CalSync",
		SecretKey: "test-secret",
		TestMode:  true,
		Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
	}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type env struct {
	app           Server
	provider      *testutil.FakeProvider
	consultations interface {
		consultation.Repository
		All() []consultation.Consultation
	}
	students interface {
		student.Repository
		Count() int
	}
	audit interface {
		calendar.Auditor
		Events() []calendar.AuditEvent
	}
	settings calendar.SecretStore
}

func setup(t *testing.T) *env {
	t.Helper()

	// set up DB & repos
	db, err := inmemdb.Open()
	require.NoError(t, err)
	e := &env{
		provider:      testutil.NewFakeProvider(),
		consultations: inmemdb.NewConsultationRepository(db),
		students:      inmemdb.NewStudentRepository(db),
		audit:         inmemdb.NewAuditRepository(db),
		settings:      inmemdb.NewSettingsRepository(db),
	}

	// set up services
	logger := testutil.NewLogger()
	metrics := metricsvc.New()
	auditor := metrics.Auditor(e.audit)
	translator := core.NewTranslator()
	reconciler := calendar.NewReconciler(calendly.ProviderName, e.consultations, e.students, auditor, logger)
	receiver := calendar.NewReceiver(reconciler, e.settings, auditor, logger)
	dec, err := calendly.NewWebhookDecoder(0)
	require.NoError(t, err)
	receiver.Register(dec, signingKey)

	// set up server
	e.app = NewServer(
		ServerDeps{
			Conf:           conf,
			Logger:         logger,
			Receiver:       receiver,
			Syncer:         calendar.NewSyncer(e.provider, reconciler, logger, calendar.SyncOptions{Observe: metrics.ObserveSync}),
			Subscriptions:  calendar.NewSubscriptions(e.provider, e.settings, auditor, logger),
			Metrics:        metrics,
			Validate:       core.NewValidator(translator),
			Translator:     translator,
			DisableReqLogs: true,
		},
	)
	return e
}

func (e *env) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	e.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	header   map[string]string
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, claims *Claims) string {
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func adminToken(t *testing.T) string {
	return getToken(t, NewOperatorClaims(conf, "op-1", "ops@school.edu"))
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, e *env, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			e.serve(req, rec)
			checkCodeAndData(t, tt, rec)
			assert.NotEmpty(t, rec.Body.String())
		})
	}
}
