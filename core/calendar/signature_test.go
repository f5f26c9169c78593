package calendar

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	payload := []byte(`{"event":"invitee.created"}`)
	valid := hex.EncodeToString(Sign(payload, "secret"))

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{name: "valid", payload: payload, signature: valid, secret: "secret", want: true},
		{name: "uppercase hex", payload: payload, signature: upper(valid), secret: "secret", want: true},
		{name: "tampered body", payload: []byte(`{"event":"invitee.canceled"}`), signature: valid, secret: "secret"},
		{name: "wrong secret", payload: payload, signature: valid, secret: "other"},
		{name: "truncated signature", payload: payload, signature: valid[:10], secret: "secret"},
		{name: "not hex", payload: payload, signature: "zz" + valid[2:], secret: "secret"},
		{name: "missing signature", payload: payload, secret: "secret"},
		{name: "missing secret", payload: payload, signature: valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.payload, tt.signature, tt.secret))
		})
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func TestVerifyHeader(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return now }
	defer func() { NowFunc = time.Now }()

	body := []byte(`{"event":"invitee.created","payload":{}}`)
	valid := SignHeader(body, "secret", now.Add(-time.Minute))
	wrongSig := SignHeader(body, "other", now)
	// a rotated key: one stale v1 and one valid v1 for the same timestamp
	rotated := "t=1704888000,v1=deadbeef,v1=" + hex.EncodeToString(Sign(append([]byte("1704888000."), body...), "secret"))

	tests := []struct {
		name      string
		header    string
		body      []byte
		secret    string
		tolerance time.Duration
		wantAuth  bool
		wantConf  bool
	}{
		{name: "valid", header: valid, body: body, secret: "secret", tolerance: 3 * time.Minute},
		{name: "replay window disabled", header: SignHeader(body, "secret", now.Add(-time.Hour)), body: body, secret: "secret"},
		{name: "multiple signatures", header: rotated, body: body, secret: "secret"},
		{name: "stale", header: SignHeader(body, "secret", now.Add(-time.Hour)), body: body, secret: "secret", tolerance: 3 * time.Minute, wantAuth: true},
		{name: "from the future", header: SignHeader(body, "secret", now.Add(time.Hour)), body: body, secret: "secret", tolerance: 3 * time.Minute, wantAuth: true},
		{name: "tampered", header: valid, body: []byte(`{"event":"invitee.canceled","payload":{}}`), secret: "secret", wantAuth: true},
		{name: "wrong signature", header: wrongSig, body: body, secret: "secret", wantAuth: true},
		{name: "missing header", body: body, secret: "secret", wantAuth: true},
		{name: "no timestamp", header: "v1=abcd", body: body, secret: "secret", wantAuth: true},
		{name: "bad timestamp", header: "t=abc,v1=abcd", body: body, secret: "secret", wantAuth: true},
		{name: "missing secret", header: valid, body: body, wantConf: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyHeader(tt.header, tt.body, tt.secret, tt.tolerance)
			switch {
			case tt.wantAuth:
				assert.True(t, IsAuthenticity(err), "want AuthenticityError, got %v", err)
			case tt.wantConf:
				assert.True(t, IsConfiguration(err), "want ConfigurationError, got %v", err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
