package calendar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

var NowFunc = time.Now // mockable

// Verify reports whether signature is the hex HMAC-SHA256 of payload under secret.
// It returns false on any mismatch, decoding error or missing secret.
func Verify(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(provided, Sign(payload, secret))
}

// Sign returns the raw HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// VerifyHeader checks a timestamped signature header of the form "t=<unix>,v1=<hex>[,v1=<hex>]".
// The signed content is "<t>.<body>". A tolerance of 0 disables the replay window.
func VerifyHeader(header string, body []byte, secret string, tolerance time.Duration) error {
	if secret == "" {
		return &ConfigurationError{Setting: "webhook signing key"}
	}
	if header == "" {
		return &AuthenticityError{Reason: "missing signature"}
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return &AuthenticityError{Reason: "malformed signature header"}
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return &AuthenticityError{Reason: "malformed signature timestamp"}
	}
	if tolerance > 0 {
		age := NowFunc().Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return &AuthenticityError{Reason: "signature timestamp outside tolerance"}
		}
	}

	signed := make([]byte, 0, len(ts)+1+len(body))
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	for _, sig := range sigs {
		if Verify(signed, sig, secret) {
			return nil
		}
	}
	return &AuthenticityError{Reason: "invalid signature"}
}

// SignHeader builds a header accepted by VerifyHeader.
func SignHeader(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	signed := append([]byte(ts+"."), body...)
	return "t=" + ts + ",v1=" + hex.EncodeToString(Sign(signed, secret))
}
