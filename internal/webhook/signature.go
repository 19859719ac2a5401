// Package webhook verifies the authenticity and freshness of inbound push
// events from the voice agent provider.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying "t=<unix>,v0=<hex>".
const SignatureHeader = "ElevenLabs-Signature"

// MaxSignatureAge bounds how old a signed timestamp may be. Future
// timestamps are not bounded.
const MaxSignatureAge = 30 * time.Minute

var (
	// ErrUnauthenticated covers a missing or malformed signature, a mismatch,
	// or a missing secret when verification is mandatory.
	ErrUnauthenticated = errors.New("webhook: signature invalid")
	// ErrExpired is returned when the signed timestamp is too old.
	ErrExpired = errors.New("webhook: signature expired")
)

// Verifier checks signatures against a shared secret.
type Verifier struct {
	secret   []byte
	required bool
}

// NewVerifier creates a verifier. With an empty secret, verification fails
// when required and is skipped otherwise.
func NewVerifier(secret string, required bool) *Verifier {
	return &Verifier{secret: []byte(secret), required: required}
}

// Enabled reports whether requests are actually checked.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0 || v.required
}

// Verify validates the signature header for the exact raw body, relative to
// the receipt time now.
func (v *Verifier) Verify(header string, body []byte, now time.Time) error {
	if len(v.secret) == 0 {
		if v.required {
			return ErrUnauthenticated
		}
		return nil
	}

	timestamp, signature, ok := parseHeader(header)
	if !ok {
		return ErrUnauthenticated
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrUnauthenticated
	}
	if time.Unix(ts, 0).Before(now.Add(-MaxSignatureAge)) {
		return ErrExpired
	}

	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrUnauthenticated
	}
	return nil
}

// Sign returns the "v0=<hex>" signature for a timestamp and raw body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue builds a complete header value; used by tests and
// local tooling that replays events.
func SignatureHeaderValue(secret string, t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + "," + Sign([]byte(secret), ts, body)
}

// parseHeader extracts t and the full "v0=..." element. Field order is not
// significant.
func parseHeader(header string) (timestamp, signature string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v0="):
			signature = part
		}
	}
	if timestamp == "" || signature == "" || signature == "v0=" {
		return "", "", false
	}
	return timestamp, signature, true
}
