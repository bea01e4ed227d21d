// Package webhooksig authenticates signed webhook deliveries: an HMAC-SHA256
// over the raw request body, base64 encoded, plus a freshness check on the
// event timestamp.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"
)

// Reason is the machine-readable outcome of a rejected verification.
type Reason string

const (
	ReasonMissingSignature  Reason = "missing-signature"
	ReasonSignatureMismatch Reason = "signature-mismatch"
	ReasonStaleEvent        Reason = "webhook-too-old"
	ReasonFutureEvent       Reason = "webhook-from-future"
	ReasonMissingSecret     Reason = "missing-secret"
)

// Rejection is returned when a delivery is not accepted.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string { return "webhooksig: rejected: " + string(r.Reason) }

const (
	DefaultFreshnessWindow = 60 * time.Second
	DefaultFutureTolerance = 60 * time.Second
)

// Verifier checks authenticity and freshness. It holds no per-request state.
type Verifier struct {
	Secret []byte

	// FreshnessWindow is the maximum event age.
	FreshnessWindow time.Duration
	// FutureTolerance is how far ahead of Now an event timestamp may be.
	FutureTolerance time.Duration

	Now func() time.Time
}

func NewVerifier(secret []byte, freshness, futureTolerance time.Duration) *Verifier {
	return &Verifier{
		Secret:          secret,
		FreshnessWindow: freshness,
		FutureTolerance: futureTolerance,
		Now:             time.Now,
	}
}

// Verify returns nil when the delivery is authentic and fresh, or a *Rejection.
// timestampMs is the event time declared by the sender; nil skips the freshness check.
func (v *Verifier) Verify(rawBody []byte, declaredSignature string, timestampMs *int64) error {
	declaredSignature = strings.TrimSpace(declaredSignature)
	if declaredSignature == "" {
		return &Rejection{Reason: ReasonMissingSignature}
	}
	if len(v.Secret) == 0 {
		return &Rejection{Reason: ReasonMissingSecret}
	}

	expected := Sign(rawBody, v.Secret)
	if !hmac.Equal([]byte(expected), []byte(declaredSignature)) {
		return &Rejection{Reason: ReasonSignatureMismatch}
	}

	if timestampMs == nil {
		return nil
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	window := v.FreshnessWindow
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	future := v.FutureTolerance
	if future <= 0 {
		future = DefaultFutureTolerance
	}

	age := now().Sub(time.UnixMilli(*timestampMs))
	if age > window {
		return &Rejection{Reason: ReasonStaleEvent}
	}
	if -age > future {
		return &Rejection{Reason: ReasonFutureEvent}
	}
	return nil
}

// Sign computes the base64 HMAC-SHA256 of body. Senders and tests use it to
// produce the header value.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a rejection.
func ReasonOf(err error) Reason {
	if r, ok := err.(*Rejection); ok {
		return r.Reason
	}
	return ""
}
