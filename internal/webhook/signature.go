package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"
	HeaderRetryNum  = "X-Slack-Retry-Num"

	signatureVersion = "v0"
)

// Verification is the outcome of checking a request signature
type Verification struct {
	OK     bool
	Reason string
}

// VerifiedRequest pairs a captured request with its verification outcome
type VerifiedRequest struct {
	InboundRequest
	Verification Verification
}

// Verifier checks Slack request signatures
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. Requests whose timestamp is further than
// tolerance from the current time are rejected.
func NewVerifier(signingSecret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    []byte(signingSecret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifyRequest checks req and returns it with the outcome attached
func (v *Verifier) VerifyRequest(req InboundRequest) VerifiedRequest {
	return VerifiedRequest{InboundRequest: req, Verification: v.Verify(req)}
}

// Verify checks the signature headers of req against its body
func (v *Verifier) Verify(req InboundRequest) Verification {
	if len(v.secret) == 0 {
		return Verification{Reason: "signing secret not configured"}
	}

	timestamp := req.Header.Get(HeaderTimestamp)
	signature := req.Header.Get(HeaderSignature)
	if timestamp == "" || signature == "" {
		return Verification{Reason: "missing signature headers"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Verification{Reason: "malformed timestamp"}
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return Verification{Reason: "timestamp outside tolerance"}
	}

	expected := v.compute(timestamp, req.Body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Verification{Reason: "signature mismatch"}
	}

	return Verification{OK: true}
}

// Sign sets the timestamp and signature headers on h for body
func (v *Verifier) Sign(h http.Header, body []byte, at time.Time) {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	h.Set(HeaderTimestamp, timestamp)
	h.Set(HeaderSignature, v.compute(timestamp, body))
}

func (v *Verifier) compute(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
