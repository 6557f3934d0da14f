package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state expired")
)

// StateCodec signs the team id into the OAuth state parameter so the
// callback knows which Slack team is connecting.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	return &StateCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Encode returns "<payload>.<mac>" where payload is base64(team|nonce|unix)
func (c *StateCodec) Encode(teamID string) string {
	raw := teamID + "|" + uuid.NewString() + "|" + strconv.FormatInt(c.now().Unix(), 10)
	payload := base64.RawURLEncoding.EncodeToString([]byte(raw))
	return payload + "." + c.sign(payload)
}

// Decode verifies state and returns the team id it carries
func (c *StateCodec) Decode(state string) (string, error) {
	payload, mac, ok := strings.Cut(state, ".")
	if !ok || payload == "" || mac == "" {
		return "", ErrInvalidState
	}
	if !hmac.Equal([]byte(mac), []byte(c.sign(payload))) {
		return "", ErrInvalidState
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidState
	}
	// The nonce and timestamp never contain '|'; the team id may
	rest, unix, ok := cutLast(string(raw), "|")
	if !ok {
		return "", ErrInvalidState
	}
	teamID, nonce, ok := cutLast(rest, "|")
	if !ok || nonce == "" {
		return "", ErrInvalidState
	}
	issued, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return "", ErrInvalidState
	}
	if c.now().Sub(time.Unix(issued, 0)) > c.ttl {
		return "", ErrExpiredState
	}
	return teamID, nil
}

func cutLast(s, sep string) (before, after string, ok bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func (c *StateCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
