// Package token issues and verifies the HMAC management tokens that authorize
// sender-side operations (revoke) on an exchange. A token is the capability;
// the exchange id alone never grants mutation rights.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Signer creates and validates management tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner constructs a signer with the provided secret and TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate returns a token bound to the exchange id.
func (s *Signer) Generate(exchangeID string) (string, time.Time, error) {
	if exchangeID == "" {
		return "", time.Time{}, fmt.Errorf("exchangeID required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	ts := fmt.Sprintf("%d", expiresAt.Unix())
	signature := s.sign(exchangeID, ts)
	return strings.Join([]string{exchangeID, ts, signature}, "."), expiresAt, nil
}

// Verify checks that the token is intact, unexpired, and bound to exchangeID.
func (s *Signer) Verify(token, exchangeID string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("invalid token format")
	}
	id, ts, signature := parts[0], parts[1], parts[2]

	expected := s.sign(id, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid token signature")
	}
	if id != exchangeID {
		return fmt.Errorf("token bound to a different exchange")
	}

	var expUnix int64
	if _, err := fmt.Sscanf(ts, "%d", &expUnix); err != nil {
		return fmt.Errorf("invalid timestamp")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return fmt.Errorf("token expired")
	}
	return nil
}

func (s *Signer) sign(exchangeID, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(exchangeID + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
