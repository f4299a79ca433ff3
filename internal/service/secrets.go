package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const otpDigits = 6

// derivePassphrase binds the per-exchange encryption passphrase to the
// service master secret and the exchange id. The passphrase itself is never
// persisted; the vault's KDF stretches it per record.
func derivePassphrase(masterSecret, exchangeID string) string {
	mac := hmac.New(sha256.New, []byte(masterSecret))
	_, _ = mac.Write([]byte("exchange:" + exchangeID))
	return hex.EncodeToString(mac.Sum(nil))
}

// makeOTPVerifier derives the stored verifier for a code. Only this digest is
// persisted; a store compromise does not yield outstanding codes.
func makeOTPVerifier(code string, salt []byte) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

// verifierMatches compares a supplied code against the stored verifier in
// constant time.
func verifierMatches(code string, salt []byte, verifier string) bool {
	derived := makeOTPVerifier(code, salt)
	return hmac.Equal([]byte(derived), []byte(verifier))
}

// generateOTPCode returns a fixed-width numeric code from a CSPRNG.
func generateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

// newOTPSalt returns a fresh verifier salt.
func newOTPSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate otp salt: %w", err)
	}
	return salt, nil
}
