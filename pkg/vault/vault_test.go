package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New()
	plaintext := []byte("the quick brown fox")

	sealed, err := v.Encrypt(plaintext, "passphrase-1")
	require.NoError(t, err)
	require.Len(t, sealed.Salt, saltSize)
	require.Len(t, sealed.Nonce, nonceSize)
	require.Len(t, sealed.Tag, tagSize)

	out, err := v.Decrypt(sealed, "passphrase-1")
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestEncryptNeverDeterministic(t *testing.T) {
	v := New()
	plaintext := []byte("same input twice")

	a, err := v.Encrypt(plaintext, "pw")
	require.NoError(t, err)
	b, err := v.Encrypt(plaintext, "pw")
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a.Salt, b.Salt), "salt reused")
	assert.False(t, bytes.Equal(a.Nonce, b.Nonce), "nonce reused")
	assert.False(t, bytes.Equal(a.Ciphertext, b.Ciphertext), "ciphertext deterministic")
}

func TestDecryptWrongPassphrase(t *testing.T) {
	v := New()
	sealed, err := v.Encrypt([]byte("secret"), "right")
	require.NoError(t, err)

	_, err = v.Decrypt(sealed, "wrong")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrIntegrity.Code, appErrors.FromError(err).Code)
}

func TestDecryptDetectsCorruption(t *testing.T) {
	v := New()
	sealed, err := v.Encrypt([]byte("payload under test"), "pw")
	require.NoError(t, err)

	for i := range sealed.Ciphertext {
		corrupted := *sealed
		corrupted.Ciphertext = append([]byte(nil), sealed.Ciphertext...)
		corrupted.Ciphertext[i] ^= 0xff
		_, err := v.Decrypt(&corrupted, "pw")
		require.Error(t, err, "flipped ciphertext byte %d went undetected", i)
		assert.Equal(t, appErrors.ErrIntegrity.Code, appErrors.FromError(err).Code)
	}

	for i := range sealed.Tag {
		corrupted := *sealed
		corrupted.Tag = append([]byte(nil), sealed.Tag...)
		corrupted.Tag[i] ^= 0x01
		_, err := v.Decrypt(&corrupted, "pw")
		require.Error(t, err, "flipped tag byte %d went undetected", i)
	}
}

func TestStringRoundTrip(t *testing.T) {
	v := New()
	token, err := v.EncryptString("recipient@example.com", "pw")
	require.NoError(t, err)
	assert.NotContains(t, token, "recipient@example.com")

	value, err := v.DecryptString(token, "pw")
	require.NoError(t, err)
	assert.Equal(t, "recipient@example.com", value)
}

func TestDecryptStringMalformed(t *testing.T) {
	v := New()
	_, err := v.DecryptString("not-a-token", "pw")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrIntegrity.Code, appErrors.FromError(err).Code)
}

func TestDeriveKeyDeterministicPerSalt(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey("pw", salt)
	k2 := DeriveKey("pw", salt)
	assert.Equal(t, k1, k2)

	other := DeriveKey("pw", []byte("fedcba9876543210"))
	assert.NotEqual(t, k1, other)
}
