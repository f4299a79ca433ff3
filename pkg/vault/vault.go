// Package vault provides authenticated encryption for file bytes and short
// metadata strings. Keys are derived per operation with Argon2id over a random
// salt; content is sealed with AES-256-GCM. Nothing in this package performs IO.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
)

const (
	saltSize  = 16
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Sealed carries ciphertext together with the parameters needed to open it.
// The auth tag is kept separate from the ciphertext so callers can persist
// and audit it independently.
type Sealed struct {
	Ciphertext []byte
	Salt       []byte
	Nonce      []byte
	Tag        []byte
}

// Vault derives keys and seals/opens payloads.
type Vault struct{}

// New returns a Vault.
func New() *Vault {
	return &Vault{}
}

// DeriveKey stretches a passphrase into an AES-256 key using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

// Encrypt seals plaintext under a key derived from the passphrase. Salt and
// nonce are freshly random on every call; identical inputs never produce
// identical output.
func (v *Vault) Encrypt(plaintext []byte, passphrase string) (*Sealed, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := newAEAD(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize

	return &Sealed{
		Ciphertext: sealed[:split],
		Salt:       salt,
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// Decrypt re-derives the key and opens the sealed payload. A failed tag check
// returns an integrity error; no partial plaintext is ever returned.
func (v *Vault) Decrypt(sealed *Sealed, passphrase string) ([]byte, error) {
	if sealed == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to decrypt")
	}
	if len(sealed.Salt) != saltSize || len(sealed.Nonce) != nonceSize || len(sealed.Tag) != tagSize {
		return nil, appErrors.Clone(appErrors.ErrIntegrity, "malformed crypto parameters")
	}

	aead, err := newAEAD(DeriveKey(passphrase, sealed.Salt))
	if err != nil {
		return nil, err
	}

	joined := make([]byte, 0, len(sealed.Ciphertext)+tagSize)
	joined = append(joined, sealed.Ciphertext...)
	joined = append(joined, sealed.Tag...)

	plaintext, err := aead.Open(nil, sealed.Nonce, joined, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, appErrors.ErrIntegrity.Message)
	}
	return plaintext, nil
}

// EncryptString seals a short text value into a single transportable token of
// the form salt.nonce.ciphertext.tag, each part base64url encoded.
func (v *Vault) EncryptString(value, passphrase string) (string, error) {
	sealed, err := v.Encrypt([]byte(value), passphrase)
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	return strings.Join([]string{
		enc.EncodeToString(sealed.Salt),
		enc.EncodeToString(sealed.Nonce),
		enc.EncodeToString(sealed.Ciphertext),
		enc.EncodeToString(sealed.Tag),
	}, "."), nil
}

// DecryptString opens a token produced by EncryptString.
func (v *Vault) DecryptString(token, passphrase string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", appErrors.Clone(appErrors.ErrIntegrity, "malformed encrypted value")
	}
	enc := base64.RawURLEncoding
	decoded := make([][]byte, 4)
	for i, part := range parts {
		raw, err := enc.DecodeString(part)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "malformed encrypted value")
		}
		decoded[i] = raw
	}
	plaintext, err := v.Decrypt(&Sealed{
		Salt:       decoded[0],
		Nonce:      decoded[1],
		Ciphertext: decoded[2],
		Tag:        decoded[3],
	}, passphrase)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
