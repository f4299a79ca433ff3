package models

import "time"

// DeliveryMode describes how file content reaches the recipient.
type DeliveryMode string

const (
	DeliveryModeLink    DeliveryMode = "link"
	DeliveryModeInline  DeliveryMode = "inline"
	DeliveryModeBlocked DeliveryMode = "blocked"
)

// ExchangeState is the derived lifecycle state of an exchange.
type ExchangeState string

const (
	StateAwaitingOTP ExchangeState = "AWAITING_OTP"
	StateLocked      ExchangeState = "LOCKED"
	StateExpired     ExchangeState = "EXPIRED"
	StateRevoked     ExchangeState = "REVOKED"
	StateExhausted   ExchangeState = "DOWNLOADS_EXHAUSTED"
)

// CryptoParams carries everything except the passphrase needed to open the
// sealed payload. Salt and nonce are unique per record.
type CryptoParams struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Tag   []byte `json:"tag"`
}

// ExchangeRecord is the persisted state of one upload-to-download lifecycle.
// The exchange id is the only externally shareable handle; recipient, sender
// and file name are vault-encrypted at rest.
type ExchangeRecord struct {
	ID      string       `json:"id"`
	BlobKey string       `json:"blob_key"`
	Crypto  CryptoParams `json:"crypto"`

	// OTPVerifier is a salted SHA-256 digest of the current code; the raw
	// code is never persisted. Empty until the first code request.
	OTPVerifier  string     `json:"otp_verifier,omitempty"`
	OTPSalt      []byte     `json:"otp_salt,omitempty"`
	OTPExpiresAt *time.Time `json:"otp_expires_at,omitempty"`

	RecipientEnc    string `json:"recipient_enc"`
	SenderEnc       string `json:"sender_enc"`
	FileNameEnc     string `json:"file_name_enc"`
	RecipientDomain string `json:"recipient_domain"`
	Size            int64  `json:"size"`

	DeliveryMode DeliveryMode `json:"delivery_mode"`

	DownloadCount int `json:"download_count"`
	MaxDownloads  int `json:"max_downloads"`

	OTPAttempts int        `json:"otp_attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Version increments on every mutation and guards compare-and-set
	// updates against concurrent writers.
	Version int64 `json:"version"`
}

// State derives the current lifecycle state at the given instant. Evaluation
// order matches the authorization rules: revoked and expired are terminal,
// a lock only counts while it is still in the future.
func (r *ExchangeRecord) State(now time.Time) ExchangeState {
	switch {
	case r.RevokedAt != nil:
		return StateRevoked
	case now.After(r.ExpiresAt):
		return StateExpired
	case r.LockedUntil != nil && now.Before(*r.LockedUntil):
		return StateLocked
	case r.DownloadCount >= r.MaxDownloads:
		return StateExhausted
	default:
		return StateAwaitingOTP
	}
}
