package dto

import "time"

// UploadRequest is the parsed, validated form of a multipart upload. Parsing
// happens once at the handler edge; business logic only ever sees this type.
type UploadRequest struct {
	FileName  string `json:"file_name" validate:"required,max=255"`
	Recipient string `json:"recipient" validate:"required,email"`
	Sender    string `json:"sender" validate:"required,email"`
	Data      []byte `json:"-" validate:"required"`
}

// UploadResponse summarizes a created exchange for the sender.
type UploadResponse struct {
	ID              string    `json:"id"`
	DeliveryMode    string    `json:"delivery_mode"`
	ExpiresAt       time.Time `json:"expires_at"`
	MaxDownloads    int       `json:"max_downloads"`
	ManagementToken string    `json:"management_token"`
}

// RequestCodeResponse acknowledges that a one-time code was issued.
type RequestCodeResponse struct {
	Status       string     `json:"status"`
	CodeExpires  *time.Time `json:"code_expires,omitempty"`
	DeliverySent bool       `json:"delivery_sent"`
}

// VerifyRequest carries the supplied one-time code. Address is the mailbox
// the caller claims to be reading from; it is reported to the sender, never
// used to decide authorization.
type VerifyRequest struct {
	Code    string `json:"code" binding:"required,min=4,max=16"`
	Address string `json:"address,omitempty" binding:"omitempty,email"`
}

// VerifyResult is the service-level outcome of a verification attempt.
type VerifyResult struct {
	Granted           bool   `json:"granted"`
	FileName          string `json:"file_name,omitempty"`
	Plaintext         []byte `json:"-"`
	DownloadCount     int    `json:"download_count,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining,omitempty"`
}

// RevokeResponse reports the revocation state of an exchange.
type RevokeResponse struct {
	ID        string    `json:"id"`
	RevokedAt time.Time `json:"revoked_at"`
}
