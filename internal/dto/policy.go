package dto

import "time"

// PolicyUpdateRequest is a partial policy update. Nil fields are left
// untouched; present fields are validated together and applied atomically.
type PolicyUpdateRequest struct {
	EnableDirectAttach   *bool    `json:"enable_direct_attach,omitempty"`
	DirectAttachMaxSize  *int64   `json:"direct_attach_max_size,omitempty"`
	AllowedDirectDomains []string `json:"allowed_direct_domains,omitempty"`
	MaxDownloads         *int     `json:"max_downloads,omitempty"`
	FileTTLSeconds       *int64   `json:"file_ttl_seconds,omitempty"`
	OTPTTLSeconds        *int64   `json:"otp_ttl_seconds,omitempty"`
	OTPMaxAttempts       *int     `json:"otp_max_attempts,omitempty"`
	OTPLockoutSeconds    *int64   `json:"otp_lockout_seconds,omitempty"`
}

// PolicyView is the API representation of the current policy document.
type PolicyView struct {
	EnableDirectAttach   bool     `json:"enable_direct_attach"`
	DirectAttachMaxSize  int64    `json:"direct_attach_max_size"`
	AllowedDirectDomains []string `json:"allowed_direct_domains"`
	MaxDownloads         int      `json:"max_downloads"`
	FileTTLSeconds       int64    `json:"file_ttl_seconds"`
	OTPTTLSeconds        int64    `json:"otp_ttl_seconds"`
	OTPMaxAttempts       int      `json:"otp_max_attempts"`
	OTPLockoutSeconds    int64    `json:"otp_lockout_seconds"`

	LastUpdated time.Time `json:"last_updated"`
	UpdatedBy   string    `json:"updated_by"`
}
