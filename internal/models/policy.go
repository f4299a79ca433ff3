package models

import "time"

// PolicyDocument is the single source of truth for tunable limits. It is a
// logical singleton; every persisted copy merges over compiled-in defaults so
// documents written by older code pick up newly introduced fields.
type PolicyDocument struct {
	EnableDirectAttach   bool          `json:"enable_direct_attach"`
	DirectAttachMaxSize  int64         `json:"direct_attach_max_size"`
	AllowedDirectDomains []string      `json:"allowed_direct_domains"`
	MaxDownloads         int           `json:"max_downloads"`
	FileTTL              time.Duration `json:"file_ttl"`
	OTPTTL               time.Duration `json:"otp_ttl"`
	OTPMaxAttempts       int           `json:"otp_max_attempts"`
	OTPLockoutDuration   time.Duration `json:"otp_lockout_duration"`

	LastUpdated time.Time `json:"last_updated"`
	UpdatedBy   string    `json:"updated_by"`
}

// FieldChange records one field's before/after pair inside a history entry.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// PolicyChangeEntry is one append-only history record. Only fields whose
// value actually changed appear in Changes.
type PolicyChangeEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	UpdatedBy string                 `json:"updated_by"`
	Changes   map[string]FieldChange `json:"changes"`
}
