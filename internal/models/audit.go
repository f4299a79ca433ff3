package models

import "time"

// AuditEvent constants name the security-relevant actions the ledger records.
const (
	AuditEventUpload          = "upload"
	AuditEventDownload        = "download"
	AuditEventRevoke          = "revoke"
	AuditEventOTPRequest      = "otp-request"
	AuditEventOTPVerifyFailed = "otp-verify-failed"
	AuditEventPolicyChange    = "policy-change"
	AuditEventRateLimited     = "rate-limited"
	AuditEventIntegrity       = "integrity-failure"
	AuditEventNotification    = "notification"
)

// Audit status values.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
	AuditStatusBlocked = "blocked"
)

// AuditEntry is one immutable record of a security-relevant event. Entries are
// never mutated; they disappear only when their retention TTL elapses.
type AuditEntry struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Event           string    `json:"event"`
	Actor           string    `json:"actor"`
	SubjectID       string    `json:"subject_id,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	RecipientDomain string    `json:"recipient_domain,omitempty"`
	DeliveryMode    string    `json:"delivery_mode,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Size            int64     `json:"size,omitempty"`
	Status          string    `json:"status"`
}
