package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/repository"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
	"github.com/138data/datagate-poc-sub000/pkg/ratelimit"
	"github.com/138data/datagate-poc-sub000/pkg/storage"
	"github.com/138data/datagate-poc-sub000/pkg/vault"
)

type exchangeStore interface {
	Create(ctx context.Context, rec *models.ExchangeRecord, ttl time.Duration) error
	Update(ctx context.Context, id string, mutate func(*models.ExchangeRecord) error) (*models.ExchangeRecord, error)
}

type policyReader interface {
	Current(ctx context.Context) (*models.PolicyDocument, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

type otpNotifier interface {
	NotifyOTP(to, code, exchangeID string, expiresAt time.Time) bool
	NotifyAccess(to, exchangeID string, recipientMatched bool)
}

type requestLimiter interface {
	Allow(ctx context.Context, subjectKey string, cap int, window time.Duration) ratelimit.Decision
}

// OTPConfig tunes per-exchange abuse limits.
type OTPConfig struct {
	MasterSecret  string
	RequestCap    int
	RequestWindow time.Duration
}

// OTPService is the authorization state machine for a single exchange. It
// alone mutates attempt counters, locks, and download counts, and every
// transition it makes lands in the audit trail exactly once.
type OTPService struct {
	exchanges exchangeStore
	blobs     storage.BlobStore
	vault     *vault.Vault
	policy    policyReader
	audit     auditRecorder
	limiter   requestLimiter
	notifier  otpNotifier
	logger    *zap.Logger
	cfg       OTPConfig
}

// NewOTPService constructs an OTPService.
func NewOTPService(exchanges exchangeStore, blobs storage.BlobStore, v *vault.Vault, policy policyReader, audit auditRecorder, limiter requestLimiter, notifier otpNotifier, logger *zap.Logger, cfg OTPConfig) *OTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestCap <= 0 {
		cfg.RequestCap = 5
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = 10 * time.Minute
	}
	return &OTPService{
		exchanges: exchanges,
		blobs:     blobs,
		vault:     v,
		policy:    policy,
		audit:     audit,
		limiter:   limiter,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// RequestCode issues a fresh one-time code for the exchange and delivers it
// to the recipient mailbox. Re-requesting replaces the previous code but
// never resets the attempt counter.
func (s *OTPService) RequestCode(ctx context.Context, exchangeID string) (*dto.RequestCodeResponse, error) {
	policy, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		decision := s.limiter.Allow(ctx, "otp-request:"+exchangeID, s.cfg.RequestCap, s.cfg.RequestWindow)
		if !decision.Allowed {
			s.audit.Record(ctx, &models.AuditEntry{
				Event:     models.AuditEventRateLimited,
				Actor:     exchangeID,
				SubjectID: exchangeID,
				Reason:    "otp-request cap reached",
				Status:    models.AuditStatusBlocked,
			})
			return nil, appErrors.ErrRateLimited
		}
	}

	code, err := generateOTPCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}
	salt, err := newOTPSalt()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}

	var codeExpires time.Time
	rec, err := s.exchanges.Update(ctx, exchangeID, func(rec *models.ExchangeRecord) error {
		now := time.Now().UTC()
		clearExpiredLock(rec, now)
		if denial := denialFor(rec, now); denial != nil {
			return denial
		}
		codeExpires = now.Add(policy.OTPTTL)
		rec.OTPVerifier = makeOTPVerifier(code, salt)
		rec.OTPSalt = salt
		rec.OTPExpiresAt = &codeExpires
		return nil
	})
	if err != nil {
		s.auditDenial(ctx, exchangeID, models.AuditEventOTPRequest, err)
		return nil, mapStoreError(err)
	}

	recipient, err := s.vault.DecryptString(rec.RecipientEnc, derivePassphrase(s.cfg.MasterSecret, exchangeID))
	if err != nil {
		// The code is committed and auditable; without a recipient address it
		// just cannot be delivered.
		s.logger.Error("recipient decryption failed", zap.String("exchange_id", exchangeID), zap.Error(err))
		s.audit.Record(ctx, &models.AuditEntry{
			Event:     models.AuditEventIntegrity,
			SubjectID: exchangeID,
			Reason:    "recipient address unreadable",
			Status:    models.AuditStatusFailed,
		})
		s.audit.Record(ctx, &models.AuditEntry{
			Event:           models.AuditEventOTPRequest,
			SubjectID:       exchangeID,
			RecipientDomain: rec.RecipientDomain,
			Reason:          "code issued, delivery address unreadable",
			Status:          models.AuditStatusFailed,
		})
		return nil, appErrors.ErrIntegrity
	}

	delivered := s.notifier.NotifyOTP(recipient, code, exchangeID, codeExpires)

	s.audit.Record(ctx, &models.AuditEntry{
		Event:           models.AuditEventOTPRequest,
		Actor:           rec.RecipientDomain,
		SubjectID:       exchangeID,
		RecipientDomain: rec.RecipientDomain,
		Status:          models.AuditStatusSuccess,
	})

	return &dto.RequestCodeResponse{
		Status:       "code_sent",
		CodeExpires:  &codeExpires,
		DeliverySent: delivered,
	}, nil
}

// verifyOutcome carries the state-machine result out of the CAS closure.
type verifyOutcome struct {
	granted           bool
	lockedNow         bool
	attemptsRemaining int
	lockedUntil       time.Time
}

// Verify evaluates a supplied code against the exchange. The entire
// transition, including attempt counting and the download-count increment,
// commits atomically before any plaintext is released.
func (s *OTPService) Verify(ctx context.Context, exchangeID, suppliedCode, accessAddress string) (*dto.VerifyResult, error) {
	policy, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(suppliedCode)
	var outcome verifyOutcome

	rec, err := s.exchanges.Update(ctx, exchangeID, func(rec *models.ExchangeRecord) error {
		now := time.Now().UTC()
		clearExpiredLock(rec, now)
		if denial := denialFor(rec, now); denial != nil {
			return denial
		}

		codeCurrent := rec.OTPVerifier != "" && rec.OTPExpiresAt != nil && now.Before(*rec.OTPExpiresAt)
		if codeCurrent && verifierMatches(code, rec.OTPSalt, rec.OTPVerifier) {
			rec.OTPAttempts = 0
			rec.LockedUntil = nil
			rec.DownloadCount++
			// Single-use: a fresh code must be requested for the next download.
			rec.OTPVerifier = ""
			rec.OTPSalt = nil
			rec.OTPExpiresAt = nil
			outcome = verifyOutcome{granted: true}
			return nil
		}

		rec.OTPAttempts++
		outcome = verifyOutcome{
			attemptsRemaining: policy.OTPMaxAttempts - rec.OTPAttempts,
		}
		if rec.OTPAttempts >= policy.OTPMaxAttempts {
			lockedUntil := now.Add(policy.OTPLockoutDuration)
			rec.LockedUntil = &lockedUntil
			outcome.lockedNow = true
			outcome.lockedUntil = lockedUntil
			outcome.attemptsRemaining = 0
		}
		return nil
	})
	if err != nil {
		s.auditDenial(ctx, exchangeID, models.AuditEventOTPVerifyFailed, err)
		return nil, mapStoreError(err)
	}

	if !outcome.granted {
		s.audit.Record(ctx, &models.AuditEntry{
			Event:           models.AuditEventOTPVerifyFailed,
			SubjectID:       exchangeID,
			RecipientDomain: rec.RecipientDomain,
			Reason:          verifyFailReason(outcome),
			Status:          models.AuditStatusFailed,
		})
		if outcome.lockedNow {
			return nil, lockoutError(outcome.lockedUntil)
		}
		return nil, appErrors.Clone(appErrors.ErrCodeInvalid, "the supplied code is not valid")
	}

	result, err := s.release(ctx, rec, accessAddress)
	if err != nil {
		// The increment committed but nothing was released; give the
		// download back so an infrastructure fault does not burn the quota.
		s.rollbackDownload(ctx, exchangeID)
		return nil, err
	}
	return result, nil
}

// release fetches, decrypts, and hands out the plaintext exactly once, then
// queues the sender access notice.
func (s *OTPService) release(ctx context.Context, rec *models.ExchangeRecord, accessAddress string) (*dto.VerifyResult, error) {
	passphrase := derivePassphrase(s.cfg.MasterSecret, rec.ID)

	ciphertext, err := s.blobs.Get(ctx, rec.BlobKey)
	if err != nil {
		if err == storage.ErrBlobNotFound {
			return nil, appErrors.Clone(appErrors.ErrExpired, "the file is no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "file store unavailable")
	}

	plaintext, err := s.vault.Decrypt(&vault.Sealed{
		Ciphertext: ciphertext,
		Salt:       rec.Crypto.Salt,
		Nonce:      rec.Crypto.Nonce,
		Tag:        rec.Crypto.Tag,
	}, passphrase)
	if err != nil {
		s.audit.Record(ctx, &models.AuditEntry{
			Event:           models.AuditEventIntegrity,
			SubjectID:       rec.ID,
			RecipientDomain: rec.RecipientDomain,
			Reason:          "ciphertext failed authentication",
			Status:          models.AuditStatusFailed,
		})
		return nil, appErrors.ErrIntegrity
	}

	fileName, err := s.vault.DecryptString(rec.FileNameEnc, passphrase)
	if err != nil {
		fileName = "download"
	}

	recipient, rerr := s.vault.DecryptString(rec.RecipientEnc, passphrase)
	sender, serr := s.vault.DecryptString(rec.SenderEnc, passphrase)
	if serr == nil && s.notifier != nil {
		matched := rerr == nil && addressesMatch(accessAddress, recipient)
		s.notifier.NotifyAccess(sender, rec.ID, matched)
	}

	s.audit.Record(ctx, &models.AuditEntry{
		Event:           models.AuditEventDownload,
		Actor:           rec.RecipientDomain,
		SubjectID:       rec.ID,
		FileName:        fileName,
		RecipientDomain: rec.RecipientDomain,
		DeliveryMode:    string(rec.DeliveryMode),
		Size:            rec.Size,
		Status:          models.AuditStatusSuccess,
	})

	return &dto.VerifyResult{
		Granted:       true,
		FileName:      fileName,
		Plaintext:     plaintext,
		DownloadCount: rec.DownloadCount,
	}, nil
}

func (s *OTPService) rollbackDownload(ctx context.Context, exchangeID string) {
	_, err := s.exchanges.Update(ctx, exchangeID, func(rec *models.ExchangeRecord) error {
		if rec.DownloadCount > 0 {
			rec.DownloadCount--
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to roll back download count", zap.String("exchange_id", exchangeID), zap.Error(err))
	}
}

func lockoutError(until time.Time) *appErrors.Error {
	remaining := time.Until(until).Round(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return appErrors.Clone(appErrors.ErrLocked, "verification locked, retry in "+remaining.String())
}

// denialFor returns the typed denial for a record that cannot be authorized,
// in the mandated evaluation order. Locked and exhausted denials carry the
// numbers the caller needs to see the refusal is deliberate.
func denialFor(rec *models.ExchangeRecord, now time.Time) error {
	switch rec.State(now) {
	case models.StateRevoked:
		return appErrors.ErrRevoked
	case models.StateExpired:
		return appErrors.ErrExpired
	case models.StateLocked:
		if rec.LockedUntil != nil {
			return lockoutError(*rec.LockedUntil)
		}
		return appErrors.ErrLocked
	case models.StateExhausted:
		return exhaustedError(rec.MaxDownloads)
	default:
		return nil
	}
}

func exhaustedError(maxDownloads int) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrExhausted,
		"the download limit of "+strconv.Itoa(maxDownloads)+" has been reached")
}

// clearExpiredLock lazily lifts a lockout whose window has passed, resetting
// the attempt counter before the state is evaluated.
func clearExpiredLock(rec *models.ExchangeRecord, now time.Time) {
	if rec.LockedUntil != nil && !now.Before(*rec.LockedUntil) {
		rec.LockedUntil = nil
		rec.OTPAttempts = 0
	}
}

func (s *OTPService) auditDenial(ctx context.Context, exchangeID, event string, err error) {
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrRevoked.Code, appErrors.ErrExpired.Code, appErrors.ErrLocked.Code, appErrors.ErrExhausted.Code:
		s.audit.Record(ctx, &models.AuditEntry{
			Event:     event,
			SubjectID: exchangeID,
			Reason:    appErr.Code,
			Status:    models.AuditStatusBlocked,
		})
	}
}

func verifyFailReason(outcome verifyOutcome) string {
	if outcome.lockedNow {
		return "attempts exhausted, locked"
	}
	return "code mismatch, " + strconv.Itoa(outcome.attemptsRemaining) + " attempts remaining"
}

func addressesMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func mapStoreError(err error) error {
	if err == repository.ErrExchangeNotFound {
		return appErrors.Clone(appErrors.ErrNotFound, "unknown or expired exchange")
	}
	if err == repository.ErrConcurrentUpdate {
		return appErrors.Clone(appErrors.ErrConflict, "exchange is busy, retry")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "exchange store unavailable")
}
