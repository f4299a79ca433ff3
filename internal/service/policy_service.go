package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/repository"
	"github.com/138data/datagate-poc-sub000/pkg/config"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
)

// Validation bounds. Exact numbers are policy, not law, but every update must
// land inside them.
const (
	minDirectAttachSize = 1024
	maxDirectAttachSize = 25 * 1024 * 1024
	minMaxDownloads     = 1
	maxMaxDownloads     = 100
	minFileTTL          = 5 * time.Minute
	maxFileTTL          = 30 * 24 * time.Hour
	minOTPTTL           = time.Minute
	maxOTPTTL           = 24 * time.Hour
	minOTPAttempts      = 1
	maxOTPAttempts      = 20
	minLockout          = time.Minute
	maxLockout          = 24 * time.Hour
)

type policyRepository interface {
	Get(ctx context.Context) (*models.PolicyDocument, error)
	Replace(ctx context.Context, doc *models.PolicyDocument, entry *models.PolicyChangeEntry, historyTTL time.Duration, expected *models.PolicyDocument) error
	History(ctx context.Context, limit int) ([]models.PolicyChangeEntry, error)
}

type policyAuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

// PolicyService is the single source of truth for tunable limits. Reads are
// briefly cached; writes always re-validate against the latest persisted
// document so concurrent edits never silently merge stale history.
type PolicyService struct {
	repo       policyRepository
	audit      policyAuditRecorder
	logger     *zap.Logger
	defaults   models.PolicyDocument
	historyTTL time.Duration
	cacheTTL   time.Duration

	mu          sync.Mutex
	cached      *models.PolicyDocument
	cachedUntil time.Time
}

// NewPolicyService constructs a PolicyService. Boot configuration overrides
// the compiled-in defaults.
func NewPolicyService(repo policyRepository, audit policyAuditRecorder, logger *zap.Logger, cfg config.PolicyConfig) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{
		repo:       repo,
		audit:      audit,
		logger:     logger,
		defaults:   defaultsFromConfig(cfg),
		historyTTL: cfg.HistoryTTL,
		cacheTTL:   cfg.CacheTTL,
	}
}

func defaultsFromConfig(cfg config.PolicyConfig) models.PolicyDocument {
	doc := models.PolicyDocument{
		EnableDirectAttach:   cfg.EnableDirectAttach,
		DirectAttachMaxSize:  cfg.DirectAttachMaxSize,
		AllowedDirectDomains: cfg.AllowedDomains,
		MaxDownloads:         cfg.MaxDownloads,
		FileTTL:              cfg.FileTTL,
		OTPTTL:               cfg.OTPTTL,
		OTPMaxAttempts:       cfg.OTPMaxAttempts,
		OTPLockoutDuration:   cfg.OTPLockoutDuration,
		UpdatedBy:            "defaults",
	}
	if doc.DirectAttachMaxSize <= 0 {
		doc.DirectAttachMaxSize = 5 * 1024 * 1024
	}
	if doc.MaxDownloads <= 0 {
		doc.MaxDownloads = 3
	}
	if doc.FileTTL <= 0 {
		doc.FileTTL = 72 * time.Hour
	}
	if doc.OTPTTL <= 0 {
		doc.OTPTTL = 10 * time.Minute
	}
	if doc.OTPMaxAttempts <= 0 {
		doc.OTPMaxAttempts = 5
	}
	if doc.OTPLockoutDuration <= 0 {
		doc.OTPLockoutDuration = 30 * time.Minute
	}
	return doc
}

// Current returns the active document, merged over defaults. The short read
// cache is acceptable for authorization decisions; writes bypass it.
func (s *PolicyService) Current(ctx context.Context) (*models.PolicyDocument, error) {
	s.mu.Lock()
	if s.cached != nil && time.Now().Before(s.cachedUntil) {
		doc := *s.cached
		s.mu.Unlock()
		return &doc, nil
	}
	s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = doc
	s.cachedUntil = time.Now().Add(s.cacheTTL)
	s.mu.Unlock()

	copied := *doc
	return &copied, nil
}

func (s *PolicyService) load(ctx context.Context) (*models.PolicyDocument, error) {
	persisted, err := s.repo.Get(ctx)
	if err != nil {
		if err == repository.ErrPolicyNotFound {
			doc := s.defaults
			return &doc, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to load policy")
	}
	merged := s.mergeOverDefaults(persisted)
	return merged, nil
}

// mergeOverDefaults backfills zero-valued fields that predate their
// introduction with compiled-in defaults.
func (s *PolicyService) mergeOverDefaults(doc *models.PolicyDocument) *models.PolicyDocument {
	merged := *doc
	if merged.DirectAttachMaxSize == 0 {
		merged.DirectAttachMaxSize = s.defaults.DirectAttachMaxSize
	}
	if merged.AllowedDirectDomains == nil {
		merged.AllowedDirectDomains = s.defaults.AllowedDirectDomains
	}
	if merged.MaxDownloads == 0 {
		merged.MaxDownloads = s.defaults.MaxDownloads
	}
	if merged.FileTTL == 0 {
		merged.FileTTL = s.defaults.FileTTL
	}
	if merged.OTPTTL == 0 {
		merged.OTPTTL = s.defaults.OTPTTL
	}
	if merged.OTPMaxAttempts == 0 {
		merged.OTPMaxAttempts = s.defaults.OTPMaxAttempts
	}
	if merged.OTPLockoutDuration == 0 {
		merged.OTPLockoutDuration = s.defaults.OTPLockoutDuration
	}
	return &merged
}

// Update applies a partial update atomically: every present field is validated
// first and a single invalid field rejects the whole request with all
// violations listed. The diff is computed against the document read
// immediately before the write.
func (s *PolicyService) Update(ctx context.Context, partial dto.PolicyUpdateRequest, updatedBy string) (*models.PolicyDocument, error) {
	if updatedBy == "" {
		return nil, appErrors.ErrUnauthorized
	}

	for attempt := 0; attempt < 3; attempt++ {
		current, err := s.load(ctx)
		if err != nil {
			return nil, err
		}

		next := *current
		applyPartial(&next, partial)

		if violations := validateDocument(&next); len(violations) > 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, strings.Join(violations, "; "))
		}

		now := time.Now().UTC()
		next.LastUpdated = now
		next.UpdatedBy = updatedBy

		changes := diffDocuments(current, &next)
		if len(changes) == 0 {
			return current, nil
		}

		entry := &models.PolicyChangeEntry{
			ID:        repository.NewHistoryID(now),
			Timestamp: now,
			UpdatedBy: updatedBy,
			Changes:   changes,
		}

		err = s.repo.Replace(ctx, &next, entry, s.historyTTL, current)
		if err != nil {
			if isTxConflict(err) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to persist policy")
		}

		s.invalidate()
		s.emitAudit(ctx, updatedBy, changes)
		return &next, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "policy is being updated concurrently, retry")
}

// Reset restores compiled-in defaults, recorded as a history entry like any
// other update.
func (s *PolicyService) Reset(ctx context.Context, updatedBy string) (*models.PolicyDocument, error) {
	if updatedBy == "" {
		return nil, appErrors.ErrUnauthorized
	}

	current, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	next := s.defaults
	now := time.Now().UTC()
	next.LastUpdated = now
	next.UpdatedBy = updatedBy

	changes := diffDocuments(current, &next)
	entry := &models.PolicyChangeEntry{
		ID:        repository.NewHistoryID(now),
		Timestamp: now,
		UpdatedBy: updatedBy,
		Changes:   changes,
	}

	if err := s.repo.Replace(ctx, &next, entry, s.historyTTL, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to reset policy")
	}

	s.invalidate()
	s.emitAudit(ctx, updatedBy, changes)
	return &next, nil
}

// History lists the most recent change entries, newest first.
func (s *PolicyService) History(ctx context.Context, limit int) ([]models.PolicyChangeEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.repo.History(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to load policy history")
	}
	return entries, nil
}

// Export serializes the current document.
func (s *PolicyService) Export(ctx context.Context) ([]byte, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(toView(doc), "", "  ")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to serialize policy")
	}
	return payload, nil
}

// Import replaces the document from a serialized view, running the same
// validation as an update.
func (s *PolicyService) Import(ctx context.Context, payload []byte, updatedBy string) (*models.PolicyDocument, error) {
	var view dto.PolicyView
	if err := json.Unmarshal(payload, &view); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed policy document")
	}

	partial := dto.PolicyUpdateRequest{
		EnableDirectAttach:   &view.EnableDirectAttach,
		DirectAttachMaxSize:  &view.DirectAttachMaxSize,
		AllowedDirectDomains: view.AllowedDirectDomains,
		MaxDownloads:         &view.MaxDownloads,
		FileTTLSeconds:       &view.FileTTLSeconds,
		OTPTTLSeconds:        &view.OTPTTLSeconds,
		OTPMaxAttempts:       &view.OTPMaxAttempts,
		OTPLockoutSeconds:    &view.OTPLockoutSeconds,
	}
	return s.Update(ctx, partial, updatedBy)
}

// View converts a document into its API representation.
func View(doc *models.PolicyDocument) dto.PolicyView {
	return toView(doc)
}

func toView(doc *models.PolicyDocument) dto.PolicyView {
	return dto.PolicyView{
		EnableDirectAttach:   doc.EnableDirectAttach,
		DirectAttachMaxSize:  doc.DirectAttachMaxSize,
		AllowedDirectDomains: doc.AllowedDirectDomains,
		MaxDownloads:         doc.MaxDownloads,
		FileTTLSeconds:       int64(doc.FileTTL / time.Second),
		OTPTTLSeconds:        int64(doc.OTPTTL / time.Second),
		OTPMaxAttempts:       doc.OTPMaxAttempts,
		OTPLockoutSeconds:    int64(doc.OTPLockoutDuration / time.Second),
		LastUpdated:          doc.LastUpdated,
		UpdatedBy:            doc.UpdatedBy,
	}
}

func applyPartial(doc *models.PolicyDocument, partial dto.PolicyUpdateRequest) {
	if partial.EnableDirectAttach != nil {
		doc.EnableDirectAttach = *partial.EnableDirectAttach
	}
	if partial.DirectAttachMaxSize != nil {
		doc.DirectAttachMaxSize = *partial.DirectAttachMaxSize
	}
	if partial.AllowedDirectDomains != nil {
		doc.AllowedDirectDomains = normalizeDomains(partial.AllowedDirectDomains)
	}
	if partial.MaxDownloads != nil {
		doc.MaxDownloads = *partial.MaxDownloads
	}
	if partial.FileTTLSeconds != nil {
		doc.FileTTL = time.Duration(*partial.FileTTLSeconds) * time.Second
	}
	if partial.OTPTTLSeconds != nil {
		doc.OTPTTL = time.Duration(*partial.OTPTTLSeconds) * time.Second
	}
	if partial.OTPMaxAttempts != nil {
		doc.OTPMaxAttempts = *partial.OTPMaxAttempts
	}
	if partial.OTPLockoutSeconds != nil {
		doc.OTPLockoutDuration = time.Duration(*partial.OTPLockoutSeconds) * time.Second
	}
}

func normalizeDomains(domains []string) []string {
	result := make([]string, 0, len(domains))
	for _, domain := range domains {
		trimmed := strings.ToLower(strings.TrimSpace(domain))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func validateDocument(doc *models.PolicyDocument) []string {
	var violations []string
	if doc.DirectAttachMaxSize < minDirectAttachSize || doc.DirectAttachMaxSize > maxDirectAttachSize {
		violations = append(violations, fmt.Sprintf("direct_attach_max_size must be between %d and %d bytes", minDirectAttachSize, maxDirectAttachSize))
	}
	if doc.MaxDownloads < minMaxDownloads || doc.MaxDownloads > maxMaxDownloads {
		violations = append(violations, fmt.Sprintf("max_downloads must be between %d and %d", minMaxDownloads, maxMaxDownloads))
	}
	if doc.FileTTL < minFileTTL || doc.FileTTL > maxFileTTL {
		violations = append(violations, "file_ttl must be between 5 minutes and 30 days")
	}
	if doc.OTPTTL < minOTPTTL || doc.OTPTTL > maxOTPTTL {
		violations = append(violations, "otp_ttl must be between 1 minute and 24 hours")
	}
	if doc.OTPMaxAttempts < minOTPAttempts || doc.OTPMaxAttempts > maxOTPAttempts {
		violations = append(violations, fmt.Sprintf("otp_max_attempts must be between %d and %d", minOTPAttempts, maxOTPAttempts))
	}
	if doc.OTPLockoutDuration < minLockout || doc.OTPLockoutDuration > maxLockout {
		violations = append(violations, "otp_lockout_duration must be between 1 minute and 24 hours")
	}
	for _, domain := range doc.AllowedDirectDomains {
		if domain == "" || strings.ContainsAny(domain, " @/") {
			violations = append(violations, fmt.Sprintf("allowed_direct_domains entry %q is not a valid domain suffix", domain))
		}
	}
	return violations
}

func diffDocuments(old, new *models.PolicyDocument) map[string]models.FieldChange {
	changes := make(map[string]models.FieldChange)
	if old.EnableDirectAttach != new.EnableDirectAttach {
		changes["enable_direct_attach"] = models.FieldChange{Old: old.EnableDirectAttach, New: new.EnableDirectAttach}
	}
	if old.DirectAttachMaxSize != new.DirectAttachMaxSize {
		changes["direct_attach_max_size"] = models.FieldChange{Old: old.DirectAttachMaxSize, New: new.DirectAttachMaxSize}
	}
	if !equalStrings(old.AllowedDirectDomains, new.AllowedDirectDomains) {
		changes["allowed_direct_domains"] = models.FieldChange{Old: old.AllowedDirectDomains, New: new.AllowedDirectDomains}
	}
	if old.MaxDownloads != new.MaxDownloads {
		changes["max_downloads"] = models.FieldChange{Old: old.MaxDownloads, New: new.MaxDownloads}
	}
	if old.FileTTL != new.FileTTL {
		changes["file_ttl"] = models.FieldChange{Old: old.FileTTL.String(), New: new.FileTTL.String()}
	}
	if old.OTPTTL != new.OTPTTL {
		changes["otp_ttl"] = models.FieldChange{Old: old.OTPTTL.String(), New: new.OTPTTL.String()}
	}
	if old.OTPMaxAttempts != new.OTPMaxAttempts {
		changes["otp_max_attempts"] = models.FieldChange{Old: old.OTPMaxAttempts, New: new.OTPMaxAttempts}
	}
	if old.OTPLockoutDuration != new.OTPLockoutDuration {
		changes["otp_lockout_duration"] = models.FieldChange{Old: old.OTPLockoutDuration.String(), New: new.OTPLockoutDuration.String()}
	}
	return changes
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *PolicyService) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *PolicyService) emitAudit(ctx context.Context, updatedBy string, changes map[string]models.FieldChange) {
	if s.audit == nil {
		return
	}
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	s.audit.Record(ctx, &models.AuditEntry{
		Event:  models.AuditEventPolicyChange,
		Actor:  updatedBy,
		Reason: strings.Join(fields, ","),
		Status: models.AuditStatusSuccess,
	})
}

func isTxConflict(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}
