package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/repository"
	"github.com/138data/datagate-poc-sub000/pkg/config"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
)

type policyRepoStub struct {
	doc      *models.PolicyDocument
	history  []models.PolicyChangeEntry
	getErr   error
	failures int
}

func (s *policyRepoStub) Get(ctx context.Context) (*models.PolicyDocument, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.doc == nil {
		return nil, repository.ErrPolicyNotFound
	}
	doc := *s.doc
	return &doc, nil
}

func (s *policyRepoStub) Replace(ctx context.Context, doc *models.PolicyDocument, entry *models.PolicyChangeEntry, historyTTL time.Duration, expected *models.PolicyDocument) error {
	if s.failures > 0 {
		s.failures--
		return redis.TxFailedErr
	}
	copied := *doc
	s.doc = &copied
	s.history = append([]models.PolicyChangeEntry{*entry}, s.history...)
	return nil
}

func (s *policyRepoStub) History(ctx context.Context, limit int) ([]models.PolicyChangeEntry, error) {
	if limit > len(s.history) {
		limit = len(s.history)
	}
	return s.history[:limit], nil
}

func testPolicyConfig() config.PolicyConfig {
	return config.PolicyConfig{
		EnableDirectAttach:  true,
		DirectAttachMaxSize: 5 * 1024 * 1024,
		AllowedDomains:      []string{"example.com"},
		MaxDownloads:        3,
		FileTTL:             72 * time.Hour,
		OTPTTL:              10 * time.Minute,
		OTPMaxAttempts:      5,
		OTPLockoutDuration:  30 * time.Minute,
		HistoryTTL:          90 * 24 * time.Hour,
		CacheTTL:            time.Minute,
	}
}

func TestPolicyCurrentFallsBackToDefaults(t *testing.T) {
	svc := NewPolicyService(&policyRepoStub{}, &auditRecorderStub{}, nil, testPolicyConfig())
	doc, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, doc.MaxDownloads)
	assert.Equal(t, 72*time.Hour, doc.FileTTL)
	assert.Equal(t, []string{"example.com"}, doc.AllowedDirectDomains)
}

func TestPolicyUpdatePartial(t *testing.T) {
	repo := &policyRepoStub{}
	audit := &auditRecorderStub{}
	svc := NewPolicyService(repo, audit, nil, testPolicyConfig())

	max := 7
	doc, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.NoError(t, err)
	assert.Equal(t, 7, doc.MaxDownloads)
	// Untouched fields survive.
	assert.Equal(t, 10*time.Minute, doc.OTPTTL)
	assert.Equal(t, "admin@test", doc.UpdatedBy)

	require.Len(t, repo.history, 1)
	entry := repo.history[0]
	assert.Equal(t, "admin@test", entry.UpdatedBy)
	require.Contains(t, entry.Changes, "max_downloads")
	assert.Equal(t, 3, entry.Changes["max_downloads"].Old)
	assert.Equal(t, 7, entry.Changes["max_downloads"].New)
	// Diff-only history: unchanged fields never appear.
	assert.NotContains(t, entry.Changes, "otp_ttl")

	require.Len(t, audit.byEvent(models.AuditEventPolicyChange), 1)
}

func TestPolicyUpdateReportsAllViolationsAtOnce(t *testing.T) {
	svc := NewPolicyService(&policyRepoStub{}, &auditRecorderStub{}, nil, testPolicyConfig())

	max := 500
	attempts := 0
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{
		MaxDownloads:   &max,
		OTPMaxAttempts: &attempts,
	}, "admin@test")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "max_downloads")
	assert.Contains(t, appErr.Message, "otp_max_attempts")
}

func TestPolicyUpdateRejectsBadDomains(t *testing.T) {
	svc := NewPolicyService(&policyRepoStub{}, &auditRecorderStub{}, nil, testPolicyConfig())
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{
		AllowedDirectDomains: []string{"ok.example.com", "bad domain"},
	}, "admin@test")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPolicyUpdateRequiresActor(t *testing.T) {
	svc := NewPolicyService(&policyRepoStub{}, &auditRecorderStub{}, nil, testPolicyConfig())
	max := 5
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestPolicyUpdateNoChangeWritesNoHistory(t *testing.T) {
	repo := &policyRepoStub{}
	svc := NewPolicyService(repo, &auditRecorderStub{}, nil, testPolicyConfig())

	max := 3
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.NoError(t, err)
	assert.Empty(t, repo.history)
}

func TestPolicyUpdateRetriesOnConflict(t *testing.T) {
	repo := &policyRepoStub{failures: 2}
	svc := NewPolicyService(repo, &auditRecorderStub{}, nil, testPolicyConfig())

	max := 9
	doc, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.NoError(t, err)
	assert.Equal(t, 9, doc.MaxDownloads)
}

func TestPolicyUpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := &policyRepoStub{failures: 5}
	svc := NewPolicyService(repo, &auditRecorderStub{}, nil, testPolicyConfig())

	max := 9
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestPolicyResetRestoresDefaults(t *testing.T) {
	repo := &policyRepoStub{}
	audit := &auditRecorderStub{}
	svc := NewPolicyService(repo, audit, nil, testPolicyConfig())

	max := 42
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.NoError(t, err)

	doc, err := svc.Reset(context.Background(), "admin@test")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.MaxDownloads)
	require.Len(t, repo.history, 2)
	require.Len(t, audit.byEvent(models.AuditEventPolicyChange), 2)
}

func TestPolicyCurrentInvalidatedAfterUpdate(t *testing.T) {
	repo := &policyRepoStub{}
	svc := NewPolicyService(repo, &auditRecorderStub{}, nil, testPolicyConfig())

	doc, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, doc.MaxDownloads)

	max := 11
	_, err = svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.NoError(t, err)

	doc, err = svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, doc.MaxDownloads)
}

func TestPolicyMergeBackfillsMissingFields(t *testing.T) {
	repo := &policyRepoStub{doc: &models.PolicyDocument{
		EnableDirectAttach: true,
		MaxDownloads:       2,
	}}
	svc := NewPolicyService(repo, &auditRecorderStub{}, nil, testPolicyConfig())

	doc, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, doc.MaxDownloads)
	// Fields absent from the persisted copy come from defaults.
	assert.Equal(t, 10*time.Minute, doc.OTPTTL)
	assert.Equal(t, int64(5*1024*1024), doc.DirectAttachMaxSize)
}

func TestPolicyExportImportRoundTrip(t *testing.T) {
	repo := &policyRepoStub{}
	svc := NewPolicyService(repo, &auditRecorderStub{}, nil, testPolicyConfig())

	max := 17
	_, err := svc.Update(context.Background(), dto.PolicyUpdateRequest{MaxDownloads: &max}, "admin@test")
	require.NoError(t, err)

	payload, err := svc.Export(context.Background())
	require.NoError(t, err)

	_, err = svc.Reset(context.Background(), "admin@test")
	require.NoError(t, err)

	doc, err := svc.Import(context.Background(), payload, "admin@test")
	require.NoError(t, err)
	assert.Equal(t, 17, doc.MaxDownloads)
}

func TestPolicyImportRejectsGarbage(t *testing.T) {
	svc := NewPolicyService(&policyRepoStub{}, &auditRecorderStub{}, nil, testPolicyConfig())
	_, err := svc.Import(context.Background(), []byte("{not json"), "admin@test")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
