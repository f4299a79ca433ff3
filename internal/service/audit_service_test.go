package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/pkg/config"
)

type auditRepoStub struct {
	saved   []models.AuditEntry
	scanErr error
	saveErr error
}

func (s *auditRepoStub) Save(ctx context.Context, entry *models.AuditEntry, retention time.Duration) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *entry)
	return nil
}

func (s *auditRepoStub) ScanWindow(ctx context.Context, from, to time.Time, maxKeys int) ([]models.AuditEntry, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	var out []models.AuditEntry
	for _, e := range s.saved {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func TestAuditRecordFillsDefaults(t *testing.T) {
	repo := &auditRepoStub{}
	svc := NewAuditService(repo, nil, config.AuditConfig{})

	svc.Record(context.Background(), &models.AuditEntry{Event: models.AuditEventUpload})

	require.Len(t, repo.saved, 1)
	entry := repo.saved[0]
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, models.AuditStatusSuccess, entry.Status)
}

func TestAuditRecordSwallowsStoreErrors(t *testing.T) {
	repo := &auditRepoStub{saveErr: errors.New("store down")}
	svc := NewAuditService(repo, nil, config.AuditConfig{})

	// Must not panic or propagate.
	svc.Record(context.Background(), &models.AuditEntry{Event: models.AuditEventUpload})
}

func TestAuditRecordSurvivesCancelledContext(t *testing.T) {
	repo := &auditRepoStub{}
	svc := NewAuditService(repo, nil, config.AuditConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, &models.AuditEntry{Event: models.AuditEventDownload})

	require.Len(t, repo.saved, 1)
}

func TestAuditSearchFilters(t *testing.T) {
	now := time.Now().UTC()
	repo := &auditRepoStub{saved: []models.AuditEntry{
		{Event: models.AuditEventUpload, Actor: "sender.org", Status: models.AuditStatusSuccess, Timestamp: now.Add(-time.Hour)},
		{Event: models.AuditEventDownload, Actor: "Example.com", Status: models.AuditStatusSuccess, Timestamp: now.Add(-2 * time.Hour)},
		{Event: models.AuditEventOTPVerifyFailed, Actor: "example.com", Status: models.AuditStatusFailed, Timestamp: now.Add(-3 * time.Hour)},
		{Event: models.AuditEventUpload, Actor: "old.org", Status: models.AuditStatusSuccess, Timestamp: now.Add(-10 * 24 * time.Hour)},
	}}
	svc := NewAuditService(repo, nil, config.AuditConfig{})

	entries, err := svc.Search(context.Background(), dto.AuditSearchQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 3) // default window drops the 10-day-old entry

	entries, err = svc.Search(context.Background(), dto.AuditSearchQuery{Event: models.AuditEventUpload})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = svc.Search(context.Background(), dto.AuditSearchQuery{Actor: "example"})
	require.NoError(t, err)
	assert.Len(t, entries, 2) // substring match is case-insensitive

	entries, err = svc.Search(context.Background(), dto.AuditSearchQuery{Status: models.AuditStatusFailed})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = svc.Search(context.Background(), dto.AuditSearchQuery{Days: 30})
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestAuditStatistics(t *testing.T) {
	svc := NewAuditService(&auditRepoStub{}, nil, config.AuditConfig{})
	stats := svc.Statistics([]models.AuditEntry{
		{Event: models.AuditEventUpload, Status: models.AuditStatusSuccess, DeliveryMode: "link", Size: 100},
		{Event: models.AuditEventUpload, Status: models.AuditStatusSuccess, DeliveryMode: "inline", Size: 300},
		{Event: models.AuditEventOTPVerifyFailed, Status: models.AuditStatusFailed},
	})
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByEvent[models.AuditEventUpload])
	assert.Equal(t, 1, stats.ByStatus[models.AuditStatusFailed])
	assert.Equal(t, 1, stats.ByMode["link"])
	assert.Equal(t, int64(400), stats.TotalSize)
	assert.Equal(t, 200.0, stats.AverageSize)
}

func TestAuditRenderCSV(t *testing.T) {
	svc := NewAuditService(&auditRepoStub{}, nil, config.AuditConfig{})
	payload, err := svc.RenderCSV([]models.AuditEntry{
		{Event: models.AuditEventDownload, Actor: "example.com", Status: models.AuditStatusSuccess, Timestamp: time.Now().UTC(), Size: 42},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(payload, []byte("\xef\xbb\xbf")))
	assert.Contains(t, string(payload), "download")
	assert.Contains(t, string(payload), "example.com")
}

func TestAuditRenderPDF(t *testing.T) {
	svc := NewAuditService(&auditRepoStub{}, nil, config.AuditConfig{})
	payload, err := svc.RenderPDF([]models.AuditEntry{
		{Event: models.AuditEventRevoke, Actor: "admin", Status: models.AuditStatusSuccess, Timestamp: time.Now().UTC()},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(payload, []byte("%PDF")))
}
