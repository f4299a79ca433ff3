package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/repository"
	"github.com/138data/datagate-poc-sub000/pkg/config"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
	"github.com/138data/datagate-poc-sub000/pkg/export"
)

type auditRepository interface {
	Save(ctx context.Context, entry *models.AuditEntry, retention time.Duration) error
	ScanWindow(ctx context.Context, from, to time.Time, maxKeys int) ([]models.AuditEntry, error)
}

// auditColumns fixes the CSV/PDF column order.
var auditColumns = []string{
	"timestamp", "event", "actor", "subject_id", "file_name",
	"recipient_domain", "delivery_mode", "reason", "size", "status",
}

// AuditService is the append-only ledger of security-relevant events. A
// failed write degrades observability, never the operation being documented.
type AuditService struct {
	repo      auditRepository
	logger    *zap.Logger
	retention time.Duration
	maxScan   int
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo auditRepository, logger *zap.Logger, cfg config.AuditConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	retention := cfg.RetentionTTL
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	maxScan := cfg.MaxScanKeys
	if maxScan <= 0 {
		maxScan = 5000
	}
	return &AuditService{
		repo:      repo,
		logger:    logger,
		retention: retention,
		maxScan:   maxScan,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
	}
}

// Record persists one entry, assigning a time-sortable identifier. Store
// failures are logged and swallowed: the primary operation already happened
// and must not be aborted for the sake of its paper trail.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditEntry) {
	now := time.Now().UTC()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.ID == "" {
		entry.ID = repository.NewEntryID(entry.Timestamp)
	}
	if entry.Status == "" {
		entry.Status = models.AuditStatusSuccess
	}

	// A bounded timeout detached from the caller: request cancellation must
	// not drop the trail of an operation that already committed.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := s.repo.Save(saveCtx, entry, s.retention); err != nil {
		s.logger.Warn("audit write failed, continuing degraded",
			zap.String("event", entry.Event),
			zap.String("subject", entry.SubjectID),
			zap.Error(err),
		)
	}
}

// Search returns entries from the last q.Days days, newest first, filtered by
// event type, actor substring, and status. The underlying scan is capped, so
// very busy windows may return a partial result.
func (s *AuditService) Search(ctx context.Context, q dto.AuditSearchQuery) ([]models.AuditEntry, error) {
	days := q.Days
	if days <= 0 {
		days = 7
	}
	to := time.Now().UTC()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)

	entries, err := s.repo.ScanWindow(ctx, from, to, s.maxScan)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to search audit trail")
	}

	filtered := entries[:0]
	for _, entry := range entries {
		if q.Event != "" && entry.Event != q.Event {
			continue
		}
		if q.Status != "" && entry.Status != q.Status {
			continue
		}
		if q.Actor != "" && !strings.Contains(strings.ToLower(entry.Actor), strings.ToLower(q.Actor)) {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered, nil
}

// Statistics is a pure reducer over a search result.
func (s *AuditService) Statistics(entries []models.AuditEntry) dto.AuditStatistics {
	stats := dto.AuditStatistics{
		Total:    len(entries),
		ByEvent:  make(map[string]int),
		ByStatus: make(map[string]int),
		ByMode:   make(map[string]int),
	}
	sized := 0
	for _, entry := range entries {
		stats.ByEvent[entry.Event]++
		stats.ByStatus[entry.Status]++
		if entry.DeliveryMode != "" {
			stats.ByMode[entry.DeliveryMode]++
		}
		if entry.Size > 0 {
			stats.TotalSize += entry.Size
			sized++
		}
	}
	if sized > 0 {
		stats.AverageSize = float64(stats.TotalSize) / float64(sized)
	}
	return stats
}

// RenderCSV renders entries as BOM-prefixed CSV in the fixed column order.
func (s *AuditService) RenderCSV(entries []models.AuditEntry) ([]byte, error) {
	return s.csv.Render(export.Dataset{Headers: auditColumns, Rows: entryRows(entries)})
}

// RenderPDF renders entries as a tabular PDF document.
func (s *AuditService) RenderPDF(entries []models.AuditEntry) ([]byte, error) {
	return s.pdf.Render(export.Dataset{Headers: auditColumns, Rows: entryRows(entries)}, "audit trail")
}

func entryRows(entries []models.AuditEntry) []map[string]string {
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		size := ""
		if entry.Size > 0 {
			size = fmt.Sprintf("%d", entry.Size)
		}
		rows = append(rows, map[string]string{
			"timestamp":        entry.Timestamp.Format(time.RFC3339),
			"event":            entry.Event,
			"actor":            entry.Actor,
			"subject_id":       entry.SubjectID,
			"file_name":        entry.FileName,
			"recipient_domain": entry.RecipientDomain,
			"delivery_mode":    entry.DeliveryMode,
			"reason":           entry.Reason,
			"size":             size,
			"status":           entry.Status,
		})
	}
	return rows
}
