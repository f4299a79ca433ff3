package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
)

type auditServiceMock struct {
	entries []models.AuditEntry
	query   dto.AuditSearchQuery
}

func (m *auditServiceMock) Search(ctx context.Context, q dto.AuditSearchQuery) ([]models.AuditEntry, error) {
	m.query = q
	return m.entries, nil
}

func (m *auditServiceMock) Statistics(entries []models.AuditEntry) dto.AuditStatistics {
	return dto.AuditStatistics{Total: len(entries)}
}

func (m *auditServiceMock) RenderCSV(entries []models.AuditEntry) ([]byte, error) {
	return []byte("\xef\xbb\xbftimestamp,event\n"), nil
}

func (m *auditServiceMock) RenderPDF(entries []models.AuditEntry) ([]byte, error) {
	return []byte("%PDF-1.3 fake"), nil
}

func auditContext(t *testing.T, target string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	c.Request = req
	return w, c
}

func TestAuditHandlerSearch(t *testing.T) {
	mock := &auditServiceMock{entries: []models.AuditEntry{{Event: models.AuditEventUpload}}}
	handler := NewAuditHandler(mock)

	w, c := auditContext(t, "/admin/audit?days=14&event=upload")
	handler.Search(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 14, mock.query.Days)
	assert.Equal(t, "upload", mock.query.Event)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestAuditHandlerSearchBadStatus(t *testing.T) {
	handler := NewAuditHandler(&auditServiceMock{})
	w, c := auditContext(t, "/admin/audit?status=bogus")
	handler.Search(c)
	// Unknown status values pass through binding; the filter just matches nothing.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditHandlerExportCSV(t *testing.T) {
	handler := NewAuditHandler(&auditServiceMock{})
	w, c := auditContext(t, "/admin/audit/export?format=csv")
	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
}

func TestAuditHandlerExportPDF(t *testing.T) {
	handler := NewAuditHandler(&auditServiceMock{})
	w, c := auditContext(t, "/admin/audit/export?format=pdf")
	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestAuditHandlerExportDefaultsToCSV(t *testing.T) {
	handler := NewAuditHandler(&auditServiceMock{})
	w, c := auditContext(t, "/admin/audit/export")
	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
}

func TestAuditHandlerExportUnknownFormat(t *testing.T) {
	handler := NewAuditHandler(&auditServiceMock{})
	w, c := auditContext(t, "/admin/audit/export?format=xml")
	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
