package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
	"github.com/138data/datagate-poc-sub000/pkg/response"
)

type auditService interface {
	Search(ctx context.Context, q dto.AuditSearchQuery) ([]models.AuditEntry, error)
	Statistics(entries []models.AuditEntry) dto.AuditStatistics
	RenderCSV(entries []models.AuditEntry) ([]byte, error)
	RenderPDF(entries []models.AuditEntry) ([]byte, error)
}

// AuditHandler wires the admin audit trail endpoints.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler creates a new handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// Search godoc
// @Summary Search the audit trail
// @Tags Audit
// @Produce json
// @Param days query int false "Days back from now (default 7)"
// @Param event query string false "Event filter"
// @Param actor query string false "Actor substring filter"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /admin/audit [get]
func (h *AuditHandler) Search(c *gin.Context) {
	var q dto.AuditSearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid search query"))
		return
	}

	entries, err := h.service.Search(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entries, map[string]interface{}{
		"count": len(entries),
		"stats": h.service.Statistics(entries),
	})
}

// Export godoc
// @Summary Export the audit trail
// @Description Render the matching entries as CSV or PDF
// @Tags Audit
// @Produce octet-stream
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /admin/audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	var q dto.AuditSearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid search query"))
		return
	}

	entries, err := h.service.Search(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	switch c.DefaultQuery("format", "csv") {
	case "csv":
		payload, err := h.service.RenderCSV(entries)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="audit-`+stamp+`.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", payload)
	case "pdf":
		payload, err := h.service.RenderPDF(entries)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="audit-`+stamp+`.pdf"`)
		c.Data(http.StatusOK, "application/pdf", payload)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
	}
}
