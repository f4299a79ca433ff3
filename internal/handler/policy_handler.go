package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/middleware"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/service"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
	"github.com/138data/datagate-poc-sub000/pkg/response"
)

// maxImportBytes caps an imported policy document.
const maxImportBytes = 1 << 20

type policyService interface {
	Current(ctx context.Context) (*models.PolicyDocument, error)
	Update(ctx context.Context, partial dto.PolicyUpdateRequest, updatedBy string) (*models.PolicyDocument, error)
	Reset(ctx context.Context, updatedBy string) (*models.PolicyDocument, error)
	History(ctx context.Context, limit int) ([]models.PolicyChangeEntry, error)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, payload []byte, updatedBy string) (*models.PolicyDocument, error)
}

// PolicyHandler wires the admin policy endpoints.
type PolicyHandler struct {
	service policyService
}

// NewPolicyHandler creates a new handler.
func NewPolicyHandler(svc policyService) *PolicyHandler {
	return &PolicyHandler{service: svc}
}

// Get godoc
// @Summary Current policy
// @Tags Policy
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/policy [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	doc, err := h.service.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, service.View(doc))
}

// Update godoc
// @Summary Update policy fields
// @Description Apply a partial update; the whole request is validated and committed atomically
// @Tags Policy
// @Accept json
// @Produce json
// @Param payload body dto.PolicyUpdateRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/policy [put]
func (h *PolicyHandler) Update(c *gin.Context) {
	var req dto.PolicyUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid policy payload"))
		return
	}

	doc, err := h.service.Update(c.Request.Context(), req, adminEmail(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, service.View(doc))
}

// Reset godoc
// @Summary Reset policy to defaults
// @Tags Policy
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/policy/reset [post]
func (h *PolicyHandler) Reset(c *gin.Context) {
	doc, err := h.service.Reset(c.Request.Context(), adminEmail(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, service.View(doc))
}

// History godoc
// @Summary Policy change history
// @Tags Policy
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /admin/policy/history [get]
func (h *PolicyHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// Export godoc
// @Summary Export policy as JSON
// @Tags Policy
// @Produce json
// @Success 200 {file} binary
// @Router /admin/policy/export [get]
func (h *PolicyHandler) Export(c *gin.Context) {
	payload, err := h.service.Export(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="policy.json"`)
	c.Data(http.StatusOK, "application/json", payload)
}

// Import godoc
// @Summary Import a policy document
// @Description Replace the policy with an exported document after full validation
// @Tags Policy
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/policy/import [post]
func (h *PolicyHandler) Import(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read policy document"))
		return
	}

	doc, err := h.service.Import(c.Request.Context(), payload, adminEmail(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, service.View(doc))
}

// adminEmail resolves the acting admin from the JWT claims set upstream.
func adminEmail(c *gin.Context) string {
	claimsValue, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return "unknown"
	}
	claims, ok := claimsValue.(*models.JWTClaims)
	if !ok || claims.Email == "" {
		return "unknown"
	}
	return claims.Email
}
