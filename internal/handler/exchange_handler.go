package handler

import (
	"context"
	"io"
	"mime/multipart"
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

// maxUploadBytes caps the multipart body before any parsing happens.
const maxUploadBytes = 100 << 20

type exchangeService interface {
	Upload(ctx context.Context, req *dto.UploadRequest) (*dto.UploadResponse, error)
	Revoke(ctx context.Context, exchangeID, mgmtToken string, isAdmin bool) (*dto.RevokeResponse, error)
}

type otpService interface {
	RequestCode(ctx context.Context, exchangeID string) (*dto.RequestCodeResponse, error)
	Verify(ctx context.Context, exchangeID, code, address string) (*dto.VerifyResult, error)
}

// ExchangeHandler wires the public exchange endpoints.
type ExchangeHandler struct {
	exchanges exchangeService
	otp       otpService
	metrics   *service.MetricsService
}

// NewExchangeHandler creates a new handler.
func NewExchangeHandler(exchanges exchangeService, otp otpService, metrics *service.MetricsService) *ExchangeHandler {
	return &ExchangeHandler{exchanges: exchanges, otp: otp, metrics: metrics}
}

// Upload godoc
// @Summary Create an exchange
// @Description Accept a file plus recipient address and seal it into a new exchange
// @Tags Exchanges
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to share"
// @Param recipient formData string true "Recipient email"
// @Param sender formData string true "Sender email"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exchanges [post]
func (h *ExchangeHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a file part is required"))
		return
	}
	data, err := readFilePart(fileHeader)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read file part"))
		return
	}

	req := &dto.UploadRequest{
		FileName:  fileHeader.Filename,
		Recipient: c.PostForm("recipient"),
		Sender:    c.PostForm("sender"),
		Data:      data,
	}

	res, err := h.exchanges.Upload(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveUpload(int64(len(data)))
	response.Created(c, res)
}

// RequestCode godoc
// @Summary Request an access code
// @Description Issue a fresh one-time code and deliver it to the recipient
// @Tags Exchanges
// @Produce json
// @Param id path string true "Exchange ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /exchanges/{id}/otp [post]
func (h *ExchangeHandler) RequestCode(c *gin.Context) {
	res, err := h.otp.RequestCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// Verify godoc
// @Summary Verify a code and download
// @Description Check the one-time code and stream the decrypted file on success
// @Tags Exchanges
// @Accept json
// @Produce octet-stream
// @Param id path string true "Exchange ID"
// @Param payload body dto.VerifyRequest true "Verification payload"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /exchanges/{id}/verify [post]
func (h *ExchangeHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a code is required"))
		return
	}

	result, err := h.otp.Verify(c.Request.Context(), c.Param("id"), req.Code, req.Address)
	if err != nil {
		h.metrics.ObserveVerify(appErrors.FromError(err).Code)
		// Integrity failures stay generic at the edge; the precise kind is
		// already in the audit trail and must not leak to the caller.
		if appErrors.Is(err, appErrors.ErrIntegrity) {
			err = appErrors.Clone(appErrors.ErrInternal, "the download could not be completed")
		}
		response.Error(c, err)
		return
	}

	h.metrics.ObserveVerify("granted")
	c.Header("Content-Disposition", `attachment; filename="`+sanitizeFilename(result.FileName)+`"`)
	c.Header("X-Download-Count", strconv.Itoa(result.DownloadCount))
	c.Data(http.StatusOK, "application/octet-stream", result.Plaintext)
}

// Revoke godoc
// @Summary Revoke an exchange
// @Description Tear down an exchange using the sender management token or an admin session
// @Tags Exchanges
// @Produce json
// @Param id path string true "Exchange ID"
// @Param X-Management-Token header string false "Sender management token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /exchanges/{id} [delete]
func (h *ExchangeHandler) Revoke(c *gin.Context) {
	isAdmin := false
	if claimsValue, ok := c.Get(middleware.ContextUserKey); ok {
		if claims, ok := claimsValue.(*models.JWTClaims); ok && claims.Role == models.RoleAdmin {
			isAdmin = true
		}
	}

	res, err := h.exchanges.Revoke(c.Request.Context(), c.Param("id"), c.GetHeader("X-Management-Token"), isAdmin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

func readFilePart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// sanitizeFilename strips characters that would break the header quoting.
func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '"', '\\', '\r', '\n':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "download"
	}
	return string(out)
}
