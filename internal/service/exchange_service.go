package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
	"github.com/138data/datagate-poc-sub000/pkg/storage"
	"github.com/138data/datagate-poc-sub000/pkg/token"
	"github.com/138data/datagate-poc-sub000/pkg/vault"
)

type uploadNotifier interface {
	NotifyUpload(to, exchangeID string, mode models.DeliveryMode, expiresAt time.Time)
}

// ExchangeService owns the intake and teardown ends of the lifecycle:
// sealing an upload into an exchange and revoking one on request.
type ExchangeService struct {
	exchanges exchangeStore
	blobs     storage.BlobStore
	vault     *vault.Vault
	policy    policyReader
	audit     auditRecorder
	notifier  uploadNotifier
	signer    *token.Signer
	validate  *validator.Validate
	logger    *zap.Logger

	masterSecret string
}

// NewExchangeService constructs an ExchangeService.
func NewExchangeService(exchanges exchangeStore, blobs storage.BlobStore, v *vault.Vault, policy policyReader, audit auditRecorder, notifier uploadNotifier, signer *token.Signer, logger *zap.Logger, masterSecret string) *ExchangeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeService{
		exchanges:    exchanges,
		blobs:        blobs,
		vault:        v,
		policy:       policy,
		audit:        audit,
		notifier:     notifier,
		signer:       signer,
		validate:     validator.New(),
		logger:       logger,
		masterSecret: masterSecret,
	}
}

// Upload seals the file, persists the exchange record, and hands the sender
// a management token. The plaintext is never stored.
func (s *ExchangeService) Upload(ctx context.Context, req *dto.UploadRequest) (*dto.UploadResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload request")
	}

	policy, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	passphrase := derivePassphrase(s.masterSecret, id)

	sealed, err := s.vault.Encrypt(req.Data, passphrase)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seal payload")
	}

	recipientEnc, err := s.vault.EncryptString(req.Recipient, passphrase)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seal metadata")
	}
	senderEnc, err := s.vault.EncryptString(req.Sender, passphrase)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seal metadata")
	}
	fileNameEnc, err := s.vault.EncryptString(req.FileName, passphrase)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seal metadata")
	}

	now := time.Now().UTC()
	domain := recipientDomain(req.Recipient)
	rec := &models.ExchangeRecord{
		ID:      id,
		BlobKey: id,
		Crypto: models.CryptoParams{
			Salt:  sealed.Salt,
			Nonce: sealed.Nonce,
			Tag:   sealed.Tag,
		},
		RecipientEnc:    recipientEnc,
		SenderEnc:       senderEnc,
		FileNameEnc:     fileNameEnc,
		RecipientDomain: domain,
		Size:            int64(len(req.Data)),
		DeliveryMode:    deliveryModeFor(policy, int64(len(req.Data)), domain),
		MaxDownloads:    policy.MaxDownloads,
		CreatedAt:       now,
		ExpiresAt:       now.Add(policy.FileTTL),
	}

	if err := s.blobs.Put(ctx, rec.BlobKey, sealed.Ciphertext, policy.FileTTL); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "file store unavailable")
	}
	if err := s.exchanges.Create(ctx, rec, policy.FileTTL); err != nil {
		if derr := s.blobs.Delete(ctx, rec.BlobKey); derr != nil {
			s.logger.Warn("failed to clean up orphaned blob", zap.String("blob_key", rec.BlobKey), zap.Error(derr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "exchange store unavailable")
	}

	mgmtToken, _, err := s.signer.Generate(id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue management token")
	}

	if s.notifier != nil {
		s.notifier.NotifyUpload(req.Recipient, id, rec.DeliveryMode, rec.ExpiresAt)
	}

	s.audit.Record(ctx, &models.AuditEntry{
		Event:           models.AuditEventUpload,
		Actor:           senderDomain(req.Sender),
		SubjectID:       id,
		FileName:        req.FileName,
		RecipientDomain: domain,
		DeliveryMode:    string(rec.DeliveryMode),
		Size:            rec.Size,
		Status:          models.AuditStatusSuccess,
	})

	return &dto.UploadResponse{
		ID:              id,
		DeliveryMode:    string(rec.DeliveryMode),
		ExpiresAt:       rec.ExpiresAt,
		MaxDownloads:    rec.MaxDownloads,
		ManagementToken: mgmtToken,
	}, nil
}

// Revoke tears an exchange down ahead of its expiry. Callers present either
// the sender's management token or an admin flag already checked upstream.
// Revoking an already revoked exchange succeeds and reports the original
// revocation time.
func (s *ExchangeService) Revoke(ctx context.Context, exchangeID, mgmtToken string, isAdmin bool) (*dto.RevokeResponse, error) {
	if !isAdmin {
		if err := s.signer.Verify(mgmtToken, exchangeID); err != nil {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "management token is missing or invalid")
		}
	}

	var revokedAt time.Time
	rec, err := s.exchanges.Update(ctx, exchangeID, func(rec *models.ExchangeRecord) error {
		if rec.RevokedAt != nil {
			revokedAt = *rec.RevokedAt
			return nil
		}
		revokedAt = time.Now().UTC()
		rec.RevokedAt = &revokedAt
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	if err := s.blobs.Delete(ctx, rec.BlobKey); err != nil && err != storage.ErrBlobNotFound {
		s.logger.Warn("failed to delete revoked blob", zap.String("blob_key", rec.BlobKey), zap.Error(err))
	}

	actor := "sender"
	if isAdmin {
		actor = "admin"
	}
	s.audit.Record(ctx, &models.AuditEntry{
		Event:           models.AuditEventRevoke,
		Actor:           actor,
		SubjectID:       exchangeID,
		RecipientDomain: rec.RecipientDomain,
		Status:          models.AuditStatusSuccess,
	})

	return &dto.RevokeResponse{ID: exchangeID, RevokedAt: revokedAt}, nil
}

// deliveryModeFor decides whether a payload may travel inline with the
// notification or only as a link. Inline requires direct attach to be
// enabled, the payload to fit the size cap, and the recipient domain to be
// explicitly allowed.
func deliveryModeFor(policy *models.PolicyDocument, size int64, domain string) models.DeliveryMode {
	if !policy.EnableDirectAttach || size > policy.DirectAttachMaxSize {
		return models.DeliveryModeLink
	}
	for _, allowed := range policy.AllowedDirectDomains {
		if domainMatches(domain, allowed) {
			return models.DeliveryModeInline
		}
	}
	return models.DeliveryModeLink
}

// domainMatches reports whether domain equals allowed or is a subdomain of it.
func domainMatches(domain, allowed string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	allowed = strings.ToLower(strings.TrimSpace(allowed))
	if allowed == "" {
		return false
	}
	return domain == allowed || strings.HasSuffix(domain, "."+allowed)
}

func recipientDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

func senderDomain(address string) string {
	return recipientDomain(address)
}
