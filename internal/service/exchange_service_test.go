package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/138data/datagate-poc-sub000/internal/dto"
	"github.com/138data/datagate-poc-sub000/internal/models"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
)

func TestUploadValidation(t *testing.T) {
	f := newGateFixture(t, testPolicy())

	cases := []struct {
		name string
		req  dto.UploadRequest
	}{
		{"missing file name", dto.UploadRequest{Recipient: "a@example.com", Sender: "b@example.com", Data: []byte("x")}},
		{"bad recipient", dto.UploadRequest{FileName: "f.txt", Recipient: "not-an-email", Sender: "b@example.com", Data: []byte("x")}},
		{"empty payload", dto.UploadRequest{FileName: "f.txt", Recipient: "a@example.com", Sender: "b@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.upload.Upload(context.Background(), &tc.req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestUploadSealsEverythingAtRest(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	payload := []byte("cleartext body")
	up := f.mustUpload(t, payload)

	rec, err := f.exchanges.Get(context.Background(), up.ID)
	require.NoError(t, err)
	assert.NotContains(t, rec.RecipientEnc, "alice")
	assert.NotContains(t, rec.SenderEnc, "bob")
	assert.NotContains(t, rec.FileNameEnc, "report")
	assert.Equal(t, "example.com", rec.RecipientDomain)

	stored, err := f.blobs.Get(context.Background(), rec.BlobKey)
	require.NoError(t, err)
	assert.NotEqual(t, payload, stored)
}

func TestUploadDeliveryModeDecision(t *testing.T) {
	cases := []struct {
		name      string
		policy    func(p *models.PolicyDocument)
		recipient string
		size      int
		want      models.DeliveryMode
	}{
		{"inline when small and allowed", func(p *models.PolicyDocument) {}, "a@example.com", 100, models.DeliveryModeInline},
		{"link when direct attach disabled", func(p *models.PolicyDocument) { p.EnableDirectAttach = false }, "a@example.com", 100, models.DeliveryModeLink},
		{"link when oversized", func(p *models.PolicyDocument) {}, "a@example.com", 2048, models.DeliveryModeLink},
		{"link for foreign domain", func(p *models.PolicyDocument) {}, "a@elsewhere.net", 100, models.DeliveryModeLink},
		{"inline for subdomain", func(p *models.PolicyDocument) {}, "a@mail.example.com", 100, models.DeliveryModeInline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := testPolicy()
			tc.policy(&policy)
			f := newGateFixture(t, policy)

			res, err := f.upload.Upload(context.Background(), &dto.UploadRequest{
				FileName:  "f.txt",
				Recipient: tc.recipient,
				Sender:    "b@sender.org",
				Data:      make([]byte, tc.size),
			})
			require.NoError(t, err)
			assert.Equal(t, string(tc.want), res.DeliveryMode)
		})
	}
}

func TestRevokeRequiresManagementToken(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	up := f.mustUpload(t, []byte("payload"))

	_, err := f.upload.Revoke(context.Background(), up.ID, "forged-token", false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = f.upload.Revoke(context.Background(), up.ID, up.ManagementToken, false)
	require.NoError(t, err)
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	up := f.mustUpload(t, []byte("payload"))

	first, err := f.upload.Revoke(context.Background(), up.ID, up.ManagementToken, false)
	require.NoError(t, err)
	second, err := f.upload.Revoke(context.Background(), up.ID, up.ManagementToken, false)
	require.NoError(t, err)
	assert.Equal(t, first.RevokedAt, second.RevokedAt)

	require.Len(t, f.audit.byEvent(models.AuditEventRevoke), 2)
}

func TestRevokeByAdminSkipsToken(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	up := f.mustUpload(t, []byte("payload"))

	res, err := f.upload.Revoke(context.Background(), up.ID, "", true)
	require.NoError(t, err)
	assert.False(t, res.RevokedAt.IsZero())
}

func TestRevokeDeletesBlob(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	up := f.mustUpload(t, []byte("payload"))

	_, err := f.upload.Revoke(context.Background(), up.ID, up.ManagementToken, false)
	require.NoError(t, err)

	f.blobs.mu.Lock()
	_, ok := f.blobs.blobs[up.ID]
	f.blobs.mu.Unlock()
	assert.False(t, ok)
}

func TestRevokeUnknownExchange(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	_, err := f.upload.Revoke(context.Background(), "missing", "", true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDomainMatches(t *testing.T) {
	assert.True(t, domainMatches("example.com", "example.com"))
	assert.True(t, domainMatches("mail.example.com", "example.com"))
	assert.True(t, domainMatches("Example.COM", "example.com"))
	assert.False(t, domainMatches("notexample.com", "example.com"))
	assert.False(t, domainMatches("example.com", ""))
}
