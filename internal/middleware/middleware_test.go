package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/service"
	"github.com/138data/datagate-poc-sub000/pkg/ratelimit"
)

func testAuthService() *service.AuthService {
	return service.NewAuthService(nil, service.AuthConfig{
		AdminEmail:    "admin@test",
		AdminPassword: "secret",
		TokenSecret:   "middleware-test-secret",
		TokenExpiry:   time.Hour,
	})
}

func adminToken(t *testing.T, svc *service.AuthService) string {
	t.Helper()
	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@test", Password: "secret"})
	require.NoError(t, err)
	return res.AccessToken
}

func protectedRouter(svc *service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWT(svc), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestJWTAllowsValidToken(t *testing.T) {
	svc := testAuthService()
	r := protectedRouter(svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, svc))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	r := protectedRouter(testAuthService())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	r := protectedRouter(testAuthService())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTRejectsForeignToken(t *testing.T) {
	other := service.NewAuthService(nil, service.AuthConfig{
		AdminEmail:    "admin@test",
		AdminPassword: "secret",
		TokenSecret:   "another-secret",
		TokenExpiry:   time.Hour,
	})
	r := protectedRouter(testAuthService())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, other))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalJWTPassesThroughWithoutHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/open", OptionalJWT(testAuthService()), func(c *gin.Context) {
		_, authed := c.Get(ContextUserKey)
		c.JSON(http.StatusOK, gin.H{"authed": authed})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/open", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authed":false`)
}

func TestRequireRolesRejectsMissingClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(ctx context.Context, subjectKey string, cap int, window time.Duration) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, ResetAt: time.Now().Add(30 * time.Second)}
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(ctx context.Context, subjectKey string, cap int, window time.Duration) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Remaining: cap}
}

type auditSpy struct {
	entries []models.AuditEntry
}

func (a *auditSpy) Record(ctx context.Context, entry *models.AuditEntry) {
	a.entries = append(a.entries, *entry)
}

func TestRateLimitBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audit := &auditSpy{}
	r := gin.New()
	r.POST("/upload", RateLimit(denyAllLimiter{}, audit, nil, "upload", 5, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/upload", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditEventRateLimited, audit.entries[0].Event)
}

func TestRateLimitAllows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/upload", RateLimit(allowAllLimiter{}, nil, nil, "upload", 5, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/upload", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}
