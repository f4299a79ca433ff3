package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/138data/datagate-poc-sub000/api/swagger"
	"github.com/138data/datagate-poc-sub000/internal/handler"
	"github.com/138data/datagate-poc-sub000/internal/middleware"
	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/internal/repository"
	"github.com/138data/datagate-poc-sub000/internal/service"
	"github.com/138data/datagate-poc-sub000/pkg/cache"
	"github.com/138data/datagate-poc-sub000/pkg/config"
	"github.com/138data/datagate-poc-sub000/pkg/logger"
	corsmiddleware "github.com/138data/datagate-poc-sub000/pkg/middleware/cors"
	reqidmiddleware "github.com/138data/datagate-poc-sub000/pkg/middleware/requestid"
	"github.com/138data/datagate-poc-sub000/pkg/ratelimit"
	"github.com/138data/datagate-poc-sub000/pkg/storage"
	"github.com/138data/datagate-poc-sub000/pkg/token"
	"github.com/138data/datagate-poc-sub000/pkg/vault"
)

// @title DataGate API
// @version 0.1.0
// @description Secure file exchange gateway
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close()

	blobs, err := newBlobStore(cfg, rdb)
	if err != nil {
		logr.Sugar().Fatalw("failed to init blob store", "error", err)
	}

	exchangeRepo := repository.NewExchangeRepository(rdb)
	policyRepo := repository.NewPolicyRepository(rdb)
	auditRepo := repository.NewAuditRepository(rdb)

	metricsSvc := service.NewMetricsService()
	auditSvc := service.NewAuditService(auditRepo, logr, cfg.Audit)
	policySvc := service.NewPolicyService(policyRepo, auditSvc, logr, cfg.Policy)

	notifySvc := service.NewNotifyService(&service.LogMailer{Logger: logr}, auditSvc, metricsSvc, logr, cfg.Mailer)

	v := vault.New()
	signer := token.NewSigner(cfg.Vault.ManagementToken.Secret, cfg.Vault.ManagementToken.TTL)
	limiter := ratelimit.New(ratelimit.NewRedisCounterStore(rdb), logr, cfg.RateLimit.StoreTimeout)

	exchangeSvc := service.NewExchangeService(exchangeRepo, blobs, v, policySvc, auditSvc, notifySvc, signer, logr, cfg.Vault.MasterSecret)
	otpSvc := service.NewOTPService(exchangeRepo, blobs, v, policySvc, auditSvc, limiter, notifySvc, logr, service.OTPConfig{
		MasterSecret:  cfg.Vault.MasterSecret,
		RequestCap:    cfg.RateLimit.OTPCap,
		RequestWindow: cfg.RateLimit.OTPWindow,
	})
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AdminEmail:    cfg.Admin.Email,
		AdminPassword: cfg.Admin.Password,
		TokenSecret:   cfg.JWT.Secret,
		TokenExpiry:   cfg.JWT.Expiration,
		Issuer:        "datagate",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifySvc.Start(ctx)
	defer notifySvc.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	exchangeHandler := handler.NewExchangeHandler(exchangeSvc, otpSvc, metricsSvc)
	policyHandler := handler.NewPolicyHandler(policySvc)
	auditHandler := handler.NewAuditHandler(auditSvc)
	authHandler := handler.NewAuthHandler(authSvc)

	rl := cfg.RateLimit
	var limitUpload, limitOTP, limitVerify gin.HandlerFunc
	if rl.Enabled {
		limitUpload = middleware.RateLimit(limiter, auditSvc, metricsSvc, "upload", rl.UploadCap, rl.UploadWindow)
		limitOTP = middleware.RateLimit(limiter, auditSvc, metricsSvc, "otp", rl.OTPCap, rl.OTPWindow)
		limitVerify = middleware.RateLimit(limiter, auditSvc, metricsSvc, "verify", rl.VerifyCap, rl.VerifyWindow)
	} else {
		passthrough := func(c *gin.Context) { c.Next() }
		limitUpload, limitOTP, limitVerify = passthrough, passthrough, passthrough
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)

		api.POST("/exchanges", limitUpload, exchangeHandler.Upload)
		api.POST("/exchanges/:id/otp", limitOTP, exchangeHandler.RequestCode)
		api.POST("/exchanges/:id/verify", limitVerify, exchangeHandler.Verify)
		api.DELETE("/exchanges/:id", middleware.OptionalJWT(authSvc), exchangeHandler.Revoke)

		admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		{
			admin.GET("/policy", policyHandler.Get)
			admin.PUT("/policy", policyHandler.Update)
			admin.POST("/policy/reset", policyHandler.Reset)
			admin.GET("/policy/history", policyHandler.History)
			admin.GET("/policy/export", policyHandler.Export)
			admin.POST("/policy/import", policyHandler.Import)

			admin.GET("/audit", auditHandler.Search)
			admin.GET("/audit/export", auditHandler.Export)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}

func newBlobStore(cfg *config.Config, rdb *redis.Client) (storage.BlobStore, error) {
	if cfg.Blob.Backend == "local" {
		return storage.NewLocalBlobStore(cfg.Blob.LocalDir)
	}
	return storage.NewRedisBlobStore(rdb), nil
}
