package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Vault     VaultConfig
	Policy    PolicyConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Mailer    MailerConfig
	Blob      BlobConfig
	Admin     AdminConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// VaultConfig holds the service-level secrets used for encryption and tokens.
type VaultConfig struct {
	MasterSecret    string
	ManagementToken TokenConfig
}

// TokenConfig tunes HMAC management tokens issued to uploaders.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
}

// PolicyConfig overrides the compiled-in policy defaults at boot.
type PolicyConfig struct {
	EnableDirectAttach  bool
	DirectAttachMaxSize int64
	AllowedDomains      []string
	MaxDownloads        int
	FileTTL             time.Duration
	OTPTTL              time.Duration
	OTPMaxAttempts      int
	OTPLockoutDuration  time.Duration
	HistoryTTL          time.Duration
	CacheTTL            time.Duration
}

// RateLimitConfig caps public endpoint traffic.
type RateLimitConfig struct {
	Enabled      bool
	UploadCap    int
	UploadWindow time.Duration
	OTPCap       int
	OTPWindow    time.Duration
	VerifyCap    int
	VerifyWindow time.Duration
	StoreTimeout time.Duration
}

// AuditConfig controls ledger retention and search bounds.
type AuditConfig struct {
	RetentionTTL time.Duration
	MaxScanKeys  int
}

// MailerConfig configures outbound notification delivery.
type MailerConfig struct {
	Enabled           bool
	From              string
	BaseURL           string
	SendTimeout       time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
}

// BlobConfig selects the ciphertext store backend.
type BlobConfig struct {
	Backend   string // "redis" or "local"
	LocalDir  string
	OpTimeout time.Duration
}

// AdminConfig seeds the admin console credential.
type AdminConfig struct {
	Email    string
	Password string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env:       v.GetString("ENV"),
		Port:      v.GetInt("PORT"),
		APIPrefix: v.GetString("API_PREFIX"),
	}

	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return nil, errors.New("ENV must be development or production")
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Vault = VaultConfig{
		MasterSecret: v.GetString("VAULT_MASTER_SECRET"),
		ManagementToken: TokenConfig{
			Secret: v.GetString("MANAGEMENT_TOKEN_SECRET"),
			TTL:    parseDuration(v.GetString("MANAGEMENT_TOKEN_TTL"), 7*24*time.Hour),
		},
	}

	cfg.Policy = PolicyConfig{
		EnableDirectAttach:  v.GetBool("POLICY_ENABLE_DIRECT_ATTACH"),
		DirectAttachMaxSize: v.GetInt64("POLICY_DIRECT_ATTACH_MAX_SIZE"),
		AllowedDomains:      splitAndTrim(v.GetString("POLICY_ALLOWED_DIRECT_DOMAINS")),
		MaxDownloads:        v.GetInt("POLICY_MAX_DOWNLOADS"),
		FileTTL:             parseDuration(v.GetString("POLICY_FILE_TTL"), 72*time.Hour),
		OTPTTL:              parseDuration(v.GetString("POLICY_OTP_TTL"), 10*time.Minute),
		OTPMaxAttempts:      v.GetInt("POLICY_OTP_MAX_ATTEMPTS"),
		OTPLockoutDuration:  parseDuration(v.GetString("POLICY_OTP_LOCKOUT_DURATION"), 30*time.Minute),
		HistoryTTL:          parseDuration(v.GetString("POLICY_HISTORY_TTL"), 90*24*time.Hour),
		CacheTTL:            parseDuration(v.GetString("POLICY_CACHE_TTL"), 30*time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:      v.GetBool("RATE_LIMIT_ENABLED"),
		UploadCap:    v.GetInt("RATE_LIMIT_UPLOAD_CAP"),
		UploadWindow: parseDuration(v.GetString("RATE_LIMIT_UPLOAD_WINDOW"), time.Hour),
		OTPCap:       v.GetInt("RATE_LIMIT_OTP_CAP"),
		OTPWindow:    parseDuration(v.GetString("RATE_LIMIT_OTP_WINDOW"), 10*time.Minute),
		VerifyCap:    v.GetInt("RATE_LIMIT_VERIFY_CAP"),
		VerifyWindow: parseDuration(v.GetString("RATE_LIMIT_VERIFY_WINDOW"), 10*time.Minute),
		StoreTimeout: parseDuration(v.GetString("RATE_LIMIT_STORE_TIMEOUT"), 2*time.Second),
	}

	cfg.Audit = AuditConfig{
		RetentionTTL: parseDuration(v.GetString("AUDIT_RETENTION_TTL"), 30*24*time.Hour),
		MaxScanKeys:  v.GetInt("AUDIT_MAX_SCAN_KEYS"),
	}

	cfg.Mailer = MailerConfig{
		Enabled:           v.GetBool("MAILER_ENABLED"),
		From:              v.GetString("MAILER_FROM"),
		BaseURL:           v.GetString("MAILER_BASE_URL"),
		SendTimeout:       parseDuration(v.GetString("MAILER_SEND_TIMEOUT"), 10*time.Second),
		WorkerConcurrency: v.GetInt("MAILER_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("MAILER_WORKER_RETRIES"),
		RetryDelay:        parseDuration(v.GetString("MAILER_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Blob = BlobConfig{
		Backend:   v.GetString("BLOB_BACKEND"),
		LocalDir:  v.GetString("BLOB_LOCAL_DIR"),
		OpTimeout: parseDuration(v.GetString("BLOB_OP_TIMEOUT"), 5*time.Second),
	}

	cfg.Admin = AdminConfig{
		Email:    v.GetString("ADMIN_EMAIL"),
		Password: v.GetString("ADMIN_PASSWORD"),
	}

	if cfg.Env == EnvProduction {
		if cfg.Vault.MasterSecret == "" || cfg.Vault.MasterSecret == "dev_vault_secret" {
			return nil, errors.New("VAULT_MASTER_SECRET must be set in production")
		}
		if cfg.JWT.Secret == "" || cfg.JWT.Secret == "dev_secret" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("VAULT_MASTER_SECRET", "dev_vault_secret")
	v.SetDefault("MANAGEMENT_TOKEN_SECRET", "dev_token_secret")
	v.SetDefault("MANAGEMENT_TOKEN_TTL", "168h")

	v.SetDefault("POLICY_ENABLE_DIRECT_ATTACH", false)
	v.SetDefault("POLICY_DIRECT_ATTACH_MAX_SIZE", 5*1024*1024)
	v.SetDefault("POLICY_ALLOWED_DIRECT_DOMAINS", "")
	v.SetDefault("POLICY_MAX_DOWNLOADS", 3)
	v.SetDefault("POLICY_FILE_TTL", "72h")
	v.SetDefault("POLICY_OTP_TTL", "10m")
	v.SetDefault("POLICY_OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("POLICY_OTP_LOCKOUT_DURATION", "30m")
	v.SetDefault("POLICY_HISTORY_TTL", "2160h")
	v.SetDefault("POLICY_CACHE_TTL", "30s")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_UPLOAD_CAP", 20)
	v.SetDefault("RATE_LIMIT_UPLOAD_WINDOW", "1h")
	v.SetDefault("RATE_LIMIT_OTP_CAP", 5)
	v.SetDefault("RATE_LIMIT_OTP_WINDOW", "10m")
	v.SetDefault("RATE_LIMIT_VERIFY_CAP", 15)
	v.SetDefault("RATE_LIMIT_VERIFY_WINDOW", "10m")
	v.SetDefault("RATE_LIMIT_STORE_TIMEOUT", "2s")

	v.SetDefault("AUDIT_RETENTION_TTL", "720h")
	v.SetDefault("AUDIT_MAX_SCAN_KEYS", 5000)

	v.SetDefault("MAILER_ENABLED", false)
	v.SetDefault("MAILER_FROM", "no-reply@datagate.local")
	v.SetDefault("MAILER_BASE_URL", "http://localhost:8080")
	v.SetDefault("MAILER_SEND_TIMEOUT", "10s")
	v.SetDefault("MAILER_WORKER_CONCURRENCY", 2)
	v.SetDefault("MAILER_WORKER_RETRIES", 3)
	v.SetDefault("MAILER_RETRY_DELAY", "5s")

	v.SetDefault("BLOB_BACKEND", "redis")
	v.SetDefault("BLOB_LOCAL_DIR", "./blobs")
	v.SetDefault("BLOB_OP_TIMEOUT", "5s")

	v.SetDefault("ADMIN_EMAIL", "admin@datagate.local")
	v.SetDefault("ADMIN_PASSWORD", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
