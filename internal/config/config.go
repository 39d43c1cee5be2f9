package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアのバックエンド種別
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
	SessionStoreBolt     = "bolt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret        string // Bearerトークン署名用のHMAC鍵
	SessionCookieName    string
	SessionMaxAge        int // セッション有効期間（秒）。Cookieのmax-ageと共通
	SessionStore         string
	RedisURL             string
	SessionBoltPath      string
	SessionSweepInterval time.Duration

	// Store
	StoreTimeout time.Duration

	// Bearer token
	BearerTokenTTL time.Duration
	TokenIssuer    string

	// Rate Limit
	RateLimitLogin   int // req/min/IP
	RateLimitGeneral int // req/min/user

	// Server
	ServerPort        string
	BaseURL           string
	WorkerMetricsPort string // 空の場合ワーカーは/metricsを公開しない

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.SessionStore = getEnvString("SESSION_STORE", SessionStorePostgres)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.SessionStore == SessionStoreRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.SessionStore {
	case SessionStorePostgres, SessionStoreRedis, SessionStoreBolt:
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE: %q", cfg.SessionStore)
	}

	// Optional fields with defaults
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "codeial")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 6000)
	cfg.SessionBoltPath = getEnvString("SESSION_BOLT_PATH", "sessions.db")
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 3*time.Second)
	cfg.BearerTokenTTL = getEnvDuration("BEARER_TOKEN_TTL", time.Hour)
	cfg.TokenIssuer = getEnvString("TOKEN_ISSUER", "codeial")
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8000")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge)
	}

	return cfg, nil
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
