// Package config provides configuration management for Strongbox.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string
	DatabaseURL string
	RedisURL    string
	AdminToken  string

	DBMaxConns        int32
	DBMinConns        int32
	DBMaxConnLifetime time.Duration // pooled connections are recycled after this (default: 1h)
	DBMaxConnIdleTime time.Duration // idle connections above the minimum are closed after this (default: 30m)

	TriggerTimeout time.Duration // how long a trigger waits for the agent's result (default: 10m)
	WSPingInterval time.Duration // server keepalive ping period (default: 30s)
	WSPongTimeout  time.Duration // socket is dropped when no pong arrives in time (default: 60s)

	UploadDir           string
	UploadSessionTTL    time.Duration // idle chunked sessions are discarded after this (default: 1h)
	MaxUploadChunkBytes int64
	UploadChunkSize     int64

	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	RateLimitRequests int64
	RateLimitPeriod   string

	DocsEnabled bool // serve the swagger UI at /api/docs (default: true)
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":" + getEnv("PORT", "8080")
	}

	rateLimitRequests := getEnvInt64("RATE_LIMIT_REQUESTS", 100)
	if rateLimitRequests <= 0 {
		rateLimitRequests = 100
	}

	return ServerConfig{
		Environment:         env,
		ListenAddr:          listenAddr,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		DBMaxConns:          int32(getEnvInt64("DB_MAX_CONNS", 10)),
		DBMinConns:          int32(getEnvInt64("DB_MIN_CONNS", 2)),
		DBMaxConnLifetime:   getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		DBMaxConnIdleTime:   getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		TriggerTimeout:      getEnvDuration("TRIGGER_TIMEOUT", 10*time.Minute),
		WSPingInterval:      getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		WSPongTimeout:       getEnvDuration("WS_PONG_TIMEOUT", 60*time.Second),
		UploadDir:           getEnv("UPLOAD_DIR", "data/uploads"),
		UploadSessionTTL:    getEnvDuration("UPLOAD_SESSION_TTL", time.Hour),
		MaxUploadChunkBytes: getEnvInt64("MAX_UPLOAD_CHUNK_BYTES", 16*1024*1024),
		UploadChunkSize:     getEnvInt64("UPLOAD_CHUNK_SIZE", 8*1024*1024),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3Prefix:            os.Getenv("S3_PREFIX"),
		S3Region:            os.Getenv("S3_REGION"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:       os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:   os.Getenv("S3_SECRET_ACCESS_KEY"),
		RateLimitRequests:   rateLimitRequests,
		RateLimitPeriod:     getEnv("RATE_LIMIT_PERIOD", "1m"),
		DocsEnabled:         getEnvBool("API_DOCS_ENABLED", true),
	}
}

// Validate checks the settings the server cannot start without.
func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.AdminToken == "" {
		return errors.New("ADMIN_TOKEN is required")
	}
	if c.DBMaxConns < 1 {
		return errors.New("DB_MAX_CONNS must be at least 1")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return errors.New("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.WSPongTimeout <= c.WSPingInterval {
		return errors.New("WS_PONG_TIMEOUT must be longer than WS_PING_INTERVAL")
	}
	return nil
}

// UseS3 reports whether finished uploads go to S3 instead of UploadDir.
func (c ServerConfig) UseS3() bool {
	return c.S3Bucket != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt64 reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration ("90s", "10m"), falling back to the default if unset, invalid or not positive.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
