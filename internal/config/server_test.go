package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadServerConfig_DefaultEnvironment(t *testing.T) {
	os.Unsetenv("ENV")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("ENV", "invalid")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q for invalid ENV, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_ValidEnvironments(t *testing.T) {
	tests := []struct {
		env  string
		want Environment
	}{
		{"development", EnvDevelopment},
		{"staging", EnvStaging},
		{"production", EnvProduction},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			cfg := LoadServerConfig()
			if cfg.Environment != tt.want {
				t.Errorf("expected %q, got %q", tt.want, cfg.Environment)
			}
		})
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"LISTEN_ADDR", "PORT", "TRIGGER_TIMEOUT", "WS_PING_INTERVAL", "WS_PONG_TIMEOUT",
		"UPLOAD_SESSION_TTL", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_PERIOD", "S3_BUCKET", "API_DOCS_ENABLED",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_LIFETIME", "DB_MAX_CONN_IDLE_TIME",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadServerConfig()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.TriggerTimeout != 10*time.Minute {
		t.Errorf("TriggerTimeout = %v, want 10m", cfg.TriggerTimeout)
	}
	if cfg.WSPingInterval != 30*time.Second || cfg.WSPongTimeout != 60*time.Second {
		t.Errorf("keepalive = %v/%v, want 30s/60s", cfg.WSPingInterval, cfg.WSPongTimeout)
	}
	if cfg.UploadSessionTTL != time.Hour {
		t.Errorf("UploadSessionTTL = %v, want 1h", cfg.UploadSessionTTL)
	}
	if cfg.RateLimitRequests != 100 || cfg.RateLimitPeriod != "1m" {
		t.Errorf("rate limit = %d per %s, want 100 per 1m", cfg.RateLimitRequests, cfg.RateLimitPeriod)
	}
	if cfg.UseS3() {
		t.Error("UseS3() = true without S3_BUCKET")
	}
	if cfg.DBMaxConns != 10 || cfg.DBMinConns != 2 {
		t.Errorf("db conns = %d/%d, want 10/2", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.DBMaxConnLifetime != time.Hour || cfg.DBMaxConnIdleTime != 30*time.Minute {
		t.Errorf("db lifetime/idle = %v/%v, want 1h/30m", cfg.DBMaxConnLifetime, cfg.DBMaxConnIdleTime)
	}
	if !cfg.DocsEnabled {
		t.Error("DocsEnabled = false by default")
	}
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "9090")
	t.Setenv("TRIGGER_TIMEOUT", "90s")
	t.Setenv("WS_PING_INTERVAL", "nonsense")
	t.Setenv("RATE_LIMIT_REQUESTS", "-4")
	t.Setenv("S3_BUCKET", "backups")
	t.Setenv("API_DOCS_ENABLED", "no")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_MIN_CONNS", "0")
	t.Setenv("DB_MAX_CONN_IDLE_TIME", "5m")

	cfg := LoadServerConfig()
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.TriggerTimeout != 90*time.Second {
		t.Errorf("TriggerTimeout = %v, want 90s", cfg.TriggerTimeout)
	}
	if cfg.WSPingInterval != 30*time.Second {
		t.Errorf("invalid WS_PING_INTERVAL gave %v, want default", cfg.WSPingInterval)
	}
	if cfg.RateLimitRequests != 100 {
		t.Errorf("negative RATE_LIMIT_REQUESTS gave %d, want default", cfg.RateLimitRequests)
	}
	if !cfg.UseS3() {
		t.Error("UseS3() = false with S3_BUCKET set")
	}
	if cfg.DocsEnabled {
		t.Error("DocsEnabled = true with API_DOCS_ENABLED=no")
	}
	if cfg.DBMaxConns != 25 || cfg.DBMinConns != 0 || cfg.DBMaxConnIdleTime != 5*time.Minute {
		t.Errorf("db pool = %d/%d idle %v, want 25/0 idle 5m", cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnIdleTime)
	}
}

func TestServerConfig_Validate(t *testing.T) {
	valid := ServerConfig{
		DatabaseURL:    "postgres://localhost/strongbox",
		AdminToken:     "secret",
		DBMaxConns:     10,
		DBMinConns:     2,
		WSPingInterval: 30 * time.Second,
		WSPongTimeout:  60 * time.Second,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		modify func(c *ServerConfig)
	}{
		{"missing database", func(c *ServerConfig) { c.DatabaseURL = "" }},
		{"missing admin token", func(c *ServerConfig) { c.AdminToken = "" }},
		{"pong not after ping", func(c *ServerConfig) { c.WSPongTimeout = c.WSPingInterval }},
		{"empty pool", func(c *ServerConfig) { c.DBMaxConns = 0 }},
		{"min conns above max", func(c *ServerConfig) { c.DBMinConns = 11 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() error = nil")
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"false", true, false},
		{"0", true, false},
		{"", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("STRONGBOX_TEST_BOOL", tt.val)
			if got := getEnvBool("STRONGBOX_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
			}
		})
	}
}
