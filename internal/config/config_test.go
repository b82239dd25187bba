package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Node, cfg.Node)
	assert.Equal(t, d.Log, cfg.Log)
	assert.Equal(t, d.Store, cfg.Store)
	assert.Equal(t, d.Lock, cfg.Lock)
	assert.Equal(t, d.Executor, cfg.Executor)
	assert.Equal(t, d.Cleanup, cfg.Cleanup)
	assert.Equal(t, d.HTTP, cfg.HTTP)
	assert.Equal(t, d.StrategiesFile, cfg.StrategiesFile)
	assert.Empty(t, cfg.Security.PIIPatterns)
	assert.Empty(t, cfg.Security.EncryptionKey)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "stratum.yaml", `
node:
  id: node-a
store:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
  session_ttl: 1h
lock:
  ttl: 30s
executor:
  max_attempts: 3
security:
  pii_patterns: ["(?i)password", "email"]
`)

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, "stratum:", cfg.Store.Redis.Prefix, "unset keys keep their defaults")
	assert.Equal(t, time.Hour, cfg.Store.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.Equal(t, []string{"(?i)password", "email"}, cfg.Security.PIIPatterns)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "stratum.yaml", "node:\n  id: from-file\n")
	t.Setenv("STRATUM_NODE_ID", "from-env")
	t.Setenv("STRATUM_LOCK_TTL", "45s")
	t.Setenv("STRATUM_HTTP_ADDR", ":9090")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node.ID)
	assert.Equal(t, 45*time.Second, cfg.Lock.TTL)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"redis without addr", func(c *Config) { c.Store.Backend = BackendRedis; c.Store.Redis.Addr = "" }, "store.redis.addr"},
		{"empty node", func(c *Config) { c.Node.ID = "" }, "node.id"},
		{"zero lock ttl", func(c *Config) { c.Lock.TTL = 0 }, "lock.ttl"},
		{"zero cleanup interval", func(c *Config) { c.Cleanup.Interval = 0 }, "cleanup.interval"},
		{"negative cleanup interval", func(c *Config) { c.Cleanup.Interval = -time.Second }, "cleanup.interval"},
		{"zero attempts", func(c *Config) { c.Executor.MaxAttempts = 0 }, "executor.max_attempts"},
		{"valid key", func(c *Config) { c.Security.EncryptionKey = key }, ""},
		{"short key", func(c *Config) { c.Security.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short")) }, "32 bytes"},
		{"bad base64", func(c *Config) { c.Security.EncryptionKey = "%%%" }, "base64"},
		{"fallback without active", func(c *Config) { c.Security.FallbackKeys = []string{key} }, "requires security.encryption_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecurityKeys(t *testing.T) {
	active := []byte(strings.Repeat("a", 32))
	old := []byte(strings.Repeat("o", 32))

	s := SecurityConfig{
		EncryptionKey: base64.StdEncoding.EncodeToString(active),
		FallbackKeys:  []string{base64.StdEncoding.EncodeToString(old)},
	}
	gotActive, gotFallback, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, active, gotActive)
	assert.Equal(t, [][]byte{old}, gotFallback)

	gotActive, gotFallback, err = SecurityConfig{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, gotActive)
	assert.Nil(t, gotFallback)
}
