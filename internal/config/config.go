// Package config loads the Stratum node configuration from stratum.yaml, .env files and
// STRATUM_* environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: store.redis.addr -> STRATUM_STORE_REDIS_ADDR.
const EnvPrefix = "STRATUM"

// Config is the full configuration of a coordinator node.
type Config struct {
	Node           NodeConfig     `mapstructure:"node"`
	Log            LogConfig      `mapstructure:"log"`
	Store          StoreConfig    `mapstructure:"store"`
	Lock           LockConfig     `mapstructure:"lock"`
	Executor       ExecutorConfig `mapstructure:"executor"`
	Cleanup        CleanupConfig  `mapstructure:"cleanup"`
	Security       SecurityConfig `mapstructure:"security"`
	StrategiesFile string         `mapstructure:"strategies_file"`
	HTTP           HTTPConfig     `mapstructure:"http"`
}

type NodeConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the session store backend and its retention.
type StoreConfig struct {
	Backend    string        `mapstructure:"backend"`
	Redis      RedisConfig   `mapstructure:"redis"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	ResultTTL  time.Duration `mapstructure:"result_ttl"`
	MetricsTTL time.Duration `mapstructure:"metrics_ttl"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type ExecutorConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CleanupConfig drives the background janitor.
type CleanupConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	InactiveAfter time.Duration `mapstructure:"inactive_after"`
	Concurrency   int           `mapstructure:"concurrency"`
}

// SecurityConfig holds PII masking patterns and the result encryption keys (base64, 32 bytes).
type SecurityConfig struct {
	PIIPatterns   []string `mapstructure:"pii_patterns"`
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Node: NodeConfig{ID: "local"},
		Log:  LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend:    BackendMemory,
			Redis:      RedisConfig{Addr: "localhost:6379", Prefix: "stratum:"},
			SessionTTL: 24 * time.Hour,
			ResultTTL:  7 * 24 * time.Hour,
			MetricsTTL: 30 * 24 * time.Hour,
			OpTimeout:  5 * time.Second,
			CacheTTL:   2 * time.Second,
		},
		Lock:     LockConfig{TTL: 10 * time.Minute},
		Executor: ExecutorConfig{MaxAttempts: 1},
		Cleanup: CleanupConfig{
			Interval:      time.Minute,
			InactiveAfter: 30 * time.Minute,
			Concurrency:   8,
		},
		Security:       SecurityConfig{PIIPatterns: []string{}, FallbackKeys: []string{}},
		StrategiesFile: "strategies.yaml",
		HTTP:           HTTPConfig{Addr: ":8080"},
	}
}

// NewViper returns a viper instance carrying every default and the environment binding.
// Callers bind command line flags on it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("node.id", d.Node.ID)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("store.session_ttl", d.Store.SessionTTL)
	v.SetDefault("store.result_ttl", d.Store.ResultTTL)
	v.SetDefault("store.metrics_ttl", d.Store.MetricsTTL)
	v.SetDefault("store.op_timeout", d.Store.OpTimeout)
	v.SetDefault("store.cache_ttl", d.Store.CacheTTL)

	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("executor.max_attempts", d.Executor.MaxAttempts)

	v.SetDefault("cleanup.interval", d.Cleanup.Interval)
	v.SetDefault("cleanup.inactive_after", d.Cleanup.InactiveAfter)
	v.SetDefault("cleanup.concurrency", d.Cleanup.Concurrency)

	v.SetDefault("security.pii_patterns", d.Security.PIIPatterns)
	v.SetDefault("security.encryption_key", d.Security.EncryptionKey)
	v.SetDefault("security.fallback_keys", d.Security.FallbackKeys)

	v.SetDefault("strategies_file", d.StrategiesFile)
	v.SetDefault("http.addr", d.HTTP.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env, then the config file, then the environment, into a validated Config.
// An empty path searches for stratum.yaml in the working directory; a missing file is not an error
// unless the path was given explicitly.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stratum")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Node.ID == "" {
		errs = append(errs, errors.New("node.id is required"))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Store.Backend))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	if c.Store.OpTimeout <= 0 {
		errs = append(errs, errors.New("store.op_timeout must be positive"))
	}
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, errors.New("executor.max_attempts must be at least 1"))
	}
	if c.Cleanup.Interval <= 0 {
		errs = append(errs, errors.New("cleanup.interval must be positive"))
	}
	if c.Cleanup.InactiveAfter <= 0 {
		errs = append(errs, errors.New("cleanup.inactive_after must be positive"))
	}
	if c.Cleanup.Concurrency < 1 {
		errs = append(errs, errors.New("cleanup.concurrency must be at least 1"))
	}
	if _, _, err := c.Security.Keys(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Keys decodes the encryption keys. A nil active key means encryption is disabled.
func (s SecurityConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		if len(s.FallbackKeys) > 0 {
			return nil, nil, errors.New("security.fallback_keys requires security.encryption_key")
		}
		return nil, nil, nil
	}
	active, err = decodeKey("security.encryption_key", s.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	for i, raw := range s.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("security.fallback_keys[%d]", i), raw)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(name, raw string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", name, len(key))
	}
	return key, nil
}
