// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

// Package config loads gallery-admin configuration from defaults, a YAML
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/notify"
	"github.com/elouarate/gallery-admin/internal/store"
)

// EnvPrefix namespaces environment variables. Sections are separated by a
// double underscore: GALLERY_TOKENS__SECRET sets tokens.secret.
const EnvPrefix = "GALLERY_"

// Counter and notification backends.
const (
	CounterRedis  = "redis"
	CounterMemory = "memory"
	NotifySMTP    = "smtp"
	NotifyLog     = "log"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Counter   CounterConfig   `koanf:"counter"`
	Tokens    TokensConfig    `koanf:"tokens"`
	Attempts  AttemptsConfig  `koanf:"attempts"`
	Reset     ResetConfig     `koanf:"reset"`
	Hashing   HashingConfig   `koanf:"hashing"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
	Notify    NotifyConfig    `koanf:"notify"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	Listen          string        `koanf:"listen"`
	MetricsListen   string        `koanf:"metrics_listen"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	MaxConns       int32         `koanf:"max_conns"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	ReadRetries    uint64        `koanf:"read_retries"`
	RetryBase      time.Duration `koanf:"retry_base"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
}

// CounterConfig selects the shared counter backend.
type CounterConfig struct {
	Backend       string `koanf:"backend" jsonschema:"enum=redis,enum=memory"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
}

// TokensConfig configures signed tokens.
type TokensConfig struct {
	Secret         string        `koanf:"secret"`
	Algorithm      string        `koanf:"algorithm" jsonschema:"enum=HS256,enum=HS384,enum=HS512"`
	Issuer         string        `koanf:"issuer"`
	UserAccessTTL  time.Duration `koanf:"user_access_ttl"`
	AdminAccessTTL time.Duration `koanf:"admin_access_ttl"`
	RefreshTTL     time.Duration `koanf:"refresh_ttl"`
}

// AttemptsConfig configures login lockout.
type AttemptsConfig struct {
	MaxFailures int           `koanf:"max_failures"`
	Window      time.Duration `koanf:"window"`
	Lockout     time.Duration `koanf:"lockout"`
}

// ResetConfig configures password reset.
type ResetConfig struct {
	TokenTTL      time.Duration `koanf:"token_ttl"`
	MaxRequests   int           `koanf:"max_requests"`
	RequestWindow time.Duration `koanf:"request_window"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// HashingConfig bounds password hashing work.
type HashingConfig struct {
	MaxConcurrent int64 `koanf:"max_concurrent"`
}

// BootstrapConfig configures first-run administrator provisioning.
type BootstrapConfig struct {
	Enabled   bool   `koanf:"enabled"`
	OnStartup bool   `koanf:"on_startup"`
	Email     string `koanf:"email"`
	Password  string `koanf:"password"`
}

// NotifyConfig selects and tunes the notification backend.
type NotifyConfig struct {
	Backend   string     `koanf:"backend" jsonschema:"enum=smtp,enum=log"`
	Workers   int        `koanf:"workers"`
	QueueSize int        `koanf:"queue_size"`
	SMTP      SMTPConfig `koanf:"smtp"`
}

// SMTPConfig configures mail delivery.
type SMTPConfig struct {
	Host      string        `koanf:"host"`
	Port      int           `koanf:"port" jsonschema:"minimum=1,maximum=65535"`
	Username  string        `koanf:"username"`
	Password  string        `koanf:"password"`
	From      string        `koanf:"from"`
	TLSPolicy string        `koanf:"tls_policy" jsonschema:"enum=mandatory,enum=opportunistic,enum=none"`
	Timeout   time.Duration `koanf:"timeout"`
	ResetURL  string        `koanf:"reset_url"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	attempts := auth.DefaultAttemptConfig()
	reset := auth.DefaultResetConfig()
	bootstrap := auth.DefaultBootstrapConfig()
	pool := store.DefaultPoolConfig()
	async := notify.DefaultAsyncConfig()

	return Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			MetricsListen:   "127.0.0.1:9100",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:       pool.MaxConns,
			ConnectRetries: pool.ConnectRetries,
			ReadRetries:    2,
			RetryBase:      auth.DefaultReadRetryBase,
		},
		Counter: CounterConfig{
			Backend:   CounterRedis,
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "gallery:",
		},
		Tokens: TokensConfig{
			Algorithm:      "HS256",
			Issuer:         "gallery-admin",
			UserAccessTTL:  auth.DefaultUserAccessTTL,
			AdminAccessTTL: auth.DefaultAdminAccessTTL,
			RefreshTTL:     auth.DefaultRefreshTTL,
		},
		Attempts: AttemptsConfig{
			MaxFailures: attempts.MaxAttempts,
			Window:      attempts.FailureWindow,
			Lockout:     attempts.LockoutDuration,
		},
		Reset: ResetConfig{
			TokenTTL:      reset.TokenTTL,
			MaxRequests:   reset.MaxRequests,
			RequestWindow: reset.RequestWindow,
			SweepInterval: 10 * time.Minute,
		},
		Hashing: HashingConfig{MaxConcurrent: 4},
		Bootstrap: BootstrapConfig{
			Enabled:  bootstrap.Enabled,
			Email:    bootstrap.Email,
			Password: bootstrap.Password,
		},
		Notify: NotifyConfig{
			Backend:   NotifyLog,
			Workers:   async.Workers,
			QueueSize: async.QueueSize,
			SMTP: SMTPConfig{
				Port:      587,
				TLSPolicy: notify.TLSMandatory,
				Timeout:   30 * time.Second,
			},
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// Sources names where Load reads from. Empty fields are skipped.
type Sources struct {
	// File is a YAML file path.
	File string
	// Flags are applied last; only flags the user set are read.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys, such as "listen" to
	// "server.listen". Flags without an entry are ignored.
	FlagKeys map[string]string
	// Environ overrides the process environment, mainly for tests.
	Environ []string
}

// Load builds a Config from defaults overlaid by each source in turn.
func Load(src Sources) (Config, error) {
	k := koanf.New(".")

	if src.File != "" {
		if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", src.File).
				Wrap(err)
		}
	}

	if err := loadEnv(k, src.Environ); err != nil {
		return Config{}, err
	}

	if src.Flags != nil {
		provider := posflag.ProviderWithFlag(src.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := src.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(src.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

// envKey maps GALLERY_TOKENS__SECRET to tokens.secret.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func loadEnv(k *koanf.Koanf, environ []string) error {
	if environ == nil {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
		}
		return applyDatabaseURL(k, lookupProcessEnv)
	}

	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		values[key] = val
		if strings.HasPrefix(key, EnvPrefix) {
			if err := k.Set(envKey(key), val); err != nil {
				return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").With("key", key).Wrap(err)
			}
		}
	}
	return applyDatabaseURL(k, func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

// applyDatabaseURL honours the conventional DATABASE_URL when the prefixed
// variable is absent.
func applyDatabaseURL(k *koanf.Koanf, lookup func(string) (string, bool)) error {
	if k.Exists("database.url") {
		return nil
	}
	if url, ok := lookup("DATABASE_URL"); ok && url != "" {
		if err := k.Set("database.url", url); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").With("key", "DATABASE_URL").Wrap(err)
		}
	}
	return nil
}

func lookupProcessEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}
