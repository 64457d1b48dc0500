// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package config

import (
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/internal/logging"
	"github.com/elouarate/gallery-admin/internal/notify"
	"github.com/elouarate/gallery-admin/internal/store"
)

func invalid(key string) oops.OopsErrorBuilder {
	return oops.Code("CONFIG_INVALID").With("key", key)
}

// Validate checks the settings every command relies on. Database and
// listener settings are checked by ValidateServe and the commands that need
// them.
func (c Config) Validate() error {
	if err := c.TokenConfig().Validate(); err != nil {
		return invalid("tokens").Wrap(err)
	}
	if c.Attempts.MaxFailures <= 0 {
		return invalid("attempts.max_failures").Errorf("max failures must be positive")
	}
	if c.Attempts.Window <= 0 || c.Attempts.Lockout <= 0 {
		return invalid("attempts").Errorf("failure window and lockout must be positive")
	}
	if c.Reset.TokenTTL <= 0 || c.Reset.RequestWindow <= 0 {
		return invalid("reset").Errorf("reset token ttl and request window must be positive")
	}
	if c.Reset.MaxRequests <= 0 {
		return invalid("reset.max_requests").Errorf("max reset requests must be positive")
	}
	if c.Hashing.MaxConcurrent <= 0 {
		return invalid("hashing.max_concurrent").Errorf("max concurrent hashes must be positive")
	}
	switch c.Counter.Backend {
	case CounterRedis:
		if c.Counter.RedisAddr == "" {
			return invalid("counter.redis_addr").Errorf("redis address is required for the redis backend")
		}
	case CounterMemory:
	default:
		return invalid("counter.backend").
			With("value", c.Counter.Backend).
			Errorf("counter backend must be redis or memory")
	}
	switch c.Notify.Backend {
	case NotifySMTP:
		if err := c.SMTPConfig().Validate(); err != nil {
			return invalid("notify.smtp").Wrap(err)
		}
	case NotifyLog:
	default:
		return invalid("notify.backend").
			With("value", c.Notify.Backend).
			Errorf("notify backend must be smtp or log")
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatText:
	default:
		return invalid("log.format").With("value", c.Log.Format).Errorf("log format must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level").Wrap(err)
	}
	if err := c.BootstrapConfig().Validate(auth.NewPasswordPolicy()); err != nil {
		return invalid("bootstrap").Wrap(err)
	}
	return nil
}

// ValidateDatabase checks the database settings.
func (c Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url").Errorf("database url is required (set GALLERY_DATABASE__URL or DATABASE_URL)")
	}
	if c.Database.MaxConns <= 0 {
		return invalid("database.max_conns").Errorf("max connections must be positive")
	}
	return nil
}

// ValidateServe checks everything the serve command needs.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.Server.Listen == "" {
		return invalid("server.listen").Errorf("listen address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout").Errorf("shutdown timeout must be positive")
	}
	if c.Reset.SweepInterval < 0 {
		return invalid("reset.sweep_interval").Errorf("sweep interval cannot be negative")
	}
	return nil
}

// TokenConfig converts the token settings.
func (c Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Issuer:    c.Tokens.Issuer,
		Algorithm: c.Tokens.Algorithm,
		Secret:    []byte(c.Tokens.Secret),
		AccessTTL: map[auth.Role]time.Duration{
			auth.RoleUser:  c.Tokens.UserAccessTTL,
			auth.RoleAdmin: c.Tokens.AdminAccessTTL,
		},
		RefreshTTL: c.Tokens.RefreshTTL,
	}
}

// AttemptConfig converts the lockout settings.
func (c Config) AttemptConfig() auth.AttemptConfig {
	return auth.AttemptConfig{
		MaxAttempts:     c.Attempts.MaxFailures,
		FailureWindow:   c.Attempts.Window,
		LockoutDuration: c.Attempts.Lockout,
	}
}

// ResetConfig converts the reset settings.
func (c Config) ResetConfig() auth.ResetConfig {
	return auth.ResetConfig{
		TokenTTL:      c.Reset.TokenTTL,
		MaxRequests:   c.Reset.MaxRequests,
		RequestWindow: c.Reset.RequestWindow,
	}
}

// BootstrapConfig converts the bootstrap settings.
func (c Config) BootstrapConfig() auth.BootstrapConfig {
	return auth.BootstrapConfig{
		Enabled:  c.Bootstrap.Enabled,
		Email:    c.Bootstrap.Email,
		Password: c.Bootstrap.Password,
	}
}

// PoolConfig converts the database pool settings.
func (c Config) PoolConfig() store.PoolConfig {
	return store.PoolConfig{
		MaxConns:       c.Database.MaxConns,
		ConnectRetries: c.Database.ConnectRetries,
		RetryBase:      c.Database.RetryBase,
	}
}

// SMTPConfig converts the mail settings.
func (c Config) SMTPConfig() notify.SMTPConfig {
	s := c.Notify.SMTP
	return notify.SMTPConfig{
		Host:      s.Host,
		Port:      s.Port,
		Username:  s.Username,
		Password:  s.Password,
		From:      s.From,
		TLSPolicy: s.TLSPolicy,
		Timeout:   s.Timeout,
		ResetURL:  s.ResetURL,
	}
}

// AsyncConfig converts the notification queue settings.
func (c Config) AsyncConfig() notify.AsyncConfig {
	return notify.AsyncConfig{
		Workers:     c.Notify.Workers,
		QueueSize:   c.Notify.QueueSize,
		SendTimeout: c.Notify.SMTP.Timeout,
	}
}

// LogLevel parses the configured level. Validate has already rejected
// unknown names.
func (c Config) LogLevel() slog.Level {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}
