package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPIBaseURL        = "https://csfloat.com/api/v1"
	DefaultWSURL             = "wss://csfloat.com/ws"
	DefaultChannel           = "broadcast"
	DefaultAPITimeout        = 10 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultNATSStream        = "FOUND_ITEMS"
	DefaultNATSSubjectBase   = "found_items"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultBufferSize        = 10000
	DefaultMinDelay          = time.Second
	DefaultMaxDelay          = time.Minute
	DefaultBackoffFactor     = 2.0
	DefaultMaxAttempts       = 10
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldown   = 5 * time.Minute
	DefaultRefreshInterval   = 30 * time.Minute
	DefaultCheckInterval     = time.Minute
	DefaultMaxSilentPeriod   = 5 * time.Minute
	DefaultMaxConnectionAge  = 2 * time.Hour
	DefaultReconcileInterval = 30 * time.Second
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *WatcherConfig) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}

	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if c.Feed.Channel == "" {
		c.Feed.Channel = DefaultChannel
	}

	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = DefaultNATSStream
	}
	if c.NATS.SubjectBase == "" {
		c.NATS.SubjectBase = DefaultNATSSubjectBase
	}

	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}
	if c.Connection.MinDelay == 0 {
		c.Connection.MinDelay = DefaultMinDelay
	}
	if c.Connection.MaxDelay == 0 {
		c.Connection.MaxDelay = DefaultMaxDelay
	}
	if c.Connection.BackoffFactor == 0 {
		c.Connection.BackoffFactor = DefaultBackoffFactor
	}
	if c.Connection.MaxAttempts == 0 {
		c.Connection.MaxAttempts = DefaultMaxAttempts
	}
	if c.Connection.BreakerThreshold == 0 {
		c.Connection.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Connection.BreakerCooldown == 0 {
		c.Connection.BreakerCooldown = DefaultBreakerCooldown
	}

	if c.Token.RefreshInterval == 0 {
		c.Token.RefreshInterval = DefaultRefreshInterval
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = DefaultCheckInterval
	}
	if c.Health.MaxSilentPeriod == 0 {
		c.Health.MaxSilentPeriod = DefaultMaxSilentPeriod
	}
	if c.Health.MaxConnectionAge == 0 {
		c.Health.MaxConnectionAge = DefaultMaxConnectionAge
	}

	if c.Registry.ReconcileInterval == 0 {
		c.Registry.ReconcileInterval = DefaultReconcileInterval
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
