package config

import (
	"time"

	"github.com/dkrasnov/float-feed/internal/store"
)

// WatcherConfig is the root configuration for a feed watcher instance.
type WatcherConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Feed       FeedConfig       `yaml:"feed"`
	Database   store.Config     `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Connection ConnectionConfig `yaml:"connection"`
	Token      TokenConfig      `yaml:"token"`
	Health     HealthConfig     `yaml:"health"`
	Registry   RegistryConfig   `yaml:"registry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this watcher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds marketplace REST settings (the token endpoint).
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// FeedConfig holds the upstream WebSocket feed settings.
type FeedConfig struct {
	WSURL   string `yaml:"ws_url"`
	Channel string `yaml:"channel"`
}

// NATSConfig holds the match sink settings.
type NATSConfig struct {
	URL         string `yaml:"url"`
	Stream      string `yaml:"stream"`
	SubjectBase string `yaml:"subject_base"`
}

// ConnectionConfig holds Connection Manager and backoff settings.
type ConnectionConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
	MinDelay         time.Duration `yaml:"min_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// TokenConfig holds Token Manager settings.
type TokenConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// HealthConfig holds Health Monitor settings.
type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	MaxSilentPeriod  time.Duration `yaml:"max_silent_period"`
	MaxConnectionAge time.Duration `yaml:"max_connection_age"`
}

// RegistryConfig holds Subscription Registry settings.
type RegistryConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// MetricsConfig holds the metrics HTTP endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
