package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *WatcherConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.WSURL == "" {
		return errors.New("feed.ws_url is required")
	}
	if c.Feed.Channel == "" {
		return errors.New("feed.channel is required")
	}

	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.Password == "" {
		return errors.New("database.password is required")
	}
	if c.Database.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}
	if c.Database.MinConns < 0 {
		return errors.New("database.min_conns must be >= 0")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	if c.Connection.MinDelay <= 0 {
		return errors.New("connection.min_delay must be > 0")
	}
	if c.Connection.MaxDelay < c.Connection.MinDelay {
		return errors.New("connection.max_delay must be >= min_delay")
	}
	if c.Connection.BackoffFactor < 1 {
		return errors.New("connection.backoff_factor must be >= 1")
	}
	if c.Connection.MaxAttempts < 1 {
		return errors.New("connection.max_attempts must be >= 1")
	}
	if c.Connection.BreakerThreshold < 1 {
		return errors.New("connection.breaker_threshold must be >= 1")
	}

	if c.Registry.ReconcileInterval <= 0 {
		return errors.New("registry.reconcile_interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
