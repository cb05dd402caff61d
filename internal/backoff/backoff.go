package backoff

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Recoverable is implemented by errors that know whether retrying can help.
// Errors that do not implement it are treated as recoverable.
type Recoverable interface {
	Recoverable() bool
}

// IsRecoverable reports whether err may succeed on retry.
func IsRecoverable(err error) bool {
	var r Recoverable
	if errors.As(err, &r) {
		return r.Recoverable()
	}
	return true
}

// Config holds strategy tuning parameters.
type Config struct {
	MinDelay         time.Duration // first retry delay
	MaxDelay         time.Duration // delay ceiling
	Factor           float64       // exponential growth factor
	MaxAttempts      int           // refuse past this attempt count
	Jitter           bool          // apply ±20% jitter to delays
	BreakerThreshold int           // consecutive failures before the breaker opens
	BreakerCooldown  time.Duration // how long the breaker stays open
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinDelay:         time.Second,
		MaxDelay:         time.Minute,
		Factor:           2.0,
		MaxAttempts:      10,
		Jitter:           true,
		BreakerThreshold: 5,
		BreakerCooldown:  5 * time.Minute,
	}
}

// Strategy decides whether and when to retry a failed connection.
// Not safe for concurrent use: the Connection Manager calls it from a
// single control goroutine.
type Strategy struct {
	cfg    Config
	logger *slog.Logger

	consecutiveFailures int
	breakerOpen         bool
	breakerOpenedAt     time.Time
}

// New creates a Strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{cfg: cfg, logger: logger}
}

// ShouldReconnect reports whether a retry is warranted for the given attempt
// number (1-based) and error.
func (s *Strategy) ShouldReconnect(attempt int, err error) bool {
	if s.breakerOpen {
		if time.Since(s.breakerOpenedAt) < s.cfg.BreakerCooldown {
			s.logger.Warn("circuit breaker open, refusing reconnect",
				"opened_at", s.breakerOpenedAt,
				"cooldown", s.cfg.BreakerCooldown,
			)
			return false
		}
		// Cool-down elapsed: breaker closes on this evaluation.
		s.breakerOpen = false
		s.consecutiveFailures = 0
		s.logger.Info("circuit breaker closed after cooldown")
	}

	if err != nil && !IsRecoverable(err) {
		s.logger.Warn("non-recoverable error, refusing reconnect", "error", err)
		return false
	}

	if attempt >= s.cfg.MaxAttempts {
		s.logger.Warn("max reconnect attempts reached",
			"attempt", attempt,
			"max", s.cfg.MaxAttempts,
		)
		s.openBreaker()
		return false
	}

	return true
}

// NextDelay returns the backoff delay for the given attempt number (1-based).
func (s *Strategy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(s.cfg.MinDelay) * math.Pow(s.cfg.Factor, float64(attempt-1))
	if d > float64(s.cfg.MaxDelay) {
		d = float64(s.cfg.MaxDelay)
	}

	if s.cfg.Jitter {
		// ±20% symmetric jitter.
		d *= 0.8 + 0.4*rand.Float64()
	}

	return time.Duration(d)
}

// RecordFailure counts a consecutive connection failure and opens the
// breaker at the configured threshold.
func (s *Strategy) RecordFailure() {
	s.consecutiveFailures++
	if s.consecutiveFailures >= s.cfg.BreakerThreshold && !s.breakerOpen {
		s.openBreaker()
	}
}

// Reset clears the failure count and closes the breaker. Called after every
// successful connection.
func (s *Strategy) Reset() {
	s.consecutiveFailures = 0
	s.breakerOpen = false
}

// BreakerOpen reports the current breaker state.
func (s *Strategy) BreakerOpen() bool {
	return s.breakerOpen
}

func (s *Strategy) openBreaker() {
	s.breakerOpen = true
	s.breakerOpenedAt = time.Now()
	s.logger.Warn("circuit breaker opened",
		"consecutive_failures", s.consecutiveFailures,
		"cooldown", s.cfg.BreakerCooldown,
	)
}
