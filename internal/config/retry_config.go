package config

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig holds exponential backoff settings for outbound calls.
type BackoffConfig struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// GetBackoffConfig returns backoff configuration appropriate for the current environment.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetBackoffConfig() BackoffConfig {
	if c.IsTest() {
		return BackoffConfig{
			MaxElapsedTime:  2 * time.Second,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2.0,
		}
	}
	return BackoffConfig{
		MaxElapsedTime:  c.BackoffMaxElapsedTime,
		InitialInterval: c.BackoffInitialInterval,
		MaxInterval:     c.BackoffMaxInterval,
		Multiplier:      c.BackoffMultiplier,
	}
}

// NewBackOff builds a context-bound exponential backoff from the settings.
func (b BackoffConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = b.InitialInterval
	expo.MaxInterval = b.MaxInterval
	expo.Multiplier = b.Multiplier
	expo.MaxElapsedTime = b.MaxElapsedTime
	return backoff.WithContext(expo, ctx)
}
