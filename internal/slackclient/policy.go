package slackclient

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/support-tools/resolution-leaderboard/internal/config"
)

// RetryPolicy describes how transient failures are retried
type RetryPolicy struct {
	MaxAttempts int           // total calls per operation, including the first
	BaseDelay   time.Duration // first transient backoff
	Multiplier  float64
	Jitter      float64 // randomization factor in [0, 1)
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when nothing is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxDelay:    30 * time.Second,
	}
}

// PolicyFromConfig builds the retry policy from application configuration
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
		Jitter:      cfg.RetryJitter,
		MaxDelay:    cfg.RetryMaxDelay,
	}
}

// newBackOff returns a fresh schedule for one operation
func (p RetryPolicy) newBackOff() *rateAwareBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.Multiplier = p.Multiplier
	expo.RandomizationFactor = p.Jitter
	expo.MaxInterval = p.MaxDelay
	expo.MaxElapsedTime = 0
	expo.Reset()

	return &rateAwareBackOff{delegate: expo}
}

// rateAwareBackOff honours a server supplied wait for the next retry instead
// of the exponential schedule. The schedule is not advanced by that retry.
type rateAwareBackOff struct {
	delegate   backoff.BackOff
	retryAfter time.Duration
	rateWait   bool
}

func (b *rateAwareBackOff) serverWait(d time.Duration) {
	b.retryAfter = d
	b.rateWait = true
}

func (b *rateAwareBackOff) NextBackOff() time.Duration {
	if b.rateWait {
		b.rateWait = false
		return b.retryAfter
	}
	return b.delegate.NextBackOff()
}

func (b *rateAwareBackOff) Reset() {
	b.rateWait = false
	b.retryAfter = 0
	b.delegate.Reset()
}
