package kubectl

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second

	defaultInitialDelay = time.Second
	defaultMaxDelay     = 60 * time.Second
	defaultJitter       = 0.2
)

// RetryPolicy controls how failed external calls are retried: up to
// MaxRetries attempts after the first, with exponential backoff jittered
// by ±20% and capped at MaxDelay. Failures matching the non-retryable
// classifier are never retried.
type RetryPolicy struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

func (p *RetryPolicy) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = defaultJitter
	exp.Multiplier = 2.0
	exp.Reset()

	return backoff.WithMaxRetries(exp, p.MaxRetries)
}

// Do runs op under the policy. A non-retryable error is returned
// immediately; otherwise op is re-run until it succeeds or the retry
// budget is exhausted, in which case the last error is returned.
func (p *RetryPolicy) Do(desc string, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, delay time.Duration) {
		slog.Debug("retrying", "op", desc, "delay", delay, "cause", err)
	}

	return backoff.RetryNotify(wrapped, p.backOff(), notify)
}
