// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit runs model calls under a bounded retry policy for
// HTTP 429 responses.
//
// Each call moves through attempt -> success | retryable rate limit |
// daily quota exhausted | fatal. Rate limits are retried up to MaxRetries
// times, sleeping for the server-suggested retryDelay or 2^n seconds
// (at least one second). A quota whose identifier mentions PerDay cannot
// recover within a run and fails at once. Every other error passes through
// untouched.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// ErrEmptyResponse is returned when a call succeeds with blank text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// QuotaExhaustedError reports a per-day quota that waiting cannot clear.
type QuotaExhaustedError struct {
	QuotaID string
	Err     error
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("Gemini quota exceeded (%s). Wait for reset or use a billed key/project.", e.QuotaID)
}

func (e *QuotaExhaustedError) Unwrap() error { return e.Err }

// RateLimitError reports rate limiting that outlasted every retry.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return "Gemini rate limit exceeded. Try again later."
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Timer abstracts waiting between attempts so tests can run without sleeping.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

// Limiter wraps model calls with the retry policy.
type Limiter struct {
	// MaxRetries bounds retries after the first attempt (default 3).
	MaxRetries int

	// Timer paces retries. Nil uses real time.
	Timer Timer

	Logger *slog.Logger
}

// throttled carries a retryable 429 and the wait chosen for it.
type throttled struct {
	delay time.Duration
	err   error
}

func (t *throttled) Error() string { return t.err.Error() }
func (t *throttled) Unwrap() error { return t.err }

// Do calls fn under the retry policy and returns its text.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	maxRetries := l.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var text string
	retries := 0
	attempt := func() error {
		out, err := fn(ctx)
		if err == nil {
			text = out
			return nil
		}

		info, ok := Classify(err)
		if !ok {
			return retry.Unrecoverable(err)
		}
		if info.Daily() {
			return retry.Unrecoverable(&QuotaExhaustedError{QuotaID: info.QuotaID, Err: err})
		}

		wait := info.RetryDelay
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(retries))) * time.Second
		}
		retries++
		return &throttled{delay: max(time.Second, wait), err: err}
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(maxRetries + 1)),
		retry.LastErrorOnly(true),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			var t *throttled
			if errors.As(err, &t) {
				return t.delay
			}
			return time.Second
		}),
		retry.OnRetry(func(n uint, err error) {
			var t *throttled
			if errors.As(err, &t) && int(n) < maxRetries {
				logger.Warn("rate limit hit; retrying",
					"attempt", n+1, "max_retries", maxRetries, "delay", t.delay)
			}
		}),
	}
	if l.Timer != nil {
		opts = append(opts, retry.WithTimer(l.Timer))
	}

	err := retry.Do(attempt, opts...)
	if err != nil {
		var t *throttled
		if errors.As(err, &t) {
			return "", &RateLimitError{Attempts: retries, Err: t.err}
		}
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
