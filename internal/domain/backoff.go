package domain

import (
	"errors"
	"time"
)

// BackoffStrategy identifies how retry delays grow between attempts.
type BackoffStrategy string

// Possible backoff strategy values
const (
	// BackoffExponential doubles the delay on every attempt: base * 2^attempt.
	BackoffExponential BackoffStrategy = "exponential"

	// BackoffFixed waits the base delay before every retry.
	BackoffFixed BackoffStrategy = "fixed"

	// BackoffNone retries immediately.
	BackoffNone BackoffStrategy = "none"
)

// ErrInvalidBackoffStrategy indicates an unrecognized strategy value.
var ErrInvalidBackoffStrategy = errors.New("invalid backoff strategy")

// DefaultBackoffBase is the base delay applied when the producer does not
// override the backoff policy.
const DefaultBackoffBase = 2 * time.Second

// BackoffPolicy is the rule computing how long a retried job stays
// invisible before it becomes claimable again.
type BackoffPolicy struct {
	Strategy BackoffStrategy `json:"strategy"`
	Base     time.Duration   `json:"base"`
}

// DefaultBackoffPolicy returns the broker default: exponential growth from
// a two second base (2s, 4s, 8s, ...).
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Strategy: BackoffExponential,
		Base:     DefaultBackoffBase,
	}
}

// Validate checks that the policy names a known strategy and a usable base.
func (p BackoffPolicy) Validate() error {
	switch p.Strategy {
	case BackoffExponential, BackoffFixed, BackoffNone:
	default:
		return ErrInvalidBackoffStrategy
	}

	if p.Base < 0 {
		return errors.New("backoff base delay cannot be negative")
	}

	return nil
}

// Delay returns how long to wait before the execution numbered attempt
// (1-based: attempt 1 is the first retry). A zero attempt means the first
// execution and never waits.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	switch p.Strategy {
	case BackoffFixed:
		return p.Base
	case BackoffNone:
		return 0
	default:
		// exponential: base * 2^(attempt-1), so the first retry waits the
		// base delay, the second twice that, and so on (2s, 4s, 8s with
		// the default policy)
		d := p.Base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}
