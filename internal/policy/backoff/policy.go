// Package backoff computes jittered exponential retry delays.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

const (
	// DefaultMaxDelay caps the exponential component of a delay.
	DefaultMaxDelay = 300 * time.Second
	// DefaultJitterFraction bounds jitter relative to the pre-jitter delay.
	DefaultJitterFraction = 0.1
)

// Policy implements exponential backoff with proportional jitter.
type Policy struct {
	maxDelay       time.Duration
	jitterFraction float64
	rand           func() float64
}

// Option customizes a Policy.
type Option func(*Policy)

// WithMaxDelay overrides the delay cap.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(p *Policy) {
		if fn != nil {
			p.rand = fn
		}
	}
}

// New builds a Policy with a 300s cap and 10% jitter.
func New(opts ...Option) *Policy {
	p := &Policy{
		maxDelay:       DefaultMaxDelay,
		jitterFraction: DefaultJitterFraction,
		rand:           rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Delay returns min(maxDelay, base*2^attempt) plus jitter drawn from
// [0, 0.1*that). It fails with forum.ErrRetryBudgetExhausted once attempt
// reaches maxAttempts.
func (p *Policy) Delay(attempt, maxAttempts int, base time.Duration) (time.Duration, error) {
	if attempt >= maxAttempts {
		return 0, fmt.Errorf("attempt %d of %d: %w", attempt, maxAttempts, forum.ErrRetryBudgetExhausted)
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.rand() * p.jitterFraction * delay
	return time.Duration(delay + jitter), nil
}
