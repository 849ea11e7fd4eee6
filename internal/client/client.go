// Package client wraps a forum.Transport with rate-limit recovery. It is the
// only path through which the harvester talks to the forum API.
package client

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
	"github.com/JakeFAU/ed-forum-harvester/internal/metrics"
)

const (
	// DefaultMaxAttempts is used when neither the request nor Config sets one.
	DefaultMaxAttempts = 5
	// DefaultBaseDelay is the first backoff step.
	DefaultBaseDelay = time.Second
)

var tracer = otel.Tracer("github.com/JakeFAU/ed-forum-harvester/internal/client")

// DelayPolicy computes the pause before the next attempt.
type DelayPolicy interface {
	Delay(attempt, maxAttempts int, base time.Duration) (time.Duration, error)
}

// Waiter throttles outgoing requests before they hit the transport.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Client implements forum.Caller.
type Client struct {
	transport forum.Transport
	policy    DelayPolicy
	limiter   Waiter
	pauser    forum.Pauser
	cfg       Config
	logger    *zap.Logger
}

var _ forum.Caller = (*Client)(nil)

// New builds a Client. limiter may be nil.
func New(
	transport forum.Transport,
	policy DelayPolicy,
	limiter Waiter,
	pauser forum.Pauser,
	cfg Config,
	logger *zap.Logger,
) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		policy:    policy,
		limiter:   limiter,
		pauser:    pauser,
		cfg:       cfg,
		logger:    logger,
	}
}

// Call sends req, transparently retrying HTTP 429 responses with backoff. At
// most MaxAttempts transport calls are made; when all of them are rate
// limited the error wraps forum.ErrRetryBudgetExhausted. Any other failure is
// returned immediately.
func (c *Client) Call(ctx context.Context, req forum.Request) (forum.Response, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = "unknown"
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}

	ctx, span := tracer.Start(ctx, "forum.call", trace.WithAttributes(
		attribute.String("forum.endpoint", endpoint),
		attribute.Int("forum.max_attempts", maxAttempts),
	))
	defer span.End()

	resp, attempts, err := c.call(ctx, req, endpoint, maxAttempts)
	span.SetAttributes(attribute.Int("forum.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (c *Client) call(
	ctx context.Context,
	req forum.Request,
	endpoint string,
	maxAttempts int,
) (forum.Response, int, error) {
	logger := c.logger.With(zap.String("endpoint", endpoint), zap.String("url", req.URL))
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, req.URL); err != nil {
				return forum.Response{}, attempt, err
			}
		}

		start := time.Now()
		out := c.transport.Send(ctx, req)
		metrics.ObserveAPIRequest(endpoint, out.Kind.String(), time.Since(start))

		switch out.Kind {
		case forum.OutcomeSuccess:
			return out.Response, attempt + 1, nil
		case forum.OutcomeFailure:
			return forum.Response{}, attempt + 1, out.Err
		case forum.OutcomeRateLimited:
			metrics.ObserveRateLimited(endpoint)
		default:
			return forum.Response{}, attempt + 1, fmt.Errorf("unknown transport outcome %d", out.Kind)
		}

		// The next attempt would exceed the ceiling, so stop without sleeping.
		if attempt+1 >= maxAttempts {
			metrics.ObserveRetryExhausted(endpoint)
			logger.Warn("rate limit retry budget exhausted", zap.Int("attempts", attempt+1))
			return forum.Response{}, attempt + 1, fmt.Errorf(
				"%s after %d attempts: %w", req.URL, attempt+1, forum.ErrRetryBudgetExhausted,
			)
		}
		delay, err := c.policy.Delay(attempt, maxAttempts, c.cfg.BaseDelay)
		if err != nil {
			metrics.ObserveRetryExhausted(endpoint)
			return forum.Response{}, attempt + 1, fmt.Errorf("%s: %w", req.URL, err)
		}
		logger.Info("rate limited; backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
		)
		metrics.ObserveBackoff(delay)
		if err := c.pauser.Pause(ctx, delay); err != nil {
			return forum.Response{}, attempt + 1, fmt.Errorf("backoff: %w", err)
		}
	}
}
