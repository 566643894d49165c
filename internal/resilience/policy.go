package resilience

import (
	"context"
	"time"
)

// Policy is the retry and circuit-breaker treatment for one external service.
// The zero Policy calls fn once with no breaker.
type Policy struct {
	Service string
	Retry   RetryConfig
	Breaker *CircuitBreaker
	// Timeout bounds each attempt. Zero leaves ctx unchanged.
	Timeout time.Duration
}

// NewPolicy builds a Policy for service using a breaker from breakers (may be nil).
func NewPolicy(service string, retry RetryConfig, breakers *ServiceBreakers, timeout time.Duration) Policy {
	p := Policy{Service: service, Retry: retry, Timeout: timeout}
	if breakers != nil {
		p.Breaker = breakers.Get(service)
	}
	if p.Retry.OnRetry == nil {
		p.Retry.OnRetry = RetryLogger(service, "call")
	}
	return p
}

// Call runs fn through the policy.
func (p Policy) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := CallVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CallVal runs fn through p. Each attempt passes through the breaker, so an
// open circuit stops the retry loop early with ErrCircuitOpen.
func CallVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		if p.Breaker != nil {
			return ExecuteVal(ctx, p.Breaker, fn)
		}
		return fn(ctx)
	}

	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = 1
	}
	return DoVal(ctx, p.Retry, attempt)
}
