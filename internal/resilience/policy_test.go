package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_ZeroValueCallsOnce(t *testing.T) {
	var calls int
	err := Policy{}.Call(context.Background(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_RetriesThroughBreaker(t *testing.T) {
	sb := Settings{FailureThreshold: 10, ResetTimeout: time.Minute}.Breakers()
	p := NewPolicy("jina", fastRetry(3), sb, 0)

	var calls int
	got, err := CallVal(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(errors.New("temporary"), 502)
		}
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CircuitClosed, sb.States()["jina"])
}

func TestPolicy_OpenBreakerStopsRetries(t *testing.T) {
	sb := Settings{FailureThreshold: 1, ResetTimeout: time.Minute}.Breakers()
	p := NewPolicy("eodhd", fastRetry(5), sb, 0)

	var calls int
	err := p.Call(context.Background(), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("temporary"), 503)
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestPolicy_TimeoutPerAttempt(t *testing.T) {
	p := Policy{Service: "slow", Retry: fastRetry(2), Timeout: 10 * time.Millisecond}

	var calls int
	err := p.Call(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}
