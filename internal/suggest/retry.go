package suggest

import (
	"context"
	"errors"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/metrics"
)

// ErrRateLimited classifies an AI-provider push-back. Only this error is
// retried; anything else fails fast to the fallback.
var ErrRateLimited = errors.New("ai_rate_limited")

// RetryPolicy is a bounded exponential backoff applied to the AI call only.
// Message sends are deliberately not retried: a duplicate delivery to a
// person is worse than a missed suggestion.
type RetryPolicy struct {
	MaxAttempts int                 // total attempts, default 3
	Initial     time.Duration       // first sleep, default 1s, doubles after
	Sleep       func(time.Duration) // injectable for tests; nil means time.Sleep
}

func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) (Payload, error)) (Payload, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := p.Initial
	if delay <= 0 {
		delay = time.Second
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return Payload{}, err
		}
		p, err := fn(ctx)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return Payload{}, err
		}
		lastErr = err
		if i < attempts-1 {
			metrics.RetryTotal.Inc()
			sleep(delay)
			delay *= 2
		}
	}
	return Payload{}, lastErr
}
