package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy bounds a retry loop with exponential backoff.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
	// Retryable decides whether an error is worth another try. Nil uses
	// IsTransient.
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error)
}

// DefaultPolicy is three tries starting at 250ms.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Delay returns the wait before retry number n (zero-based).
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	d = math.Min(d, float64(p.MaxDelay))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
	return zero, err
}

// LogRetry returns an OnRetry hook that logs through zap.
func LogRetry(service string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("service", service),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
