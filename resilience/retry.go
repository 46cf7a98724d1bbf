package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	afErrors "github.com/kbukum/autoflow/errors"
)

// Policy configures Do. Zero fields take the defaults below.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter spreads each delay by up to this fraction in both directions.
	Jitter float64
	// ShouldRetry decides whether err is worth another attempt. The default
	// is Transient.
	ShouldRetry func(err error) bool
	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Defaults.
const (
	DefaultAttempts = 3
	DefaultInitial  = 100 * time.Millisecond
	DefaultMax      = 5 * time.Second
	DefaultFactor   = 2.0
)

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Factor < 1 {
		p.Factor = DefaultFactor
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = Transient
	}
	return p
}

// Transient rejects context errors and AppErrors whose code is not
// retryable. Any other error is retried.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if appErr, ok := afErrors.AsAppError(err); ok {
		return appErr.Retryable
	}
	return true
}

// Do calls fn until it succeeds, the policy gives up or ctx is done. It
// returns the last error from fn, or ctx.Err() if the wait was cut short.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.Attempts || !p.ShouldRetry(err) {
			return err
		}
		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Delay returns the wait after the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if d <= 0 {
		d = float64(p.Initial)
	}
	return time.Duration(d)
}
