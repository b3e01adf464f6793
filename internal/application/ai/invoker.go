package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	domainai "github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
)

// ErrRetriesExhausted is matched by every *ExhaustedError.
var ErrRetriesExhausted = errors.New("ai retries exhausted")

// ExhaustedError carries the last transient error after the attempt budget ran out.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

const (
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultMaxAttempts = 5
)

// Invoker retries one external call while it fails with a transient error.
// Zero values fall back to the defaults above.
type Invoker struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// IsTransient classifies errors; nil uses domainai.IsTransient.
	IsTransient func(error) bool
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0,1).
	Jitter func() float64
	// OnRetry is called before every backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewInvoker builds an invoker with the given budget.
func NewInvoker(base, max time.Duration, attempts int) *Invoker {
	return &Invoker{BaseDelay: base, MaxDelay: max, MaxAttempts: attempts}
}

// Delay returns the backoff before retry number attempt (0-based):
// min(max, base*2^attempt) plus up to half of that again as jitter.
func (i *Invoker) Delay(attempt int) time.Duration {
	base, max := i.BaseDelay, i.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	j := rand.Float64
	if i.Jitter != nil {
		j = i.Jitter
	}
	return time.Duration(d + j()*d*0.5)
}

// Do runs fn until it succeeds, fails fatally, or the attempt budget is spent.
func (i *Invoker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := i.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	transient := i.IsTransient
	if transient == nil {
		transient = domainai.IsTransient
	}
	sleep := i.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		last = err
		if attempt == attempts-1 {
			break
		}
		d := i.Delay(attempt)
		if i.OnRetry != nil {
			i.OnRetry(attempt+1, d, err)
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

// Call is Do for calls that return a value.
func Call[T any](ctx context.Context, inv *Invoker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := inv.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
