package remote

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/metrics"
)

// Policy defines bounded retry with exponential backoff. MaxAttempts
// counts the first call, so MaxAttempts network round trips is the hard
// ceiling per logical operation. Retryable decides, from the status
// code of a NetworkError, whether another attempt is allowed; every
// other failure surfaces immediately.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Retryable    func(status int) bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy creates a retry policy. src seeds the backoff jitter; pass
// a fixed-seed source in tests for deterministic timing. A nil src
// falls back to a time-based seed.
func NewPolicy(
	maxAttempts int,
	initialDelay, maxDelay time.Duration,
	multiplier float64,
	retryable func(status int) bool,
	src rand.Source,
) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if multiplier < 1 {
		multiplier = 2.0
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		Retryable:    retryable,
		rng:          rand.New(src),
	}
}

// RetryableStatus builds a predicate accepting exactly the given codes.
func RetryableStatus(codes ...int) func(status int) bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return func(status int) bool {
		return set[status]
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget runs out. Intermediate transient failures are
// swallowed; the last observed error is returned unchanged.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	var prevDelay time.Duration

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RetriesTotal.WithLabelValues(op).Inc()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.backoff(attempt, prevDelay)
		prevDelay = delay
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (p *Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return false
	}
	ne, ok := domain.AsNetworkError(err)
	if !ok {
		return false
	}
	return p.Retryable(ne.StatusCode)
}

// backoff grows exponentially with jitter, clamped so successive delays
// never decrease even once the cap is hit.
func (p *Policy) backoff(attempt int, prev time.Duration) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	p.mu.Lock()
	jitter := p.rng.Float64()
	p.mu.Unlock()

	delay := time.Duration(base + jitter*base/2)
	if delay < prev {
		delay = prev
	}
	return delay
}
