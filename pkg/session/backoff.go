package session

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// pacer spaces reconnect attempts on the control loop without blocking it.
// Each attempt doubles the wait before the next one, capped at limit. A zero
// base disables pacing.
type pacer struct {
	policy   *backoff.ExponentialBackOff
	next     time.Time
	attempts int
}

func newPacer(base, limit time.Duration) pacer {
	if base <= 0 {
		return pacer{}
	}
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.MaxInterval = limit
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.Reset()
	return pacer{policy: policy}
}

func (p *pacer) ready(now time.Time) bool {
	return p.policy == nil || !now.Before(p.next)
}

// attempt records an attempt at now and returns the wait before the next.
func (p *pacer) attempt(now time.Time) time.Duration {
	p.attempts++
	if p.policy == nil {
		return 0
	}
	delay := p.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = p.policy.MaxInterval
	}
	p.next = now.Add(delay)
	return delay
}

func (p *pacer) reset() {
	p.next = time.Time{}
	p.attempts = 0
	if p.policy != nil {
		p.policy.Reset()
	}
}
