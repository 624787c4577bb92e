// Package backoff computes retry delays and sleeps between attempts.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential backoff schedule.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps any single delay. Zero means uncapped.
	Max time.Duration
	// Factor multiplies the delay after every retry.
	Factor float64
	// Jitter adds up to Jitter*delay of random extra wait (0.0 to 1.0).
	Jitter float64
}

// Delay returns the wait before retry number n (1-based) with random jitter.
func (p Policy) Delay(n int) time.Duration {
	return p.DelayWithRand(n, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand returns the wait before retry n using the supplied random
// value in [0.0, 1.0). The schedule is Initial * Factor^(n-1) plus jitter,
// clamped to Max.
func (p Policy) DelayWithRand(n int, randomValue float64) time.Duration {
	exp := math.Max(float64(n-1), 0)
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	if total >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Round(total))
}

// GenerationPolicy is the answer-generation schedule: base doubles on every
// rate-limited or transient attempt, with no jitter so runs are reproducible.
func GenerationPolicy(base time.Duration) Policy {
	return Policy{Initial: base, Factor: 2}
}

// FetchPolicy is the schedule used for content provider requests.
// Initial: 500ms, Max: 8s, Factor: 2, Jitter: 20%
func FetchPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     8 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}
