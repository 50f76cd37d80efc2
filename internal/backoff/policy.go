// Package backoff provides exponential backoff with jitter for the outbound
// HTTP clients (reasoning service, research API).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines how a failed call is retried.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration `yaml:"initial" json:"initial"`
	// Max caps any single delay.
	Max time.Duration `yaml:"max" json:"max"`
	// Factor is the exponential growth applied per attempt.
	Factor float64 `yaml:"factor" json:"factor"`
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64 `yaml:"jitter" json:"jitter"`
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// DefaultPolicy returns the policy used by the HTTP clients.
// Initial: 500ms, Max: 10s, Factor: 2, Jitter: 20%, 4 attempts.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     500 * time.Millisecond,
		Max:         10 * time.Second,
		Factor:      2,
		Jitter:      0.2,
		MaxAttempts: 4,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = def.Jitter
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delay computes min(Max, base + base*Jitter*r) with base = Initial * Factor^(attempt-1).
func (p Policy) delay(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := math.Min(float64(p.Max), base+base*p.Jitter*r)
	return time.Duration(total).Round(time.Millisecond)
}
