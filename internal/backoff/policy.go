// Package backoff computes exponential retry delays with jitter. The sync
// worker uses it to pace queue delivery attempts when the remote channel is
// down.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the first delay in milliseconds.
	InitialMs float64
	// MaxMs caps the delay in milliseconds.
	MaxMs float64
	// Factor is the multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top.
	Jitter float64
}

// Compute calculates the delay for a given attempt number. Attempts start
// at 1; the formula is initialMs * factor^(attempt-1) plus jitter, clamped
// to MaxMs.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the delay using a caller-provided random value
// in [0.0, 1.0), which keeps tests deterministic.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Sleep waits for the attempt's computed delay or until the context ends.
func Sleep(ctx context.Context, policy Policy, attempt int) error {
	timer := time.NewTimer(Compute(policy, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SyncPolicy paces the queue sync worker: 1s doubling to a 60s ceiling.
func SyncPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     60000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// DeliveryPolicy paces individual delivery retries inside one sync pass.
func DeliveryPolicy() Policy {
	return Policy{
		InitialMs: 100,
		MaxMs:     5000,
		Factor:    2,
		Jitter:    0.1,
	}
}
