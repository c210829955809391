package email

import "time"

// RetryPolicy defines the exponential backoff parameters for in-process
// delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// SendRetryPolicy is the in-process retry schedule for a send worker: one
// initial attempt plus three retries, with delays of 10s, 60s and then the
// five-minute cap between them.
var SendRetryPolicy = RetryPolicy{
	MaxAttempts:   4,
	BaseDelay:     10 * time.Second,
	MaxDelay:      5 * time.Minute,
	BackoffFactor: 6.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}
