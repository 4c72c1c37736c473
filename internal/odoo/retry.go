package odoo

import (
	"math/rand"
	"time"
)

// RetryPolicy parameterizes the shared backoff used by both protocol
// variants: base delay, doubling multiplier, a cap, and jitter, grounded on
// the corpus's bit-shift exponential backoff shape but expressed as a
// concrete sleep duration rather than a boolean retry gate.
type RetryPolicy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
	Jitter     float64 // fraction, e.g. 0.2 = +/-20%
	MaxRetries int
}

// DefaultRetryPolicy matches the common policy from the component design:
// base 100ms, doubling, capped at 2s, +/-20% jitter.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		Base:       100 * time.Millisecond,
		Multiplier: 2,
		Cap:        2 * time.Second,
		Jitter:     0.2,
		MaxRetries: maxRetries,
	}
}

// Delay returns the backoff delay before retry attempt n (n is 0-indexed:
// n=0 is the delay before the first retry, i.e. after the initial attempt
// failed).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < n; i++ {
		d *= p.Multiplier
	}
	if cap := float64(p.Cap); d > cap {
		d = cap
	}
	if p.Jitter > 0 {
		delta := d * p.Jitter
		d = d - delta + rand.Float64()*2*delta
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Attempts returns the total number of attempts (initial + retries).
func (p RetryPolicy) Attempts() int {
	return p.MaxRetries + 1
}

// isRetryable reports whether err (already classified) warrants a retry:
// transport failures and timeouts are transient; everything else
// (authentication, access, application errors) is not.
func isRetryable(err *Error) bool {
	switch err.Kind {
	case KindTransportError, KindTimeout:
		return true
	default:
		return false
	}
}
