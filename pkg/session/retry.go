package session

import "time"

// Default timing used when a RetryPolicy or liveness interval is left
// at its zero value.
const (
	// DefaultRetryInterval is the pause between connect attempts.
	DefaultRetryInterval = 1 * time.Second

	// DefaultRetryBudget bounds how long a connect keeps retrying
	// before giving up.
	DefaultRetryBudget = 25 * time.Second

	// DefaultLivenessInterval is the pause between liveness probes
	// against a connected device.
	DefaultLivenessInterval = 1 * time.Second
)

// RetryPolicy controls how Connect retries failed attempts.
type RetryPolicy struct {
	// Interval is the pause between consecutive attempts.
	// Defaults to DefaultRetryInterval.
	Interval time.Duration

	// Budget is the total time Connect keeps retrying before it
	// fails with ErrConnectTimeout. Measured from the start of the
	// shared attempt, not per caller. Defaults to DefaultRetryBudget.
	Budget time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is
// configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval: DefaultRetryInterval,
		Budget:   DefaultRetryBudget,
	}
}

// normalized fills zero fields with defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultRetryInterval
	}
	if p.Budget <= 0 {
		p.Budget = DefaultRetryBudget
	}
	return p
}
