package transaction

import (
	"time"

	"github.com/cenkalti/backoff/v3"
)

// RetryPolicy bounds how often a device's whole transaction is repeated
// after a transport failure, and how long to wait in between.
type RetryPolicy struct {
	MaxAttempts         int           `json:"max_attempts"`
	InitialInterval     time.Duration `json:"initial_interval"`
	MaxInterval         time.Duration `json:"max_interval"`
	Multiplier          float64       `json:"multiplier"`
	RandomizationFactor float64       `json:"randomization_factor"`
}

// DefaultRetryPolicy is three attempts, 1s then 2s apart, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		InitialInterval:     time.Second,
		MaxInterval:         10 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// newBackOff returns the interval source for one device. Elapsed time is
// not capped; the attempt ceiling ends the loop.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	def := DefaultRetryPolicy()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = def.InitialInterval
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.MaxInterval = def.MaxInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Multiplier = def.Multiplier
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
