// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how long rejected operations keep being resubmitted.
// The delay before retry n is InitialBackoff*2^n, capped at MaxBackoff, with
// Jitter as the randomization factor.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64
}

// DefaultRetryPolicy is patient enough to ride out a cluster restart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     500,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     3000 * time.Second,
		Jitter:         0.1,
	}
}

// NewBackOff returns a fresh backoff sequence which stops after MaxRetries
// delays.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	if p.MaxRetries <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
