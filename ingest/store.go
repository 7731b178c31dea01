// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Store accepts batches of write operations.
type Store interface {
	// Bulk submits ops in a single request and returns one Result per
	// operation, in the order given. An error means the request as a whole
	// failed and no operation was applied.
	Bulk(ctx context.Context, ops []Operation) ([]Result, error)
}

// Result is the store's verdict on one operation.
type Result struct {
	Status    int
	Error     string
	Retryable bool
}

// OK reports whether the operation was applied.
func (r Result) OK() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 300
}

// TransientError marks a whole-request failure which is worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Transient() bool { return true }

// IsTransient reports whether a failed Bulk request may succeed if sent
// again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
