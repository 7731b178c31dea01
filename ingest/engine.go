// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/molecula/aws-bill-analysis/condition"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize = 250

	// progressEvery successes or failures write one progress mark.
	progressEvery = 100
)

var defaultTemplate = MustParseIndexTemplate(DefaultIndexTemplate)

// RecordSource is a sequence of conditioned records, such as a
// *condition.Stage. Record returns io.EOF once the sequence is exhausted.
type RecordSource interface {
	Record() (condition.Record, error)
}

// Summary counts the outcome of ingesting a sequence of records.
type Summary struct {
	Succeeded uint64
	Failed    uint64
	Retries   uint64
	Batches   uint64
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Retries += o.Retries
	s.Batches += o.Batches
}

// Total returns the number of records which reached the engine.
func (s Summary) Total() uint64 { return s.Succeeded + s.Failed }

func (s Summary) String() string {
	return fmt.Sprintf("%d succeeded, %d failed, %d retries in %d batches", s.Succeeded, s.Failed, s.Retries, s.Batches)
}

// Engine submits records to a Store. It may be shared by concurrent calls
// to Ingest.
type Engine struct {
	Store     Store
	BatchSize int
	OpType    string
	Template  *IndexTemplate
	Retry     RetryPolicy

	// HashMissingIDs derives a document id from the record's content when
	// it carries no line item id. Otherwise the store assigns one.
	HashMissingIDs bool

	// Limiter, when set, paces bulk requests.
	Limiter *rate.Limiter
	// DeadLetter, when set and available, receives every failed operation.
	DeadLetter DeadLetterStore
	// Progress receives a '.' per 100 successes and an 'F' per 100
	// failures.
	Progress io.Writer

	Log logger.Logger

	progressMu sync.Mutex
}

// NewEngine returns an Engine with default settings writing to store.
func NewEngine(store Store, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger
	}
	return &Engine{
		Store:          store,
		BatchSize:      DefaultBatchSize,
		OpType:         OpIndex,
		Template:       defaultTemplate,
		Retry:          DefaultRetryPolicy(),
		HashMissingIDs: true,
		Log:            log,
	}
}

// ToOperation builds the write operation for rec.
func (e *Engine) ToOperation(rec condition.Record) (Operation, error) {
	op := Operation{OpType: e.OpType, Document: rec}
	if op.OpType == "" {
		op.OpType = OpIndex
	}
	tmpl := e.Template
	if tmpl == nil {
		tmpl = defaultTemplate
	}
	if tmpl.Static() {
		op.Index = tmpl.Render(time.Time{})
	} else {
		ts, ok := rec.Timestamp()
		if !ok {
			return op, errors.Errorf("record has no %s to name its index with", condition.KeyTimestamp)
		}
		op.Index = tmpl.Render(ts)
	}

	if id, _ := rec[condition.KeyLineItemID].(string); id != "" {
		op.ID = id
	} else if e.HashMissingIDs {
		op.ID = fallbackID(rec)
		e.Log.Debugf("Record has no ID, using content hash %s", op.ID)
	} else {
		e.Log.Debugf("Record has no ID, the store will assign one and a rerun will duplicate it: %v", rec)
	}
	if op.OpType == OpUpdate && op.ID == "" {
		return op, errors.New("update operations need a document id")
	}
	return op, nil
}

// Ingest drains src through the store. Per-operation failures are counted
// and logged, never returned; an error means src itself failed, and the
// summary is exact up to that point.
func (e *Engine) Ingest(ctx context.Context, src RecordSource) (Summary, error) {
	r := &run{e: e, ctx: ctx}
	size := e.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	batch := make([]Operation, 0, size)

	for {
		rec, err := src.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.submit(batch)
			return r.sum, err
		}
		op, err := e.ToOperation(rec)
		if err != nil {
			r.fail(op, 0, err.Error())
			continue
		}
		batch = append(batch, op)
		if len(batch) == size {
			r.submit(batch)
			batch = batch[:0]
		}
	}
	r.submit(batch)
	return r.sum, nil
}

// run is the state of one Ingest call.
type run struct {
	e   *Engine
	ctx context.Context
	sum Summary
}

// pending is an operation waiting to be resubmitted, with the reason of
// its last rejection.
type pending struct {
	op     Operation
	status int
	reason string
}

// submit writes one batch, resubmitting retryable operations until they
// succeed or the retry policy gives up. Operations keep their order within
// every request.
func (r *run) submit(batch []Operation) {
	if len(batch) == 0 {
		return
	}
	r.sum.Batches++

	ops := batch
	var b backoff.BackOff
	for len(ops) > 0 {
		retry, ok := r.attempt(ops)
		if !ok || len(retry) == 0 {
			return
		}
		if b == nil {
			b = r.e.Retry.NewBackOff()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			for _, p := range retry {
				r.fail(p.op, p.status, "giving up after retries: "+p.reason)
			}
			return
		}
		r.sum.Retries += uint64(len(retry))
		CounterBulkOpsRetried.Add(float64(len(retry)))
		r.e.Log.Debugf("Retrying %d of %d operations in %v", len(retry), len(ops), wait)
		if err := sleep(r.ctx, wait); err != nil {
			for _, p := range retry {
				r.fail(p.op, p.status, err.Error())
			}
			return
		}
		ops = make([]Operation, len(retry))
		for i, p := range retry {
			ops[i] = p.op
		}
	}
}

// attempt sends ops once and returns those worth another try. ok is false
// when every operation has been settled.
func (r *run) attempt(ops []Operation) (retry []pending, ok bool) {
	if r.e.Limiter != nil {
		if err := r.e.Limiter.Wait(r.ctx); err != nil {
			r.failAll(ops, 0, err.Error())
			return nil, false
		}
	}

	results, err := r.e.Store.Bulk(r.ctx, ops)
	if err == nil && len(results) != len(ops) {
		err = errors.Errorf("store returned %d results for %d operations", len(results), len(ops))
	}
	if err != nil {
		CounterBulkRequests.WithLabelValues("error").Inc()
		if !IsTransient(err) || r.ctx.Err() != nil {
			r.e.Log.Debugf("Bulk request failed: %v", err)
			r.failAll(ops, 0, err.Error())
			return nil, false
		}
		r.e.Log.Debugf("Bulk request failed, will retry: %v", err)
		retry = make([]pending, len(ops))
		for i, op := range ops {
			retry[i] = pending{op: op, reason: err.Error()}
		}
		return retry, true
	}
	CounterBulkRequests.WithLabelValues("ok").Inc()

	for i, res := range results {
		switch {
		case res.OK():
			r.succeed()
		case res.Retryable:
			retry = append(retry, pending{op: ops[i], status: res.Status, reason: res.Error})
		default:
			r.fail(ops[i], res.Status, res.Error)
		}
	}
	return retry, true
}

func (r *run) succeed() {
	r.sum.Succeeded++
	CounterBulkOpsSucceeded.Inc()
	if r.sum.Succeeded%progressEvery == 0 {
		r.e.progress('.')
	}
}

func (r *run) failAll(ops []Operation, status int, reason string) {
	for _, op := range ops {
		r.fail(op, status, reason)
	}
}

func (r *run) fail(op Operation, status int, reason string) {
	r.sum.Failed++
	CounterBulkOpsFailed.Inc()
	r.e.Log.Debugf("Failed to write %s: status %d: %s", op, status, reason)
	if r.sum.Failed%progressEvery == 0 {
		r.e.progress('F')
	}
	if dl := r.e.DeadLetter; dl != nil && dl.Available() {
		err := dl.Push(r.ctx, DeadLetter{
			Index:    op.Index,
			ID:       op.ID,
			Status:   status,
			Error:    reason,
			Time:     time.Now().UTC().Format(time.RFC3339),
			Document: op.Document,
		})
		if err != nil {
			r.e.Log.Warnf("Pushing dead letter for %s: %v", op, err)
		}
	}
}

func (e *Engine) progress(mark byte) {
	if e.Progress == nil {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	_, _ = e.Progress.Write([]byte{mark})
}
