// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ingest writes conditioned records to an index store in batches,
// retrying rejected operations with exponential backoff.
//
// For each record source the engine:
// 1. turns each record into an operation, naming its index from @timestamp
// 2. fills a batch of BatchSize operations, in arrival order
// 3. waits for the rate limiter, then sends the batch as one bulk request
// 4. counts the operations the store accepted
// 5. resubmits only the rejected operations whose status allows a retry, after a backoff
// 6. gives up on the rest, logging them and pushing them to the dead letter store
//
// A failed operation never stops the run; only a failing source does.
package ingest
