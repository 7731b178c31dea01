// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricBulkRequests     = "bulk_requests_total"
	MetricBulkOpsSucceeded = "bulk_operations_succeeded_total"
	MetricBulkOpsFailed    = "bulk_operations_failed_total"
	MetricBulkOpsRetried   = "bulk_operations_retried_total"
)

var CounterBulkRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "billing",
		Name:      MetricBulkRequests,
		Help:      "Bulk requests sent to the index store.",
	},
	[]string{
		"result",
	},
)

var CounterBulkOpsSucceeded = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "billing",
		Name:      MetricBulkOpsSucceeded,
		Help:      "Operations accepted by the index store.",
	},
)

var CounterBulkOpsFailed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "billing",
		Name:      MetricBulkOpsFailed,
		Help:      "Operations given up on.",
	},
)

var CounterBulkOpsRetried = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "billing",
		Name:      MetricBulkOpsRetried,
		Help:      "Operations resubmitted after a retryable rejection.",
	},
)

func init() {
	prometheus.MustRegister(CounterBulkRequests)
	prometheus.MustRegister(CounterBulkOpsSucceeded)
	prometheus.MustRegister(CounterBulkOpsFailed)
	prometheus.MustRegister(CounterBulkOpsRetried)
}
