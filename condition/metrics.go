// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package condition

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricConditionedRecords = "conditioned_records_total"
	MetricDroppedRecords     = "dropped_records_total"
)

var CounterConditionedRecords = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "billing",
		Name:      MetricConditionedRecords,
		Help:      "Records conditioned and passed on for indexing.",
	},
)

var CounterDroppedRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "billing",
		Name:      MetricDroppedRecords,
		Help:      "Records dropped because they could not be conditioned.",
	},
	[]string{
		"reason",
	},
)

func init() {
	prometheus.MustRegister(CounterConditionedRecords)
	prometheus.MustRegister(CounterDroppedRecords)
}
