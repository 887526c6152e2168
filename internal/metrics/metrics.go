// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package metrics exposes the prometheus counters and gauges for the
// "MissNotifier + test harness hooks" surface: cache evictions, sample
// misses, recovery queries issued, and periodic task ticks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "advpubsub"

var (
	// CacheEvictions counts samples dropped from a PublisherCache ring on
	// overflow (spec.md §4.3 "evicting the oldest if full").
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Samples evicted from a publisher cache ring on overflow.",
	}, []string{"cache_key"})

	// CacheSize reports the current occupancy of a publisher cache ring.
	CacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "size",
		Help:      "Current number of samples held in a publisher cache ring.",
	}, []string{"cache_key"})

	// MissEventsTotal counts MissEvents emitted (spec.md §4.7), labeled by
	// source: one per detected gap, however many listeners are registered.
	MissEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscriber",
		Name:      "miss_events_total",
		Help:      "MissEvents emitted, one per detected gap regardless of listener count.",
	}, []string{"source"})

	// MissedSamplesTotal sums the `nb` field of every MissEvent, giving the
	// actual count of irrecoverably lost samples (spec.md §8 invariant 3).
	MissedSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscriber",
		Name:      "missed_samples_total",
		Help:      "Samples reported irrecoverably lost, summed across MissEvents.",
	}, []string{"source"})

	// RecoveryQueriesTotal counts outbound get queries issued by the
	// recovery engine, labeled by trigger (spec.md §4.6).
	RecoveryQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "queries_total",
		Help:      "Outbound recovery queries issued, labeled by trigger.",
	}, []string{"trigger"})

	// PeriodicTaskTicks counts periodic recovery task invocations, labeled
	// by source (spec.md §4.6 trigger 4).
	PeriodicTaskTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "periodic_ticks_total",
		Help:      "Periodic recovery task ticks, labeled by source.",
	}, []string{"source"})

	// CircuitBreakerState reports the outbound-query circuit breaker state
	// (0=closed, 1=half-open, 2=open) per subscriber.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "circuit_breaker_state",
		Help:      "Outbound query circuit breaker state: 0=closed, 1=half-open, 2=open.",
	}, []string{"subscriber"})
)
