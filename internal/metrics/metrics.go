// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mirrorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrord_requests_total",
		Help: "Mirror requests by outcome",
	}, []string{"outcome"}) // outcome=ok|error

	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrord_resolve_total",
		Help: "Resolve attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|error

	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrord_cache_events_total",
		Help: "Cache lookups by result",
	}, []string{"result"}) // result=hit|miss

	ssrfBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirrord_ssrf_blocked_total",
		Help: "Total outbound requests refused by the SSRF guard",
	})

	upstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirrord_upstream_request_seconds",
		Help:    "Upstream fetch duration including redirect hops",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordRequest counts one serviced mirror request.
func RecordRequest(ok bool) {
	mirrorRequestsTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordResolve counts one resolve attempt.
func RecordResolve(ok bool) {
	resolveTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordCacheHit counts a cache lookup result.
func RecordCacheHit(hit bool) {
	if hit {
		cacheEventsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheEventsTotal.WithLabelValues("miss").Inc()
}

// RecordSSRFBlocked counts one guard refusal.
func RecordSSRFBlocked() {
	ssrfBlockedTotal.Inc()
}

// ObserveUpstreamDuration records the wall time of one upstream fetch.
func ObserveUpstreamDuration(seconds float64) {
	upstreamDuration.Observe(seconds)
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
