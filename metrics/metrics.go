// Package metrics exports runtime activity as Prometheus collectors.
//
// Observer and ResourceObserver plug into proxies and the resource
// tracker; HeapCollector samples the shared heap and frame allocator on
// scrape.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/resource"
)

const namespace = "domainrt"

var (
	registerOnce sync.Once

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "calls_total",
			Help:      "Calls dispatched through a proxy.",
		},
		[]string{"proxy", "method", "path"},
	)
	crashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "crashes_total",
			Help:      "Domain panics contained during proxy calls.",
		},
		[]string{"proxy", "method"},
	)
	replaces = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "replaces_total",
			Help:      "Domain replacements by outcome.",
		},
		[]string{"proxy", "success"},
	)
	replaceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "replace_duration_seconds",
			Help:      "Time from replace start to swap, including quiescence.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"proxy"},
	)
	reclaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "reclaims_total",
			Help:      "Domains whose resources were reclaimed.",
		},
	)
	reclaimedAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "reclaimed_allocations_total",
			Help:      "Shared heap allocations handled by reclaims.",
		},
		[]string{"action"},
	)
	pageEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "pages_total",
			Help:      "Pages registered to and released from domains.",
		},
		[]string{"action"},
	)
	caught = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "continuation",
			Name:      "caught_total",
			Help:      "Panics converted to errors by continuations.",
		},
		func() float64 { return float64(continuation.Caught()) },
	)
)

// RegisterMetrics registers the collectors with the default registry. It is
// safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dispatches, crashes, replaces, replaceDuration,
			reclaims, reclaimedAllocations, pageEvents, caught)
	})
}

func RecordDispatch(proxy, method string, slow bool) {
	RegisterMetrics()
	path := "fast"
	if slow {
		path = "slow"
	}
	dispatches.WithLabelValues(proxy, method, path).Inc()
}

func RecordCrash(proxy, method string) {
	RegisterMetrics()
	crashes.WithLabelValues(proxy, method).Inc()
}

func RecordReplace(proxy string, duration time.Duration, success bool) {
	RegisterMetrics()
	replaces.WithLabelValues(proxy, strconv.FormatBool(success)).Inc()
	if success {
		replaceDuration.WithLabelValues(proxy).Observe(duration.Seconds())
	}
}

func RecordReclaim(rep resource.Report) {
	RegisterMetrics()
	reclaims.Inc()
	reclaimedAllocations.WithLabelValues("freed").Add(float64(rep.FreedAllocations))
	reclaimedAllocations.WithLabelValues("forwarded").Add(float64(rep.ForwardedAllocations))
	pageEvents.WithLabelValues("released").Add(float64(rep.Pages))
}

func RecordPages(action string, n uint64) {
	RegisterMetrics()
	pageEvents.WithLabelValues(action).Add(float64(n))
}
