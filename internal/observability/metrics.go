// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "swapwatch"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Feed metrics
	EventsReceived  prometheus.Counter
	EventsThrottled prometheus.Counter
	HighestSlotSeen prometheus.Gauge

	// Discovery metrics
	Classifications   *prometheus.CounterVec
	DuplicatesSkipped prometheus.Counter

	// Fetch metrics
	Fetches         *prometheus.CounterVec
	FetchLatency    prometheus.Histogram
	DispatchedBytes prometheus.Counter
	LimiterQueue    *prometheus.GaugeVec
	LimiterInFlight *prometheus.GaugeVec

	// Amount metrics
	SwapsAccepted prometheus.Counter
	SwapsRejected *prometheus.CounterVec
	TotalTraded   prometheus.Gauge

	// Sink metrics
	SinkWrites *prometheus.CounterVec

	// Health metrics
	LastAcceptedSwap prometheus.Gauge

	slotMu      sync.Mutex
	highestSlot int64
}

// NewMetrics registers all metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_received_total",
			Help:      "Total number of log notifications received",
		}),
		EventsThrottled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_throttled_total",
			Help:      "Total number of log notifications that waited on the inbound gate",
		}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "classifications_total",
			Help:      "Total number of classified events by decision and reason",
		}, []string{"decision", "reason"}),
		DuplicatesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of candidates skipped as already seen",
		}),

		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of getTransaction calls by result",
		}, []string{"result"}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "getTransaction latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DispatchedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "dispatched_bytes_total",
			Help:      "Total reservoir cost charged for dispatched records",
		}),
		LimiterQueue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "queued",
			Help:      "Tasks waiting for admission by limiter",
		}, []string{"limiter"}),
		LimiterInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "in_flight",
			Help:      "Admitted tasks still running by limiter",
		}, []string{"limiter"}),

		SwapsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amount",
			Name:      "swaps_accepted_total",
			Help:      "Total number of swaps counted toward the total",
		}),
		SwapsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amount",
			Name:      "swaps_rejected_total",
			Help:      "Total number of fetched swaps not counted, by reason",
		}, []string{"reason"}),
		TotalTraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "amount",
			Name:      "total_traded",
			Help:      "Running total of accepted swap amounts",
		}),

		SinkWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "writes_total",
			Help:      "Total number of swap sink writes by sink and status",
		}, []string{"sink", "status"}),

		LastAcceptedSwap: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_accepted_swap_timestamp",
			Help:      "Unix timestamp of the last accepted swap",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler for a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordEvent counts a received notification.
func (m *Metrics) RecordEvent(slot int64) {
	if m == nil {
		return
	}
	m.EventsReceived.Inc()

	// Slots arrive out of order; keep the max.
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if slot > m.highestSlot {
		m.highestSlot = slot
		m.HighestSlotSeen.Set(float64(slot))
	}
}

// RecordThrottled counts an event delayed by the inbound gate.
func (m *Metrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.EventsThrottled.Inc()
}

// RecordClassification counts a filter decision.
func (m *Metrics) RecordClassification(decision, reason string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(decision, reason).Inc()
}

// RecordDuplicate counts a candidate dropped by the dedup store.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.Inc()
}

// RecordFetch records one getTransaction outcome and its latency.
func (m *Metrics) RecordFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
	m.FetchLatency.Observe(d.Seconds())
}

// RecordDispatch adds cost to the dispatched bytes counter.
func (m *Metrics) RecordDispatch(cost int64) {
	if m == nil {
		return
	}
	m.DispatchedBytes.Add(float64(cost))
}

// UpdateLimiter sets queue depth and in-flight gauges for a limiter.
func (m *Metrics) UpdateLimiter(name string, queued int, inFlight int64) {
	if m == nil {
		return
	}
	m.LimiterQueue.WithLabelValues(name).Set(float64(queued))
	m.LimiterInFlight.WithLabelValues(name).Set(float64(inFlight))
}

// RecordAccepted counts an accepted swap and publishes the new total.
func (m *Metrics) RecordAccepted(total float64) {
	if m == nil {
		return
	}
	m.SwapsAccepted.Inc()
	m.TotalTraded.Set(total)
	m.LastAcceptedSwap.SetToCurrentTime()
}

// RecordRejected counts a swap that was fetched but not counted.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.SwapsRejected.WithLabelValues(reason).Inc()
}

// RecordSinkWrite counts a write to a swap sink.
func (m *Metrics) RecordSinkWrite(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkWrites.WithLabelValues(sink, status).Inc()
}
