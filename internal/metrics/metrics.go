// Package metrics holds the daemon's Prometheus collectors on a private registry.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	indexOrphans prometheus.Counter

	eventsDelivered    prometheus.Counter
	eventsDeadLettered prometheus.Counter
}

func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "number of ledger operations by op and result",
		}, []string{"op", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "time spent serving ledger operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		indexOrphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_orphans_total",
			Help:      "number of indexed invoice ids that could not be loaded",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "number of events delivered to the webhook",
		}),
		eventsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dead_lettered_total",
			Help:      "number of events moved to the dead-letter list",
		}),
	}
	err := errors.Join(
		m.registry.Register(m.requests),
		m.registry.Register(m.requestDuration),
		m.registry.Register(m.indexOrphans),
		m.registry.Register(m.eventsDelivered),
		m.registry.Register(m.eventsDeadLettered),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one operation. result is "ok" or an error class.
func (m *Metrics) ObserveRequest(op, result string, elapsed time.Duration) {
	m.requests.WithLabelValues(op, result).Inc()
	m.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IndexOrphan matches the ledger's OnSkippedInvoice hook.
func (m *Metrics) IndexOrphan(uint64, error) { m.indexOrphans.Inc() }

func (m *Metrics) EventsDelivered(n int) { m.eventsDelivered.Add(float64(n)) }

func (m *Metrics) EventsDeadLettered(n int) { m.eventsDeadLettered.Add(float64(n)) }
