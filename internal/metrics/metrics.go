package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roman-kulish/spindle-monitor/internal/acquisition"
	"github.com/roman-kulish/spindle-monitor/internal/remote"
	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const namespace = "spindlemon"

// Fetch results recorded in the "result" label.
const (
	ResultOK        = "ok"
	ResultTransient = "transient"
	ResultMalformed = "malformed"
	ResultError     = "error"
)

var statuses = []acquisition.Status{acquisition.Idle, acquisition.Starting, acquisition.Running, acquisition.Stopping}

// Acquisition holds the Prometheus collectors of an acquisition loop. It implements
// acquisition.Metrics.
type Acquisition struct {
	fetches             *prometheus.CounterVec   // Fetches by channel and result
	fetchDuration       *prometheus.HistogramVec // Fetch latency by channel
	outcomes            *prometheus.CounterVec   // Transition outcomes
	status              *prometheus.GaugeVec     // 1 for the current status, 0 otherwise
	consecutiveFailures *prometheus.GaugeVec     // Current failure streak by channel
	liveClients         prometheus.Gauge         // Connected live view clients
	droppedUpdates      prometheus.Counter       // Live view updates dropped for slow clients
}

// NewAcquisition creates the collectors and registers them with reg.
func NewAcquisition(reg prometheus.Registerer) *Acquisition {
	factory := promauto.With(reg)

	m := &Acquisition{
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Collector fetches by channel and result",
			},
			[]string{"channel", "result"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Collector fetch latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"channel"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Acquisition state transitions by outcome",
			},
			[]string{"outcome"},
		),
		status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "status",
				Help:      "Acquisition status, 1 for the current one",
			},
			[]string{"status"},
		),
		consecutiveFailures: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consecutive_failures",
				Help:      "Consecutive failed fetches",
			},
			[]string{"channel"},
		),
		liveClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_clients",
				Help:      "Connected live view clients",
			},
		),
		droppedUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_dropped_updates_total",
				Help:      "Live view updates replaced before a slow client received them",
			},
		),
	}

	m.SetStatus(acquisition.Idle)
	return m
}

func (m *Acquisition) ObserveFetch(ch spectrum.Channel, elapsed time.Duration, err error) {
	m.fetches.WithLabelValues(ch.String(), Result(err)).Inc()
	m.fetchDuration.WithLabelValues(ch.String()).Observe(elapsed.Seconds())
}

func (m *Acquisition) ObserveOutcome(o acquisition.Outcome) {
	m.outcomes.WithLabelValues(o.String()).Inc()
}

func (m *Acquisition) SetStatus(s acquisition.Status) {
	for _, st := range statuses {
		v := 0.0
		if st == s {
			v = 1
		}
		m.status.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Acquisition) SetConsecutiveFailures(ch spectrum.Channel, n int) {
	m.consecutiveFailures.WithLabelValues(ch.String()).Set(float64(n))
}

// ClientConnected and ClientDisconnected track live view clients.
func (m *Acquisition) ClientConnected() {
	m.liveClients.Inc()
}

func (m *Acquisition) ClientDisconnected() {
	m.liveClients.Dec()
}

// UpdateDropped counts a live view update that was replaced before delivery.
func (m *Acquisition) UpdateDropped() {
	m.droppedUpdates.Inc()
}

// Result classifies a fetch error for the "result" label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case remote.IsMalformed(err):
		return ResultMalformed
	case remote.IsTransient(err):
		return ResultTransient
	default:
		return ResultError
	}
}
