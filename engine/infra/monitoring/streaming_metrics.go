package monitoring

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/taskdeck/taskdeck/engine/infra/monitoring/metrics"
)

// StreamingMetrics captures executor submissions, progress consumers and the
// live progress connections held by clients. A nil receiver records nothing.
type StreamingMetrics struct {
	submissions     *prom.CounterVec
	activeConsumers prom.Gauge
	consumerStops   *prom.CounterVec
	eventsPersisted *prom.CounterVec
	malformedFrames prom.Counter
	reconnects      prom.Counter
	activeClients   prom.Gauge
	clientDuration  prom.Histogram
}

// NewStreamingMetrics creates the instruments and registers them with reg.
func NewStreamingMetrics(reg prom.Registerer) (*StreamingMetrics, error) {
	m := &StreamingMetrics{
		submissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "executor",
			Name:      "submissions_total",
			Help:      "Task submissions to the executor grouped by outcome",
		}, []string{"outcome"}),
		activeConsumers: prom.NewGauge(prom.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "consumer",
			Name:      "active",
			Help:      "Progress consumers currently reading an executor stream",
		}),
		consumerStops: prom.NewCounterVec(prom.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "consumer",
			Name:      "stops_total",
			Help:      "Finished progress consumers grouped by outcome",
		}, []string{"outcome"}),
		eventsPersisted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "consumer",
			Name:      "events_total",
			Help:      "Progress rows persisted grouped by event type",
		}, []string{"event_type"}),
		malformedFrames: prom.NewCounter(prom.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "consumer",
			Name:      "malformed_frames_total",
			Help:      "Stream frames skipped because they could not be decoded",
		}),
		reconnects: prom.NewCounter(prom.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "consumer",
			Name:      "reconnects_total",
			Help:      "Executor stream reconnect attempts",
		}),
		activeClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Clients following live task progress",
		}),
		clientDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "stream",
			Name:      "connection_duration_seconds",
			Help:      "Duration of live progress connections in seconds",
			Buckets:   metrics.StreamDurationBuckets,
		}),
	}
	for _, c := range []prom.Collector{
		m.submissions,
		m.activeConsumers,
		m.consumerStops,
		m.eventsPersisted,
		m.malformedFrames,
		m.reconnects,
		m.activeClients,
		m.clientDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SubmissionFinished counts one executor submission.
func (m *StreamingMetrics) SubmissionFinished(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *StreamingMetrics) ConsumerStarted() {
	if m == nil {
		return
	}
	m.activeConsumers.Inc()
}

func (m *StreamingMetrics) ConsumerStopped(outcome string) {
	if m == nil {
		return
	}
	m.activeConsumers.Dec()
	m.consumerStops.WithLabelValues(outcome).Inc()
}

func (m *StreamingMetrics) EventPersisted(eventType string) {
	if m == nil {
		return
	}
	m.eventsPersisted.WithLabelValues(eventType).Inc()
}

func (m *StreamingMetrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

func (m *StreamingMetrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// RecordConnect marks a client as following live progress.
func (m *StreamingMetrics) RecordConnect() {
	if m == nil {
		return
	}
	m.activeClients.Inc()
}

// RecordDisconnect releases a client and records how long it stayed connected.
func (m *StreamingMetrics) RecordDisconnect(duration time.Duration) {
	if m == nil {
		return
	}
	m.activeClients.Dec()
	m.clientDuration.Observe(duration.Seconds())
}
