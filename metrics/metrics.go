// Package metrics exports the sensor's operational counters and gauges
// via github.com/prometheus/client_golang. The sensor is built on an
// availability-favoring, drop-on-overflow design, so the queues and
// drop counters that absorb backpressure are exactly what operators
// need visibility into.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge the sensor exports. A nil
// *Registry passed to New uses prometheus.DefaultRegisterer.
type Metrics struct {
	CaptureFramesTotal  *prometheus.CounterVec
	CaptureDropsTotal   *prometheus.CounterVec
	DispatchDropsTotal  prometheus.Counter
	DispatchQueueDepth  *prometheus.GaugeVec
	BroadcastDropsTotal *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	LearnerCyclesTotal  *prometheus.CounterVec
}

// New registers and returns the sensor's metric family. reg may be nil
// to use the default global registry (the common case for a single
// sensor process; a test harness running multiple sensors in one
// process should supply its own prometheus.Registry instead).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CaptureFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safelink_capture_frames_total",
			Help: "ARP frames delivered by the capture engine, by interface.",
		}, []string{"interface"}),
		CaptureDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safelink_capture_drops_total",
			Help: "Frames dropped by the capture engine's outbound buffer, by interface.",
		}, []string{"interface"}),
		DispatchDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "safelink_dispatch_drops_total",
			Help: "Frames dropped due to a full worker lane queue.",
		}),
		DispatchQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safelink_dispatch_queue_depth",
			Help: "Processed-frame count per worker lane (packets_processed).",
		}, []string{"lane"}),
		BroadcastDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safelink_broadcast_drops_total",
			Help: "Alert events dropped from a subscriber's outbound queue, by subscriber.",
		}, []string{"subscriber"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safelink_alerts_total",
			Help: "Alerts emitted, by originating analyzer module.",
		}, []string{"module"}),
		LearnerCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safelink_learner_cycles_total",
			Help: "Continuous-learning cycles, by outcome (accepted|rejected).",
		}, []string{"outcome"}),
	}
}

// ObserveLaneLoads replaces the dispatch_queue_depth gauge values with a
// fresh snapshot from dispatch.Dispatcher.LaneLoads, keyed by lane
// index, for periodic polling by the control surface's /metrics
// handler or a background ticker.
func (m *Metrics) ObserveLaneLoads(loads []uint64) {
	for i, v := range loads {
		m.DispatchQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(v))
	}
}
