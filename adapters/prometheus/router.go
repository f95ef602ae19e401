package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/kvrouter/core/cluster"
	"github.com/codewandler/kvrouter/core/metrics"
)

// routerMetrics implements cluster.RouterMetrics using Prometheus.
type routerMetrics struct {
	requestDuration    *prometheus.HistogramVec
	requestsTotal      *prometheus.CounterVec
	connectAttempts    *prometheus.CounterVec
	disconnectsTotal   *prometheus.CounterVec
	demotionsTotal     *prometheus.CounterVec
	connectedInstances *prometheus.GaugeVec
	pipelineGroups     *prometheus.CounterVec
	pipelineCommands   *prometheus.CounterVec
}

// NewRouterMetrics creates a new Prometheus implementation of RouterMetrics.
func NewRouterMetrics(reg prometheus.Registerer) cluster.RouterMetrics {
	m := &routerMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvrouter_request_duration_seconds",
			Help:    "Routed request latency in seconds, failover included",
			Buckets: defaultBuckets,
		}, []string{"region"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_requests_total",
			Help: "Total number of routed requests by outcome",
		}, []string{"region", "outcome"}),

		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_connect_attempts_total",
			Help: "Total number of instance dials",
		}, []string{"instance", "success"}),

		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_disconnects_total",
			Help: "Total number of dropped instance connections by reason",
		}, []string{"instance", "reason"}),

		demotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_demotions_total",
			Help: "Total number of standby instances demoted after a higher priority instance came back",
		}, []string{"region"}),

		connectedInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvrouter_connected_instances",
			Help: "Number of connected instances per region",
		}, []string{"region"}),

		pipelineGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_pipeline_groups_total",
			Help: "Total number of pipelined region batches",
		}, []string{"region", "success"}),

		pipelineCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_pipeline_commands_total",
			Help: "Total number of commands sent in pipelined batches",
		}, []string{"region", "success"}),
	}

	reg.MustRegister(
		m.requestDuration,
		m.requestsTotal,
		m.connectAttempts,
		m.disconnectsTotal,
		m.demotionsTotal,
		m.connectedInstances,
		m.pipelineGroups,
		m.pipelineCommands,
	)

	return m
}

func (m *routerMetrics) RequestDuration(region int) metrics.Timer {
	return newTimer(m.requestDuration.WithLabelValues(regionLabel(region)))
}

func (m *routerMetrics) RequestCompleted(region int, outcome string) {
	m.requestsTotal.WithLabelValues(regionLabel(region), outcome).Inc()
}

func (m *routerMetrics) ConnectAttempt(endpoint string, success bool) {
	m.connectAttempts.WithLabelValues(endpoint, boolToStr(success)).Inc()
}

func (m *routerMetrics) InstanceDisconnected(endpoint string, reason string) {
	m.disconnectsTotal.WithLabelValues(endpoint, reason).Inc()
}

func (m *routerMetrics) InstanceDemoted(region int, _ string) {
	m.demotionsTotal.WithLabelValues(regionLabel(region)).Inc()
}

func (m *routerMetrics) ConnectedInstances(region int, count int) {
	m.connectedInstances.WithLabelValues(regionLabel(region)).Set(float64(count))
}

func (m *routerMetrics) PipelineGroup(region int, commands int, success bool) {
	labels := []string{regionLabel(region), boolToStr(success)}
	m.pipelineGroups.WithLabelValues(labels...).Inc()
	m.pipelineCommands.WithLabelValues(labels...).Add(float64(commands))
}

var _ cluster.RouterMetrics = (*routerMetrics)(nil)
