package cluster

import "github.com/codewandler/kvrouter/core/metrics"

// Outcome labels for RouterMetrics.RequestCompleted.
const (
	OutcomeOK               = "ok"
	OutcomeApplicationError = "app_error"
	OutcomeConnectionError  = "conn_error"
)

// Disconnect reasons for RouterMetrics.InstanceDisconnected.
const (
	ReasonServerError   = "server_error"
	ReasonPipelineError = "pipeline_error"
	ReasonDemoted       = "demoted"
	ReasonClosed        = "closed"
)

// RouterMetrics defines the metrics a Router reports.
// Implementations must be safe for concurrent use when a SyncRouter is used.
type RouterMetrics interface {
	// Requests
	RequestDuration(region int) metrics.Timer
	RequestCompleted(region int, outcome string)

	// Instance state transitions
	ConnectAttempt(endpoint string, success bool)
	InstanceDisconnected(endpoint string, reason string)
	InstanceDemoted(region int, endpoint string)
	ConnectedInstances(region int, count int)

	// Pipelines
	PipelineGroup(region int, commands int, success bool)
}

type nopRouterMetrics struct{}

func (nopRouterMetrics) RequestDuration(int) metrics.Timer { return metrics.NopTimer() }
func (nopRouterMetrics) RequestCompleted(int, string)      {}

func (nopRouterMetrics) ConnectAttempt(string, bool)         {}
func (nopRouterMetrics) InstanceDisconnected(string, string) {}
func (nopRouterMetrics) InstanceDemoted(int, string)         {}
func (nopRouterMetrics) ConnectedInstances(int, int)         {}

func (nopRouterMetrics) PipelineGroup(int, int, bool) {}

// NopRouterMetrics returns a no-op RouterMetrics implementation.
func NopRouterMetrics() RouterMetrics { return nopRouterMetrics{} }
