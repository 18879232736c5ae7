// ABOUTME: Metric names, labels and the Recorder interface
// ABOUTME: Shared by the server and storage packages

package metrics

import "time"

const (
	SessionsActiveMetricName        = "moneypilot_ws_sessions_active"
	SessionsActiveMetricDescription = "The number of open WebSocket client sessions"

	SessionsTotalMetricName        = "moneypilot_ws_sessions_total"
	SessionsTotalMetricDescription = "The total number of accepted WebSocket client sessions"

	RequestsMetricName             = "moneypilot_ws_requests_total"
	RequestsMetricDescription      = "The total number of handled client requests"
	RequestsMetricLabelMessageType = "type"
	RequestsMetricLabelOutcome     = "outcome"

	StorageOperationMetricName         = "moneypilot_storage_operation_duration_seconds"
	StorageOperationMetricDescription  = "Duration of storage backend operations"
	StorageOperationMetricLabelBackend = "backend"
	StorageOperationMetricLabelOp      = "op"
	StorageOperationMetricLabelResult  = "result"
)

// Outcomes recorded for requests and storage operations.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeReplayed = "replayed"
)

type Recorder interface {
	SessionOpened()
	SessionClosed()
	Request(messageType, outcome string)
	StorageOperation(backend, op string, elapsed time.Duration, err error)
}
