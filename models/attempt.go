package models

import "strings"

// Attempt records one backend invocation inside a cascade. A request
// produces one or two attempts; the last one matches the resolved backend.
type Attempt struct {
	BackendID string `json:"model"`
	Status    string `json:"status"`
}

// Attempt status values. Quality failures carry the gate reason after the
// colon, e.g. "quality_failed:missing_code_block".
const (
	AttemptPending        = "pending"
	AttemptSuccess        = "success"
	AttemptUpstreamError  = "upstream_error"
	AttemptTransportError = "transport_error"

	qualityFailedPrefix = "quality_failed:"
)

// QualityFailedStatus builds the attempt status for a failed quality gate.
func QualityFailedStatus(reason string) string {
	return qualityFailedPrefix + reason
}

// IsQualityFailed reports whether status records a quality gate failure.
func IsQualityFailed(status string) bool {
	return strings.HasPrefix(status, qualityFailedPrefix)
}

// Final request statuses recorded in telemetry.
const (
	StatusSuccess            = "success"
	StatusQualityCompromised = "quality_compromised"
	StatusFailed             = "failed"
)

// Escalation / refusal reasons that are not quality gate reasons.
const (
	ReasonQueueTimeout     = "queue_timeout"
	ReasonCostGuardBlocked = "cost_guard_blocked"
)
