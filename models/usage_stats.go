package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// BackendCounts maps backend id to request count, stored as jsonb.
type BackendCounts map[string]int

// TierCosts maps pricing tier to accumulated estimated USD, stored as jsonb.
type TierCosts map[string]float64

func (b BackendCounts) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *BackendCounts) Scan(value interface{}) error {
	if value == nil {
		*b = make(BackendCounts)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), b)
	}

	return json.Unmarshal(bytes, b)
}

func (t TierCosts) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *TierCosts) Scan(value interface{}) error {
	if value == nil {
		*t = make(TierCosts)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), t)
	}

	return json.Unmarshal(bytes, t)
}

// GatewayUsageStats aggregates persisted usage rows over a time window.
// Served by GET /v1/usage/stats when Postgres persistence is enabled.
type GatewayUsageStats struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	QualityCompromised int64 `json:"quality_compromised"`
	FailedRequests     int64 `json:"failed_requests"`
	EscalatedRequests  int64 `json:"escalated_requests"`

	TotalTokensEst int64   `json:"total_tokens_est"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	MaxLatencyMs   int64   `json:"max_latency_ms"`

	RequestsByBackend BackendCounts `json:"requests_by_backend"`
	CostByTier        TierCosts     `json:"cost_by_tier"`
}
