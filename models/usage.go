package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EstimateTokens approximates token count as ceil(len/4), minimum 1.
// Good enough for routing thresholds and cost estimates; providers report
// exact counts when they have them.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// UsageRecord is the full routing provenance attached to every response.
// It is returned verbatim in the `usage` field of the HTTP surface and is
// the unit of telemetry and persistence.
type UsageRecord struct {
	PromptTokensEst     int         `json:"prompt_tokens_est"`
	CompletionTokensEst int         `json:"completion_tokens_est"`
	TotalTokensEst      int         `json:"total_tokens_est"`
	ResolvedBackendID   string      `json:"resolved_backend_id"`
	LatencyMs           int64       `json:"latency_ms"`
	RoutingMeta         RoutingMeta `json:"routing_meta"`
	Attempts            []Attempt   `json:"attempts"`
	ClassifierUsed      string      `json:"classifier_used"`
	CloudAvailable      bool        `json:"cloud_available"`
	Escalated           bool        `json:"escalated"`
	EscalationReason    string      `json:"escalation_reason,omitempty"`
	CostEstUSD          float64     `json:"cost_est_usd"`
	Tier                Tier        `json:"tier"`
	Status              string      `json:"status"`
}

// ChatUsage is the usage object on OpenAI-compatible responses: the three
// standard token counters plus the embedded UsageRecord fields.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	UsageRecord
}

// NewChatUsage wraps a UsageRecord with the OpenAI token counter aliases.
func NewChatUsage(rec UsageRecord) ChatUsage {
	return ChatUsage{
		PromptTokens:     rec.PromptTokensEst,
		CompletionTokens: rec.CompletionTokensEst,
		TotalTokens:      rec.TotalTokensEst,
		UsageRecord:      rec,
	}
}

// MetricEvent is the single-line telemetry payload emitted per request as
// a "METRIC: {json}" log line.
type MetricEvent struct {
	TS          string     `json:"ts"`
	PromptID    string     `json:"prompt_id"`
	Task        Task       `json:"task"`
	Complexity  Complexity `json:"complexity"`
	ModelID     string     `json:"model_id"`
	Tier        Tier       `json:"tier"`
	TokensTotal int        `json:"tokens_total"`
	LatencyMs   int64      `json:"latency_ms"`
	CostEstUSD  float64    `json:"cost_est_usd"`
	Status      string     `json:"status"`
	Escalated   bool       `json:"escalated"`
}

// GatewayUsageRow is the persisted form of a UsageRecord.
type GatewayUsageRow struct {
	ID                uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null;index"`
	ResolvedBackendID string         `json:"resolved_backend_id" gorm:"type:varchar(255);not null;index"`
	Tier              string         `json:"tier" gorm:"type:varchar(32);not null"`
	Task              string         `json:"task" gorm:"type:varchar(64);not null"`
	Complexity        string         `json:"complexity" gorm:"type:varchar(32);not null"`
	TotalTokensEst    int            `json:"total_tokens_est" gorm:"default:0"`
	CostEstUSD        float64        `json:"cost_est_usd" gorm:"type:decimal(10,6);default:0"`
	LatencyMs         int64          `json:"latency_ms" gorm:"default:0"`
	Status            string         `json:"status" gorm:"type:varchar(64);not null"`
	Escalated         bool           `json:"escalated" gorm:"default:false"`
	EscalationReason  string         `json:"escalation_reason" gorm:"type:varchar(255)"`
	RoutingMeta       datatypes.JSON `json:"routing_meta" gorm:"type:jsonb"`
	Attempts          datatypes.JSON `json:"attempts" gorm:"type:jsonb"`
}

func (GatewayUsageRow) TableName() string {
	return "gateway_usage_records"
}

// NewGatewayUsageRow converts a UsageRecord into its persisted form.
func NewGatewayUsageRow(rec UsageRecord) (GatewayUsageRow, error) {
	meta, err := ConvertToJSON(rec.RoutingMeta)
	if err != nil {
		return GatewayUsageRow{}, err
	}
	attempts, err := ConvertToJSON(rec.Attempts)
	if err != nil {
		return GatewayUsageRow{}, err
	}
	return GatewayUsageRow{
		ID:                uuid.New(),
		CreatedAt:         time.Now().UTC(),
		ResolvedBackendID: rec.ResolvedBackendID,
		Tier:              string(rec.Tier),
		Task:              string(rec.RoutingMeta.Task),
		Complexity:        string(rec.RoutingMeta.Complexity),
		TotalTokensEst:    rec.TotalTokensEst,
		CostEstUSD:        rec.CostEstUSD,
		LatencyMs:         rec.LatencyMs,
		Status:            rec.Status,
		Escalated:         rec.Escalated,
		EscalationReason:  rec.EscalationReason,
		RoutingMeta:       meta,
		Attempts:          attempts,
	}, nil
}
