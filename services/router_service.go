package services

import (
	"context"
	"time"

	"github.com/tas-llm-gateway/models"
)

// ClassifyOptions are the per-request routing hints callers may attach.
type ClassifyOptions struct {
	// Critical forces critical complexity regardless of heuristics.
	Critical bool
	// PreferCode retargets conversational classifications to code_gen.
	PreferCode bool
}

type ClassifierService interface {
	Classify(ctx context.Context, text string, opts ClassifyOptions) models.RoutingMeta
}

type RegistryService interface {
	Get(id string) (models.BackendEntry, bool)
	All() []models.BackendEntry
	// TierFor maps a backend id to its pricing tier.
	TierFor(id string) models.Tier
	// DefaultLocalID is the backend used when a policy row filters down to
	// nothing. Prefers the local code model when registered.
	DefaultLocalID() string
}

// SelectionPlan is the ordered invocation plan for one request: the primary
// backend plus the escalation candidates behind it.
type SelectionPlan struct {
	Primary   models.BackendEntry
	Fallbacks []models.BackendEntry
}

// Candidates returns the plan as a single ordered slice.
func (p SelectionPlan) Candidates() []models.BackendEntry {
	out := make([]models.BackendEntry, 0, 1+len(p.Fallbacks))
	out = append(out, p.Primary)
	out = append(out, p.Fallbacks...)
	return out
}

// HasFallback reports whether an escalation target exists.
func (p SelectionPlan) HasFallback() bool {
	return len(p.Fallbacks) > 0
}

type SelectorService interface {
	Select(meta models.RoutingMeta, cloudAvailable bool) SelectionPlan
}

// CloudGate answers whether remote invocations are currently allowed. The
// answer folds together credential presence, the env and document kill
// switches, and the cached auth health.
type CloudGate interface {
	CloudAvailable() bool
}

// InvokeResult is a successful backend response. Token counts are the
// provider's own when reported, zero otherwise.
type InvokeResult struct {
	Content          string
	ProviderModel    string
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
}

type InvokerService interface {
	Invoke(ctx context.Context, backend models.BackendEntry, messages []models.ChatMessage) (*InvokeResult, error)
}

// GpuReleaseFunc frees an admission slot. Safe to call more than once.
type GpuReleaseFunc func()

type GpuQueueMetrics struct {
	Enabled       bool  `json:"enabled"`
	QueueDepth    int64 `json:"queue_depth"`
	ActiveWorkers int64 `json:"active_workers"`
	MaxWorkers    int   `json:"max_workers"`
}

// GpuAdmission serializes access to the local GPU across gateway processes.
// When the broker is unreachable, Acquire degrades to a no-op pass-through.
type GpuAdmission interface {
	Acquire(ctx context.Context) (GpuReleaseFunc, error)
	Metrics(ctx context.Context) GpuQueueMetrics
	Enabled() bool
}

type CostService interface {
	// Authorize checks the per-tier query limit before a remote call when
	// cost protection is on. Returns an error wrapping ErrCostGuardBlocked
	// when the estimated spend would exceed it.
	Authorize(backend models.BackendEntry, promptTokens int) error
	// Estimate prices an invocation after the fact.
	Estimate(backend models.BackendEntry, promptTokens, completionTokens int) (models.Tier, float64)
}

// CascadeInput is one request's execution context: the plan, the meta that
// produced it, and the per-request overrides from the native surface.
type CascadeInput struct {
	Messages       []models.ChatMessage
	Meta           models.RoutingMeta
	Plan           SelectionPlan
	CloudAvailable bool
	LatencyMsMax   int
}

type CascadeResult struct {
	Output string
	Usage  models.UsageRecord
}

type CascadeService interface {
	Execute(ctx context.Context, in CascadeInput) (*CascadeResult, error)
}

type TelemetryService interface {
	EmitQuery(event models.MetricEvent)
}

// CacheService is a small TTL cache. The Redis-backed implementation falls
// back to process memory when the broker is unreachable, so callers never
// see an error.
type CacheService interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration)
}

// UsageStore persists usage records off the request path.
type UsageStore interface {
	Record(row *models.GatewayUsageRow)
	// Stats aggregates the rows recorded since the given time.
	Stats(ctx context.Context, since time.Time) (*models.GatewayUsageStats, error)
	Close()
}

// RouteInput is the normalized request all HTTP surfaces reduce to.
type RouteInput struct {
	Messages     []models.ChatMessage
	PreferCode   bool
	Critical     bool
	LocalOnly    bool
	LatencyMsMax int
}

// RouteDecision is the pre-execution routing verdict, exposed for debugging.
type RouteDecision struct {
	Meta           models.RoutingMeta
	Plan           SelectionPlan
	CloudAvailable bool
}

type RouteOutcome struct {
	Output string
	Usage  models.UsageRecord
}

// GatewayService runs the full pipeline: classify, select, execute, emit.
type GatewayService interface {
	Route(ctx context.Context, in RouteInput) (*RouteOutcome, error)
	Decide(ctx context.Context, in RouteInput) RouteDecision
}
