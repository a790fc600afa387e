package impl

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// GatewayServiceImpl is the pipeline entry point: classify, select, execute,
// emit. Every request that reaches Route produces exactly one telemetry
// event, whether it succeeds, degrades, fails or is cancelled.
type GatewayServiceImpl struct {
	classifier services.ClassifierService
	selector   services.SelectorService
	cascade    services.CascadeService
	gate       services.CloudGate
	telemetry  services.TelemetryService
	usageStore services.UsageStore
	logger     *logrus.Logger
}

// NewGatewayService wires the pipeline. usageStore may be nil when no
// database is configured.
func NewGatewayService(
	classifier services.ClassifierService,
	selector services.SelectorService,
	cascade services.CascadeService,
	gate services.CloudGate,
	telemetry services.TelemetryService,
	usageStore services.UsageStore,
	logger *logrus.Logger,
) *GatewayServiceImpl {
	return &GatewayServiceImpl{
		classifier: classifier,
		selector:   selector,
		cascade:    cascade,
		gate:       gate,
		telemetry:  telemetry,
		usageStore: usageStore,
		logger:     logger,
	}
}

// Decide runs classification and selection without invoking anything.
func (g *GatewayServiceImpl) Decide(ctx context.Context, in services.RouteInput) services.RouteDecision {
	meta := g.classifier.Classify(ctx, joinMessages(in.Messages), services.ClassifyOptions{
		Critical:   in.Critical,
		PreferCode: in.PreferCode,
	})
	cloudOK := g.gate.CloudAvailable() && !in.LocalOnly
	return services.RouteDecision{
		Meta:           meta,
		Plan:           g.selector.Select(meta, cloudOK),
		CloudAvailable: cloudOK,
	}
}

// Route runs the full pipeline for one request.
func (g *GatewayServiceImpl) Route(ctx context.Context, in services.RouteInput) (*services.RouteOutcome, error) {
	promptID := uuid.New().String()
	start := time.Now()

	decision := g.Decide(ctx, in)

	g.logger.WithFields(logrus.Fields{
		"prompt_id":  promptID,
		"task":       decision.Meta.Task,
		"complexity": decision.Meta.Complexity,
		"primary":    decision.Plan.Primary.ID,
		"cloud":      decision.CloudAvailable,
	}).Debug("routing decision")

	result, err := g.cascade.Execute(ctx, services.CascadeInput{
		Messages:       in.Messages,
		Meta:           decision.Meta,
		Plan:           decision.Plan,
		CloudAvailable: decision.CloudAvailable,
		LatencyMsMax:   in.LatencyMsMax,
	})
	if err != nil {
		g.emitFailure(promptID, decision, start, err)
		return nil, err
	}

	g.emitUsage(promptID, result.Usage)
	g.persistUsage(result.Usage)
	return &services.RouteOutcome{Output: result.Output, Usage: result.Usage}, nil
}

func (g *GatewayServiceImpl) emitUsage(promptID string, usage models.UsageRecord) {
	g.telemetry.EmitQuery(models.MetricEvent{
		TS:          time.Now().UTC().Format(time.RFC3339),
		PromptID:    promptID,
		Task:        usage.RoutingMeta.Task,
		Complexity:  usage.RoutingMeta.Complexity,
		ModelID:     usage.ResolvedBackendID,
		Tier:        usage.Tier,
		TokensTotal: usage.TotalTokensEst,
		LatencyMs:   usage.LatencyMs,
		CostEstUSD:  usage.CostEstUSD,
		Status:      usage.Status,
		Escalated:   usage.Escalated,
	})
}

// emitFailure keeps the one-event-per-request contract for requests that
// never produced a usage record. The intended primary stands in for the
// resolved backend.
func (g *GatewayServiceImpl) emitFailure(promptID string, decision services.RouteDecision, start time.Time, err error) {
	g.telemetry.EmitQuery(models.MetricEvent{
		TS:         time.Now().UTC().Format(time.RFC3339),
		PromptID:   promptID,
		Task:       decision.Meta.Task,
		Complexity: decision.Meta.Complexity,
		ModelID:    decision.Plan.Primary.ID,
		LatencyMs:  time.Since(start).Milliseconds(),
		Status:     failureStatus(err),
	})
}

func (g *GatewayServiceImpl) persistUsage(usage models.UsageRecord) {
	if g.usageStore == nil {
		return
	}
	row, err := models.NewGatewayUsageRow(usage)
	if err != nil {
		g.logger.WithError(err).Warn("Failed to encode usage row")
		return
	}
	g.usageStore.Record(&row)
}

// failureStatus maps a pipeline error to the telemetry status vocabulary.
func failureStatus(err error) string {
	switch {
	case errors.Is(err, services.ErrCostGuardBlocked):
		return models.ReasonCostGuardBlocked
	case errors.Is(err, services.ErrQueueTimeout):
		return models.ReasonQueueTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return models.StatusFailed
	}
}

// joinMessages flattens a conversation into the "role: content" transcript
// the classifier analyzes.
func joinMessages(msgs []models.ChatMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = "user"
		}
		parts = append(parts, role+": "+m.Content)
	}
	return strings.Join(parts, "\n")
}
