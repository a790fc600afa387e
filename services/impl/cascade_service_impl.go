package impl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// maxCascadeAttempts bounds a request to one escalation. More retries would
// multiply tail latency and spend without changing the usual outcome.
const maxCascadeAttempts = 2

// CascadeServiceImpl runs the invocation plan: admission, cost guard,
// invoke, quality gate, and at most one escalation to the next candidate.
type CascadeServiceImpl struct {
	invoker services.InvokerService
	cost    services.CostService
	gpu     services.GpuAdmission
	routing config.RoutingConfig
	sla     config.SLASettings
	logger  *logrus.Logger
}

func NewCascadeService(invoker services.InvokerService, cost services.CostService, gpu services.GpuAdmission, routing config.RoutingConfig, sla config.SLASettings, logger *logrus.Logger) *CascadeServiceImpl {
	return &CascadeServiceImpl{
		invoker: invoker,
		cost:    cost,
		gpu:     gpu,
		routing: routing,
		sla:     sla,
		logger:  logger,
	}
}

func (s *CascadeServiceImpl) Execute(ctx context.Context, in services.CascadeInput) (*services.CascadeResult, error) {
	candidates := in.Plan.Candidates()
	if len(candidates) == 0 || candidates[0].ID == "" {
		return nil, fmt.Errorf("no invocable backends for task %s", in.Meta.Task)
	}
	if len(candidates) > maxCascadeAttempts {
		candidates = candidates[:maxCascadeAttempts]
	}

	promptEst := estimatePromptTokens(in.Messages)
	start := time.Now()

	var (
		attempts         []models.Attempt
		escalationReason string
		lastErr          error
		degraded         *services.InvokeResult
		degradedBackend  models.BackendEntry
	)

	noteEscalation := func(reason string) {
		if escalationReason == "" {
			escalationReason = reason
		}
	}

	for _, backend := range candidates {
		if !backend.IsLocal() && !in.CloudAvailable {
			continue
		}

		if err := s.cost.Authorize(backend, promptEst); err != nil {
			attempts = append(attempts, models.Attempt{BackendID: backend.ID, Status: models.ReasonCostGuardBlocked})
			return nil, err
		}

		res, err := s.invokeWithAdmission(ctx, backend, in.Messages)
		if err != nil {
			if ue, ok := services.AsUpstreamError(err); ok {
				attempts = append(attempts, models.Attempt{BackendID: backend.ID, Status: models.AttemptUpstreamError})
				if !ue.Retryable() {
					return nil, err
				}
				noteEscalation(models.AttemptUpstreamError)
				lastErr = err
				continue
			}
			attempts = append(attempts, models.Attempt{BackendID: backend.ID, Status: attemptStatusFor(err)})
			if abortErr(ctx, err) {
				return nil, err
			}
			noteEscalation(models.AttemptTransportError)
			lastErr = err
			continue
		}

		s.checkLatencyTarget(backend, res.LatencyMs, in.LatencyMsMax)

		if reason, ok := qualityGate(in.Meta.Task, res.Content); !ok {
			attempts = append(attempts, models.Attempt{BackendID: backend.ID, Status: models.QualityFailedStatus(reason)})
			noteEscalation(reason)
			degraded = res
			degradedBackend = backend
			lastErr = nil
			s.logger.WithFields(logrus.Fields{
				"backend": backend.ID,
				"task":    in.Meta.Task,
				"reason":  reason,
			}).Warn("quality gate rejected response")
			continue
		}

		attempts = append(attempts, models.Attempt{BackendID: backend.ID, Status: models.AttemptSuccess})
		usage := s.buildUsage(in, backend, res, attempts, promptEst, start, models.StatusSuccess, escalationReason)
		return &services.CascadeResult{Output: res.Content, Usage: usage}, nil
	}

	// All candidates exhausted. A trailing transport-class failure
	// propagates; earlier degraded content is not resurrected over it, so
	// the resolved backend always matches the final attempt.
	if lastErr != nil {
		return nil, lastErr
	}
	if degraded != nil {
		usage := s.buildUsage(in, degradedBackend, degraded, attempts, promptEst, start, models.StatusQualityCompromised, escalationReason)
		return &services.CascadeResult{Output: degraded.Content, Usage: usage}, nil
	}
	return nil, fmt.Errorf("no invocable backends for task %s", in.Meta.Task)
}

// invokeWithAdmission wraps local invocations in a GPU slot acquisition.
func (s *CascadeServiceImpl) invokeWithAdmission(ctx context.Context, backend models.BackendEntry, messages []models.ChatMessage) (*services.InvokeResult, error) {
	if backend.IsLocal() && s.gpu != nil {
		release, err := s.gpu.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	return s.invoker.Invoke(ctx, backend, messages)
}

// attemptStatusFor classifies a non-upstream invocation failure.
func attemptStatusFor(err error) string {
	if errors.Is(err, services.ErrQueueTimeout) {
		return models.ReasonQueueTimeout
	}
	return models.AttemptTransportError
}

// abortErr decides whether a failure ends the cascade instead of
// escalating: cancelled contexts and queue timeouts cannot be cured by
// trying another backend.
func abortErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, services.ErrQueueTimeout)
}

// checkLatencyTarget logs a soft warning when local inference overruns its
// target. The request still succeeds; the signal is for operators.
func (s *CascadeServiceImpl) checkLatencyTarget(backend models.BackendEntry, latencyMs int64, requestMaxMs int) {
	if !backend.IsLocal() {
		return
	}

	targetMs := int64(requestMaxMs)
	if targetMs == 0 {
		targetMs = int64(s.routing.LocalMaxLatencyMs)
	}
	if targetMs == 0 {
		targetMs = int64(s.sla.LatencySec * 1000)
	}
	if targetMs > 0 && latencyMs > targetMs {
		s.logger.WithFields(logrus.Fields{
			"backend":    backend.ID,
			"latency_ms": latencyMs,
			"target_ms":  targetMs,
		}).Warn("local inference exceeded latency target")
	}
}

func (s *CascadeServiceImpl) buildUsage(in services.CascadeInput, backend models.BackendEntry, res *services.InvokeResult, attempts []models.Attempt, promptEst int, start time.Time, status, escalationReason string) models.UsageRecord {
	promptTokens := res.PromptTokens
	if promptTokens == 0 {
		promptTokens = promptEst
	}
	completionTokens := res.CompletionTokens
	if completionTokens == 0 {
		completionTokens = models.EstimateTokens(res.Content)
	}

	tier, cost := s.cost.Estimate(backend, promptTokens, completionTokens)
	escalated := len(attempts) > 1

	usage := models.UsageRecord{
		PromptTokensEst:     promptTokens,
		CompletionTokensEst: completionTokens,
		TotalTokensEst:      promptTokens + completionTokens,
		ResolvedBackendID:   backend.ID,
		LatencyMs:           time.Since(start).Milliseconds(),
		RoutingMeta:         in.Meta,
		Attempts:            attempts,
		ClassifierUsed:      in.Meta.ClassifierUsed,
		CloudAvailable:      in.CloudAvailable,
		Escalated:           escalated,
		CostEstUSD:          cost,
		Tier:                tier,
		Status:              status,
	}
	if escalated {
		usage.EscalationReason = escalationReason
	}
	return usage
}

// estimatePromptTokens applies the chars/4 heuristic across all message
// contents.
func estimatePromptTokens(messages []models.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	n := (total + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Quality gate reasons per task.
const (
	reasonEmptyResponse    = "empty_response"
	reasonMissingCodeBlock = "missing_code_block"
	reasonMissingReview    = "missing_review_content"
	reasonMissingStructure = "missing_structure_bullets"
)

// qualityGate is a cheap shape check, not a judge: it catches obviously
// empty or wrong-shaped responses for tasks with a recognizable surface.
func qualityGate(task models.Task, content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return reasonEmptyResponse, false
	}

	switch task {
	case models.TaskCodeGen:
		if strings.Contains(content, "```") ||
			strings.Contains(content, "def ") ||
			strings.Contains(content, "class ") ||
			strings.Contains(content, "import ") {
			return "", true
		}
		return reasonMissingCodeBlock, false
	case models.TaskCodeReview:
		lowered := strings.ToLower(content)
		for _, marker := range []string{"issue", "fix", "correct", "bug", "error", "suggestion"} {
			if strings.Contains(lowered, marker) {
				return "", true
			}
		}
		return reasonMissingReview, false
	case models.TaskSystemDesign:
		if strings.ContainsAny(content, "-*#") {
			return "", true
		}
		return reasonMissingStructure, false
	}
	return "", true
}
