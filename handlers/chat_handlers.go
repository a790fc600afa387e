package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// Virtual model ids the OpenAI-compatible surface accepts. They steer the
// router instead of naming a concrete backend.
const (
	VirtualModelAuto  = "router-auto"
	VirtualModelLocal = "router-local"
	VirtualModelCode  = "router-code"
)

// ChatHandlers serves the OpenAI-compatible surface: chat completions,
// the Responses API and the model listing.
type ChatHandlers struct {
	gateway  services.GatewayService
	registry services.RegistryService
	logger   *logrus.Logger
}

func NewChatHandlers(gateway services.GatewayService, registry services.RegistryService, logger *logrus.Logger) *ChatHandlers {
	return &ChatHandlers{
		gateway:  gateway,
		registry: registry,
		logger:   logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions. The model field picks
// a routing mode, not a backend; the router still decides where to run.
func (h *ChatHandlers) ChatCompletions(c *gin.Context) {
	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	in := services.RouteInput{
		Messages:   req.Messages,
		PreferCode: sniffCodeIntent(req.Messages),
	}
	applyVirtualModel(&in, req.Model)

	outcome, err := h.gateway.Route(c.Request.Context(), in)
	if err != nil {
		writeRouteError(c, h.logger, err)
		return
	}

	setRouterHeaders(c, outcome.Usage)

	created := time.Now().Unix()
	c.JSON(http.StatusOK, models.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: created,
		Model:   outcome.Usage.ResolvedBackendID,
		Choices: []models.ChatCompletionChoice{
			{
				Index:        0,
				Message:      models.ChatMessage{Role: "assistant", Content: outcome.Output},
				FinishReason: "stop",
			},
		},
		Usage: models.NewChatUsage(outcome.Usage),
	})
}

// ListModels handles GET /v1/models: every registered backend plus the
// virtual router ids, so OpenAI-compatible clients can discover them.
func (h *ChatHandlers) ListModels(c *gin.Context) {
	now := time.Now().Unix()

	entries := h.registry.All()
	data := make([]models.ModelInfo, 0, len(entries)+3)
	for _, e := range entries {
		data = append(data, models.ModelInfo{
			ID:      e.ID,
			Object:  "model",
			OwnedBy: string(e.Provider),
			Created: now,
		})
	}
	for _, id := range []string{VirtualModelAuto, VirtualModelLocal, VirtualModelCode} {
		data = append(data, models.ModelInfo{
			ID:      id,
			Object:  "model",
			OwnedBy: "router",
			Created: now,
		})
	}

	c.JSON(http.StatusOK, models.ModelList{Object: "list", Data: data})
}

// applyVirtualModel folds the requested model id into routing overrides.
// Unknown ids route as auto; the classifier decides.
func applyVirtualModel(in *services.RouteInput, model string) {
	switch model {
	case VirtualModelLocal:
		in.LocalOnly = true
	case VirtualModelCode:
		in.PreferCode = true
	}
}

// sniffCodeIntent spots obvious code content in user and system turns so
// conversational prompts carrying code route to the code tiers.
func sniffCodeIntent(msgs []models.ChatMessage) bool {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role == "user" || m.Role == "system" {
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}
	text := sb.String()
	return strings.Contains(text, "```") ||
		strings.Contains(text, "def ") ||
		strings.Contains(text, "class ") ||
		strings.Contains(text, "traceback")
}

// setRouterHeaders attaches the routing provenance headers to an
// OpenAI-compatible response.
func setRouterHeaders(c *gin.Context, usage models.UsageRecord) {
	if len(usage.Attempts) > 0 {
		c.Header("X-AI-Router-Initial-Model", usage.Attempts[0].BackendID)
	}
	c.Header("X-AI-Router-Final-Model", usage.ResolvedBackendID)
	c.Header("X-AI-Router-Escalated", strconv.FormatBool(usage.Escalated))
	if usage.EscalationReason != "" {
		c.Header("X-AI-Router-Escalation-Reason", usage.EscalationReason)
	}
	c.Header("X-AI-Router-Model", usage.ResolvedBackendID)
	c.Header("X-AI-Router-Task", string(usage.RoutingMeta.Task))
	c.Header("X-AI-Router-Complexity", string(usage.RoutingMeta.Complexity))
	c.Header("X-AI-Router-Tier", string(usage.Tier))
	c.Header("X-AI-Router-Attempts", strconv.Itoa(len(usage.Attempts)))
	c.Header("X-AI-Router-Cost-Est", strconv.FormatFloat(usage.CostEstUSD, 'f', 6, 64))
}
