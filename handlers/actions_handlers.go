package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// ActionHandlers serves the operator convenience endpoints: canned smoke
// runs through the router and direct single-backend probes.
type ActionHandlers struct {
	gateway  services.GatewayService
	registry services.RegistryService
	invoker  services.InvokerService
	logger   *logrus.Logger
}

func NewActionHandlers(
	gateway services.GatewayService,
	registry services.RegistryService,
	invoker services.InvokerService,
	logger *logrus.Logger,
) *ActionHandlers {
	return &ActionHandlers{
		gateway:  gateway,
		registry: registry,
		invoker:  invoker,
		logger:   logger,
	}
}

// Smoke handles POST /actions/smoke: one conversational and one code
// request through the full pipeline.
func (h *ActionHandlers) Smoke(c *gin.Context) {
	runs := []services.RouteInput{
		{
			Messages: []models.ChatMessage{{Role: "user", Content: "Explain HVAC in one sentence."}},
		},
		{
			Messages:   []models.ChatMessage{{Role: "user", Content: "Write a Python function add(a, b) with a docstring."}},
			PreferCode: true,
		},
	}

	results := make([]gin.H, 0, len(runs))
	for _, in := range runs {
		outcome, err := h.gateway.Route(c.Request.Context(), in)
		if err != nil {
			results = append(results, gin.H{"error": err.Error()})
			continue
		}
		results = append(results, gin.H{"output": outcome.Output, "usage": outcome.Usage})
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "smoke": results})
}

type testModelRequest struct {
	Model  string `json:"model" binding:"required"`
	Prompt string `json:"prompt"`
}

// TestModel handles POST /actions/test: invokes one backend directly,
// bypassing classification, selection and the cascade.
func (h *ActionHandlers) TestModel(c *gin.Context) {
	var req testModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	backend := h.resolveBackend(req.Model)
	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultProbePrompt(req.Model)
	}

	result, err := h.invoker.Invoke(c.Request.Context(), backend,
		[]models.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "model": req.Model, "error": err.Error()})
		return
	}

	preview := result.Content
	if len(preview) > 500 {
		preview = preview[:500]
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"model":      req.Model,
		"preview":    preview,
		"latency_ms": result.LatencyMs,
	})
}

// resolveBackend maps a probe target to a backend entry. Registry ids win;
// raw provider model names are wrapped in a synthetic entry, treating names
// with an Ollama-style tag as local.
func (h *ActionHandlers) resolveBackend(model string) models.BackendEntry {
	if entry, ok := h.registry.Get(model); ok {
		return entry
	}

	provider := models.ProviderRemoteCloud
	if strings.Contains(model, ":") {
		provider = models.ProviderLocalGPU
	}
	return models.BackendEntry{
		ID:                model,
		Provider:          provider,
		ProviderModelName: model,
	}
}

func defaultProbePrompt(model string) string {
	name := strings.ToLower(model)
	if strings.Contains(name, "codex") || strings.Contains(name, "coder") {
		return "Write a Python function add(a, b) with a docstring."
	}
	return "Explain HVAC in one sentence."
}
