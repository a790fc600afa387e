package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// RouteHandlers serves the native routing surface and the operational
// endpoints around it.
type RouteHandlers struct {
	gateway    services.GatewayService
	registry   services.RegistryService
	gpu        services.GpuAdmission
	gate       services.CloudGate
	usageStore services.UsageStore // nil when persistence is disabled
	cfg        *config.Config
	logger     *logrus.Logger
}

func NewRouteHandlers(
	gateway services.GatewayService,
	registry services.RegistryService,
	gpu services.GpuAdmission,
	gate services.CloudGate,
	usageStore services.UsageStore,
	cfg *config.Config,
	logger *logrus.Logger,
) *RouteHandlers {
	return &RouteHandlers{
		gateway:    gateway,
		registry:   registry,
		gpu:        gpu,
		gate:       gate,
		usageStore: usageStore,
		cfg:        cfg,
		logger:     logger,
	}
}

// Route handles POST /route, the native surface returning the full usage
// record. The budget field is accepted for wire compatibility but spend
// control is the cost guard's job.
func (h *RouteHandlers) Route(c *gin.Context) {
	var req models.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	outcome, err := h.gateway.Route(c.Request.Context(), services.RouteInput{
		Messages:     req.Messages,
		PreferCode:   req.PreferCode,
		Critical:     req.Critical,
		LatencyMsMax: req.LatencyMsMax,
	})
	if err != nil {
		writeRouteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.RouteResponse{
		Output: outcome.Output,
		Usage:  outcome.Usage,
	})
}

type debugDecisionRequest struct {
	Prompt     string               `json:"prompt"`
	Messages   []models.ChatMessage `json:"messages"`
	PreferCode bool                 `json:"prefer_code"`
	Critical   bool                 `json:"critical"`
	LocalOnly  bool                 `json:"local_only"`
}

// DebugDecision handles POST /debug/router_decision: classification and
// selection without invoking any backend.
func (h *RouteHandlers) DebugDecision(c *gin.Context) {
	var req debugDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	msgs := req.Messages
	if len(msgs) == 0 {
		if req.Prompt == "" {
			bindError(c, fmt.Errorf("prompt or messages required"))
			return
		}
		msgs = []models.ChatMessage{{Role: "user", Content: req.Prompt}}
	}

	decision := h.gateway.Decide(c.Request.Context(), services.RouteInput{
		Messages:   msgs,
		PreferCode: req.PreferCode,
		Critical:   req.Critical,
		LocalOnly:  req.LocalOnly,
	})

	candidates := decision.Plan.Candidates()
	available := make([]string, 0, len(candidates))
	for _, b := range candidates {
		available = append(available, b.ID)
	}

	c.JSON(http.StatusOK, models.DebugDecisionResponse{
		RoutingMeta:       decision.Meta,
		SelectedBackendID: decision.Plan.Primary.ID,
		FallbackAvailable: decision.Plan.HasFallback(),
		AvailableModels:   available,
	})
}

// DebugWhere handles GET /debug/where: the registry and provider wiring as
// the running process sees it.
func (h *RouteHandlers) DebugWhere(c *gin.Context) {
	entries := h.registry.All()
	backends := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		backends = append(backends, gin.H{
			"id":       e.ID,
			"provider": e.Provider,
			"name":     e.ProviderModelName,
			"tier":     h.registry.TierFor(e.ID),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"config_path": h.cfg.Routing.DocumentPath,
		"models":      backends,
		"env_models": gin.H{
			"OLLAMA_BASE_URL":     h.cfg.Ollama.BaseURL,
			"OPENAI_ORGANIZATION": h.cfg.OpenAI.Organization,
			"OPENAI_PROJECT":      h.cfg.OpenAI.Project,
			"OPENAI_API_KEY_SET":  h.cfg.OpenAI.HasKey(),
		},
		"cloud_available": h.gate.CloudAvailable(),
	})
}

// UsageStats handles GET /v1/usage/stats, aggregating persisted usage rows
// over a window given by ?hours= (default 24).
func (h *RouteHandlers) UsageStats(c *gin.Context) {
	if h.usageStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "usage persistence is not enabled",
		})
		return
	}

	hours := 24
	if raw := c.Query("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			bindError(c, fmt.Errorf("hours must be a positive integer"))
			return
		}
		hours = n
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	stats, err := h.usageStore.Stats(c.Request.Context(), since)
	if err != nil {
		h.logger.WithError(err).Error("Failed to aggregate usage stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to aggregate usage stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GpuQueue handles GET /gpu/queue with the live admission metrics.
func (h *RouteHandlers) GpuQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.gpu.Metrics(c.Request.Context()))
}

// Healthz handles GET and HEAD /healthz.
func (h *RouteHandlers) Healthz(c *gin.Context) {
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
