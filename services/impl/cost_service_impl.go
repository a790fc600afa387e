package impl

import (
	"fmt"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// CostServiceImpl estimates invocation cost per pricing tier and enforces
// the per-query spend limits. Only remote backends are guarded; local
// inference is free by definition.
type CostServiceImpl struct {
	cfg      config.CostConfig
	registry services.RegistryService
}

func NewCostService(cfg config.CostConfig, registry services.RegistryService) *CostServiceImpl {
	return &CostServiceImpl{cfg: cfg, registry: registry}
}

// completionMultiplier predicts output size relative to the prompt.
// Reasoning-class models think out loud, so they are assumed to emit twice
// the prompt; everything else half.
func completionMultiplier(tier models.Tier) float64 {
	if tier == models.TierReasoning || tier == models.TierElite {
		return 2.0
	}
	return 0.5
}

func tierPrice(tier models.Tier) float64 {
	if price, ok := models.PricingPerMillion[tier]; ok {
		return price
	}
	return models.DefaultTierPrice
}

// Authorize pre-flights a remote invocation against the per-tier limit.
// The estimate assumes completion tokens proportional to the prompt.
func (c *CostServiceImpl) Authorize(backend models.BackendEntry, promptTokens int) error {
	if !c.cfg.EnableProtection || backend.IsLocal() {
		return nil
	}

	tier := c.registry.TierFor(backend.ID)
	estTokens := float64(promptTokens) * (1 + completionMultiplier(tier))
	estCost := estTokens / 1_000_000 * tierPrice(tier)

	limit := c.cfg.LimitFor(string(tier))
	if estCost > limit {
		return fmt.Errorf("%w: estimated $%.4f exceeds %s tier limit $%.2f",
			services.ErrCostGuardBlocked, estCost, tier, limit)
	}
	return nil
}

// Estimate prices a finished invocation from actual or estimated token
// counts.
func (c *CostServiceImpl) Estimate(backend models.BackendEntry, promptTokens, completionTokens int) (models.Tier, float64) {
	tier := c.registry.TierFor(backend.ID)
	cost := float64(promptTokens+completionTokens) / 1_000_000 * tierPrice(tier)
	return tier, cost
}
