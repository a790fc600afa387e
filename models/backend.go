package models

import "strings"

// Provider distinguishes where a backend runs.
type Provider string

const (
	ProviderLocalGPU    Provider = "local_gpu"
	ProviderRemoteCloud Provider = "remote_cloud"
)

// BackendEntry describes one selectable backend from the routing document.
// ID is the logical identifier used in policy tables; ProviderModelName is
// the concrete model string sent to the provider.
type BackendEntry struct {
	ID                string         `json:"id" yaml:"id"`
	Provider          Provider       `json:"provider" yaml:"provider"`
	ProviderModelName string         `json:"name" yaml:"name"`
	Params            map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// IsLocal reports whether the backend runs on the local GPU.
func (b BackendEntry) IsLocal() bool {
	return b.Provider == ProviderLocalGPU
}

// Tier is the pricing band a backend bills under.
type Tier string

const (
	TierLocal     Tier = "local"
	TierMini      Tier = "mini"
	TierStandard  Tier = "standard"
	TierReasoning Tier = "reasoning"
	TierElite     Tier = "elite"
)

// PricingPerMillion is the approximate USD price per 1M tokens for each
// tier, blended input/output. Local models bill nothing.
var PricingPerMillion = map[Tier]float64{
	TierLocal:     0.00,
	TierMini:      0.50,
	TierStandard:  5.00,
	TierReasoning: 10.00,
	TierElite:     30.00,
}

// DefaultTierPrice is used when a tier has no pricing entry.
const DefaultTierPrice = 5.00

// IsReasoningModel reports whether the provider model belongs to a
// reasoning family (o1/o3/o4). These models reject the temperature param.
func IsReasoningModel(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "o1") || strings.HasPrefix(n, "o3") || strings.HasPrefix(n, "o4")
}
