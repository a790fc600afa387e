package impl

import (
	"strings"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
)

// Logical ids the default routing document registers. Env overrides rebind
// the concrete provider model name behind each id so operators can swap
// deployments without editing policy tables.
const (
	BackendLocalChat = "local-chat"
	BackendLocalCode = "local-code"
	BackendTextNano  = "gpt-5-nano"
	BackendTextMini  = "gpt-5-mini"
	BackendCodeMini  = "gpt-5.2-codex-mini"
	BackendCodeHigh  = "gpt-5.2-codex-high"
	BackendReasoning = "o3-mini-high"
	BackendCodeElite = "o3"
)

// tierByID pins the pricing tier of each default backend slot. Overriding
// the model name behind a slot keeps the slot's tier, mirroring how the
// per-tier env limits are named.
var tierByID = map[string]models.Tier{
	BackendLocalChat: models.TierLocal,
	BackendLocalCode: models.TierLocal,
	BackendTextNano:  models.TierMini,
	BackendCodeMini:  models.TierMini,
	BackendTextMini:  models.TierStandard,
	BackendCodeHigh:  models.TierStandard,
	BackendReasoning: models.TierReasoning,
	BackendCodeElite: models.TierElite,
}

// RegistryServiceImpl materializes the backend catalog from the routing
// document with env overrides applied. It is immutable after construction.
type RegistryServiceImpl struct {
	entries      map[string]models.BackendEntry
	order        []string
	defaultLocal string
}

// NewRegistryService builds the registry from the routing document and the
// model override env vars.
func NewRegistryService(doc *config.RouterDocument, overrides config.ModelOverrides) *RegistryServiceImpl {
	r := &RegistryServiceImpl{
		entries: make(map[string]models.BackendEntry, len(doc.Models)),
		order:   make([]string, 0, len(doc.Models)),
	}

	nameOverrides := map[string]string{
		BackendLocalCode: overrides.OllamaCoder,
		BackendLocalChat: overrides.OllamaInstruct,
		BackendCodeMini:  overrides.CodeMini,
		BackendCodeHigh:  overrides.CodeStandard,
		BackendReasoning: overrides.CodeReasoning,
		BackendCodeElite: overrides.CodeElite,
		BackendTextNano:  overrides.TextNano,
		BackendTextMini:  overrides.TextStandard,
	}

	for _, entry := range doc.Models {
		if entry.ID == "" {
			continue
		}
		if name := nameOverrides[entry.ID]; name != "" {
			entry.ProviderModelName = name
		}
		if _, dup := r.entries[entry.ID]; dup {
			continue
		}
		r.entries[entry.ID] = entry
		r.order = append(r.order, entry.ID)
	}

	r.defaultLocal = r.pickDefaultLocal()
	return r
}

func (r *RegistryServiceImpl) pickDefaultLocal() string {
	if _, ok := r.entries[BackendLocalCode]; ok {
		return BackendLocalCode
	}
	if _, ok := r.entries[BackendLocalChat]; ok {
		return BackendLocalChat
	}
	for _, id := range r.order {
		if r.entries[id].IsLocal() {
			return id
		}
	}
	if len(r.order) > 0 {
		return r.order[0]
	}
	return ""
}

func (r *RegistryServiceImpl) Get(id string) (models.BackendEntry, bool) {
	entry, ok := r.entries[id]
	return entry, ok
}

// All returns the catalog in document order.
func (r *RegistryServiceImpl) All() []models.BackendEntry {
	out := make([]models.BackendEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// TierFor resolves the pricing tier for a backend id. Known slots keep
// their pinned tier; custom document entries fall back to provider and
// model-name heuristics, defaulting to standard.
func (r *RegistryServiceImpl) TierFor(id string) models.Tier {
	if tier, ok := tierByID[id]; ok {
		return tier
	}

	entry, ok := r.entries[id]
	if !ok {
		return models.TierStandard
	}
	if entry.IsLocal() {
		return models.TierLocal
	}
	name := strings.ToLower(entry.ProviderModelName)
	if strings.Contains(name, "llama") || strings.Contains(name, "deepseek") {
		return models.TierLocal
	}
	return models.TierStandard
}

func (r *RegistryServiceImpl) DefaultLocalID() string {
	return r.defaultLocal
}
