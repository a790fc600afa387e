package impl

import (
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// qualityCriticalThreshold promotes a request to the critical policy row
// when the classifier judged answer quality to matter this much.
const qualityCriticalThreshold = 8

// SelectorServiceImpl maps RoutingMeta onto the policy matrix and produces
// the ordered invocation plan for one request.
type SelectorServiceImpl struct {
	policy   map[string]map[string][]string
	registry services.RegistryService
	logger   *logrus.Logger
}

func NewSelectorService(doc *config.RouterDocument, registry services.RegistryService, logger *logrus.Logger) *SelectorServiceImpl {
	return &SelectorServiceImpl{
		policy:   doc.RoutingPolicy,
		registry: registry,
		logger:   logger,
	}
}

// Select resolves the candidate list for the request. The input meta is
// never mutated; the quality promotion only affects row lookup.
func (s *SelectorServiceImpl) Select(meta models.RoutingMeta, cloudAvailable bool) services.SelectionPlan {
	rows, ok := s.policy[string(meta.Task)]
	if !ok {
		rows = s.policy[string(models.TaskSimpleQA)]
	}

	complexity := meta.Complexity
	if meta.QualityScore >= qualityCriticalThreshold {
		complexity = models.ComplexityCritical
	}

	ids := rows[string(complexity)]
	if len(ids) == 0 {
		ids = rows["low"]
	}
	if len(ids) == 0 {
		ids = []string{BackendLocalChat}
	}

	candidates := make([]models.BackendEntry, 0, len(ids))
	for _, id := range ids {
		entry, known := s.registry.Get(id)
		if !known {
			s.logger.WithField("backend", id).Warn("policy references unregistered backend, skipping")
			continue
		}
		if !cloudAvailable && !entry.IsLocal() {
			continue
		}
		candidates = append(candidates, entry)
	}

	if len(candidates) == 0 {
		if entry, ok := s.registry.Get(s.registry.DefaultLocalID()); ok {
			candidates = append(candidates, entry)
		}
	}

	plan := services.SelectionPlan{}
	if len(candidates) > 0 {
		plan.Primary = candidates[0]
		plan.Fallbacks = candidates[1:]
	}
	return plan
}
