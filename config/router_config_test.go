package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-llm-gateway/models"
)

func TestDefaultRouterDocument(t *testing.T) {
	doc := DefaultRouterDocument()

	known := make(map[string]models.BackendEntry, len(doc.Models))
	for _, entry := range doc.Models {
		known[entry.ID] = entry
	}

	t.Run("policy references only registered backends", func(t *testing.T) {
		for task, rows := range doc.RoutingPolicy {
			for level, ids := range rows {
				for _, id := range ids {
					_, ok := known[id]
					assert.True(t, ok, "policy %s/%s references unknown backend %s", task, level, id)
				}
			}
		}
	})

	t.Run("every task type has a policy row", func(t *testing.T) {
		for task := range doc.TaskTypes {
			rows, ok := doc.RoutingPolicy[task]
			require.True(t, ok, "no policy for task %s", task)
			assert.Contains(t, rows, "low")
		}
	})

	t.Run("signal regexes compile", func(t *testing.T) {
		for task, signals := range doc.TaskTypes {
			if signals.Regex == "" {
				continue
			}
			_, err := regexp.Compile("(?i)" + signals.Regex)
			assert.NoError(t, err, "task %s regex", task)
		}
		for level, signal := range doc.ComplexitySignals {
			if signal.Regex == "" {
				continue
			}
			_, err := regexp.Compile("(?i)" + signal.Regex)
			assert.NoError(t, err, "complexity %s regex", level)
		}
	})

	t.Run("complexity defaults are valid", func(t *testing.T) {
		for task, signals := range doc.TaskTypes {
			if signals.ComplexityDefault == "" {
				continue
			}
			assert.True(t, models.IsValidComplexity(signals.ComplexityDefault), "task %s default %s", task, signals.ComplexityDefault)
		}
	})

	assert.Equal(t, 0.7, doc.Classifier.ConfidenceThreshold)
	assert.Equal(t, "gpt-5-nano", doc.Classifier.LLMModel)
	assert.False(t, doc.Classifier.LLMAssisted)
	assert.Contains(t, doc.Classifier.PromptTemplate, "{prompt}")
	assert.Equal(t, 6.0, doc.SLA.LatencySec)
	assert.True(t, doc.SLA.CloudFallbackEnabled())

	local, ok := known["local-chat"]
	require.True(t, ok)
	assert.True(t, local.IsLocal())
	cloud, ok := known["o3"]
	require.True(t, ok)
	assert.False(t, cloud.IsLocal())
}

func TestLoadRouterDocumentMissingFile(t *testing.T) {
	doc, err := LoadRouterDocument(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRouterDocument().RoutingPolicy, doc.RoutingPolicy)
}

func TestLoadRouterDocumentPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	partial := "sla:\n  enable_cloud_fallback: false\n  latency_sec: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o644))

	doc, err := LoadRouterDocument(path)
	require.NoError(t, err)

	assert.False(t, doc.SLA.CloudFallbackEnabled())
	assert.Equal(t, 2.0, doc.SLA.LatencySec)
	// Missing sections fall back to the compiled-in tables.
	assert.NotEmpty(t, doc.Models)
	assert.NotEmpty(t, doc.TaskTypes)
	assert.NotEmpty(t, doc.RoutingPolicy)
	assert.Equal(t, 0.7, doc.Classifier.ConfidenceThreshold)
}

func TestLoadRouterDocumentFullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	full := `
models:
  - id: only-model
    provider: local_gpu
    name: tiny-llm
task_types:
  chitchat:
    keywords: ["yo"]
    complexity_default: low
routing_policy:
  chitchat:
    low: [only-model]
`
	require.NoError(t, os.WriteFile(path, []byte(full), 0o644))

	doc, err := LoadRouterDocument(path)
	require.NoError(t, err)

	require.Len(t, doc.Models, 1)
	assert.Equal(t, "only-model", doc.Models[0].ID)
	assert.Equal(t, models.ProviderLocalGPU, doc.Models[0].Provider)
	assert.Equal(t, "tiny-llm", doc.Models[0].ProviderModelName)
	assert.Equal(t, []string{"only-model"}, doc.RoutingPolicy["chitchat"]["low"])
}

func TestLoadRouterDocumentInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [unclosed"), 0o644))

	_, err := LoadRouterDocument(path)
	assert.Error(t, err)
}

func TestShippedDocumentMatchesDefaults(t *testing.T) {
	// The checked-in router_config.yaml must stay in sync with the
	// compiled-in defaults so deleting it changes nothing.
	doc, err := LoadRouterDocument("router_config.yaml")
	require.NoError(t, err)

	defaults := DefaultRouterDocument()
	assert.Equal(t, defaults.RoutingPolicy, doc.RoutingPolicy)
	assert.Equal(t, len(defaults.Models), len(doc.Models))
	assert.Equal(t, defaults.Classifier.ConfidenceThreshold, doc.Classifier.ConfidenceThreshold)
	assert.Equal(t, defaults.SLA.LatencySec, doc.SLA.LatencySec)
}
