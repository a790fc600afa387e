package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tas-llm-gateway/models"
)

// RouterDocument is the declarative routing configuration: the backend
// catalog, classification signal tables, the policy matrix, and SLA knobs.
// It is loaded once at startup; a missing file yields the compiled-in
// defaults so the gateway boots with zero configuration.
type RouterDocument struct {
	Models            []models.BackendEntry          `yaml:"models"`
	TaskTypes         map[string]TaskSignals         `yaml:"task_types"`
	ComplexitySignals map[string]ComplexitySignal    `yaml:"complexity_signals"`
	RoutingPolicy     map[string]map[string][]string `yaml:"routing_policy"`
	Classifier        ClassifierSettings             `yaml:"classifier"`
	SLA               SLASettings                    `yaml:"sla"`
}

// TaskSignals are the detection signals for one task type.
type TaskSignals struct {
	Keywords          []string `yaml:"keywords,omitempty"`
	Regex             string   `yaml:"regex,omitempty"`
	ComplexityDefault string   `yaml:"complexity_default,omitempty"`
}

// ComplexitySignal carries the promotion signals for one complexity level.
// Indicators are plain phrases; only the critical level uses them.
type ComplexitySignal struct {
	Regex      string   `yaml:"regex,omitempty"`
	Indicators []string `yaml:"indicators,omitempty"`
}

// ClassifierSettings gate the LLM-assisted refinement pass.
type ClassifierSettings struct {
	LLMAssisted         bool    `yaml:"llm_assisted"`
	ConfidenceThreshold float64 `yaml:"heuristic_confidence_threshold"`
	LLMModel            string  `yaml:"llm_model"`
	PromptTemplate      string  `yaml:"prompt_template"`
}

// SLASettings hold soft latency targets and the document-level cloud gate.
type SLASettings struct {
	LatencySec          float64 `yaml:"latency_sec"`
	EnableCloudFallback *bool   `yaml:"enable_cloud_fallback"`
}

// CloudFallbackEnabled defaults to true when the document does not set it.
func (s SLASettings) CloudFallbackEnabled() bool {
	if s.EnableCloudFallback == nil {
		return true
	}
	return *s.EnableCloudFallback
}

// LoadRouterDocument reads the routing document from path. A missing file
// is not an error; the defaults are returned instead. Sections left empty
// in the file are filled from the defaults, so partial documents work.
func LoadRouterDocument(path string) (*RouterDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRouterDocument(), nil
		}
		return nil, fmt.Errorf("failed to read routing document %s: %w", path, err)
	}

	var doc RouterDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routing document %s: %w", path, err)
	}

	fillDocumentDefaults(&doc)
	return &doc, nil
}

func fillDocumentDefaults(doc *RouterDocument) {
	defaults := DefaultRouterDocument()
	if len(doc.Models) == 0 {
		doc.Models = defaults.Models
	}
	if len(doc.TaskTypes) == 0 {
		doc.TaskTypes = defaults.TaskTypes
	}
	if len(doc.ComplexitySignals) == 0 {
		doc.ComplexitySignals = defaults.ComplexitySignals
	}
	if len(doc.RoutingPolicy) == 0 {
		doc.RoutingPolicy = defaults.RoutingPolicy
	}
	if doc.Classifier.ConfidenceThreshold == 0 {
		doc.Classifier.ConfidenceThreshold = defaults.Classifier.ConfidenceThreshold
	}
	if doc.Classifier.LLMModel == "" {
		doc.Classifier.LLMModel = defaults.Classifier.LLMModel
	}
	if doc.Classifier.PromptTemplate == "" {
		doc.Classifier.PromptTemplate = defaults.Classifier.PromptTemplate
	}
	if doc.SLA.LatencySec == 0 {
		doc.SLA.LatencySec = defaults.SLA.LatencySec
	}
}

// DefaultRouterDocument returns the compiled-in routing configuration.
// Logical backend ids are stable; env overrides rebind the concrete
// provider model names behind them.
func DefaultRouterDocument() *RouterDocument {
	return &RouterDocument{
		Models: []models.BackendEntry{
			{ID: "local-chat", Provider: models.ProviderLocalGPU, ProviderModelName: "llama-3.1-8b-instruct"},
			{ID: "local-code", Provider: models.ProviderLocalGPU, ProviderModelName: "deepseek-coder-v2-16b"},
			{ID: "gpt-5-nano", Provider: models.ProviderRemoteCloud, ProviderModelName: "gpt-5-nano"},
			{ID: "gpt-5-mini", Provider: models.ProviderRemoteCloud, ProviderModelName: "gpt-5-mini"},
			{ID: "gpt-5.2-codex-mini", Provider: models.ProviderRemoteCloud, ProviderModelName: "gpt-5.2-codex-mini"},
			{ID: "gpt-5.2-codex-high", Provider: models.ProviderRemoteCloud, ProviderModelName: "gpt-5.2-codex-high"},
			{ID: "o3-mini-high", Provider: models.ProviderRemoteCloud, ProviderModelName: "o3-mini-high", Params: map[string]any{"reasoning_effort": "high"}},
			{ID: "o3", Provider: models.ProviderRemoteCloud, ProviderModelName: "o3"},
		},
		TaskTypes: map[string]TaskSignals{
			"chitchat": {
				Keywords:          []string{"hi there", "hello", "hey", "thanks", "thank you", "how are you", "what's up", "good morning", "good evening", "goodbye"},
				ComplexityDefault: "low",
			},
			"simple_qa": {
				Keywords:          []string{"what is", "who is", "when was", "where is", "capital of", "define", "meaning of", "how many"},
				ComplexityDefault: "low",
			},
			"code_gen": {
				Keywords:          []string{"write a function", "write code", "implement", "create a class", "python function", "function to", "script that", "code for", "optimize"},
				Regex:             "```|\\bdef |\\bclass |\\bimport |function\\s+\\w+\\s*\\(",
				ComplexityDefault: "medium",
			},
			"code_review": {
				Keywords:          []string{"review this code", "code review", "check my code", "improve this code", "fix this", "bug", "lint"},
				Regex:             "review\\s+(this|my)\\s+code",
				ComplexityDefault: "medium",
			},
			"code_crit_debug": {
				Keywords:          []string{"deadlock", "race condition", "memory leak", "segfault", "core dump", "production incident", "postmortem", "security vulnerability"},
				Regex:             "(deadlock|race\\s+condition|memory\\s+leak|segmentation\\s+fault)",
				ComplexityDefault: "high",
			},
			"system_design": {
				Keywords:          []string{"design a", "architecture", "system design", "high availability", "load balanc", "microservice", "event sourcing"},
				Regex:             "(design\\s+a\\s+\\w+\\s+(system|architecture|platform)|system\\s+design)",
				ComplexityDefault: "high",
			},
			"reasoning": {
				Keywords:          []string{"prove", "theorem", "step by step", "logic puzzle", "reason about", "chain of thought"},
				ComplexityDefault: "high",
			},
			"research": {
				Keywords:          []string{"literature review", "state of the art", "compare approaches", "survey of", "research on"},
				ComplexityDefault: "high",
			},
			"data_analysis": {
				Keywords:          []string{"analyze this data", "dataframe", "csv", "sql query", "pandas", "statistics", "correlation"},
				ComplexityDefault: "medium",
			},
			"machine_learning": {
				Keywords:          []string{"train a model", "neural network", "fine-tune", "hyperparameter", "machine learning", "deep learning"},
				ComplexityDefault: "medium",
			},
			"creative_writing": {
				Keywords:          []string{"write a story", "write a poem", "haiku", "screenplay", "song lyrics", "short story", "fiction"},
				ComplexityDefault: "low",
			},
		},
		ComplexitySignals: map[string]ComplexitySignal{
			"high": {
				Regex: "(optimi[sz]e|scalab|distributed|concurren(t|cy)|high\\s+availability|fault[\\s-]toleran)",
			},
			"critical": {
				Regex: "(mission[\\s-]critical|production[\\s-]critical|high[\\s-]frequency|zero[\\s-]downtime)",
				Indicators: []string{
					"deadlock",
					"race condition",
					"production outage",
					"production incident",
					"security vulnerability",
					"data loss",
					"in production",
					"postmortem",
					"mission critical",
					"production-critical",
				},
			},
		},
		RoutingPolicy: map[string]map[string][]string{
			"chitchat": {
				"low":      {"local-chat"},
				"medium":   {"local-chat"},
				"high":     {"local-chat"},
				"critical": {"local-chat"},
			},
			"simple_qa": {
				"low":      {"local-chat"},
				"medium":   {"local-chat", "gpt-5-nano"},
				"high":     {"gpt-5-nano", "local-chat"},
				"critical": {"gpt-5-mini", "gpt-5-nano", "local-chat"},
			},
			"code_gen": {
				"low":      {"local-code", "local-chat"},
				"medium":   {"local-code", "gpt-5.2-codex-mini"},
				"high":     {"gpt-5.2-codex-mini", "local-code"},
				"critical": {"gpt-5.2-codex-high", "o3-mini-high", "local-code"},
			},
			"code_review": {
				"low":      {"local-code"},
				"medium":   {"local-code", "gpt-5.2-codex-mini"},
				"high":     {"gpt-5.2-codex-mini", "local-code"},
				"critical": {"gpt-5.2-codex-high", "o3-mini-high", "local-code"},
			},
			"code_crit_debug": {
				"low":      {"local-code", "gpt-5.2-codex-mini"},
				"medium":   {"gpt-5.2-codex-mini", "local-code"},
				"high":     {"gpt-5.2-codex-high", "o3-mini-high", "local-code"},
				"critical": {"gpt-5.2-codex-high", "o3", "local-code"},
			},
			"system_design": {
				"low":      {"local-chat", "gpt-5-mini"},
				"medium":   {"gpt-5-mini", "local-chat"},
				"high":     {"gpt-5.2-codex-high", "o3-mini-high"},
				"critical": {"o3", "gpt-5.2-codex-high"},
			},
			"reasoning": {
				"low":      {"local-chat"},
				"medium":   {"gpt-5-mini", "local-chat"},
				"high":     {"o3-mini-high", "gpt-5-mini"},
				"critical": {"o3", "o3-mini-high"},
			},
			"research": {
				"low":      {"local-chat"},
				"medium":   {"gpt-5-mini"},
				"high":     {"gpt-5-mini", "o3-mini-high"},
				"critical": {"o3", "gpt-5-mini"},
			},
			"data_analysis": {
				"low":      {"local-chat"},
				"medium":   {"local-code", "gpt-5-mini"},
				"high":     {"gpt-5.2-codex-mini", "gpt-5-mini"},
				"critical": {"gpt-5.2-codex-high", "o3-mini-high"},
			},
			"machine_learning": {
				"low":      {"local-code"},
				"medium":   {"gpt-5.2-codex-mini", "local-code"},
				"high":     {"gpt-5.2-codex-high", "o3-mini-high"},
				"critical": {"o3", "gpt-5.2-codex-high"},
			},
			"creative_writing": {
				"low":      {"local-chat"},
				"medium":   {"local-chat", "gpt-5-mini"},
				"high":     {"gpt-5-mini", "local-chat"},
				"critical": {"gpt-5-mini", "local-chat"},
			},
		},
		Classifier: ClassifierSettings{
			LLMAssisted:         false,
			ConfidenceThreshold: 0.7,
			LLMModel:            "gpt-5-nano",
			PromptTemplate: "You are a prompt router. Classify the user prompt below.\n" +
				"Reply with exactly three lines and nothing else:\n" +
				"TASK: one of chitchat, simple_qa, code_gen, code_review, code_crit_debug, system_design, reasoning, research, data_analysis, machine_learning, creative_writing\n" +
				"COMPLEXITY: one of low, medium, high, critical\n" +
				"QUALITY_SCORE: integer 1-10 rating how much answer quality matters\n\n" +
				"Prompt:\n{prompt}",
		},
		SLA: SLASettings{
			LatencySec: 6,
		},
	}
}
