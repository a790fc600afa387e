package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

const (
	keywordWeight = 0.3
	regexWeight   = 0.8

	// unmatchedConfidence is reported when no signal fires and the
	// classifier falls back to simple_qa.
	unmatchedConfidence = 0.5

	// refinedConfidence is reported after a successful LLM refinement.
	refinedConfidence = 0.9

	// refinementMaxChars caps the prompt excerpt sent to the classifier
	// model so refinement stays cheap.
	refinementMaxChars = 2000

	classifyCacheTTL = 5 * time.Minute
)

// Size ladder thresholds, in estimated tokens.
const (
	tinyPromptTokens  = 50
	smallPromptTokens = 500
	largePromptTokens = 2000
	longContextTokens = 4000
)

// criticalTasks keep their document complexity default untouched by the
// size ladder; a one-line deadlock report is still a hard problem.
var criticalTasks = map[models.Task]bool{
	models.TaskCodeCritDebug: true,
	models.TaskSystemDesign:  true,
	models.TaskReasoning:     true,
	models.TaskResearch:      true,
}

var (
	refineTaskRe       = regexp.MustCompile(`TASK:\s*(\w+)`)
	refineComplexityRe = regexp.MustCompile(`COMPLEXITY:\s*(\w+)`)
	refineQualityRe    = regexp.MustCompile(`QUALITY_SCORE:\s*(\d+)`)
)

type taskSignal struct {
	task              models.Task
	keywords          []string
	regex             *regexp.Regexp
	complexityDefault models.Complexity
}

// ClassifierServiceImpl derives RoutingMeta from prompt text. The heuristic
// pass is pure string work and always succeeds; the optional LLM refinement
// pass consults a cheap cloud model when the heuristic is unsure, falling
// back silently on any failure.
type ClassifierServiceImpl struct {
	signals       []taskSignal
	highSignals   []complexitySignal
	indicators    []string
	classifierCfg config.ClassifierSettings

	cloud   services.CloudGate
	invoker services.InvokerService
	cache   services.CacheService
	logger  *logrus.Logger
}

type complexitySignal struct {
	level models.Complexity
	regex *regexp.Regexp
}

// NewClassifierService compiles the signal tables from the routing document.
// Invalid regexes are dropped with a warning instead of failing boot.
func NewClassifierService(doc *config.RouterDocument, cloud services.CloudGate, invoker services.InvokerService, cache services.CacheService, logger *logrus.Logger) *ClassifierServiceImpl {
	c := &ClassifierServiceImpl{
		classifierCfg: doc.Classifier,
		cloud:         cloud,
		invoker:       invoker,
		cache:         cache,
		logger:        logger,
	}

	for _, task := range orderedTasks(doc.TaskTypes) {
		raw := doc.TaskTypes[string(task)]
		sig := taskSignal{
			task:              task,
			complexityDefault: parseComplexity(raw.ComplexityDefault, models.ComplexityLow),
		}
		for _, kw := range raw.Keywords {
			sig.keywords = append(sig.keywords, strings.ToLower(kw))
		}
		if raw.Regex != "" {
			re, err := regexp.Compile("(?i)" + raw.Regex)
			if err != nil {
				logger.WithError(err).WithField("task", task).Warn("dropping invalid task regex")
			} else {
				sig.regex = re
			}
		}
		c.signals = append(c.signals, sig)
	}

	for _, level := range []string{"high", "critical"} {
		raw, ok := doc.ComplexitySignals[level]
		if !ok || raw.Regex == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + raw.Regex)
		if err != nil {
			logger.WithError(err).WithField("level", level).Warn("dropping invalid complexity regex")
			continue
		}
		c.highSignals = append(c.highSignals, complexitySignal{
			level: models.Complexity(level),
			regex: re,
		})
	}

	for _, ind := range doc.ComplexitySignals["critical"].Indicators {
		c.indicators = append(c.indicators, strings.ToLower(ind))
	}

	return c
}

// orderedTasks iterates document task types in a deterministic order: the
// canonical task list first, then any custom tasks sorted by name. Ordering
// decides score ties, so it must be stable across processes.
func orderedTasks(taskTypes map[string]config.TaskSignals) []models.Task {
	out := make([]models.Task, 0, len(taskTypes))
	seen := make(map[string]bool, len(taskTypes))
	for _, task := range models.AllTasks {
		if _, ok := taskTypes[string(task)]; ok {
			out = append(out, task)
			seen[string(task)] = true
		}
	}
	var extras []string
	for name := range taskTypes {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		out = append(out, models.Task(name))
	}
	return out
}

func parseComplexity(s string, fallback models.Complexity) models.Complexity {
	if models.IsValidComplexity(s) {
		return models.Complexity(s)
	}
	return fallback
}

// Classify runs the heuristic pass, the optional LLM refinement, and the
// caller overrides, in that order. It never fails.
func (c *ClassifierServiceImpl) Classify(ctx context.Context, text string, opts services.ClassifyOptions) models.RoutingMeta {
	meta := c.classifyHeuristic(text)

	if c.shouldRefine(meta) {
		if refined, ok := c.refineWithLLM(ctx, text, meta); ok {
			meta = refined
		}
	}

	if opts.PreferCode && (meta.Task == models.TaskSimpleQA || meta.Task == models.TaskChitchat) {
		meta.Task = models.TaskCodeGen
	}
	if opts.Critical {
		meta.Complexity = models.ComplexityCritical
	}

	if meta.Complexity.Rank() >= models.ComplexityHigh.Rank() && !c.cloudUp() {
		meta.ComplexityBoosted = true
	}

	return meta
}

func (c *ClassifierServiceImpl) cloudUp() bool {
	return c.cloud != nil && c.cloud.CloudAvailable()
}

func (c *ClassifierServiceImpl) classifyHeuristic(text string) models.RoutingMeta {
	lowered := strings.ToLower(text)
	estTokens := models.EstimateTokens(text)

	task, confidence, complexityDefault := c.scoreTasks(text, lowered)
	complexity := c.applySizeLadder(task, complexityDefault, estTokens)

	for _, sig := range c.highSignals {
		if sig.regex.MatchString(text) {
			complexity = complexity.AtLeast(sig.level)
		}
	}

	for _, ind := range c.indicators {
		if strings.Contains(lowered, ind) {
			complexity = models.ComplexityCritical
			if confidence < refinedConfidence {
				confidence = refinedConfidence
			}
			break
		}
	}

	task, complexity = retargetStackTraces(lowered, task, complexity)

	return models.RoutingMeta{
		Task:                task,
		Complexity:          complexity,
		Confidence:          confidence,
		RequiresLongContext: estTokens > longContextTokens,
		QualityScore:        5,
		ClassifierUsed:      models.ClassifierHeuristic,
	}
}

// scoreTasks scores every task's signals against the prompt. Keywords match
// as substrings of the lowered text; regexes run case-insensitively on the
// original. Strictly-greater comparison keeps ties on the earlier task.
func (c *ClassifierServiceImpl) scoreTasks(text, lowered string) (models.Task, float64, models.Complexity) {
	var (
		bestTask    models.Task
		bestScore   float64
		bestDefault models.Complexity
	)

	for _, sig := range c.signals {
		score := 0.0
		for _, kw := range sig.keywords {
			if strings.Contains(lowered, kw) {
				score += keywordWeight
			}
		}
		if sig.regex != nil && sig.regex.MatchString(text) {
			score += regexWeight
		}
		if score > bestScore {
			bestTask = sig.task
			bestScore = score
			bestDefault = sig.complexityDefault
		}
	}

	if bestScore == 0 {
		return models.TaskSimpleQA, unmatchedConfidence, models.ComplexityLow
	}

	confidence := bestScore
	if confidence > 1.0 {
		confidence = 1.0
	}
	return bestTask, confidence, bestDefault
}

// applySizeLadder adjusts complexity by prompt size. Critical task types
// are exempt; for the rest, tiny prompts force low, small prompts bump
// code tasks to medium, and large prompts promote monotonically.
func (c *ClassifierServiceImpl) applySizeLadder(task models.Task, complexity models.Complexity, estTokens int) models.Complexity {
	if criticalTasks[task] {
		return complexity
	}

	switch {
	case estTokens < tinyPromptTokens:
		return models.ComplexityLow
	case estTokens < smallPromptTokens:
		if complexity == models.ComplexityLow && (task == models.TaskCodeGen || task == models.TaskCodeReview) {
			return models.ComplexityMedium
		}
		return complexity
	case estTokens < largePromptTokens:
		return complexity.AtLeast(models.ComplexityMedium)
	default:
		return complexity.AtLeast(models.ComplexityHigh)
	}
}

// retargetStackTraces reroutes prompts that carry crash evidence. A pasted
// traceback under a conversational or generic code classification is really
// a debugging request: hard ones go to the critical debugger, the rest to
// code review.
func retargetStackTraces(lowered string, task models.Task, complexity models.Complexity) (models.Task, models.Complexity) {
	hasTrace := strings.Contains(lowered, "traceback") ||
		strings.Contains(lowered, "exception") ||
		strings.Contains(lowered, "error:")
	if !hasTrace {
		return task, complexity
	}

	switch task {
	case models.TaskCodeGen, models.TaskCodeReview, models.TaskSimpleQA:
		if complexity.Rank() >= models.ComplexityHigh.Rank() {
			task = models.TaskCodeCritDebug
		} else {
			task = models.TaskCodeReview
		}
		complexity = complexity.AtLeast(models.ComplexityMedium)
	}
	return task, complexity
}

func (c *ClassifierServiceImpl) shouldRefine(meta models.RoutingMeta) bool {
	return c.classifierCfg.LLMAssisted &&
		c.invoker != nil &&
		meta.Confidence < c.classifierCfg.ConfidenceThreshold &&
		c.cloudUp()
}

// refinement is the cacheable outcome of one LLM classification call.
type refinement struct {
	Task         string `json:"task"`
	Complexity   string `json:"complexity"`
	QualityScore int    `json:"quality_score"`
}

func (c *ClassifierServiceImpl) refineWithLLM(ctx context.Context, text string, meta models.RoutingMeta) (models.RoutingMeta, bool) {
	key := classifyCacheKey(text)

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			var ref refinement
			if err := json.Unmarshal([]byte(cached), &ref); err == nil {
				return applyRefinement(meta, ref), true
			}
		}
	}

	excerpt := text
	if len(excerpt) > refinementMaxChars {
		excerpt = excerpt[:refinementMaxChars]
	}
	prompt := strings.ReplaceAll(c.classifierCfg.PromptTemplate, "{prompt}", excerpt)

	backend := models.BackendEntry{
		ID:                "classifier",
		Provider:          models.ProviderRemoteCloud,
		ProviderModelName: c.classifierCfg.LLMModel,
	}
	res, err := c.invoker.Invoke(ctx, backend, []models.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		c.logger.WithError(err).Debug("classifier refinement failed, keeping heuristic")
		return meta, false
	}

	ref, ok := parseRefinement(res.Content)
	if !ok {
		c.logger.WithField("reply", truncateForLog(res.Content)).Debug("classifier refinement unparseable")
		return meta, false
	}

	if c.cache != nil {
		if data, err := json.Marshal(ref); err == nil {
			c.cache.Set(ctx, key, string(data), classifyCacheTTL)
		}
	}

	return applyRefinement(meta, ref), true
}

// parseRefinement extracts TASK / COMPLEXITY / QUALITY_SCORE lines from the
// model reply. Unknown values invalidate the whole reply so a hallucinated
// task name can never reach the policy table.
func parseRefinement(reply string) (refinement, bool) {
	upper := strings.ToUpper(reply)

	taskMatch := refineTaskRe.FindStringSubmatch(upper)
	complexityMatch := refineComplexityRe.FindStringSubmatch(upper)
	if taskMatch == nil || complexityMatch == nil {
		return refinement{}, false
	}

	ref := refinement{
		Task:         strings.ToLower(taskMatch[1]),
		Complexity:   strings.ToLower(complexityMatch[1]),
		QualityScore: 5,
	}
	if !models.IsValidTask(ref.Task) || !models.IsValidComplexity(ref.Complexity) {
		return refinement{}, false
	}

	if m := refineQualityRe.FindStringSubmatch(upper); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if n < 1 {
				n = 1
			}
			if n > 10 {
				n = 10
			}
			ref.QualityScore = n
		}
	}

	return ref, true
}

func applyRefinement(meta models.RoutingMeta, ref refinement) models.RoutingMeta {
	meta.Task = models.Task(ref.Task)
	meta.Complexity = models.Complexity(ref.Complexity)
	meta.QualityScore = ref.QualityScore
	meta.Confidence = refinedConfidence
	meta.ClassifierUsed = models.ClassifierLLM
	return meta
}

func classifyCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "classify:" + hex.EncodeToString(sum[:16])
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
