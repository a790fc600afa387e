package models

// Task is the coarse category a prompt is classified into. The set matches
// the routing policy table; unknown tasks fall back to TaskSimpleQA.
type Task string

const (
	TaskChitchat        Task = "chitchat"
	TaskSimpleQA        Task = "simple_qa"
	TaskCodeGen         Task = "code_gen"
	TaskCodeReview      Task = "code_review"
	TaskCodeCritDebug   Task = "code_crit_debug"
	TaskSystemDesign    Task = "system_design"
	TaskReasoning       Task = "reasoning"
	TaskResearch        Task = "research"
	TaskDataAnalysis    Task = "data_analysis"
	TaskMachineLearning Task = "machine_learning"
	TaskCreativeWriting Task = "creative_writing"
)

// AllTasks lists every known task in stable order. Classification iterates
// this slice so that score ties resolve deterministically.
var AllTasks = []Task{
	TaskChitchat,
	TaskSimpleQA,
	TaskCodeGen,
	TaskCodeReview,
	TaskCodeCritDebug,
	TaskSystemDesign,
	TaskReasoning,
	TaskResearch,
	TaskDataAnalysis,
	TaskMachineLearning,
	TaskCreativeWriting,
}

// IsValidTask reports whether s names a known task.
func IsValidTask(s string) bool {
	for _, t := range AllTasks {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Complexity is the ordered difficulty level of a prompt.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityCritical Complexity = "critical"
)

var complexityRank = map[Complexity]int{
	ComplexityLow:      0,
	ComplexityMedium:   1,
	ComplexityHigh:     2,
	ComplexityCritical: 3,
}

// Rank returns the position of c in the low < medium < high < critical
// ordering. Unknown values rank as low.
func (c Complexity) Rank() int {
	return complexityRank[c]
}

// AtLeast returns the higher of c and min.
func (c Complexity) AtLeast(min Complexity) Complexity {
	if c.Rank() < min.Rank() {
		return min
	}
	return c
}

// IsValidComplexity reports whether s names a known complexity level.
func IsValidComplexity(s string) bool {
	_, ok := complexityRank[Complexity(s)]
	return ok
}

// RoutingMeta is the classification outcome attached to every request.
type RoutingMeta struct {
	Task                Task       `json:"task"`
	Complexity          Complexity `json:"complexity"`
	Confidence          float64    `json:"confidence"`
	RequiresLongContext bool       `json:"requires_long_context"`
	QualityScore        int        `json:"quality_score"`
	ClassifierUsed      string     `json:"classifier_used"`
	ComplexityBoosted   bool       `json:"complexity_boosted,omitempty"`
}

// Classifier identifiers recorded in RoutingMeta.ClassifierUsed.
const (
	ClassifierHeuristic = "heuristic"
	ClassifierLLM       = "llm"
)

// DefaultRoutingMeta returns the neutral classification used before any
// signal has been evaluated.
func DefaultRoutingMeta() RoutingMeta {
	return RoutingMeta{
		Task:           TaskSimpleQA,
		Complexity:     ComplexityLow,
		Confidence:     1.0,
		QualityScore:   5,
		ClassifierUsed: ClassifierHeuristic,
	}
}
