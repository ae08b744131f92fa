// Package orchestrator classifies queries by keyword and recommends which
// models are best suited to answer them. Pure lookup, no state.
package orchestrator

import "strings"

type QueryType string

const (
	QueryCode       QueryType = "code"
	QueryMath       QueryType = "math"
	QueryCreative   QueryType = "creative"
	QueryAnalysis   QueryType = "analysis"
	QueryNews       QueryType = "news"
	QueryGeneral    QueryType = "general"
	QueryTechnical  QueryType = "technical"
	QueryComparison QueryType = "comparison"
)

type Suggestion struct {
	ModelID    string  `json:"model_id"`
	ModelName  string  `json:"model_name"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

var codeKeywords = []string{
	"code", "function", "debug", "implement", "algorithm",
	"write a", "programming", "script", "bug", "error",
	"python", "javascript", "swift", "java", "rust", "go",
	"class", "method", "variable", "loop", "array",
}

var mathKeywords = []string{
	"calculate", "equation", "solve", "math", "formula",
	"derivative", "integral", "probability", "statistics",
	"proof", "theorem", "algebra", "geometry",
}

var creativeKeywords = []string{
	"write", "story", "poem", "essay", "creative",
	"imagine", "describe", "explain like", "eli5",
	"metaphor", "analogy",
}

var analysisKeywords = []string{
	"analyze", "compare", "evaluate", "assess", "critique",
	"pros and cons", "advantages", "disadvantages", "trade-offs",
}

var newsKeywords = []string{
	"news", "latest", "recent", "today", "this week",
	"what happened", "announced", "breaking",
}

var technicalKeywords = []string{
	"how does", "explain", "technical", "architecture",
	"system", "infrastructure", "protocol", "mechanism",
}

var comparisonKeywords = []string{
	"vs", "versus", "compare", "difference between",
	"which is better", "should i use",
}

// specialists maps a query type to the models that excel at it, best first.
var specialists = map[QueryType][]string{
	QueryCode:       {"mixtral", "llama-70b"},
	QueryMath:       {"deepseek", "llama-70b"},
	QueryCreative:   {"gemini", "llama-70b"},
	QueryAnalysis:   {"llama-70b", "deepseek"},
	QueryNews:       {"gemini"},
	QueryGeneral:    {"gemini", "llama-70b", "llama-8b"},
	QueryTechnical:  {"llama-70b", "deepseek"},
	QueryComparison: {"llama-70b", "gemini"},
}

var modelNames = map[string]string{
	"gemini":    "Gemini 2.5 Flash",
	"llama-70b": "Llama 3.3 70B",
	"llama-8b":  "Llama 3.1 8B",
	"mixtral":   "Llama 4 Maverick (MoE)",
	"deepseek":  "DeepSeek V2.5",
}

var reasons = map[QueryType]string{
	QueryCode:       "excels at code generation and debugging",
	QueryMath:       "specializes in mathematical reasoning",
	QueryCreative:   "great for creative and expressive writing",
	QueryAnalysis:   "provides deep analytical insights",
	QueryNews:       "works best with web-augmented context",
	QueryTechnical:  "excels at technical explanations",
	QueryComparison: "provides balanced comparative analysis",
	QueryGeneral:    "offers comprehensive general knowledge",
}

// Reasonings explains, per query type, why the suggested models fit.
var Reasonings = map[QueryType]string{
	QueryCode:       "This appears to be a code-related query. Models specialized in code generation and debugging would be ideal.",
	QueryMath:       "This is a mathematical query. Models with strong logical reasoning capabilities are recommended.",
	QueryCreative:   "This is a creative query. Models that excel at expressive writing would provide the best results.",
	QueryAnalysis:   "This requires deep analysis. Models with strong reasoning capabilities are recommended.",
	QueryNews:       "This query needs current information. A model that works well with web context is ideal.",
	QueryTechnical:  "This is a technical query. Models with strong explanatory capabilities are recommended.",
	QueryComparison: "This is a comparison query. Models that can provide balanced analysis are ideal.",
	QueryGeneral:    "This is a general knowledge query. A diverse set of models would provide varied perspectives.",
}

// Classify buckets a query by keyword, checked in order of specificity.
func Classify(query string) QueryType {
	q := strings.ToLower(query)

	switch {
	case containsAny(q, codeKeywords):
		return QueryCode
	case containsAny(q, mathKeywords):
		return QueryMath
	case containsAny(q, creativeKeywords):
		return QueryCreative
	case containsAny(q, comparisonKeywords):
		return QueryComparison
	case containsAny(q, newsKeywords):
		return QueryNews
	case containsAny(q, technicalKeywords):
		return QueryTechnical
	case containsAny(q, analysisKeywords):
		return QueryAnalysis
	default:
		return QueryGeneral
	}
}

// Suggest recommends up to max models that complement an existing selection.
// Confidence decays with a specialist's rank and never drops below 0.5.
func Suggest(query string, selected []string, max int) []Suggestion {
	queryType := Classify(query)
	ranked := specialists[queryType]

	selectedSet := make(map[string]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
	}

	var suggestions []Suggestion
	for rank, id := range ranked {
		if selectedSet[id] || len(suggestions) >= max {
			continue
		}
		confidence := 1.0 - float64(rank)*0.2
		if confidence < 0.5 {
			confidence = 0.5
		}
		suggestions = append(suggestions, Suggestion{
			ModelID:    id,
			ModelName:  modelNames[id],
			Reason:     reasons[queryType],
			Confidence: confidence,
		})
	}
	return suggestions
}

// OptimalModels picks a default model set for a query when the caller has
// not selected any, padding with general-purpose models for diversity.
func OptimalModels(query string) []string {
	ranked := specialists[Classify(query)]
	if len(ranked) == 0 {
		ranked = []string{"gemini", "llama-70b"}
	}
	switch {
	case len(ranked) >= 3:
		return ranked[:3]
	case len(ranked) == 2:
		return append(append([]string{}, ranked...), "llama-8b")
	default:
		return append(append([]string{}, ranked...), "llama-70b", "llama-8b")
	}
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
