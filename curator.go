package ace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// ItemKind tags the variants of a learned context item.
type ItemKind string

const (
	// ItemSuccessfulPattern records a reusable pattern extracted from a
	// well-scored run.
	ItemSuccessfulPattern ItemKind = "successful_pattern"
	// ItemImprovementStrategy records a textual improvement suggestion.
	ItemImprovementStrategy ItemKind = "improvement_strategy"
	// ItemOptimizationAttempt records one retry's guidance and feedback.
	ItemOptimizationAttempt ItemKind = "optimization_attempt"
)

// ContextItem is the unit of learned knowledge in the curator's store.
// Fields beyond Kind and Created are populated per variant.
type ContextItem struct {
	Kind ItemKind `json:"kind"`

	// successful_pattern
	Name         string  `json:"name,omitempty"`
	Description  string  `json:"description,omitempty"`
	Condition    string  `json:"condition,omitempty"`
	QualityScore float64 `json:"quality_score,omitempty"`

	// improvement_strategy
	Strategy string `json:"strategy,omitempty"`

	// optimization_attempt
	Retry      int      `json:"retry,omitempty"`
	Feedback   []string `json:"feedback,omitempty"`
	FocusAreas []string `json:"focus_areas,omitempty"`

	Created time.Time `json:"created"`
}

// Observation is the generation phase's compact snapshot of one
// pipeline execution.
type Observation struct {
	Timestamp        time.Time `json:"timestamp"`
	Query            string    `json:"query"`
	QueryTokens      int       `json:"query_tokens"`
	Role             string    `json:"role"`
	Skills           string    `json:"skills"`
	Keywords         []string  `json:"keywords"`
	KeywordCount     int       `json:"keyword_count"`
	ResultCount      int       `json:"result_count"`
	TacitCount       int       `json:"tacit_count"`
	TotalResults     int       `json:"total_results"`
	TargetName       string    `json:"target_name"`
	TargetDepartment string    `json:"target_department"`
}

// QualityIndicators are the reflection phase's weighted presence checks.
type QualityIndicators struct {
	ResponseLength int     `json:"response_length"`
	HasTarget      bool    `json:"has_target"`
	HasContact     bool    `json:"has_contact"`
	HasTacit       bool    `json:"has_tacit"`
	KeywordsUsed   bool    `json:"keywords_used"`
	ResultsFound   bool    `json:"results_found"`
	OverallScore   float64 `json:"overall_score"`
}

// Pattern is one reusable heuristic extracted during reflection.
type Pattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Condition   string `json:"condition"`
}

// Insights is the reflection phase's output.
type Insights struct {
	Timestamp     time.Time         `json:"timestamp"`
	Quality       QualityIndicators `json:"quality"`
	ExecutionTime time.Duration     `json:"execution_time"`
	ResultsFound  int               `json:"results_found"`
	Patterns      []Pattern         `json:"patterns,omitempty"`
	Suggestions   []string          `json:"suggestions,omitempty"`
}

// Optimization is the targeted guidance for the next retry.
type Optimization struct {
	Timestamp  time.Time `json:"timestamp"`
	Retry      int       `json:"retry"`
	Keywords   string    `json:"keywords_optimization,omitempty"`
	Retrieval  string    `json:"retrieval_optimization,omitempty"`
	Response   string    `json:"response_optimization,omitempty"`
	FocusAreas []string  `json:"focus_areas"`
}

// Render joins the non-empty instruction blocks into a single guidance
// text suitable for seeding the next attempt's exchange.
func (o Optimization) Render() string {
	var blocks []string
	if o.Keywords != "" {
		blocks = append(blocks, "Keyword guidance: "+o.Keywords)
	}
	if o.Retrieval != "" {
		blocks = append(blocks, "Retrieval guidance: "+o.Retrieval)
	}
	if o.Response != "" {
		blocks = append(blocks, "Response guidance: "+o.Response)
	}
	return strings.Join(blocks, "\n")
}

// CuratorStatistics summarizes the learned store.
type CuratorStatistics struct {
	TotalItems            int        `json:"total_items"`
	SuccessfulPatterns    int        `json:"successful_patterns"`
	ImprovementStrategies int        `json:"improvement_strategies"`
	OptimizationAttempts  int        `json:"optimization_attempts"`
	AvgQualityScore       float64    `json:"avg_quality_score"`
	OldestItem            *time.Time `json:"oldest_item,omitempty"`
	NewestItem            *time.Time `json:"newest_item,omitempty"`
}

// Curator is the learning engine: it projects execution facts into
// observations, reflects on outcomes, curates durable context items, and
// optimizes guidance for retries. The store is loaded from the archive at
// construction and persisted after every mutation; it is capped, dropping
// the oldest items first.
type Curator struct {
	mu       sync.Mutex
	archive  Archive
	items    []ContextItem
	maxItems int
}

// NewCurator creates a curator backed by the given archive. A failing
// load is tolerated: the curator starts empty and logs the failure.
func NewCurator(ctx context.Context, archive Archive) *Curator {
	c := &Curator{
		archive:  archive,
		maxItems: DefaultMaxContextItems,
	}

	items, err := archive.Load(ctx)
	if err != nil {
		capitan.Error(ctx, ArchiveFailed, FieldError.Field(err))
		return c
	}
	c.items = items
	return c
}

// WithMaxItems overrides the store cap.
func (c *Curator) WithMaxItems(n int) *Curator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.maxItems = n
	}
	return c
}

// Generate projects raw execution facts into a compact snapshot.
func (c *Curator) Generate(query string, profile Profile, keywords []string, results, tacit []Retrieved, inter *Intermediate) Observation {
	if inter == nil {
		inter = &Intermediate{}
	}
	return Observation{
		Timestamp:        time.Now(),
		Query:            query,
		QueryTokens:      len(strings.Fields(query)),
		Role:             profile.Role,
		Skills:           profile.Skills,
		Keywords:         keywords,
		KeywordCount:     len(keywords),
		ResultCount:      len(results),
		TacitCount:       len(tacit),
		TotalResults:     len(results) + len(tacit),
		TargetName:       inter.Target.Name,
		TargetDepartment: inter.Target.Department,
	}
}

// Reflect analyzes an execution and extracts insights: a heuristic quality
// score, reusable patterns, and improvement suggestions.
func (c *Curator) Reflect(obs Observation, response string, elapsed time.Duration) Insights {
	return Insights{
		Timestamp:     time.Now(),
		Quality:       assessQuality(obs, response),
		ExecutionTime: elapsed,
		ResultsFound:  obs.TotalResults,
		Patterns:      extractPatterns(obs),
		Suggestions:   generateSuggestions(obs, response),
	}
}

// Curate converts insights into durable context items: patterns from
// well-scored runs become SuccessfulPattern items, every suggestion
// becomes an ImprovementStrategy. Deltas are appended, the store pruned
// to its cap, and persisted before returning.
func (c *Curator) Curate(ctx context.Context, insights Insights) ([]ContextItem, error) {
	now := time.Now()
	var deltas []ContextItem

	if insights.Quality.OverallScore >= PatternScoreThreshold {
		for _, p := range insights.Patterns {
			deltas = append(deltas, ContextItem{
				Kind:         ItemSuccessfulPattern,
				Name:         p.Name,
				Description:  p.Description,
				Condition:    p.Condition,
				QualityScore: insights.Quality.OverallScore,
				Created:      now,
			})
		}
	}
	for _, s := range insights.Suggestions {
		deltas = append(deltas, ContextItem{
			Kind:     ItemImprovementStrategy,
			Strategy: s,
			Created:  now,
		})
	}

	if err := c.appendItems(ctx, deltas); err != nil {
		return deltas, err
	}

	capitan.Emit(ctx, ItemsCurated,
		FieldItemCount.Field(len(deltas)),
		FieldScore.Field(float32(insights.Quality.OverallScore)),
	)
	return deltas, nil
}

// Optimize classifies validation feedback against known failure
// vocabularies and emits targeted guidance for the next retry. Multiple
// concerns can fire; their blocks accumulate. An OptimizationAttempt item
// is always recorded, regardless of the pattern-score threshold.
func (c *Curator) Optimize(ctx context.Context, obs Observation, feedback []string, inter *Intermediate, retry int) (Optimization, error) {
	opt := Optimization{
		Timestamp:  time.Now(),
		Retry:      retry,
		FocusAreas: []string{},
	}

	text := strings.ToLower(strings.Join(feedback, " "))

	addRetrieval := func(block string) {
		if opt.Retrieval != "" {
			opt.Retrieval += "\n"
		}
		opt.Retrieval += block
	}

	if strings.Contains(text, "too short") || strings.Contains(text, "insufficient") {
		opt.Keywords = "Expand keyword extraction to capture more semantic variations and related terms. " +
			"Consider synonyms, related concepts, and domain-specific terminology."
		opt.FocusAreas = append(opt.FocusAreas, "keyword_expansion")
	}

	if strings.Contains(text, "search results") || strings.Contains(text, "insufficient") {
		addRetrieval("Broaden search criteria: " +
			"1) Use more diverse keyword combinations " +
			"2) Reduce specificity to capture more results " +
			"3) Include partial matches and fuzzy search")
		opt.FocusAreas = append(opt.FocusAreas, "search_coverage")
	}

	if strings.Contains(text, "target") || strings.Contains(text, "person") ||
		strings.Contains(text, "contact") || strings.Contains(text, "department") {
		addRetrieval("Prioritize results with complete target information: " +
			"1) Filter for entries with contact details " +
			"2) Prefer results with department information " +
			"3) Look for entries with multiple contact methods")
		opt.FocusAreas = append(opt.FocusAreas, "person_selection")
	}

	if strings.Contains(text, "structure") || strings.Contains(text, "markdown") || strings.Contains(text, "mailto") {
		opt.Response = "Enhance response formatting and completeness: " +
			"1) Ensure proper markdown section headers " +
			"2) Include all required sections (contact, summary, tacit knowledge) " +
			"3) Add mailto link with properly formatted subject and body " +
			"4) Provide more detailed explanations in each section"
		opt.FocusAreas = append(opt.FocusAreas, "response_formatting")
	}

	if strings.Contains(text, "tacit") {
		addRetrieval("Enhance tacit knowledge integration: " +
			"1) Ensure tacit knowledge search is executed " +
			"2) Incorporate tacit knowledge findings into response " +
			"3) Highlight unique insights from tacit knowledge")
		opt.FocusAreas = append(opt.FocusAreas, "tacit_knowledge")
	}

	switch {
	case retry <= 1:
		opt.Response += " First retry: Focus on completing all required fields and sections."
	case retry == 2:
		opt.Response += " Second retry: Emphasize quality and detail in all sections."
	default:
		opt.Response += " Final retry: Maximize all quality indicators and ensure comprehensive coverage."
	}

	err := c.appendItems(ctx, []ContextItem{{
		Kind:       ItemOptimizationAttempt,
		Retry:      retry,
		Feedback:   feedback,
		FocusAreas: opt.FocusAreas,
		Created:    time.Now(),
	}})

	capitan.Emit(ctx, OptimizationIssued,
		FieldAttempt.Field(retry),
		FieldFeedbackCount.Field(len(feedback)),
		FieldFocusAreas.Field(strings.Join(opt.FocusAreas, ",")),
	)
	return opt, err
}

// Instructions renders the most recent successful patterns (up to 10) and
// improvement strategies (up to 5) as a single instruction block for the
// domain steps. Returns "" when the store is empty.
func (c *Curator) Instructions(_ string, _ Profile) string {
	c.mu.Lock()
	items := make([]ContextItem, len(c.items))
	copy(items, c.items)
	c.mu.Unlock()

	if len(items) == 0 {
		return ""
	}

	var patterns, strategies []ContextItem
	for _, item := range items {
		switch item.Kind {
		case ItemSuccessfulPattern:
			patterns = append(patterns, item)
		case ItemImprovementStrategy:
			strategies = append(strategies, item)
		}
	}
	if len(patterns) > 10 {
		patterns = patterns[len(patterns)-10:]
	}
	if len(strategies) > 5 {
		strategies = strategies[len(strategies)-5:]
	}

	lines := []string{"# Context Engineering Instructions"}
	if len(patterns) > 0 {
		lines = append(lines, "", "## Successful Patterns to Apply:")
		for _, item := range patterns {
			lines = append(lines, fmt.Sprintf("- [%.2f] %s", item.QualityScore, item.Description))
		}
	}
	if len(strategies) > 0 {
		lines = append(lines, "", "## Improvement Strategies:")
		for _, item := range strategies {
			lines = append(lines, "- "+item.Strategy)
		}
	}
	return strings.Join(lines, "\n")
}

// Items returns a copy of the learned store in insertion order.
func (c *Curator) Items() []ContextItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]ContextItem, len(c.items))
	copy(items, c.items)
	return items
}

// Clear empties the store and persists the empty state.
func (c *Curator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	if err := c.archive.Save(ctx, nil); err != nil {
		capitan.Error(ctx, ArchiveFailed, FieldError.Field(err))
		return fmt.Errorf("curator: failed to persist cleared store: %w", err)
	}
	return nil
}

// Statistics summarizes the learned store.
func (c *Curator) Statistics() CuratorStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CuratorStatistics{TotalItems: len(c.items)}
	scoreSum := 0.0
	for _, item := range c.items {
		switch item.Kind {
		case ItemSuccessfulPattern:
			stats.SuccessfulPatterns++
			scoreSum += item.QualityScore
		case ItemImprovementStrategy:
			stats.ImprovementStrategies++
		case ItemOptimizationAttempt:
			stats.OptimizationAttempts++
		}
	}
	if stats.SuccessfulPatterns > 0 {
		stats.AvgQualityScore = scoreSum / float64(stats.SuccessfulPatterns)
	}
	if len(c.items) > 0 {
		oldest := c.items[0].Created
		newest := c.items[len(c.items)-1].Created
		stats.OldestItem = &oldest
		stats.NewestItem = &newest
	}
	return stats
}

// appendItems is the single mutation path: append, prune to the cap
// (oldest first, never reorder), persist.
func (c *Curator) appendItems(ctx context.Context, deltas []ContextItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, deltas...)
	if overflow := len(c.items) - c.maxItems; overflow > 0 {
		c.items = append([]ContextItem(nil), c.items[overflow:]...)
	}

	snapshot := make([]ContextItem, len(c.items))
	copy(snapshot, c.items)
	if err := c.archive.Save(ctx, snapshot); err != nil {
		capitan.Error(ctx, ArchiveFailed, FieldError.Field(err))
		return fmt.Errorf("curator: failed to persist store: %w", err)
	}
	return nil
}

func assessQuality(obs Observation, response string) QualityIndicators {
	lower := strings.ToLower(response)

	q := QualityIndicators{
		ResponseLength: len(response),
		HasTarget:      strings.Contains(lower, "name:") || (obs.TargetName != "" && strings.Contains(response, obs.TargetName)),
		HasContact:     strings.Contains(lower, "contact:") || strings.Contains(lower, "mailto:"),
		HasTacit:       strings.Contains(lower, "tacit"),
		KeywordsUsed:   obs.KeywordCount > 0,
		ResultsFound:   obs.TotalResults > 0,
	}

	// Weights sum to 1.0.
	score := 0.0
	if q.ResponseLength > 100 {
		score += 0.2
	}
	if q.HasTarget {
		score += 0.2
	}
	if q.HasContact {
		score += 0.2
	}
	if q.HasTacit {
		score += 0.15
	}
	if q.KeywordsUsed {
		score += 0.15
	}
	if q.ResultsFound {
		score += 0.1
	}
	q.OverallScore = score
	return q
}

func extractPatterns(obs Observation) []Pattern {
	var patterns []Pattern

	if obs.QueryTokens > 10 {
		patterns = append(patterns, Pattern{
			Name:        "long_query_handling",
			Description: "Use semantic retrieval for detailed queries",
			Condition:   "query_tokens > 10",
		})
	}
	if obs.Role != "" {
		patterns = append(patterns, Pattern{
			Name:        "role_based_context",
			Description: "Tailor response for role: " + obs.Role,
			Condition:   fmt.Sprintf("profile.role == %q", obs.Role),
		})
	}
	if obs.KeywordCount >= 5 {
		patterns = append(patterns, Pattern{
			Name:        "comprehensive_keywords",
			Description: "Rich keyword extraction enables better search",
			Condition:   "keyword_count >= 5",
		})
	}
	return patterns
}

func generateSuggestions(obs Observation, response string) []string {
	var suggestions []string

	if obs.KeywordCount < 3 {
		suggestions = append(suggestions, "Improve keyword extraction - consider using more diverse extraction strategies")
	}
	if obs.TotalResults < 3 {
		suggestions = append(suggestions, "Expand search coverage - consider broadening search criteria or using synonyms")
	}
	if obs.TacitCount == 0 {
		suggestions = append(suggestions, "Integrate tacit knowledge - ensure tacit knowledge is being searched and utilized")
	}
	if len(response) < 100 {
		suggestions = append(suggestions, "Enhance response detail - provide more comprehensive information")
	}
	return suggestions
}
