package ace

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// memArchive implements Archive in memory for tests.
type memArchive struct {
	mu      sync.Mutex
	items   []ContextItem
	saves   int
	failing bool
}

func (a *memArchive) Load(_ context.Context) ([]ContextItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failing {
		return nil, errors.New("archive unavailable")
	}
	items := make([]ContextItem, len(a.items))
	copy(items, a.items)
	return items, nil
}

func (a *memArchive) Save(_ context.Context, items []ContextItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failing {
		return errors.New("archive unavailable")
	}
	a.items = make([]ContextItem, len(items))
	copy(a.items, items)
	a.saves++
	return nil
}

func goodInsights() Insights {
	return Insights{
		Timestamp: time.Now(),
		Quality:   QualityIndicators{OverallScore: 0.85},
		Patterns: []Pattern{
			{Name: "role_based_context", Description: "Tailor response for role: engineer", Condition: `profile.role == "engineer"`},
		},
		Suggestions: []string{"Integrate tacit knowledge - ensure tacit knowledge is being searched and utilized"},
	}
}

func TestCuratorGenerate(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	obs := c.Generate(
		"how do I set up my laptop for the platform team",
		Profile{Role: "engineer", Skills: "go"},
		[]string{"laptop", "setup", "platform"},
		[]Retrieved{{Title: "IT guide"}, {Title: "Platform wiki"}},
		[]Retrieved{{Title: "Ask Sam"}},
		&Intermediate{Target: Target{Name: "Sam", Department: "IT"}},
	)

	if obs.QueryTokens != 10 {
		t.Errorf("expected 10 query tokens, got %d", obs.QueryTokens)
	}
	if obs.KeywordCount != 3 || obs.ResultCount != 2 || obs.TacitCount != 1 {
		t.Errorf("unexpected counts: %+v", obs)
	}
	if obs.TotalResults != 3 {
		t.Errorf("expected total 3, got %d", obs.TotalResults)
	}
	if obs.TargetName != "Sam" || obs.TargetDepartment != "IT" {
		t.Errorf("unexpected target fields: %+v", obs)
	}
	if obs.Role != "engineer" {
		t.Errorf("unexpected role: %q", obs.Role)
	}
}

func TestCuratorReflectScoring(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	obs := Observation{
		QueryTokens:  12,
		Role:         "engineer",
		KeywordCount: 5,
		TotalResults: 4,
		TacitCount:   1,
		TargetName:   "Sam",
	}
	response := strings.Repeat("Name: Sam. Contact: mailto:sam@example.com. Tacit insight included. ", 3)

	insights := c.Reflect(obs, response, 200*time.Millisecond)

	// The weights are summed in floating point, so allow rounding slack.
	if math.Abs(insights.Quality.OverallScore-1.0) > 1e-9 {
		t.Errorf("expected full score when every indicator holds, got %f", insights.Quality.OverallScore)
	}
	if len(insights.Patterns) != 3 {
		t.Errorf("expected all three pattern triggers, got %v", insights.Patterns)
	}
	if len(insights.Suggestions) != 0 {
		t.Errorf("expected no suggestions for a strong run, got %v", insights.Suggestions)
	}
	if insights.ExecutionTime != 200*time.Millisecond {
		t.Errorf("unexpected execution time: %v", insights.ExecutionTime)
	}
}

func TestCuratorReflectSuggestions(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	insights := c.Reflect(Observation{KeywordCount: 1}, "thin", time.Millisecond)

	if len(insights.Suggestions) != 4 {
		t.Errorf("expected all four suggestion triggers for a weak run, got %v", insights.Suggestions)
	}
	if insights.Quality.OverallScore >= PatternScoreThreshold {
		t.Errorf("expected weak run below pattern threshold, got %f", insights.Quality.OverallScore)
	}
}

func TestCuratorCurateThreshold(t *testing.T) {
	archive := &memArchive{}
	c := NewCurator(context.Background(), archive)

	weak := goodInsights()
	weak.Quality.OverallScore = 0.5

	deltas, err := c.Curate(context.Background(), weak)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Below the threshold only suggestions survive; patterns are dropped.
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if deltas[0].Kind != ItemImprovementStrategy {
		t.Errorf("expected improvement strategy, got %q", deltas[0].Kind)
	}
}

func TestCuratorCurateHighScore(t *testing.T) {
	archive := &memArchive{}
	c := NewCurator(context.Background(), archive)

	deltas, err := c.Curate(context.Background(), goodInsights())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected pattern and strategy deltas, got %d", len(deltas))
	}
	if deltas[0].Kind != ItemSuccessfulPattern || deltas[0].QualityScore != 0.85 {
		t.Errorf("expected scored pattern item, got %+v", deltas[0])
	}
	if archive.saves != 1 {
		t.Errorf("expected one persist per curate, got %d", archive.saves)
	}
}

func TestCuratorStoreCap(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{}).WithMaxItems(5)

	for retry := 1; retry <= 8; retry++ {
		if _, err := c.Optimize(context.Background(), Observation{}, []string{"Response too short"}, nil, retry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	items := c.Items()
	if len(items) != 5 {
		t.Fatalf("expected store capped at 5, got %d", len(items))
	}
	// Oldest dropped, insertion order preserved.
	if items[0].Retry != 4 || items[4].Retry != 8 {
		t.Errorf("expected retries 4..8 retained in order, got %d..%d", items[0].Retry, items[4].Retry)
	}
}

func TestCuratorOptimizeFocusAreas(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	cases := []struct {
		name     string
		feedback []string
		want     []string
	}{
		{
			name:     "contact feedback targets person selection",
			feedback: []string{"Contact information missing or incomplete"},
			want:     []string{"person_selection"},
		},
		{
			name:     "short response targets keywords",
			feedback: []string{"Response too short (10 chars, minimum 50)"},
			want:     []string{"keyword_expansion"},
		},
		{
			name:     "thin retrieval targets keywords and coverage",
			feedback: []string{"Insufficient search results (0, minimum 1)"},
			want:     []string{"keyword_expansion", "search_coverage"},
		},
		{
			name:     "missing mailto targets formatting",
			feedback: []string{"Email link (mailto:) not found in response"},
			want:     []string{"response_formatting"},
		},
		{
			name:     "tacit feedback targets tacit integration",
			feedback: []string{"Tacit knowledge missing"},
			want:     []string{"tacit_knowledge"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opt, err := c.Optimize(context.Background(), Observation{}, tc.feedback, nil, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tc.want {
				found := false
				for _, area := range opt.FocusAreas {
					if area == want {
						found = true
					}
				}
				if !found {
					t.Errorf("expected focus area %q, got %v", want, opt.FocusAreas)
				}
			}
		})
	}
}

func TestCuratorOptimizeRetryEmphasis(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	first, _ := c.Optimize(context.Background(), Observation{}, nil, nil, 1)
	second, _ := c.Optimize(context.Background(), Observation{}, nil, nil, 2)
	final, _ := c.Optimize(context.Background(), Observation{}, nil, nil, 3)

	if !strings.Contains(first.Response, "First retry") {
		t.Errorf("expected first-retry emphasis, got %q", first.Response)
	}
	if !strings.Contains(second.Response, "Second retry") {
		t.Errorf("expected second-retry emphasis, got %q", second.Response)
	}
	if !strings.Contains(final.Response, "Final retry") {
		t.Errorf("expected final-retry emphasis, got %q", final.Response)
	}
}

func TestCuratorOptimizeAlwaysRecordsAttempt(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	if _, err := c.Optimize(context.Background(), Observation{}, []string{"anything"}, nil, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := c.Items()
	if len(items) != 1 || items[0].Kind != ItemOptimizationAttempt {
		t.Fatalf("expected one optimization attempt recorded, got %v", items)
	}
	if len(items[0].Feedback) != 1 {
		t.Errorf("expected feedback carried on the attempt item, got %v", items[0].Feedback)
	}
}

func TestCuratorInstructions(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{})

	if got := c.Instructions("q", Profile{}); got != "" {
		t.Errorf("expected empty instructions for empty store, got %q", got)
	}

	if _, err := c.Curate(context.Background(), goodInsights()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := c.Instructions("q", Profile{})
	if !strings.Contains(out, "# Context Engineering Instructions") {
		t.Errorf("expected header, got %q", out)
	}
	if !strings.Contains(out, "- [0.85] Tailor response for role: engineer") {
		t.Errorf("expected scored pattern line, got %q", out)
	}
	if !strings.Contains(out, "- Integrate tacit knowledge") {
		t.Errorf("expected strategy line, got %q", out)
	}
}

func TestCuratorInstructionsWindow(t *testing.T) {
	c := NewCurator(context.Background(), &memArchive{}).WithMaxItems(100)

	for i := 0; i < 15; i++ {
		insights := goodInsights()
		insights.Patterns[0].Description = strings.Repeat("p", i+1)
		insights.Suggestions[0] = strings.Repeat("s", i+1)
		if _, err := c.Curate(context.Background(), insights); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	out := c.Instructions("q", Profile{})
	if got := strings.Count(out, "- [0.85]"); got != 10 {
		t.Errorf("expected at most 10 pattern lines, got %d", got)
	}
	// 10 pattern bullets plus 5 strategy bullets.
	if got := strings.Count(out, "\n- "); got != 15 {
		t.Errorf("expected 15 bullets total, got %d", got)
	}
}

func TestCuratorLoadOnConstruct(t *testing.T) {
	archive := &memArchive{items: []ContextItem{
		{Kind: ItemImprovementStrategy, Strategy: "remembered", Created: time.Now()},
	}}

	c := NewCurator(context.Background(), archive)
	items := c.Items()
	if len(items) != 1 || items[0].Strategy != "remembered" {
		t.Errorf("expected persisted store loaded at construction, got %v", items)
	}
}

func TestCuratorLoadFailureTolerated(t *testing.T) {
	archive := &memArchive{failing: true}

	c := NewCurator(context.Background(), archive)
	if got := len(c.Items()); got != 0 {
		t.Errorf("expected empty store after failed load, got %d", got)
	}

	// The curator keeps working; persistence errors surface per mutation.
	if _, err := c.Optimize(context.Background(), Observation{}, nil, nil, 1); err == nil {
		t.Error("expected save failure to surface")
	}
}

func TestCuratorClearAndStatistics(t *testing.T) {
	archive := &memArchive{}
	c := NewCurator(context.Background(), archive)

	if _, err := c.Curate(context.Background(), goodInsights()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Optimize(context.Background(), Observation{}, nil, nil, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := c.Statistics()
	if stats.TotalItems != 3 {
		t.Errorf("expected 3 items, got %d", stats.TotalItems)
	}
	if stats.SuccessfulPatterns != 1 || stats.ImprovementStrategies != 1 || stats.OptimizationAttempts != 1 {
		t.Errorf("unexpected breakdown: %+v", stats)
	}
	if stats.AvgQualityScore != 0.85 {
		t.Errorf("expected avg quality 0.85, got %f", stats.AvgQualityScore)
	}
	if stats.OldestItem == nil || stats.NewestItem == nil {
		t.Error("expected item timestamps")
	}

	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Statistics().TotalItems; got != 0 {
		t.Errorf("expected cleared store, got %d items", got)
	}
	if len(archive.items) != 0 {
		t.Error("expected clear to persist the empty store")
	}
}

func TestCuratorFileArchiveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "context.json")
	ctx := context.Background()

	c := NewCurator(ctx, NewFileArchive(path))
	if _, err := c.Curate(ctx, goodInsights()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded := NewCurator(ctx, NewFileArchive(path))
	items := reloaded.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items after reload, got %d", len(items))
	}
	if items[0].Kind != ItemSuccessfulPattern {
		t.Errorf("expected pattern first, got %q", items[0].Kind)
	}
}
