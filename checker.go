package ace

import (
	"fmt"
	"strings"
	"sync"
)

// Rules configures the quality gate. Zero-value fields are meaningful, so
// construct via DefaultRules and adjust with RuleOptions.
type Rules struct {
	// MinResponseLength is the minimum character count after trimming.
	MinResponseLength int
	// RequireTarget fails responses without a selected, named target.
	RequireTarget bool
	// RequireContact fails responses whose target has no contact value.
	RequireContact bool
	// RequireDepartment soft-penalizes a target without a department.
	RequireDepartment bool
	// MinRetrievalResults soft-penalizes drafts built from fewer summaries.
	MinRetrievalResults int
	// RequireTacitKnowledge fails responses with no supplementary results.
	RequireTacitKnowledge bool
	// RequireContactLink soft-penalizes responses without a mailto: link.
	RequireContactLink bool
	// RequireSections soft-penalizes responses without markdown headings.
	RequireSections bool
	// QualityThreshold is the minimum mean score to pass.
	QualityThreshold float64
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		MinResponseLength:     50,
		RequireTarget:         true,
		RequireContact:        true,
		RequireDepartment:     true,
		MinRetrievalResults:   1,
		RequireTacitKnowledge: false,
		RequireContactLink:    true,
		RequireSections:       true,
		QualityThreshold:      DefaultQualityThreshold,
	}
}

// RuleOption adjusts one rule; options compose into a partial update.
type RuleOption func(*Rules)

// WithMinResponseLength sets the minimum response length.
func WithMinResponseLength(n int) RuleOption {
	return func(r *Rules) { r.MinResponseLength = n }
}

// WithRequireTarget toggles the selected-target rule.
func WithRequireTarget(required bool) RuleOption {
	return func(r *Rules) { r.RequireTarget = required }
}

// WithRequireContact toggles the contact-info rule.
func WithRequireContact(required bool) RuleOption {
	return func(r *Rules) { r.RequireContact = required }
}

// WithRequireDepartment toggles the department rule.
func WithRequireDepartment(required bool) RuleOption {
	return func(r *Rules) { r.RequireDepartment = required }
}

// WithMinRetrievalResults sets the minimum retrieval summaries used.
func WithMinRetrievalResults(n int) RuleOption {
	return func(r *Rules) { r.MinRetrievalResults = n }
}

// WithRequireTacitKnowledge toggles the supplementary-knowledge rule.
func WithRequireTacitKnowledge(required bool) RuleOption {
	return func(r *Rules) { r.RequireTacitKnowledge = required }
}

// WithRequireContactLink toggles the mailto-link rule.
func WithRequireContactLink(required bool) RuleOption {
	return func(r *Rules) { r.RequireContactLink = required }
}

// WithRequireSections toggles the markdown-structure rule.
func WithRequireSections(required bool) RuleOption {
	return func(r *Rules) { r.RequireSections = required }
}

// WithQualityThreshold sets the passing score.
func WithQualityThreshold(threshold float64) RuleOption {
	return func(r *Rules) { r.QualityThreshold = threshold }
}

// Verdict is the quality gate's decision for one attempt.
//
// IsGood requires both the score threshold and an empty feedback list: a
// rule can contribute partial credit without blocking the pass, but any
// explicit feedback message forces failure even at a high score.
type Verdict struct {
	IsGood   bool           `json:"is_good"`
	Score    float64        `json:"score"`
	Feedback []string       `json:"feedback,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Checker validates response quality against configurable rules.
// Check is a pure function of its inputs and the current rule set.
type Checker struct {
	mu    sync.RWMutex
	rules Rules
}

// NewChecker creates a checker from DefaultRules adjusted by opts.
func NewChecker(opts ...RuleOption) *Checker {
	rules := DefaultRules()
	for _, opt := range opts {
		opt(&rules)
	}
	return &Checker{rules: rules}
}

// UpdateRules merges the given adjustments into the active rule set.
func (c *Checker) UpdateRules(opts ...RuleOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, opt := range opts {
		opt(&c.rules)
	}
}

// Rules returns a copy of the active rule set.
func (c *Checker) Rules() Rules {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules
}

// Check grades a response against the active rules. Each enabled rule
// contributes a score in [0,1]; the overall score is the arithmetic mean.
func (c *Checker) Check(response string, inter *Intermediate, query string, profile Profile) Verdict {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	if inter == nil {
		inter = &Intermediate{}
	}

	var feedback []string
	var components []float64
	details := make(map[string]any)

	// Response length.
	length := len(strings.TrimSpace(response))
	if length < rules.MinResponseLength {
		feedback = append(feedback, fmt.Sprintf("Response too short (%d chars, minimum %d)", length, rules.MinResponseLength))
		components = append(components, 0.0)
	} else {
		components = append(components, 1.0)
	}
	details["response_length"] = length

	// Target selection.
	if rules.RequireTarget {
		if !inter.HasTarget() {
			feedback = append(feedback, "No target selected or target name missing")
			components = append(components, 0.0)
		} else {
			components = append(components, 1.0)
			details["target_name"] = inter.Target.Name
		}
	}

	// Contact information.
	if rules.RequireContact {
		if !inter.HasContact() {
			feedback = append(feedback, "Contact information missing or incomplete")
			components = append(components, 0.0)
		} else {
			components = append(components, 1.0)
			details["contact_kind"] = inter.Target.Contact.Kind
		}
	}

	// Department: partial credit when missing.
	if rules.RequireDepartment {
		if inter.Target.Department == "" {
			feedback = append(feedback, "Department information missing")
			components = append(components, 0.5)
		} else {
			components = append(components, 1.0)
			details["department"] = inter.Target.Department
		}
	}

	// Retrieval results used: partial credit when thin.
	if len(inter.Summaries) < rules.MinRetrievalResults {
		feedback = append(feedback, fmt.Sprintf("Insufficient search results (%d, minimum %d)", len(inter.Summaries), rules.MinRetrievalResults))
		components = append(components, 0.5)
	} else {
		components = append(components, 1.0)
	}
	details["search_results_count"] = len(inter.Summaries)

	// Supplementary knowledge.
	if rules.RequireTacitKnowledge {
		if len(inter.TacitKnowledge) == 0 {
			feedback = append(feedback, "Tacit knowledge missing")
			components = append(components, 0.0)
		} else {
			components = append(components, 1.0)
		}
	}
	details["tacit_knowledge_count"] = len(inter.TacitKnowledge)

	// Actionable contact link.
	if rules.RequireContactLink {
		if !strings.Contains(strings.ToLower(response), "mailto:") {
			feedback = append(feedback, "Email link (mailto:) not found in response")
			components = append(components, 0.5)
		} else {
			components = append(components, 1.0)
		}
	}

	// Structured sections.
	if rules.RequireSections {
		hasSections := strings.Contains(response, "##")
		if !hasSections {
			feedback = append(feedback, "Response lacks proper markdown structure")
			components = append(components, 0.5)
		} else {
			components = append(components, 1.0)
		}
		details["has_markdown_sections"] = hasSections
	}

	score := 0.0
	if len(components) > 0 {
		for _, comp := range components {
			score += comp
		}
		score /= float64(len(components))
	}

	isGood := score >= rules.QualityThreshold && len(feedback) == 0
	if isGood {
		details["summary"] = "Response meets all quality criteria"
	} else if score >= rules.QualityThreshold {
		feedback = append([]string{fmt.Sprintf("Score %.2f meets threshold but has minor issues", score)}, feedback...)
	}

	details["overall_score"] = score
	details["threshold"] = rules.QualityThreshold

	return Verdict{
		IsGood:   isGood,
		Score:    score,
		Feedback: feedback,
		Details:  details,
	}
}
