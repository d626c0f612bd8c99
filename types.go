package ace

// Profile describes the caller on whose behalf a query runs. Role and
// Skills feed the curator's pattern extraction; Metadata is passed through
// to domain steps untouched.
type Profile struct {
	Role     string            `json:"role"`
	Skills   string            `json:"skills,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Contact is one way to reach a selected target.
type Contact struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Target is the person (or team) a response directs the caller to.
type Target struct {
	Name       string  `json:"name"`
	Department string  `json:"department,omitempty"`
	Contact    Contact `json:"contact"`
}

// Retrieved is one retrieval result contributed by a domain step.
type Retrieved struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Intermediate collects the structured outputs the domain steps accumulate
// for one attempt: the selected target, the retrieval summaries the draft
// was built from, supplementary (tacit) knowledge, and citations.
type Intermediate struct {
	Target         Target      `json:"target"`
	Summaries      []Retrieved `json:"summaries,omitempty"`
	TacitKnowledge []Retrieved `json:"tacit_knowledge,omitempty"`
	Citations      []string    `json:"citations,omitempty"`
}

// HasTarget reports whether a target with a name has been selected.
func (i *Intermediate) HasTarget() bool {
	return i != nil && i.Target.Name != ""
}

// HasContact reports whether the selected target carries contact info.
func (i *Intermediate) HasContact() bool {
	return i != nil && i.Target.Contact.Value != ""
}
