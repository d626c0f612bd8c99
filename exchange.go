package ace

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/zyn"
)

// Well-known Exchange keys. The engine seeds the first group before each
// attempt; domain steps are expected to populate the second.
const (
	KeyQuery        = "query"
	KeyInstructions = "context_instructions"
	KeyOptimization = "optimization"
	KeyAttempt      = "attempt"
	KeyPriorState   = "prior_state"

	KeyKeywords     = "keywords"
	KeyResults      = "results"
	KeyTacitResults = "tacit_results"
	KeyIntermediate = "intermediate"
	KeyResponse     = "response"
)

// StepError is one step failure recorded in the running context. Failures
// never abort an orchestrator run; they accumulate here instead.
type StepError struct {
	Step  string    `json:"step"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Exchange is the running context of one pipeline attempt. Steps read the
// values prior steps wrote and add their own contributions.
//
// # Concurrency
//
// Exchange is safe for concurrent reads but not concurrent writes. The
// parallel and hybrid orchestrator strategies never share a writable
// Exchange across goroutines: each branch receives its own Clone and the
// orchestrator merges the clones afterwards.
type Exchange struct {
	// Identity
	TraceID    string
	SessionKey string

	// Inbound request
	Query   string
	Profile Profile

	// LLM conversation state, shared by synapse-backed steps (not persisted)
	Session *zyn.Session

	values  map[string]any
	written map[string]struct{}
	errors  []StepError
	mu      sync.RWMutex

	Created time.Time
}

// NewExchange creates a running context for one attempt at a query.
// TraceID is auto-generated.
func NewExchange(query string, profile Profile) *Exchange {
	ex := &Exchange{
		TraceID: uuid.New().String(),
		Query:   query,
		Profile: profile,
		Session: zyn.NewSession(),
		values:  make(map[string]any),
		written: make(map[string]struct{}),
		Created: time.Now(),
	}
	ex.values[KeyQuery] = query
	return ex
}

// Set stores a value under key, replacing any prior value. The key is
// recorded as written, which scopes what merge folds back from a branch.
func (ex *Exchange) Set(key string, value any) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.values[key] = value
	ex.written[key] = struct{}{}
}

// Get retrieves the value stored under key.
func (ex *Exchange) Get(key string) (any, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	v, ok := ex.values[key]
	return v, ok
}

// GetString retrieves a string value, returning "" when the key is absent
// or holds a different type.
func (ex *Exchange) GetString(key string) string {
	v, ok := ex.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetStrings retrieves a []string value.
func (ex *Exchange) GetStrings(key string) []string {
	v, ok := ex.Get(key)
	if !ok {
		return nil
	}
	s, _ := v.([]string)
	return s
}

// GetInt retrieves an int value, returning 0 when absent or mistyped.
func (ex *Exchange) GetInt(key string) int {
	v, ok := ex.Get(key)
	if !ok {
		return 0
	}
	i, _ := v.(int)
	return i
}

// GetRetrieved retrieves a []Retrieved value.
func (ex *Exchange) GetRetrieved(key string) []Retrieved {
	v, ok := ex.Get(key)
	if !ok {
		return nil
	}
	r, _ := v.([]Retrieved)
	return r
}

// Intermediate returns the accumulated structured results, or an empty
// value when no step has contributed one yet.
func (ex *Exchange) Intermediate() *Intermediate {
	v, ok := ex.Get(KeyIntermediate)
	if !ok {
		return &Intermediate{}
	}
	inter, ok := v.(*Intermediate)
	if !ok || inter == nil {
		return &Intermediate{}
	}
	return inter
}

// Keys returns all stored keys in unspecified order.
func (ex *Exchange) Keys() []string {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	keys := make([]string, 0, len(ex.values))
	for k := range ex.values {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of the value map.
func (ex *Exchange) Snapshot() map[string]any {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	snap := make(map[string]any, len(ex.values))
	for k, v := range ex.values {
		snap[k] = v
	}
	return snap
}

// AddError records a step failure without aborting the run.
func (ex *Exchange) AddError(step string, err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.errors = append(ex.errors, StepError{
		Step:  step,
		Error: err.Error(),
		Time:  time.Now(),
	})
}

// Errors returns the recorded step failures in occurrence order.
func (ex *Exchange) Errors() []StepError {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	errs := make([]StepError, len(ex.errors))
	copy(errs, ex.errors)
	return errs
}

// ErrorCount returns the number of recorded step failures.
func (ex *Exchange) ErrorCount() int {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return len(ex.errors)
}

// Clone creates a deep-enough copy for concurrent processing: an
// independent value map, error list, and Session. Values themselves are
// shared; steps treat prior values as read-only. The clone's write record
// starts empty, so merge can tell the branch's own contributions apart
// from inherited values.
// Required for pipz.Cloner and the parallel orchestrator strategies.
func (ex *Exchange) Clone() *Exchange {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	clone := &Exchange{
		TraceID:    ex.TraceID,
		SessionKey: ex.SessionKey,
		Query:      ex.Query,
		Profile:    ex.Profile,
		Session:    zyn.NewSession(),
		values:     make(map[string]any, len(ex.values)),
		written:    make(map[string]struct{}),
		errors:     make([]StepError, len(ex.errors)),
		Created:    ex.Created,
	}
	clone.Session.SetMessages(ex.Session.Messages())
	for k, v := range ex.values {
		clone.values[k] = v
	}
	copy(clone.errors, ex.errors)
	return clone
}

// merge folds a branch clone back into the receiver: only keys the branch
// itself wrote are copied, so an idle branch never shadows a sibling's
// update with its inherited snapshot. Branch errors recorded after
// baseErrors are appended. Callers invoke merge in step-list order, so
// later writers win on key collision.
func (ex *Exchange) merge(branch *Exchange, baseErrors int) {
	delta := branch.writes()
	branchErrs := branch.Errors()

	ex.mu.Lock()
	defer ex.mu.Unlock()
	for k, v := range delta {
		ex.values[k] = v
		ex.written[k] = struct{}{}
	}
	if baseErrors < len(branchErrs) {
		ex.errors = append(ex.errors, branchErrs[baseErrors:]...)
	}
}

// writes returns the values stored since the exchange was created or
// cloned.
func (ex *Exchange) writes() map[string]any {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	out := make(map[string]any, len(ex.written))
	for k := range ex.written {
		out[k] = ex.values[k]
	}
	return out
}

// Compile-time check: *Exchange must implement pipz.Cloner[*Exchange].
var _ interface{ Clone() *Exchange } = (*Exchange)(nil)

// RenderValues formats the exchange's domain values as "key: value" lines
// for LLM consumption, skipping engine-internal seed keys.
func (ex *Exchange) RenderValues() string {
	snap := ex.Snapshot()
	out := ""
	for _, key := range []string{KeyKeywords, KeyResults, KeyTacitResults, KeyResponse} {
		v, ok := snap[key]
		if !ok {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("%s: %v", key, v)
	}
	return out
}
