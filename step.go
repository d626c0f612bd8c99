package ace

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// RunFunc is the unit-of-work signature a Step wraps: it receives the
// running context and returns the (possibly same) updated context.
type RunFunc func(ctx context.Context, ex *Exchange) (*Exchange, error)

// Predicate gates a Step against the running context.
type Predicate func(ctx context.Context, ex *Exchange) bool

// Step is a named unit of pipeline work with an optional run predicate.
// Steps are opaque to the orchestrator beyond this contract; the predicate
// doubles as a dependency marker for the hybrid strategy.
type Step struct {
	name     string
	identity pipz.Identity
	inner    pipz.Chainable[*Exchange]
	cond     Predicate
}

// NewStep creates a step from a function.
func NewStep(name string, fn RunFunc) *Step {
	identity := pipz.NewIdentity(name, "")
	return &Step{
		name:     name,
		identity: identity,
		inner:    pipz.Apply(identity, fn),
	}
}

// WrapStep creates a step from an existing pipz processor, so callers can
// bring their own connectors (fallbacks, circuit breakers) as steps.
func WrapStep(name string, processor pipz.Chainable[*Exchange]) *Step {
	return &Step{name: name, identity: pipz.NewIdentity(name, ""), inner: processor}
}

// When sets the step's predicate. Under the conditional strategy a false
// predicate skips the step; under the hybrid strategy any predicate forces
// a synchronization point.
func (s *Step) When(cond Predicate) *Step {
	s.cond = cond
	return s
}

// Conditional reports whether a predicate has been set.
func (s *Step) Conditional() bool {
	return s.cond != nil
}

// ShouldRun evaluates the predicate against the current context.
// Steps without a predicate always run.
func (s *Step) ShouldRun(ctx context.Context, ex *Exchange) bool {
	if s.cond == nil {
		return true
	}
	return s.cond(ctx, ex)
}

// WithRetry wraps the step's work with immediate retry.
func (s *Step) WithRetry(attempts int) *Step {
	s.inner = pipz.NewRetry(s.identity, s.inner, attempts)
	return s
}

// WithTimeout wraps the step's work with a time limit.
func (s *Step) WithTimeout(d time.Duration) *Step {
	s.inner = pipz.NewTimeout(s.identity, s.inner, d)
	return s
}

// Process implements pipz.Chainable[*Exchange]. It executes the wrapped
// work and emits started/completed/failed events around it.
func (s *Step) Process(ctx context.Context, ex *Exchange) (*Exchange, error) {
	start := time.Now()

	capitan.Emit(ctx, StepStarted,
		FieldTraceID.Field(ex.TraceID),
		FieldStepName.Field(s.name),
	)

	result, err := s.inner.Process(ctx, ex)
	duration := time.Since(start)

	if err != nil {
		capitan.Error(ctx, StepFailed,
			FieldTraceID.Field(ex.TraceID),
			FieldStepName.Field(s.name),
			FieldStepDuration.Field(duration),
			FieldError.Field(err),
		)
	} else {
		capitan.Emit(ctx, StepCompleted,
			FieldTraceID.Field(ex.TraceID),
			FieldStepName.Field(s.name),
			FieldStepDuration.Field(duration),
		)
	}

	if result == nil {
		result = ex
	}
	return result, err
}

// Name returns the step's name.
func (s *Step) Name() string {
	return s.name
}

// Identity implements pipz.Chainable[*Exchange].
func (s *Step) Identity() pipz.Identity {
	return s.identity
}

// Schema implements pipz.Chainable[*Exchange].
func (s *Step) Schema() pipz.Node {
	return pipz.Node{Identity: s.identity, Type: "step"}
}

// Close implements pipz.Chainable[*Exchange].
func (s *Step) Close() error {
	return s.inner.Close()
}

// -----------------------------------------------------------------------------
// Adapter Functions - wrap functions to create Exchange processors
// -----------------------------------------------------------------------------

// Do creates a processor from a custom function that can fail.
func Do(name string, fn RunFunc) pipz.Processor[*Exchange] {
	return pipz.Apply(pipz.NewIdentity(name, ""), fn)
}

// Transform creates a processor from a transformation that cannot fail.
func Transform(name string, fn func(context.Context, *Exchange) *Exchange) pipz.Processor[*Exchange] {
	return pipz.Transform(pipz.NewIdentity(name, ""), fn)
}

// Effect creates a processor that observes the exchange without modifying it.
func Effect(name string, fn func(context.Context, *Exchange) error) pipz.Processor[*Exchange] {
	return pipz.Effect(pipz.NewIdentity(name, ""), fn)
}

// Sequence chains processors so each receives the previous one's output.
func Sequence(name string, processors ...pipz.Chainable[*Exchange]) *pipz.Sequence[*Exchange] {
	return pipz.NewSequence(pipz.NewIdentity(name, ""), processors...)
}
