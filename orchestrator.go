package ace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// Strategy selects how an Orchestrator schedules its steps.
type Strategy string

const (
	// StrategySequential runs steps in list order, each observing the
	// previous steps' output.
	StrategySequential Strategy = "sequential"

	// StrategyParallel runs all steps concurrently against the same initial
	// context snapshot and merges outputs in list order.
	StrategyParallel Strategy = "parallel"

	// StrategyConditional runs steps in order, skipping any whose predicate
	// rejects the current context.
	StrategyConditional Strategy = "conditional"

	// StrategyHybrid batches consecutive unconditional steps for parallel
	// execution; a predicated step forces a synchronization point.
	StrategyHybrid Strategy = "hybrid"
)

// Orchestrator executes a named sequence of steps under one strategy over
// a shared running context. A step failure never aborts the run: it is
// caught and recorded as an error entry on the exchange.
type Orchestrator struct {
	strategy Strategy
	steps    []*Step

	// Optional wiring; both are best-effort telemetry.
	bus     *Bus
	monitor *Monitor
}

// NewOrchestrator creates an orchestrator with the given strategy.
func NewOrchestrator(strategy Strategy) *Orchestrator {
	return &Orchestrator{strategy: strategy}
}

// Add appends a step to the pipeline.
func (o *Orchestrator) Add(step *Step) *Orchestrator {
	o.steps = append(o.steps, step)
	return o
}

// WithBus publishes an agent.execute message around each step invocation.
func (o *Orchestrator) WithBus(bus *Bus) *Orchestrator {
	o.bus = bus
	return o
}

// WithMonitor records an execution metric per step invocation.
func (o *Orchestrator) WithMonitor(monitor *Monitor) *Orchestrator {
	o.monitor = monitor
	return o
}

// Strategy returns the configured strategy.
func (o *Orchestrator) Strategy() Strategy {
	return o.strategy
}

// Steps returns a copy of the registered step list.
func (o *Orchestrator) Steps() []*Step {
	steps := make([]*Step, len(o.steps))
	copy(steps, o.steps)
	return steps
}

// Execute runs the pipeline against ex and returns the final context.
// The returned error is non-nil only for an unknown strategy; step
// failures surface as error entries on the exchange.
func (o *Orchestrator) Execute(ctx context.Context, ex *Exchange) (*Exchange, error) {
	switch o.strategy {
	case StrategySequential:
		return o.executeSequential(ctx, ex), nil
	case StrategyParallel:
		return o.executeParallel(ctx, ex), nil
	case StrategyConditional:
		return o.executeConditional(ctx, ex), nil
	case StrategyHybrid:
		return o.executeHybrid(ctx, ex), nil
	default:
		return ex, fmt.Errorf("orchestrator: unknown strategy %q", o.strategy)
	}
}

// Close propagates Close to all registered steps.
func (o *Orchestrator) Close() error {
	var firstErr error
	for _, s := range o.steps {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("step %q: %w", s.name, err)
		}
	}
	return firstErr
}

func (o *Orchestrator) executeSequential(ctx context.Context, ex *Exchange) *Exchange {
	for _, step := range o.steps {
		ex = o.runIsolated(ctx, ex, step)
	}
	return ex
}

func (o *Orchestrator) executeConditional(ctx context.Context, ex *Exchange) *Exchange {
	for _, step := range o.steps {
		if !step.ShouldRun(ctx, ex) {
			capitan.Emit(ctx, StepSkipped,
				FieldTraceID.Field(ex.TraceID),
				FieldStepName.Field(step.name),
			)
			continue
		}
		ex = o.runIsolated(ctx, ex, step)
	}
	return ex
}

func (o *Orchestrator) executeParallel(ctx context.Context, ex *Exchange) *Exchange {
	o.runParallelBatch(ctx, ex, o.steps)
	return ex
}

func (o *Orchestrator) executeHybrid(ctx context.Context, ex *Exchange) *Exchange {
	var batch []*Step

	flush := func() {
		if len(batch) > 0 {
			o.runParallelBatch(ctx, ex, batch)
			batch = nil
		}
	}

	for _, step := range o.steps {
		// A predicate marks a dependency on prior results: drain the
		// pending batch, then run the step against the up-to-date context.
		if step.Conditional() {
			flush()
			ex = o.runIsolated(ctx, ex, step)
			continue
		}
		batch = append(batch, step)
	}
	flush()

	return ex
}

// runParallelBatch fans the batch out over clones of ex, joins on all
// branches, and merges each branch's own writes back into ex in list
// order so later writers win on key collision. Branches observe only the
// pre-batch context.
func (o *Orchestrator) runParallelBatch(ctx context.Context, ex *Exchange, batch []*Step) {
	if len(batch) == 0 {
		return
	}

	baseErrors := ex.ErrorCount()
	branches := make([]*Exchange, len(batch))

	var wg sync.WaitGroup
	wg.Add(len(batch))
	for i, step := range batch {
		go func(i int, step *Step) {
			defer wg.Done()
			branches[i] = o.runIsolated(ctx, ex.Clone(), step)
		}(i, step)
	}
	wg.Wait()

	for _, branch := range branches {
		ex.merge(branch, baseErrors)
	}
}

// runIsolated executes one step with uniform failure isolation: an error
// or panic becomes an error entry on the exchange, a metric on the
// monitor, and an agent.execute message on the bus.
func (o *Orchestrator) runIsolated(ctx context.Context, ex *Exchange, step *Step) *Exchange {
	start := time.Now()

	if o.bus != nil {
		o.bus.Publish(ctx, Message{
			Sender: step.name,
			Topic:  TopicAgentExecute,
			Data:   map[string]any{"step": step.name, "phase": "start"},
		})
	}

	result, err := o.processRecovering(ctx, ex, step)
	duration := time.Since(start)

	if err != nil {
		ex.AddError(step.name, err)
		if o.monitor != nil {
			o.monitor.RecordError(step.name, err, map[string]any{"trace_id": ex.TraceID})
		}
		result = ex
	}

	if o.monitor != nil {
		o.monitor.RecordExecution(step.name, duration, err == nil, map[string]any{
			"strategy": string(o.strategy),
		})
	}
	if o.bus != nil {
		o.bus.Publish(ctx, Message{
			Sender: step.name,
			Topic:  TopicAgentExecute,
			Data: map[string]any{
				"step":        step.name,
				"phase":       "end",
				"success":     err == nil,
				"duration_ms": duration.Milliseconds(),
			},
		})
	}

	if result == nil {
		result = ex
	}
	return result
}

func (o *Orchestrator) processRecovering(ctx context.Context, ex *Exchange, step *Step) (result *Exchange, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %q panicked: %v", step.name, r)
		}
	}()
	return step.Process(ctx, ex)
}
