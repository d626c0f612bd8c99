// Package ace provides an adaptive orchestration and learning control plane
// for agent pipelines in Go.
//
// ace runs a named sequence of interchangeable agent steps (keyword
// extraction, retrieval, target selection, drafting - supplied by the
// caller) to answer a query, grades the result against a configurable
// quality gate, and retries with revised guidance when the grade is
// insufficient. Across attempts and across queries it accumulates durable
// context items (successful patterns and improvement strategies) that are
// rendered back into the steps' guidance, so the system learns operational
// heuristics without retraining any model.
//
// # Core Types
//
//   - [Exchange] - The per-query running context steps read and write
//   - [Step] - A named unit of work with an optional run predicate
//   - [Orchestrator] - Executes steps under one of four strategies
//   - [Engine] - The control loop: attempt, grade, optimize, retry, learn
//
// # Components
//
// Infrastructure:
//   - [Bus] - Topic pub/sub with bounded message history
//   - [Monitor] - Per-step execution metrics and error records
//   - [StateStore] - Durable per-(session, component) records
//
// Quality and learning:
//   - [Checker] - Pure rule-driven quality gate producing a [Verdict]
//   - [Curator] - Learning engine: Generate, Reflect, Curate, Optimize
//   - [Archive] - Repository behind the curator's persisted store
//
// # Building a Pipeline
//
// Steps wrap any function over an Exchange:
//
//	extract := ace.NewStep("extract_keywords", func(ctx context.Context, ex *ace.Exchange) (*ace.Exchange, error) {
//	    ex.Set(ace.KeyKeywords, tokenize(ex.Query))
//	    return ex, nil
//	})
//
//	pipeline := ace.NewOrchestrator(ace.StrategyHybrid).
//	    Add(extract).
//	    Add(retrieve).
//	    Add(selectTarget.When(hasResults)).
//	    Add(draft.When(hasTarget))
//
// # Running the Engine
//
//	engine := ace.NewEngine(pipeline, curator).
//	    WithStateStore(store).
//	    WithMaxRetries(3)
//	resp := engine.Run(ctx, ace.Request{Query: q, SessionKey: id, Profile: profile})
//
// The engine never panics past its boundary: callers always receive a
// structured [Response], with Error populated on total failure.
//
// # LLM-Backed Steps
//
// [NewSynapseStep] builds a domain step from a zyn Transform synapse, with
// provider resolution (step, context, then global via [SetProvider]). The
// curator's accumulated instructions and any retry guidance are folded into
// the synapse input automatically.
//
// # Persistence
//
// File-backed ([FileStateStore], [FileArchive]) and Postgres-backed
// ([SoyStateStore], [SoyArchive]) implementations ship in the box; both
// sides of each interface are best-effort - storage failures degrade to
// absent reads and logged no-op writes, never aborting a run.
//
// # Observability
//
// ace emits capitan signals throughout execution. See signals.go for the
// complete list including PipelineStarted, AttemptGraded, ValidationFailed,
// StepStarted, StepCompleted, and StepFailed.
package ace
