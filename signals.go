package ace

import "github.com/zoobzio/capitan"

// Signal definitions for engine events.
// Signals follow the pattern: ace.<entity>.<event>.
var (
	// Pipeline lifecycle signals.
	PipelineStarted = capitan.NewSignal(
		"ace.pipeline.started",
		"Query accepted and control loop entered",
	)
	PipelineCompleted = capitan.NewSignal(
		"ace.pipeline.completed",
		"Control loop finished and response assembled",
	)
	PipelineRecovered = capitan.NewSignal(
		"ace.pipeline.recovered",
		"Panic contained at the control loop boundary",
	)

	// Attempt signals.
	AttemptStarted = capitan.NewSignal(
		"ace.attempt.started",
		"Pipeline attempt began execution",
	)
	AttemptGraded = capitan.NewSignal(
		"ace.attempt.graded",
		"Quality gate produced a verdict for an attempt",
	)
	ValidationFailed = capitan.NewSignal(
		"ace.attempt.validation_failed",
		"Verdict below the gate; optimization and retry follow",
	)

	// Step execution signals.
	StepStarted = capitan.NewSignal(
		"ace.step.started",
		"Pipeline step began execution",
	)
	StepCompleted = capitan.NewSignal(
		"ace.step.completed",
		"Pipeline step finished successfully",
	)
	StepFailed = capitan.NewSignal(
		"ace.step.failed",
		"Pipeline step encountered an error",
	)
	StepSkipped = capitan.NewSignal(
		"ace.step.skipped",
		"Conditional step predicate returned false",
	)

	// Bus signals.
	HandlerFailed = capitan.NewSignal(
		"ace.bus.handler_failed",
		"Subscriber handler returned an error or panicked",
	)

	// Persistence signals.
	StateFailed = capitan.NewSignal(
		"ace.state.failed",
		"State store read or write failed; degraded to absent/no-op",
	)
	ArchiveFailed = capitan.NewSignal(
		"ace.archive.failed",
		"Curator archive load or save failed",
	)

	// Curation signals.
	ItemsCurated = capitan.NewSignal(
		"ace.curator.items_curated",
		"Delta context items appended to the learned store",
	)
	OptimizationIssued = capitan.NewSignal(
		"ace.curator.optimization_issued",
		"Retry guidance generated from validation feedback",
	)
)

// Field keys for ace event data.
var (
	// Identity.
	FieldTraceID    = capitan.NewStringKey("trace_id")
	FieldSessionKey = capitan.NewStringKey("session_key")

	// Step metadata.
	FieldStepName     = capitan.NewStringKey("step_name")
	FieldStrategy     = capitan.NewStringKey("strategy")
	FieldStepDuration = capitan.NewDurationKey("step_duration")

	// Attempt metadata.
	FieldAttempt = capitan.NewIntKey("attempt")
	FieldScore   = capitan.NewFloat32Key("score")
	FieldPassed  = capitan.NewStringKey("passed") // "true"/"false"

	// Bus metadata.
	FieldTopic  = capitan.NewStringKey("topic")
	FieldSender = capitan.NewStringKey("sender")

	// Collection sizes.
	FieldItemCount     = capitan.NewIntKey("item_count")
	FieldFeedbackCount = capitan.NewIntKey("feedback_count")
	FieldFocusAreas    = capitan.NewStringKey("focus_areas")

	// Persistence metadata.
	FieldComponent = capitan.NewStringKey("component")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)
