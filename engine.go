package ace

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Metric names the engine records on its monitor alongside per-step
// metrics.
const (
	MetricMainPipeline = "main_pipeline"
	MetricQualityCheck = "quality_check"
)

// stateComponent keys the engine's own session state in the StateStore.
const stateComponent = "pipeline"

// Request is one query submitted to the engine.
type Request struct {
	Query   string
	Profile Profile

	// SessionKey groups runs into a session for state continuity.
	// Auto-generated when empty.
	SessionKey string
}

// Debug exposes the final attempt's intermediate artifacts.
type Debug struct {
	TraceID        string      `json:"trace_id"`
	Keywords       []string    `json:"keywords,omitempty"`
	Target         Target      `json:"target"`
	Summaries      []Retrieved `json:"summaries,omitempty"`
	TacitKnowledge []Retrieved `json:"tacit_knowledge,omitempty"`
	StepErrors     []StepError `json:"step_errors,omitempty"`
}

// Validation reports the quality gate's outcome across the attempt loop.
type Validation struct {
	IsGood              bool           `json:"is_good"`
	Score               float64        `json:"score"`
	Feedback            []string       `json:"feedback,omitempty"`
	AttemptsUsed        int            `json:"attempts_used"`
	OptimizationHistory []Optimization `json:"optimization_history,omitempty"`
}

// Learning reports what the run contributed to the learned store.
type Learning struct {
	InstructionsApplied bool    `json:"instructions_applied"`
	ReflectedScore      float64 `json:"reflected_score"`
	PatternCount        int     `json:"pattern_count"`
	SuggestionCount     int     `json:"suggestion_count"`
	ItemsAdded          int     `json:"items_added"`
}

// Performance reports run-level timing and state continuity.
type Performance struct {
	Duration        time.Duration `json:"duration"`
	PriorStateFound bool          `json:"prior_state_found"`
}

// Response is the engine's complete answer to one Request.
type Response struct {
	Result      string      `json:"result"`
	SessionKey  string      `json:"session_key"`
	Debug       Debug       `json:"debug"`
	Validation  Validation  `json:"validation"`
	Learning    Learning    `json:"learning"`
	Performance Performance `json:"performance"`

	// Error is set only when the run itself failed (e.g. a contained
	// panic); step failures surface in Debug.StepErrors instead.
	Error string `json:"error,omitempty"`
}

// Engine is the control plane: it drives the attempt/grade/retry loop
// over a domain orchestrator, wires the bus and monitor through every
// layer, learns from each run via the curator, and persists session
// state. Run never panics outward and never returns a nil Response.
type Engine struct {
	orchestrator *Orchestrator
	curator      *Curator
	checker      *Checker
	bus          *Bus
	monitor      *Monitor
	state        StateStore
	maxRetries   int
}

// NewEngine creates an engine around a domain orchestrator and a curator.
// A fresh bus, monitor, and default checker are created and wired into
// the orchestrator; state persistence is off until WithStateStore.
func NewEngine(orchestrator *Orchestrator, curator *Curator) *Engine {
	e := &Engine{
		orchestrator: orchestrator,
		curator:      curator,
		checker:      NewChecker(),
		bus:          NewBus(),
		monitor:      NewMonitor(),
		maxRetries:   DefaultMaxRetries,
	}
	orchestrator.WithBus(e.bus).WithMonitor(e.monitor)
	return e
}

// WithBus replaces the engine's bus and rewires the orchestrator.
func (e *Engine) WithBus(bus *Bus) *Engine {
	e.bus = bus
	e.orchestrator.WithBus(bus)
	return e
}

// WithMonitor replaces the engine's monitor and rewires the orchestrator.
func (e *Engine) WithMonitor(monitor *Monitor) *Engine {
	e.monitor = monitor
	e.orchestrator.WithMonitor(monitor)
	return e
}

// WithChecker replaces the quality gate.
func (e *Engine) WithChecker(checker *Checker) *Engine {
	e.checker = checker
	return e
}

// WithStateStore enables session state persistence.
func (e *Engine) WithStateStore(state StateStore) *Engine {
	e.state = state
	return e
}

// WithMaxRetries bounds the attempt loop. Values below 1 are ignored.
func (e *Engine) WithMaxRetries(n int) *Engine {
	if n >= 1 {
		e.maxRetries = n
	}
	return e
}

// Bus returns the engine's bus.
func (e *Engine) Bus() *Bus { return e.bus }

// Monitor returns the engine's monitor.
func (e *Engine) Monitor() *Monitor { return e.monitor }

// Checker returns the engine's quality gate.
func (e *Engine) Checker() *Checker { return e.checker }

// Curator returns the engine's curator.
func (e *Engine) Curator() *Curator { return e.curator }

// Close releases the orchestrator's steps.
func (e *Engine) Close() error {
	return e.orchestrator.Close()
}

// Run executes the full control loop for one request: attempt the
// pipeline, grade the draft, optimize and retry while the gate fails and
// attempts remain, then learn from the final outcome and persist session
// state. A panic anywhere inside is contained and reported as a
// structured error response.
func (e *Engine) Run(ctx context.Context, req Request) (resp *Response) {
	start := time.Now()

	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = uuid.New().String()
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panicked: %v", r)
			e.monitor.RecordError(MetricMainPipeline, err, map[string]any{
				"session_key": sessionKey,
			})
			capitan.Error(ctx, PipelineRecovered,
				FieldSessionKey.Field(sessionKey),
				FieldError.Field(err),
			)
			resp = &Response{
				SessionKey:  sessionKey,
				Error:       err.Error(),
				Performance: Performance{Duration: time.Since(start)},
			}
		}
	}()

	capitan.Emit(ctx, PipelineStarted,
		FieldSessionKey.Field(sessionKey),
	)
	e.bus.Publish(ctx, Message{
		Sender: "engine",
		Topic:  TopicPipelineStart,
		Data:   map[string]any{"query": req.Query, "session_key": sessionKey},
	})

	priorState, priorFound := e.loadPriorState(ctx, sessionKey)
	instructions := e.curator.Instructions(req.Query, req.Profile)

	var (
		ex           *Exchange
		verdict      Verdict
		optimization string
		history      []Optimization
		attempts     int
	)

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		attempts = attempt
		ex = e.seedExchange(req, sessionKey, attempt, instructions, optimization, priorState, priorFound)

		capitan.Emit(ctx, AttemptStarted,
			FieldTraceID.Field(ex.TraceID),
			FieldSessionKey.Field(sessionKey),
			FieldAttempt.Field(attempt),
		)

		result, err := e.orchestrator.Execute(ctx, ex)
		if err != nil {
			ex.AddError("orchestrator", err)
		} else {
			ex = result
		}

		checkStart := time.Now()
		verdict = e.checker.Check(ex.GetString(KeyResponse), ex.Intermediate(), req.Query, req.Profile)
		e.monitor.RecordExecution(MetricQualityCheck, time.Since(checkStart), verdict.IsGood, map[string]any{
			"attempt": attempt,
		})

		capitan.Emit(ctx, AttemptGraded,
			FieldTraceID.Field(ex.TraceID),
			FieldAttempt.Field(attempt),
			FieldScore.Field(float32(verdict.Score)),
			FieldPassed.Field(strconv.FormatBool(verdict.IsGood)),
		)

		if verdict.IsGood || attempt == e.maxRetries {
			break
		}

		capitan.Emit(ctx, ValidationFailed,
			FieldTraceID.Field(ex.TraceID),
			FieldAttempt.Field(attempt),
			FieldScore.Field(float32(verdict.Score)),
			FieldFeedbackCount.Field(len(verdict.Feedback)),
		)
		e.bus.Publish(ctx, Message{
			Sender: "engine",
			Topic:  TopicValidationFailed,
			Data: map[string]any{
				"attempt":  attempt,
				"score":    verdict.Score,
				"feedback": verdict.Feedback,
			},
		})

		obs := e.observe(req, ex)
		opt, err := e.curator.Optimize(ctx, obs, verdict.Feedback, ex.Intermediate(), attempt)
		if err != nil {
			capitan.Error(ctx, ArchiveFailed,
				FieldSessionKey.Field(sessionKey),
				FieldError.Field(err),
			)
		}
		history = append(history, opt)
		optimization = opt.Render()

		// Refresh: the optimization attempt may shift the rendered store.
		instructions = e.curator.Instructions(req.Query, req.Profile)
	}

	// Learn from the final attempt regardless of outcome.
	obs := e.observe(req, ex)
	insights := e.curator.Reflect(obs, ex.GetString(KeyResponse), time.Since(start))
	deltas, err := e.curator.Curate(ctx, insights)
	if err != nil {
		capitan.Error(ctx, ArchiveFailed,
			FieldSessionKey.Field(sessionKey),
			FieldError.Field(err),
		)
	}

	e.savePipelineState(ctx, sessionKey, ex, verdict, attempts)

	duration := time.Since(start)
	e.bus.Publish(ctx, Message{
		Sender: "engine",
		Topic:  TopicPipelineComplete,
		Data: map[string]any{
			"session_key": sessionKey,
			"success":     verdict.IsGood,
			"attempts":    attempts,
			"score":       verdict.Score,
		},
	})
	e.monitor.RecordExecution(MetricMainPipeline, duration, verdict.IsGood, map[string]any{
		"attempts": attempts,
	})
	capitan.Emit(ctx, PipelineCompleted,
		FieldTraceID.Field(ex.TraceID),
		FieldSessionKey.Field(sessionKey),
		FieldAttempt.Field(attempts),
		FieldScore.Field(float32(verdict.Score)),
		FieldPassed.Field(strconv.FormatBool(verdict.IsGood)),
		FieldStepDuration.Field(duration),
	)

	inter := ex.Intermediate()
	return &Response{
		Result:     ex.GetString(KeyResponse),
		SessionKey: sessionKey,
		Debug: Debug{
			TraceID:        ex.TraceID,
			Keywords:       ex.GetStrings(KeyKeywords),
			Target:         inter.Target,
			Summaries:      inter.Summaries,
			TacitKnowledge: inter.TacitKnowledge,
			StepErrors:     ex.Errors(),
		},
		Validation: Validation{
			IsGood:              verdict.IsGood,
			Score:               verdict.Score,
			Feedback:            verdict.Feedback,
			AttemptsUsed:        attempts,
			OptimizationHistory: history,
		},
		Learning: Learning{
			InstructionsApplied: instructions != "",
			ReflectedScore:      insights.Quality.OverallScore,
			PatternCount:        len(insights.Patterns),
			SuggestionCount:     len(insights.Suggestions),
			ItemsAdded:          len(deltas),
		},
		Performance: Performance{
			Duration:        duration,
			PriorStateFound: priorFound,
		},
	}
}

// seedExchange builds the fresh running context for one attempt.
func (e *Engine) seedExchange(req Request, sessionKey string, attempt int, instructions, optimization string, priorState map[string]string, priorFound bool) *Exchange {
	ex := NewExchange(req.Query, req.Profile)
	ex.SessionKey = sessionKey
	ex.Set(KeyAttempt, attempt)
	if instructions != "" {
		ex.Set(KeyInstructions, instructions)
	}
	if optimization != "" {
		ex.Set(KeyOptimization, optimization)
	}
	if priorFound {
		ex.Set(KeyPriorState, priorState)
	}
	return ex
}

// observe projects the final exchange into a curator observation.
func (e *Engine) observe(req Request, ex *Exchange) Observation {
	return e.curator.Generate(
		req.Query,
		req.Profile,
		ex.GetStrings(KeyKeywords),
		ex.GetRetrieved(KeyResults),
		ex.GetRetrieved(KeyTacitResults),
		ex.Intermediate(),
	)
}

// loadPriorState fetches the previous run's state. Failures degrade to
// absent and are logged.
func (e *Engine) loadPriorState(ctx context.Context, sessionKey string) (map[string]string, bool) {
	if e.state == nil {
		return nil, false
	}
	value, found, err := e.state.Load(ctx, sessionKey, stateComponent)
	if err != nil {
		capitan.Error(ctx, StateFailed,
			FieldSessionKey.Field(sessionKey),
			FieldComponent.Field(stateComponent),
			FieldError.Field(err),
		)
		return nil, false
	}
	return value, found
}

// savePipelineState persists the run summary for the next session run.
// Failures are logged, never fatal.
func (e *Engine) savePipelineState(ctx context.Context, sessionKey string, ex *Exchange, verdict Verdict, attempts int) {
	if e.state == nil {
		return
	}
	err := e.state.Save(ctx, sessionKey, stateComponent, map[string]string{
		"last_keywords": strings.Join(ex.GetStrings(KeyKeywords), ","),
		"last_target":   ex.Intermediate().Target.Name,
		"final_score":   fmt.Sprintf("%.2f", verdict.Score),
		"attempts":      strconv.Itoa(attempts),
		"timestamp":     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		capitan.Error(ctx, StateFailed,
			FieldSessionKey.Field(sessionKey),
			FieldComponent.Field(stateComponent),
			FieldError.Field(err),
		)
	}
}
