package ace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zoobzio/zyn"
)

// DefaultSynapseTemperature is used by LLM-backed steps when no
// temperature override is given.
var DefaultSynapseTemperature = zyn.DefaultTemperatureDeterministic

// Provider is the LLM backend a synapse step fires against. The signature
// matches zyn's provider contract, so any zyn-compatible backend plugs in
// unchanged.
type Provider interface {
	Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error)
	Name() string
}

type providerCtxKey struct{}

// Process-wide fallback, consulted last during resolution.
var (
	defaultProvider   Provider
	defaultProviderMu sync.RWMutex
)

// ErrNoProvider is returned when a synapse step fires with no provider
// configured at any level.
var ErrNoProvider = errors.New("no provider configured: set via context, step-level, or global")

// SetProvider installs the process-wide fallback provider.
func SetProvider(p Provider) {
	defaultProviderMu.Lock()
	defer defaultProviderMu.Unlock()
	defaultProvider = p
}

// GetProvider returns the process-wide fallback provider, if set.
func GetProvider() Provider {
	defaultProviderMu.RLock()
	defer defaultProviderMu.RUnlock()
	return defaultProvider
}

// WithProvider returns a context carrying p for the steps executed under
// it. A context provider takes priority over the process-wide fallback,
// which makes it the natural scope for per-request backends.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerCtxKey{}, p)
}

// ProviderFromContext retrieves the provider carried on ctx, if any.
func ProviderFromContext(ctx context.Context) (Provider, bool) {
	p, ok := ctx.Value(providerCtxKey{}).(Provider)
	return p, ok
}

// ResolveProvider picks the backend for one synapse firing. The step's own
// provider wins, then the context's, then the process-wide fallback;
// ErrNoProvider when all three are absent.
func ResolveProvider(ctx context.Context, stepProvider Provider) (Provider, error) {
	if stepProvider != nil {
		return stepProvider, nil
	}
	if p, ok := ProviderFromContext(ctx); ok {
		return p, nil
	}
	if p := GetProvider(); p != nil {
		return p, nil
	}
	return nil, ErrNoProvider
}

type synapseConfig struct {
	provider    Provider
	temperature float32
}

// SynapseOption configures an LLM-backed step.
type SynapseOption func(*synapseConfig)

// WithSynapseProvider sets a step-level provider, taking priority over
// context and global providers.
func WithSynapseProvider(p Provider) SynapseOption {
	return func(c *synapseConfig) { c.provider = p }
}

// WithSynapseTemperature overrides the synapse temperature.
func WithSynapseTemperature(t float32) SynapseOption {
	return func(c *synapseConfig) { c.temperature = t }
}

// NewSynapseStep creates a pipeline step that fires a zyn transform
// synapse and stores the result under outputKey. The synapse sees the
// query as its text, styled by prompt, with the exchange's learned
// instructions, retry guidance, and accumulated domain values as context.
// The exchange's session carries conversation state across synapse steps
// within one attempt.
func NewSynapseStep(name, prompt, outputKey string, opts ...SynapseOption) *Step {
	cfg := synapseConfig{temperature: DefaultSynapseTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}

	return NewStep(name, func(ctx context.Context, ex *Exchange) (*Exchange, error) {
		provider, err := ResolveProvider(ctx, cfg.provider)
		if err != nil {
			return ex, fmt.Errorf("%s: %w", name, err)
		}

		synapse, err := zyn.Transform(prompt, provider)
		if err != nil {
			return ex, fmt.Errorf("%s: failed to create transform synapse: %w", name, err)
		}

		result, err := synapse.FireWithInput(ctx, ex.Session, zyn.TransformInput{
			Text:        ex.Query,
			Context:     buildSynapseContext(ex),
			Style:       prompt,
			Temperature: cfg.temperature,
		})
		if err != nil {
			return ex, fmt.Errorf("%s: transform synapse execution failed: %w", name, err)
		}

		ex.Set(outputKey, result)
		return ex, nil
	})
}

// buildSynapseContext folds the engine-seeded guidance and the domain
// values accumulated so far into one context block.
func buildSynapseContext(ex *Exchange) string {
	var sections []string

	if instructions := ex.GetString(KeyInstructions); instructions != "" {
		sections = append(sections, instructions)
	}
	if optimization := ex.GetString(KeyOptimization); optimization != "" {
		sections = append(sections, optimization)
	}
	if values := ex.RenderValues(); values != "" {
		sections = append(sections, values)
	}

	return strings.Join(sections, "\n\n")
}
