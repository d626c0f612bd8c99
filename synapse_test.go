package ace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/zoobzio/zyn"
)

// mockTransformProvider implements Provider for testing synapse steps.
// It answers every call with a canned Transform response and records the
// prompts it saw.
type mockTransformProvider struct {
	mu     sync.Mutex
	name   string
	output string
	seen   []string
	fail   bool
}

func (m *mockTransformProvider) Call(_ context.Context, messages []zyn.Message, _ float32) (*zyn.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return nil, errors.New("provider unavailable")
	}
	if len(messages) == 0 {
		return nil, errors.New("no messages provided")
	}
	m.seen = append(m.seen, messages[len(messages)-1].Content)

	return &zyn.ProviderResponse{
		Content: fmt.Sprintf(`{"output": %q, "confidence": 0.9, "changes": ["rewrote"], "reasoning": ["canned"]}`, m.output),
		Usage: zyn.TokenUsage{
			Prompt:     10,
			Completion: 20,
			Total:      30,
		},
	}, nil
}

func (m *mockTransformProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockTransformProvider) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return ""
	}
	return m.seen[len(m.seen)-1]
}

func TestResolveProviderOrder(t *testing.T) {
	t.Cleanup(func() { SetProvider(nil) })

	stepLevel := &mockTransformProvider{name: "step"}
	ctxLevel := &mockTransformProvider{name: "ctx"}
	global := &mockTransformProvider{name: "global"}

	// Nothing configured.
	SetProvider(nil)
	if _, err := ResolveProvider(context.Background(), nil); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}

	// Global only.
	SetProvider(global)
	p, err := ResolveProvider(context.Background(), nil)
	if err != nil || p.Name() != "global" {
		t.Errorf("expected global provider, got %v (%v)", p, err)
	}

	// Context beats global.
	ctx := WithProvider(context.Background(), ctxLevel)
	p, err = ResolveProvider(ctx, nil)
	if err != nil || p.Name() != "ctx" {
		t.Errorf("expected context provider, got %v (%v)", p, err)
	}

	// Step level beats both.
	p, err = ResolveProvider(ctx, stepLevel)
	if err != nil || p.Name() != "step" {
		t.Errorf("expected step provider, got %v (%v)", p, err)
	}
}

func TestSynapseStepStoresOutput(t *testing.T) {
	provider := &mockTransformProvider{output: "## Contact\nReach Dana via mailto:dana@example.com"}
	step := NewSynapseStep("draft_response", "Draft a helpful answer", KeyResponse,
		WithSynapseProvider(provider))

	ex := NewExchange("who handles onboarding?", Profile{Role: "engineer"})
	result, err := step.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := result.GetString(KeyResponse); !strings.Contains(got, "mailto:dana@example.com") {
		t.Errorf("expected synapse output stored under %q, got %q", KeyResponse, got)
	}
}

func TestSynapseStepFoldsGuidanceIntoPrompt(t *testing.T) {
	provider := &mockTransformProvider{output: "ok"}
	step := NewSynapseStep("draft_response", "Draft a helpful answer", KeyResponse,
		WithSynapseProvider(provider))

	ex := NewExchange("who handles onboarding?", Profile{})
	ex.Set(KeyInstructions, "# Context Engineering Instructions\n- [0.85] prefer complete contacts")
	ex.Set(KeyOptimization, "Retrieval guidance: prioritize complete target information")
	ex.Set(KeyKeywords, []string{"onboarding"})

	if _, err := step.Process(context.Background(), ex); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := provider.lastPrompt()
	if !strings.Contains(prompt, "prefer complete contacts") {
		t.Errorf("expected learned instructions in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "prioritize complete target information") {
		t.Errorf("expected optimization guidance in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "who handles onboarding?") {
		t.Errorf("expected query text in prompt, got %q", prompt)
	}
}

func TestSynapseStepContextProvider(t *testing.T) {
	provider := &mockTransformProvider{output: "via context"}
	step := NewSynapseStep("extract", "Extract keywords", KeyKeywords)

	ctx := WithProvider(context.Background(), provider)
	ex := NewExchange("q", Profile{})
	if _, err := step.Process(ctx, ex); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ex.GetString(KeyKeywords); got != "via context" {
		t.Errorf("expected context provider output, got %q", got)
	}
}

func TestSynapseStepNoProvider(t *testing.T) {
	t.Cleanup(func() { SetProvider(nil) })
	SetProvider(nil)

	step := NewSynapseStep("draft", "Draft", KeyResponse)
	_, err := step.Process(context.Background(), NewExchange("q", Profile{}))
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

func TestSynapseStepProviderFailure(t *testing.T) {
	provider := &mockTransformProvider{fail: true}
	step := NewSynapseStep("draft", "Draft", KeyResponse,
		WithSynapseProvider(provider))

	ex := NewExchange("q", Profile{})
	_, err := step.Process(context.Background(), ex)
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if _, ok := ex.Get(KeyResponse); ok {
		t.Error("expected no output stored on failure")
	}
}
