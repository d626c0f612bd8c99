// Package acetest provides test utilities for ace.
package acetest

import (
	"context"
	"sync"

	"github.com/zoobzio/ace"
)

// MemoryStateStore implements ace.StateStore in memory for testing
// without a filesystem or database.
type MemoryStateStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]map[string]string
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		sessions: make(map[string]map[string]map[string]string),
	}
}

// Save replaces one component's state for a session.
func (s *MemoryStateStore) Save(_ context.Context, session, component string, value map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[session] == nil {
		s.sessions[session] = make(map[string]map[string]string)
	}
	copied := make(map[string]string, len(value))
	for k, v := range value {
		copied[k] = v
	}
	s.sessions[session][component] = copied
	return nil
}

// Load returns one component's state for a session.
func (s *MemoryStateStore) Load(_ context.Context, session, component string) (map[string]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.sessions[session][component]
	if !ok {
		return nil, false, nil
	}
	copied := make(map[string]string, len(value))
	for k, v := range value {
		copied[k] = v
	}
	return copied, true, nil
}

// Clear removes all state for a session.
func (s *MemoryStateStore) Clear(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
	return nil
}

// Sessions lists every session with persisted state.
func (s *MemoryStateStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// MemoryArchive implements ace.Archive in memory for testing without a
// filesystem or database.
type MemoryArchive struct {
	mu    sync.Mutex
	items []ace.ContextItem

	// FailNext makes the next Load or Save return the given error once.
	FailNext error
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

// Load returns the persisted store.
func (a *MemoryArchive) Load(_ context.Context) ([]ace.ContextItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.FailNext; err != nil {
		a.FailNext = nil
		return nil, err
	}
	items := make([]ace.ContextItem, len(a.items))
	copy(items, a.items)
	return items, nil
}

// Save replaces the persisted store.
func (a *MemoryArchive) Save(_ context.Context, items []ace.ContextItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.FailNext; err != nil {
		a.FailNext = nil
		return err
	}
	a.items = make([]ace.ContextItem, len(items))
	copy(a.items, items)
	return nil
}

// Items returns the archived store for assertions.
func (a *MemoryArchive) Items() []ace.ContextItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	items := make([]ace.ContextItem, len(a.items))
	copy(items, a.items)
	return items
}

// ScriptedStep builds an ace.Step that returns each scripted outcome in
// order, repeating the last one once the script is exhausted.
type ScriptedStep struct {
	mu       sync.Mutex
	name     string
	outcomes []ace.RunFunc
	calls    int
}

// NewScriptedStep creates a scripted step from a sequence of run
// functions.
func NewScriptedStep(name string, outcomes ...ace.RunFunc) *ScriptedStep {
	return &ScriptedStep{name: name, outcomes: outcomes}
}

// Step returns the runnable ace.Step.
func (s *ScriptedStep) Step() *ace.Step {
	return ace.NewStep(s.name, func(ctx context.Context, ex *ace.Exchange) (*ace.Exchange, error) {
		s.mu.Lock()
		s.calls++
		var fn ace.RunFunc
		if len(s.outcomes) > 0 {
			idx := s.calls - 1
			if idx >= len(s.outcomes) {
				idx = len(s.outcomes) - 1
			}
			fn = s.outcomes[idx]
		}
		s.mu.Unlock()

		if fn == nil {
			return ex, nil
		}
		return fn(ctx, ex)
	})
}

// Calls reports how many times the step has run.
func (s *ScriptedStep) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var (
	_ ace.StateStore = (*MemoryStateStore)(nil)
	_ ace.Archive    = (*MemoryArchive)(nil)
)
