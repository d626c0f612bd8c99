package ace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// StateStore persists per-session component state across pipeline runs.
// Values are flat string maps keyed by (session, component).
type StateStore interface {
	// Save replaces one component's state for a session.
	Save(ctx context.Context, session, component string, value map[string]string) error
	// Load returns one component's state. The bool reports whether any
	// state was found; absence is not an error.
	Load(ctx context.Context, session, component string) (map[string]string, bool, error)
	// Clear removes all state for a session.
	Clear(ctx context.Context, session string) error
	// Sessions lists every session with persisted state.
	Sessions(ctx context.Context) ([]string, error)
}

// FileStateStore keeps one JSON file per session under a directory. Each
// file maps component name to that component's state.
type FileStateStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStateStore creates a file-backed store rooted at dir.
func NewFileStateStore(dir string) *FileStateStore {
	return &FileStateStore{dir: dir}
}

func (s *FileStateStore) sessionPath(session string) string {
	return filepath.Join(s.dir, session+".json")
}

func (s *FileStateStore) readSession(session string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.sessionPath(session))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]string{}, nil
		}
		return nil, fmt.Errorf("state: failed to read session %q: %w", session, err)
	}

	var state map[string]map[string]string
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("state: failed to decode session %q: %w", session, err)
	}
	return state, nil
}

// Save replaces one component's state for a session.
func (s *FileStateStore) Save(_ context.Context, session, component string, value map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.readSession(session)
	if err != nil {
		return err
	}
	state[component] = value

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("state: failed to encode session %q: %w", session, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("state: failed to create %s: %w", s.dir, err)
	}

	path := s.sessionPath(session)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: failed to replace %s: %w", path, err)
	}
	return nil
}

// Load returns one component's state for a session.
func (s *FileStateStore) Load(_ context.Context, session, component string) (map[string]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.readSession(session)
	if err != nil {
		return nil, false, err
	}
	value, ok := state[component]
	return value, ok, nil
}

// Clear removes a session's file. A missing file is a no-op.
func (s *FileStateStore) Clear(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(session)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: failed to clear session %q: %w", session, err)
	}
	return nil
}

// Sessions lists sessions with persisted state, sorted.
func (s *FileStateStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: failed to list %s: %w", s.dir, err)
	}

	var sessions []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// stateRecord is the database row for one (session, component) pair.
type stateRecord struct {
	ID        string    `db:"id" type:"uuid" constraints:"primarykey"`
	Session   string    `db:"session" type:"text" constraints:"notnull"`
	Component string    `db:"component" type:"text" constraints:"notnull"`
	Value     string    `db:"value" type:"jsonb" constraints:"notnull"`
	Updated   time.Time `db:"updated" type:"timestamptz" constraints:"notnull"`
}

// SoyStateStore persists session state in Postgres, one row per
// (session, component), upserted as remove-then-insert.
type SoyStateStore struct {
	states *soy.Soy[stateRecord]
	db     *sqlx.DB
}

// NewSoyStateStore creates a soy-backed state store.
func NewSoyStateStore(db *sqlx.DB) (*SoyStateStore, error) {
	states, err := soy.New[stateRecord](db, "session_states", postgres.New())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session_states table: %w", err)
	}
	return &SoyStateStore{states: states, db: db}, nil
}

// Save replaces one component's state for a session.
func (s *SoyStateStore) Save(ctx context.Context, session, component string, value map[string]string) error {
	if value == nil {
		value = map[string]string{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode state %s/%s: %w", session, component, err)
	}

	_, err = s.states.Remove().
		Where("session", "=", "session").
		Where("component", "=", "component").
		Exec(ctx, map[string]any{"session": session, "component": component})
	if err != nil {
		return fmt.Errorf("failed to clear state %s/%s: %w", session, component, err)
	}

	_, err = s.states.Insert().Exec(ctx, &stateRecord{
		ID:        uuid.New().String(),
		Session:   session,
		Component: component,
		Value:     string(data),
		Updated:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save state %s/%s: %w", session, component, err)
	}
	return nil
}

// Load returns one component's state for a session.
func (s *SoyStateStore) Load(ctx context.Context, session, component string) (map[string]string, bool, error) {
	rows, err := s.states.Query().
		Where("session", "=", "session").
		Where("component", "=", "component").
		Exec(ctx, map[string]any{"session": session, "component": component})
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state %s/%s: %w", session, component, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	var value map[string]string
	if err := json.Unmarshal([]byte(rows[0].Value), &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode state %s/%s: %w", session, component, err)
	}
	return value, true, nil
}

// Clear removes all state for a session.
func (s *SoyStateStore) Clear(ctx context.Context, session string) error {
	_, err := s.states.Remove().
		Where("session", "=", "session").
		Exec(ctx, map[string]any{"session": session})
	if err != nil {
		return fmt.Errorf("failed to clear session %q: %w", session, err)
	}
	return nil
}

// Sessions lists sessions with persisted state, sorted.
func (s *SoyStateStore) Sessions(ctx context.Context) ([]string, error) {
	var sessions []string
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT DISTINCT session FROM session_states ORDER BY session")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the underlying database connection.
func (s *SoyStateStore) Close() error {
	return s.db.Close()
}

var (
	_ StateStore = (*FileStateStore)(nil)
	_ StateStore = (*SoyStateStore)(nil)
)
