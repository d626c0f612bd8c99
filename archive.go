package ace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// Archive persists the curator's learned store as a whole document.
type Archive interface {
	// Load returns the persisted store, or nil when none exists yet.
	Load(ctx context.Context) ([]ContextItem, error)
	// Save replaces the persisted store with items.
	Save(ctx context.Context, items []ContextItem) error
}

// FileArchive stores the learned store as a JSON document on disk.
type FileArchive struct {
	mu   sync.Mutex
	path string
}

// NewFileArchive creates a file-backed archive at path. The file and its
// parent directories are created on first Save.
func NewFileArchive(path string) *FileArchive {
	return &FileArchive{path: path}
}

// Load reads the store from disk. A missing file is not an error: it
// means no store has been persisted yet.
func (a *FileArchive) Load(_ context.Context) ([]ContextItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: failed to read %s: %w", a.path, err)
	}

	var items []ContextItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("archive: failed to decode %s: %w", a.path, err)
	}
	return items, nil
}

// Save writes the store to disk atomically via a sibling temp file.
func (a *FileArchive) Save(_ context.Context, items []ContextItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if items == nil {
		items = []ContextItem{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: failed to encode store: %w", err)
	}

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("archive: failed to create %s: %w", dir, err)
		}
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("archive: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("archive: failed to replace %s: %w", a.path, err)
	}
	return nil
}

// archiveRecord is the database row for one named learned store. Items
// holds the whole document as JSON.
type archiveRecord struct {
	ID      string    `db:"id" type:"uuid" constraints:"primarykey"`
	Store   string    `db:"store" type:"text" constraints:"notnull"`
	Items   string    `db:"items" type:"jsonb" constraints:"notnull"`
	Updated time.Time `db:"updated" type:"timestamptz" constraints:"notnull"`
}

// SoyArchive stores the learned store as a single jsonb row, keyed by a
// store name so multiple engines can share one database.
type SoyArchive struct {
	records *soy.Soy[archiveRecord]
	store   string
	db      *sqlx.DB
}

// NewSoyArchive creates a soy-backed archive for the named store.
func NewSoyArchive(db *sqlx.DB, store string) (*SoyArchive, error) {
	records, err := soy.New[archiveRecord](db, "context_archives", postgres.New())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context_archives table: %w", err)
	}
	return &SoyArchive{
		records: records,
		store:   store,
		db:      db,
	}, nil
}

// Load reads the named store's row. An absent row means no store has
// been persisted yet.
func (a *SoyArchive) Load(ctx context.Context) ([]ContextItem, error) {
	rows, err := a.records.Query().
		Where("store", "=", "store").
		Exec(ctx, map[string]any{"store": a.store})
	if err != nil {
		return nil, fmt.Errorf("failed to load archive %q: %w", a.store, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var items []ContextItem
	if err := json.Unmarshal([]byte(rows[0].Items), &items); err != nil {
		return nil, fmt.Errorf("failed to decode archive %q: %w", a.store, err)
	}
	return items, nil
}

// Save replaces the named store's row.
func (a *SoyArchive) Save(ctx context.Context, items []ContextItem) error {
	if items == nil {
		items = []ContextItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode archive %q: %w", a.store, err)
	}

	_, err = a.records.Remove().
		Where("store", "=", "store").
		Exec(ctx, map[string]any{"store": a.store})
	if err != nil {
		return fmt.Errorf("failed to clear archive %q: %w", a.store, err)
	}

	_, err = a.records.Insert().Exec(ctx, &archiveRecord{
		ID:      uuid.New().String(),
		Store:   a.store,
		Items:   string(data),
		Updated: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save archive %q: %w", a.store, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (a *SoyArchive) Close() error {
	return a.db.Close()
}

var (
	_ Archive = (*FileArchive)(nil)
	_ Archive = (*SoyArchive)(nil)
)
