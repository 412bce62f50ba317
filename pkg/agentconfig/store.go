package agentconfig

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one persisted configuration row. Identity is (Provider, Name).
type Record struct {
	ID         string
	Provider   string
	Name       string
	IsDefault  bool
	ConfigJSON string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the persistence contract the Manager reads through. The SQLite
// implementation lives in internal/configstore; MemoryStore backs tests and
// environments without a database.
type Store interface {
	// Get returns the record for (provider, name). Missing records return
	// an error wrapping ErrNotFound.
	Get(ctx context.Context, provider, name string) (Record, error)

	// GetDefault returns the record flagged default for the provider.
	GetDefault(ctx context.Context, provider string) (Record, error)

	// Upsert inserts or replaces by (provider, name) and returns the
	// stored record. The upsert is idempotent.
	Upsert(ctx context.Context, rec Record) (Record, error)

	// Delete removes (provider, name). It returns false, not an error,
	// when the target does not exist.
	Delete(ctx context.Context, provider, name string) (bool, error)

	// ClearDefaults unsets the default flag on every record for provider.
	ClearDefaults(ctx context.Context, provider string) error

	// List returns all records for provider.
	List(ctx context.Context, provider string) ([]Record, error)

	// ListProviders returns the distinct providers with at least one
	// stored record.
	ListProviders(ctx context.Context) ([]string, error)

	// Close releases the backing resources.
	Close() error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record // keyed provider:name
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func storeKey(provider, name string) string { return provider + ":" + name }

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, provider, name string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[storeKey(provider, name)]
	if !ok {
		return Record{}, fmt.Errorf("%s/%s: %w", provider, name, ErrNotFound)
	}
	return rec, nil
}

// GetDefault implements Store.
func (m *MemoryStore) GetDefault(ctx context.Context, provider string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.Provider == provider && rec.IsDefault {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%s: no default: %w", provider, ErrNotFound)
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storeKey(rec.Provider, rec.Name)
	now := time.Now().UTC()
	if existing, ok := m.records[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.records[key] = rec
	return rec, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, provider, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey(provider, name)
	if _, ok := m.records[key]; !ok {
		return false, nil
	}
	delete(m.records, key)
	return true, nil
}

// ClearDefaults implements Store.
func (m *MemoryStore) ClearDefaults(ctx context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.Provider == provider && rec.IsDefault {
			rec.IsDefault = false
			m.records[key] = rec
		}
	}
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, provider string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.records {
		if rec.Provider == provider {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListProviders implements Store.
func (m *MemoryStore) ListProviders(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, rec := range m.records {
		if !seen[rec.Provider] {
			seen[rec.Provider] = true
			out = append(out, rec.Provider)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
