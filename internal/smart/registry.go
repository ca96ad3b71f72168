package smart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ErrApplicationNotFound is returned by registry lookups for unknown keys.
var ErrApplicationNotFound = errors.New("application not found")

// ApplicationRegistry resolves registered SMART applications. Lookups take a
// context so database-backed implementations can honor cancellation.
type ApplicationRegistry interface {
	// Lookup resolves an application by its registry key.
	Lookup(ctx context.Context, key string) (*Application, error)

	// LookupByClientID resolves an application by its OAuth client_id.
	LookupByClientID(ctx context.Context, clientID string) (*Application, error)

	// List returns all registered applications, ordered by key.
	List(ctx context.Context) ([]*Application, error)
}

// MemoryRegistry is an in-memory ApplicationRegistry. It backs both tests
// and file-based deployments.
type MemoryRegistry struct {
	mu   sync.RWMutex
	apps map[string]*Application
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{apps: make(map[string]*Application)}
}

// Add registers an application, replacing any previous registration with
// the same key.
func (r *MemoryRegistry) Add(app *Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.Key] = app
}

// Lookup implements ApplicationRegistry.
func (r *MemoryRegistry) Lookup(_ context.Context, key string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[key]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", key, ErrApplicationNotFound)
	}
	return app, nil
}

// LookupByClientID implements ApplicationRegistry.
func (r *MemoryRegistry) LookupByClientID(_ context.Context, clientID string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, app := range r.apps {
		if app.ClientID == clientID {
			return app, nil
		}
	}
	return nil, fmt.Errorf("lookup client_id %q: %w", clientID, ErrApplicationNotFound)
}

// List implements ApplicationRegistry.
func (r *MemoryRegistry) List(_ context.Context) ([]*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	apps := make([]*Application, 0, len(r.apps))
	for _, app := range r.apps {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Key < apps[j].Key })
	return apps, nil
}

// LoadRegistryFile reads a JSON array of application registrations into a
// MemoryRegistry. This is the APPS_FILE deployment mode.
func LoadRegistryFile(path string) (*MemoryRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read applications file: %w", err)
	}
	var apps []*Application
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, fmt.Errorf("parse applications file %s: %w", path, err)
	}
	reg := NewMemoryRegistry()
	for _, app := range apps {
		if app.Key == "" {
			return nil, fmt.Errorf("applications file %s: entry with empty key", path)
		}
		reg.Add(app)
	}
	return reg, nil
}
