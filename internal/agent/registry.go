package agent

import (
	"fmt"

	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// Registry resolves and lists agent definitions from the vault's agents/
// directory. Definitions are never cached: each Get re-reads and
// re-parses the backing document, treating it as loaded per request and
// immutable only for the lifetime of one execution.
type Registry struct {
	store   *vault.Store
	pattern string
}

// NewRegistry creates a Registry backed by store, discovering agent
// documents under the given glob pattern (default "agents/*").
func NewRegistry(store *vault.Store, pattern string) *Registry {
	if pattern == "" {
		pattern = "agents/*"
	}
	return &Registry{store: store, pattern: pattern}
}

// Get loads the agent definition at the given vault-relative path.
func (r *Registry) Get(path string) (*types.Agent, error) {
	return Load(r.store, path)
}

// List loads every agent definition discoverable under the registry's
// glob pattern. Documents that fail to parse are skipped, not fatal.
func (r *Registry) List() ([]*types.Agent, error) {
	paths, err := r.store.Glob(r.pattern)
	if err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}

	agents := make([]*types.Agent, 0, len(paths))
	for _, path := range paths {
		a, loadErr := Load(r.store, path)
		if loadErr != nil {
			continue
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// Exists reports whether an agent document exists at path.
func (r *Registry) Exists(path string) bool {
	return r.store.Exists(path)
}
