package llm

import (
	"context"
	"fmt"
	"strings"
)

// Registry resolves an agent's declared model string ("anthropic:claude-
// sonnet-4-20250514", "openai:gpt-4o", or a bare model id defaulting to
// anthropic) to a concrete Client plus the provider-native model id.
type Registry struct {
	clients map[string]Client
	dialer  map[string]func(ctx context.Context, modelID string) (Client, error)
}

// NewRegistry builds an empty registry. Register providers with
// RegisterDialer before calling Resolve.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		dialer:  make(map[string]func(ctx context.Context, modelID string) (Client, error)),
	}
}

// RegisterDialer installs a lazy client factory for providerID: Resolve
// calls it at most once per distinct model id, caching the result.
func (r *Registry) RegisterDialer(providerID string, dial func(ctx context.Context, modelID string) (Client, error)) {
	r.dialer[providerID] = dial
}

// Resolve parses modelSpec and returns a ready Client plus the bare
// provider-native model id.
func (r *Registry) Resolve(ctx context.Context, modelSpec string) (Client, string, error) {
	providerID, modelID := splitModelSpec(modelSpec)

	key := providerID + ":" + modelID
	if c, ok := r.clients[key]; ok {
		return c, modelID, nil
	}

	dial, ok := r.dialer[providerID]
	if !ok {
		return nil, "", fmt.Errorf("llm: no provider registered for %q", providerID)
	}
	c, err := dial(ctx, modelID)
	if err != nil {
		return nil, "", fmt.Errorf("llm: dial %s: %w", providerID, err)
	}
	r.clients[key] = c
	return c, modelID, nil
}

// splitModelSpec splits "provider:model" into its parts, defaulting the
// provider to "anthropic" when no colon is present.
func splitModelSpec(spec string) (provider, model string) {
	if spec == "" {
		return "anthropic", ""
	}
	if idx := strings.Index(spec, ":"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return "anthropic", spec
}
