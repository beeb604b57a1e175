// Package agent parses vault documents into agent definitions and matches
// their permission globs against tool-call subjects.
package agent

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// Load parses the document at path into an agent definition. The document's
// body (after front matter) becomes the agent's inlined system prompt.
func Load(store *vault.Store, path string) (*types.Agent, error) {
	doc, err := store.Read(path)
	if err != nil {
		return nil, fmt.Errorf("agent: load %s: %w", path, err)
	}
	if doc.FrontMatter == nil {
		return nil, fmt.Errorf("agent: %s has no front matter", path)
	}

	a := &types.Agent{
		Path:         path,
		Name:         stringField(doc.FrontMatter, "name", baseName(path)),
		Description:  stringField(doc.FrontMatter, "description", ""),
		Variant:      types.AgentVariant(stringField(doc.FrontMatter, "variant", string(types.VariantStandalone))),
		Model:        stringField(doc.FrontMatter, "model", ""),
		Tools:        stringSliceField(doc.FrontMatter, "tools"),
		ContextRef:   stringField(doc.FrontMatter, "context", ""),
		Services:     stringSliceField(doc.FrontMatter, "services"),
		MaxDepth:     intField(doc.FrontMatter, "max_depth", 3),
		SystemPrompt: strings.TrimSpace(doc.Body),
	}

	if raw, ok := doc.FrontMatter["permission"]; ok {
		a.Permissions = parsePermissionSet(raw)
	}

	switch a.Variant {
	case types.VariantChatbot, types.VariantDocumentBound, types.VariantStandalone:
	default:
		return nil, fmt.Errorf("agent: %s has unknown variant %q", path, a.Variant)
	}

	return a, nil
}

func parsePermissionSet(raw any) types.PermissionSet {
	m, ok := raw.(map[string]any)
	if !ok {
		return types.PermissionSet{}
	}
	return types.PermissionSet{
		Read:  stringSliceField(m, "read"),
		Write: stringSliceField(m, "write"),
		Spawn: stringSliceField(m, "spawn"),
		Tools: stringSliceField(m, "tools"),
	}
}

func stringField(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

func intField(m map[string]any, key string, fallback int) int {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func stringSliceField(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func baseName(path string) string {
	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]
	return strings.TrimSuffix(last, ".md")
}

// MatchGlob reports whether subject matches pattern with a tiered strategy:
// an exact "*" matches everything, "**"-bearing patterns go through
// doublestar, simple prefix/suffix globs are handled directly, and
// anything else falls back to doublestar or an exact match.
func MatchGlob(pattern, subject string) bool {
	if pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, subject)
		return matched
	}

	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(subject, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(subject, strings.TrimPrefix(pattern, "*"))
	}

	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, subject)
		return matched
	}

	return pattern == subject
}

// MatchAny reports whether subject matches any of the given glob patterns.
func MatchAny(patterns []string, subject string) bool {
	for _, p := range patterns {
		if MatchGlob(p, subject) {
			return true
		}
	}
	return false
}

// ToolAllowed reports whether toolName is permitted by an agent's tool
// whitelist. An empty whitelist allows every tool.
func ToolAllowed(a *types.Agent, toolName string) bool {
	if len(a.Tools) == 0 {
		return true
	}
	return MatchAny(a.Tools, toolName)
}
