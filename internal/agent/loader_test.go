package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

func newTestRegistry(t *testing.T) (*vault.Store, *Registry) {
	t.Helper()
	store, err := vault.NewStore(t.TempDir())
	require.NoError(t, err)
	return store, NewRegistry(store, "agents/*")
}

const helperDoc = `---
name: helper
description: General helper
variant: chatbot
model: claude-sonnet
max_depth: 2
permission:
  read:
    - "**"
  write:
    - "notes/*"
  spawn:
    - "agents/*"
  tools:
    - "read"
    - "write"
---

You are a helpful assistant.
`

func TestLoadParsesAgentDefinition(t *testing.T) {
	store, _ := newTestRegistry(t)
	require.NoError(t, store.WriteRaw("agents/helper.md", []byte(helperDoc)))

	a, err := Load(store, "agents/helper.md")
	require.NoError(t, err)

	assert.Equal(t, "helper", a.Name)
	assert.Equal(t, types.VariantChatbot, a.Variant)
	assert.Equal(t, "claude-sonnet", a.Model)
	assert.Equal(t, 2, a.MaxDepth)
	assert.Equal(t, []string{"notes/*"}, a.Permissions.Write)
	assert.Equal(t, "You are a helpful assistant.", a.SystemPrompt)
}

func TestLoadRejectsUnknownVariant(t *testing.T) {
	store, _ := newTestRegistry(t)
	require.NoError(t, store.WriteRaw("agents/bad.md", []byte("---\nname: bad\nvariant: rogue\n---\nbody\n")))

	_, err := Load(store, "agents/bad.md")
	assert.Error(t, err)
}

func TestLoadRejectsNoFrontMatter(t *testing.T) {
	store, _ := newTestRegistry(t)
	require.NoError(t, store.WriteRaw("agents/plain.md", []byte("just text, no front matter\n")))

	_, err := Load(store, "agents/plain.md")
	assert.Error(t, err)
}

func TestRegistryListSkipsUnparseable(t *testing.T) {
	store, reg := newTestRegistry(t)
	require.NoError(t, store.WriteRaw("agents/helper.md", []byte(helperDoc)))
	require.NoError(t, store.WriteRaw("agents/broken.md", []byte("no front matter here\n")))

	agents, err := reg.List()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "helper", agents[0].Name)
}

func TestMatchGlobTiers(t *testing.T) {
	assert.True(t, MatchGlob("*", "anything"))
	assert.True(t, MatchGlob("notes/*", "notes/today.md"))
	assert.False(t, MatchGlob("notes/*", "projects/secret.txt"))
	assert.True(t, MatchGlob("**/*.md", "a/b/c.md"))
	assert.True(t, MatchGlob("agents/helper.md", "agents/helper.md"))
	assert.False(t, MatchGlob("agents/helper.md", "agents/other.md"))
}

func TestToolAllowedEmptyWhitelistAllowsAll(t *testing.T) {
	a := &types.Agent{}
	assert.True(t, ToolAllowed(a, "bash"))

	a.Tools = []string{"read", "grep*"}
	assert.True(t, ToolAllowed(a, "read"))
	assert.True(t, ToolAllowed(a, "grep"))
	assert.False(t, ToolAllowed(a, "write"))
}
