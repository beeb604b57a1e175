package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/internal/llm"
	"github.com/agentvault/agentvaultd/pkg/types"
)

const triggeredDoc = `---
title: Today
agents:
  - agent: agents/reflect.md
    status: running
    trigger: daily@00:00
    enabled: true
---

# Today
`

func TestRunQueuedRevertsDocumentEntryToPendingOnCompletion(t *testing.T) {
	client := &fakeLLMClient{events: []llm.StreamEvent{{Kind: llm.EventText, Text: "done"}}}
	rig := newTestRig(t, client)
	writeAgent(t, rig.vault, "agents/reflect.md",
		"name: reflect\nvariant: standalone\nmodel: test:model",
		"Body.")
	require.NoError(t, rig.vault.WriteRaw("daily/today.md", []byte(triggeredDoc)))

	item, err := rig.orc.Enqueue(&types.QueueItem{
		AgentPath: "agents/reflect.md",
		Context:   types.ExecutionContext{DocumentPath: "daily/today.md"},
	})
	require.NoError(t, err)
	require.NoError(t, rig.orc.queue.MarkRunning(item.ID))

	rig.orc.runQueued(context.Background(), item)

	entries, err := rig.orc.scanner.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.DocStatusPending, entries[0].Status)
	assert.NotEmpty(t, entries[0].LastRun)
}

func TestRunQueuedRevertsDocumentEntryToPendingOnFailure(t *testing.T) {
	client := &fakeLLMClient{events: []llm.StreamEvent{{Kind: llm.EventError, Err: assert.AnError}}}
	rig := newTestRig(t, client)
	writeAgent(t, rig.vault, "agents/reflect.md",
		"name: reflect\nvariant: standalone\nmodel: test:model",
		"Body.")
	require.NoError(t, rig.vault.WriteRaw("daily/today.md", []byte(triggeredDoc)))

	item, err := rig.orc.Enqueue(&types.QueueItem{
		AgentPath: "agents/reflect.md",
		Context:   types.ExecutionContext{DocumentPath: "daily/today.md"},
	})
	require.NoError(t, err)
	require.NoError(t, rig.orc.queue.MarkRunning(item.ID))

	rig.orc.runQueued(context.Background(), item)

	entries, err := rig.orc.scanner.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.DocStatusPending, entries[0].Status)
	assert.Equal(t, assert.AnError.Error(), entries[0].LastError)
}

func TestRunQueuedIgnoresDocumentRevertWhenNoDocumentPath(t *testing.T) {
	client := &fakeLLMClient{events: []llm.StreamEvent{{Kind: llm.EventText, Text: "done"}}}
	rig := newTestRig(t, client)
	writeAgent(t, rig.vault, "agents/reflect.md",
		"name: reflect\nvariant: standalone\nmodel: test:model",
		"Body.")

	item, err := rig.orc.Enqueue(&types.QueueItem{AgentPath: "agents/reflect.md"})
	require.NoError(t, err)
	require.NoError(t, rig.orc.queue.MarkRunning(item.ID))

	assert.NotPanics(t, func() { rig.orc.runQueued(context.Background(), item) })
}
