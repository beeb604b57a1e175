package docscan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

const dailyDoc = `---
title: Today
agents:
  - agent: agents/reflect.md
    status: pending
    trigger: daily@00:00
    enabled: true
owner: me
---

# Today

Some content the scanner must never touch.
`

func newScanner(t *testing.T) (*vault.Store, *Scanner) {
	t.Helper()
	store, err := vault.NewStore(t.TempDir())
	require.NoError(t, err)
	return store, New(store, "**/*.md")
}

func TestGetDocumentAgentsParsesEntries(t *testing.T) {
	store, s := newScanner(t)
	require.NoError(t, store.WriteRaw("daily/today.md", []byte(dailyDoc)))

	entries, err := s.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "agents/reflect.md", entries[0].AgentPath)
	assert.Equal(t, types.DocStatusPending, entries[0].Status)
	assert.Equal(t, "daily@00:00", entries[0].Trigger)
	assert.True(t, entries[0].Enabled)
}

func TestUpdateStatusPreservesRestOfDocument(t *testing.T) {
	store, s := newScanner(t)
	require.NoError(t, store.WriteRaw("daily/today.md", []byte(dailyDoc)))

	require.NoError(t, s.UpdateStatus("daily/today.md", "agents/reflect.md", types.DocStatusRunning, "2026-07-31T00:00:00Z", "", ""))

	doc, err := store.Read("daily/today.md")
	require.NoError(t, err)
	assert.Equal(t, "me", doc.FrontMatter["owner"])
	assert.Contains(t, doc.Body, "Some content the scanner must never touch.")

	entries, err := s.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.DocStatusRunning, entries[0].Status)
	assert.Equal(t, "2026-07-31T00:00:00Z", entries[0].LastRun)
}

func TestResetRevertsToPending(t *testing.T) {
	store, s := newScanner(t)
	require.NoError(t, store.WriteRaw("daily/today.md", []byte(dailyDoc)))
	require.NoError(t, s.UpdateStatus("daily/today.md", "agents/reflect.md", types.DocStatusCompleted, "", "", ""))

	require.NoError(t, s.Reset("daily/today.md", nil))

	entries, err := s.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)
	assert.Equal(t, types.DocStatusPending, entries[0].Status)
}

func TestFindTriggeredOnlyPendingEnabled(t *testing.T) {
	store, s := newScanner(t)
	require.NoError(t, store.WriteRaw("daily/today.md", []byte(dailyDoc)))
	s.now = func() time.Time {
		return time.Date(2026, 7, 31, 1, 0, 0, 0, time.Local)
	}

	due, err := s.FindTriggered()
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "daily/today.md", due[0].DocPath)
}

func TestManualAndOnSaveNeverFireAutomatically(t *testing.T) {
	assert.False(t, Fires("manual", "", time.Now()))
	assert.False(t, Fires("on_save", "", time.Now()))
}

func TestHourlyFiresOncePerHour(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 30, 0, 0, time.Local)
	assert.True(t, Fires("hourly", "", now))
	assert.False(t, Fires("hourly", now.Truncate(time.Hour).Format(time.RFC3339), now))
	assert.True(t, Fires("hourly", now.Add(-2*time.Hour).Format(time.RFC3339), now))
}

func TestDailyFiresAfterHHMMOncePerDay(t *testing.T) {
	before := time.Date(2026, 7, 31, 0, 0, 0, 0, time.Local)
	after := time.Date(2026, 7, 31, 0, 30, 0, 0, time.Local)

	assert.False(t, Fires("daily@00:30", "", before))
	assert.True(t, Fires("daily@00:00", "", after))

	yesterday := time.Date(2026, 7, 30, 0, 0, 0, 0, time.Local).Format(time.RFC3339)
	assert.True(t, Fires("daily@00:00", yesterday, after))

	alreadyToday := time.Date(2026, 7, 31, 0, 0, 0, 0, time.Local).Format(time.RFC3339)
	assert.False(t, Fires("daily@00:00", alreadyToday, after))
}

func TestUpdateDocumentAgentsIdempotent(t *testing.T) {
	store, s := newScanner(t)
	require.NoError(t, store.WriteRaw("daily/today.md", []byte(dailyDoc)))

	entries, err := s.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)

	require.NoError(t, s.UpdateDocumentAgents("daily/today.md", entries))

	again, err := s.GetDocumentAgents("daily/today.md")
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}
