package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := &types.Session{
		ID:             "01ABC",
		Key:            "agents/helper.md::s1",
		AgentPath:      "agents/helper.md",
		AgentName:      "helper",
		Title:          "Test Session",
		UpstreamHandle: "sdk-handle-123",
		CreatedAt:      time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		LastAccessed:   time.Date(2026, 7, 31, 12, 5, 0, 0, time.UTC),
		Context:        map[string]any{},
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "Hello", Timestamp: time.Date(2026, 7, 31, 12, 0, 1, 0, time.UTC)},
			{Role: types.RoleAssistant, Content: "Hi there", Timestamp: time.Date(2026, 7, 31, 12, 0, 2, 0, time.UTC)},
		},
	}

	encoded := Encode(s)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, s.ID, decoded.ID)
	assert.Equal(t, s.Key, decoded.Key)
	assert.Equal(t, s.AgentPath, decoded.AgentPath)
	assert.Equal(t, s.UpstreamHandle, decoded.UpstreamHandle)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "Hello", decoded.Messages[0].Content)
	assert.Equal(t, types.RoleUser, decoded.Messages[0].Role)
	assert.Equal(t, "Hi there", decoded.Messages[1].Content)
	assert.Equal(t, types.RoleAssistant, decoded.Messages[1].Role)
}

func TestDecodeAcceptsTimestampsWithAndWithoutFractionalSeconds(t *testing.T) {
	raw := []byte(`---
session_id: s1
session_key: a::s1
agent: a
agent_name: a
type: chat
created_at: 2026-07-31T12:00:00Z
last_accessed: 2026-07-31T12:00:00Z
sdk_session_id:
archived: false
---

# a

## Conversation

### User | 2026-07-31T12:00:00Z

no fractional seconds

### Assistant | 2026-07-31T12:00:00.123456Z

has fractional seconds

`)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "no fractional seconds", decoded.Messages[0].Content)
	assert.Equal(t, "has fractional seconds", decoded.Messages[1].Content)
}

func TestEncodeDecodeContextRoundTripsCommasAndEquals(t *testing.T) {
	s := &types.Session{
		ID:           "01ABC",
		Key:          "agents/helper.md::s1",
		AgentPath:    "agents/helper.md",
		AgentName:    "helper",
		CreatedAt:    time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		LastAccessed: time.Date(2026, 7, 31, 12, 5, 0, 0, time.UTC),
		Context: map[string]any{
			"documentPath": "notes/a=b,c.md",
			"clientId":     "id,with=both",
		},
	}

	decoded, err := Decode(Encode(s))
	require.NoError(t, err)
	assert.Equal(t, "notes/a=b,c.md", decoded.Context["documentPath"])
	assert.Equal(t, "id,with=both", decoded.Context["clientId"])
}

func TestValidUpstreamHandleRejectsObjectLiterals(t *testing.T) {
	assert.False(t, ValidUpstreamHandle(""))
	assert.False(t, ValidUpstreamHandle("[object Object]"))
	assert.False(t, ValidUpstreamHandle("[object Foo]"))
	assert.True(t, ValidUpstreamHandle("sdk-abc-123"))
}

func TestNormalizeUpstreamHandleRoundTripsInvalidToAbsent(t *testing.T) {
	s := &types.Session{UpstreamHandle: "[object Object]", Context: map[string]any{}}
	encoded := Encode(s)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "", decoded.UpstreamHandle)
}
