package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ id string }

func (s *stubClient) Query(ctx context.Context, messages []Message, opts QueryOptions, approve ApprovalCallback) (<-chan StreamEvent, error) {
	return nil, nil
}

func TestResolveDefaultsToAnthropicWithoutPrefix(t *testing.T) {
	r := NewRegistry()
	dialCount := 0
	r.RegisterDialer("anthropic", func(ctx context.Context, modelID string) (Client, error) {
		dialCount++
		return &stubClient{id: modelID}, nil
	})

	c, modelID, err := r.Resolve(context.Background(), "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", modelID)
	assert.Equal(t, "claude-sonnet-4-20250514", c.(*stubClient).id)
	assert.Equal(t, 1, dialCount)
}

func TestResolveHonorsExplicitProviderPrefix(t *testing.T) {
	r := NewRegistry()
	r.RegisterDialer("openai", func(ctx context.Context, modelID string) (Client, error) {
		return &stubClient{id: modelID}, nil
	})

	c, modelID, err := r.Resolve(context.Background(), "openai:gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", modelID)
	assert.Equal(t, "gpt-4o", c.(*stubClient).id)
}

func TestResolveCachesClientPerModel(t *testing.T) {
	r := NewRegistry()
	dialCount := 0
	r.RegisterDialer("anthropic", func(ctx context.Context, modelID string) (Client, error) {
		dialCount++
		return &stubClient{id: modelID}, nil
	})

	_, _, err := r.Resolve(context.Background(), "anthropic:claude-sonnet-4-20250514")
	require.NoError(t, err)
	_, _, err = r.Resolve(context.Background(), "anthropic:claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, 1, dialCount)
}

func TestResolveUnknownProviderErrors(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Resolve(context.Background(), "unknown:some-model")
	assert.Error(t, err)
}
