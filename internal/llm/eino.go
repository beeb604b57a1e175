package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MaxRetries, RetryInitialInterval, RetryMaxInterval and RetryMaxElapsedTime
// bound the exponential-backoff-with-jitter retry applied around a
// provider's stream call, shielding transient upstream errors from the
// orchestrator.
const (
	MaxRetries           = 3
	RetryInitialInterval = time.Second
	RetryMaxInterval     = 30 * time.Second
	RetryMaxElapsedTime  = 2 * time.Minute
)

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// einoClient wraps an Eino ToolCallingChatModel, translating between this
// package's Client contract and Eino's schema.Message/ToolCallingChatModel
// streaming shape.
type einoClient struct {
	model einomodel.ToolCallingChatModel
}

// NewAnthropicClient builds a Client backed by Anthropic Claude via Eino's
// claude adapter. apiKey/baseURL default to ANTHROPIC_API_KEY/unset when
// empty.
func NewAnthropicClient(ctx context.Context, apiKey, baseURL, modelID string, maxTokens int) (Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY not set")
	}
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}

	cfg := &claude.Config{APIKey: apiKey, Model: modelID, MaxTokens: maxTokens}
	if baseURL != "" {
		cfg.BaseURL = &baseURL
	}

	m, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm: create claude model: %w", err)
	}
	return &einoClient{model: m}, nil
}

// NewOpenAIClient builds a Client backed by an OpenAI-compatible endpoint
// via Eino's openai adapter.
func NewOpenAIClient(ctx context.Context, apiKey, baseURL, modelID string, maxTokens int) (Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OPENAI_API_KEY not set")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cfg := &openai.ChatModelConfig{APIKey: apiKey, Model: modelID, MaxCompletionTokens: &maxTokens}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	m, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm: create openai model: %w", err)
	}
	return &einoClient{model: m}, nil
}

func (c *einoClient) Query(ctx context.Context, messages []Message, opts QueryOptions, approve ApprovalCallback) (<-chan StreamEvent, error) {
	m := c.model
	if len(opts.Tools) > 0 {
		tools := make([]*schema.ToolInfo, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			var params map[string]*schema.ParameterInfo
			if len(t.Schema) > 0 {
				params = schemaParams(t.Schema)
			}
			tools = append(tools, &schema.ToolInfo{
				Name:        t.Name,
				Desc:        t.Description,
				ParamsOneOf: schema.NewParamsOneOfByParams(params),
			})
		}
		var err error
		m, err = m.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("llm: bind tools: %w", err)
		}
	}

	einoMsgs := toEinoMessages(opts.SystemPrompt, messages)

	var reader *schema.StreamReader[*schema.Message]
	op := func() error {
		modelOpts := []einomodel.Option{einomodel.WithMaxTokens(opts.MaxTokens)}
		if opts.Temperature > 0 {
			modelOpts = append(modelOpts, einomodel.WithTemperature(float32(opts.Temperature)))
		}
		var streamErr error
		reader, streamErr = m.Stream(ctx, einoMsgs, modelOpts...)
		return streamErr
	}
	if err := backoff.Retry(op, newRetryBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("llm: stream: %w", err)
	}

	out := make(chan StreamEvent, 16)
	go pump(reader, approve, out)
	return out, nil
}

// msgReader is the slice of *schema.StreamReader[*schema.Message] that pump
// actually needs; narrowing to an interface lets pump be exercised with a
// fake in tests without constructing a real Eino stream.
type msgReader interface {
	Recv() (*schema.Message, error)
	Close()
}

// pump drains the Eino stream, surfacing text deltas directly and routing
// each completed tool call through approve before yielding its resolved
// ToolUse, matching the callback contract the rest of this package assumes
// of an LLM client.
func pump(reader msgReader, approve ApprovalCallback, out chan<- StreamEvent) {
	defer close(out)
	defer reader.Close()

	// Anthropic and OpenAI's chat-completion APIs expose no server-side
	// resumable session id, so upstreamHandle stays empty for this client;
	// it only ever carries a value for an agent-SDK-style Client that has
	// one. The field is still attached to every text and done event (error
	// and tool-use events carry none) so the orchestrator's
	// capture-and-persist path has something to read regardless of which
	// Client is wired in.
	var upstreamHandle string

	for {
		msg, err := reader.Recv()
		if err == io.EOF {
			out <- StreamEvent{Kind: EventDone, UpstreamHandle: upstreamHandle}
			return
		}
		if err != nil {
			out <- StreamEvent{Kind: EventError, Err: err}
			return
		}

		if msg.Content != "" {
			out <- StreamEvent{Kind: EventText, Text: msg.Content, UpstreamHandle: upstreamHandle}
		}

		for _, tc := range msg.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)

			tu := &ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: input}
			if approve != nil {
				decision := approve(tc.Function.Name, input, tc.ID)
				if !decision.Allow {
					tu.Denied = true
					tu.Message = decision.DenyMessage
				} else if decision.UpdatedInput != nil {
					tu.Input = decision.UpdatedInput
				}
			}
			out <- StreamEvent{Kind: EventToolUse, ToolUse: tu}
		}
	}
}

func toEinoMessages(systemPrompt string, messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, &schema.Message{Role: schema.System, Content: systemPrompt})
	}
	for _, msg := range messages {
		role := schema.User
		switch msg.Role {
		case "assistant":
			role = schema.Assistant
		case "system":
			role = schema.System
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}

func schemaParams(rawSchema []byte) map[string]*schema.ParameterInfo {
	var js struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(rawSchema, &js); err != nil {
		return nil
	}

	required := make(map[string]bool, len(js.Required))
	for _, r := range js.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(js.Properties))
	for name, prop := range js.Properties {
		t := schema.String
		switch prop.Type {
		case "integer":
			t = schema.Integer
		case "number":
			t = schema.Number
		case "boolean":
			t = schema.Boolean
		case "array":
			t = schema.Array
		case "object":
			t = schema.Object
		}
		params[name] = &schema.ParameterInfo{Type: t, Desc: prop.Description, Required: required[name]}
	}
	return params
}
