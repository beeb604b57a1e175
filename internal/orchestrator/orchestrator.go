// Package orchestrator is the Orchestrator Core: it loads an agent
// definition, builds the right execution context for its variant, drives
// the LLM client through a tool-approval-gated stream, and persists the
// outcome. Three entry points share one inner sequence: immediate unary,
// immediate streaming, and queued (claimed by the drain loop).
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentvault/agentvaultd/internal/agent"
	"github.com/agentvault/agentvaultd/internal/docscan"
	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/llm"
	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/internal/permission"
	"github.com/agentvault/agentvaultd/internal/queue"
	"github.com/agentvault/agentvaultd/internal/session"
	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// DefaultMaxConcurrent is the number of queue-driven executions the drain
// loop runs at once when Config.MaxConcurrent is unset.
const DefaultMaxConcurrent = 1

// MaxInboundMessage bounds a single incoming chat message.
const MaxInboundMessage = 102_400

// Config wires every collaborator the Orchestrator needs.
type Config struct {
	Vault         *vault.Store
	Agents        *agent.Registry
	Queue         *queue.Queue
	Scanner       *docscan.Scanner
	Sessions      *session.Store
	Permissions   *permission.Broker
	LLMs          *llm.Registry
	Bus           *event.Bus
	MaxConcurrent int
}

// Orchestrator is the Orchestrator Core described by the system overview:
// it is the only component that executes agents against the LLM client.
type Orchestrator struct {
	vault       *vault.Store
	agents      *agent.Registry
	queue       *queue.Queue
	scanner     *docscan.Scanner
	sessions    *session.Store
	permissions *permission.Broker
	llms        *llm.Registry
	bus         *event.Bus

	maxConcurrent int

	nudge chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex
}

// New builds an Orchestrator from cfg, defaulting MaxConcurrent when unset.
func New(cfg Config) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Orchestrator{
		vault:         cfg.Vault,
		agents:        cfg.Agents,
		queue:         cfg.Queue,
		scanner:       cfg.Scanner,
		sessions:      cfg.Sessions,
		permissions:   cfg.Permissions,
		llms:          cfg.LLMs,
		bus:           cfg.Bus,
		maxConcurrent: maxConcurrent,
		nudge:         make(chan struct{}, 1),
		stop:          make(chan struct{}),
		sessionLocks:  make(map[string]*sync.Mutex),
	}
}

// Emit is how a streaming entry point observes execution events, in the
// order an SSE client should see them: session/init framing first, then
// text/tool_use deltas, then a terminal done/error/close.
type Emit func(event.Event)

// RunUnary executes agentPath immediately to completion and returns the
// same result shape a unary REST response carries. It never touches the
// queue or its maxConcurrent cap.
func (o *Orchestrator) RunUnary(ctx context.Context, agentPath string, ec types.ExecutionContext) (*types.ChatResult, error) {
	var result *types.ChatResult
	_, err := o.run(ctx, agentPath, ec, 0, "", func(e event.Event) {
		if e.Type == event.RunDone {
			if r, ok := e.Data.(*types.ChatResult); ok {
				result = r
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunStream executes agentPath immediately, invoking emit for every event
// in sequence: one RunSession first, then zero-or-more RunInit, any
// number of RunText/RunToolUse, then one RunDone or RunError.
func (o *Orchestrator) RunStream(ctx context.Context, agentPath string, ec types.ExecutionContext, emit Emit) (*types.ChatResult, error) {
	var result *types.ChatResult
	_, err := o.run(ctx, agentPath, ec, 0, "", func(e event.Event) {
		if e.Type == event.RunDone {
			if r, ok := e.Data.(*types.ChatResult); ok {
				result = r
			}
		}
		emit(e)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Enqueue adds item to the queue and nudges the drain loop; it does not
// execute anything itself. The queued path runs under the maxConcurrent
// cap, claimed later by the drain loop.
func (o *Orchestrator) Enqueue(item *types.QueueItem) (*types.QueueItem, error) {
	enqueued, err := o.queue.Enqueue(item)
	if err != nil {
		return nil, err
	}
	o.bus.Publish(queueAdminTopic, event.Event{Type: event.QueueItemEnqueued, Data: enqueued})
	o.requestDrain()
	return enqueued, nil
}

func (o *Orchestrator) requestDrain() {
	select {
	case o.nudge <- struct{}{}:
	default:
	}
}

// RequestDrain nudges the drain loop to claim pending queue items right
// away rather than waiting out its poll interval, for /api/queue/process.
func (o *Orchestrator) RequestDrain() {
	o.requestDrain()
}

// run is the shared inner sequence: load the agent, build the
// variant-specific prompt, stream the LLM call through the permission
// callback, persist the outcome, and dispatch any spawn directives.
func (o *Orchestrator) run(ctx context.Context, agentPath string, ec types.ExecutionContext, depth int, queueItemID string, emit Emit) (string, error) {
	start := time.Now()

	a, err := o.agents.Get(agentPath)
	if err != nil {
		return "", fmt.Errorf("orchestrator: load agent %s: %w", agentPath, err)
	}

	if len(ec.Message) > MaxInboundMessage {
		return "", fmt.Errorf("orchestrator: message exceeds %d bytes", MaxInboundMessage)
	}

	prep, err := o.prepare(a, ec)
	if err != nil {
		return "", err
	}

	if prep.sessionKey != "" {
		unlock := o.lockSession(prep.sessionKey)
		defer unlock()
	}

	sessionID := prep.sessionID
	emit(event.Event{Type: event.RunSession, Data: map[string]any{
		"sessionId": sessionID,
		"resume":    prep.resume,
	}})

	client, nativeModel, err := o.llms.Resolve(ctx, a.Model)
	if err != nil {
		return sessionID, o.finishError(ctx, a, prep, emit, start, fmt.Errorf("resolve model: %w", err))
	}
	emit(event.Event{Type: event.RunInit, Data: map[string]any{"model": nativeModel}})

	var denials []types.PermissionDenial
	permApprove := o.permissions.Callback(sessionID, a, &denials)
	approve := func(toolName string, input any, upstreamToolUseID string) llm.Decision {
		d := permApprove(toolName, input, upstreamToolUseID)
		return llm.Decision{Allow: d.Allow, UpdatedInput: d.UpdatedInput, DenyMessage: d.DenyMessage}
	}

	messages := []llm.Message{{Role: "user", Content: prep.prompt}}
	toolSpecs := toolSpecsFor(a)

	stream, err := client.Query(ctx, messages, llm.QueryOptions{
		Model:        nativeModel,
		SystemPrompt: prep.systemPrompt,
		Tools:        toolSpecs,
		Resume:       prep.options.Resume,
	}, approve)
	if err != nil {
		return sessionID, o.finishError(ctx, a, prep, emit, start, fmt.Errorf("query: %w", err))
	}

	var responseText string
	var toolCalls []types.ToolCall
	var upstreamHandle string

	for ev := range stream {
		if ev.UpstreamHandle != "" {
			upstreamHandle = ev.UpstreamHandle
		}
		switch ev.Kind {
		case llm.EventText:
			var delta string
			responseText, delta = reconcileText(responseText, ev.Text)
			if delta == "" {
				continue
			}
			emit(event.Event{Type: event.RunText, Data: map[string]any{
				"content": responseText,
				"delta":   delta,
			}})
		case llm.EventToolUse:
			tc := types.ToolCall{Name: ev.ToolUse.Name, Input: ev.ToolUse.Input}
			if ev.ToolUse.Denied {
				tc.Result = map[string]any{"denied": true, "message": ev.ToolUse.Message}
			}
			toolCalls = append(toolCalls, tc)
			emit(event.Event{Type: event.RunToolUse, Data: tc})
		case llm.EventError:
			return sessionID, o.finishError(ctx, a, prep, emit, start, ev.Err)
		case llm.EventDone:
		}
	}

	spawned := o.dispatchSpawns(a, queueItemID, depth, responseText)

	if prep.sessionKeyForPersist != "" {
		if err := o.sessions.AddMessage(prep.sessionKeyForPersist, types.RoleAssistant, responseText); err != nil {
			logging.Warn().Err(err).Str("session", prep.sessionKeyForPersist).Msg("orchestrator: persist assistant message failed")
		}
		if upstreamHandle != "" {
			if err := o.sessions.UpdateUpstreamHandle(prep.sessionKeyForPersist, upstreamHandle); err != nil {
				logging.Warn().Err(err).Str("session", prep.sessionKeyForPersist).Msg("orchestrator: persist upstream handle failed")
			}
		}
	}

	result := &types.ChatResult{
		Success:           true,
		Response:          responseText,
		Spawned:           spawned,
		DurationMs:        time.Since(start).Milliseconds(),
		SessionID:         sessionID,
		MessageCount:      prep.messageCount,
		ToolCalls:         toolCalls,
		PermissionDenials: denials,
		SessionResume:     &prep.resume,
	}
	emit(event.Event{Type: event.RunDone, Data: result})
	return sessionID, nil
}

func (o *Orchestrator) finishError(ctx context.Context, a *types.Agent, prep preparedExecution, emit Emit, start time.Time, cause error) error {
	emit(event.Event{Type: event.RunError, Data: map[string]any{"error": cause.Error()}})
	return cause
}

// reconcileText folds the next text event into the running cumulative
// response and returns the new suffix to emit as delta. Some LLM clients
// yield repeated assistant messages whose text is a growing prefix of the
// previous one; the Eino-backed Client instead yields plain incremental
// chunks. Both shapes are handled: a chunk that
// extends the current cumulative text as a prefix is treated as the new
// full text (the growing-prefix case); anything else is appended as an
// incremental chunk.
func reconcileText(cumulative, chunk string) (newCumulative, delta string) {
	if chunk == "" {
		return cumulative, ""
	}
	if strings.HasPrefix(chunk, cumulative) {
		return chunk, chunk[len(cumulative):]
	}
	return cumulative + chunk, chunk
}

func (o *Orchestrator) lockSession(key string) func() {
	o.sessionLocksMu.Lock()
	lock, ok := o.sessionLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.sessionLocks[key] = lock
	}
	o.sessionLocksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func toolSpecsFor(a *types.Agent) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(a.Tools))
	for _, name := range a.Tools {
		specs = append(specs, knownToolSpec(name))
	}
	return specs
}

// knownToolSpec returns the JSON-Schema tool declaration for one of the
// fixed tool names an agent may list: write, edit, bash, read.
func knownToolSpec(name string) llm.ToolSpec {
	switch strings.ToLower(name) {
	case "write":
		return llm.ToolSpec{Name: "write", Description: "Write a file in the vault.", Schema: []byte(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)}
	case "edit":
		return llm.ToolSpec{Name: "edit", Description: "Replace a string in a vault file.", Schema: []byte(`{"type":"object","properties":{"path":{"type":"string"},"old":{"type":"string"},"new":{"type":"string"}},"required":["path","old","new"]}`)}
	case "bash":
		return llm.ToolSpec{Name: "bash", Description: "Run a shell command.", Schema: []byte(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)}
	default:
		return llm.ToolSpec{Name: "read", Description: "Read a file from the vault.", Schema: []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)}
	}
}

const queueAdminTopic = "admin"
