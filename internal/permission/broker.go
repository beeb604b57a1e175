// Package permission mediates between the LLM tool-approval callback and
// asynchronous client decisions (grant/deny over the REST surface), using
// keyed single-shot completion slots with timeouts and periodic cleanup.
package permission

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentvault/agentvaultd/internal/agent"
	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

// Topic is the singleton event-bus topic carrying every permission
// lifecycle event (request/grant/deny).
const Topic = "permissions"

// DefaultTimeout is how long a tool-approval callback waits for an
// external grant/deny before resolving deny with a timeout message.
const DefaultTimeout = 120 * time.Second

// pendingCeiling and resolvedCeiling bound how long the sweeper keeps a
// request around: a request stuck pending past 5 minutes (should never
// happen given DefaultTimeout, but guards against a missed timer) or any
// already-resolved request older than 1 minute is purged.
const (
	pendingCeiling  = 5 * time.Minute
	resolvedCeiling = 1 * time.Minute
)

// WriteClassTools are the tool names whose calls are gated by an agent's
// write globs rather than allowed unconditionally.
var WriteClassTools = map[string]bool{
	"write": true,
	"edit":  true,
	"bash":  true,
}

// Decision is the outcome of a tool-approval callback: either the
// (possibly rewritten) input is allowed, or a user-visible deny message
// is returned.
type Decision struct {
	Allow        bool
	UpdatedInput any
	DenyMessage  string
}

type slot struct {
	req      types.PermissionRequest
	resolved bool
	decision types.PermissionState
	done     chan struct{}
}

// Broker tracks pending tool-approval requests, keyed by request id, and
// resolves them either via an external grant/deny call or a hard timeout.
type Broker struct {
	mu       sync.Mutex
	pending  map[string]*slot
	bus      *event.Bus
	store    *vault.Store
	timeout  time.Duration
	remember map[string]map[string]bool // sessionID -> subject -> approved
}

// New creates a Broker publishing lifecycle events on bus and resolving
// write-target paths against store's vault root.
func New(bus *event.Bus, store *vault.Store) *Broker {
	return &Broker{
		pending:  make(map[string]*slot),
		bus:      bus,
		store:    store,
		timeout:  DefaultTimeout,
		remember: make(map[string]map[string]bool),
	}
}

// Callback builds a tool-approval callback bound to one execution
// (session id, agent definition, and a pointer to the execution's
// accumulated denial list).
func (b *Broker) Callback(sessionID string, a *types.Agent, denials *[]types.PermissionDenial) func(toolName string, input any, upstreamToolUseID string) Decision {
	return func(toolName string, input any, upstreamToolUseID string) Decision {
		return b.Approve(sessionID, a, toolName, input, upstreamToolUseID, denials)
	}
}

// Approve implements the write-class gating policy: non-write tools (or
// write-class tools with no identifiable subject) are allowed
// unconditionally; a shell tool under an "any" write policy is allowed
// unconditionally; anything else is tested against the agent's write
// globs and, if out of policy, suspended on a pending PermissionRequest
// until granted, denied, or timed out.
func (b *Broker) Approve(sessionID string, a *types.Agent, toolName string, input any, upstreamToolUseID string, denials *[]types.PermissionDenial) Decision {
	if !WriteClassTools[strings.ToLower(toolName)] {
		return Decision{Allow: true, UpdatedInput: input}
	}

	subject, ok := subjectOf(toolName, input)
	if !ok {
		return Decision{Allow: true, UpdatedInput: input}
	}

	isShell := strings.ToLower(toolName) == "bash"
	if isShell && agent.MatchAny(a.Permissions.Write, "*") {
		return Decision{Allow: true, UpdatedInput: input}
	}

	relSubject := subject
	if !isShell {
		relSubject = b.relativize(subject)
	}
	if agent.MatchAny(a.Permissions.Write, relSubject) {
		return Decision{Allow: true, UpdatedInput: input}
	}

	if b.remembered(sessionID, relSubject) {
		return Decision{Allow: true, UpdatedInput: input}
	}

	id := sessionID + "-" + upstreamToolUseID
	s := &slot{
		req: types.PermissionRequest{
			ID:              id,
			SessionID:       sessionID,
			ToolName:        toolName,
			Subject:         relSubject,
			Input:           input,
			AgentName:       a.Name,
			AgentPath:       a.Path,
			AllowedPatterns: a.Permissions.Write,
			IssuedAt:        time.Now().UTC(),
			State:           types.PermissionPending,
		},
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.pending[id] = s
	b.mu.Unlock()

	b.bus.Publish(Topic, event.Event{Type: event.PermissionRequested, Data: s.req})

	var state types.PermissionState
	select {
	case <-s.done:
		b.mu.Lock()
		state = s.decision
		b.mu.Unlock()
	case <-time.After(b.timeout):
		b.resolve(id, types.PermissionTimeout)
		state = types.PermissionTimeout
	}

	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()

	switch state {
	case types.PermissionGranted:
		return Decision{Allow: true, UpdatedInput: input}
	case types.PermissionTimeout:
		if denials != nil {
			*denials = append(*denials, types.PermissionDenial{Path: relSubject, Reason: "timeout"})
		}
		return Decision{Allow: false, DenyMessage: "permission request timed out after " + b.timeout.String()}
	default:
		if denials != nil {
			*denials = append(*denials, types.PermissionDenial{Path: relSubject, Reason: "denied"})
		}
		return Decision{Allow: false, DenyMessage: "permission denied by client"}
	}
}

// Grant resolves a pending request as granted. A request id not in
// pending is a safe no-op returning false.
func (b *Broker) Grant(id string) bool {
	return b.grant(id, false)
}

// GrantRemembering resolves a pending request as granted and additionally
// remembers the (session, subject) pair so future identical-subject
// requests in the same session are allowed without prompting again. This
// is a pure convenience on top of the named grant/deny contract — never
// required, always safe for a client to ignore.
func (b *Broker) GrantRemembering(id string) bool {
	return b.grant(id, true)
}

func (b *Broker) grant(id string, remember bool) bool {
	if remember {
		b.mu.Lock()
		if s, ok := b.pending[id]; ok && !s.resolved {
			if b.remember[s.req.SessionID] == nil {
				b.remember[s.req.SessionID] = make(map[string]bool)
			}
			b.remember[s.req.SessionID][s.req.Subject] = true
		}
		b.mu.Unlock()
	}
	return b.resolvePublish(id, types.PermissionGranted, event.PermissionGranted)
}

// Deny resolves a pending request as denied. A request id not in
// pending is a safe no-op returning false.
func (b *Broker) Deny(id string) bool {
	return b.resolvePublish(id, types.PermissionDenied, event.PermissionDenied)
}

func (b *Broker) resolvePublish(id string, state types.PermissionState, evType event.Type) bool {
	if !b.resolve(id, state) {
		return false
	}
	b.bus.Publish(Topic, event.Event{Type: evType, Data: map[string]any{"id": id}})
	return true
}

// resolve marks a pending slot resolved exactly once; later calls for the
// same id are no-ops since the broker never signals a slot twice.
func (b *Broker) resolve(id string, state types.PermissionState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.pending[id]
	if !ok || s.resolved {
		return false
	}
	s.resolved = true
	s.decision = state
	s.req.State = state
	close(s.done)
	return true
}

func (b *Broker) remembered(sessionID, subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remember[sessionID][subject]
}

// ListPending returns a snapshot of currently pending requests.
func (b *Broker) ListPending() []types.PermissionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.PermissionRequest, 0, len(b.pending))
	for _, s := range b.pending {
		if !s.resolved {
			out = append(out, s.req)
		}
	}
	return out
}

// Sweep removes requests that have overstayed their ceiling: any
// unresolved request older than pendingCeiling (the hard timeout should
// have already fired; this guards against a missed timer), or any
// resolved-but-not-yet-deleted request older than resolvedCeiling.
func (b *Broker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, s := range b.pending {
		age := now.Sub(s.req.IssuedAt)
		if (!s.resolved && age > pendingCeiling) || (s.resolved && age > resolvedCeiling) {
			if !s.resolved {
				s.resolved = true
				s.decision = types.PermissionTimeout
				close(s.done)
			}
			delete(b.pending, id)
			removed++
		}
	}
	return removed
}

// subjectOf extracts the target path or command string from a tool
// call's input, returning ok=false when no subject is identifiable.
func subjectOf(toolName string, input any) (string, bool) {
	m, ok := input.(map[string]any)
	if !ok {
		return "", false
	}
	switch strings.ToLower(toolName) {
	case "bash":
		if cmd, ok := m["command"].(string); ok && cmd != "" {
			return cmd, true
		}
	default:
		for _, key := range []string{"path", "file_path", "filePath"} {
			if p, ok := m[key].(string); ok && p != "" {
				return p, true
			}
		}
	}
	return "", false
}

// relativize converts an absolute subject path to vault-relative form.
// A path outside the vault root, or any error resolving it, is left
// unchanged so the subsequent glob match simply fails closed.
func (b *Broker) relativize(subject string) string {
	if !filepath.IsAbs(subject) || b.store == nil {
		return subject
	}
	rel, err := b.store.RelPath(subject)
	if err != nil {
		return subject
	}
	return rel
}
